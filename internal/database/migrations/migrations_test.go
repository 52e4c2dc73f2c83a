package migrations

import (
	"database/sql"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrateUp_FreshDatabase(t *testing.T) {
	db := openTestDB(t)

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	tables := []string{
		"file_info_cache",
		"directory_info_cache",
		"file_sync_config",
		"file_sync_cache",
		"file_sync_blacklist",
		"schema_migrations",
	}
	for _, table := range tables {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s was not created: %v", table, err)
		}
	}
}

func TestMigrateUp_Idempotent(t *testing.T) {
	db := openTestDB(t)

	if err := MigrateUp(db); err != nil {
		t.Fatalf("first MigrateUp() failed: %v", err)
	}
	if err := MigrateUp(db); err != nil {
		t.Errorf("second MigrateUp() failed: %v", err)
	}
	if err := CheckStatus(db); err != nil {
		t.Errorf("CheckStatus() after double migration: %v", err)
	}
}

func TestCheckStatus(t *testing.T) {
	t.Run("fresh database needs migration", func(t *testing.T) {
		db := openTestDB(t)

		err := CheckStatus(db)
		if err == nil {
			t.Fatal("CheckStatus() = nil for fresh database")
		}
		if !strings.Contains(err.Error(), "needs migration") {
			t.Errorf("CheckStatus() error = %q, want mention of needing migration", err)
		}
	})

	t.Run("migrated database is current", func(t *testing.T) {
		db := openTestDB(t)

		if err := MigrateUp(db); err != nil {
			t.Fatalf("MigrateUp() failed: %v", err)
		}
		if err := CheckStatus(db); err != nil {
			t.Errorf("CheckStatus() after migration: %v", err)
		}
	})
}

func TestSchema_FileInfoCacheIdentity(t *testing.T) {
	db := openTestDB(t)
	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	insert := `INSERT INTO file_info_cache
		(filename, filepath, urlname, md5sum, sha1sum, filestat_st_mtime, filestat_st_size, serviceid, servicetype, servicesession)
		VALUES ('a.txt', 'a.txt', 'mem://t/a.txt', '', '', 1, 1, 'a.txt', 'mem', 't')`
	if _, err := db.Exec(insert); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if _, err := db.Exec(insert); err == nil {
		t.Error("duplicate identity tuple accepted, want unique constraint violation")
	}
}

func TestSchema_ActionURLPairUnique(t *testing.T) {
	db := openTestDB(t)
	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	insert := `INSERT INTO file_sync_cache (src_url, dst_url, action, created_at, next_attempt_at)
		VALUES ('mem://s/a', 'mem://d/a', 'create', datetime('now'), datetime('now'))`
	if _, err := db.Exec(insert); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if _, err := db.Exec(insert); err == nil {
		t.Error("duplicate url pair accepted, want unique constraint violation")
	}
}

func TestSchema_MappingNameUnique(t *testing.T) {
	db := openTestDB(t)
	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	insert := `INSERT INTO file_sync_config (name, src_url, dst_url) VALUES ('docs', 'file:///a', 'file:///b')`
	if _, err := db.Exec(insert); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if _, err := db.Exec(insert); err == nil {
		t.Error("duplicate mapping name accepted, want unique constraint violation")
	}
}

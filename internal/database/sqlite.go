// Package database persists the file-info cache, directory tree, pending
// action queue, sync mappings and blacklist in a single SQLite database.
package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"syncapp/internal/core"
	"syncapp/internal/database/migrations"
)

// Store implements every persistent store interface over one SQLite database.
type Store struct {
	db   *sql.DB
	path string
}

// New opens (or creates) the database at path and runs pending migrations.
// path can be ":memory:" for an in-memory database.
func New(path string) (*Store, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, path: path}, nil
}

// NewFromDB wraps an existing connection. The caller has already configured
// and migrated it.
func NewFromDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// OpenConnection opens a SQLite connection with the PRAGMAs the stores rely
// on. Exported for tools and tests that need a raw connection.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// An in-memory database exists per connection; more than one connection
	// would see different databases.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", p, err)
		}
	}
	return db, nil
}

// Path returns the database file path, or ":memory:".
func (s *Store) Path() string { return s.path }

// CheckMigrations verifies the schema is current.
func (s *Store) CheckMigrations() error {
	return migrations.CheckStatus(s.db)
}

// BackupTo writes a complete copy of the database to destPath.
func (s *Store) BackupTo(destPath string) error {
	if _, err := s.db.Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// --- FileInfoCache ---

const fileRecordCols = "filename, filepath, urlname, md5sum, sha1sum, filestat_st_mtime, filestat_st_size, serviceid, servicetype, servicesession, created_at, deleted_at"

func scanFileRecord(row interface{ Scan(...any) error }) (*core.FileRecord, error) {
	var rec core.FileRecord
	var deletedAt sql.NullTime
	err := row.Scan(&rec.Filename, &rec.Filepath, &rec.URLName, &rec.MD5Sum, &rec.SHA1Sum,
		&rec.MTime, &rec.Size, &rec.ServiceID, &rec.ServiceType, &rec.ServiceSession,
		&rec.CreatedAt, &deletedAt)
	if err != nil {
		return nil, err
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		rec.DeletedAt = &t
	}
	return &rec, nil
}

func (s *Store) Lookup(key core.RecordKey) (*core.FileRecord, error) {
	row := s.db.QueryRow(
		"SELECT "+fileRecordCols+" FROM file_info_cache WHERE filename = ? AND filepath = ? AND urlname = ? AND serviceid = ? AND servicetype = ? AND servicesession = ? AND deleted_at IS NULL",
		key.Filename, key.Filepath, key.URLName, key.ServiceID, key.ServiceType, key.ServiceSession)
	rec, err := scanFileRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("looking up file record: %w", err)
	}
	return rec, nil
}

func (s *Store) LookupByURL(urlname string) (*core.FileRecord, error) {
	row := s.db.QueryRow(
		"SELECT "+fileRecordCols+" FROM file_info_cache WHERE urlname = ? AND deleted_at IS NULL ORDER BY id LIMIT 1",
		urlname)
	rec, err := scanFileRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("looking up file record by url: %w", err)
	}
	return rec, nil
}

// ListService returns live and soft-deleted records; callers decide whether a
// deleted record still matters to them.
func (s *Store) ListService(servicetype core.ServiceType, servicesession string) ([]*core.FileRecord, error) {
	rows, err := s.db.Query(
		"SELECT "+fileRecordCols+" FROM file_info_cache WHERE servicetype = ? AND servicesession = ? ORDER BY urlname",
		servicetype, servicesession)
	if err != nil {
		return nil, fmt.Errorf("listing file records: %w", err)
	}
	defer rows.Close()

	var recs []*core.FileRecord
	for rows.Next() {
		rec, err := scanFileRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning file record: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (s *Store) NeedsRehash(key core.RecordKey, size, mtime int64) (bool, error) {
	rec, err := s.Lookup(key)
	if errors.Is(err, core.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if rec.Size != size || rec.MTime != mtime {
		return true, nil
	}
	return !rec.HasDigests(), nil
}

func (s *Store) Upsert(rec *core.FileRecord) error {
	_, err := s.db.Exec(`INSERT INTO file_info_cache
		(filename, filepath, urlname, md5sum, sha1sum, filestat_st_mtime, filestat_st_size, serviceid, servicetype, servicesession, created_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, NULL)
		ON CONFLICT (filename, filepath, urlname, serviceid, servicetype, servicesession) DO UPDATE SET
			md5sum = excluded.md5sum,
			sha1sum = excluded.sha1sum,
			filestat_st_mtime = excluded.filestat_st_mtime,
			filestat_st_size = excluded.filestat_st_size,
			deleted_at = NULL`,
		rec.Filename, rec.Filepath, rec.URLName, rec.MD5Sum, rec.SHA1Sum,
		rec.MTime, rec.Size, rec.ServiceID, rec.ServiceType, rec.ServiceSession)
	if err != nil {
		return fmt.Errorf("upserting file record %s: %w", rec.URLName, err)
	}
	return nil
}

func (s *Store) Remove(key core.RecordKey) error {
	_, err := s.db.Exec(
		"UPDATE file_info_cache SET deleted_at = CURRENT_TIMESTAMP WHERE filename = ? AND filepath = ? AND urlname = ? AND serviceid = ? AND servicetype = ? AND servicesession = ? AND deleted_at IS NULL",
		key.Filename, key.Filepath, key.URLName, key.ServiceID, key.ServiceType, key.ServiceSession)
	if err != nil {
		return fmt.Errorf("removing file record %s: %w", key.URLName, err)
	}
	return nil
}

func (s *Store) RemoveByURL(urlname string) error {
	_, err := s.db.Exec(
		"UPDATE file_info_cache SET deleted_at = CURRENT_TIMESTAMP WHERE urlname = ? AND deleted_at IS NULL",
		urlname)
	if err != nil {
		return fmt.Errorf("removing file records for %s: %w", urlname, err)
	}
	return nil
}

// --- DirectoryTree ---

const dirRecordCols = "directory_id, directory_name, parent_id, is_root, servicetype, servicesession"

func scanDirRecord(row interface{ Scan(...any) error }) (*core.DirectoryRecord, error) {
	var rec core.DirectoryRecord
	err := row.Scan(&rec.DirectoryID, &rec.DirectoryName, &rec.ParentID, &rec.IsRoot,
		&rec.ServiceType, &rec.ServiceSession)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) UpsertNode(rec *core.DirectoryRecord) error {
	if !rec.IsRoot && rec.ParentID != "" {
		if err := s.checkNoCycle(rec); err != nil {
			return err
		}
	}
	_, err := s.db.Exec(`INSERT INTO directory_info_cache
		(directory_id, directory_name, parent_id, is_root, servicetype, servicesession)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (directory_id, servicetype, servicesession) DO UPDATE SET
			directory_name = excluded.directory_name,
			parent_id = excluded.parent_id,
			is_root = excluded.is_root`,
		rec.DirectoryID, rec.DirectoryName, rec.ParentID, rec.IsRoot,
		rec.ServiceType, rec.ServiceSession)
	if err != nil {
		return fmt.Errorf("upserting directory %s: %w", rec.DirectoryID, err)
	}
	return nil
}

// checkNoCycle walks the prospective parent chain. Reaching rec itself means
// the upsert would close a loop.
func (s *Store) checkNoCycle(rec *core.DirectoryRecord) error {
	seen := map[string]bool{rec.DirectoryID: true}
	cur := rec.ParentID
	for cur != "" {
		if seen[cur] {
			return fmt.Errorf("%w: directory %s", core.ErrCycleDetected, rec.DirectoryID)
		}
		seen[cur] = true
		node, err := s.Node(rec.ServiceType, rec.ServiceSession, cur)
		if errors.Is(err, core.ErrNotFound) {
			// Parent not cached yet; it may arrive later in the listing.
			return nil
		}
		if err != nil {
			return err
		}
		if node.IsRoot {
			return nil
		}
		cur = node.ParentID
	}
	return nil
}

func (s *Store) Node(servicetype core.ServiceType, session, directoryID string) (*core.DirectoryRecord, error) {
	row := s.db.QueryRow(
		"SELECT "+dirRecordCols+" FROM directory_info_cache WHERE servicetype = ? AND servicesession = ? AND directory_id = ?",
		servicetype, session, directoryID)
	rec, err := scanDirRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("looking up directory %s: %w", directoryID, err)
	}
	return rec, nil
}

func (s *Store) ListNodes(servicetype core.ServiceType, session string) ([]*core.DirectoryRecord, error) {
	rows, err := s.db.Query(
		"SELECT "+dirRecordCols+" FROM directory_info_cache WHERE servicetype = ? AND servicesession = ? ORDER BY directory_name",
		servicetype, session)
	if err != nil {
		return nil, fmt.Errorf("listing directories: %w", err)
	}
	defer rows.Close()

	var recs []*core.DirectoryRecord
	for rows.Next() {
		rec, err := scanDirRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning directory record: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (s *Store) DeleteNode(servicetype core.ServiceType, session, directoryID string) error {
	_, err := s.db.Exec(
		"DELETE FROM directory_info_cache WHERE servicetype = ? AND servicesession = ? AND directory_id = ?",
		servicetype, session, directoryID)
	if err != nil {
		return fmt.Errorf("deleting directory %s: %w", directoryID, err)
	}
	return nil
}

func (s *Store) Materialize(servicetype core.ServiceType, session, directoryID string) (string, error) {
	var segments []string
	seen := make(map[string]bool)
	cur := directoryID
	for {
		if seen[cur] {
			return "", fmt.Errorf("%w: directory %s", core.ErrCycleDetected, directoryID)
		}
		seen[cur] = true

		node, err := s.Node(servicetype, session, cur)
		if errors.Is(err, core.ErrNotFound) {
			if cur == directoryID {
				return "", err
			}
			return "", fmt.Errorf("%w: broken parent chain at %s", core.ErrUnresolvable, cur)
		}
		if err != nil {
			return "", err
		}

		if node.IsRoot {
			break
		}
		segments = append(segments, node.DirectoryName)
		if node.ParentID == "" {
			break
		}
		cur = node.ParentID
	}

	// segments were collected leaf-first.
	for i, j := 0, len(segments)-1; i < j; i, j = i+1, j-1 {
		segments[i], segments[j] = segments[j], segments[i]
	}
	return strings.Join(segments, "/"), nil
}

func (s *Store) ResolvePath(servicetype core.ServiceType, session string, segments []string) ([]string, error) {
	row := s.db.QueryRow(
		"SELECT directory_id FROM directory_info_cache WHERE servicetype = ? AND servicesession = ? AND is_root = 1",
		servicetype, session)
	var cur string
	if err := row.Scan(&cur); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: no root directory cached", core.ErrUnresolvable)
		}
		return nil, fmt.Errorf("resolving root directory: %w", err)
	}

	chain := []string{cur}
	for _, seg := range segments {
		row := s.db.QueryRow(
			"SELECT directory_id FROM directory_info_cache WHERE servicetype = ? AND servicesession = ? AND parent_id = ? AND directory_name = ?",
			servicetype, session, cur, seg)
		if err := row.Scan(&cur); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, fmt.Errorf("%w: segment %q", core.ErrUnresolvable, seg)
			}
			return nil, fmt.Errorf("resolving segment %q: %w", seg, err)
		}
		chain = append(chain, cur)
	}
	return chain, nil
}

// --- ActionQueue ---

const actionCols = "id, src_url, dst_url, action, created_at, retry_count, next_attempt_at, claimed_at, failed, last_error"

func scanAction(row interface{ Scan(...any) error }) (*core.PendingAction, error) {
	var act core.PendingAction
	var claimedAt sql.NullTime
	err := row.Scan(&act.ID, &act.SrcURL, &act.DstURL, &act.Kind, &act.CreatedAt,
		&act.RetryCount, &act.NextAttemptAt, &claimedAt, &act.Failed, &act.LastError)
	if err != nil {
		return nil, err
	}
	if claimedAt.Valid {
		t := claimedAt.Time
		act.ClaimedAt = &t
	}
	return &act, nil
}

func (s *Store) Enqueue(srcURL, dstURL string, kind core.ActionKind, now time.Time) (bool, error) {
	res, err := s.db.Exec(
		"INSERT OR IGNORE INTO file_sync_cache (src_url, dst_url, action, created_at, next_attempt_at) VALUES (?, ?, ?, ?, ?)",
		srcURL, dstURL, kind, now, now)
	if err != nil {
		return false, fmt.Errorf("enqueueing action %s -> %s: %w", srcURL, dstURL, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("enqueueing action: %w", err)
	}
	return n > 0, nil
}

func (s *Store) List() ([]*core.PendingAction, error) {
	return s.queryActions("SELECT " + actionCols + " FROM file_sync_cache ORDER BY id")
}

func (s *Store) Get(id int64) (*core.PendingAction, error) {
	row := s.db.QueryRow("SELECT "+actionCols+" FROM file_sync_cache WHERE id = ?", id)
	act, err := scanAction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading action %d: %w", id, err)
	}
	return act, nil
}

// claimTTL bounds how long a claim is honored. A process that died mid-apply
// must not wedge its action forever; anything older counts as abandoned.
const claimTTL = 15 * time.Minute

func (s *Store) Claim(id int64, now time.Time) (*core.PendingAction, error) {
	res, err := s.db.Exec(
		"UPDATE file_sync_cache SET claimed_at = ? WHERE id = ? AND (claimed_at IS NULL OR claimed_at <= ?)",
		now, id, now.Add(-claimTTL))
	if err != nil {
		return nil, fmt.Errorf("claiming action %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("claiming action %d: %w", id, err)
	}
	if n == 0 {
		// Either it is claimed by someone else or it no longer exists.
		if _, gerr := s.Get(id); gerr != nil {
			return nil, gerr
		}
		return nil, fmt.Errorf("%w: action %d", core.ErrActionClaimed, id)
	}
	return s.Get(id)
}

func (s *Store) Release(id int64, retryCount int, nextAttempt time.Time, lastError string) error {
	_, err := s.db.Exec(
		"UPDATE file_sync_cache SET claimed_at = NULL, retry_count = ?, next_attempt_at = ?, last_error = ? WHERE id = ?",
		retryCount, nextAttempt, lastError, id)
	if err != nil {
		return fmt.Errorf("releasing action %d: %w", id, err)
	}
	return nil
}

func (s *Store) MarkFailed(id int64, lastError string) error {
	_, err := s.db.Exec(
		"UPDATE file_sync_cache SET claimed_at = NULL, failed = 1, last_error = ? WHERE id = ?",
		lastError, id)
	if err != nil {
		return fmt.Errorf("flagging action %d: %w", id, err)
	}
	return nil
}

func (s *Store) Delete(id int64) error {
	_, err := s.db.Exec("DELETE FROM file_sync_cache WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting action %d: %w", id, err)
	}
	return nil
}

func (s *Store) DeleteBySrcURL(srcURL string) (int64, error) {
	res, err := s.db.Exec("DELETE FROM file_sync_cache WHERE src_url = ?", srcURL)
	if err != nil {
		return 0, fmt.Errorf("deleting actions for %s: %w", srcURL, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("deleting actions for %s: %w", srcURL, err)
	}
	return n, nil
}

func (s *Store) Due(now time.Time) ([]*core.PendingAction, error) {
	return s.queryActions(
		"SELECT "+actionCols+" FROM file_sync_cache WHERE failed = 0 AND (claimed_at IS NULL OR claimed_at <= ?) AND next_attempt_at <= ? ORDER BY id",
		now.Add(-claimTTL), now)
}

func (s *Store) queryActions(query string, args ...any) ([]*core.PendingAction, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing actions: %w", err)
	}
	defer rows.Close()

	var acts []*core.PendingAction
	for rows.Next() {
		act, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning action: %w", err)
		}
		acts = append(acts, act)
	}
	return acts, rows.Err()
}

// --- MappingStore ---

const mappingCols = "id, name, src_url, dst_url, bidirectional, last_run"

func scanMapping(row interface{ Scan(...any) error }) (*core.Mapping, error) {
	var m core.Mapping
	err := row.Scan(&m.ID, &m.Name, &m.SrcURL, &m.DstURL, &m.Bidirectional, &m.LastRun)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) ListMappings() ([]*core.Mapping, error) {
	rows, err := s.db.Query("SELECT " + mappingCols + " FROM file_sync_config ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("listing mappings: %w", err)
	}
	defer rows.Close()

	var ms []*core.Mapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning mapping: %w", err)
		}
		ms = append(ms, m)
	}
	return ms, rows.Err()
}

func (s *Store) GetMapping(name string) (*core.Mapping, error) {
	row := s.db.QueryRow("SELECT "+mappingCols+" FROM file_sync_config WHERE name = ?", name)
	m, err := scanMapping(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading mapping %s: %w", name, err)
	}
	return m, nil
}

func (s *Store) InsertMapping(m *core.Mapping) error {
	res, err := s.db.Exec(
		"INSERT INTO file_sync_config (name, src_url, dst_url, bidirectional) VALUES (?, ?, ?, ?)",
		m.Name, m.SrcURL, m.DstURL, m.Bidirectional)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return fmt.Errorf("mapping %s already exists: %w", m.Name, err)
		}
		return fmt.Errorf("inserting mapping %s: %w", m.Name, err)
	}
	m.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("inserting mapping %s: %w", m.Name, err)
	}
	return nil
}

func (s *Store) CommitRun(id int64, at time.Time) error {
	_, err := s.db.Exec("UPDATE file_sync_config SET last_run = ? WHERE id = ?", at, id)
	if err != nil {
		return fmt.Errorf("committing run for mapping %d: %w", id, err)
	}
	return nil
}

// --- Blacklist ---

func (s *Store) Rules() ([]string, error) {
	rows, err := s.db.Query("SELECT blacklist_url FROM file_sync_blacklist ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("listing blacklist rules: %w", err)
	}
	defer rows.Close()

	var rules []string
	for rows.Next() {
		var rule string
		if err := rows.Scan(&rule); err != nil {
			return nil, fmt.Errorf("scanning blacklist rule: %w", err)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (s *Store) AddRule(rule string) error {
	_, err := s.db.Exec("INSERT OR IGNORE INTO file_sync_blacklist (blacklist_url) VALUES (?)", rule)
	if err != nil {
		return fmt.Errorf("adding blacklist rule %s: %w", rule, err)
	}
	return nil
}

// Compile-time interface checks.
var (
	_ core.FileInfoCache = (*Store)(nil)
	_ core.DirectoryTree = (*Store)(nil)
	_ core.ActionQueue   = (*Store)(nil)
	_ core.MappingStore  = (*Store)(nil)
	_ core.Blacklist     = (*Store)(nil)
)

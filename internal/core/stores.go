package core

import "time"

// ActionKind says what applying a pending action does. Create and update are
// both copies from src to dst; the planner encodes direction by URL order.
type ActionKind string

const (
	ActionCreate ActionKind = "create"
	ActionUpdate ActionKind = "update"
	ActionDelete ActionKind = "delete"
)

// PendingAction is one queued, not-yet-applied difference between the two
// sides of a mapping. Retry state lives on the record so backoff survives
// process restarts.
type PendingAction struct {
	ID            int64
	SrcURL        string
	DstURL        string
	Kind          ActionKind
	CreatedAt     time.Time
	RetryCount    int
	NextAttemptAt time.Time
	ClaimedAt     *time.Time
	LastError     string

	// Failed marks an action that exhausted its retries or hit a permanent
	// error. It stays queued for inspection but is never picked up by Due.
	Failed bool
}

// Mapping is a configured source/destination pair subject to reconciliation.
type Mapping struct {
	ID            int64
	Name          string
	SrcURL        string
	DstURL        string
	Bidirectional bool
	LastRun       time.Time
}

// DirectoryRecord maps one opaque backend folder ID to a name and a parent.
// Records for a (servicetype, servicesession) scope form a forest.
type DirectoryRecord struct {
	DirectoryID    string
	DirectoryName  string
	ParentID       string // empty only when IsRoot
	IsRoot         bool
	ServiceType    ServiceType
	ServiceSession string
}

// FileInfoCache is the persisted store of previously observed file metadata.
// It answers "has this entry changed since we last looked" without re-reading
// content when size and mtime already match.
type FileInfoCache interface {
	Lookup(key RecordKey) (*FileRecord, error)
	LookupByURL(urlname string) (*FileRecord, error)
	ListService(servicetype ServiceType, servicesession string) ([]*FileRecord, error)

	// NeedsRehash returns true if no live record exists for key, or the
	// recorded size/mtime differ from the observed values. It must never
	// return false for content that actually changed; an unnecessary true
	// only costs a rehash.
	NeedsRehash(key RecordKey, size, mtime int64) (bool, error)

	// Upsert replaces the record with the same identity tuple. Idempotent.
	Upsert(rec *FileRecord) error

	// Remove soft-deletes the record; a later Upsert revives it.
	Remove(key RecordKey) error

	// RemoveByURL soft-deletes every record for urlname, forcing a rehash
	// on the next pass.
	RemoveByURL(urlname string) error
}

// DirectoryTree is the persisted store of backend folder hierarchy, used to
// translate opaque folder IDs into path-like strings.
type DirectoryTree interface {
	// UpsertNode inserts or updates a node. Fails with ErrCycleDetected if
	// the new parent would create a cycle, leaving the tree unchanged.
	UpsertNode(rec *DirectoryRecord) error

	Node(servicetype ServiceType, session, directoryID string) (*DirectoryRecord, error)
	ListNodes(servicetype ServiceType, session string) ([]*DirectoryRecord, error)
	DeleteNode(servicetype ServiceType, session, directoryID string) error

	// Materialize walks parent pointers from directoryID to the root and
	// returns the slash-joined human-readable path.
	Materialize(servicetype ServiceType, session, directoryID string) (string, error)

	// ResolvePath walks segments from the root and returns the directory ID
	// chain, failing with ErrUnresolvable at the first unknown segment.
	ResolvePath(servicetype ServiceType, session string, segments []string) ([]string, error)
}

// ActionQueue is the persisted pending-action store. Uniqueness of
// (src_url, dst_url) is enforced by the store itself so concurrent planners
// cannot race past a point-in-time check.
type ActionQueue interface {
	// Enqueue inserts a pending action, returning false if one already
	// exists for the same (srcURL, dstURL).
	Enqueue(srcURL, dstURL string, kind ActionKind, now time.Time) (bool, error)

	List() ([]*PendingAction, error)
	Get(id int64) (*PendingAction, error)

	// Claim marks the action in-progress. Returns ErrActionClaimed if a
	// concurrent invocation holds a fresh claim, ErrNotFound if the action
	// no longer exists. A claim past the store's staleness bound counts as
	// abandoned and may be taken over.
	Claim(id int64, now time.Time) (*PendingAction, error)

	// Release returns a claimed action to the queue with updated retry
	// state, eligible again at nextAttempt.
	Release(id int64, retryCount int, nextAttempt time.Time, lastError string) error

	// MarkFailed releases the claim but flags the action for operator
	// attention; it stays queued and is not retried automatically.
	MarkFailed(id int64, lastError string) error

	Delete(id int64) error
	DeleteBySrcURL(srcURL string) (int64, error)

	// Due lists actions without a live claim whose next attempt time has
	// passed. Stale claims do not hide an action.
	Due(now time.Time) ([]*PendingAction, error)
}

// MappingStore is the durable registry of configured sync pairs.
type MappingStore interface {
	ListMappings() ([]*Mapping, error)
	GetMapping(name string) (*Mapping, error)
	InsertMapping(m *Mapping) error

	// CommitRun advances last_run; called only after a planning pass
	// completed without fatal error.
	CommitRun(id int64, at time.Time) error
}

// Blacklist supplies exclusion rules consulted before an entry enters a diff.
type Blacklist interface {
	Rules() ([]string, error)
	AddRule(rule string) error
}

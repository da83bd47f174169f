// Package snapstore persists serialized snapshots in SQLite, grouped by
// normalized page URL, with global byte/count accounting and
// capacity-triggered eviction.
//
// Concurrency model: every mutating operation takes the store mutex and
// performs its reads, writes, and metadata adjustment inside one SQLite
// transaction. Two concurrent saves to the same group therefore serialize
// instead of losing an append, and accounting can never diverge from the
// actual group contents.
package snapstore

import (
	"database/sql"
	"errors"
	"log/slog"
	"sync"

	"github.com/basicsharp/chrome-dom-snap/dbopen"
	"github.com/basicsharp/chrome-dom-snap/idgen"
)

// ErrInvalidName is returned by Rename for an empty or over-length name.
var ErrInvalidName = errors.New("snapshot name must be non-empty and at most 100 characters")

// ErrNotFound is returned for operations referencing an unknown snapshot id.
var ErrNotFound = errors.New("snapshot not found")

// Defaults for store settings.
const (
	DefaultMaxPerURL     = 50
	DefaultMaxTotalBytes = 8 << 20
	// evictionTarget is the fraction of the byte budget eviction shrinks
	// to. Stopping at 80% instead of 100% leaves headroom so the next save
	// does not immediately re-trigger eviction.
	evictionTargetNum = 8
	evictionTargetDen = 10
)

// MaxNameLength is the rename length limit, counted in runes after trimming.
const MaxNameLength = 100

// Meta is the immutable per-snapshot metadata.
type Meta struct {
	ByteSize       int    `json:"size"`
	PageTitle      string `json:"pageTitle"`
	ViewportWidth  int    `json:"viewportWidth"`
	ViewportHeight int    `json:"viewportHeight"`
	SourceURL      string `json:"url"`
	Preview        string `json:"preview,omitempty"`
}

// Snapshot is one captured DOM state. Only Name is mutable after capture.
type Snapshot struct {
	ID        string `json:"id"`
	URLKey    string `json:"urlKey"`
	Name      string `json:"name"`
	Timestamp int64  `json:"timestamp"` // capture instant, epoch milliseconds
	Content   string `json:"domContent"`
	Meta      Meta   `json:"metadata"`
}

// Settings are the persisted store limits.
type Settings struct {
	MaxPerURL     int   `json:"maxSnapshotsPerUrl"`
	MaxTotalBytes int64 `json:"maxTotalSize"`
	AutoCleanup   bool  `json:"autoCleanup"`
}

// Usage is the derived read of global accounting.
type Usage struct {
	TotalBytes     int64   `json:"totalSize"`
	SnapshotCount  int     `json:"snapshotCount"`
	UsedPercentage float64 `json:"usedPercentage"`
	MaxTotalBytes  int64   `json:"maxTotalSize"`
}

// GroupInfo summarizes one URL group.
type GroupInfo struct {
	URLKey     string `json:"urlKey"`
	Count      int    `json:"count"`
	TotalBytes int64  `json:"totalBytes"`
}

// Store is the snapshot database handle.
type Store struct {
	DB *sql.DB

	mu          sync.Mutex
	logger      *slog.Logger
	newID       idgen.Generator
	dropQuery   bool
	lastEvicted int // set by evictLocked, guarded by mu
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) StoreOption { return func(s *Store) { s.logger = l } }

// WithIDGenerator sets the snapshot ID generator. Default: UUIDv7.
func WithIDGenerator(gen idgen.Generator) StoreOption { return func(s *Store) { s.newID = gen } }

// WithDropQuery makes URL normalization strip the query string in addition
// to the fragment.
func WithDropQuery() StoreOption { return func(s *Store) { s.dropQuery = true } }

// Open opens (or creates) the snapshot database at path and applies the
// schema. The caller must blank-import an SQLite driver.
func Open(path string, opts ...StoreOption) (*Store, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(Schema))
	if err != nil {
		return nil, err
	}
	return NewStore(db, opts...), nil
}

// NewStore wraps an already opened database that has the schema applied.
func NewStore(db *sql.DB, opts ...StoreOption) *Store {
	s := &Store{
		DB:     db,
		logger: slog.Default(),
		newID:  idgen.Default,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}

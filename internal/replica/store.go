package replica

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema
// 1 - Added index on ops(collection, record_id) for record existence checks
const currentSchemaVersion = 1

const metaPeerID = "peer_id"

var (
	// ErrUnavailable is returned when the replica is closed or its database
	// cannot be reached.
	ErrUnavailable = errors.New("replica: unavailable")

	// ErrRecordNotFound is returned when a field write targets a record that
	// has not been inserted.
	ErrRecordNotFound = errors.New("replica: record not found")

	// ErrDuplicateRecord is returned when Append reuses an existing record id.
	ErrDuplicateRecord = errors.New("replica: duplicate record id")

	// ErrInvalidOp is returned by Merge for ops that fail validation.
	ErrInvalidOp = errors.New("replica: invalid op")

	// ErrSeqConflict is returned by Transact when another handle on the same
	// database kept claiming the group's seq range.
	ErrSeqConflict = errors.New("replica: local seq taken by another writer")
)

// Replica is one peer's copy of the replicated document.
type Replica struct {
	db     *sql.DB
	peer   string
	clock  *Clock
	logger *slog.Logger
	closed atomic.Bool

	// mu serializes writers. seq is the last committed local seq.
	mu  sync.Mutex
	seq int64

	subMu  sync.Mutex
	subs   map[string]map[uint64]func()
	nextID uint64
}

// Option configures Open.
type Option func(*options)

type options struct {
	peerID string
	logger *slog.Logger
}

// WithPeerID fixes the peer id. On an existing database the id must match the
// stored one.
func WithPeerID(id string) Option {
	return func(o *options) {
		o.peerID = id
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// Open creates or opens the op log at path. Use ":memory:" for a throwaway
// replica.
//
// The peer id is generated (UUIDv7) on first open and persisted, so a device
// keeps its identity across restarts. The local seq and the Lamport clock
// resume from the highest values in the log.
func Open(path string, opts ...Option) (*Replica, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("replica: open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("replica: connect to database: %w", err)
	}

	// SQLite supports a single writer. One connection also keeps a
	// ":memory:" database alive for the lifetime of the replica.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("replica: apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("replica: apply schema: %w", err)
	}

	peer, err := resolvePeerID(db, o.peerID)
	if err != nil {
		db.Close()
		return nil, err
	}

	r := &Replica{
		db:     db,
		peer:   peer,
		logger: o.logger,
		subs:   make(map[string]map[uint64]func()),
	}

	var maxClock int64
	if err := db.QueryRow(`SELECT COALESCE(MAX(seq), 0) FROM ops WHERE peer = ?`, peer).Scan(&r.seq); err != nil {
		db.Close()
		return nil, fmt.Errorf("replica: restore seq: %w", err)
	}
	if err := db.QueryRow(`SELECT COALESCE(MAX(clock), 0) FROM ops`).Scan(&maxClock); err != nil {
		db.Close()
		return nil, fmt.Errorf("replica: restore clock: %w", err)
	}
	r.clock = NewClockAt(maxClock)

	r.logger.Debug("replica opened", "path", path, "peer", peer, "seq", r.seq, "clock", maxClock)
	return r, nil
}

// PeerID returns this replica's peer id.
func (r *Replica) PeerID() string {
	return r.peer
}

// Clock exposes the Lamport clock for diagnostics.
func (r *Replica) Clock() *Clock {
	return r.clock
}

// Ping reports ErrUnavailable when the replica is closed or the database does
// not answer.
func (r *Replica) Ping(ctx context.Context) error {
	if r.closed.Load() {
		return ErrUnavailable
	}
	if err := r.db.PingContext(ctx); err != nil {
		return unavailable(err)
	}
	return nil
}

// Close closes the database. Subsequent operations return ErrUnavailable.
func (r *Replica) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	return r.db.Close()
}

// dsn makes every transaction take the write lock when it begins, so two
// handles on one file cannot interleave between reading the local seq and
// inserting after it.
func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_txlock=immediate"
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_ops_record
		ON ops(collection, record_id)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// resolvePeerID loads the stored peer id, storing want (or a fresh UUIDv7)
// on first open.
func resolvePeerID(db *sql.DB, want string) (string, error) {
	var stored string
	err := db.QueryRow(`SELECT value FROM meta WHERE key = ?`, metaPeerID).Scan(&stored)
	switch {
	case err == nil:
		if want != "" && want != stored {
			return "", fmt.Errorf("replica: peer id %q does not match stored peer id %q", want, stored)
		}
		return stored, nil
	case errors.Is(err, sql.ErrNoRows):
	default:
		return "", fmt.Errorf("replica: load peer id: %w", err)
	}

	peer := want
	if peer == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return "", fmt.Errorf("replica: generate peer id: %w", err)
		}
		peer = id.String()
	}

	if _, err := db.Exec(`INSERT INTO meta (key, value) VALUES (?, ?)`, metaPeerID, peer); err != nil {
		return "", fmt.Errorf("replica: store peer id: %w", err)
	}
	return peer, nil
}

// Package store implements the durable memory storage engine: schema, CRUD,
// dedup, tag/time/hash queries, and ANN retrieval over a single SQLite file.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/fyrsmithlabs/memoryd/internal/logging"
)

// Options configures Open.
type Options struct {
	Path            string
	Dimension       int
	ModelIdentifier string
	BusyTimeoutMS   int
	CacheSizePages  int
	Pragmas         map[string]string
	RequireVec      bool
}

// Store is the durable memory storage engine. It owns the database file and
// every derived-artifact table; no other component opens the file.
type Store struct {
	db         *sql.DB
	mu         sync.RWMutex
	path       string
	dimension  int
	model      string
	vectorExt  bool
	openedAt   time.Time
	schemaVers int
}

// Open creates or opens the database at opts.Path, applying schema and
// pragmas, and validates declared dimension/model against what is stored.
func Open(opts Options) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	if opts.Dimension <= 0 {
		return nil, fmt.Errorf("store: dimension must be positive, got %d", opts.Dimension)
	}
	if opts.BusyTimeoutMS <= 0 {
		opts.BusyTimeoutMS = 15000
	}
	if opts.CacheSizePages <= 0 {
		opts.CacheSizePages = 20000
	}

	dir := filepath.Dir(opts.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("store: create data dir: %w", err)
	}

	db, err := sql.Open("sqlite3", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	// A single writer connection keeps our own mutex authoritative; other
	// processes sharing the file still coordinate through WAL + busy_timeout.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", opts.BusyTimeoutMS),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		fmt.Sprintf("PRAGMA cache_size = -%d", opts.CacheSizePages),
		"PRAGMA temp_store = MEMORY",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			logging.StoreDebug("pragma failed %q: %v", p, err)
		}
	}
	for k, v := range opts.Pragmas {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA %s = %s", k, v)); err != nil {
			logging.StoreDebug("custom pragma failed %s=%s: %v", k, v, err)
		}
	}

	if err := applySchema(db, opts.Dimension, opts.ModelIdentifier); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{
		db:         db,
		path:       opts.Path,
		dimension:  opts.Dimension,
		model:      opts.ModelIdentifier,
		openedAt:   time.Now(),
		schemaVers: CurrentSchemaVersion,
	}

	s.vectorExt = detectVecExtension(db)
	if opts.RequireVec && !s.vectorExt {
		db.Close()
		return nil, fmt.Errorf("store: sqlite-vec extension not available and RequireVec is set")
	}
	if s.vectorExt {
		logging.Store("sqlite-vec extension detected, initializing vec_index")
		if err := s.initVecIndex(); err != nil {
			logging.Get(logging.CategoryStore).Warn("failed to initialize vec_index, falling back to brute-force scan: %v", err)
			s.vectorExt = false
		}
	} else {
		logging.Get(logging.CategoryStore).Warn("sqlite-vec extension not available; retrieve will use brute-force cosine scan")
	}

	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying connection for coordinator-managed transactions.
func (s *Store) DB() *sql.DB { return s.db }

// Dimension returns the store's declared vector dimension.
func (s *Store) Dimension() int { return s.dimension }

// ModelIdentifier returns the encoder model id stamped at creation.
func (s *Store) ModelIdentifier() string { return s.model }

// HasVectorExtension reports whether sqlite-vec ANN is active for this store.
func (s *Store) HasVectorExtension() bool { return s.vectorExt }

func detectVecExtension(db *sql.DB) bool {
	if _, err := db.Exec("CREATE VIRTUAL TABLE IF NOT EXISTS vec_probe USING vec0(embedding float[4])"); err != nil {
		return false
	}
	_, _ = db.Exec("DROP TABLE IF EXISTS vec_probe")
	return true
}

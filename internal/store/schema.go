package store

import (
	"database/sql"
	"fmt"

	"github.com/fyrsmithlabs/memoryd/internal/logging"
)

// CurrentSchemaVersion identifies the on-disk layout this package writes.
// v1: memories, associations, clusters, cluster_members, store_meta, vec_index.
const CurrentSchemaVersion = 1

const schemaDDL = `
CREATE TABLE IF NOT EXISTS memories (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	content_hash TEXT NOT NULL UNIQUE,
	content TEXT NOT NULL,
	tags TEXT NOT NULL DEFAULT '',
	memory_type TEXT NOT NULL DEFAULT '',
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at REAL NOT NULL,
	created_at_iso TEXT NOT NULL,
	updated_at REAL NOT NULL,
	updated_at_iso TEXT NOT NULL,
	embedding BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_memories_created_at ON memories(created_at);
CREATE INDEX IF NOT EXISTS idx_memories_memory_type ON memories(memory_type);

CREATE TABLE IF NOT EXISTS associations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	source_hash TEXT NOT NULL,
	target_hash TEXT NOT NULL,
	similarity REAL NOT NULL,
	discovered_at REAL NOT NULL,
	UNIQUE(source_hash, target_hash)
);

CREATE TABLE IF NOT EXISTS clusters (
	cluster_id TEXT PRIMARY KEY,
	theme TEXT NOT NULL,
	centroid BLOB NOT NULL,
	created_at REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS cluster_members (
	cluster_id TEXT NOT NULL,
	content_hash TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cluster_members_cluster_id ON cluster_members(cluster_id);

CREATE TABLE IF NOT EXISTS store_meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// metaKeys used in store_meta.
const (
	metaDimension       = "dimension"
	metaModelIdentifier = "model_identifier"
	metaSchemaVersion   = "schema_version"
	metaLastRunPrefix   = "last_run:"      // + phase name
	metaRunLock         = "consolidation_run_lock"
	metaLastFailure     = "last_consolidation_failure"
)

// applySchema creates the schema if absent and validates store_meta
// against the declared dimension and model identifier.
func applySchema(db *sql.DB, dimension int, modelIdentifier string) error {
	logging.StoreDebug("applying schema (dimension=%d, model=%s)", dimension, modelIdentifier)
	if _, err := db.Exec(schemaDDL); err != nil {
		return fmt.Errorf("store: create schema: %w", err)
	}

	existingDim, dimOK, err := getMeta(db, metaDimension)
	if err != nil {
		return err
	}
	existingModel, modelOK, err := getMeta(db, metaModelIdentifier)
	if err != nil {
		return err
	}

	if !dimOK && !modelOK {
		if err := setMeta(db, metaDimension, fmt.Sprintf("%d", dimension)); err != nil {
			return err
		}
		if err := setMeta(db, metaModelIdentifier, modelIdentifier); err != nil {
			return err
		}
		if err := setMeta(db, metaSchemaVersion, fmt.Sprintf("%d", CurrentSchemaVersion)); err != nil {
			return err
		}
		logging.Store("initialized new store: dimension=%d model=%s", dimension, modelIdentifier)
		return nil
	}

	if existingDim != fmt.Sprintf("%d", dimension) {
		return &incompatibleStoreError{field: "dimension", want: fmt.Sprintf("%d", dimension), have: existingDim}
	}
	if existingModel != modelIdentifier {
		return &incompatibleStoreError{field: "model_identifier", want: modelIdentifier, have: existingModel}
	}
	return nil
}

type incompatibleStoreError struct {
	field, want, have string
}

func (e *incompatibleStoreError) Error() string {
	return fmt.Sprintf("store: %s mismatch: declared %q, store has %q", e.field, e.want, e.have)
}

func getMeta(db *sql.DB, key string) (string, bool, error) {
	var value string
	err := db.QueryRow("SELECT value FROM store_meta WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: read meta %s: %w", key, err)
	}
	return value, true, nil
}

func setMeta(db *sql.DB, key, value string) error {
	_, err := db.Exec(`INSERT INTO store_meta(key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("store: write meta %s: %w", key, err)
	}
	return nil
}

func deleteMeta(db *sql.DB, key string) error {
	_, err := db.Exec("DELETE FROM store_meta WHERE key = ?", key)
	return err
}

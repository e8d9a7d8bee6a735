// Package registry implements the on-disk compiled-plan cache described by
// SPEC_FULL.md §2.2/§3: a small sqlite-backed store, keyed by a blake2b
// hash of grammar source bytes, of the JSON manifest spec.md §6 says every
// compiled artifact embeds, alongside the opaque plan bytes a planio.Save
// call produced for it.
//
// Grounded on the teacher's server/dao/sqlite package: one *sql.DB, a small
// init()-time schema migration, prepared-statement CRUD — adapted from its
// multi-table user/session/game schema down to a single hash-keyed cache
// table, since a compiled-plan cache has exactly one kind of row.
package registry

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/blake2b"
	_ "modernc.org/sqlite"
)

// Manifest is the JSON manifest spec.md §6 says every compiled artifact
// embeds. Mismatched Magic or Version fails planio.Open with a descriptive
// error rather than silently loading a stale or foreign artifact.
type Manifest struct {
	Magic            string `json:"magic"`
	Version          int    `json:"version"`
	CreatedTimestamp int64  `json:"created_timestamp"`
	DebugFlag        bool   `json:"debug_flag"`
	OptimizeFlag     bool   `json:"optimize_flag"`
}

// HashGrammar returns the cache key for grammar source bytes: a hex-encoded
// blake2b-256 digest. Two grammars with the same source hash to the same
// key regardless of which Grammar value was built from it, so a host that
// re-parses the same surface-syntax source on every startup can skip
// straight to a cached plan instead of re-running the analyzer and
// synthesizer.
func HashGrammar(source []byte) string {
	sum := blake2b.Sum256(source)
	return hex.EncodeToString(sum[:])
}

// Entry is one cached compiled plan: its manifest plus the opaque bytes a
// planio.Save call produced for it. Cache never looks inside PlanBlob; it
// is planio's format to read, not registry's.
type Entry struct {
	Manifest Manifest
	PlanBlob []byte
}

// Cache is a sqlite-backed store of Entry, keyed by grammar hash. Not safe
// for concurrent writes to the same hash from multiple processes sharing
// one file, same as the teacher's own sqlite stores assume single-writer
// access per database file.
type Cache struct {
	db *sql.DB
}

// Open opens (creating if necessary) a Cache at path, running its schema
// migration.
func Open(path string) (*Cache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("registry: open %s: %w", path, err)
	}
	c := &Cache{db: db}
	if err := c.init(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Cache) init() error {
	_, err := c.db.Exec(`CREATE TABLE IF NOT EXISTS plans (
		hash              TEXT NOT NULL PRIMARY KEY,
		manifest_json     TEXT NOT NULL,
		plan_blob         BLOB NOT NULL,
		created_timestamp INTEGER NOT NULL
	);`)
	if err != nil {
		return fmt.Errorf("registry: init schema: %w", err)
	}
	return nil
}

// Get returns the cached Entry for hash, and whether one was found.
func (c *Cache) Get(ctx context.Context, hash string) (Entry, bool, error) {
	row := c.db.QueryRowContext(ctx, `SELECT manifest_json, plan_blob FROM plans WHERE hash = ?;`, hash)

	var manifestJSON string
	var blob []byte
	if err := row.Scan(&manifestJSON, &blob); err != nil {
		if err == sql.ErrNoRows {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("registry: get %s: %w", hash, err)
	}

	var m Manifest
	if err := json.Unmarshal([]byte(manifestJSON), &m); err != nil {
		return Entry{}, false, fmt.Errorf("registry: decode manifest for %s: %w", hash, err)
	}
	return Entry{Manifest: m, PlanBlob: blob}, true, nil
}

// Put stores (or replaces) the Entry cached under hash.
func (c *Cache) Put(ctx context.Context, hash string, e Entry) error {
	manifestJSON, err := json.Marshal(e.Manifest)
	if err != nil {
		return fmt.Errorf("registry: encode manifest: %w", err)
	}

	stmt, err := c.db.PrepareContext(ctx, `INSERT INTO plans (hash, manifest_json, plan_blob, created_timestamp)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(hash) DO UPDATE SET
			manifest_json     = excluded.manifest_json,
			plan_blob         = excluded.plan_blob,
			created_timestamp = excluded.created_timestamp;`)
	if err != nil {
		return fmt.Errorf("registry: prepare put: %w", err)
	}
	defer stmt.Close()

	if _, err := stmt.ExecContext(ctx, hash, string(manifestJSON), e.PlanBlob, e.Manifest.CreatedTimestamp); err != nil {
		return fmt.Errorf("registry: put %s: %w", hash, err)
	}
	return nil
}

// Delete removes the cached Entry for hash, if any. A hash not present is
// not an error.
func (c *Cache) Delete(ctx context.Context, hash string) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM plans WHERE hash = ?;`, hash); err != nil {
		return fmt.Errorf("registry: delete %s: %w", hash, err)
	}
	return nil
}

// Close closes the underlying database connection.
func (c *Cache) Close() error {
	return c.db.Close()
}

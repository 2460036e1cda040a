// Package cache implements the content-addressed fingerprint cache that
// lets agents reuse prior work. Keys are derived from the subject's
// normalized display name plus a task identifier, so identical
// (subject, task) pairs collide intentionally across runs while distinct
// subjects never share a cache line.
package cache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shaiss/near-catalyst/pkg/database"
)

// Cache is the fingerprinted result store. Writes funnel through the
// store's retrying write path, so concurrent dimension workers need no
// coordination of their own.
type Cache struct {
	store *database.Store

	// window is the freshness bound: entries older than this are treated
	// as definite misses, never stale hits.
	window time.Duration
}

// New creates a cache over the given store with the given freshness window.
func New(store *database.Store, window time.Duration) *Cache {
	return &Cache{store: store, window: window}
}

// NormalizeSubject canonicalizes a subject display name for fingerprint
// derivation: lower-cased with runs of whitespace collapsed to single
// spaces. Two raw identifiers resolving to the same display entity share
// a cache line through this normalization.
func NormalizeSubject(displayName string) string {
	return strings.Join(strings.Fields(strings.ToLower(displayName)), " ")
}

// Fingerprint derives the deterministic cache key for a (subject, task)
// pair. It never incorporates run-specific or random data.
func Fingerprint(subjectDisplayName, taskKey string) string {
	sum := sha256.Sum256([]byte(NormalizeSubject(subjectDisplayName) + ":" + taskKey))
	return hex.EncodeToString(sum[:])
}

// Get looks up a fresh entry and unmarshals its payload into out.
// Returns false on a miss or on an entry older than the freshness window.
func (c *Cache) Get(ctx context.Context, subjectDisplayName, taskKey string, out any) (bool, error) {
	fp := Fingerprint(subjectDisplayName, taskKey)

	var (
		payload   string
		createdAt string
	)
	err := c.store.DB().QueryRowContext(ctx,
		`SELECT payload_json, created_at FROM cache_entry WHERE fingerprint = ?`, fp).
		Scan(&payload, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query cache entry: %w", err)
	}

	created, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return false, fmt.Errorf("failed to parse cache timestamp: %w", err)
	}
	if time.Since(created) > c.window {
		return false, nil
	}

	if err := json.Unmarshal([]byte(payload), out); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached payload: %w", err)
	}
	return true, nil
}

// Put stores (or replaces) the payload for a (subject, task) pair.
func (c *Cache) Put(ctx context.Context, subjectDisplayName, taskKey string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal cache payload: %w", err)
	}
	return c.store.Execute(ctx,
		`INSERT INTO cache_entry (fingerprint, subject_key, payload_json, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(fingerprint) DO UPDATE SET
		   payload_json = excluded.payload_json,
		   created_at = excluded.created_at`,
		Fingerprint(subjectDisplayName, taskKey),
		NormalizeSubject(subjectDisplayName),
		string(data),
		time.Now().UTC().Format(time.RFC3339Nano))
}

// ClearSubject removes every cache entry belonging to one subject,
// leaving other subjects' entries untouched. Returns the removed count.
func (c *Cache) ClearSubject(ctx context.Context, subjectDisplayName string) (int64, error) {
	return c.store.ExecuteRows(ctx,
		`DELETE FROM cache_entry WHERE subject_key = ?`,
		NormalizeSubject(subjectDisplayName))
}

// ClearAll removes every cache entry. Administrative bulk clear only.
func (c *Cache) ClearAll(ctx context.Context) (int64, error) {
	return c.store.ExecuteRows(ctx, `DELETE FROM cache_entry`)
}

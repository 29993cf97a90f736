// Package registry tracks the connection state of every DID the relay has
// ever seen. Mutations are serialized per DID; lookups observe a consistent
// snapshot of a single record. Records are persisted through the KV store
// and survive restarts; they are never deleted.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/AustinEral/agent-reach/internal/models"
	"github.com/AustinEral/agent-reach/internal/store"
)

const keyPrefix = "record:"

// Registry is the DID → ConnectionRecord directory.
type Registry struct {
	kv     store.KV
	logger zerolog.Logger

	mu      sync.Mutex // guards the records map, not the records themselves
	records map[string]*entry
}

type entry struct {
	mu  sync.Mutex
	rec models.ConnectionRecord
}

// New creates a Registry backed by kv.
func New(kv store.KV, logger zerolog.Logger) *Registry {
	return &Registry{
		kv:      kv,
		logger:  logger.With().Str("component", "registry").Logger(),
		records: make(map[string]*entry),
	}
}

// Load rebuilds the in-memory directory from the KV store. Called once at
// startup before the registry serves traffic. Sessions never survive a
// restart, so any record persisted as online is demoted to offline.
func (r *Registry) Load(ctx context.Context) error {
	entries, err := r.kv.Scan(ctx, keyPrefix)
	if err != nil {
		return fmt.Errorf("registry load: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, kvEntry := range entries {
		var rec models.ConnectionRecord
		if err := json.Unmarshal(kvEntry.Value, &rec); err != nil {
			r.logger.Warn().Str("key", kvEntry.Key).Err(err).Msg("skipping corrupt record")
			continue
		}
		if rec.Status == models.StatusOnline {
			rec.Status = models.StatusOffline
		}
		r.records[rec.DID] = &entry{rec: rec}
	}

	r.logger.Info().Int("records", len(r.records)).Msg("registry loaded")
	return nil
}

// entryFor returns the entry for did, creating an offline record if this is
// the first time the DID is seen.
func (r *Registry) entryFor(did string) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.records[did]
	if !ok {
		e = &entry{rec: models.ConnectionRecord{DID: did, Status: models.StatusOffline}}
		r.records[did] = e
	}
	return e
}

// lookupEntry returns the entry for did without creating one.
func (r *Registry) lookupEntry(did string) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records[did]
}

func (r *Registry) persist(ctx context.Context, rec models.ConnectionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.kv.Put(ctx, keyPrefix+rec.DID, data)
}

// Register creates or updates the record for did, setting the advertised
// endpoint with its expiry. Registration alone does not imply liveness:
// the record stays (or becomes) offline. Idempotent.
func (r *Registry) Register(ctx context.Context, did, endpoint string, ttlSeconds int64) (models.ConnectionRecord, error) {
	e := r.entryFor(did)
	e.mu.Lock()
	defer e.mu.Unlock()

	updated := e.rec
	updated.Endpoint = endpoint
	if endpoint != "" {
		updated.EndpointExpires = time.Now().Add(time.Duration(ttlSeconds) * time.Second)
	} else {
		updated.EndpointExpires = time.Time{}
	}

	if err := r.persist(ctx, updated); err != nil {
		return models.ConnectionRecord{}, fmt.Errorf("registry register: %w", err)
	}
	e.rec = updated
	return updated, nil
}

// Deregister clears the advertised endpoint for did. Returns false if the
// DID was never seen. The record itself persists so a later Lookup degrades
// to offline rather than unknown.
func (r *Registry) Deregister(ctx context.Context, did string) (bool, error) {
	e := r.lookupEntry(did)
	if e == nil {
		return false, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	updated := e.rec
	updated.Endpoint = ""
	updated.EndpointExpires = time.Time{}

	if err := r.persist(ctx, updated); err != nil {
		return false, fmt.Errorf("registry deregister: %w", err)
	}
	e.rec = updated
	return true, nil
}

// MarkOnline records a session becoming active for did. Called only by the
// session manager on handshake completion.
func (r *Registry) MarkOnline(ctx context.Context, did string) error {
	e := r.entryFor(did)
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	updated := e.rec
	updated.Status = models.StatusOnline
	updated.ConnectedAt = now
	updated.LastSeen = now

	if err := r.persist(ctx, updated); err != nil {
		return fmt.Errorf("registry mark online: %w", err)
	}
	e.rec = updated
	return nil
}

// MarkOffline records the session for did ending. Called only by the
// session manager on disconnect.
func (r *Registry) MarkOffline(ctx context.Context, did string) error {
	e := r.entryFor(did)
	e.mu.Lock()
	defer e.mu.Unlock()

	updated := e.rec
	updated.Status = models.StatusOffline
	updated.LastSeen = time.Now()

	if err := r.persist(ctx, updated); err != nil {
		return fmt.Errorf("registry mark offline: %w", err)
	}
	e.rec = updated
	return nil
}

// Touch refreshes LastSeen for did on heartbeat or inbound traffic.
// Memory-only: heartbeats are too frequent to hit the store, and LastSeen
// is persisted on every status transition anyway.
func (r *Registry) Touch(did string) {
	e := r.lookupEntry(did)
	if e == nil {
		return
	}
	e.mu.Lock()
	e.rec.LastSeen = time.Now()
	e.mu.Unlock()
}

// Lookup returns a snapshot of the record for did. Never fails: a DID with
// no record yields a StatusUnknown snapshot.
func (r *Registry) Lookup(did string) models.ConnectionRecord {
	e := r.lookupEntry(did)
	if e == nil {
		return models.ConnectionRecord{DID: did, Status: models.StatusUnknown}
	}

	e.mu.Lock()
	snapshot := e.rec
	e.mu.Unlock()
	return snapshot
}

// Counts returns the number of known and currently-online DIDs.
func (r *Registry) Counts() (total, online int) {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.records))
	for _, e := range r.records {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	for _, e := range entries {
		e.mu.Lock()
		if e.rec.Status == models.StatusOnline {
			online++
		}
		e.mu.Unlock()
	}
	return len(entries), online
}

// ValidDID rejects obviously malformed identifiers before they reach the
// verifier or become store keys.
func ValidDID(did string) bool {
	return strings.HasPrefix(did, "did:key:") && len(did) < 256 && !strings.ContainsAny(did, " \t\n/")
}

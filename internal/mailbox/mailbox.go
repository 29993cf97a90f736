// Package mailbox implements the per-DID queue of undelivered messages.
//
// Every message passes through the in-flight ledger: an entry handed to a
// session is flagged in-flight but keeps its position, and is removed only
// on explicit delivery acknowledgment. If the session dies first, Revert
// clears the flags and the next drain re-delivers from the original
// position. This is the relay's at-least-once delivery mechanism.
package mailbox

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/AustinEral/agent-reach/internal/metrics"
	"github.com/AustinEral/agent-reach/internal/models"
	"github.com/AustinEral/agent-reach/internal/store"
)

// DefaultTTL is how long an undelivered message is retained.
const DefaultTTL = 7 * 24 * time.Hour

const keyPrefix = "mail:"

// Mailbox stores undelivered messages per recipient DID, ordered by
// insertion, bounded by TTL and an optional depth cap (oldest evicted).
type Mailbox struct {
	kv       store.KV
	logger   zerolog.Logger
	ttl      time.Duration
	maxDepth int // 0 = unbounded

	mu    sync.Mutex // guards the boxes map, not the boxes themselves
	boxes map[string]*box
}

type box struct {
	mu    sync.Mutex
	slots []*slot
}

type slot struct {
	msg      models.Message
	inflight bool
}

// New creates a Mailbox backed by kv. ttl <= 0 selects DefaultTTL;
// maxDepth <= 0 leaves mailboxes unbounded.
func New(kv store.KV, logger zerolog.Logger, ttl time.Duration, maxDepth int) *Mailbox {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Mailbox{
		kv:       kv,
		logger:   logger.With().Str("component", "mailbox").Logger(),
		ttl:      ttl,
		maxDepth: maxDepth,
		boxes:    make(map[string]*box),
	}
}

// entryKey builds the KV key for a queued message. DIDs contain ':' but
// never '/', so '/' separates the recipient from the ULID. ULIDs sort by
// creation time, so a prefix scan rebuilds each mailbox in insertion order.
func entryKey(did, id string) string {
	return keyPrefix + did + "/" + id
}

// Load rebuilds all mailboxes from the KV store at startup.
func (m *Mailbox) Load(ctx context.Context) error {
	entries, err := m.kv.Scan(ctx, keyPrefix)
	if err != nil {
		return fmt.Errorf("mailbox load: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	total := 0
	for _, kvEntry := range entries {
		rest := strings.TrimPrefix(kvEntry.Key, keyPrefix)
		sep := strings.LastIndex(rest, "/")
		if sep < 0 {
			continue
		}
		did := rest[:sep]

		var msg models.Message
		if err := json.Unmarshal(kvEntry.Value, &msg); err != nil {
			m.logger.Warn().Str("key", kvEntry.Key).Err(err).Msg("skipping corrupt mailbox entry")
			continue
		}

		b, ok := m.boxes[did]
		if !ok {
			b = &box{}
			m.boxes[did] = b
		}
		b.slots = append(b.slots, &slot{msg: msg})
		total++
	}

	metrics.MailboxDepth.Set(float64(total))
	m.logger.Info().Int("messages", total).Int("mailboxes", len(m.boxes)).Msg("mailbox loaded")
	return nil
}

func (m *Mailbox) boxFor(did string) *box {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.boxes[did]
	if !ok {
		b = &box{}
		m.boxes[did] = b
	}
	return b
}

// Enqueue stamps msg with a ULID and absolute expiry and appends it to the
// recipient's mailbox. A mailbox exists implicitly for any DID; the
// recipient does not need to be registered. Safe to retry: a retried call
// enqueues a fresh entry, and the sender-side message ID it returns is the
// handle delivery is acknowledged against.
func (m *Mailbox) Enqueue(ctx context.Context, msg models.Message) (models.Message, error) {
	now := time.Now()
	msg.ID = ulid.Make().String()
	msg.EnqueuedAt = now
	msg.ExpiresAt = now.Add(m.ttl)

	data, err := json.Marshal(&msg)
	if err != nil {
		return models.Message{}, err
	}

	b := m.boxFor(msg.To)
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := m.kv.Put(ctx, entryKey(msg.To, msg.ID), data); err != nil {
		return models.Message{}, fmt.Errorf("mailbox enqueue: %w", err)
	}

	// Only once the new entry is durable; a failed Put must not cost an
	// existing message its place.
	if m.maxDepth > 0 && len(b.slots) >= m.maxDepth {
		m.evictOldestLocked(ctx, msg.To, b)
	}

	b.slots = append(b.slots, &slot{msg: msg})
	metrics.MailboxDepth.Inc()
	return msg, nil
}

// evictOldestLocked drops the oldest non-in-flight entry to make room.
// In-flight entries are owned by a live delivery attempt and must stay able
// to revert, so they are skipped; if every entry is in flight the new
// message is admitted over the cap.
func (m *Mailbox) evictOldestLocked(ctx context.Context, did string, b *box) {
	for i, s := range b.slots {
		if s.inflight {
			continue
		}
		if err := m.kv.Delete(ctx, entryKey(did, s.msg.ID)); err != nil {
			m.logger.Warn().Str("did", did).Str("id", s.msg.ID).Err(err).Msg("evict delete failed")
			return
		}
		b.slots = append(b.slots[:i], b.slots[i+1:]...)
		metrics.MailboxDepth.Dec()
		metrics.MessagesEvicted.Inc()
		m.logger.Debug().Str("did", did).Str("id", s.msg.ID).Msg("evicted oldest message at depth cap")
		return
	}
}

// Next is the drain cursor: it hands out the oldest queued, unexpired
// message for did and marks it in-flight. Repeated calls walk the mailbox
// in insertion order. Returns false when nothing is deliverable. Expired
// entries encountered on the way are pruned lazily.
func (m *Mailbox) Next(did string) (models.Message, bool) {
	b := m.boxFor(did)
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	for i := 0; i < len(b.slots); {
		s := b.slots[i]
		if s.inflight {
			i++
			continue
		}
		if s.msg.Expired(now) {
			b.slots = append(b.slots[:i], b.slots[i+1:]...)
			m.deleteEntry(did, s.msg.ID)
			metrics.MailboxDepth.Dec()
			metrics.MessagesSwept.Inc()
			continue
		}
		s.inflight = true
		return s.msg, true
	}
	return models.Message{}, false
}

// Ack confirms delivery of an in-flight message and removes it for good.
// Unknown IDs are ignored: the entry may already have expired between
// hand-off and confirmation.
func (m *Mailbox) Ack(ctx context.Context, did, id string) error {
	b := m.boxFor(did)
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.slots {
		if s.msg.ID != id {
			continue
		}
		if err := m.kv.Delete(ctx, entryKey(did, id)); err != nil {
			// Entry stays in-flight; a later revert re-delivers, which is
			// the at-least-once contract.
			return fmt.Errorf("mailbox ack: %w", err)
		}
		b.slots = append(b.slots[:i], b.slots[i+1:]...)
		metrics.MailboxDepth.Dec()
		return nil
	}
	return nil
}

// Revert returns every in-flight message for did to the queued state, at
// its original position. Called when a session closes before confirming.
func (m *Mailbox) Revert(did string) int {
	b := m.boxFor(did)
	b.mu.Lock()
	defer b.mu.Unlock()

	reverted := 0
	for _, s := range b.slots {
		if s.inflight {
			s.inflight = false
			reverted++
		}
	}
	return reverted
}

// Depth returns the number of messages currently held for did, in-flight
// included.
func (m *Mailbox) Depth(did string) int {
	b := m.boxFor(did)
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.slots)
}

// Totals returns the queued message count and mailbox count.
func (m *Mailbox) Totals() (messages, mailboxes int) {
	m.mu.Lock()
	boxes := make([]*box, 0, len(m.boxes))
	for _, b := range m.boxes {
		boxes = append(boxes, b)
	}
	m.mu.Unlock()

	for _, b := range boxes {
		b.mu.Lock()
		if n := len(b.slots); n > 0 {
			messages += n
			mailboxes++
		}
		b.mu.Unlock()
	}
	return messages, mailboxes
}

// SweepExpired removes every expired non-in-flight message. Locking is per
// mailbox, so enqueue and drain traffic on other DIDs is never blocked.
func (m *Mailbox) SweepExpired(ctx context.Context) int {
	m.mu.Lock()
	dids := make([]string, 0, len(m.boxes))
	for did := range m.boxes {
		dids = append(dids, did)
	}
	m.mu.Unlock()

	now := time.Now()
	swept := 0
	for _, did := range dids {
		b := m.boxFor(did)
		b.mu.Lock()
		for i := 0; i < len(b.slots); {
			s := b.slots[i]
			if s.inflight || !s.msg.Expired(now) {
				i++
				continue
			}
			if err := m.kv.Delete(ctx, entryKey(did, s.msg.ID)); err != nil {
				m.logger.Warn().Str("did", did).Str("id", s.msg.ID).Err(err).Msg("sweep delete failed")
				i++
				continue
			}
			b.slots = append(b.slots[:i], b.slots[i+1:]...)
			metrics.MailboxDepth.Dec()
			metrics.MessagesSwept.Inc()
			swept++
		}
		b.mu.Unlock()
	}
	return swept
}

// StartSweeper runs SweepExpired on a ticker until ctx is cancelled.
func (m *Mailbox) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if swept := m.SweepExpired(ctx); swept > 0 {
					m.logger.Info().Int("swept", swept).Msg("expired messages removed")
				}
			}
		}
	}()
}

// deleteEntry removes a KV entry outside a request context (lazy pruning
// inside Next has no caller context to borrow).
func (m *Mailbox) deleteEntry(did, id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.kv.Delete(ctx, entryKey(did, id)); err != nil {
		m.logger.Warn().Str("did", did).Str("id", id).Err(err).Msg("lazy prune delete failed")
	}
}

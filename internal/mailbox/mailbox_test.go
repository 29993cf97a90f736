package mailbox

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/AustinEral/agent-reach/internal/models"
	"github.com/AustinEral/agent-reach/internal/store"
)

const recipient = "did:key:z6MkRecipient"

func newTestMailbox(t *testing.T, ttl time.Duration, maxDepth int) (*Mailbox, *store.MemoryStore) {
	t.Helper()
	kv := store.NewMemoryStore()
	m := New(kv, zerolog.Nop(), ttl, maxDepth)
	if err := m.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	return m, kv
}

func enqueueN(t *testing.T, m *Mailbox, n int) []models.Message {
	t.Helper()
	out := make([]models.Message, 0, n)
	for i := 0; i < n; i++ {
		msg, err := m.Enqueue(context.Background(), models.Message{
			From:    "did:key:z6MkSender",
			To:      recipient,
			Payload: []byte(fmt.Sprintf("message %d", i)),
		})
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, msg)
	}
	return out
}

func TestDrainPreservesInsertionOrder(t *testing.T) {
	m, _ := newTestMailbox(t, 0, 0)
	sent := enqueueN(t, m, 5)

	for i, want := range sent {
		got, ok := m.Next(recipient)
		if !ok {
			t.Fatalf("Next returned nothing at position %d", i)
		}
		if got.ID != want.ID {
			t.Fatalf("position %d: got %s, want %s", i, got.ID, want.ID)
		}
		if err := m.Ack(context.Background(), recipient, got.ID); err != nil {
			t.Fatal(err)
		}
	}

	if _, ok := m.Next(recipient); ok {
		t.Fatal("drained mailbox still yields messages")
	}
	if d := m.Depth(recipient); d != 0 {
		t.Fatalf("depth %d after full drain, want 0", d)
	}
}

func TestExpiredMessagesExcluded(t *testing.T) {
	m, _ := newTestMailbox(t, time.Second, 0)
	enqueueN(t, m, 1)

	time.Sleep(1100 * time.Millisecond)

	if _, ok := m.Next(recipient); ok {
		t.Fatal("expired message handed out")
	}
	if d := m.Depth(recipient); d != 0 {
		t.Fatalf("depth %d after lazy prune, want 0", d)
	}
}

func TestRevertRestoresWithoutLossOrDuplication(t *testing.T) {
	m, _ := newTestMailbox(t, 0, 0)
	sent := enqueueN(t, m, 3)
	ctx := context.Background()

	// Take the first two in-flight, ack only the first
	first, _ := m.Next(recipient)
	second, _ := m.Next(recipient)
	if first.ID != sent[0].ID || second.ID != sent[1].ID {
		t.Fatal("drain order broken before revert")
	}
	if err := m.Ack(ctx, recipient, first.ID); err != nil {
		t.Fatal(err)
	}

	if n := m.Revert(recipient); n != 1 {
		t.Fatalf("reverted %d messages, want 1", n)
	}

	// The unacked message comes back at its original position, exactly once
	want := []string{sent[1].ID, sent[2].ID}
	for i, id := range want {
		got, ok := m.Next(recipient)
		if !ok {
			t.Fatalf("Next returned nothing at position %d after revert", i)
		}
		if got.ID != id {
			t.Fatalf("position %d after revert: got %s, want %s", i, got.ID, id)
		}
		m.Ack(ctx, recipient, got.ID)
	}
	if _, ok := m.Next(recipient); ok {
		t.Fatal("revert duplicated a message")
	}
}

func TestInFlightNotHandedOutTwice(t *testing.T) {
	m, _ := newTestMailbox(t, 0, 0)
	enqueueN(t, m, 1)

	first, ok := m.Next(recipient)
	if !ok {
		t.Fatal("expected a message")
	}
	if again, ok := m.Next(recipient); ok {
		t.Fatalf("in-flight message %s handed out again as %s", first.ID, again.ID)
	}
}

func TestAckUnknownIDIsNoop(t *testing.T) {
	m, _ := newTestMailbox(t, 0, 0)
	enqueueN(t, m, 1)

	if err := m.Ack(context.Background(), recipient, "01UNKNOWNULID"); err != nil {
		t.Fatalf("ack of unknown id errored: %v", err)
	}
	if d := m.Depth(recipient); d != 1 {
		t.Fatalf("ack of unknown id changed depth to %d", d)
	}
}

func TestDepthCapEvictsOldest(t *testing.T) {
	m, _ := newTestMailbox(t, 0, 3)
	sent := enqueueN(t, m, 4)

	if d := m.Depth(recipient); d != 3 {
		t.Fatalf("depth %d with cap 3, want 3", d)
	}

	// Oldest is gone; the rest drain in order
	want := []string{sent[1].ID, sent[2].ID, sent[3].ID}
	for i, id := range want {
		got, ok := m.Next(recipient)
		if !ok {
			t.Fatalf("Next returned nothing at position %d", i)
		}
		if got.ID != id {
			t.Fatalf("position %d: got %s, want %s", i, got.ID, id)
		}
		m.Ack(context.Background(), recipient, got.ID)
	}
}

func TestDepthCapSkipsInFlight(t *testing.T) {
	m, _ := newTestMailbox(t, 0, 2)
	sent := enqueueN(t, m, 2)

	// Oldest is mid-delivery; the cap must evict the second message instead
	first, _ := m.Next(recipient)
	if first.ID != sent[0].ID {
		t.Fatal("unexpected drain order")
	}

	third, err := m.Enqueue(context.Background(), models.Message{
		From: "did:key:z6MkSender", To: recipient, Payload: []byte("third"),
	})
	if err != nil {
		t.Fatal(err)
	}

	m.Revert(recipient)
	want := []string{sent[0].ID, third.ID}
	for i, id := range want {
		got, ok := m.Next(recipient)
		if !ok {
			t.Fatalf("Next returned nothing at position %d", i)
		}
		if got.ID != id {
			t.Fatalf("position %d: got %s, want %s", i, got.ID, id)
		}
		m.Ack(context.Background(), recipient, got.ID)
	}
}

// failingPutKV refuses writes on demand, simulating a store outage.
type failingPutKV struct {
	*store.MemoryStore
	fail bool
}

func (f *failingPutKV) Put(ctx context.Context, key string, value []byte) error {
	if f.fail {
		return errors.New("store down")
	}
	return f.MemoryStore.Put(ctx, key, value)
}

func TestEnqueueFailureEvictsNothing(t *testing.T) {
	kv := &failingPutKV{MemoryStore: store.NewMemoryStore()}
	m := New(kv, zerolog.Nop(), 0, 2)
	if err := m.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	sent := enqueueN(t, m, 2)

	// A rejected enqueue at the depth cap must not cost an existing
	// message its place
	kv.fail = true
	if _, err := m.Enqueue(context.Background(), models.Message{
		From: "did:key:z6MkSender", To: recipient, Payload: []byte("lost"),
	}); err == nil {
		t.Fatal("enqueue succeeded against a failing store")
	}
	kv.fail = false

	if d := m.Depth(recipient); d != 2 {
		t.Fatalf("depth %d after failed enqueue, want 2", d)
	}
	for i, want := range sent {
		got, ok := m.Next(recipient)
		if !ok {
			t.Fatalf("Next returned nothing at position %d", i)
		}
		if got.ID != want.ID {
			t.Fatalf("position %d: got %s, want %s", i, got.ID, want.ID)
		}
		m.Ack(context.Background(), recipient, got.ID)
	}
}

func TestSweepExpired(t *testing.T) {
	m, kv := newTestMailbox(t, time.Second, 0)
	enqueueN(t, m, 2)

	// One message is in-flight and must survive the sweep
	inflight, ok := m.Next(recipient)
	if !ok {
		t.Fatal("expected a message")
	}

	time.Sleep(1100 * time.Millisecond)

	if swept := m.SweepExpired(context.Background()); swept != 1 {
		t.Fatalf("swept %d messages, want 1", swept)
	}
	if d := m.Depth(recipient); d != 1 {
		t.Fatalf("depth %d after sweep, want 1 (in-flight retained)", d)
	}

	// The surviving entry is the in-flight one, still in the store
	if _, err := kv.Get(context.Background(), "mail:"+recipient+"/"+inflight.ID); err != nil {
		t.Fatalf("in-flight entry missing from store after sweep: %v", err)
	}
}

func TestLoadRebuildsInOrder(t *testing.T) {
	kv := store.NewMemoryStore()
	ctx := context.Background()

	first := New(kv, zerolog.Nop(), 0, 0)
	if err := first.Load(ctx); err != nil {
		t.Fatal(err)
	}
	var sent []models.Message
	for i := 0; i < 3; i++ {
		msg, err := first.Enqueue(ctx, models.Message{
			From: "did:key:z6MkSender", To: recipient,
			Payload: []byte(fmt.Sprintf("message %d", i)),
		})
		if err != nil {
			t.Fatal(err)
		}
		sent = append(sent, msg)
	}

	// Simulate a restart against the same store
	second := New(kv, zerolog.Nop(), 0, 0)
	if err := second.Load(ctx); err != nil {
		t.Fatal(err)
	}

	if d := second.Depth(recipient); d != 3 {
		t.Fatalf("depth %d after reload, want 3", d)
	}
	for i, want := range sent {
		got, ok := second.Next(recipient)
		if !ok {
			t.Fatalf("Next returned nothing at position %d after reload", i)
		}
		if got.ID != want.ID {
			t.Fatalf("position %d after reload: got %s, want %s", i, got.ID, want.ID)
		}
		second.Ack(ctx, recipient, got.ID)
	}
}

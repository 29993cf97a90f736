package router

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/AustinEral/agent-reach/internal/identity"
	"github.com/AustinEral/agent-reach/internal/mailbox"
	"github.com/AustinEral/agent-reach/internal/models"
	"github.com/AustinEral/agent-reach/internal/registry"
	"github.com/AustinEral/agent-reach/internal/session"
	"github.com/AustinEral/agent-reach/internal/store"
)

type fixture struct {
	router   *Router
	registry *registry.Registry
	mailbox  *mailbox.Mailbox
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	kv := store.NewMemoryStore()
	logger := zerolog.Nop()

	reg := registry.New(kv, logger)
	if err := reg.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	mbox := mailbox.New(kv, logger, 0, 0)
	if err := mbox.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	sessions := session.NewManager(reg, mbox, logger, time.Second)

	return &fixture{
		router:   New(reg, mbox, sessions, logger, 100*time.Millisecond),
		registry: reg,
		mailbox:  mbox,
	}
}

func generateTestKeypair(t *testing.T) (ed25519.PrivateKey, string) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	return priv, identity.FromPublicKey(pub)
}

func signSend(priv ed25519.PrivateKey, from, to string, payload []byte, ts int64) string {
	return base64.StdEncoding.EncodeToString(ed25519.Sign(priv, identity.SendPayload(from, to, payload, ts)))
}

func TestSendQueuesForOfflineRecipient(t *testing.T) {
	f := newFixture(t)
	priv, from := generateTestKeypair(t)
	_, to := generateTestKeypair(t)

	payload := []byte(`{"hello":"world"}`)
	ts := time.Now().UnixMilli()

	out, err := f.router.Send(context.Background(), from, to, payload, "application/json", ts, signSend(priv, from, to, payload, ts))
	if err != nil {
		t.Fatal(err)
	}
	if !out.Queued || out.Delivered {
		t.Fatalf("outcome = %+v, want queued", out)
	}
	if out.Message.ID == "" {
		t.Fatal("queued message has no ID")
	}
	if d := f.mailbox.Depth(to); d != 1 {
		t.Fatalf("mailbox depth %d, want 1", d)
	}
}

func TestSendToUnregisteredRecipientAccepted(t *testing.T) {
	f := newFixture(t)
	priv, from := generateTestKeypair(t)
	_, to := generateTestKeypair(t)

	// Recipient never registered; the relay still holds mail for it
	if f.registry.Lookup(to).Status != models.StatusUnknown {
		t.Fatal("precondition: recipient should be unknown")
	}

	payload := []byte("hold this")
	ts := time.Now().UnixMilli()
	out, err := f.router.Send(context.Background(), from, to, payload, "text/plain", ts, signSend(priv, from, to, payload, ts))
	if err != nil {
		t.Fatal(err)
	}
	if !out.Queued {
		t.Fatalf("outcome = %+v, want queued", out)
	}
}

func TestFailedAuthenticationMutatesNothing(t *testing.T) {
	f := newFixture(t)
	priv, from := generateTestKeypair(t)
	otherPriv, _ := generateTestKeypair(t)
	_, to := generateTestKeypair(t)

	payload := []byte("forged")
	ts := time.Now().UnixMilli()

	cases := []struct {
		name      string
		from, to  string
		ts        int64
		signature string
	}{
		{"wrong key", from, to, ts, signSend(otherPriv, from, to, payload, ts)},
		{"tampered recipient", from, to, ts, signSend(priv, from, "did:key:zSomeoneElse", payload, ts)},
		{"stale timestamp", from, to, ts - 60_000, signSend(priv, from, to, payload, ts-60_000)},
		{"future timestamp", from, to, ts + 60_000, signSend(priv, from, to, payload, ts+60_000)},
		{"malformed sender", "did:key:not base58", to, ts, "AAAA"},
		{"malformed recipient", from, "nonsense", ts, signSend(priv, from, "nonsense", payload, ts)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.router.Send(context.Background(), tc.from, tc.to, payload, "text/plain", tc.ts, tc.signature)
			if !errors.Is(err, ErrAuthentication) {
				t.Fatalf("expected ErrAuthentication, got %v", err)
			}
		})
	}

	// No mailbox entries, no registry records
	if d := f.mailbox.Depth(to); d != 0 {
		t.Fatalf("mailbox depth %d after rejected sends, want 0", d)
	}
	if total, _ := f.registry.Counts(); total != 0 {
		t.Fatalf("registry has %d records after rejected sends, want 0", total)
	}
	if messages, _ := f.mailbox.Totals(); messages != 0 {
		t.Fatalf("mailbox holds %d messages after rejected sends, want 0", messages)
	}
}

func TestSendFallsBackToQueuedWhenNoAck(t *testing.T) {
	f := newFixture(t)
	priv, from := generateTestKeypair(t)
	_, to := generateTestKeypair(t)

	// Recipient is marked online but has no real session to acknowledge,
	// so the push wait elapses and the send reports queued.
	if err := f.registry.MarkOnline(context.Background(), to); err != nil {
		t.Fatal(err)
	}

	payload := []byte("no one listening")
	ts := time.Now().UnixMilli()
	start := time.Now()
	out, err := f.router.Send(context.Background(), from, to, payload, "text/plain", ts, signSend(priv, from, to, payload, ts))
	if err != nil {
		t.Fatal(err)
	}
	if !out.Queued || out.Delivered {
		t.Fatalf("outcome = %+v, want queued", out)
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Fatalf("send returned after %v, should have waited out the push window", elapsed)
	}
	if d := f.mailbox.Depth(to); d != 1 {
		t.Fatalf("mailbox depth %d, want 1", d)
	}
}

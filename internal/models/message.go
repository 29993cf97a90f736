package models

import "time"

// Message is a signed, immutable payload relayed from one DID to another.
// It is owned by the mailbox while queued; ownership moves to the delivery
// channel when pushed and the stored copy is removed only on an explicit
// delivery acknowledgment.
type Message struct {
	ID          string    `json:"id"`           // ULID, assigned at enqueue
	From        string    `json:"from"`         // sender DID
	To          string    `json:"to"`           // recipient DID
	Payload     []byte    `json:"payload"`      // opaque bytes (base64 in JSON)
	ContentType string    `json:"ct,omitempty"` // declared by the sender
	Signature   string    `json:"sig"`          // base64, over the send payload
	Timestamp   int64     `json:"ts"`           // sender clock, unix ms, covered by sig
	EnqueuedAt  time.Time `json:"enqueued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Expired reports whether the message's TTL has elapsed.
func (m *Message) Expired(now time.Time) bool {
	return now.After(m.ExpiresAt)
}

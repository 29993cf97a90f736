// Package router implements the send path: verify the sender's signature,
// look the recipient up, and either push over a live session or leave the
// message queued.
package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/AustinEral/agent-reach/internal/identity"
	"github.com/AustinEral/agent-reach/internal/mailbox"
	"github.com/AustinEral/agent-reach/internal/metrics"
	"github.com/AustinEral/agent-reach/internal/models"
	"github.com/AustinEral/agent-reach/internal/registry"
	"github.com/AustinEral/agent-reach/internal/session"
)

// ErrAuthentication covers every verification failure on the send path:
// malformed DIDs, unresolvable keys, signature mismatches, and stale
// timestamps. Terminal for the request; the relay never retries it.
var ErrAuthentication = errors.New("authentication failed")

const replayWindow = 30 * time.Second

// Outcome is the caller-facing result of a send: exactly one of Delivered
// or Queued is set.
type Outcome struct {
	Delivered bool
	Queued    bool
	Message   models.Message
}

// Router decides push-vs-queue for outbound messages.
type Router struct {
	registry *registry.Registry
	mailbox  *mailbox.Mailbox
	sessions *session.Manager
	logger   zerolog.Logger
	pushWait time.Duration
}

// New creates a Router. pushWait bounds how long a send blocks waiting for
// a live recipient to acknowledge before reporting queued.
func New(reg *registry.Registry, mbox *mailbox.Mailbox, sessions *session.Manager, logger zerolog.Logger, pushWait time.Duration) *Router {
	if pushWait <= 0 {
		pushWait = 2 * time.Second
	}
	return &Router{
		registry: reg,
		mailbox:  mbox,
		sessions: sessions,
		logger:   logger.With().Str("component", "router").Logger(),
		pushWait: pushWait,
	}
}

// Send verifies and routes one message. No state changes before the
// signature checks pass. Every message, live recipient or not, goes through
// the mailbox's in-flight ledger, so a connection dropping mid-push can
// never lose it; "delivered" means the recipient acknowledged within the
// synchronous window.
func (rt *Router) Send(ctx context.Context, from, to string, payload []byte, contentType string, timestampMs int64, signature string) (Outcome, error) {
	if !registry.ValidDID(from) || !registry.ValidDID(to) {
		metrics.Sends.WithLabelValues("rejected").Inc()
		return Outcome{}, fmt.Errorf("%w: %s", ErrAuthentication, identity.ErrInvalidDID)
	}
	if err := identity.CheckTimestamp(timestampMs, replayWindow); err != nil {
		metrics.Sends.WithLabelValues("rejected").Inc()
		return Outcome{}, fmt.Errorf("%w: %s", ErrAuthentication, err)
	}
	if err := identity.Verify(from, identity.SendPayload(from, to, payload, timestampMs), signature); err != nil {
		metrics.Sends.WithLabelValues("rejected").Inc()
		return Outcome{}, fmt.Errorf("%w: %s", ErrAuthentication, err)
	}

	msg := models.Message{
		From:        from,
		To:          to,
		Payload:     payload,
		ContentType: contentType,
		Signature:   signature,
		Timestamp:   timestampMs,
	}

	queued, err := rt.mailbox.Enqueue(ctx, msg)
	if err != nil {
		return Outcome{}, err
	}

	if rt.registry.Lookup(to).Status == models.StatusOnline {
		confirmed, cancel := rt.sessions.AwaitDelivery(queued.ID)
		defer cancel()

		rt.sessions.Nudge(to)

		select {
		case <-confirmed:
			metrics.Sends.WithLabelValues("delivered").Inc()
			rt.logger.Debug().Str("to", to).Str("id", queued.ID).Msg("delivered live")
			return Outcome{Delivered: true, Message: queued}, nil
		case <-time.After(rt.pushWait):
			// Recipient went silent; the message stays queued/in-flight and
			// the session's own failure handling takes it from here.
		case <-ctx.Done():
		}
	}

	metrics.Sends.WithLabelValues("queued").Inc()
	rt.logger.Debug().Str("to", to).Str("id", queued.ID).Msg("queued")
	return Outcome{Queued: true, Message: queued}, nil
}

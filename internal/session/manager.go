// Package session owns the set of live agent connections: handshake,
// supersession, heartbeat liveness, and mailbox drain. Sessions hold their
// DID and references to the registry and mailbox; neither ever holds a
// connection handle back, so "is this DID online" is answered by the
// manager's own session table.
package session

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/AustinEral/agent-reach/internal/identity"
	"github.com/AustinEral/agent-reach/internal/mailbox"
	"github.com/AustinEral/agent-reach/internal/metrics"
	"github.com/AustinEral/agent-reach/internal/registry"
)

// errInvalidHello covers handshake frames that are not a well-formed hello.
// Identity failures (bad DID, bad signature, stale timestamp) keep their own
// errors from the identity package.
var errInvalidHello = errors.New("invalid hello frame")

const (
	handshakeTimeout = 10 * time.Second
	replayWindow     = 30 * time.Second
	minNonceLength   = 24

	// A session is considered dead after this many silent heartbeat
	// intervals.
	livenessMultiplier = 3
)

// Manager multiplexes all live agent connections, at most one per DID.
type Manager struct {
	registry  *registry.Registry
	mailbox   *mailbox.Mailbox
	logger    zerolog.Logger
	heartbeat time.Duration
	upgrader  websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*Session

	waitMu  sync.Mutex
	waiters map[string]chan struct{}
}

// NewManager creates a session manager. heartbeat is the interval clients
// are expected to signal liveness at.
func NewManager(reg *registry.Registry, mbox *mailbox.Mailbox, logger zerolog.Logger, heartbeat time.Duration) *Manager {
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	return &Manager{
		registry:  reg,
		mailbox:   mbox,
		logger:    logger.With().Str("component", "session").Logger(),
		heartbeat: heartbeat,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Agents connect from anywhere; auth is the signed hello.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		sessions: make(map[string]*Session),
		waiters:  make(map[string]chan struct{}),
	}
}

// HandleConnection upgrades the request to a websocket and runs the
// connection until it closes. The first client frame must be a signed
// hello; verification failure rejects the connection with no state change.
func (m *Manager) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	m.serve(conn)
}

func (m *Manager) serve(conn *websocket.Conn) {
	defer conn.Close()

	hello, err := m.readHello(conn)
	if err != nil {
		metrics.HandshakeFailures.Inc()
		m.logger.Info().Err(err).Msg("handshake rejected")
		writeRejection(conn, err.Error())
		return
	}

	s := newSession(m, hello.DID, conn)

	// Supersession: exactly one session may be online per DID. The map
	// swap is atomic under the manager lock; the superseded session's
	// teardown sees it is no longer current and leaves the registry alone.
	m.mu.Lock()
	old := m.sessions[s.DID]
	m.sessions[s.DID] = s
	m.mu.Unlock()

	if old != nil {
		metrics.Supersessions.Inc()
		m.logger.Info().Str("did", s.DID).Msg("superseding existing session")
		old.close("superseded by newer connection")
	} else {
		metrics.ActiveSessions.Inc()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = m.registry.MarkOnline(ctx, s.DID)
	cancel()
	if err != nil {
		m.logger.Error().Str("did", s.DID).Err(err).Msg("mark online failed")
		s.close("registry unavailable")
		return
	}

	if err := s.writeFrame(Frame{Type: FrameWelcome, DID: s.DID}); err != nil {
		s.close("welcome write failed")
		return
	}

	m.logger.Info().Str("did", s.DID).Msg("session online")

	go s.writePump()
	s.readPump()
}

// readHello reads and authenticates the handshake frame.
func (m *Manager) readHello(conn *websocket.Conn) (Frame, error) {
	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))

	var f Frame
	if err := conn.ReadJSON(&f); err != nil {
		return Frame{}, errInvalidHello
	}
	if f.Type != FrameHello {
		return Frame{}, errInvalidHello
	}
	if !registry.ValidDID(f.DID) {
		return Frame{}, identity.ErrInvalidDID
	}
	if len(f.Nonce) < minNonceLength {
		return Frame{}, errInvalidHello
	}
	if err := identity.CheckTimestamp(f.Timestamp, replayWindow); err != nil {
		return Frame{}, err
	}
	if err := identity.Verify(f.DID, identity.HelloPayload(f.DID, f.Nonce, f.Timestamp), f.Signature); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// detach removes s from the session table if it is still the current
// session for its DID. Returns whether it was current.
func (m *Manager) detach(s *Session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sessions[s.DID] == s {
		delete(m.sessions, s.DID)
		return true
	}
	return false
}

// Nudge wakes the delivery pump for did, if a session is open. Returns
// whether a session existed.
func (m *Manager) Nudge(did string) bool {
	m.mu.Lock()
	s := m.sessions[did]
	m.mu.Unlock()

	if s == nil {
		return false
	}
	select {
	case s.nudge <- struct{}{}:
	default: // pump already scheduled
	}
	return true
}

// Count returns the number of open sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close closes a specific DID's session, if any. Used by deregistration.
func (m *Manager) Close(did, reason string) {
	m.mu.Lock()
	s := m.sessions[did]
	m.mu.Unlock()

	if s != nil {
		s.close(reason)
	}
}

// CloseAll tears down every session; called on shutdown.
func (m *Manager) CloseAll(reason string) {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.close(reason)
	}
}

// AwaitDelivery registers interest in the delivery confirmation of a
// message. The returned channel closes when the recipient acknowledges;
// cancel must be called if the caller stops waiting.
func (m *Manager) AwaitDelivery(msgID string) (<-chan struct{}, func()) {
	ch := make(chan struct{})

	m.waitMu.Lock()
	m.waiters[msgID] = ch
	m.waitMu.Unlock()

	cancel := func() {
		m.waitMu.Lock()
		delete(m.waiters, msgID)
		m.waitMu.Unlock()
	}
	return ch, cancel
}

func (m *Manager) notifyDelivered(msgID string) {
	m.waitMu.Lock()
	if ch, ok := m.waiters[msgID]; ok {
		close(ch)
		delete(m.waiters, msgID)
	}
	m.waitMu.Unlock()
}

// writeRejection best-effort reports a handshake failure before closing.
func writeRejection(conn *websocket.Conn, reason string) {
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_ = conn.WriteJSON(Frame{Type: FrameError, Error: reason})
}

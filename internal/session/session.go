package session

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AustinEral/agent-reach/internal/metrics"
)

// Session is one live connection, bound to exactly one DID. It is owned by
// the Manager and destroyed on disconnect; the DID's ConnectionRecord
// outlives it.
type Session struct {
	DID       string
	CreatedAt time.Time

	mgr  *Manager
	conn *websocket.Conn

	writeMu sync.Mutex // gorilla allows one concurrent writer

	nudge chan struct{}
	acks  chan string
	done  chan struct{}

	closeOnce sync.Once
}

func newSession(m *Manager, did string, conn *websocket.Conn) *Session {
	return &Session{
		DID:       did,
		CreatedAt: time.Now(),
		mgr:       m,
		conn:      conn,
		nudge:     make(chan struct{}, 1),
		acks:      make(chan string, 16),
		done:      make(chan struct{}),
	}
}

func (s *Session) writeFrame(f Frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.conn.WriteJSON(f)
}

func (s *Session) writePing() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second))
}

// readPump consumes client frames until the connection dies. Every frame
// and pong refreshes the liveness deadline; silence past the deadline
// surfaces as a read error and ends the session.
func (s *Session) readPump() {
	liveness := s.mgr.heartbeat * livenessMultiplier
	s.conn.SetReadDeadline(time.Now().Add(liveness))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(liveness))
		s.mgr.registry.Touch(s.DID)
		return nil
	})

	for {
		var f Frame
		if err := s.conn.ReadJSON(&f); err != nil {
			s.close("connection lost")
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(liveness))

		switch f.Type {
		case FrameHeartbeat:
			s.mgr.registry.Touch(s.DID)
		case FrameAck:
			s.mgr.registry.Touch(s.DID)
			select {
			case s.acks <- f.ID:
			default: // pump is not waiting; stale ack
			}
		case FrameBye:
			s.close("client closed")
			return
		default:
			s.mgr.logger.Debug().Str("did", s.DID).Str("type", f.Type).Msg("ignoring unexpected frame")
		}
	}
}

// writePump drains the mailbox over the connection. Delivery is
// stop-and-wait: each message is handed out by the mailbox (becoming
// in-flight), written, and confirmed by the client's ack before the next
// one goes out. That keeps per-recipient order and makes the revert path
// trivial when the connection dies mid-push.
func (s *Session) writePump() {
	ping := time.NewTicker(s.mgr.heartbeat)
	defer ping.Stop()

	for {
		if !s.drain() {
			return
		}

		select {
		case <-s.nudge:
		case <-ping.C:
			if err := s.writePing(); err != nil {
				s.close("ping failed")
				return
			}
		case <-s.done:
			return
		}
	}
}

// drain pushes every deliverable message. Returns false if the session
// closed on the way.
func (s *Session) drain() bool {
	for {
		msg, ok := s.mgr.mailbox.Next(s.DID)
		if !ok {
			return true
		}

		frame := Frame{
			Type:        FrameMsg,
			ID:          msg.ID,
			From:        msg.From,
			Payload:     msg.Payload,
			ContentType: msg.ContentType,
			Timestamp:   msg.Timestamp,
			Signature:   msg.Signature,
		}
		if err := s.writeFrame(frame); err != nil {
			s.close("message write failed")
			s.releaseUndelivered()
			return false
		}

		if !s.awaitAck(msg.ID) {
			s.close("delivery not acknowledged")
			s.releaseUndelivered()
			return false
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := s.mgr.mailbox.Ack(ctx, s.DID, msg.ID)
		cancel()
		if err != nil {
			// The recipient may see the message again after the revert,
			// which at-least-once delivery allows.
			s.mgr.logger.Warn().Str("did", s.DID).Str("id", msg.ID).Err(err).Msg("ack persist failed")
			s.close("storage unavailable")
			s.releaseUndelivered()
			return false
		}

		metrics.MessagesDelivered.Inc()
		s.mgr.notifyDelivered(msg.ID)
	}
}

// releaseUndelivered clears any in-flight flag the pump holds after a failed
// hand-off. close's revert and a still-running drain can interleave: Next may
// mark a slot in-flight after the teardown already reverted, and the second
// close is swallowed by closeOnce, so the pump must release its own slot or
// the message would be skipped by every future drain and sweep.
func (s *Session) releaseUndelivered() {
	if s.mgr.mailbox.Revert(s.DID) > 0 {
		s.mgr.Nudge(s.DID)
	}
}

// awaitAck blocks until the client confirms msgID, the ack window expires,
// or the session closes.
func (s *Session) awaitAck(msgID string) bool {
	timeout := time.NewTimer(s.mgr.heartbeat)
	defer timeout.Stop()

	for {
		select {
		case id := <-s.acks:
			if id == msgID {
				return true
			}
			// Ack for an earlier, already-reverted hand-off; ignore.
		case <-timeout.C:
			return false
		case <-s.done:
			return false
		}
	}
}

// close tears the session down exactly once: cancel the pumps, revert
// in-flight messages, and mark the DID offline unless a newer session has
// already taken over.
func (s *Session) close(reason string) {
	s.closeOnce.Do(func() {
		close(s.done)

		s.writeMu.Lock()
		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
			time.Now().Add(time.Second),
		)
		s.writeMu.Unlock()
		s.conn.Close()

		wasCurrent := s.mgr.detach(s)

		if reverted := s.mgr.mailbox.Revert(s.DID); reverted > 0 {
			s.mgr.logger.Info().Str("did", s.DID).Int("reverted", reverted).Msg("in-flight messages reverted")
			// A superseding session may already be draining; wake it so the
			// reverted messages do not sit until the next send.
			s.mgr.Nudge(s.DID)
		}

		if wasCurrent {
			metrics.ActiveSessions.Dec()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.mgr.registry.MarkOffline(ctx, s.DID); err != nil {
				s.mgr.logger.Error().Str("did", s.DID).Err(err).Msg("mark offline failed")
			}
			cancel()
		}

		s.mgr.logger.Info().Str("did", s.DID).Str("reason", reason).Dur("lifetime", time.Since(s.CreatedAt)).Msg("session closed")
	})
}

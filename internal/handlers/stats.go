package handlers

import (
	"net/http"
	"time"
)

// StatsResponse represents relay-wide statistics.
type StatsResponse struct {
	KnownAgents     int    `json:"known_agents"`
	OnlineAgents    int    `json:"online_agents"`
	OpenSessions    int    `json:"open_sessions"`
	QueuedMessages  int    `json:"queued_messages"`
	ActiveMailboxes int    `json:"active_mailboxes"`
	Uptime          string `json:"uptime"`
}

// Stats returns aggregate relay statistics. Counts only; DIDs and message
// content are never exposed here.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	total, online := h.registry.Counts()
	messages, mailboxes := h.mailbox.Totals()

	h.JSON(w, http.StatusOK, StatsResponse{
		KnownAgents:     total,
		OnlineAgents:    online,
		OpenSessions:    h.sessions.Count(),
		QueuedMessages:  messages,
		ActiveMailboxes: mailboxes,
		Uptime:          time.Since(h.startedAt).Round(time.Second).String(),
	})
}

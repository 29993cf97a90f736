package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/AustinEral/agent-reach/internal/mailbox"
	"github.com/AustinEral/agent-reach/internal/registry"
	"github.com/AustinEral/agent-reach/internal/router"
	"github.com/AustinEral/agent-reach/internal/session"
	"github.com/AustinEral/agent-reach/internal/store"
)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	registry  *registry.Registry
	mailbox   *mailbox.Mailbox
	router    *router.Router
	sessions  *session.Manager
	kv        store.KV
	redis     *store.RedisStore // optional
	startedAt time.Time
}

// NewHandler creates a new Handler wired to the relay's components.
// redis may be nil when no Redis instance is configured.
func NewHandler(reg *registry.Registry, mbox *mailbox.Mailbox, rtr *router.Router, sessions *session.Manager, kv store.KV, redis *store.RedisStore) *Handler {
	return &Handler{
		registry:  reg,
		mailbox:   mbox,
		router:    rtr,
		sessions:  sessions,
		kv:        kv,
		redis:     redis,
		startedAt: time.Now(),
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

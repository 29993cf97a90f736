package handlers

import (
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/AustinEral/agent-reach/internal/models"
)

// LookupResponse represents the reachability of a DID. Public directory
// semantics: no authentication, no message content, no secrets.
type LookupResponse struct {
	DID      string `json:"did"`
	Status   string `json:"status"` // online | offline | unknown
	Endpoint string `json:"endpoint,omitempty"`
	LastSeen int64  `json:"last_seen,omitempty"` // unix seconds
}

// Lookup handles reachability queries. It always succeeds: a never-seen
// DID reports status "unknown", never an error.
func (h *Handler) Lookup(w http.ResponseWriter, r *http.Request) {
	did := chi.URLParam(r, "did")

	// Colons in DIDs may arrive percent-encoded
	if decoded, err := url.PathUnescape(did); err == nil {
		did = decoded
	}

	rec := h.registry.Lookup(did)

	resp := LookupResponse{
		DID:      did,
		Status:   string(rec.Status),
		Endpoint: rec.CurrentEndpoint(time.Now()),
	}
	if rec.Status != models.StatusUnknown && !rec.LastSeen.IsZero() {
		resp.LastSeen = rec.LastSeen.Unix()
	}

	h.JSON(w, http.StatusOK, resp)
}

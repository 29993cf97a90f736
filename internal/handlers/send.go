package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/AustinEral/agent-reach/internal/router"
)

// SendRequest represents the send request body. Payload is opaque to the
// relay; the signature covers from|to|sha256(payload)|ts.
type SendRequest struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Payload     []byte `json:"payload"` // base64 in JSON
	ContentType string `json:"ct,omitempty"`
	Timestamp   int64  `json:"ts"` // unix ms
	Signature   string `json:"signature"`
}

// SendResponse represents the send response: exactly one of delivered or
// queued is true.
type SendResponse struct {
	Delivered bool   `json:"delivered,omitempty"`
	Queued    bool   `json:"queued,omitempty"`
	ID        string `json:"id"`
	ExpiresAt int64  `json:"expires_at,omitempty"` // unix seconds, when queued
}

// Send handles message submission: verified, then pushed live if the
// recipient is online or queued otherwise. Mail to a DID the registry has
// never seen is still accepted; the mailbox exists implicitly.
func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if len(req.Payload) == 0 {
		h.Error(w, http.StatusBadRequest, "payload is required")
		return
	}

	outcome, err := h.router.Send(r.Context(), req.From, req.To, req.Payload, req.ContentType, req.Timestamp, req.Signature)
	if err != nil {
		if errors.Is(err, router.ErrAuthentication) {
			h.Error(w, http.StatusUnauthorized, "authentication failed")
			return
		}
		h.Error(w, http.StatusServiceUnavailable, "storage unavailable, retry")
		return
	}

	resp := SendResponse{
		Delivered: outcome.Delivered,
		Queued:    outcome.Queued,
		ID:        outcome.Message.ID,
	}
	if outcome.Queued {
		resp.ExpiresAt = outcome.Message.ExpiresAt.Unix()
	}
	h.JSON(w, http.StatusOK, resp)
}

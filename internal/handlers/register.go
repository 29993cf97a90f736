package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/AustinEral/agent-reach/internal/identity"
	"github.com/AustinEral/agent-reach/internal/metrics"
	"github.com/AustinEral/agent-reach/internal/registry"
)

// defaultEndpointTTL is how long an advertised endpoint stays valid when
// the request does not specify one.
const defaultEndpointTTL = 3600

// RegisterRequest represents the registration request body.
type RegisterRequest struct {
	DID       string `json:"did"`
	Endpoint  string `json:"endpoint,omitempty"` // direct reachable address, any URI
	TTL       int64  `json:"ttl,omitempty"`      // endpoint validity in seconds
	Signature string `json:"signature"`          // over did:endpoint:ttl
}

// RegisterResponse represents the registration response.
type RegisterResponse struct {
	OK        bool   `json:"ok"`
	DID       string `json:"did"`
	ExpiresAt int64  `json:"expires_at,omitempty"` // endpoint expiry, unix seconds
}

// Register handles agent registration. Idempotent: re-registering the same
// DID overwrites the endpoint metadata. Registration does not mark the
// agent online; only an open session does that.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if !registry.ValidDID(req.DID) {
		h.Error(w, http.StatusBadRequest, "did must be a did:key identifier")
		return
	}
	if len(req.Endpoint) > 2048 {
		h.Error(w, http.StatusBadRequest, "endpoint too long")
		return
	}
	if req.TTL <= 0 {
		req.TTL = defaultEndpointTTL
	}

	// No state changes before the claim verifies
	payload := identity.RegistrationPayload(req.DID, req.Endpoint, req.TTL)
	if err := identity.Verify(req.DID, payload, req.Signature); err != nil {
		h.Error(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	rec, err := h.registry.Register(r.Context(), req.DID, req.Endpoint, req.TTL)
	if err != nil {
		h.Error(w, http.StatusServiceUnavailable, "storage unavailable, retry")
		return
	}

	metrics.Registrations.Inc()

	resp := RegisterResponse{OK: true, DID: req.DID}
	if !rec.EndpointExpires.IsZero() {
		resp.ExpiresAt = rec.EndpointExpires.Unix()
	}
	h.JSON(w, http.StatusOK, resp)
}

// DeregisterRequest represents the deregistration request body.
type DeregisterRequest struct {
	DID       string `json:"did"`
	Signature string `json:"signature"` // over the DID itself
}

// DeregisterResponse represents the deregistration response.
type DeregisterResponse struct {
	OK bool `json:"ok"`
}

// Deregister clears the advertised endpoint and closes any live session
// for the DID. The connection record itself is kept, so later lookups
// report offline rather than unknown.
func (h *Handler) Deregister(w http.ResponseWriter, r *http.Request) {
	var req DeregisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if !registry.ValidDID(req.DID) {
		h.Error(w, http.StatusBadRequest, "did must be a did:key identifier")
		return
	}

	if err := identity.Verify(req.DID, identity.DeregistrationPayload(req.DID), req.Signature); err != nil {
		h.Error(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	existed, err := h.registry.Deregister(r.Context(), req.DID)
	if err != nil {
		h.Error(w, http.StatusServiceUnavailable, "storage unavailable, retry")
		return
	}

	if existed {
		h.sessions.Close(req.DID, "deregistered")
	}

	h.JSON(w, http.StatusOK, DeregisterResponse{OK: existed})
}

package handlers

import "net/http"

// Connect upgrades the request to a websocket and hands it to the session
// manager. Authentication happens in-band: the first frame must be a
// signed hello, and a failed handshake closes the socket with no state
// change.
func (h *Handler) Connect(w http.ResponseWriter, r *http.Request) {
	h.sessions.HandleConnection(w, r)
}

package models

import "time"

// Status is the reachability state of a DID.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
	StatusUnknown Status = "unknown" // never registered or connected
)

// ConnectionRecord tracks the last known connection state of a DID.
// Exactly one record exists per DID ever seen; records are never deleted.
type ConnectionRecord struct {
	DID             string    `json:"did"`
	Status          Status    `json:"status"`
	Endpoint        string    `json:"endpoint,omitempty"` // direct non-relay path, if advertised
	EndpointExpires time.Time `json:"endpoint_expires,omitempty"`
	ConnectedAt     time.Time `json:"connected_at,omitempty"` // set on transition to online
	LastSeen        time.Time `json:"last_seen,omitempty"`    // updated on heartbeat and disconnect
}

// CurrentEndpoint returns the advertised endpoint, or "" if the
// advertisement has expired.
func (r *ConnectionRecord) CurrentEndpoint(now time.Time) string {
	if r.Endpoint == "" || now.After(r.EndpointExpires) {
		return ""
	}
	return r.Endpoint
}

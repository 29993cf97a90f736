package session

// Frame types exchanged over an agent connection. Clients send hello, hb,
// ack, and bye; the relay sends welcome, msg, and err.
const (
	FrameHello     = "hello"
	FrameWelcome   = "welcome"
	FrameMsg       = "msg"
	FrameAck       = "ack"
	FrameHeartbeat = "hb"
	FrameBye       = "bye"
	FrameError     = "err"
)

// Frame is the JSON wire format for all websocket traffic.
type Frame struct {
	Type string `json:"type"`

	// hello
	DID       string `json:"did,omitempty"`
	Nonce     string `json:"nonce,omitempty"`
	Timestamp int64  `json:"ts,omitempty"`
	Signature string `json:"sig,omitempty"`

	// msg / ack
	ID          string `json:"id,omitempty"`
	From        string `json:"from,omitempty"`
	Payload     []byte `json:"payload,omitempty"`
	ContentType string `json:"ct,omitempty"`

	// err
	Error string `json:"error,omitempty"`
}

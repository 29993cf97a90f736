package identity

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"
)

// Verify checks that signatureB64 is a valid Ed25519 signature over payload
// by the key the DID resolves to. It is pure: no network, no storage. Any
// malformed input fails closed with an error; callers must treat every error
// as an authentication failure, never as "unknown, retry".
func Verify(did string, payload []byte, signatureB64 string) error {
	pub, err := Resolve(did)
	if err != nil {
		return err
	}

	signature, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return fmt.Errorf("%w: bad base64 encoding", ErrInvalidSignature)
	}

	if !ed25519.Verify(pub, payload, signature) {
		return ErrInvalidSignature
	}
	return nil
}

// RegistrationPayload is the canonical data signed for register requests.
// Format: did:endpoint:ttlSeconds
func RegistrationPayload(did, endpoint string, ttlSeconds int64) []byte {
	return []byte(fmt.Sprintf("%s:%s:%d", did, endpoint, ttlSeconds))
}

// DeregistrationPayload is the canonical data signed for deregister
// requests: the DID itself, proving control of the key.
func DeregistrationPayload(did string) []byte {
	return []byte(did)
}

// HelloPayload is the canonical data signed in the connection handshake.
// Format: did|nonce|timestampMillis
func HelloPayload(did, nonce string, timestampMs int64) []byte {
	return []byte(fmt.Sprintf("%s|%s|%d", did, nonce, timestampMs))
}

// SendPayload is the canonical data signed for a relayed message.
// Format: from|to|sha256hex(payload)|timestampMillis
func SendPayload(from, to string, payload []byte, timestampMs int64) []byte {
	digest := sha256.Sum256(payload)
	return []byte(fmt.Sprintf("%s|%s|%s|%d", from, to, hex.EncodeToString(digest[:]), timestampMs))
}

// CheckTimestamp rejects timestamps outside the replay window. Only
// past timestamps within the window are accepted; future ones are rejected.
func CheckTimestamp(timestampMs int64, window time.Duration) error {
	now := time.Now().UnixMilli()
	if timestampMs <= now-window.Milliseconds() || timestampMs > now {
		return ErrStaleTimestamp
	}
	return nil
}

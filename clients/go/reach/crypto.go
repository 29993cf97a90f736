package reach

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
)

// did:key multicodec prefix for Ed25519.
var ed25519Codec = []byte{0xed, 0x01}

// DIDFromPublicKey derives the did:key identifier for an Ed25519 public key.
func DIDFromPublicKey(pub ed25519.PublicKey) string {
	raw := make([]byte, 0, len(ed25519Codec)+len(pub))
	raw = append(raw, ed25519Codec...)
	raw = append(raw, pub...)
	return "did:key:z" + base58.Encode(raw)
}

// SignRegistration signs the canonical registration payload did:endpoint:ttl.
func SignRegistration(priv ed25519.PrivateKey, did, endpoint string, ttlSeconds int64) string {
	payload := fmt.Sprintf("%s:%s:%d", did, endpoint, ttlSeconds)
	return base64.StdEncoding.EncodeToString(ed25519.Sign(priv, []byte(payload)))
}

// SignDeregistration signs the DID itself, proving control of the key.
func SignDeregistration(priv ed25519.PrivateKey, did string) string {
	return base64.StdEncoding.EncodeToString(ed25519.Sign(priv, []byte(did)))
}

// SignHello signs the connection handshake payload did|nonce|ts.
func SignHello(priv ed25519.PrivateKey, did, nonce string, timestampMs int64) string {
	payload := fmt.Sprintf("%s|%s|%d", did, nonce, timestampMs)
	return base64.StdEncoding.EncodeToString(ed25519.Sign(priv, []byte(payload)))
}

// SignSend signs the message payload from|to|sha256hex(payload)|ts.
func SignSend(priv ed25519.PrivateKey, from, to string, payload []byte, timestampMs int64) string {
	digest := sha256.Sum256(payload)
	signed := fmt.Sprintf("%s|%s|%s|%d", from, to, hex.EncodeToString(digest[:]), timestampMs)
	return base64.StdEncoding.EncodeToString(ed25519.Sign(priv, []byte(signed)))
}

// NewNonce returns a fresh random nonce for the handshake.
func NewNonce() string {
	return uuid.NewString()
}

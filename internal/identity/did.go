package identity

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

var (
	ErrInvalidDID       = errors.New("invalid did:key identifier")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrStaleTimestamp   = errors.New("signature timestamp expired")
)

const didKeyPrefix = "did:key:z"

// multicodec prefix for an Ed25519 public key.
var ed25519Codec = []byte{0xed, 0x01}

// Resolve extracts the Ed25519 public key from a did:key identifier.
// Only the base58btc multibase encoding ("z" prefix) is accepted.
func Resolve(did string) (ed25519.PublicKey, error) {
	if !strings.HasPrefix(did, didKeyPrefix) {
		return nil, fmt.Errorf("%w: must start with %q", ErrInvalidDID, didKeyPrefix)
	}

	decoded, err := base58.Decode(did[len(didKeyPrefix):])
	if err != nil {
		return nil, fmt.Errorf("%w: bad base58btc encoding", ErrInvalidDID)
	}

	if len(decoded) != len(ed25519Codec)+ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: decoded length %d", ErrInvalidDID, len(decoded))
	}
	if decoded[0] != ed25519Codec[0] || decoded[1] != ed25519Codec[1] {
		return nil, fmt.Errorf("%w: unsupported key type", ErrInvalidDID)
	}

	return ed25519.PublicKey(decoded[2:]), nil
}

// FromPublicKey derives the did:key identifier for an Ed25519 public key.
func FromPublicKey(pub ed25519.PublicKey) string {
	raw := make([]byte, 0, len(ed25519Codec)+len(pub))
	raw = append(raw, ed25519Codec...)
	raw = append(raw, pub...)
	return didKeyPrefix + base58.Encode(raw)
}

package main

import (
	"crypto/ed25519"
	"encoding/base64"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/AustinEral/agent-reach/internal/identity"
)

func main() {
	privKeyB64 := flag.String("key", "", "Base64-encoded Ed25519 private key")
	mode := flag.String("mode", "register", "Payload to sign: register, deregister, send, hello")
	endpoint := flag.String("endpoint", "", "Endpoint URI (register)")
	ttl := flag.Int64("ttl", 3600, "Endpoint TTL in seconds (register)")
	to := flag.String("to", "", "Recipient DID (send)")
	payloadFile := flag.String("payload", "", "File containing message payload (send; stdin if omitted)")
	flag.Parse()

	if *privKeyB64 == "" {
		fmt.Fprintln(os.Stderr, "Usage: sign -key <private-key-base64> -mode register|deregister|send|hello [flags]")
		os.Exit(1)
	}

	// Decode private key
	privKeyBytes, err := base64.StdEncoding.DecodeString(*privKeyB64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid private key: %v\n", err)
		os.Exit(1)
	}
	privKey := ed25519.PrivateKey(privKeyBytes)
	did := identity.FromPublicKey(privKey.Public().(ed25519.PublicKey))

	timestamp := time.Now().UnixMilli()

	var payload []byte
	switch *mode {
	case "register":
		payload = identity.RegistrationPayload(did, *endpoint, *ttl)
	case "deregister":
		payload = identity.DeregistrationPayload(did)
	case "hello":
		nonce := uuid.NewString()
		payload = identity.HelloPayload(did, nonce, timestamp)
		fmt.Printf("nonce: %s\n", nonce)
	case "send":
		if *to == "" {
			fmt.Fprintln(os.Stderr, "-to is required for send")
			os.Exit(1)
		}
		var body []byte
		if *payloadFile != "" {
			body, err = os.ReadFile(*payloadFile)
		} else {
			body, err = io.ReadAll(os.Stdin)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read payload: %v\n", err)
			os.Exit(1)
		}
		payload = identity.SendPayload(did, *to, body, timestamp)
	default:
		fmt.Fprintf(os.Stderr, "Unknown mode %q\n", *mode)
		os.Exit(1)
	}

	signature := ed25519.Sign(privKey, payload)

	fmt.Printf("did: %s\n", did)
	fmt.Printf("ts: %d\n", timestamp)
	fmt.Printf("signature: %s\n", base64.StdEncoding.EncodeToString(signature))
}

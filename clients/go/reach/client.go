// Package reach provides a client for the agent-reach relay protocol.
package reach

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client is an agent-reach relay client.
type Client struct {
	BaseURL    string
	ConfigDir  string
	DID        string
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
	HTTPClient *http.Client
}

// Config holds agent credentials metadata.
type Config struct {
	DID       string `json:"did"`
	PublicKey string `json:"public_key"`
}

// Message is a relayed message as received over a connection.
type Message struct {
	ID          string
	From        string
	Payload     []byte
	ContentType string
	Timestamp   int64
}

// NewClient creates a new relay client.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	configDir := os.Getenv("REACH_CONFIG")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".reach")
	}

	c := &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		ConfigDir:  configDir,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}

	_ = c.LoadConfig()
	return c
}

// GenerateKeypair generates a new Ed25519 keypair and derives the DID.
func (c *Client) GenerateKeypair() error {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return err
	}
	c.PublicKey = pub
	c.PrivateKey = priv
	c.DID = DIDFromPublicKey(pub)
	return nil
}

// LoadConfig loads agent credentials from disk.
func (c *Client) LoadConfig() error {
	data, err := os.ReadFile(filepath.Join(c.ConfigDir, "agent.json"))
	if err != nil {
		return err
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return err
	}

	keyData, err := os.ReadFile(filepath.Join(c.ConfigDir, "private.key"))
	if err != nil {
		return err
	}

	seed, err := base64.StdEncoding.DecodeString(string(keyData))
	if err != nil {
		return err
	}

	c.PrivateKey = ed25519.NewKeyFromSeed(seed)
	c.PublicKey = c.PrivateKey.Public().(ed25519.PublicKey)
	c.DID = config.DID
	return nil
}

// SaveConfig saves agent credentials to disk.
func (c *Client) SaveConfig() error {
	if err := os.MkdirAll(c.ConfigDir, 0700); err != nil {
		return err
	}

	config := Config{
		DID:       c.DID,
		PublicKey: base64.StdEncoding.EncodeToString(c.PublicKey),
	}

	data, _ := json.MarshalIndent(config, "", "  ")
	if err := os.WriteFile(filepath.Join(c.ConfigDir, "agent.json"), data, 0600); err != nil {
		return err
	}

	seed := base64.StdEncoding.EncodeToString(c.PrivateKey.Seed())
	return os.WriteFile(filepath.Join(c.ConfigDir, "private.key"), []byte(seed), 0600)
}

// Register advertises this agent's endpoint to the relay.
func (c *Client) Register(endpoint string, ttlSeconds int64) error {
	if ttlSeconds <= 0 {
		ttlSeconds = 3600
	}
	body := map[string]interface{}{
		"did":       c.DID,
		"endpoint":  endpoint,
		"ttl":       ttlSeconds,
		"signature": SignRegistration(c.PrivateKey, c.DID, endpoint, ttlSeconds),
	}
	return c.post("/register", body, nil)
}

// Deregister withdraws this agent's endpoint advertisement.
func (c *Client) Deregister() error {
	body := map[string]interface{}{
		"did":       c.DID,
		"signature": SignDeregistration(c.PrivateKey, c.DID),
	}
	return c.post("/deregister", body, nil)
}

// LookupResult is the reachability of a DID.
type LookupResult struct {
	DID      string `json:"did"`
	Status   string `json:"status"`
	Endpoint string `json:"endpoint,omitempty"`
	LastSeen int64  `json:"last_seen,omitempty"`
}

// Lookup queries the relay's public directory.
func (c *Client) Lookup(did string) (*LookupResult, error) {
	resp, err := c.HTTPClient.Get(c.BaseURL + "/lookup/" + url.PathEscape(did))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("lookup failed: %s", resp.Status)
	}

	var result LookupResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SendResult reports whether a message was pushed live or queued.
type SendResult struct {
	Delivered bool   `json:"delivered"`
	Queued    bool   `json:"queued"`
	ID        string `json:"id"`
	ExpiresAt int64  `json:"expires_at,omitempty"`
}

// Send relays a payload to another DID.
func (c *Client) Send(to string, payload []byte, contentType string) (*SendResult, error) {
	ts := time.Now().UnixMilli()
	body := map[string]interface{}{
		"from":      c.DID,
		"to":        to,
		"payload":   payload,
		"ct":        contentType,
		"ts":        ts,
		"signature": SignSend(c.PrivateKey, c.DID, to, payload, ts),
	}

	var result SendResult
	if err := c.post("/send", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// wire frame, mirroring the relay's session protocol.
type frame struct {
	Type        string `json:"type"`
	DID         string `json:"did,omitempty"`
	Nonce       string `json:"nonce,omitempty"`
	Timestamp   int64  `json:"ts,omitempty"`
	Signature   string `json:"sig,omitempty"`
	ID          string `json:"id,omitempty"`
	From        string `json:"from,omitempty"`
	Payload     []byte `json:"payload,omitempty"`
	ContentType string `json:"ct,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Listen opens a persistent connection, completes the signed handshake,
// and invokes handle for every delivered message. Each message is
// acknowledged after handle returns, confirming its removal from the
// mailbox. Heartbeats run until ctx is cancelled or the connection drops.
func (c *Client) Listen(ctx context.Context, handle func(Message)) error {
	wsURL := strings.Replace(c.BaseURL, "http", "ws", 1) + "/connect"

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	ts := time.Now().UnixMilli()
	nonce := NewNonce()
	hello := frame{
		Type:      "hello",
		DID:       c.DID,
		Nonce:     nonce,
		Timestamp: ts,
		Signature: SignHello(c.PrivateKey, c.DID, nonce, ts),
	}
	if err := conn.WriteJSON(hello); err != nil {
		return err
	}

	var welcome frame
	if err := conn.ReadJSON(&welcome); err != nil {
		return err
	}
	if welcome.Type == "err" {
		return fmt.Errorf("handshake rejected: %s", welcome.Error)
	}
	if welcome.Type != "welcome" {
		return fmt.Errorf("unexpected handshake response %q", welcome.Type)
	}

	// One writer at a time: heartbeats and acks share the connection
	var writeMu sync.Mutex
	write := func(f frame) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(f)
	}

	// Heartbeats until the context ends
	go func() {
		ticker := time.NewTicker(20 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				write(frame{Type: "bye"})
				conn.Close()
				return
			case <-ticker.C:
				if err := write(frame{Type: "hb"}); err != nil {
					return
				}
			}
		}
	}()

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		switch f.Type {
		case "msg":
			handle(Message{
				ID:          f.ID,
				From:        f.From,
				Payload:     f.Payload,
				ContentType: f.ContentType,
				Timestamp:   f.Timestamp,
			})
			if err := write(frame{Type: "ack", ID: f.ID}); err != nil {
				return err
			}
		case "bye":
			return nil
		}
	}
}

// post sends a JSON request and decodes the JSON response into out.
func (c *Client) post(path string, body interface{}, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	resp, err := c.HTTPClient.Post(c.BaseURL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error != "" {
			return fmt.Errorf("%s: %s", resp.Status, apiErr.Error)
		}
		return fmt.Errorf("request failed: %s", resp.Status)
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

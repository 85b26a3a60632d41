// Package push delivers VoIP push notifications to iOS devices over the
// Apple Push Notification service HTTP/2 API, authenticated with an
// ES256 provider token.
package push

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fridaylabs/token-market/internal/queue"
)

const (
	productionEndpoint = "https://api.push.apple.com"
	sandboxEndpoint    = "https://api.sandbox.push.apple.com"

	// Apple accepts provider tokens up to an hour old; refresh a little
	// earlier so in-flight requests never carry an expired token.
	tokenLifetime = 50 * time.Minute
)

// Client sends VoIP pushes using an APNs provider token. A single client
// is safe for concurrent use; the signed provider JWT is cached and
// refreshed lazily.
type Client struct {
	key      *ecdsa.PrivateKey
	keyID    string
	teamID   string
	bundleID string
	endpoint string
	http     *http.Client

	mu        sync.Mutex
	token     string
	tokenFrom time.Time
}

// NewClient builds a push client from a PKCS#8 PEM-encoded .p8 signing
// key as downloaded from the Apple developer portal.
func NewClient(p8 []byte, keyID, teamID, bundleID string, sandbox bool) (*Client, error) {
	block, _ := pem.Decode(p8)
	if block == nil {
		return nil, errors.New("apns: signing key is not PEM encoded")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("apns: parse signing key: %w", err)
	}
	key, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, errors.New("apns: signing key is not an ECDSA key")
	}

	endpoint := productionEndpoint
	if sandbox {
		endpoint = sandboxEndpoint
	}
	return &Client{
		key:      key,
		keyID:    keyID,
		teamID:   teamID,
		bundleID: bundleID,
		endpoint: endpoint,
		http:     &http.Client{Timeout: 15 * time.Second},
	}, nil
}

// NewClientFromEnv reads APNS_KEY_PATH, APNS_KEY_ID, APNS_TEAM_ID,
// APNS_BUNDLE_ID and APNS_SANDBOX. It returns (nil, nil) when the key
// path is unset so callers can run without push delivery configured.
func NewClientFromEnv() (*Client, error) {
	path := os.Getenv("APNS_KEY_PATH")
	if path == "" {
		return nil, nil
	}
	p8, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("apns: read signing key: %w", err)
	}
	sandbox, _ := strconv.ParseBool(os.Getenv("APNS_SANDBOX"))
	return NewClient(p8,
		os.Getenv("APNS_KEY_ID"),
		os.Getenv("APNS_TEAM_ID"),
		os.Getenv("APNS_BUNDLE_ID"),
		sandbox,
	)
}

func (c *Client) providerToken(now time.Time) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && now.Sub(c.tokenFrom) < tokenLifetime {
		return c.token, nil
	}
	t := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
		"iss": c.teamID,
		"iat": now.Unix(),
	})
	t.Header["kid"] = c.keyID
	signed, err := t.SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("apns: sign provider token: %w", err)
	}
	c.token = signed
	c.tokenFrom = now
	return signed, nil
}

type apsPayload struct {
	Alert string `json:"alert"`
}

type voipPayload struct {
	Aps        apsPayload `json:"aps"`
	Type       string     `json:"type"`
	CallID     string     `json:"callId"`
	CallerID   uint64     `json:"callerId"`
	CallerName string     `json:"callerName"`
}

// SendIncomingCall delivers an incoming-call VoIP push to the given
// device token. Non-2xx responses from APNs are returned as errors with
// the reason string Apple provides.
func (c *Client) SendIncomingCall(ctx context.Context, deviceToken string, event queue.CallInitiatedEvent) error {
	token, err := c.providerToken(time.Now())
	if err != nil {
		return err
	}

	body, err := json.Marshal(voipPayload{
		Aps:        apsPayload{Alert: "Incoming call"},
		Type:       "incoming_call",
		CallID:     event.CallID,
		CallerID:   event.CallerUserID,
		CallerName: event.CallerName,
	})
	if err != nil {
		return fmt.Errorf("apns: marshal payload: %w", err)
	}

	url := fmt.Sprintf("%s/3/device/%s", c.endpoint, deviceToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("apns: build request: %w", err)
	}
	req.Header.Set("authorization", "bearer "+token)
	req.Header.Set("apns-topic", c.bundleID+".voip")
	req.Header.Set("apns-push-type", "voip")
	req.Header.Set("apns-priority", "10")
	req.Header.Set("content-type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("apns: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	var apnsErr struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&apnsErr)
	return fmt.Errorf("apns: device %s rejected with status %d reason %q", deviceToken, resp.StatusCode, apnsErr.Reason)
}

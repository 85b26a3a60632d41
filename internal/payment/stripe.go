// Package payment integrates with Stripe Checkout for card purchases of
// call-minute tokens. It talks to the Stripe REST API directly and
// verifies webhook signatures before any payment is trusted.
package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const apiBase = "https://api.stripe.com/v1"

// Webhook signatures older than this are rejected to limit replays.
const signatureTolerance = 5 * time.Minute

var (
	// ErrBadSignature is returned when a webhook payload fails signature
	// verification and must not be processed.
	ErrBadSignature = errors.New("stripe: webhook signature verification failed")
)

// CheckoutSession is the subset of Stripe's checkout session object the
// server cares about.
type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Event is a Stripe webhook event envelope. Data.Object holds the
// checkout session for checkout.session.completed events.
type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID       string            `json:"id"`
			Metadata map[string]string `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

// Client calls the Stripe REST API with a secret key. A nil *Client is
// a valid "payments disabled" state; handlers check for it.
type Client struct {
	secretKey     string
	webhookSecret string
	successURL    string
	cancelURL     string
	http          *http.Client
}

// NewClient builds a Stripe client. successURL and cancelURL are where
// Checkout redirects the buyer after the hosted payment page.
func NewClient(secretKey, webhookSecret, successURL, cancelURL string) *Client {
	return &Client{
		secretKey:     secretKey,
		webhookSecret: webhookSecret,
		successURL:    successURL,
		cancelURL:     cancelURL,
		http:          &http.Client{Timeout: 20 * time.Second},
	}
}

// NewClientFromEnv reads STRIPE_SECRET_KEY and STRIPE_WEBHOOK_SECRET.
// It returns nil when the secret key is unset so the server can run
// without payments configured.
func NewClientFromEnv(frontendURL string) *Client {
	key := os.Getenv("STRIPE_SECRET_KEY")
	if key == "" {
		return nil
	}
	base := strings.TrimRight(frontendURL, "/")
	return NewClient(
		key,
		os.Getenv("STRIPE_WEBHOOK_SECRET"),
		base+"/payment/success",
		base+"/payment/cancelled",
	)
}

// CreateCheckoutSession opens a hosted Checkout session for one token
// purchase. The buyer, minute amount and charged price travel in session
// metadata and come back on the completion webhook, which is the only
// place a token is actually minted.
func (c *Client) CreateCheckoutSession(ctx context.Context, userID uint64, minutes uint32, priceEUR float64) (*CheckoutSession, error) {
	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("success_url", c.successURL)
	form.Set("cancel_url", c.cancelURL)
	form.Set("line_items[0][quantity]", "1")
	form.Set("line_items[0][price_data][currency]", "eur")
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(int64(priceEUR*100+0.5), 10))
	form.Set("line_items[0][price_data][product_data][name]", fmt.Sprintf("%d call minutes", minutes))
	form.Set("metadata[user_id]", strconv.FormatUint(userID, 10))
	form.Set("metadata[minutes]", strconv.FormatUint(uint64(minutes), 10))
	form.Set("metadata[price_eur]", strconv.FormatFloat(priceEUR, 'f', 2, 64))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiBase+"/checkout/sessions", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("stripe: build request: %w", err)
	}
	req.SetBasicAuth(c.secretKey, "")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stripe: create checkout session: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("stripe: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("stripe: checkout session rejected with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var sess CheckoutSession
	if err := json.Unmarshal(body, &sess); err != nil {
		return nil, fmt.Errorf("stripe: decode session: %w", err)
	}
	return &sess, nil
}

// VerifyWebhook checks the Stripe-Signature header against the raw
// payload and returns the decoded event. Invalid or stale signatures
// return ErrBadSignature.
func (c *Client) VerifyWebhook(payload []byte, sigHeader string) (*Event, error) {
	return verifyWebhook(payload, sigHeader, c.webhookSecret, time.Now())
}

func verifyWebhook(payload []byte, sigHeader, secret string, now time.Time) (*Event, error) {
	var ts string
	var sigs []string
	for _, part := range strings.Split(sigHeader, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			sigs = append(sigs, v)
		}
	}
	if ts == "" || len(sigs) == 0 {
		return nil, ErrBadSignature
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return nil, ErrBadSignature
	}
	age := now.Sub(time.Unix(unix, 0))
	if age > signatureTolerance || age < -signatureTolerance {
		return nil, ErrBadSignature
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := mac.Sum(nil)

	ok := false
	for _, s := range sigs {
		got, err := hex.DecodeString(s)
		if err != nil {
			continue
		}
		if hmac.Equal(expected, got) {
			ok = true
			break
		}
	}
	if !ok {
		return nil, ErrBadSignature
	}

	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("stripe: decode event: %w", err)
	}
	return &ev, nil
}

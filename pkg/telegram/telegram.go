// Package telegram is a minimal Telegram Bot API client that delivers text
// messages to one configured chat.
//
// Only the sendMessage method is implemented. Calls can be throttled with a
// token bucket ([WithRateLimit]) and guarded by a circuit breaker
// ([WithCircuitBreaker]) so a failing API surfaces quickly as an error.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/time/rate"
)

// DefaultBaseURL is the public Bot API endpoint.
const DefaultBaseURL = "https://api.telegram.org"

// botRecipientMarker is the description fragment the Bot API returns when the
// target chat is another bot.
const botRecipientMarker = "bots can't send messages to bots"

var (
	// ErrBotRecipient matches an [*APIError] whose chat ID belongs to a bot.
	ErrBotRecipient = errors.New("telegram: recipient is a bot")

	// ErrMissingCredentials is returned by [New] when the token or chat ID is
	// empty.
	ErrMissingCredentials = errors.New("telegram: bot token and chat ID are required")
)

// APIError is a non-successful Bot API response.
type APIError struct {
	StatusCode  int
	Description string
}

// Error implements error.
func (e *APIError) Error() string {
	return fmt.Sprintf("telegram: API error (status %d): %s", e.StatusCode, e.Description)
}

// Is reports whether target is [ErrBotRecipient] and the description names a
// bot recipient.
func (e *APIError) Is(target error) bool {
	return target == ErrBotRecipient && strings.Contains(e.Description, botRecipientMarker)
}

// Temporary reports whether retrying later could succeed. Client errors other
// than rate limiting are permanent.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides DefaultBaseURL.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRateLimit limits sends to r per second with the given burst. A
// non-positive r disables limiting.
func WithRateLimit(r float64, burst int) Option {
	return func(c *Client) {
		if r <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(r), max(burst, 1))
	}
}

// Breaker admits or rejects calls. *resilience.Breaker satisfies it.
type Breaker interface {
	Execute(ctx context.Context, fn func(context.Context) error) error
}

// WithCircuitBreaker guards every send with cb.
func WithCircuitBreaker(cb Breaker) Option {
	return func(c *Client) { c.breaker = cb }
}

// Client sends messages to a single chat. It is safe for concurrent use.
type Client struct {
	token   string
	chatID  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	breaker Breaker
}

// New returns a Client for the bot identified by token, delivering to chatID.
func New(token, chatID string, opts ...Option) (*Client, error) {
	if token == "" || chatID == "" {
		return nil, ErrMissingCredentials
	}
	c := &Client{
		token:   token,
		chatID:  chatID,
		baseURL: DefaultBaseURL,
		http:    http.DefaultClient,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// sendMessageRequest is the sendMessage request body.
type sendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

// apiResponse is the envelope of every Bot API response.
type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
}

// SendMessage delivers text to the configured chat.
func (c *Client) SendMessage(ctx context.Context, text string) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("telegram: send message: %w", err)
		}
	}
	if c.breaker == nil {
		return c.send(ctx, text)
	}
	return c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.send(ctx, text)
	})
}

func (c *Client) send(ctx context.Context, text string) error {
	body, err := json.Marshal(sendMessageRequest{ChatID: c.chatID, Text: text})
	if err != nil {
		return fmt.Errorf("telegram: marshal request: %w", err)
	}

	endpoint := c.baseURL + "/bot" + c.token + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// The URL carries the bot token; keep it out of the error text.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return fmt.Errorf("telegram: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("telegram: read response: %w", err)
	}

	var env apiResponse
	decodeErr := json.Unmarshal(raw, &env)
	if resp.StatusCode/100 == 2 && decodeErr == nil && env.OK {
		return nil
	}

	desc := env.Description
	if desc == "" {
		desc = http.StatusText(resp.StatusCode)
	}
	return &APIError{StatusCode: resp.StatusCode, Description: desc}
}

// IsBreakerFailure classifies errors for a breaker guarding a Client. Only
// transport failures, rate limiting and server errors count.
func IsBreakerFailure(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return true
}

package telegram_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/jarvis/internal/resilience"
	"github.com/MrWong99/jarvis/pkg/telegram"
)

// botAPI is a fake Bot API recording sendMessage requests.
type botAPI struct {
	status int
	body   string
	calls  atomic.Int32
	last   atomic.Value // map[string]string
	path   atomic.Value // string
}

func (b *botAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.calls.Add(1)
	b.path.Store(r.URL.Path)
	var req map[string]string
	_ = json.NewDecoder(r.Body).Decode(&req)
	b.last.Store(req)

	w.Header().Set("Content-Type", "application/json")
	status := b.status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	body := b.body
	if body == "" {
		body = `{"ok":true,"result":{"message_id":1}}`
	}
	_, _ = w.Write([]byte(body))
}

func newClient(t *testing.T, api *botAPI, opts ...telegram.Option) *telegram.Client {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	c, err := telegram.New("123:ABC", "4242", append([]telegram.Option{telegram.WithBaseURL(srv.URL)}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNew_RequiresCredentials(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name, token, chat string
	}{
		{"no token", "", "1"},
		{"no chat", "tok", ""},
		{"neither", "", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := telegram.New(tc.token, tc.chat); !errors.Is(err, telegram.ErrMissingCredentials) {
				t.Errorf("New = %v, want ErrMissingCredentials", err)
			}
		})
	}
}

func TestSendMessage_PostsChatAndText(t *testing.T) {
	t.Parallel()

	api := &botAPI{}
	c := newClient(t, api)

	if err := c.SendMessage(context.Background(), "Hello"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if got := api.path.Load().(string); got != "/bot123:ABC/sendMessage" {
		t.Errorf("path = %q, want /bot123:ABC/sendMessage", got)
	}
	req := api.last.Load().(map[string]string)
	if req["chat_id"] != "4242" || req["text"] != "Hello" {
		t.Errorf("body = %v, want chat_id=4242 text=Hello", req)
	}
}

func TestSendMessage_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		status    int
		body      string
		wantBot   bool
		wantDesc  string
		temporary bool
	}{
		{
			name:     "bot recipient",
			status:   http.StatusForbidden,
			body:     `{"ok":false,"error_code":403,"description":"Forbidden: bots can't send messages to bots"}`,
			wantBot:  true,
			wantDesc: "Forbidden: bots can't send messages to bots",
		},
		{
			name:     "chat not found",
			status:   http.StatusBadRequest,
			body:     `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`,
			wantDesc: "Bad Request: chat not found",
		},
		{
			name:      "server error without body",
			status:    http.StatusBadGateway,
			body:      `<html>bad gateway</html>`,
			wantDesc:  "Bad Gateway",
			temporary: true,
		},
		{
			name:     "ok false with 200",
			status:   http.StatusOK,
			body:     `{"ok":false,"description":"weird"}`,
			wantDesc: "weird",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			c := newClient(t, &botAPI{status: tc.status, body: tc.body})
			err := c.SendMessage(context.Background(), "hi")

			var apiErr *telegram.APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("err = %v, want *APIError", err)
			}
			if apiErr.StatusCode != tc.status {
				t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, tc.status)
			}
			if apiErr.Description != tc.wantDesc {
				t.Errorf("Description = %q, want %q", apiErr.Description, tc.wantDesc)
			}
			if got := errors.Is(err, telegram.ErrBotRecipient); got != tc.wantBot {
				t.Errorf("errors.Is(ErrBotRecipient) = %v, want %v", got, tc.wantBot)
			}
			if got := apiErr.Temporary(); got != tc.temporary {
				t.Errorf("Temporary = %v, want %v", got, tc.temporary)
			}
		})
	}
}

func TestSendMessage_TransportErrorHidesToken(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	c, err := telegram.New("secret-token", "1", telegram.WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	err = c.SendMessage(context.Background(), "hi")
	if err == nil {
		t.Fatal("SendMessage to closed server succeeded")
	}
	if strings.Contains(err.Error(), "secret-token") {
		t.Errorf("error leaks token: %v", err)
	}
}

func TestSendMessage_RateLimited(t *testing.T) {
	t.Parallel()

	api := &botAPI{}
	c := newClient(t, api, telegram.WithRateLimit(0.001, 1))

	if err := c.SendMessage(context.Background(), "first"); err != nil {
		t.Fatalf("first SendMessage: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := c.SendMessage(ctx, "second"); err == nil {
		t.Fatal("second SendMessage passed the limiter")
	}
	if got := api.calls.Load(); got != 1 {
		t.Errorf("API calls = %d, want 1", got)
	}
}

func TestSendMessage_CircuitBreaker(t *testing.T) {
	t.Parallel()

	api := &botAPI{status: http.StatusInternalServerError, body: `{"ok":false,"description":"Internal"}`}
	cb := resilience.New(resilience.Config{
		Name:         "telegram",
		MaxFailures:  2,
		ResetTimeout: time.Hour,
		IsFailure:    telegram.IsBreakerFailure,
	})
	c := newClient(t, api, telegram.WithCircuitBreaker(cb))
	ctx := context.Background()

	for range 2 {
		_ = c.SendMessage(ctx, "hi")
	}
	if err := c.SendMessage(ctx, "hi"); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if got := api.calls.Load(); got != 2 {
		t.Errorf("API calls = %d, want 2", got)
	}
}

func TestIsBreakerFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"cancelled", context.Canceled, false},
		{"bad request", &telegram.APIError{StatusCode: 400}, false},
		{"bot recipient", &telegram.APIError{StatusCode: 403, Description: "bots can't send messages to bots"}, false},
		{"too many requests", &telegram.APIError{StatusCode: 429}, true},
		{"server error", &telegram.APIError{StatusCode: 503}, true},
		{"transport", errors.New("connection refused"), true},
	}
	for _, tc := range tests {
		if got := telegram.IsBreakerFailure(tc.err); got != tc.want {
			t.Errorf("%s: IsBreakerFailure = %v, want %v", tc.name, got, tc.want)
		}
	}
}

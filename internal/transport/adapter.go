package transport

import (
	"SupportDesk/entity"
	"SupportDesk/internal/lib/sl"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	apiPrefix       = "/api/v1"
	maxErrorBody    = 4 << 10
	defaultTimeout  = 10 * time.Second
	defaultAttempts = 3
)

// Adapter is the operator-side gateway to the conversation store. It owns
// the request/response channel and opens push subscriptions; it keeps no
// conversation state of its own.
type Adapter struct {
	baseURL  string
	creds    *Credentials
	client   *http.Client
	dialer   *websocket.Dialer
	timeout  time.Duration
	attempts int
	backoff  Backoff
	log      *slog.Logger
}

type Option func(*Adapter)

func WithHTTPClient(c *http.Client) Option {
	return func(a *Adapter) { a.client = c }
}

func WithTimeout(d time.Duration) Option {
	return func(a *Adapter) {
		if d > 0 {
			a.timeout = d
		}
	}
}

func WithBackoff(b Backoff) Option {
	return func(a *Adapter) { a.backoff = b }
}

// WithReadAttempts sets how many times idempotent reads are tried on network errors.
func WithReadAttempts(n int) Option {
	return func(a *Adapter) {
		if n > 0 {
			a.attempts = n
		}
	}
}

func New(baseURL string, creds *Credentials, log *slog.Logger, opts ...Option) *Adapter {
	a := &Adapter{
		baseURL:  strings.TrimRight(baseURL, "/"),
		creds:    creds,
		client:   http.DefaultClient,
		dialer:   websocket.DefaultDialer,
		timeout:  defaultTimeout,
		attempts: defaultAttempts,
		backoff:  defaultBackoff,
		log:      log.With(sl.Module("transport")),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) Credentials() *Credentials {
	return a.creds
}

func (a *Adapter) FetchConversation(ctx context.Context, id int64) (*entity.Conversation, error) {
	var conv entity.Conversation
	err := a.read(ctx, fmt.Sprintf("/conversations/%d", id), &conv)
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// ListConversations returns summaries, optionally filtered by status.
func (a *Adapter) ListConversations(ctx context.Context, status entity.Status) ([]entity.ConversationSummary, error) {
	path := "/conversations"
	if status != "" {
		path += "?status=" + url.QueryEscape(string(status))
	}
	var list []entity.ConversationSummary
	if err := a.read(ctx, path, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (a *Adapter) TakeControl(ctx context.Context, id int64) error {
	return a.do(ctx, http.MethodPost, fmt.Sprintf("/conversations/%d/take-control", id), nil, nil)
}

func (a *Adapter) SendMessage(ctx context.Context, id int64, content string) (*entity.Message, error) {
	body := struct {
		Content string `json:"content"`
	}{Content: content}

	var msg entity.Message
	if err := a.do(ctx, http.MethodPost, fmt.Sprintf("/conversations/%d/messages", id), body, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (a *Adapter) Close(ctx context.Context, id int64) error {
	return a.do(ctx, http.MethodPost, fmt.Sprintf("/conversations/%d/close", id), nil, nil)
}

// read performs an idempotent GET, retrying network failures with backoff.
func (a *Adapter) read(ctx context.Context, path string, out interface{}) error {
	var err error
	for attempt := 0; attempt < a.attempts; attempt++ {
		if attempt > 0 {
			if sleepErr := sleep(ctx, a.backoff.Delay(attempt-1)); sleepErr != nil {
				return fmt.Errorf("%w: %w", ErrNetwork, sleepErr)
			}
		}
		err = a.do(ctx, http.MethodGet, path, nil, out)
		if err == nil || !errors.Is(err, ErrNetwork) {
			return err
		}
		a.log.With(
			slog.String("path", path),
			slog.Int("attempt", attempt+1),
			sl.Err(err),
		).Debug("read failed")
	}
	return err
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

func (a *Adapter) do(ctx context.Context, method, path string, body, out interface{}) error {
	token, generation, ok := a.creds.Token()
	if !ok {
		return ErrAuthExpired
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%w: encode request: %v", ErrRejected, err)
		}
		reader = bytes.NewReader(b)
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+apiPrefix+path, reader)
	if err != nil {
		return fmt.Errorf("%w: create request: %v", ErrRejected, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	log := a.log.With(
		slog.String("method", method),
		slog.String("path", path),
	)

	t := time.Now()
	resp, err := a.client.Do(req)
	if err != nil {
		log.With(sl.Err(err)).Debug("request failed")
		return fmt.Errorf("%w: %s %s: %w", ErrNetwork, method, path, err)
	}
	defer resp.Body.Close()

	log = log.With(
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(t)),
	)

	if resp.StatusCode >= 300 {
		msg := readErrorMessage(resp.Body)
		log.With(slog.String("message", msg)).Debug("request refused")
		return a.statusError(resp.StatusCode, generation, msg)
	}

	var env envelope
	if err = json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("%w: decode response: %w", ErrNetwork, err)
	}
	if !env.Success {
		return fmt.Errorf("%w: %s", ErrRejected, env.Message)
	}
	if out != nil && len(env.Data) > 0 {
		if err = json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("%w: decode data: %w", ErrNetwork, err)
		}
	}
	log.Debug("request")
	return nil
}

func (a *Adapter) statusError(code int, generation uint64, msg string) error {
	switch {
	case code == http.StatusUnauthorized:
		if a.creds.Invalidate(generation) {
			a.log.Warn("credential expired")
		}
		return ErrAuthExpired
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	case code == http.StatusConflict:
		return fmt.Errorf("%w: %s", ErrConflict, msg)
	case code >= 400 && code < 500:
		return fmt.Errorf("%w: %s", ErrRejected, msg)
	default:
		return fmt.Errorf("%w: status %s: %s", ErrNetwork, strconv.Itoa(code), msg)
	}
}

func readErrorMessage(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	var env envelope
	if err := json.Unmarshal(b, &env); err == nil && env.Message != "" {
		return env.Message
	}
	return strings.TrimSpace(string(b))
}

package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

var ErrAuthExpired = errors.New("authentication expired")

// RedirectReason distinguishes an explicit credentials-expired server signal
// from a generic unauthorized response. Both clear stored credentials.
type RedirectReason string

const (
	ReasonTokenExpired RedirectReason = "token-expired"
	ReasonUnauthorized RedirectReason = "unauthorized"
)

const LoginPath = "/api/auth/login"

// TokenStore holds the bearer token attached to every non-login request.
type TokenStore interface {
	Token() string
	Set(tok string)
	Clear()
}

type MemTokens struct {
	mu  sync.Mutex
	tok string
}

func (m *MemTokens) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tok
}

func (m *MemTokens) Set(tok string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tok = tok
}

func (m *MemTokens) Clear() { m.Set("") }

// Client is the retrying HTTP layer: bearer injection, exponential backoff on
// transient failures, a hard wall-clock cutoff, and 401 credential recovery.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Tokens  TokenStore
	Log     *zap.SugaredLogger

	MaxRetries    int           // retries after the initial attempt
	InitialDelay  time.Duration // first backoff step
	MaxDelay      time.Duration // backoff cap
	BackoffFactor float64
	TotalTimeout  time.Duration // wall-clock bound across attempts

	// OnAuthExpired is invoked once per recovered 401 so the UI layer can
	// redirect to login.
	OnAuthExpired func(reason RedirectReason)
}

func NewClient(baseURL string, log *zap.SugaredLogger) *Client {
	return &Client{
		BaseURL:       strings.TrimRight(baseURL, "/"),
		HTTP:          &http.Client{Timeout: 15 * time.Second},
		Tokens:        &MemTokens{},
		Log:           log,
		MaxRetries:    3,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2,
		TotalTimeout:  20 * time.Second,
	}
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

type apiError struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// DoJSON sends one JSON request with retries and decodes the JSON response
// into out (ignored when out is nil). The last error or non-2xx response is
// surfaced once both the retry count and TotalTimeout are exhausted.
func (c *Client) DoJSON(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.InitialDelay
	bo.MaxInterval = c.MaxDelay
	bo.Multiplier = c.BackoffFactor
	bo.RandomizationFactor = 0.2
	bo.MaxElapsedTime = c.TotalTimeout

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.MaxRetries)), ctx)

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		if in != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if path != LoginPath {
			if tok := c.Tokens.Token(); tok != "" {
				req.Header.Set("Authorization", "Bearer "+tok)
			}
		}

		resp, err := c.HTTP.Do(req)
		if err != nil {
			c.Log.Debugw("transport retry", "path", path, "err", err)
			return err // network-level failure, retry
		}
		defer resp.Body.Close()

		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if out != nil && len(raw) > 0 {
				if err := json.Unmarshal(raw, out); err != nil {
					return backoff.Permanent(fmt.Errorf("decode response: %w", err))
				}
			}
			return nil
		case resp.StatusCode == http.StatusUnauthorized && path != LoginPath:
			return backoff.Permanent(c.authExpired(raw))
		case retryableStatus(resp.StatusCode):
			c.Log.Debugw("transport retry", "path", path, "status", resp.StatusCode)
			return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
		default:
			return backoff.Permanent(fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(raw))))
		}
	}

	return backoff.Retry(op, policy)
}

// authExpired clears credentials and reports why. A TOKEN_EXPIRED body code is
// the server's explicit session-expiry signal; anything else is a generic
// unauthorized.
func (c *Client) authExpired(raw []byte) error {
	reason := ReasonUnauthorized
	var ae apiError
	if json.Unmarshal(raw, &ae) == nil && ae.Code == "TOKEN_EXPIRED" {
		reason = ReasonTokenExpired
	}
	c.Tokens.Clear()
	if c.OnAuthExpired != nil {
		c.OnAuthExpired(reason)
	}
	return fmt.Errorf("%w (%s)", ErrAuthExpired, reason)
}

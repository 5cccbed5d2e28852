package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultTimeout       = 15 * time.Second
	defaultRatePerSecond = 5
	maxErrorBody         = 4 << 10
)

// ErrNotAuthenticated is returned, without any request being sent, when no
// credential is available for an authorized call.
var ErrNotAuthenticated = errors.New("no authenticated user")

// TokenSource supplies the bearer credential issued by the identity provider.
// An empty token means nobody is signed in.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed credential.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }

// TokenFile reads the credential from a file on every call, so a token
// refreshed by an external sign-in helper is picked up. A missing file means
// nobody is signed in.
type TokenFile string

func (f TokenFile) Token(context.Context) (string, error) {
	b, err := os.ReadFile(string(f))
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read token file %s: %w", string(f), err)
	}
	return strings.TrimSpace(string(b)), nil
}

// StatusError is returned for a non-2xx response.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: server responded with %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Options configures a Client.
type Options struct {
	BaseURL       string
	Tokens        TokenSource
	Timeout       time.Duration
	RatePerSecond float64
	HTTPClient    *http.Client
}

// Client calls the sleep-wellness backend. Every call is authorized with a
// bearer token and rate limited. Nothing is retried.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	tokens      TokenSource
	userAgent   string
}

// NewClient creates a new backend client.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	perSecond := opts.RatePerSecond
	if perSecond <= 0 {
		perSecond = defaultRatePerSecond
	}
	tokens := opts.Tokens
	if tokens == nil {
		tokens = StaticToken("")
	}
	return &Client{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		httpClient:  httpClient,
		rateLimiter: rate.NewLimiter(rate.Limit(perSecond), 1),
		tokens:      tokens,
		userAgent:   "sleepwell-companion/1.0",
	}
}

type reminderBody struct {
	PreferredSleepTime string `json:"preferred_sleep_time"`
}

type suggestionBody struct {
	SuggestedTime string `json:"suggested_time"`
}

type tokenBody struct {
	Token string `json:"token"`
}

type questBody struct {
	Quest string `json:"quest"`
}

// GetReminder returns the saved preferred sleep time ("HH:MM"), or "" if none is saved.
func (c *Client) GetReminder(ctx context.Context) (string, error) {
	var out reminderBody
	if err := c.do(ctx, http.MethodGet, "/get_reminder", nil, &out); err != nil {
		return "", fmt.Errorf("failed to get reminder: %w", err)
	}
	return out.PreferredSleepTime, nil
}

// SetReminder saves the preferred sleep time.
func (c *Client) SetReminder(ctx context.Context, preferred string) error {
	if err := c.do(ctx, http.MethodPost, "/set_reminder", reminderBody{PreferredSleepTime: preferred}, nil); err != nil {
		return fmt.Errorf("failed to set reminder: %w", err)
	}
	return nil
}

// GetSmartReminder returns the server's suggested reminder time, or "" if it has none.
func (c *Client) GetSmartReminder(ctx context.Context) (string, error) {
	var out suggestionBody
	if err := c.do(ctx, http.MethodGet, "/get_smart_reminder", nil, &out); err != nil {
		return "", fmt.Errorf("failed to get smart reminder: %w", err)
	}
	return out.SuggestedTime, nil
}

// TriggerPush asks the backend to push the reminder to the user's registered devices.
func (c *Client) TriggerPush(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPost, "/trigger_fcm", struct{}{}, nil); err != nil {
		return fmt.Errorf("failed to trigger push: %w", err)
	}
	return nil
}

// StoreDeviceToken registers a push-messaging device token for the user.
func (c *Client) StoreDeviceToken(ctx context.Context, token string) error {
	if err := c.do(ctx, http.MethodPost, "/store_fcm_token", tokenBody{Token: token}, nil); err != nil {
		return fmt.Errorf("failed to store device token: %w", err)
	}
	return nil
}

// LogQuestProgress records progress on a quest.
func (c *Client) LogQuestProgress(ctx context.Context, quest string) error {
	if err := c.do(ctx, http.MethodPost, "/api/quest_progress", questBody{Quest: quest}, nil); err != nil {
		return fmt.Errorf("failed to log quest progress for %s: %w", quest, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}
	if token == "" {
		return ErrNotAuthenticated
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(msg)),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

package cloud

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Retry and backoff constants.
const (
	maxRetries     = 4
	baseBackoff    = 1 * time.Second
	maxBackoff     = 30 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.25
)

// errNoToken marks token failures, which are never retried.
var errNoToken = errors.New("obtaining token")

// TokenSource provides bearer tokens.
type TokenSource interface {
	Token() (string, error)
}

// Client talks to one bucket. Every key is stored under root.
type Client struct {
	baseURL    string
	root       string
	httpClient *http.Client
	token      TokenSource
	logger     *slog.Logger
	userAgent  string

	// sleepFunc waits between retries. Tests override it to avoid delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
	nowFunc   func() time.Time
}

// NewClient creates a client for baseURL ({endpoint}/{bucket}). Keys are
// stored under root, which may be empty.
func NewClient(
	baseURL, root string, httpClient *http.Client, token TokenSource, logger *slog.Logger, userAgent string,
) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		root:       strings.Trim(root, "/"),
		httpClient: httpClient,
		token:      token,
		logger:     logger,
		userAgent:  userAgent,
		sleepFunc:  timeSleep,
		nowFunc:    time.Now,
	}
}

// request describes one logical call; do replays it on retry.
type request struct {
	method      string
	key         string
	query       url.Values
	body        io.ReadSeeker
	contentType string
}

// do executes a request with retry. The caller closes the response body.
func (c *Client) do(ctx context.Context, r request) (*http.Response, error) {
	target := c.objectURL(r.key)
	if len(r.query) > 0 {
		target += "?" + r.query.Encode()
	}

	var attempt int
	for {
		if err := rewind(r.body); err != nil {
			return nil, err
		}

		resp, err := c.doOnce(ctx, r, target)
		if err != nil {
			if errors.Is(err, errNoToken) {
				return nil, fmt.Errorf("cloud: %s %s: %w", r.method, r.key, err)
			}

			if ctx.Err() != nil {
				return nil, fmt.Errorf("cloud: request canceled: %w", ctx.Err())
			}

			if attempt < maxRetries {
				backoff := c.calcBackoff(attempt)
				c.logger.Warn("retrying after network error",
					slog.String("method", r.method),
					slog.String("key", r.key),
					slog.Int("attempt", attempt+1),
					slog.Duration("backoff", backoff),
					slog.String("error", err.Error()),
				)

				if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
					return nil, fmt.Errorf("cloud: request canceled: %w", sleepErr)
				}

				attempt++

				continue
			}

			return nil, fmt.Errorf("cloud: %s %s failed after %d retries: %w", r.method, r.key, maxRetries, err)
		}

		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			c.logger.Debug("request succeeded",
				slog.String("method", r.method),
				slog.String("key", r.key),
				slog.Int("status", resp.StatusCode),
			)

			return resp, nil
		}

		errBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()

		if readErr != nil {
			errBody = []byte("(failed to read response body)")
		}

		if isRetryable(resp.StatusCode) && attempt < maxRetries {
			backoff := c.retryBackoff(resp, attempt)
			c.logger.Warn("retrying after HTTP error",
				slog.String("method", r.method),
				slog.String("key", r.key),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			if err := c.sleepFunc(ctx, backoff); err != nil {
				return nil, fmt.Errorf("cloud: request canceled: %w", err)
			}

			attempt++

			continue
		}

		return nil, &Error{
			StatusCode: resp.StatusCode,
			RequestID:  resp.Header.Get("X-Request-Id"),
			Message:    strings.TrimSpace(string(errBody)),
			Err:        classifyStatus(resp.StatusCode),
		}
	}
}

func (c *Client) doOnce(ctx context.Context, r request, target string) (*http.Response, error) {
	var body io.Reader
	if r.body != nil {
		body = r.body
	}

	req, err := http.NewRequestWithContext(ctx, r.method, target, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	if c.token != nil {
		tok, err := c.token.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errNoToken, err)
		}

		req.Header.Set("Authorization", "Bearer "+tok)
	}

	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}

	return c.httpClient.Do(req)
}

// rootPrefix is the key prefix of every object this client owns.
func (c *Client) rootPrefix() string {
	if c.root == "" {
		return ""
	}

	return c.root + "/"
}

// fullKey prefixes key with the client's root. Trailing slashes are kept so
// listing prefixes stay exact.
func (c *Client) fullKey(key string) string {
	return c.rootPrefix() + key
}

// objectURL returns the URL of key, or of the bucket when key is empty.
func (c *Client) objectURL(key string) string {
	if key == "" {
		return c.baseURL
	}

	segments := strings.Split(c.fullKey(key), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}

	return c.baseURL + "/" + strings.Join(segments, "/")
}

// retryBackoff honours Retry-After on 429 and 503.
func (c *Client) retryBackoff(resp *http.Response, attempt int) time.Duration {
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}

	return c.calcBackoff(attempt)
}

// calcBackoff computes exponential backoff with ±25% jitter.
func (c *Client) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

// rewind seeks a replayable body back to its start before each attempt.
func rewind(body io.ReadSeeker) error {
	if body == nil {
		return nil
	}

	if _, err := body.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("cloud: rewinding request body: %w", err)
	}

	return nil
}

// timeSleep waits for d or until ctx is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// drain discards and closes a response body so the connection is reused.
func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

// errorIsNotFound reports whether err is a 404 from the store.
func errorIsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

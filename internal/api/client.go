// Package api is the HTTP client for the review backend: the three-step
// image submission protocol, the retry-images call, and the pull-based task
// feed. Every request to the backend carries a bearer token obtained from
// the token provider.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nuance-sudo/drawing-practice-agent-gch4/internal/review"
)

// TokenProvider supplies a bearer token for one request. The identity
// provider itself is an external collaborator; callers inject whatever
// implementation their session layer offers.
type TokenProvider func(ctx context.Context) (string, error)

// StaticToken wraps a fixed token string as a TokenProvider.
func StaticToken(token string) TokenProvider {
	token = strings.TrimSpace(token)
	return func(ctx context.Context) (string, error) {
		if token == "" {
			return "", fmt.Errorf("bearer token is empty")
		}
		return token, nil
	}
}

// HTTPError is a non-2xx backend response that was not retried away.
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// UploadTarget is the backend's answer to an upload authorization request:
// a pre-signed target for the raw bytes and the public location the created
// task will reference.
type UploadTarget struct {
	UploadURL string `json:"upload_url"`
	PublicURL string `json:"public_url"`
}

type ClientOptions struct {
	BaseURL       string
	TokenProvider TokenProvider
	HTTPClient    *http.Client
	UserAgent     string
	MaxRetries    int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
}

type Client struct {
	baseURL       string
	tokenProvider TokenProvider
	httpClient    *http.Client
	userAgent     string
	maxRetries    int
	baseDelay     time.Duration
	maxDelay      time.Duration
}

func NewClient(opts ClientOptions) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "http://localhost:8000"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	return &Client{
		baseURL:       baseURL,
		tokenProvider: opts.TokenProvider,
		httpClient:    httpClient,
		userAgent:     strings.TrimSpace(opts.UserAgent),
		maxRetries:    maxRetries,
		baseDelay:     baseDelay,
		maxDelay:      maxDelay,
	}
}

// CreateUploadURL requests an upload authorization for the given content
// type. Step one of the submission protocol.
func (c *Client) CreateUploadURL(ctx context.Context, contentType string) (UploadTarget, error) {
	q := url.Values{}
	q.Set("content_type", contentType)
	var out UploadTarget
	err := c.doJSON(ctx, http.MethodGet, "/reviews/upload-url?"+q.Encode(), nil, &out)
	return out, err
}

// UploadObject transfers the raw bytes directly to the pre-signed target.
// Step two of the submission protocol. The target URL is self-authorizing,
// so no bearer token is attached.
func (c *Client) UploadObject(ctx context.Context, uploadURL, contentType string, body []byte) error {
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", contentType)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries {
				if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}
		payload, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}
		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			return nil
		}
		if retriable(resp.StatusCode) && attempt < c.maxRetries {
			if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}
		return &HTTPError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(payload))}
	}
}

// CreateReview asks the backend to create the task record referencing the
// uploaded object. Step three of the submission protocol. The returned
// document is the created task representation; authoritative state still
// arrives through the push channel.
func (c *Client) CreateReview(ctx context.Context, publicURL string) (review.Document, error) {
	body := map[string]any{"image_url": publicURL}
	var raw map[string]any
	if err := c.doJSON(ctx, http.MethodPost, "/reviews", body, &raw); err != nil {
		return review.Document{}, err
	}
	return documentFromPayload(raw), nil
}

// RetryImages re-requests generation of the derived example/annotated images
// for an already-reviewed task. Idempotent from the caller's perspective;
// the result surfaces through the push channel, not the response body.
func (c *Client) RetryImages(ctx context.Context, taskID string) error {
	path := "/reviews/" + url.PathEscape(taskID) + "/retry-images"
	return c.doJSON(ctx, http.MethodPost, path, nil, nil)
}

// ListReviews fetches the caller's tasks over the pull-based feed.
func (c *Client) ListReviews(ctx context.Context) ([]review.Document, error) {
	var out struct {
		Tasks []map[string]any `json:"tasks"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/reviews", nil, &out); err != nil {
		return nil, err
	}
	docs := make([]review.Document, 0, len(out.Tasks))
	for _, raw := range out.Tasks {
		docs = append(docs, documentFromPayload(raw))
	}
	return docs, nil
}

// GetReview fetches one task. A 404 wraps review.ErrNotFound; callers treat
// that as absence, not failure.
func (c *Client) GetReview(ctx context.Context, taskID string) (*review.Document, error) {
	var raw map[string]any
	err := c.doJSON(ctx, http.MethodGet, "/reviews/"+url.PathEscape(taskID), nil, &raw)
	if err != nil {
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("task %s: %w", taskID, review.ErrNotFound)
		}
		return nil, err
	}
	doc := documentFromPayload(raw)
	return &doc, nil
}

func documentFromPayload(raw map[string]any) review.Document {
	id, _ := raw["task_id"].(string)
	if id == "" {
		id, _ = raw["id"].(string)
	}
	return review.Document{ID: id, Data: raw}
}

func (c *Client) doJSON(ctx context.Context, method, requestPath string, body any, out any) error {
	if c.tokenProvider == nil {
		return fmt.Errorf("token provider is required")
	}
	token, err := c.tokenProvider(ctx)
	if err != nil {
		return fmt.Errorf("obtain bearer token: %w", err)
	}
	var bodyBytes []byte
	if body != nil {
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	correlationID := uuid.NewString()

	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("X-Correlation-Id", correlationID)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries {
				if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}
		payload, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(payload) == 0 {
				return nil
			}
			return json.Unmarshal(payload, out)
		}

		if retriable(resp.StatusCode) && attempt < c.maxRetries {
			if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}

		var errPayload struct {
			Code    string `json:"code"`
			Message string `json:"message"`
			Detail  string `json:"detail"`
		}
		_ = json.Unmarshal(payload, &errPayload)
		message := errPayload.Message
		if message == "" {
			message = errPayload.Detail
		}
		if message == "" {
			message = strings.TrimSpace(string(payload))
		}
		return &HTTPError{StatusCode: resp.StatusCode, Code: errPayload.Code, Message: message}
	}
}

func retriable(status int) bool {
	return status == http.StatusTooManyRequests || (status >= 500 && status <= 599)
}

func (c *Client) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		if retryAfter > c.maxDelay {
			return c.maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	if delay > c.maxDelay {
		return c.maxDelay
	}
	return delay
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := time.Parse(time.RFC1123, header); err == nil {
		if delta := time.Until(ts); delta > 0 {
			return delta
		}
	}
	return 0
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Package karakeep is a minimal client for the Karakeep bookmarks API,
// covering just the calls the export pump needs.
package karakeep

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// DefaultBaseURL is the hosted Karakeep instance.
const DefaultBaseURL = "https://try.karakeep.app"

// requestTimeout caps every API call, the only deadline the export path has.
const requestTimeout = 30 * time.Second

// Client talks to the Karakeep REST API with bearer-token auth.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewClient creates an API client. Empty baseURL falls back to the hosted
// instance.
func NewClient(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: requestTimeout},
	}
}

// Bookmark is the create-bookmark payload.
type Bookmark struct {
	Title   string `json:"title"`
	Summary string `json:"summary,omitempty"`
	Type    string `json:"type"`
	URL     string `json:"url"`
}

// CreatedBookmark is the relevant part of a successful create response.
type CreatedBookmark struct {
	ID string `json:"id"`
}

// Tag is one entry of the destination's tag directory.
type Tag struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// TagRef attaches a tag to a bookmark.
type TagRef struct {
	TagID   string `json:"tagId"`
	TagName string `json:"tagName"`
}

// APIError is a structured error response from the API.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	switch {
	case e.Code != "" && e.Message != "":
		return fmt.Sprintf("%s: %s (status %d)", e.Code, e.Message, e.StatusCode)
	case e.Message != "":
		return fmt.Sprintf("%s (status %d)", e.Message, e.StatusCode)
	default:
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
}

// Retryable reports whether the request may succeed on a later attempt:
// rate limiting and upstream unavailability do, client errors do not.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode == http.StatusServiceUnavailable ||
		e.StatusCode == http.StatusGatewayTimeout
}

// IsRetryable classifies an error from any client call: retryable API
// statuses, network timeouts and refused/reset connections.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "EOF")
}

// CreateBookmark creates a link bookmark and returns its id.
func (c *Client) CreateBookmark(ctx context.Context, b Bookmark) (*CreatedBookmark, error) {
	var created CreatedBookmark
	err := c.call(ctx, http.MethodPost, "/api/v1/bookmarks", b, http.StatusCreated, &created)
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// ListTags returns the destination's full tag directory.
func (c *Client) ListTags(ctx context.Context) ([]Tag, error) {
	var resp struct {
		Tags []Tag `json:"tags"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/tags", nil, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return resp.Tags, nil
}

// AttachTags adds tags to an existing bookmark.
func (c *Client) AttachTags(ctx context.Context, bookmarkID string, tags []TagRef) error {
	body := struct {
		Tags []TagRef `json:"tags"`
	}{Tags: tags}
	return c.call(ctx, http.MethodPost, "/api/v1/bookmarks/"+bookmarkID+"/tags", body, http.StatusOK, nil)
}

// call performs one JSON round trip and decodes the result into out when
// the expected status arrives, or into an APIError otherwise.
func (c *Client) call(ctx context.Context, method, path string, payload any, expect int, out any) error {
	var body io.Reader = http.NoBody
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != expect {
		return decodeError(resp.StatusCode, data)
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// decodeError keeps the destination's structured code/message when the
// body carries one, falling back to the raw snippet.
func decodeError(status int, body []byte) error {
	apiErr := &APIError{StatusCode: status}
	if err := json.Unmarshal(body, apiErr); err != nil || (apiErr.Code == "" && apiErr.Message == "") {
		if msg := strings.TrimSpace(string(body)); msg != "" && len(msg) < 200 {
			apiErr.Message = msg
		}
	}
	return apiErr
}

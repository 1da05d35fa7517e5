package pocket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultBaseURL is the production API endpoint.
const DefaultBaseURL = "https://getpocket.com"

// ErrServerBusy indicates the API responded with 503. It is the only
// HTTP-level failure worth retrying the same page for.
var ErrServerBusy = errors.New("server busy")

// Client talks to the Pocket v3 API using form-encoded POST requests.
type Client struct {
	baseURL     string
	consumerKey string
	accessToken string
	client      *http.Client
}

// NewClient creates an API client. Empty baseURL falls back to the
// production endpoint, zero timeout disables the client-side deadline.
func NewClient(baseURL, consumerKey, accessToken string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		consumerKey: consumerKey,
		accessToken: accessToken,
		client:      &http.Client{Timeout: timeout},
	}
}

// Stats holds account-level counters from /v3/stats.
type Stats struct {
	CountList   int `json:"count_list"`
	CountUnread int `json:"count_unread"`
	CountRead   int `json:"count_read"`
}

// GetPage fetches a single page of saved items at the given offset.
// Items come back oldest first with complete details, all states included.
func (c *Client) GetPage(ctx context.Context, count, offset int) (*Page, error) {
	form := url.Values{
		"consumer_key": {c.consumerKey},
		"access_token": {c.accessToken},
		"sort":         {"oldest"},
		"state":        {"all"},
		"detailType":   {"complete"},
		"count":        {strconv.Itoa(count)},
		"offset":       {strconv.Itoa(offset)},
	}

	body, err := c.postForm(ctx, "/v3/get", form)
	if err != nil {
		return nil, err
	}

	page, err := decodePage(body)
	if err != nil {
		return nil, fmt.Errorf("decode page at offset %d: %w", offset, err)
	}
	return page, nil
}

// FetchStats retrieves account counters, used for progress reporting only.
func (c *Client) FetchStats(ctx context.Context) (*Stats, error) {
	form := url.Values{
		"consumer_key": {c.consumerKey},
		"access_token": {c.accessToken},
	}

	body, err := c.postForm(ctx, "/v3/stats", form)
	if err != nil {
		return nil, err
	}

	stats, err := decodeStats(body)
	if err != nil {
		return nil, fmt.Errorf("decode stats: %w", err)
	}
	return stats, nil
}

// RequestToken starts the OAuth flow and returns a request token the user
// has to approve at AuthorizeURL.
func (c *Client) RequestToken(ctx context.Context, redirectURI string) (string, error) {
	form := url.Values{
		"consumer_key": {c.consumerKey},
		"redirect_uri": {redirectURI},
	}

	body, err := c.postForm(ctx, "/v3/oauth/request", form)
	if err != nil {
		return "", err
	}

	values, err := url.ParseQuery(strings.TrimSpace(string(body)))
	if err != nil {
		return "", fmt.Errorf("parse oauth response: %w", err)
	}
	code := values.Get("code")
	if code == "" {
		return "", errors.New("oauth response has no request token")
	}
	return code, nil
}

// AccessToken exchanges an approved request token for an access token and
// the account username.
func (c *Client) AccessToken(ctx context.Context, requestToken string) (token, username string, err error) {
	form := url.Values{
		"consumer_key": {c.consumerKey},
		"code":         {requestToken},
	}

	body, err := c.postForm(ctx, "/v3/oauth/authorize", form)
	if err != nil {
		return "", "", err
	}

	values, err := url.ParseQuery(strings.TrimSpace(string(body)))
	if err != nil {
		return "", "", fmt.Errorf("parse oauth response: %w", err)
	}
	if values.Get("access_token") == "" {
		return "", "", errors.New("oauth response has no access token")
	}
	return values.Get("access_token"), values.Get("username"), nil
}

// AuthorizeURL builds the page the user visits to approve a request token.
func (c *Client) AuthorizeURL(requestToken, redirectURI string) string {
	return fmt.Sprintf("%s/auth/authorize?request_token=%s&redirect_uri=%s",
		c.baseURL, url.QueryEscape(requestToken), url.QueryEscape(redirectURI))
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF8")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusServiceUnavailable {
		return nil, fmt.Errorf("post %s: %w", path, ErrServerBusy)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("post %s: unexpected status code %d", path, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return body, nil
}

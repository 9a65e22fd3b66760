package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/clipcast/clipcast/backend/account-service/internal/platform"
)

// Client talks to the binding backend, the system of record for which
// platform accounts are bound. It owns transport timeouts; business policy
// (when to refresh, when to retry) lives with the callers.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a backend client. baseURL is the API root, e.g.
// "http://localhost:8080/api/v1".
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// AccountEntry is one platform's binding record as the backend reports it.
type AccountEntry struct {
	Connected   bool   `json:"connected"`
	Username    string `json:"username"`
	Avatar      string `json:"avatar"`
	ConnectedAt string `json:"connected_at"`
}

// LegacyUser is the primary-platform identity from /auth/status.
type LegacyUser struct {
	MID    string `json:"mid"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

// LegacyStatus reports whether the primary platform session is connected.
type LegacyStatus struct {
	Connected bool
	User      *LegacyUser
}

type accountsEnvelope struct {
	Code int                     `json:"code"`
	Data map[string]AccountEntry `json:"data"`
}

type statusEnvelope struct {
	Code int `json:"code"`
	Data struct {
		BilibiliConnected bool        `json:"bilibili_connected"`
		BilibiliUser      *LegacyUser `json:"bilibili_user"`
	} `json:"data"`
}

type messageEnvelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// FetchAccounts retrieves the binding status map for all platforms in one
// call. A platform absent from the returned map means "unknown/unchanged",
// not "unbound".
func (c *Client) FetchAccounts(ctx context.Context) (map[platform.Platform]AccountEntry, error) {
	var env accountsEnvelope
	if err := c.get(ctx, "/auth/accounts", &env); err != nil {
		return nil, err
	}
	if env.Code != 200 {
		return nil, &ApplicationError{Code: env.Code}
	}
	out := make(map[platform.Platform]AccountEntry, len(env.Data))
	for k, v := range env.Data {
		out[platform.Platform(k)] = v
	}
	return out, nil
}

// FetchLegacyStatus retrieves the primary-platform session state used by the
// legacy identity path.
func (c *Client) FetchLegacyStatus(ctx context.Context) (*LegacyStatus, error) {
	var env statusEnvelope
	if err := c.get(ctx, "/auth/status", &env); err != nil {
		return nil, err
	}
	if env.Code != 200 {
		return nil, &ApplicationError{Code: env.Code}
	}
	return &LegacyStatus{Connected: env.Data.BilibiliConnected, User: env.Data.BilibiliUser}, nil
}

// AuthorizeURL returns the browser-navigable authorization URL for the
// platform. It is opened in the authorization surface, never fetched here.
func (c *Client) AuthorizeURL(p platform.Platform) string {
	return fmt.Sprintf("%s/auth/%s/authorize", c.baseURL, p)
}

// Disconnect unbinds the platform account server-side.
func (c *Client) Disconnect(ctx context.Context, p platform.Platform) error {
	var env messageEnvelope
	if err := c.post(ctx, fmt.Sprintf("/auth/%s/disconnect", p), &env); err != nil {
		return err
	}
	if env.Code != 200 {
		return &ApplicationError{Code: env.Code, Message: env.Message}
	}
	return nil
}

// Logout invalidates the legacy/primary-platform session server-side.
func (c *Client) Logout(ctx context.Context) error {
	var env messageEnvelope
	if err := c.post(ctx, "/auth/logout", &env); err != nil {
		return err
	}
	if env.Code != 200 {
		return &ApplicationError{Code: env.Code, Message: env.Message}
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, v interface{}) error {
	return c.do(ctx, http.MethodGet, path, v)
}

func (c *Client) post(ctx context.Context, path string, v interface{}) error {
	return c.do(ctx, http.MethodPost, path, v)
}

func (c *Client) do(ctx context.Context, method, path string, v interface{}) error {
	op := method + " " + path
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		// try the envelope first so application rejections keep their message
		var env messageEnvelope
		if json.Unmarshal(b, &env) == nil && env.Code != 0 && env.Code != 200 {
			return &ApplicationError{Code: env.Code, Message: env.Message}
		}
		return &ApplicationError{Code: resp.StatusCode, Message: strings.TrimSpace(string(b))}
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	return nil
}

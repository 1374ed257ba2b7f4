// Package api is a client for the conference backend: admin listings,
// login, public registration and the email uniqueness check.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"munportal/internal/logging"
	"munportal/internal/metrics"
)

// maxBody bounds response bodies; screenshots arrive base64 encoded.
const maxBody = 16 << 20

// TokenSource yields the admin bearer token, "" when logged out.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

type Client struct {
	BaseURL string
	HTTP    *http.Client
	Tokens  TokenSource
	Logger  logging.Logger
}

// New returns a client. If httpClient is nil, a default with 15s timeout is used.
func New(baseURL string, httpClient *http.Client, tokens TokenSource, logger logging.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    httpClient,
		Tokens:  tokens,
		Logger:  logger,
	}
}

type request struct {
	method   string
	path     string
	endpoint string // metrics label
	query    url.Values
	body     any
	admin    bool
}

// do performs req and returns the status and body of any non-401 response.
func (c *Client) do(ctx context.Context, req request) (int, []byte, error) {
	u := c.BaseURL + req.path
	if len(req.query) > 0 {
		u += "?" + req.query.Encode()
	}

	var body io.Reader
	if req.body != nil {
		b, err := json.Marshal(req.body)
		if err != nil {
			return 0, nil, fmt.Errorf("encode %s body: %w", req.endpoint, err)
		}
		body = bytes.NewReader(b)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, u, body)
	if err != nil {
		return 0, nil, err
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Request-ID", uuid.NewString())
	if req.body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	if req.admin {
		token, err := c.token(ctx)
		if err != nil {
			return 0, nil, err
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		metrics.ObserveAPI(req.endpoint, req.method, "error", time.Since(start))
		c.Logger.Warn("api request failed", "endpoint", req.endpoint, "error", err)
		return 0, nil, &NetworkError{Op: req.method + " " + req.endpoint, Err: err}
	}
	defer resp.Body.Close()
	metrics.ObserveAPI(req.endpoint, req.method, strconv.Itoa(resp.StatusCode), time.Since(start))
	c.Logger.Debug("api request", "endpoint", req.endpoint, "status", resp.StatusCode,
		"request_id", httpReq.Header.Get("X-Request-ID"))

	if resp.StatusCode == http.StatusUnauthorized {
		return resp.StatusCode, nil, ErrUnauthorized
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return resp.StatusCode, nil, &NetworkError{Op: "read " + req.endpoint, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, data, statusError(resp.StatusCode, data)
	}
	return resp.StatusCode, data, nil
}

func (c *Client) token(ctx context.Context) (string, error) {
	if c.Tokens == nil {
		return "", ErrUnauthorized
	}
	token, err := c.Tokens.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("read admin token: %w", err)
	}
	if token == "" {
		return "", ErrUnauthorized
	}
	return token, nil
}

// decodeInto unmarshals a success body into out. A body that does not fit
// out is reported as an error payload when it is one, else ErrMalformed.
func decodeInto(status int, body []byte, out any) error {
	if err := json.Unmarshal(body, out); err != nil {
		if e := errorPayload(status, body); e != nil {
			return e
		}
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// ListRegistrations returns the registrations of kind matching f.
func (c *Client) ListRegistrations(ctx context.Context, kind Kind, f Filter) ([]Registration, error) {
	status, body, err := c.do(ctx, request{
		method:   http.MethodGet,
		path:     kind.adminPath(),
		endpoint: "admin_list",
		query:    f.Query(),
		admin:    true,
	})
	if err != nil {
		return nil, err
	}

	var regs []Registration
	if err := decodeInto(status, body, &regs); err != nil {
		return nil, err
	}
	if regs == nil {
		regs = []Registration{}
	}
	return regs, nil
}

func (c *Client) GetRegistration(ctx context.Context, kind Kind, id string) (*Registration, error) {
	status, body, err := c.do(ctx, request{
		method:   http.MethodGet,
		path:     kind.adminPath() + "/" + url.PathEscape(id),
		endpoint: "admin_detail",
		admin:    true,
	})
	if err != nil {
		return nil, err
	}

	var reg Registration
	if err := decodeInto(status, body, &reg); err != nil {
		return nil, err
	}
	if reg.ID == "" {
		if e := errorPayload(status, body); e != nil {
			return nil, e
		}
		return nil, fmt.Errorf("%w: registration without id", ErrMalformed)
	}
	if reg.Kind == "" {
		reg.Kind = kind
	}
	return &reg, nil
}

// GetScreenshot returns the raw payment proof reference of a registration.
// The value is not validated here.
func (c *Client) GetScreenshot(ctx context.Context, kind Kind, id string) (string, error) {
	status, body, err := c.do(ctx, request{
		method:   http.MethodGet,
		path:     kind.adminPath() + "/" + url.PathEscape(id) + "/screenshot",
		endpoint: "admin_screenshot",
		admin:    true,
	})
	if err != nil {
		return "", err
	}

	var out struct {
		Screenshot string `json:"screenshot"`
	}
	if err := decodeInto(status, body, &out); err != nil {
		return "", err
	}
	if out.Screenshot == "" {
		if e := errorPayload(status, body); e != nil {
			return "", e
		}
	}
	return out.Screenshot, nil
}

// Login exchanges credentials for a bearer token. The token is not stored.
func (c *Client) Login(ctx context.Context, creds Credentials) (string, error) {
	status, body, err := c.do(ctx, request{
		method:   http.MethodPost,
		path:     "/api/admin/login",
		endpoint: "admin_login",
		body:     creds,
	})
	if err != nil {
		return "", err
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := decodeInto(status, body, &out); err != nil {
		return "", err
	}
	if out.Token == "" {
		if e := errorPayload(status, body); e != nil {
			return "", e
		}
		return "", fmt.Errorf("%w: login response without token", ErrMalformed)
	}
	return out.Token, nil
}

// Me returns the admin the stored token belongs to.
func (c *Client) Me(ctx context.Context) (*Admin, error) {
	status, body, err := c.do(ctx, request{
		method:   http.MethodGet,
		path:     "/api/admin/me",
		endpoint: "admin_me",
		admin:    true,
	})
	if err != nil {
		return nil, err
	}

	var a Admin
	if err := decodeInto(status, body, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// Register submits a public registration.
func (c *Client) Register(ctx context.Context, kind Kind, reg Registration) (*Submission, error) {
	if !kind.AcceptsRegistrations() {
		return nil, fmt.Errorf("%s registrations are closed", kind)
	}
	status, body, err := c.do(ctx, request{
		method:   http.MethodPost,
		path:     "/api/" + string(kind) + "-register",
		endpoint: "register",
		body:     reg,
	})
	if err != nil {
		return nil, err
	}

	var sub Submission
	if err := decodeInto(status, body, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// EmailExists reports whether a registration already uses email.
func (c *Client) EmailExists(ctx context.Context, email string) (bool, error) {
	status, body, err := c.do(ctx, request{
		method:   http.MethodGet,
		path:     "/api/check-email",
		endpoint: "check_email",
		query:    url.Values{"email": []string{email}},
	})
	if err != nil {
		return false, err
	}

	var out struct {
		Exists *bool `json:"exists"`
	}
	if err := decodeInto(status, body, &out); err != nil {
		return false, err
	}
	if out.Exists == nil {
		return false, fmt.Errorf("%w: check-email response without exists", ErrMalformed)
	}
	return *out.Exists, nil
}

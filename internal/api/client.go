// Package api is the HTTP client for the printer backend
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
	"strings"
	"unicode/utf8"

	"github.com/fabdeck/fabdeck/internal/protocol"
	"github.com/fabdeck/fabdeck/internal/redact"
)

// Error is a request that reached the backend but was refused, either by
// HTTP status or by a false success flag in the envelope.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.StatusCode != 0 && e.StatusCode != http.StatusOK {
		return fmt.Sprintf("backend returned status %d: %s", e.StatusCode, e.Message)
	}
	return e.Message
}

// IsUnauthorized reports whether err is a 401 from the backend
func IsUnauthorized(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}

// envelope is the common response wrapper
type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Client calls the backend's JSON endpoints. There is no client-side
// timeout; callers bound requests through the context.
type Client struct {
	baseURL string
	http    *http.Client
	token   func() string
}

// NewClient creates a client for baseURL. token is consulted on every
// request and its value, when non-empty, is sent as a bearer token.
func NewClient(baseURL string, token func() string) *Client {
	if token == nil {
		token = func() string { return "" }
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		token:   token,
	}
}

// BaseURL returns the backend root the client was created with
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ContextList is the response of ListContexts
type ContextList struct {
	Contexts        []protocol.PrinterContext `json:"contexts"`
	ActiveContextID string                    `json:"activeContextId"`
}

// ListContexts fetches every configured printer context
func (c *Client) ListContexts(ctx context.Context) (*ContextList, error) {
	var resp struct {
		envelope
		ContextList
	}
	if err := c.do(ctx, http.MethodGet, "/api/printer-contexts", nil, &resp); err != nil {
		return nil, err
	}
	return &resp.ContextList, nil
}

// SwitchContext asks the backend to make contextID the active printer
func (c *Client) SwitchContext(ctx context.Context, contextID string) error {
	body := map[string]string{"contextId": contextID}
	return c.do(ctx, http.MethodPost, "/api/printer-contexts/switch", body, nil)
}

// Features fetches the capability flags of the active printer
func (c *Client) Features(ctx context.Context) (*protocol.PrinterFeatures, error) {
	var resp struct {
		envelope
		Features protocol.PrinterFeatures `json:"features"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/printer/features", nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Features, nil
}

// JobSource selects which job listing to fetch
type JobSource string

const (
	JobsLocal  JobSource = "local"
	JobsRecent JobSource = "recent"
)

// ListJobs fetches job files with their metadata
func (c *Client) ListJobs(ctx context.Context, source JobSource) ([]protocol.JobFile, error) {
	var resp struct {
		envelope
		Files []protocol.JobFile `json:"files"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(string(source)), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Files, nil
}

// StartJobRequest is the body of StartJob
type StartJobRequest struct {
	Filename         string                     `json:"filename"`
	Leveling         bool                       `json:"leveling"`
	StartNow         bool                       `json:"startNow"`
	MaterialMappings []protocol.MaterialMapping `json:"materialMappings,omitempty"`
}

// StartJob starts (or uploads-and-holds) a print job
func (c *Client) StartJob(ctx context.Context, req StartJobRequest) error {
	return c.do(ctx, http.MethodPost, "/api/jobs/start", req, nil)
}

// MaterialStation fetches the feeder inventory of the active printer
func (c *Client) MaterialStation(ctx context.Context) (*protocol.MaterialStationStatus, error) {
	var resp struct {
		envelope
		Status *protocol.MaterialStationStatus `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/printer/material-station", nil, &resp); err != nil {
		return nil, err
	}
	if resp.Status == nil {
		return nil, &Error{Message: "material station not available"}
	}
	return resp.Status, nil
}

// ActiveSpool fetches the spool assigned to a context. A nil spool with a
// nil error means no spool is assigned.
func (c *Client) ActiveSpool(ctx context.Context, contextID string) (*protocol.ActiveSpool, error) {
	var resp struct {
		envelope
		Spool *protocol.ActiveSpool `json:"spool"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/spoolman/active/"+url.PathEscape(contextID), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Spool, nil
}

// AuthStatus describes the backend's auth requirements
type AuthStatus struct {
	AuthRequired bool `json:"authRequired"`
	HasPassword  bool `json:"hasPassword"`
}

// AuthStatus fetches whether the backend requires a login
func (c *Client) AuthStatus(ctx context.Context) (*AuthStatus, error) {
	var resp struct {
		envelope
		AuthStatus
	}
	if err := c.do(ctx, http.MethodGet, "/api/auth/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp.AuthStatus, nil
}

// Login exchanges a password for a session token
func (c *Client) Login(ctx context.Context, password string, rememberMe bool) (string, error) {
	body := map[string]any{"password": password, "rememberMe": rememberMe}
	var resp struct {
		envelope
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", body, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", &Error{Message: "login response did not include a token"}
	}
	return resp.Token, nil
}

// Logout invalidates the current token on the backend
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/auth/logout", nil, nil)
}

const maxErrorSnippet = 200

// snippet returns body cut to at most limit bytes without splitting a rune
func snippet(body []byte, limit int) string {
	if len(body) <= limit {
		return string(body)
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return string(body[:cut]) + "..."
}

// do sends one request and decodes the envelope. out, when non-nil, must
// embed envelope so the success flag can be checked.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(bodyBytes)
	}

	reqURL := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("http request to %s: %w", reqURL, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	var env envelope
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &env); err != nil && resp.StatusCode == http.StatusOK {
			return fmt.Errorf("unmarshal response from %s: %w", path, err)
		}
	}

	if resp.StatusCode != http.StatusOK || !env.Success {
		msg := env.Error
		if msg == "" {
			msg = env.Message
		}
		if msg == "" {
			msg = snippet(respBody, maxErrorSnippet)
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &Error{StatusCode: resp.StatusCode, Message: redact.Secrets(msg)}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("unmarshal response from %s: %w", path, err)
		}
	}
	return nil
}

// Package client calls the wizard HTTP API and maps its responses back to the
// wizard error sentinels.
package client

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
	"time"

	"github.com/imyashkale/mcpwizard/internal/logger"
	"github.com/imyashkale/mcpwizard/internal/models"
	"github.com/imyashkale/mcpwizard/internal/wizard"
)

var (
	// ErrNetwork marks a transport failure or an unavailable server. The
	// request may or may not have reached the server.
	ErrNetwork = errors.New("network error")
	// ErrUnauthorized is returned when the API rejects the bearer token
	ErrUnauthorized = errors.New("unauthorized")
	// ErrRateLimited is returned when the API throttles the caller
	ErrRateLimited = errors.New("rate limited")
)

const (
	sessionsPath   = "/api/v1/wizard/sessions"
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 4 * 1024
)

// APIError is a non-2xx API response. It unwraps to the matching sentinel.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	sentinel   error
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("api returned status %d", e.StatusCode)
}

func (e *APIError) Unwrap() error {
	return e.sentinel
}

// Client is a wizard API client bound to one bearer token
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// New creates a client for the API at baseURL
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start creates a wizard session
func (c *Client) Start(ctx context.Context, description, technicalDetails string) (*models.StartWizardResponse, error) {
	var out models.StartWizardResponse
	req := models.StartWizardRequest{Description: description, TechnicalDetails: technicalDetails}
	if _, err := c.do(ctx, http.MethodPost, sessionsPath, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetState fetches a session
func (c *Client) GetState(ctx context.Context, serverId string) (*models.WizardSessionResponse, error) {
	var out models.WizardSessionResponse
	if _, err := c.do(ctx, http.MethodGet, sessionPath(serverId, ""), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// List returns the sessions of the caller's organization
func (c *Client) List(ctx context.Context) ([]models.WizardSessionResponse, error) {
	var out models.WizardSessionListResponse
	if _, err := c.do(ctx, http.MethodGet, sessionsPath, nil, &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

// SubmitTools selects tools and moves the session to env_vars
func (c *Client) SubmitTools(ctx context.Context, serverId string, toolIds []string) (*models.WizardSessionResponse, error) {
	var out models.WizardSessionResponse
	req := models.SubmitToolsRequest{SelectedToolIds: toolIds}
	if _, err := c.do(ctx, http.MethodPost, sessionPath(serverId, "/tools"), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RefineTools asks for new tool suggestions
func (c *Client) RefineTools(ctx context.Context, serverId, feedback string, toolIds []string) (*models.RefineToolsResponse, error) {
	var out models.RefineToolsResponse
	req := models.RefineToolsRequest{Feedback: feedback, ToolIds: toolIds}
	if _, err := c.do(ctx, http.MethodPost, sessionPath(serverId, "/tools/refine"), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitEnvVars submits env var values keyed by env var id
func (c *Client) SubmitEnvVars(ctx context.Context, serverId string, values map[string]string) (*models.WizardSessionResponse, error) {
	var out models.WizardSessionResponse
	req := models.SubmitEnvVarsRequest{Values: values}
	if _, err := c.do(ctx, http.MethodPost, sessionPath(serverId, "/env-vars"), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RefineEnvVars asks for new env var suggestions
func (c *Client) RefineEnvVars(ctx context.Context, serverId, feedback string) (*models.RefineEnvVarsResponse, error) {
	var out models.RefineEnvVarsResponse
	req := models.RefineEnvVarsRequest{Feedback: feedback}
	if _, err := c.do(ctx, http.MethodPost, sessionPath(serverId, "/env-vars/refine"), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GenerateCode requests the deployable artifact. When generation is still
// running the code is nil and the session is returned instead.
func (c *Client) GenerateCode(ctx context.Context, serverId string) (*models.GeneratedCode, *models.WizardSessionResponse, error) {
	var raw json.RawMessage
	status, err := c.do(ctx, http.MethodPost, sessionPath(serverId, "/code"), nil, &raw)
	if err != nil {
		return nil, nil, err
	}

	if status == http.StatusAccepted {
		var session models.WizardSessionResponse
		if err := json.Unmarshal(raw, &session); err != nil {
			return nil, nil, fmt.Errorf("failed to decode session: %w", err)
		}
		return nil, &session, nil
	}

	var out models.GenerateCodeResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, nil, fmt.Errorf("failed to decode generated code: %w", err)
	}
	return out.GeneratedCode, nil, nil
}

// Activate deploys the server and returns its endpoint and bearer token
func (c *Client) Activate(ctx context.Context, serverId string) (*models.ActivateResponse, error) {
	var out models.ActivateResponse
	if _, err := c.do(ctx, http.MethodPost, sessionPath(serverId, "/activate"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Retry re-runs the session's failed task
func (c *Client) Retry(ctx context.Context, serverId string) (*models.WizardSessionResponse, error) {
	var out models.WizardSessionResponse
	if _, err := c.do(ctx, http.MethodPost, sessionPath(serverId, "/retry"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func sessionPath(serverId, suffix string) string {
	return sessionsPath + "/" + url.PathEscape(serverId) + suffix
}

// do sends one request and decodes a 2xx body into out
func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) (int, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := decodeError(resp)
		logger.WithFields(map[string]interface{}{
			"method":      method,
			"path":        path,
			"status_code": resp.StatusCode,
			"code":        apiErr.Code,
		}).Debug("Wizard API returned an error")
		return resp.StatusCode, apiErr
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("%w: failed to decode response: %v", ErrNetwork, err)
		}
	}
	return resp.StatusCode, nil
}

func decodeError(resp *http.Response) *APIError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var body models.ErrorResponse
	_ = json.Unmarshal(raw, &body)

	return &APIError{
		StatusCode: resp.StatusCode,
		Code:       body.Error,
		Message:    body.Message,
		sentinel:   sentinelFor(resp.StatusCode, body.Error),
	}
}

// sentinelFor maps a status code, and the error code for 409s, to a sentinel
func sentinelFor(status int, code string) error {
	switch status {
	case http.StatusBadRequest:
		return wizard.ErrValidation
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	case http.StatusPaymentRequired:
		return wizard.ErrPaymentRequired
	case http.StatusNotFound:
		return wizard.ErrNotFound
	case http.StatusConflict:
		if code == "invalid_transition" {
			return wizard.ErrInvalidTransition
		}
		return wizard.ErrPreconditionFailed
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusBadGateway:
		return wizard.ErrGenerationFailure
	}
	if status >= 500 {
		return ErrNetwork
	}
	return nil
}

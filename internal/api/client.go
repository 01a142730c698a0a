// Package api talks to the remote log parsing service.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultEndpoint is the public parser API.
const DefaultEndpoint = "https://parser.rethl.net/api.php"

const (
	endpointSession       = "nexus-session"
	endpointUpload        = "nexus-upload"
	endpointProcess       = "nexus-process"
	endpointStatus        = "process-status"
	endpointGenerateToken = "generate-token"
	endpointValidateToken = "nexus-validate-token"
)

// Client is a parser API client.
type Client struct {
	endpoint   string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRateLimit caps outgoing requests per minute. Zero or less disables the cap.
func WithRateLimit(perMinute int) Option {
	return func(c *Client) {
		if perMinute <= 0 {
			c.limiter = nil
			return
		}
		burst := perMinute / 2
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), burst)
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// UploadResult is the parser's reply to a successful upload. The parser
// usually only acknowledges the file; Link and ID are set when it returns them.
type UploadResult struct {
	ID        string `json:"id"`
	Link      string `json:"link"`
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type uploadResponse struct {
	Success *bool           `json:"success"`
	ID      json.RawMessage `json:"id"`
	Link    string          `json:"link"`
	Message string          `json:"message"`
}

type tokenResponse struct {
	Success bool   `json:"success"`
	Token   string `json:"token"`
	Message string `json:"message"`
}

type validationResponse struct {
	Valid bool `json:"valid"`
}

// NewClient creates a client for the given API endpoint (the api.php URL).
func NewClient(endpoint string, opts ...Option) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	c := &Client{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the configured API URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Upload sends one log file into the remote session sessionID.
// Callers bound the attempt with ctx; an expired deadline is a KindNetwork error.
func (c *Client) Upload(ctx context.Context, sessionID, filePath, token string) (*UploadResult, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, &Error{Kind: KindRejected, Message: "failed to open log", Err: err}
	}
	defer file.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if err := writer.WriteField("session_id", sessionID); err != nil {
		return nil, &Error{Kind: KindRejected, Message: "failed to write session field", Err: err}
	}
	if err := writer.WriteField("history_token", token); err != nil {
		return nil, &Error{Kind: KindRejected, Message: "failed to write token field", Err: err}
	}

	fileField, err := writer.CreateFormFile("file", filepath.Base(filePath))
	if err != nil {
		return nil, &Error{Kind: KindRejected, Message: "failed to create file field", Err: err}
	}
	if _, err := io.Copy(fileField, file); err != nil {
		return nil, &Error{Kind: KindRejected, Message: "failed to read log", Err: err}
	}
	if err := writer.Close(); err != nil {
		return nil, &Error{Kind: KindRejected, Message: "failed to finish form", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(endpointUpload), &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	status, body, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}

	var resp uploadResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &Error{Kind: KindServer, StatusCode: status, Message: "failed to parse response", Err: err}
	}
	if resp.Success != nil && !*resp.Success {
		msg := resp.Message
		if msg == "" {
			msg = "upload refused"
		}
		if looksLikeAuthFailure(msg) {
			return nil, &Error{Kind: KindAuth, StatusCode: status, Message: msg}
		}
		return nil, &Error{Kind: KindRejected, StatusCode: status, Message: msg}
	}
	if resp.Success == nil && resp.Link == "" {
		return nil, &Error{Kind: KindServer, StatusCode: status, Message: "unexpected response"}
	}

	c.logger.Debug("upload accepted",
		zap.String("session", sessionID),
		zap.String("file", filepath.Base(filePath)),
		zap.String("link", resp.Link))
	return &UploadResult{ID: rawID(resp.ID), Link: resp.Link, SessionID: sessionID, Message: resp.Message}, nil
}

// GenerateToken asks the API for a brand new token.
func (c *Client) GenerateToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(endpointGenerateToken), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	_, body, err := c.do(ctx, req)
	if err != nil {
		return "", err
	}

	var resp tokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if !resp.Success {
		return "", fmt.Errorf("token generation failed: %s", resp.Message)
	}
	if resp.Token == "" {
		return "", fmt.Errorf("no token in response")
	}
	return resp.Token, nil
}

// ValidateToken asks the API whether token is known.
func (c *Client) ValidateToken(ctx context.Context, token string) (bool, error) {
	form := url.Values{"history_token": {token}}
	req, err := c.formRequest(ctx, endpointValidateToken, form)
	if err != nil {
		return false, err
	}

	_, body, err := c.do(ctx, req)
	if err != nil {
		if kind, ok := KindOf(err); ok && kind == KindAuth {
			return false, nil
		}
		return false, err
	}

	var resp validationResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return false, fmt.Errorf("failed to parse response: %w", err)
	}
	return resp.Valid, nil
}

// do sends req and returns the body of a 2xx response.
func (c *Client) do(ctx context.Context, req *http.Request) (int, []byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, nil, &Error{Kind: KindNetwork, Message: "rate limiter", Err: err}
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, &Error{Kind: KindNetwork, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, &Error{Kind: KindNetwork, StatusCode: resp.StatusCode, Message: "failed to read response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, nil, &Error{
			Kind:       classifyStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Message:    responseMessage(body),
		}
	}
	return resp.StatusCode, body, nil
}

func (c *Client) formRequest(ctx context.Context, endpoint string, form url.Values) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(endpoint), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req, nil
}

func (c *Client) url(endpoint string) string {
	sep := "?"
	if strings.Contains(c.endpoint, "?") {
		sep = "&"
	}
	return c.endpoint + sep + "endpoint=" + url.QueryEscape(endpoint)
}

// responseMessage extracts "message" from a JSON error body, or a trimmed raw body.
func responseMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		return payload.Message
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	return msg
}

func looksLikeAuthFailure(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "token") && (strings.Contains(lower, "invalid") || strings.Contains(lower, "expired") || strings.Contains(lower, "unknown"))
}

// rawID accepts both numeric and string ids.
func rawID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return strconv.Quote(string(raw))
}

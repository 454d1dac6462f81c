// Package gateway provides typed request/response functions for the BSP
// backend REST API: conversations, message dispatch, templates, the
// dashboard snapshot, and the Facebook OAuth code exchange.
//
// Every authenticated operation attaches the current session credential
// as a bearer header; a missing or expired credential fails locally with
// an AuthError before any request is made.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/sanjay8views/whatsapp-bsp-ui-nexus/internal/logging"
	"github.com/sanjay8views/whatsapp-bsp-ui-nexus/internal/model"
	"github.com/sanjay8views/whatsapp-bsp-ui-nexus/internal/session"
)

// defaultSendRate caps outbound message dispatch. The WhatsApp Cloud API
// throttles per-number throughput; staying under it client-side turns
// hard 429s into short local waits.
const defaultSendRate = rate.Limit(10)

const defaultSendBurst = 5

// Client provides HTTP methods for the BSP REST API.
// It is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	sessions   *session.Store
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(client *Client) {
		client.httpClient.Timeout = d
	}
}

// WithSendLimit overrides the outbound send rate limit.
func WithSendLimit(limit rate.Limit, burst int) Option {
	return func(client *Client) {
		client.limiter = rate.NewLimiter(limit, burst)
	}
}

// New creates a new gateway client.
// baseURL should be the backend address (e.g. "https://api.example.com").
func New(baseURL string, sessions *session.Store, opts ...Option) *Client {
	c := &Client{
		baseURL:  baseURL,
		sessions: sessions,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(defaultSendRate, defaultSendBurst),
		logger:  logging.Gateway(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the base URL of the client.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// bearerToken resolves the session credential, mapping store failures to
// the AuthError taxonomy.
func (c *Client) bearerToken() (string, error) {
	token, err := c.sessions.Token()
	if err != nil {
		switch {
		case errors.Is(err, session.ErrNoCredential):
			return "", &AuthError{Reason: "not logged in", Err: err}
		case errors.Is(err, session.ErrCredentialExpired):
			return "", &AuthError{Reason: "credential expired", Err: err}
		default:
			return "", &AuthError{Reason: "credential unavailable", Err: err}
		}
	}
	return token, nil
}

// newRequest builds an authenticated JSON request.
func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	token, err := c.bearerToken()
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	return req, nil
}

// do performs the request and decodes a 2xx JSON response into out.
// Non-2xx responses become NetworkErrors carrying the server message;
// 401/403 become AuthErrors.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := serverMessage(resp.Body)
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return &AuthError{Reason: msg, Err: &NetworkError{Status: resp.StatusCode, Message: msg}}
		}
		return &NetworkError{Status: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &NetworkError{Status: resp.StatusCode, Message: "unparseable response body", Err: err}
	}
	return nil
}

// serverMessage extracts the backend's error message from a failure body.
func serverMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(data) == 0 {
		return ""
	}
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(data, &payload) == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return string(data)
}

// LoginResult is the backend's response to a successful login.
type LoginResult struct {
	Token string `json:"token"`
	User  struct {
		ID    int64  `json:"id"`
		Email string `json:"email"`
		Name  string `json:"name"`
	} `json:"user"`
}

// Login authenticates with email and password; the returned token
// becomes the session credential.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	payload := struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}{Email: email, Password: password}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("login: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/auth/login", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var result LoginResult
	if err := c.do(req, &result); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	if result.Token == "" {
		return nil, &NetworkError{Message: "authentication failed - no token received"}
	}
	return &result, nil
}

// Dashboard fetches the account snapshot: the outbound sending phone
// number and connection status.
func (c *Client) Dashboard(ctx context.Context) (*model.Dashboard, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/dashboard", nil)
	if err != nil {
		return nil, err
	}
	var dash model.Dashboard
	if err := c.do(req, &dash); err != nil {
		return nil, fmt.Errorf("fetch dashboard: %w", err)
	}
	return &dash, nil
}

// ListConversations returns all conversations ordered by recency, each
// including its full message history as currently known server-side.
func (c *Client) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/conversations", nil)
	if err != nil {
		return nil, err
	}
	var conversations []model.Conversation
	if err := c.do(req, &conversations); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return conversations, nil
}

// SendMessageRequest is the WhatsApp dispatch payload.
type SendMessageRequest struct {
	FromPhoneNumber string `json:"fromPhoneNumber"`
	Recipient       string `json:"recipient"`
	MessageType     string `json:"messageType"`
	MessageData     any    `json:"messageData"`
}

// sendMessageResponse is the backend's dispatch envelope.
type sendMessageResponse struct {
	Success bool           `json:"success"`
	Data    *model.Message `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// SendMessage dispatches a WhatsApp message and returns the created
// message record. Failures are structured SendErrors: validation when
// the backend rejects the request shape, delivery-rejected when dispatch
// was refused, network otherwise. A 2xx response whose body cannot be
// parsed is an explicit failure, never an empty message.
func (c *Client) SendMessage(ctx context.Context, sendReq SendMessageRequest) (*model.Message, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &SendError{Reason: SendFailureNetwork, Message: "send cancelled", Err: err}
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/whatsapp/send", sendReq)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &SendError{Reason: SendFailureNetwork, Err: &NetworkError{Err: err}}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := serverMessage(resp.Body)
		reason := SendFailureNetwork
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			reason = SendFailureValidation
		}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return nil, &AuthError{Reason: msg, Err: &NetworkError{Status: resp.StatusCode, Message: msg}}
		}
		return nil, &SendError{Reason: reason, Message: msg, Err: &NetworkError{Status: resp.StatusCode, Message: msg}}
	}

	var envelope sendMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		// The server accepted the send but the body is unusable; surfacing
		// this beats pretending an empty message was created.
		return nil, &SendError{Reason: SendFailureNetwork, Message: "unparseable response body", Err: err}
	}
	if !envelope.Success || envelope.Data == nil {
		return nil, &SendError{Reason: SendFailureRejected, Message: envelope.Error}
	}

	c.logger.Debug("message dispatched",
		"message_id", envelope.Data.ID,
		"recipient", sendReq.Recipient)
	return envelope.Data, nil
}

// templatesResponse is the backend's template list envelope.
type templatesResponse struct {
	Templates []model.Template `json:"templates"`
}

// ListTemplates fetches all message templates.
func (c *Client) ListTemplates(ctx context.Context) ([]model.Template, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/fetch-templates", nil)
	if err != nil {
		return nil, err
	}
	var out templatesResponse
	if err := c.do(req, &out); err != nil {
		return nil, fmt.Errorf("fetch templates: %w", err)
	}
	return out.Templates, nil
}

// CreateTemplate submits a new template and returns the record with the
// server-assigned identity.
func (c *Client) CreateTemplate(ctx context.Context, tpl model.Template) (*model.Template, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/api/create", tpl)
	if err != nil {
		return nil, err
	}
	var created model.Template
	if err := c.do(req, &created); err != nil {
		return nil, fmt.Errorf("create template: %w", err)
	}
	return &created, nil
}

// FacebookExchangeResult is the backend's response to the OAuth code
// exchange. The token exchange itself happens server-side.
type FacebookExchangeResult struct {
	Success       bool   `json:"success"`
	WabaAccountID int64  `json:"waba_account_id,omitempty"`
	PhoneNumber   string `json:"phone_number,omitempty"`
	Message       string `json:"message,omitempty"`
}

// ExchangeFacebookCode forwards the OAuth authorization code to the
// backend, which exchanges it with Meta and stores the resulting
// business-account binding.
func (c *Client) ExchangeFacebookCode(ctx context.Context, code, redirectURI string) (*FacebookExchangeResult, error) {
	payload := struct {
		Code        string `json:"code"`
		RedirectURI string `json:"redirectUri"`
	}{Code: code, RedirectURI: redirectURI}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/auth/facebook/callback", payload)
	if err != nil {
		return nil, err
	}
	var result FacebookExchangeResult
	if err := c.do(req, &result); err != nil {
		return nil, fmt.Errorf("facebook code exchange: %w", err)
	}
	return &result, nil
}

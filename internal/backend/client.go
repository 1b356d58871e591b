// Package backend is the REST client for the Kavach service: auth, contact
// and device registration, emergency submission, and incident history.
//
// The wire protocol sometimes wraps payloads under a "data" key and
// sometimes does not; unwrap() is the single place that normalizes this.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kavach/kavach/internal/state"
)

// Error is a normalized backend failure: a network error carries Status 0,
// a non-2xx response carries its status code and the server's message.
type Error struct {
	Status  int
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("backend unreachable: %s", e.Message)
	}
	return fmt.Sprintf("backend error (%d): %s", e.Status, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// IsBackendError reports whether err is a backend Error.
func IsBackendError(err error) bool {
	var berr *Error
	return errors.As(err, &berr)
}

// Session is the auth payload returned by sign-in/sign-up.
type Session struct {
	Token string         `json:"token"`
	User  map[string]any `json:"user"`
}

// Contact is one emergency contact.
type Contact struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email,omitempty"`
}

// Device is one registered wearable.
type Device struct {
	ID       string `json:"id"`
	DeviceID string `json:"deviceId"`
}

// TriggerRequest is the emergency submission body.
type TriggerRequest struct {
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	DeviceID   string  `json:"deviceId"`
	DeviceInfo string  `json:"deviceInfo"`
}

// TriggerResponse is the emergency submission acknowledgement.
type TriggerResponse struct {
	Message         string `json:"message"`
	Status          string `json:"status,omitempty"`
	ContactsAlerted int    `json:"contactsAlerted,omitempty"`
}

// Client is the REST client. Safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *logrus.Logger

	mu    sync.RWMutex
	token string

	// onUnauthorized fires once per 401 response, anywhere in the API.
	onUnauthorized func()
}

// New creates a client for the given base URL.
func New(baseURL string, logger *logrus.Logger) *Client {
	if logger == nil {
		logger = logrus.New()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
		logger:  logger,
	}
}

// SetToken installs the bearer token attached to every request.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// OnUnauthorized registers the process-wide forced-logout callback.
func (c *Client) OnUnauthorized(fn func()) {
	c.mu.Lock()
	c.onUnauthorized = fn
	c.mu.Unlock()
}

// do executes one request and decodes the (possibly wrapped) response into
// out. A 401 anywhere fires the forced-logout callback.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return &Error{Message: "encode request", Cause: err}
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &Error{Message: "build request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	c.mu.RLock()
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	logout := c.onUnauthorized
	c.mu.RUnlock()

	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Message: err.Error(), Cause: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &Error{Status: resp.StatusCode, Message: "read response", Cause: err}
	}

	if resp.StatusCode == http.StatusUnauthorized {
		c.logger.WithField("path", path).Warn("Backend rejected credentials, forcing logout")
		if logout != nil {
			logout()
		}
		return &Error{Status: resp.StatusCode, Message: serverMessage(raw)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{Status: resp.StatusCode, Message: serverMessage(raw)}
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := unwrap(raw, out); err != nil {
		return &Error{Status: resp.StatusCode, Message: "decode response", Cause: err}
	}
	return nil
}

// unwrap decodes a response body into out, accepting both the bare payload
// and the {"data": payload} envelope. Contract: when a "data" key is
// present at the top level, the payload lives under it; otherwise the body
// is the payload.
func unwrap(raw []byte, out any) error {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && len(envelope.Data) > 0 {
		return json.Unmarshal(envelope.Data, out)
	}
	return json.Unmarshal(raw, out)
}

// serverMessage extracts a human-readable message from an error body.
func serverMessage(raw []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	if len(raw) > 0 {
		return strings.TrimSpace(string(raw))
	}
	return "request failed"
}

// --- auth ---

// SignIn authenticates with email credentials and returns the session.
func (c *Client) SignIn(ctx context.Context, email, password string) (*Session, error) {
	var sess Session
	err := c.do(ctx, http.MethodPost, "/auth/sign-in/email",
		map[string]string{"email": email, "password": password}, &sess)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// SignUp registers a new account and returns the session.
func (c *Client) SignUp(ctx context.Context, name, email, password string) (*Session, error) {
	var sess Session
	err := c.do(ctx, http.MethodPost, "/auth/sign-up/email",
		map[string]string{"name": name, "email": email, "password": password}, &sess)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// --- contacts ---

func (c *Client) Contacts(ctx context.Context) ([]Contact, error) {
	var list []Contact
	if err := c.do(ctx, http.MethodGet, "/v1/contacts", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (c *Client) CreateContact(ctx context.Context, contact Contact) (*Contact, error) {
	var created Contact
	if err := c.do(ctx, http.MethodPost, "/v1/contacts", contact, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *Client) UpdateContact(ctx context.Context, contact Contact) error {
	return c.do(ctx, http.MethodPut, "/v1/contacts/"+contact.ID, contact, nil)
}

func (c *Client) DeleteContact(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/v1/contacts/"+id, nil, nil)
}

// --- devices ---

// RegisterDevice registers the paired wearable. The response metadata is an
// opaque passthrough stored on the ConnectedDevice.
func (c *Client) RegisterDevice(ctx context.Context, deviceID string) (map[string]any, error) {
	var meta map[string]any
	err := c.do(ctx, http.MethodPost, "/v1/devices",
		map[string][]string{"deviceId": {deviceID}}, &meta)
	if err != nil {
		return nil, err
	}
	return meta, nil
}

func (c *Client) Devices(ctx context.Context) ([]Device, error) {
	var list []Device
	if err := c.do(ctx, http.MethodGet, "/v1/devices", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (c *Client) DeleteDevice(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/v1/devices/"+id, nil, nil)
}

// --- trigger ---

// Trigger submits one emergency. Called exactly once per dispatch; the
// dispatcher never retries.
func (c *Client) Trigger(ctx context.Context, req TriggerRequest) (*TriggerResponse, error) {
	var resp TriggerResponse
	if err := c.do(ctx, http.MethodPost, "/v1/trigger", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TriggerHistory fetches the backend incident history for on-demand
// reconciliation with the local optimistic list.
func (c *Client) TriggerHistory(ctx context.Context) ([]state.Incident, error) {
	var list []state.Incident
	if err := c.do(ctx, http.MethodGet, "/v1/trigger/history", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

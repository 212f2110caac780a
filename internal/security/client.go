package security

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nerrad567/sweiot-link/internal/infrastructure/config"
)

const defaultRequestTimeout = 15 * time.Second

// SecureInfo is the secure-check answer for one device.
type SecureInfo struct {
	Secure       bool   `json:"secure"`
	PublicKeyHex string `json:"public_key_hex"`
}

// Client calls the SweIoT management server on behalf of one logged in user.
//
// Thread Safety: All methods are safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	now        func() time.Time

	mu    sync.RWMutex
	user  string
	token string
}

// NewClient creates a management client from configuration.
func NewClient(cfg config.ManagementConfig) *Client {
	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
}

type loginRequest struct {
	UserName     string `json:"user_name"`
	UserPassword string `json:"user_password"`
}

type loginResponse struct {
	JWT string `json:"jwt"`
}

// Login authenticates user and keeps the session token.
//
// Returns:
//   - error: wraps ErrLoginFailed when rejected
func (c *Client) Login(ctx context.Context, user, password string) error {
	var resp loginResponse
	err := c.do(ctx, http.MethodPost, "/login/", "", loginRequest{UserName: user, UserPassword: password}, &resp)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}
	if resp.JWT == "" {
		return fmt.Errorf("%w: empty token", ErrLoginFailed)
	}

	c.mu.Lock()
	c.user = user
	c.token = resp.JWT
	c.mu.Unlock()
	return nil
}

// Logout drops the session.
func (c *Client) Logout() {
	c.mu.Lock()
	c.user = ""
	c.token = ""
	c.mu.Unlock()
}

// User returns the logged in user name, or "".
func (c *Client) User() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user
}

// HasValidSession reports whether a token is held and, when it is a JWT
// carrying an expiry, whether that expiry lies in the future.
func (c *Client) HasValidSession() bool {
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()

	if token == "" {
		return false
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		// Opaque tokens stay valid until the server rejects them.
		return true
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return true
	}
	return c.now().Before(exp.Time)
}

// OwnsDevice reports whether the user owns the device. Only a literal
// JSON true counts as owned.
func (c *Client) OwnsDevice(ctx context.Context, deviceID string) (bool, error) {
	var resp struct {
		Own json.RawMessage `json:"own"`
	}
	if err := c.userCall(ctx, http.MethodGet, deviceID, "/own/", nil, &resp); err != nil {
		return false, err
	}
	return bytes.Equal(bytes.TrimSpace(resp.Own), []byte("true")), nil
}

// SecureDevice asks whether the device runs with a provisioned key.
func (c *Client) SecureDevice(ctx context.Context, deviceID string) (SecureInfo, error) {
	var info SecureInfo
	if err := c.userCall(ctx, http.MethodGet, deviceID, "/secure/", nil, &info); err != nil {
		return SecureInfo{}, err
	}
	return info, nil
}

// Sign returns the server signed form of message for the device.
func (c *Client) Sign(ctx context.Context, deviceID, message string) (string, error) {
	var resp struct {
		SignedMessage string `json:"signed_message"`
	}
	body := struct {
		Message string `json:"message"`
	}{message}
	if err := c.userCall(ctx, http.MethodPost, deviceID, "/sign/", body, &resp); err != nil {
		return "", err
	}
	if resp.SignedMessage == "" {
		return "", ErrSignFailed
	}
	return resp.SignedMessage, nil
}

// PublicKey returns the hex public key registered for the device.
func (c *Client) PublicKey(ctx context.Context, deviceID string) (string, error) {
	var resp struct {
		PublicKeyHex string `json:"public_key_hex"`
	}
	if err := c.userCall(ctx, http.MethodGet, deviceID, "/keys/public", nil, &resp); err != nil {
		return "", err
	}
	return resp.PublicKeyHex, nil
}

// userCall performs a request under /users/{user}/devices/{id}.
func (c *Client) userCall(ctx context.Context, method, deviceID, suffix string, in, out any) error {
	c.mu.RLock()
	user, token := c.user, c.token
	c.mu.RUnlock()

	if token == "" {
		return ErrUnauthorized
	}

	path := "/users/" + url.PathEscape(user) + "/devices/" + url.PathEscape(deviceID) + suffix
	if err := c.do(ctx, method, path, token, in, out); err != nil {
		return err
	}
	return nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.code, e.body)
}

// do performs one JSON request. A 401 answer drops the session.
func (c *Client) do(ctx context.Context, method, path, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized && token != "" {
		_, _ = io.Copy(io.Discard, resp.Body)
		c.mu.Lock()
		if c.token == token {
			c.token = ""
		}
		c.mu.Unlock()
		return ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %w", ErrRequestFailed, &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(msg))})
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding response: %w", ErrRequestFailed, err)
	}
	return nil
}

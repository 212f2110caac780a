package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nerrad567/sweiot-link/internal/infrastructure/config"
)

const defaultRequestTimeout = 15 * time.Second

// Downlink command constants of Yggio's ChirpStack integration.
const (
	cmdQueueDownlink  = "loraAppServerQueueDownlink"
	cmdGetDeviceQueue = "loraAppServerGetDeviceQueue"
	cmdFlushQueue     = "loraAppServerFlushQueue"
	integrationName   = "ChirpStack"
	downlinkPort      = "32"
)

// Client calls the Yggio REST API.
//
// Thread Safety: All methods are safe for concurrent use.
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
}

// NewClient creates a Yggio client from relay configuration.
func NewClient(cfg config.RelayConfig) *Client {
	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		username:   cfg.Username,
		password:   cfg.Password,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type authRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string `json:"token"`
}

type commandRequest struct {
	Command         string        `json:"command"`
	IntegrationName string        `json:"integrationName"`
	IotnodeID       string        `json:"iotnodeId"`
	Data            *downlinkData `json:"data,omitempty"`
}

type downlinkData struct {
	Confirmed bool   `json:"confirmed"`
	Reference string `json:"reference"`
	FPort     string `json:"fPort"`
	Data      string `json:"data"`
}

// Authorize logs in and returns a bearer token.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - string: Token for subsequent calls
//   - error: wraps ErrAuthorize on failure
func (c *Client) Authorize(ctx context.Context) (string, error) {
	var resp authResponse
	err := c.do(ctx, http.MethodPost, "/auth/local", "", authRequest{Username: c.username, Password: c.password}, &resp)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAuthorize, err)
	}
	if resp.Token == "" {
		return "", fmt.Errorf("%w: empty token", ErrAuthorize)
	}
	return resp.Token, nil
}

// FetchAll returns every iotnode visible to the account.
func (c *Client) FetchAll(ctx context.Context, token string) ([]Node, error) {
	if token == "" {
		return nil, ErrNotAuthorized
	}
	var nodes []Node
	if err := c.do(ctx, http.MethodGet, "/iotnodes", token, nil, &nodes); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	return nodes, nil
}

// Fetch returns one iotnode.
func (c *Client) Fetch(ctx context.Context, token, id string) (Node, error) {
	if token == "" {
		return Node{}, ErrNotAuthorized
	}
	var node Node
	if err := c.do(ctx, http.MethodGet, "/iotnodes/"+url.PathEscape(id), token, nil, &node); err != nil {
		return Node{}, fmt.Errorf("%w: %s: %w", ErrFetch, id, err)
	}
	return node, nil
}

// QueueData queues text as a port 32 downlink for the iotnode.
// The text is hex encoded on the wire.
func (c *Client) QueueData(ctx context.Context, token, id, text string) error {
	if token == "" {
		return ErrNotAuthorized
	}
	req := commandRequest{
		Command:         cmdQueueDownlink,
		IntegrationName: integrationName,
		IotnodeID:       id,
		Data: &downlinkData{
			Reference: text,
			FPort:     downlinkPort,
			Data:      EncodeHex(text),
		},
	}
	if err := c.do(ctx, http.MethodPut, "/iotnodes/command", token, req, nil); err != nil {
		return fmt.Errorf("%w: %w", ErrQueue, err)
	}
	return nil
}

// DeviceQueue returns the raw downlink queue of the iotnode.
func (c *Client) DeviceQueue(ctx context.Context, token, id string) (json.RawMessage, error) {
	if token == "" {
		return nil, ErrNotAuthorized
	}
	req := commandRequest{Command: cmdGetDeviceQueue, IntegrationName: integrationName, IotnodeID: id}
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPut, "/iotnodes/command", token, req, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueue, err)
	}
	return raw, nil
}

// FlushQueue drops every pending downlink of the iotnode.
func (c *Client) FlushQueue(ctx context.Context, token, id string) error {
	if token == "" {
		return ErrNotAuthorized
	}
	req := commandRequest{Command: cmdFlushQueue, IntegrationName: integrationName, IotnodeID: id}
	if err := c.do(ctx, http.MethodPut, "/iotnodes/command", token, req, nil); err != nil {
		return fmt.Errorf("%w: %w", ErrQueue, err)
	}
	return nil
}

// do performs one JSON request. out may be nil to discard the body.
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
		return fmt.Errorf("building request: %w", err)
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
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out == nil {
		// Drain body to allow connection reuse
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

package control

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Client talks to the admin control server over its Unix socket.
type Client struct {
	httpClient *http.Client
}

// NewClient creates a control client dialing socketPath.
func NewClient(socketPath string) *Client {
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socketPath)
		},
	}
	return &Client{
		httpClient: &http.Client{Transport: transport, Timeout: 10 * time.Second},
	}
}

// Status retrieves component status.
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	var out StatusResponse
	if err := c.get(ctx, "/status", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Peers retrieves the connected-peer list.
func (c *Client) Peers(ctx context.Context) (*PeersResponse, error) {
	var out PeersResponse
	if err := c.get(ctx, "/peers", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Mappings retrieves the live slot-mapping set.
func (c *Client) Mappings(ctx context.Context) (*MappingsResponse, error) {
	var out MappingsResponse
	if err := c.get(ctx, "/mappings", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AddMapping submits a new {bank, client} mapping.
func (c *Client) AddMapping(ctx context.Context, req AddMappingRequest) error {
	return c.post(ctx, "/mappings", http.MethodPost, req)
}

// RemoveMapping requests removal of the ACTIVE mapping identified by req.
func (c *Client) RemoveMapping(ctx context.Context, req RemoveMappingRequest) error {
	return c.post(ctx, "/mappings", http.MethodDelete, req)
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://localhost"+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) post(ctx context.Context, path, method string, body interface{}) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, "http://localhost"+path, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	return nil
}

// Close releases idle connections held by the client.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

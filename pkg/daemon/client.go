package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/shaneisley/sigmashift/pkg/backoff"
	"github.com/shaneisley/sigmashift/pkg/shift"
)

// RemoteError is an error reported by the daemon
type RemoteError struct {
	Message   string
	RequestID string
}

func (e *RemoteError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("daemon error (request %s): %s", e.RequestID, e.Message)
	}
	return "daemon error: " + e.Message
}

// Client talks to a running daemon over its unix socket. A Client holds
// one connection and is safe for concurrent use; calls are serialized.
type Client struct {
	socketPath        string
	connectionTimeout time.Duration
	clientName        string
	retries           int
	strategy          backoff.Strategy
	conn              net.Conn
	reader            *bufio.Reader
	mu                sync.Mutex
}

// NewClient creates a new daemon client
func NewClient(socketPath string) *Client {
	return &Client{
		socketPath:        socketPath,
		connectionTimeout: 5 * time.Second,
		clientName:        "sigmashift-cli",
		strategy:          backoff.Default(),
	}
}

// SetRetry makes connecting retry up to retries more times, waiting as
// strategy says between dials. A nil strategy keeps the current one.
func (c *Client) SetRetry(retries int, strategy backoff.Strategy) {
	c.retries = retries
	if strategy != nil {
		c.strategy = strategy
	}
}

// SetConnectionTimeout sets the dial timeout
func (c *Client) SetConnectionTimeout(timeout time.Duration) {
	c.connectionTimeout = timeout
}

// connect establishes a connection to the daemon if not already connected.
// The caller holds c.mu.
func (c *Client) connect(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}

	dialer := net.Dialer{Timeout: c.connectionTimeout}
	var conn net.Conn
	err := backoff.Retry(ctx, c.retries, c.strategy, nil, func() error {
		var dialErr error
		conn, dialErr = dialer.DialContext(ctx, "unix", c.socketPath)
		return dialErr
	})
	if err != nil {
		return fmt.Errorf("failed to connect to daemon at %s: %w", c.socketPath, err)
	}
	c.conn = conn
	c.reader = bufio.NewReader(conn)

	var resp HandshakeResponseJSON
	err = c.roundTrip(ctx, HandshakeRequestJSON{
		Type:    TypeHandshake,
		Version: ProtocolVersion,
		Client:  c.clientName,
	}, TypeHandshakeResponse, &resp)
	if err != nil {
		c.closeLocked()
		return fmt.Errorf("handshake failed: %w", err)
	}
	if resp.Status != "ok" {
		c.closeLocked()
		return fmt.Errorf("handshake rejected by daemon")
	}
	return nil
}

// roundTrip writes one message and decodes the reply into out. Error
// replies become a *RemoteError. The caller holds c.mu.
func (c *Client) roundTrip(ctx context.Context, request interface{}, wantType string, out interface{}) error {
	conn := c.conn
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer stop()

	requestData, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	if _, err := conn.Write(append(requestData, '\n')); err != nil {
		c.closeLocked()
		return fmt.Errorf("failed to send request: %w", err)
	}

	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		c.closeLocked()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("failed to read response: %w", err)
	}

	var envelope struct {
		Type      string `json:"type"`
		Error     string `json:"error"`
		RequestID string `json:"request_id"`
	}
	if err := json.Unmarshal(line, &envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if envelope.Type == TypeError {
		return &RemoteError{Message: envelope.Error, RequestID: envelope.RequestID}
	}
	if envelope.Type != wantType {
		return fmt.Errorf("unexpected response type %q", envelope.Type)
	}
	if err := json.Unmarshal(line, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) call(ctx context.Context, request interface{}, wantType string, out interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connect(ctx); err != nil {
		return err
	}
	return c.roundTrip(ctx, request, wantType, out)
}

// Search asks the daemon to search req for a model
func (c *Client) Search(ctx context.Context, model string, req shift.Request) (*SearchResponseJSON, error) {
	return c.SearchMessage(ctx, NewSearchRequestJSON(model, req))
}

// SearchMessage sends a search message as is, letting the daemon fill
// omitted fields from its defaults
func (c *Client) SearchMessage(ctx context.Context, msg SearchRequestJSON) (*SearchResponseJSON, error) {
	msg.Type = TypeSearchRequest
	var resp SearchResponseJSON
	if err := c.call(ctx, msg, TypeSearchResponse, &resp); err != nil {
		return nil, err
	}
	if resp.Result == nil {
		return nil, fmt.Errorf("daemon returned an empty result")
	}
	return &resp, nil
}

// Schedulers fetches the scheduler catalog and model names
func (c *Client) Schedulers(ctx context.Context) (*SchedulersResponseJSON, error) {
	var resp SchedulersResponseJSON
	if err := c.call(ctx, SchedulersRequestJSON{Type: TypeSchedulersRequest}, TypeSchedulersResponse, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stats fetches daemon activity statistics
func (c *Client) Stats(ctx context.Context) (*StatsResponseJSON, error) {
	var resp StatsResponseJSON
	if err := c.call(ctx, StatsRequestJSON{Type: TypeStatsRequest}, TypeStatsResponse, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Close closes the client connection
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Client) closeLocked() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.reader = nil
	return err
}

package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/DocQA-Labs/docrag/internal/async"
	"github.com/DocQA-Labs/docrag/internal/rag"
)

// Client connects to the daemon over its Unix socket.
type Client struct {
	socketPath string
	timeout    time.Duration
	requestID  atomic.Uint64
}

// NewClient creates a new daemon client.
func NewClient(cfg Config) *Client {
	return &Client{
		socketPath: cfg.SocketPath,
		timeout:    cfg.RequestTimeout,
	}
}

// Connect establishes a connection to the daemon.
func (c *Client) Connect() (net.Conn, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon: %w", err)
	}
	return conn, nil
}

// IsRunning checks if the daemon is accepting connections.
func (c *Client) IsRunning() bool {
	conn, err := c.Connect()
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// dial connects and applies the effective deadline: the client timeout,
// tightened by the context deadline when that is sooner.
func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	conn, err := c.Connect()
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to set deadline: %w", err)
	}
	return conn, nil
}

// Ping checks if the daemon is responsive.
func (c *Client) Ping(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	resp, err := c.call(conn, MethodPing, nil)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return fmt.Errorf("ping failed: %s", resp.Error.Message)
	}
	return nil
}

// Ask sends a question to the daemon and returns the answer record.
func (c *Client) Ask(ctx context.Context, params AskParams) (*rag.AnswerRecord, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	resp, err := c.call(conn, MethodAsk, params)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("ask failed: %s (code: %d)", resp.Error.Message, resp.Error.Code)
	}

	var record rag.AnswerRecord
	if err := decodeResult(resp.Result, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// Prepare asks the daemon to build a namespace in the background and
// returns the initial build snapshot. Poll Status until the build
// leaves "building".
func (c *Client) Prepare(ctx context.Context, params PrepareParams) (*async.BuildSnapshot, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	resp, err := c.call(conn, MethodPrepare, params)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("prepare failed: %s (code: %d)", resp.Error.Message, resp.Error.Code)
	}

	var snap async.BuildSnapshot
	if err := decodeResult(resp.Result, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Status retrieves daemon status, optionally scoped to one namespace.
func (c *Client) Status(ctx context.Context, params StatusParams) (*StatusResult, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	resp, err := c.call(conn, MethodStatus, params)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("status failed: %s", resp.Error.Message)
	}

	var status StatusResult
	if err := decodeResult(resp.Result, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// call sends one request on the connection and reads one response.
func (c *Client) call(conn net.Conn, method string, params any) (*Response, error) {
	req := Request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.nextID(),
	}

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to receive response: %w", err)
	}
	return &resp, nil
}

// decodeResult re-marshals a loosely typed result into its real shape.
func decodeResult(raw any, out any) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode result: %w", err)
	}
	return nil
}

// nextID generates a unique request ID.
func (c *Client) nextID() string {
	id := c.requestID.Add(1)
	return fmt.Sprintf("req-%d", id)
}

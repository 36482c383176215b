package socket

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// Client is one connection to the control socket. A client may issue any
// number of requests; responses come back in request order.
type Client struct {
	conn   net.Conn
	reader *bufio.Reader
}

// Dial connects to the control socket.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", socketPath, err)
	}
	return &Client{conn: conn, reader: bufio.NewReader(conn)}, nil
}

// Do sends one request and waits for its response.
func (c *Client) Do(req Request) (Response, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	c.conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
	if _, err := c.conn.Write(append(data, '\n')); err != nil {
		return Response{}, fmt.Errorf("failed to send %s request: %w", req.Command, err)
	}

	// Orchestrator operations shell out to git and tmux; allow well beyond
	// a single external-command timeout before giving up on the reply.
	c.conn.SetReadDeadline(time.Now().Add(time.Minute))
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return Response{}, fmt.Errorf("failed to read %s response: %w", req.Command, err)
	}

	var resp Response
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		return Response{}, fmt.Errorf("malformed %s response: %w", req.Command, err)
	}
	return resp, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

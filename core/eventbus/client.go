package eventbus

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// Client talks to a running daemon over its socket
type Client struct {
	conn    net.Conn
	encoder *json.Encoder
	decoder *json.Decoder
	timeout time.Duration
}

// Dial connects to the socket at socketPath
func Dial(socketPath string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("unix", socketPath, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", socketPath, err)
	}
	return &Client{
		conn:    conn,
		encoder: json.NewEncoder(conn),
		decoder: json.NewDecoder(bufio.NewReader(conn)),
		timeout: timeout,
	}, nil
}

// Do sends one request and returns the injected events followed by the
// final message
func (c *Client) Do(req Request) ([]Injected, Message, error) {
	if c.timeout > 0 {
		if err := c.conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
			return nil, Message{}, err
		}
	}
	if err := c.encoder.Encode(req); err != nil {
		return nil, Message{}, fmt.Errorf("failed to send request: %w", err)
	}

	var injected []Injected
	for {
		var msg Message
		if err := c.decoder.Decode(&msg); err != nil {
			return injected, Message{}, fmt.Errorf("failed to read response: %w", err)
		}
		if msg.Kind != KindInject {
			return injected, msg, nil
		}
		if msg.Event != nil {
			injected = append(injected, *msg.Event)
		}
	}
}

// Close closes the connection
func (c *Client) Close() error {
	return c.conn.Close()
}

package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/tonimelisma/playtrack/internal/engine"
)

// ErrNotRunning is returned by Dial when no engine is listening.
var ErrNotRunning = errors.New("bridge: no running instance")

// CommandError is a command rejected by the engine.
type CommandError struct {
	Command string
	Message string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("bridge: %s rejected: %s", e.Command, e.Message)
}

// Client is one connection to a running engine. It is not safe for
// concurrent use.
type Client struct {
	conn *websocket.Conn
	last *engine.Snapshot
}

// Dial connects to the bridge at addr (host:port or a ws:// URL).
func Dial(ctx context.Context, addr string) (*Client, error) {
	url := addr
	if !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://") {
		url = "ws://" + addr + "/ws"
	}

	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w at %s: %w", ErrNotRunning, addr, err)
	}

	return &Client{conn: conn}, nil
}

// Close ends the connection.
func (c *Client) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "")
}

// Next returns the next message from the server.
func (c *Client) Next(ctx context.Context) (Envelope, error) {
	var env Envelope
	if err := wsjson.Read(ctx, c.conn, &env); err != nil {
		return Envelope{}, fmt.Errorf("bridge: reading message: %w", err)
	}

	if env.Type == TypeSnapshot && env.Snapshot != nil {
		c.last = env.Snapshot
	}

	return env, nil
}

// Snapshot returns the most recent snapshot, waiting for the first one.
func (c *Client) Snapshot(ctx context.Context) (engine.Snapshot, error) {
	for c.last == nil {
		if _, err := c.Next(ctx); err != nil {
			return engine.Snapshot{}, err
		}
	}

	return *c.last, nil
}

// Send executes cmd on the engine and waits for its reply. Snapshots and
// notifications that arrive meanwhile are consumed.
func (c *Client) Send(ctx context.Context, cmd engine.Command) error {
	id := uuid.NewString()

	if err := wsjson.Write(ctx, c.conn, Envelope{Type: TypeCommand, ID: id, Command: &cmd}); err != nil {
		return fmt.Errorf("bridge: sending %s: %w", cmd.Name, err)
	}

	for {
		env, err := c.Next(ctx)
		if err != nil {
			return err
		}

		if env.ID != id {
			continue
		}

		switch env.Type {
		case TypeAck:
			return nil
		case TypeError:
			return &CommandError{Command: cmd.Name, Message: env.Error}
		}
	}
}

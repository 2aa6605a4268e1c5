// Package sdk provides the store contract shared by the host and its remotes.
// It supports both the host's published store over TCP/TLS and the local
// standalone fallback.
package sdk

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"

	"github.com/celerix-dev/celerix-federation/pkg/schema"
)

const (
	defaultTimeout = 30 * time.Second
	maxRetries     = 2
)

var _ UserStore = (*Client)(nil)

// Client is a remote handle on the host's published store.
// It implements the UserStore interface.
type Client struct {
	addr       string
	disableTLS bool
	timeout    time.Duration
	logger     *zap.Logger

	conn   net.Conn
	reader *bufio.Reader
	mu     sync.Mutex // Protects concurrent access to the connection
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithoutTLS makes the client dial plain TCP.
func WithoutTLS() ClientOption {
	return func(c *Client) { c.disableTLS = true }
}

// WithTimeout bounds a single request round trip.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(l *zap.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// Connect dials the host store and checks that it publishes StoreModule.
func Connect(addr string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		addr:    addr,
		timeout: defaultTimeout,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.reconnect(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) reconnect() error {
	c.drop()

	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 60 * time.Second,
	}

	var conn net.Conn
	var err error
	if c.disableTLS {
		conn, err = dialer.Dial("tcp", c.addr)
	} else {
		config := &tls.Config{
			InsecureSkipVerify: true, // The host uses a self-signed certificate
		}
		conn, err = tls.DialWithDialer(dialer, "tcp", c.addr, config)
	}
	if err != nil {
		return err
	}

	reader := bufio.NewReader(conn)
	conn.SetDeadline(time.Now().Add(c.timeout))
	if _, err := fmt.Fprintf(conn, "HELLO %s\n", StoreModule); err != nil {
		conn.Close()
		return err
	}
	line, err := reader.ReadString('\n')
	if err != nil {
		conn.Close()
		return err
	}
	if !strings.HasPrefix(line, "OK") {
		conn.Close()
		return fmt.Errorf("%w: %s", ErrUnknownModule, StoreModule)
	}

	c.conn = conn
	c.reader = reader
	return nil
}

// alive checks the link with a PING round trip before a command that must
// not be re-sent is written.
func (c *Client) alive() bool {
	if c.conn == nil {
		return false
	}
	c.conn.SetDeadline(time.Now().Add(c.timeout))
	if _, err := fmt.Fprint(c.conn, "PING\n"); err != nil {
		return false
	}
	line, err := c.reader.ReadString('\n')
	return err == nil && strings.TrimSpace(line) == "PONG"
}

func (c *Client) drop() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
		c.reader = nil
	}
}

// sendAndReceive runs one command. Idempotent commands are retried with
// exponential backoff on transport failures; a reply of ERR is never retried.
func (c *Client) sendAndReceive(ctx context.Context, cmd string, idempotent bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var resp string
	var remoteErr error

	op := func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if c.conn == nil || (!idempotent && !c.alive()) {
			if err := c.reconnect(); err != nil {
				return fmt.Errorf("reconnect failed: %w", err)
			}
		}

		deadline := time.Now().Add(c.timeout)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		c.conn.SetDeadline(deadline)

		if _, err := fmt.Fprint(c.conn, cmd+"\n"); err != nil {
			c.drop()
			return err
		}
		line, err := c.reader.ReadString('\n')
		if err != nil {
			c.drop()
			return err
		}
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "ERR") {
			remoteErr = errors.New(strings.TrimSpace(strings.TrimPrefix(line, "ERR")))
			return nil
		}
		resp = line
		return nil
	}

	var b backoff.BackOff = &backoff.StopBackOff{}
	if idempotent {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = 200 * time.Millisecond
		eb.MaxInterval = 2 * time.Second
		b = backoff.WithMaxRetries(eb, maxRetries)
	}

	err := backoff.RetryNotify(op, b, func(err error, next time.Duration) {
		c.logger.Warn("store request failed, reconnecting",
			zap.String("addr", c.addr),
			zap.Duration("retry_in", next),
			zap.Error(err))
	})
	if err != nil {
		return "", fmt.Errorf("store request failed: %w", err)
	}
	if remoteErr != nil {
		return "", remoteErr
	}
	return resp, nil
}

func payload(resp string) []byte {
	return []byte(strings.TrimSpace(strings.TrimPrefix(resp, "OK")))
}

func decode[T any](resp string) (T, error) {
	var out T
	if err := json.Unmarshal(payload(resp), &out); err != nil {
		return out, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	return out, nil
}

// --- Commands ---

func (c *Client) FetchUsers(ctx context.Context) error {
	_, err := c.sendAndReceive(ctx, "FETCH_USERS", true)
	return err
}

func (c *Client) FetchUserByID(ctx context.Context, id int) error {
	_, err := c.sendAndReceive(ctx, "FETCH_USER "+strconv.Itoa(id), true)
	return err
}

func (c *Client) CreateUser(ctx context.Context, in schema.UserInput) (schema.User, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return schema.User{}, err
	}
	resp, err := c.sendAndReceive(ctx, "CREATE "+string(body), false)
	if err != nil {
		return schema.User{}, err
	}
	return decode[schema.User](resp)
}

func (c *Client) UpdateUser(ctx context.Context, u schema.User) (schema.User, error) {
	body, err := json.Marshal(u)
	if err != nil {
		return schema.User{}, err
	}
	resp, err := c.sendAndReceive(ctx, "UPDATE "+string(body), true)
	if err != nil {
		return schema.User{}, err
	}
	return decode[schema.User](resp)
}

func (c *Client) DeleteUser(ctx context.Context, id int) error {
	_, err := c.sendAndReceive(ctx, "DELETE "+strconv.Itoa(id), true)
	return err
}

func (c *Client) ClearCurrentUser() {
	if _, err := c.sendAndReceive(context.Background(), "CLEAR_CURRENT", true); err != nil {
		c.logger.Warn("clear current user failed", zap.Error(err))
	}
}

func (c *Client) ClearError() {
	if _, err := c.sendAndReceive(context.Background(), "CLEAR_ERROR", true); err != nil {
		c.logger.Warn("clear error failed", zap.Error(err))
	}
}

// Ping checks that the host store answers.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.sendAndReceive(ctx, "PING", true)
	if err != nil {
		return err
	}
	if resp != "PONG" {
		return fmt.Errorf("%w: unexpected ping reply %q", ErrProtocol, resp)
	}
	return nil
}

// --- Getters ---

// FetchState reads the host state. Getters are derived from it on every call.
func (c *Client) FetchState(ctx context.Context) (schema.State, error) {
	resp, err := c.sendAndReceive(ctx, "STATE", true)
	if err != nil {
		return schema.State{}, err
	}
	return decode[schema.State](resp)
}

// State returns the host state. When the host cannot be reached the
// returned state is empty and carries the transport error.
func (c *Client) State() schema.State {
	s, err := c.FetchState(context.Background())
	if err != nil {
		c.logger.Warn("store state unavailable", zap.String("addr", c.addr), zap.Error(err))
		return schema.State{Users: []schema.User{}, Error: fmt.Sprintf("store unreachable: %v", err)}
	}
	return s
}

func (c *Client) AllUsers() []schema.User               { return c.State().AllUsers() }
func (c *Client) ActiveUsers() []schema.User            { return c.State().ActiveUsers() }
func (c *Client) InactiveUsers() []schema.User          { return c.State().InactiveUsers() }
func (c *Client) UsersByRole(role string) []schema.User { return c.State().UsersByRole(role) }
func (c *Client) UserByID(id int) (schema.User, bool)   { return c.State().UserByID(id) }
func (c *Client) TotalUsers() int                       { return c.State().Total() }
func (c *Client) IsLoading() bool                       { return c.State().Loading }
func (c *Client) HasError() bool                        { return c.State().HasError() }
func (c *Client) ErrorMessage() string                  { return c.State().Error }

func (c *Client) CurrentUser() (schema.User, bool) {
	s := c.State()
	if s.CurrentUser == nil {
		return schema.User{}, false
	}
	return *s.CurrentUser, true
}

// Close ends the session with the host.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	fmt.Fprintln(c.conn, "QUIT")
	err := c.conn.Close()
	c.conn = nil
	return err
}

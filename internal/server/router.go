// Package server publishes the host store to remote applications over TCP.
package server

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

	"go.uber.org/zap"

	"github.com/celerix-dev/celerix-federation/pkg/schema"
	"github.com/celerix-dev/celerix-federation/pkg/sdk"
)

const (
	maxConnections = 100
	commandTimeout = 30 * time.Second
)

// DefaultIdleTimeout is how long a session may wait between commands.
const DefaultIdleTimeout = commandTimeout

// Router serves one store under sdk.StoreModule.
type Router struct {
	store  sdk.UserStore
	cert   *tls.Certificate
	logger *zap.Logger
	idle   time.Duration

	mu       sync.Mutex
	listener net.Listener
	closed   bool
}

func NewRouter(s sdk.UserStore, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{store: s, logger: logger, idle: DefaultIdleTimeout}
}

// SetCertificate sets the TLS certificate for the router
func (r *Router) SetCertificate(cert tls.Certificate) {
	r.cert = &cert
}

// SetIdleTimeout changes how long an idle session is kept open.
func (r *Router) SetIdleTimeout(d time.Duration) {
	if d > 0 {
		r.idle = d
	}
}

// Addr returns the listening address, or nil before Listen.
func (r *Router) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listener == nil {
		return nil
	}
	return r.listener.Addr()
}

// Listen starts the TCP server and blocks until Stop.
func (r *Router) Listen(port string) error {
	var listener net.Listener
	var err error

	if r.cert != nil {
		config := &tls.Config{Certificates: []tls.Certificate{*r.cert}}
		listener, err = tls.Listen("tcp", ":"+port, config)
	} else {
		listener, err = net.Listen("tcp", ":"+port)
	}
	if err != nil {
		return err
	}
	return r.Serve(listener)
}

// Serve accepts connections on l until Stop.
func (r *Router) Serve(l net.Listener) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		l.Close()
		return net.ErrClosed
	}
	r.listener = l
	r.mu.Unlock()
	defer l.Close()

	semaphore := make(chan struct{}, maxConnections)

	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			r.logger.Warn("accept failed", zap.Error(err))
			continue
		}

		go func(c net.Conn) {
			semaphore <- struct{}{}
			defer func() {
				<-semaphore
				c.Close()
			}()
			r.HandleConnection(c)
		}(conn)
	}
}

// Stop closes the listener.
func (r *Router) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	if r.listener == nil {
		return nil
	}
	return r.listener.Close()
}

// HandleConnection runs the command loop for one session.
func (r *Router) HandleConnection(conn net.Conn) {
	reader := bufio.NewReader(conn)

	for {
		// Idle sessions are closed; clients reconnect on demand
		conn.SetDeadline(time.Now().Add(r.idle))

		line, err := reader.ReadString('\n')
		if err != nil {
			return // Connection closed or timeout
		}

		line = strings.TrimSpace(line)
		parts := strings.Fields(line)
		if len(parts) < 1 {
			continue
		}

		command := strings.ToUpper(parts[0])
		if command == "QUIT" {
			return
		}
		// Everything after the command word is the argument
		arg := strings.TrimSpace(strings.TrimPrefix(line, parts[0]))

		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		reply := r.dispatch(ctx, command, arg)
		cancel()
		conn.SetWriteDeadline(time.Now().Add(commandTimeout))
		fmt.Fprintln(conn, reply)
	}
}

func (r *Router) dispatch(ctx context.Context, command, arg string) string {
	switch command {
	case "PING":
		return "PONG"

	case "HELLO":
		if arg != sdk.StoreModule {
			return "ERR " + sdk.ErrUnknownModule.Error()
		}
		return ok(map[string]string{"module": sdk.StoreModule, "version": sdk.ProtocolVersion})

	case "STATE":
		return ok(r.store.State())

	case "FETCH_USERS":
		return done(r.store.FetchUsers(ctx))

	case "FETCH_USER":
		id, err := strconv.Atoi(arg)
		if err != nil {
			return "ERR invalid id"
		}
		return done(r.store.FetchUserByID(ctx, id))

	case "CREATE":
		var in schema.UserInput
		if err := json.Unmarshal([]byte(arg), &in); err != nil {
			return "ERR invalid json value"
		}
		u, err := r.store.CreateUser(ctx, in)
		if err != nil {
			return "ERR " + err.Error()
		}
		return ok(u)

	case "UPDATE":
		var u schema.User
		if err := json.Unmarshal([]byte(arg), &u); err != nil {
			return "ERR invalid json value"
		}
		updated, err := r.store.UpdateUser(ctx, u)
		if err != nil {
			return "ERR " + err.Error()
		}
		return ok(updated)

	case "DELETE":
		id, err := strconv.Atoi(arg)
		if err != nil {
			return "ERR invalid id"
		}
		return done(r.store.DeleteUser(ctx, id))

	case "CLEAR_CURRENT":
		r.store.ClearCurrentUser()
		return "OK"

	case "CLEAR_ERROR":
		r.store.ClearError()
		return "OK"
	}
	return "ERR unknown command " + command
}

func ok(v any) string {
	res, err := json.Marshal(v)
	if err != nil {
		return "ERR internal error"
	}
	return "OK " + string(res)
}

func done(err error) string {
	if err != nil {
		return "ERR " + err.Error()
	}
	return "OK"
}

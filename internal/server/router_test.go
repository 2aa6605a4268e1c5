package server

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celerix-dev/celerix-federation/internal/engine"
)

func startRouter(t *testing.T, store *engine.MemStore) (*Router, string) {
	t.Helper()
	router := NewRouter(store, nil)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go router.Serve(listener)
	t.Cleanup(func() { router.Stop() })

	return router, listener.Addr().String()
}

func dial(t *testing.T, addr string) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn, bufio.NewReader(conn)
}

func roundTrip(t *testing.T, conn net.Conn, reader *bufio.Reader, cmd string) string {
	t.Helper()
	fmt.Fprintf(conn, "%s\n", cmd)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	return strings.TrimSuffix(line, "\n")
}

func TestRouter_TCP_Commands(t *testing.T) {
	store := engine.NewHostStore(engine.WithDelays(engine.NoDelays))
	_, addr := startRouter(t, store)
	conn, reader := dial(t, addr)

	assert.Equal(t, "PONG", roundTrip(t, conn, reader, "PING"))
	assert.Equal(t, `OK {"module":"host/store","version":"1.0.0"}`, roundTrip(t, conn, reader, "HELLO host/store"))
	assert.Equal(t, "OK", roundTrip(t, conn, reader, "FETCH_USERS"))
	assert.Equal(t, 5, store.TotalUsers())

	line := roundTrip(t, conn, reader, `CREATE {"name":"Dana","email":"dana@example.com","role":"User","active":true}`)
	require.True(t, strings.HasPrefix(line, `OK {"id":6,"name":"Dana"`), line)

	assert.Equal(t, "OK", roundTrip(t, conn, reader, "DELETE 6"))
	assert.Equal(t, 5, store.TotalUsers())

	assert.Equal(t, "OK", roundTrip(t, conn, reader, "FETCH_USER 99"))
	assert.Contains(t, store.ErrorMessage(), "99")

	assert.Equal(t, "OK", roundTrip(t, conn, reader, "CLEAR_ERROR"))
	assert.False(t, store.HasError())

	line = roundTrip(t, conn, reader, "STATE")
	assert.True(t, strings.HasPrefix(line, `OK {"users":[`), line)
}

func TestRouter_UnknownModule(t *testing.T) {
	_, addr := startRouter(t, engine.NewMemStore(engine.WithDelays(engine.NoDelays)))
	conn, reader := dial(t, addr)

	line := roundTrip(t, conn, reader, "HELLO listUserApp/ListUser")
	assert.True(t, strings.HasPrefix(line, "ERR"), line)
}

func TestRouter_MalformedCommands(t *testing.T) {
	_, addr := startRouter(t, engine.NewMemStore(engine.WithDelays(engine.NoDelays)))
	conn, reader := dial(t, addr)

	assert.Equal(t, "ERR invalid json value", roundTrip(t, conn, reader, "CREATE {invalid}"))
	assert.Equal(t, "ERR invalid id", roundTrip(t, conn, reader, "DELETE abc"))
	assert.Equal(t, "ERR unknown command BOGUS", roundTrip(t, conn, reader, "BOGUS"))

	// The session survives malformed input
	assert.Equal(t, "PONG", roundTrip(t, conn, reader, "PING"))
}

func TestRouter_ConcurrentConnections(t *testing.T) {
	_, addr := startRouter(t, engine.NewMemStore(engine.WithDelays(engine.NoDelays)))

	conns := make([]net.Conn, 0)
	for i := 0; i < 20; i++ {
		conn, err := net.Dial("tcp", addr)
		if err == nil {
			conns = append(conns, conn)
		}
	}
	for _, c := range conns {
		reader := bufio.NewReader(c)
		fmt.Fprintf(c, "PING\n")
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		assert.Equal(t, "PONG\n", line)
		c.Close()
	}
}

func TestRouter_StopEndsServe(t *testing.T) {
	router := NewRouter(engine.NewMemStore(), nil)
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() { errc <- router.Serve(listener) }()

	require.Eventually(t, func() bool { return router.Addr() != nil }, time.Second, 5*time.Millisecond)
	require.NoError(t, router.Stop())
	assert.NoError(t, <-errc)
}

func TestRouter_IdleSessionClosed(t *testing.T) {
	router := NewRouter(engine.NewMemStore(engine.WithDelays(engine.NoDelays)), nil)
	router.SetIdleTimeout(100 * time.Millisecond)
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go router.Serve(listener)
	t.Cleanup(func() { router.Stop() })

	conn, reader := dial(t, listener.Addr().String())
	assert.Equal(t, "PONG", roundTrip(t, conn, reader, "PING"))

	time.Sleep(300 * time.Millisecond)
	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, err = reader.ReadString('\n')
	assert.Error(t, err)
}

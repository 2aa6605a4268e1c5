package federation

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celerix-dev/celerix-federation/internal/engine"
	"github.com/celerix-dev/celerix-federation/internal/perf"
	"github.com/celerix-dev/celerix-federation/pkg/sdk"
)

type staticComponent struct {
	name  string
	store sdk.UserStore
}

func (s *staticComponent) Name() string { return s.name }

func (s *staticComponent) Endpoints() []Endpoint {
	return []Endpoint{{Method: http.MethodGet, Path: "/count"}}
}

func (s *staticComponent) Mount(r gin.IRoutes) {
	r.GET("/count", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"total": s.store.TotalUsers()})
	})
}

func newHost() *Host {
	gin.SetMode(gin.TestMode)
	store := engine.NewHostStore(engine.WithDelays(engine.NoDelays))
	return NewHost(perf.Info{App: "host-app"}, store, perf.NewTimeline(), nil, nil)
}

func serve(c Component) *gin.Engine {
	r := gin.New()
	c.Mount(r)
	return r
}

// serveHTTP runs c behind a real listener. The reverse proxy needs a
// ResponseWriter that supports close notification, which a recorder lacks.
func serveHTTP(t *testing.T, c Component) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(serve(c))
	t.Cleanup(srv.Close)
	return srv
}

func httpGet(t *testing.T, srv *httptest.Server, path string) (int, []byte) {
	t.Helper()
	resp, err := srv.Client().Get(srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func get(r http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	r.ServeHTTP(w, req)
	return w
}

func TestSplitName(t *testing.T) {
	remote, module := SplitName("listUserApp/ListUser")
	assert.Equal(t, "listUserApp", remote)
	assert.Equal(t, "ListUser", module)

	remote, module = SplitName("Local")
	assert.Equal(t, "", remote)
	assert.Equal(t, "Local", module)
}

func TestRegistry_RejectsDuplicates(t *testing.T) {
	reg := NewRegistry()
	f := func(context.Context, *Host) (Component, error) { return nil, nil }

	require.NoError(t, reg.Register("a/B", f))
	assert.ErrorIs(t, reg.Register("a/B", f), ErrDuplicateComponent)
	require.NoError(t, reg.Register("a/A", f))
	assert.Equal(t, []string{"a/A", "a/B"}, reg.Names())
}

func TestRegistry_SharesOneStore(t *testing.T) {
	h := newHost()
	reg := NewRegistry()
	var seen []sdk.UserStore
	factory := func(_ context.Context, h *Host) (Component, error) {
		seen = append(seen, h.Store)
		return &staticComponent{name: "x", store: h.Store}, nil
	}
	require.NoError(t, reg.Register("a/One", factory))
	require.NoError(t, reg.Register("b/Two", factory))

	reg.Resolve(context.Background(), h, "a/One")
	reg.Resolve(context.Background(), h, "b/Two")

	require.Len(t, seen, 2)
	assert.Same(t, seen[0], seen[1])
}

func TestRegistry_ResolveFailuresAreUnavailable(t *testing.T) {
	fallback := Endpoint{Method: http.MethodGet, Path: "/users"}
	tests := []struct {
		name    string
		factory Factory
		wantErr error
	}{
		{name: "missing", wantErr: ErrComponentNotFound},
		{
			name: "factory error",
			factory: func(context.Context, *Host) (Component, error) {
				return nil, errors.New("remote down")
			},
		},
		{
			name: "factory panic",
			factory: func(context.Context, *Host) (Component, error) {
				panic("boom")
			},
		},
		{
			name: "nil component",
			factory: func(context.Context, *Host) (Component, error) {
				return nil, nil
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := NewRegistry()
			if tt.factory != nil {
				require.NoError(t, reg.Register("listUserApp/ListUser", tt.factory))
			}

			var c Component
			require.NotPanics(t, func() {
				c = reg.Resolve(context.Background(), newHost(), "listUserApp/ListUser", fallback)
			})
			require.NotNil(t, c)
			assert.True(t, IsUnavailable(c))
			if tt.wantErr != nil {
				assert.ErrorIs(t, c.(*Unavailable).Reason, tt.wantErr)
			}

			w := get(serve(c), "/users")
			assert.Equal(t, http.StatusServiceUnavailable, w.Code)
			assert.JSONEq(t, `{"error":"component unavailable","component":"listUserApp/ListUser"}`, w.Body.String())
		})
	}
}

func manifestFor(mode sdk.Mode, version string) Manifest {
	return Manifest{
		Name: "listUserApp",
		Mode: mode,
		Exposes: map[string][]Endpoint{
			"./ListUser": {{Method: http.MethodGet, Path: "/count"}},
		},
		Shared: map[string]Shared{
			sdk.StoreModule: {Singleton: true, RequiredVersion: version},
		},
	}
}

func TestManifest_Validate(t *testing.T) {
	tests := []struct {
		name     string
		manifest Manifest
		remote   string
		module   string
		wantErr  error
	}{
		{name: "valid", manifest: manifestFor(sdk.ModeFederated, sdk.ProtocolVersion), remote: "listUserApp", module: "ListUser"},
		{name: "standalone", manifest: manifestFor(sdk.ModeStandalone, sdk.ProtocolVersion), remote: "listUserApp", module: "ListUser", wantErr: ErrStandaloneMode},
		{name: "version", manifest: manifestFor(sdk.ModeFederated, "0.9.0"), remote: "listUserApp", module: "ListUser", wantErr: ErrVersionMismatch},
		{name: "not exposed", manifest: manifestFor(sdk.ModeFederated, sdk.ProtocolVersion), remote: "listUserApp", module: "Other", wantErr: ErrNotExposed},
		{name: "wrong remote", manifest: manifestFor(sdk.ModeFederated, sdk.ProtocolVersion), remote: "createUserApp", module: "ListUser", wantErr: ErrRemoteMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eps, err := tt.manifest.Validate(tt.remote, tt.module)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Len(t, eps, 1)
		})
	}
}

// startRemote serves a manifest and the component routes.
func startRemote(t *testing.T, m Manifest) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET(ManifestPath, func(c *gin.Context) { c.JSON(http.StatusOK, m) })
	r.GET("/count", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"total": 42}) })
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestRemoteFactory_Proxies(t *testing.T) {
	srv := startRemote(t, manifestFor(sdk.ModeFederated, sdk.ProtocolVersion))
	h := newHost()
	reg := NewRegistry()
	require.NoError(t, reg.Register("listUserApp/ListUser", RemoteFactory("listUserApp/ListUser", srv.URL, srv.Client())))

	c := reg.Resolve(context.Background(), h, "listUserApp/ListUser")
	require.False(t, IsUnavailable(c))

	code, raw := httpGet(t, serveHTTP(t, c), "/count")
	require.Equal(t, http.StatusOK, code)
	var body map[string]int
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, 42, body["total"])

	calt := h.Timeline.EntriesByName("host-app:remote:listUserApp:CALT", perf.EntryMeasure)
	assert.Len(t, calt, 1)
}

func TestRemoteFactory_RejectsStandaloneRemote(t *testing.T) {
	srv := startRemote(t, manifestFor(sdk.ModeStandalone, sdk.ProtocolVersion))
	reg := NewRegistry()
	require.NoError(t, reg.Register("listUserApp/ListUser", RemoteFactory("listUserApp/ListUser", srv.URL, srv.Client())))

	c := reg.Resolve(context.Background(), newHost(), "listUserApp/ListUser")
	require.True(t, IsUnavailable(c))
	assert.ErrorIs(t, c.(*Unavailable).Reason, ErrStandaloneMode)
}

func TestRemoteFactory_UnreachableRemote(t *testing.T) {
	srv := startRemote(t, manifestFor(sdk.ModeFederated, sdk.ProtocolVersion))
	url := srv.URL
	srv.Close()

	reg := NewRegistry()
	require.NoError(t, reg.Register("listUserApp/ListUser", RemoteFactory("listUserApp/ListUser", url, nil)))
	c := reg.Resolve(context.Background(), newHost(), "listUserApp/ListUser",
		Endpoint{Method: http.MethodGet, Path: "/count"})
	assert.True(t, IsUnavailable(c))
	assert.Equal(t, http.StatusServiceUnavailable, get(serve(c), "/count").Code)
}

func TestProxy_RemoteGoneAnswers503(t *testing.T) {
	srv := startRemote(t, manifestFor(sdk.ModeFederated, sdk.ProtocolVersion))
	reg := NewRegistry()
	require.NoError(t, reg.Register("listUserApp/ListUser", RemoteFactory("listUserApp/ListUser", srv.URL, srv.Client())))
	c := reg.Resolve(context.Background(), newHost(), "listUserApp/ListUser")
	require.False(t, IsUnavailable(c))

	host := serveHTTP(t, c)
	srv.Close()
	code, raw := httpGet(t, host, "/count")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.JSONEq(t, `{"error":"component unavailable"}`, string(raw))
}

func TestFetchManifest_NotFoundIsNotRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := FetchManifest(context.Background(), srv.Client(), srv.URL)
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRemoteFactory_DeferredRemoteBindsWhenUp(t *testing.T) {
	var up atomic.Bool
	m := manifestFor(sdk.ModeFederated, sdk.ProtocolVersion)
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET(ManifestPath, func(c *gin.Context) {
		if !up.Load() {
			c.Status(http.StatusNotFound)
			return
		}
		c.JSON(http.StatusOK, m)
	})
	r.GET("/count", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"total": 42}) })
	remote := httptest.NewServer(r)
	defer remote.Close()

	h := newHost()
	reg := NewRegistry()
	require.NoError(t, reg.Register("listUserApp/ListUser", RemoteFactory("listUserApp/ListUser", remote.URL, remote.Client(),
		WithExpectedEndpoints(Endpoint{Method: http.MethodGet, Path: "/count"}),
		WithRetryInterval(0))))

	c := reg.Resolve(context.Background(), h, "listUserApp/ListUser")
	_, deferred := c.(*Deferred)
	require.True(t, deferred)
	assert.True(t, IsUnavailable(c))

	host := serveHTTP(t, c)
	code, raw := httpGet(t, host, "/count")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.JSONEq(t, `{"error":"component unavailable","component":"listUserApp/ListUser"}`, string(raw))

	up.Store(true)
	code, raw = httpGet(t, host, "/count")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"total":42}`, string(raw))
	assert.False(t, IsUnavailable(c))

	// Every load attempt is timed, failed ones included
	assert.Len(t, h.Timeline.EntriesByName("host-app:remote:listUserApp:CALT", perf.EntryMeasure), 3)
}

func TestRemoteFactory_DeferredRemoteWaitsForInterval(t *testing.T) {
	calls := atomic.Int32{}
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer remote.Close()

	reg := NewRegistry()
	require.NoError(t, reg.Register("listUserApp/ListUser", RemoteFactory("listUserApp/ListUser", remote.URL, remote.Client(),
		WithExpectedEndpoints(Endpoint{Method: http.MethodGet, Path: "/count"}),
		WithRetryInterval(time.Hour))))
	c := reg.Resolve(context.Background(), newHost(), "listUserApp/ListUser")

	host := serveHTTP(t, c)
	for i := 0; i < 3; i++ {
		code, _ := httpGet(t, host, "/count")
		assert.Equal(t, http.StatusServiceUnavailable, code)
	}
	assert.Equal(t, int32(1), calls.Load())
	assert.ErrorContains(t, Failure(c), "status 404")
}

func TestRemoteFactory_InvalidManifestIsNotDeferred(t *testing.T) {
	srv := startRemote(t, manifestFor(sdk.ModeStandalone, sdk.ProtocolVersion))
	reg := NewRegistry()
	require.NoError(t, reg.Register("listUserApp/ListUser", RemoteFactory("listUserApp/ListUser", srv.URL, srv.Client(),
		WithExpectedEndpoints(Endpoint{Method: http.MethodGet, Path: "/count"}))))

	c := reg.Resolve(context.Background(), newHost(), "listUserApp/ListUser")
	require.True(t, IsUnavailable(c))
	assert.ErrorIs(t, Failure(c), ErrStandaloneMode)
}

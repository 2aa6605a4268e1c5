package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celerix-dev/celerix-federation/internal/components/createuser"
	"github.com/celerix-dev/celerix-federation/internal/components/listuser"
	"github.com/celerix-dev/celerix-federation/internal/engine"
	"github.com/celerix-dev/celerix-federation/internal/federation"
	"github.com/celerix-dev/celerix-federation/internal/perf"
	"github.com/celerix-dev/celerix-federation/internal/telemetry"
)

type attrSink struct {
	telemetry.Noop
	mu    sync.Mutex
	attrs map[string]any
}

func (s *attrSink) SetAttribute(name string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attrs[name] = value
	return nil
}

func (s *attrSink) get(name string) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attrs[name]
}

func setupTestRouter(t *testing.T, register func(*federation.Registry)) (*gin.Engine, *federation.Host, *attrSink) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	sink := &attrSink{attrs: make(map[string]any)}
	store := engine.NewHostStore(engine.WithDelays(engine.NoDelays))
	h := federation.NewHost(perf.Info{App: "host-app"}, store, perf.NewTimeline(), sink, nil)

	reg := federation.NewRegistry()
	register(reg)

	ctx := context.Background()
	comps := []federation.Component{
		reg.Resolve(ctx, h, listuser.Name, listuser.Endpoints...),
		reg.Resolve(ctx, h, createuser.Name, createuser.Endpoints...),
	}

	handler := NewHandler(h, comps)
	return handler.Router(), h, sink
}

func registerAll(reg *federation.Registry) {
	reg.Register(listuser.Name, listuser.Factory(perf.Info{}))
	reg.Register(createuser.Name, createuser.Factory(perf.Info{}))
}

func doRequest(r http.Handler, method, path string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHostEndpoints(t *testing.T) {
	r, _, _ := setupTestRouter(t, registerAll)

	for _, path := range []string{"/", "/about", "/healthz", "/metrics", "/api/state", "/api/routes"} {
		w := doRequest(r, http.MethodGet, path)
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
	assert.Equal(t, http.StatusNotFound, doRequest(r, http.MethodGet, "/nowhere").Code)
}

func TestComponentsShareHostStore(t *testing.T) {
	r, h, _ := setupTestRouter(t, registerAll)

	w := doRequest(r, http.MethodGet, "/users")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5, h.Store.TotalUsers())

	w = doRequest(r, http.MethodDelete, "/users/1")
	require.Equal(t, http.StatusNoContent, w.Code)

	// The edit view reads the same store the list view wrote to
	w = doRequest(r, http.MethodGet, "/users/edit/1")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(r, http.MethodGet, "/api/state")
	var state struct {
		Users []struct {
			ID int `json:"id"`
		} `json:"users"`
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &state))
	assert.Len(t, state.Users, 4)
	assert.Contains(t, state.Error, "1")
}

func TestUnregisteredComponentIsUnavailable(t *testing.T) {
	r, _, _ := setupTestRouter(t, func(reg *federation.Registry) {
		reg.Register(listuser.Name, listuser.Factory(perf.Info{}))
	})

	assert.Equal(t, http.StatusServiceUnavailable, doRequest(r, http.MethodGet, "/users/create").Code)
	// The host and the healthy component keep serving
	assert.Equal(t, http.StatusOK, doRequest(r, http.MethodGet, "/users").Code)
	assert.Equal(t, http.StatusOK, doRequest(r, http.MethodGet, "/").Code)

	w := doRequest(r, http.MethodGet, "/api/components")
	var comps []componentInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &comps))
	require.Len(t, comps, 2)
	assert.True(t, comps[0].Available)
	assert.False(t, comps[1].Available)
	assert.Contains(t, comps[1].Reason, "component not found")
}

func TestNavigationHook(t *testing.T) {
	r, _, sink := setupTestRouter(t, registerAll)

	w := doRequest(r, http.MethodGet, "/")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "home", sink.get("pageViewName"))
	assert.Equal(t, "none", sink.get("previousRoute"))

	prev := routeCookieOf(t, w)
	assert.Equal(t, "home", prev.Value)

	w = doRequest(r, http.MethodGet, "/users/edit/2", prev)
	assert.Equal(t, "edit-user", sink.get("routeName"))
	assert.Equal(t, "/users/edit/2", sink.get("routePath"))
	assert.Equal(t, "home", sink.get("previousRoute"))
	assert.Equal(t, "edit-user", routeCookieOf(t, w).Value)
}

func routeCookieOf(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == routeCookie {
			return c
		}
	}
	require.FailNow(t, "route cookie not set")
	return nil
}

func TestNavigationHook_CookielessClients(t *testing.T) {
	r, _, sink := setupTestRouter(t, registerAll)

	for i := 0; i < 100; i++ {
		doRequest(r, http.MethodGet, "/about")
		assert.Equal(t, "none", sink.get("previousRoute"))
	}

	forged := &http.Cookie{Name: routeCookie, Value: "not-a-route"}
	doRequest(r, http.MethodGet, "/", forged)
	assert.Equal(t, "none", sink.get("previousRoute"))
}

func TestMetricsEndpoint(t *testing.T) {
	r, _, _ := setupTestRouter(t, registerAll)
	doRequest(r, http.MethodGet, "/users")

	w := doRequest(r, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `host_http_requests_total{method="GET",path="/users",status="200"} 1`)
}

func TestRequestIDAndCORS(t *testing.T) {
	r, _, _ := setupTestRouter(t, registerAll)

	w := doRequest(r, http.MethodGet, "/healthz")
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	w = doRequest(r, http.MethodOptions, "/users")
	assert.Equal(t, http.StatusNoContent, w.Code)
}

type halfMounted struct{}

func (halfMounted) Name() string { return "brokenApp/Broken" }

func (halfMounted) Endpoints() []federation.Endpoint {
	return []federation.Endpoint{
		{Method: http.MethodGet, Path: "/broken/a"},
		{Method: http.MethodGet, Path: "/broken/b"},
	}
}

func (halfMounted) Mount(r gin.IRoutes) {
	r.GET("/broken/a", func(c *gin.Context) { c.Status(http.StatusOK) })
	panic("mount failed halfway")
}

func TestMountPanicMarksComponentUnavailable(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := engine.NewHostStore(engine.WithDelays(engine.NoDelays))
	h := federation.NewHost(perf.Info{App: "host-app"}, store, perf.NewTimeline(), nil, nil)

	var r *gin.Engine
	require.NotPanics(t, func() {
		r = NewHandler(h, []federation.Component{halfMounted{}}).Router()
	})

	assert.Equal(t, http.StatusServiceUnavailable, doRequest(r, http.MethodGet, "/broken/b").Code)
	assert.Equal(t, http.StatusOK, doRequest(r, http.MethodGet, "/healthz").Code)

	w := doRequest(r, http.MethodGet, "/api/components")
	var comps []componentInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &comps))
	require.Len(t, comps, 1)
	assert.False(t, comps[0].Available)
	assert.Contains(t, comps[0].Reason, "mount failed halfway")
}

package remoteapp

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/celerix-dev/celerix-federation/internal/components/listuser"
	"github.com/celerix-dev/celerix-federation/internal/config"
	"github.com/celerix-dev/celerix-federation/internal/engine"
	"github.com/celerix-dev/celerix-federation/internal/federation"
	"github.com/celerix-dev/celerix-federation/internal/perf"
	"github.com/celerix-dev/celerix-federation/internal/server"
	"github.com/celerix-dev/celerix-federation/pkg/sdk"
)

func testConfig(hostAddr string) *config.Config {
	cfg := &config.Config{
		App:      config.App{Name: listuser.App, Team: "users-team", Version: "1.0.0"},
		HTTPPort: "0",
		Perf:     config.Perf{TimelineCapacity: 100},
	}
	cfg.Store.DisableTLS = true
	cfg.Remotes.HostStoreAddr = hostAddr
	return cfg
}

var remote = Remote{
	Name:      listuser.Name,
	Factory:   listuser.Factory(perf.Info{}),
	Endpoints: listuser.Endpoints,
}

func fetchManifest(t *testing.T, r http.Handler) federation.Manifest {
	t.Helper()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, federation.ManifestPath, nil))
	require.Equal(t, http.StatusOK, w.Code)

	var m federation.Manifest
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m))
	return m
}

func TestNew_Standalone(t *testing.T) {
	gin.SetMode(gin.TestMode)
	app := New(context.Background(), testConfig(""), remote, zap.NewNop())
	defer app.Close()

	assert.Equal(t, sdk.ModeStandalone, app.Mode)
	m := fetchManifest(t, app.Router())
	assert.Equal(t, listuser.App, m.Name)
	assert.Equal(t, sdk.ModeStandalone, m.Mode)

	_, err := m.Validate(listuser.App, listuser.Module)
	assert.ErrorIs(t, err, federation.ErrStandaloneMode)
}

func TestNew_FederatedUsesHostStore(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hostStore := engine.NewHostStore(engine.WithDelays(engine.NoDelays))
	router := server.NewRouter(hostStore, nil)
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go router.Serve(listener)
	defer router.Stop()

	app := New(context.Background(), testConfig(listener.Addr().String()), remote, zap.NewNop())
	defer app.Close()
	require.Equal(t, sdk.ModeFederated, app.Mode)

	r := app.Router()
	eps, err := fetchManifest(t, r).Validate(listuser.App, listuser.Module)
	require.NoError(t, err)
	assert.Equal(t, listuser.Endpoints, eps)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/users", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5, hostStore.TotalUsers())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/users/3", nil))
	require.Equal(t, http.StatusNoContent, w.Code)
	_, ok := hostStore.UserByID(3)
	assert.False(t, ok)
}

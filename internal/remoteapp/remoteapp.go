// Package remoteapp boots a remote: it discovers the store, builds the
// exposed component and serves it with its manifest.
package remoteapp

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/celerix-dev/celerix-federation/internal/api"
	"github.com/celerix-dev/celerix-federation/internal/config"
	"github.com/celerix-dev/celerix-federation/internal/engine"
	"github.com/celerix-dev/celerix-federation/internal/federation"
	"github.com/celerix-dev/celerix-federation/internal/perf"
	"github.com/celerix-dev/celerix-federation/internal/telemetry"
	"github.com/celerix-dev/celerix-federation/pkg/sdk"
)

// Remote describes the component a remote binary exposes.
type Remote struct {
	// Name is the qualified "<remote>/<module>" name.
	Name      string
	Factory   federation.Factory
	Endpoints []federation.Endpoint
}

// App is a remote ready to serve.
type App struct {
	Host      *federation.Host
	Mode      sdk.Mode
	Component federation.Component
	Manifest  federation.Manifest
	Registry  *prometheus.Registry

	shutdown func()
}

// New discovers the store and resolves the exposed component.
func New(ctx context.Context, cfg *config.Config, remote Remote, logger *zap.Logger) *App {
	store, mode := sdk.New(sdk.Options{
		HostStoreAddr: cfg.Remotes.HostStoreAddr,
		DisableTLS:    cfg.Store.DisableTLS,
		Logger:        logger,
		Standalone:    []engine.Option{engine.WithDelays(engine.DefaultDelays)},
	})
	if mode == sdk.ModeStandalone {
		logger.Info("running in standalone mode with the local store")
	}

	reg := prometheus.NewRegistry()
	sink, shutdown := telemetry.Setup(cfg.TelemetryConfig(), reg, "remote", logger)

	info := perf.Info{App: cfg.App.Name, Team: cfg.App.Team, Version: cfg.App.Version}
	tl := perf.NewTimeline(perf.WithCapacity(cfg.Perf.TimelineCapacity))
	host := federation.NewHost(info, store, tl, sink, logger)

	registry := federation.NewRegistry()
	if err := registry.Register(remote.Name, remote.Factory); err != nil {
		logger.Error("failed to register component", zap.Error(err))
	}
	comp := registry.Resolve(ctx, host, remote.Name, remote.Endpoints...)

	_, module := federation.SplitName(remote.Name)
	manifest := federation.Manifest{
		Name: info.App,
		Mode: mode,
		Exposes: map[string][]federation.Endpoint{
			federation.ExposeKey(module): comp.Endpoints(),
		},
		Shared: map[string]federation.Shared{
			sdk.StoreModule: {Singleton: true, RequiredVersion: sdk.ProtocolVersion},
		},
	}

	return &App{
		Host:      host,
		Mode:      mode,
		Component: comp,
		Manifest:  manifest,
		Registry:  reg,
		shutdown:  shutdown,
	}
}

// Router serves the manifest, the component and the remote's own endpoints.
func (a *App) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), api.RequestID(), api.CORS(), api.Instrument(a.Registry, "remote"))

	r.GET(federation.ManifestPath, func(c *gin.Context) {
		c.JSON(http.StatusOK, a.Manifest)
	})
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "mode": a.Mode})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{})))

	a.Component.Mount(r)
	return r
}

// Close releases the store connection and flushes telemetry.
func (a *App) Close() {
	if c, ok := a.Host.Store.(*sdk.Client); ok {
		c.Close()
	}
	a.shutdown()
}

// Run serves the remote until ctx is done.
func Run(ctx context.Context, cfg *config.Config, remote Remote, logger *zap.Logger) error {
	app := New(ctx, cfg, remote, logger)
	defer app.Close()

	srv := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: app.Router(),
	}
	return api.Serve(ctx, srv, logger)
}

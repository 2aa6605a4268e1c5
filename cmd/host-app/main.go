package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/celerix-dev/celerix-federation/internal/api"
	"github.com/celerix-dev/celerix-federation/internal/components/createuser"
	"github.com/celerix-dev/celerix-federation/internal/components/listuser"
	"github.com/celerix-dev/celerix-federation/internal/config"
	"github.com/celerix-dev/celerix-federation/internal/engine"
	"github.com/celerix-dev/celerix-federation/internal/federation"
	"github.com/celerix-dev/celerix-federation/internal/logger"
	"github.com/celerix-dev/celerix-federation/internal/perf"
	"github.com/celerix-dev/celerix-federation/internal/server"
	"github.com/celerix-dev/celerix-federation/internal/telemetry"
	"github.com/celerix-dev/celerix-federation/internal/vault"
)

func main() {
	cfg, err := config.NewConfig(config.Config{
		App:      config.App{Name: "host-app"},
		HTTPPort: "8080",
	})
	if err != nil {
		panic(err)
	}

	log := logger.Must(cfg.LogLevel)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	info := perf.Info{App: cfg.App.Name, Team: cfg.App.Team, Version: cfg.App.Version}
	tl := perf.NewTimeline(perf.WithCapacity(cfg.Perf.TimelineCapacity))

	// 1. Initialize the single store
	store := engine.NewHostStore()
	unsubscribe := store.Subscribe(func(m engine.Mutation) {
		log.Debug("store mutation", zap.String("type", m.Type), zap.Any("payload", m.Payload))
	})
	defer unsubscribe()

	// 2. Telemetry
	metrics := prometheus.NewRegistry()
	metrics.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	sink, flush := telemetry.Setup(cfg.TelemetryConfig(), metrics, "host", log)
	defer flush()

	host := federation.NewHost(info, store, tl, sink, log)
	mon := host.Monitor(info)
	mon.MarkPlatformLoadStart(nil)

	// 3. Publish the store to the remotes
	router := server.NewRouter(store, log.Named("store"))
	if !cfg.Store.DisableTLS {
		cert, err := vault.GenerateSelfSignedCert()
		if err != nil {
			log.Fatal("failed to generate TLS certificate", zap.Error(err))
		}
		router.SetCertificate(cert)
		log.Info("store TLS encryption enabled")
	} else {
		log.Info("store TLS encryption disabled", zap.String("env", "STORE_DISABLE_TLS"))
	}
	go func() {
		log.Info("store listening", zap.String("port", cfg.Store.Port), zap.String("module", "host/store"))
		if err := router.Listen(cfg.Store.Port); err != nil {
			log.Error("store server failed", zap.Error(err))
			stop()
		}
	}()
	defer router.Stop()

	// 4. Compose the components
	registry := federation.NewRegistry()
	register(registry, cfg, log)
	components := []federation.Component{
		registry.Resolve(ctx, host, listuser.Name, listuser.Endpoints...),
		registry.Resolve(ctx, host, createuser.Name, createuser.Endpoints...),
	}
	handler := api.NewHandler(host, components)
	handler.Metrics = metrics
	r := handler.Router()

	mon.MarkPlatformLoadEnd(perf.Metadata{"components": len(components)})
	mon.CalculateTotalLoadTime(nil)

	// 5. Serve until a shutdown signal
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := api.Serve(ctx, srv, log); err != nil {
		log.Error("http server failed", zap.Error(err))
	}
	log.Info("shutdown complete")
}

// register binds each component to its remote when a URL is configured and
// to the in-process implementation otherwise.
func register(reg *federation.Registry, cfg *config.Config, log *zap.Logger) {
	client := &http.Client{Timeout: 5 * time.Second}
	components := []struct {
		name      string
		url       string
		endpoints []federation.Endpoint
		local     federation.Factory
	}{
		{
			name:      listuser.Name,
			url:       cfg.Remotes.ListUserAppURL,
			endpoints: listuser.Endpoints,
			local:     listuser.Factory(perf.Info{App: listuser.App, Team: cfg.App.Team, Version: cfg.App.Version}),
		},
		{
			name:      createuser.Name,
			url:       cfg.Remotes.CreateUserAppURL,
			endpoints: createuser.Endpoints,
			local:     createuser.Factory(perf.Info{App: createuser.App, Team: cfg.App.Team, Version: cfg.App.Version}),
		},
	}

	for _, c := range components {
		f := c.local
		if c.url != "" {
			f = federation.RemoteFactory(c.name, c.url, client, federation.WithExpectedEndpoints(c.endpoints...))
			log.Info("component bound to remote", zap.String("component", c.name), zap.String("url", c.url))
		}
		if err := reg.Register(c.name, f); err != nil {
			log.Error("failed to register component", zap.String("component", c.name), zap.Error(err))
		}
	}
}

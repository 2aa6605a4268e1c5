package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/celerix-dev/celerix-federation/internal/components/createuser"
	"github.com/celerix-dev/celerix-federation/internal/config"
	"github.com/celerix-dev/celerix-federation/internal/logger"
	"github.com/celerix-dev/celerix-federation/internal/perf"
	"github.com/celerix-dev/celerix-federation/internal/remoteapp"
)

func main() {
	cfg, err := config.NewConfig(config.Config{
		App:      config.App{Name: createuser.App},
		HTTPPort: "3002",
	})
	if err != nil {
		panic(err)
	}

	log := logger.Must(cfg.LogLevel)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	remote := remoteapp.Remote{
		Name:      createuser.Name,
		Factory:   createuser.Factory(perf.Info{App: cfg.App.Name, Team: cfg.App.Team, Version: cfg.App.Version}),
		Endpoints: createuser.Endpoints,
	}
	if err := remoteapp.Run(ctx, cfg, remote, log); err != nil {
		log.Fatal("remote failed", zap.Error(err))
	}
}

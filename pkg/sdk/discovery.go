package sdk

import (
	"go.uber.org/zap"

	"github.com/celerix-dev/celerix-federation/internal/engine"
)

var _ UserStore = (*engine.MemStore)(nil)

// Options drive store discovery for a remote.
type Options struct {
	// HostStoreAddr is the address of the host's published store.
	// Empty means standalone.
	HostStoreAddr string
	DisableTLS    bool
	Logger        *zap.Logger
	// Standalone configures the fallback store.
	Standalone []engine.Option
}

// New picks the store for a remote.
// It returns the interface, so the component doesn't care which one it got.
func New(opts Options) (UserStore, Mode) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	// 1. Use the host store when one is configured and answers
	if opts.HostStoreAddr != "" {
		clientOpts := []ClientOption{WithLogger(logger)}
		if opts.DisableTLS {
			clientOpts = append(clientOpts, WithoutTLS())
		}
		client, err := Connect(opts.HostStoreAddr, clientOpts...)
		if err == nil {
			logger.Info("using host store", zap.String("addr", opts.HostStoreAddr))
			return client, ModeFederated
		}
		logger.Warn("host store unreachable, falling back to standalone store",
			zap.String("addr", opts.HostStoreAddr), zap.Error(err))
	}

	// 2. Fallback to the standalone store
	return engine.NewStandalone(opts.Standalone...), ModeStandalone
}

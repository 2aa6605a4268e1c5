package federation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/celerix-dev/celerix-federation/pkg/sdk"
)

// ManifestPath is where a remote publishes its Manifest.
const ManifestPath = "/remoteEntry.json"

var (
	ErrNotExposed      = errors.New("module not exposed by remote")
	ErrStandaloneMode  = errors.New("remote runs in standalone mode")
	ErrVersionMismatch = errors.New("shared store version mismatch")
	ErrRemoteMismatch  = errors.New("manifest belongs to another remote")
)

// Shared describes a singleton the remote expects from the host.
type Shared struct {
	Singleton       bool   `json:"singleton"`
	RequiredVersion string `json:"requiredVersion"`
}

// Manifest is the entry document of a remote.
type Manifest struct {
	Name    string                `json:"name"`
	Mode    sdk.Mode              `json:"mode"`
	Exposes map[string][]Endpoint `json:"exposes"`
	Shared  map[string]Shared     `json:"shared"`
}

// ExposeKey is the manifest key of an exposed module.
func ExposeKey(module string) string {
	return "./" + module
}

// Validate checks that the remote can be composed and returns the
// endpoints of module.
func (m Manifest) Validate(remote, module string) ([]Endpoint, error) {
	if m.Name != remote {
		return nil, fmt.Errorf("%w: want %s, got %s", ErrRemoteMismatch, remote, m.Name)
	}
	if m.Mode == sdk.ModeStandalone {
		return nil, fmt.Errorf("%w: %s", ErrStandaloneMode, remote)
	}
	shared, ok := m.Shared[sdk.StoreModule]
	if !ok || !shared.Singleton || shared.RequiredVersion != sdk.ProtocolVersion {
		return nil, fmt.Errorf("%w: %s requires %q", ErrVersionMismatch, remote, shared.RequiredVersion)
	}
	endpoints, ok := m.Exposes[ExposeKey(module)]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotExposed, remote, module)
	}
	return endpoints, nil
}

// FetchManifest loads the manifest of the remote at baseURL. Transport
// failures and 5xx replies are retried.
func FetchManifest(ctx context.Context, client *http.Client, baseURL string) (Manifest, error) {
	if client == nil {
		client = http.DefaultClient
	}
	url := strings.TrimRight(baseURL, "/") + ManifestPath

	var m Manifest
	var final error

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			final = err
			return nil
		}
		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				final = ctx.Err()
				return nil
			}
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("manifest %s: status %d", url, resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			final = fmt.Errorf("manifest %s: status %d", url, resp.StatusCode)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
			final = fmt.Errorf("manifest %s: %w", url, err)
		}
		return nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 100 * time.Millisecond
	eb.MaxInterval = time.Second
	if err := backoff.Retry(op, backoff.WithMaxRetries(eb, 2)); err != nil {
		return Manifest{}, fmt.Errorf("failed to load manifest: %w", err)
	}
	if final != nil {
		return Manifest{}, fmt.Errorf("failed to load manifest: %w", final)
	}
	return m, nil
}

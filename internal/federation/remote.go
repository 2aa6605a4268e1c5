package federation

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/celerix-dev/celerix-federation/internal/perf"
)

// DefaultRetryInterval is the minimum wait between two manifest loads of a
// remote that was down.
const DefaultRetryInterval = 5 * time.Second

type remoteOptions struct {
	expected []Endpoint
	retry    time.Duration
}

// RemoteOption configures RemoteFactory.
type RemoteOption func(*remoteOptions)

// WithExpectedEndpoints lets a remote that is unreachable at startup be
// mounted anyway. Its endpoints answer 503 and the manifest is loaded again
// on a later request.
func WithExpectedEndpoints(eps ...Endpoint) RemoteOption {
	return func(o *remoteOptions) { o.expected = eps }
}

// WithRetryInterval overrides DefaultRetryInterval.
func WithRetryInterval(d time.Duration) RemoteOption {
	return func(o *remoteOptions) { o.retry = d }
}

// RemoteFactory builds a component proxied to the remote at baseURL.
// name is the qualified "<remote>/<module>" name. Loading the manifest is
// timed as the component asset load time of the remote.
//
// A manifest that loads but does not validate always fails the factory.
// An unreachable remote fails it too, unless expected endpoints were given:
// the component is then deferred until the remote answers.
func RemoteFactory(name, baseURL string, client *http.Client, opts ...RemoteOption) Factory {
	o := remoteOptions{retry: DefaultRetryInterval}
	for _, opt := range opts {
		opt(&o)
	}

	return func(ctx context.Context, h *Host) (Component, error) {
		target, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid remote url %q: %w", baseURL, err)
		}
		l := &remoteLoader{h: h, name: name, target: target, client: client}

		manifest, err := l.fetch(ctx)
		if err != nil {
			if len(o.expected) == 0 {
				return nil, err
			}
			h.Logger.Warn("remote unreachable, deferring", zap.String("component", name), zap.Error(err))
			h.reportError(err, map[string]any{"source": "federation", "component": name})
			return newDeferred(l, o.expected, o.retry, err), nil
		}
		p, err := l.proxy(manifest)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

type remoteLoader struct {
	h      *Host
	name   string
	target *url.URL
	client *http.Client
}

func (l *remoteLoader) fetch(ctx context.Context) (Manifest, error) {
	remote, _ := SplitName(l.name)
	mon := l.h.Monitor(l.h.Info)

	mon.MarkRemoteAssetStart(remote, perf.Metadata{"url": l.target.String()})
	manifest, err := FetchManifest(ctx, l.client, l.target.String())
	mon.MarkRemoteAssetEnd(remote, perf.Metadata{"url": l.target.String(), "success": err == nil})
	return manifest, err
}

func (l *remoteLoader) proxy(m Manifest) (*Proxy, error) {
	remote, module := SplitName(l.name)
	endpoints, err := m.Validate(remote, module)
	if err != nil {
		return nil, err
	}
	return newProxy(l.h, l.name, l.target, endpoints), nil
}

// Proxy forwards a component's endpoints to the remote serving it.
type Proxy struct {
	name      string
	endpoints []Endpoint
	proxy     *httputil.ReverseProxy
}

func newProxy(h *Host, name string, target *url.URL, endpoints []Endpoint) *Proxy {
	rp := httputil.NewSingleHostReverseProxy(target)
	logger := h.Logger.With(zap.String("component", name), zap.String("target", target.String()))

	rp.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Warn("remote request failed", zap.String("path", r.URL.Path), zap.Error(err))
		h.reportError(err, map[string]any{
			"source":    "proxy",
			"component": name,
			"path":      r.URL.Path,
		})
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"error":"component unavailable"}`)
	}
	rp.Transport = &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		ResponseHeaderTimeout: 10 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          100,
	}

	return &Proxy{name: name, endpoints: endpoints, proxy: rp}
}

func (p *Proxy) Name() string          { return p.name }
func (p *Proxy) Endpoints() []Endpoint { return p.endpoints }

func (p *Proxy) Mount(r gin.IRoutes) {
	h := gin.WrapH(p.proxy)
	for _, ep := range p.endpoints {
		r.Handle(ep.Method, ep.Path, h)
	}
}

// Deferred is a remote component whose manifest could not be loaded yet.
// Requests to its endpoints retry the load at most once per interval and
// are proxied once it succeeds.
type Deferred struct {
	loader    *remoteLoader
	endpoints []Endpoint
	interval  time.Duration

	mu      sync.Mutex
	proxy   *Proxy
	lastErr error
	nextTry time.Time
}

func newDeferred(l *remoteLoader, endpoints []Endpoint, interval time.Duration, cause error) *Deferred {
	return &Deferred{
		loader:    l,
		endpoints: endpoints,
		interval:  interval,
		lastErr:   cause,
		nextTry:   time.Now().Add(interval),
	}
}

func (d *Deferred) Name() string          { return d.loader.name }
func (d *Deferred) Endpoints() []Endpoint { return d.endpoints }

func (d *Deferred) Mount(r gin.IRoutes) {
	for _, ep := range d.endpoints {
		r.Handle(ep.Method, ep.Path, d.serve)
	}
}

// Err returns the last load failure, or nil once the remote is bound.
func (d *Deferred) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.proxy != nil {
		return nil
	}
	return d.lastErr
}

func (d *Deferred) resolve(ctx context.Context) (*Proxy, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.proxy != nil {
		return d.proxy, nil
	}
	if time.Now().Before(d.nextTry) {
		return nil, d.lastErr
	}

	p, err := d.load(ctx)
	if err != nil {
		d.lastErr = err
		d.nextTry = time.Now().Add(d.interval)
		return nil, err
	}
	d.proxy = p
	d.loader.h.Logger.Info("deferred remote bound", zap.String("component", d.loader.name))
	return p, nil
}

func (d *Deferred) load(ctx context.Context) (*Proxy, error) {
	m, err := d.loader.fetch(ctx)
	if err != nil {
		return nil, err
	}
	return d.loader.proxy(m)
}

func (d *Deferred) serve(c *gin.Context) {
	p, err := d.resolve(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":     "component unavailable",
			"component": d.loader.name,
		})
		return
	}
	p.proxy.ServeHTTP(c.Writer, c.Request)
}

// Package api is the HTTP shell of the host: routing, navigation hooks and
// the host's own endpoints. Component routes are mounted into it.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/celerix-dev/celerix-federation/internal/components/createuser"
	"github.com/celerix-dev/celerix-federation/internal/components/listuser"
	"github.com/celerix-dev/celerix-federation/internal/federation"
	"github.com/celerix-dev/celerix-federation/pkg/sdk"
)

const (
	routeCookie     = "previous_route"
	requestIDHeader = "X-Request-ID"
)

// Route is an entry of the host route table.
type Route struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	Component string `json:"component,omitempty"`
}

// Routes is the host route table.
var Routes = []Route{
	{Name: "home", Path: "/"},
	{Name: "about", Path: "/about"},
	{Name: "list-users", Path: "/users", Component: listuser.Name},
	{Name: "create-user", Path: "/users/create", Component: createuser.Name},
	{Name: "edit-user", Path: "/users/edit/:id", Component: createuser.Name},
}

func routeByPath(path string) (Route, bool) {
	for _, r := range Routes {
		if r.Path == path {
			return r, true
		}
	}
	return Route{}, false
}

// Handler serves the host endpoints.
type Handler struct {
	Host       *federation.Host
	Components []federation.Component
	Mode       sdk.Mode
	Metrics    *prometheus.Registry
}

// NewHandler returns a Handler for the resolved components.
func NewHandler(h *federation.Host, comps []federation.Component) *Handler {
	return &Handler{
		Host:       h,
		Components: comps,
		Mode:       sdk.ModeFederated,
		Metrics:    prometheus.NewRegistry(),
	}
}

// Router builds the gin engine with the host endpoints and every component.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), CORS(), Instrument(h.Metrics, "host"), h.Navigation())

	r.GET("/", h.Home)
	r.GET("/about", h.About)
	r.GET("/healthz", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.Metrics, promhttp.HandlerOpts{})))

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/state", h.GetState)
		apiGroup.GET("/components", h.GetComponents)
		apiGroup.GET("/routes", h.GetRoutes)
	}

	for i, c := range h.Components {
		h.Components[i] = h.mount(r, c)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})
	return r
}

// mount registers c. If registration panics the host keeps serving and c is
// replaced by a placeholder on whichever of its endpoints are still free.
func (h *Handler) mount(r gin.IRoutes, c federation.Component) (mounted federation.Component) {
	defer func() {
		p := recover()
		if p == nil {
			return
		}
		err := fmt.Errorf("mount %s: %v", c.Name(), p)
		h.Host.Logger.Error("failed to mount component", zap.String("component", c.Name()), zap.Any("panic", p))
		h.Host.Telemetry.ReportError(err, map[string]any{"source": "federation", "component": c.Name()})

		eps := c.Endpoints()
		for _, ep := range eps {
			func() {
				defer func() { recover() }() // already registered by c
				federation.NewUnavailable(c.Name(), err, ep).Mount(r)
			}()
		}
		mounted = federation.NewUnavailable(c.Name(), err, eps...)
	}()
	c.Mount(r)
	return c
}

func (h *Handler) Home(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"app":    h.Host.Info.App,
		"mode":   h.Mode,
		"routes": Routes,
	})
}

func (h *Handler) About(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"app":     h.Host.Info.App,
		"team":    h.Host.Info.Team,
		"version": h.Host.Info.Version,
		"remotes": componentNames(h.Components),
	})
}

func (h *Handler) Health(c *gin.Context) {
	body := gin.H{"status": "ok", "mode": h.Mode}
	if s := h.Host.Store.State(); s.HasError() {
		body["store"] = s.Error
	}
	c.JSON(http.StatusOK, body)
}

// GetState returns a snapshot of the shared store.
func (h *Handler) GetState(c *gin.Context) {
	c.JSON(http.StatusOK, h.Host.Store.State())
}

type componentInfo struct {
	Name      string                `json:"name"`
	Available bool                  `json:"available"`
	Endpoints []federation.Endpoint `json:"endpoints"`
	Reason    string                `json:"reason,omitempty"`
}

func (h *Handler) GetComponents(c *gin.Context) {
	out := make([]componentInfo, 0, len(h.Components))
	for _, comp := range h.Components {
		info := componentInfo{
			Name:      comp.Name(),
			Available: true,
			Endpoints: comp.Endpoints(),
		}
		if err := federation.Failure(comp); err != nil {
			info.Available = false
			info.Reason = err.Error()
		}
		out = append(out, info)
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) GetRoutes(c *gin.Context) {
	c.JSON(http.StatusOK, Routes)
}

// Navigation sets the page view attributes on the telemetry sink after
// every GET that matched the route table. The previous route travels in a
// cookie, so the host keeps no per-client state.
func (h *Handler) Navigation() gin.HandlerFunc {
	return func(c *gin.Context) {
		route, ok := routeByPath(c.FullPath())
		if !ok || c.Request.Method != http.MethodGet {
			c.Next()
			return
		}

		prev := previousRoute(c)
		c.SetCookie(routeCookie, route.Name, 0, "/", "", false, true)
		c.Next()

		attrs := []struct {
			name  string
			value string
		}{
			{"pageViewName", route.Name},
			{"routeName", route.Name},
			{"routePath", c.Request.URL.Path},
			{"previousRoute", prev},
		}
		for _, a := range attrs {
			if err := h.Host.Telemetry.SetAttribute(a.name, a.value); err != nil {
				h.Host.Logger.Warn("failed to set page attribute", zap.String("attribute", a.name), zap.Error(err))
			}
		}
	}
}

// previousRoute reads the route cookie. Values outside the route table
// read as "none".
func previousRoute(c *gin.Context) string {
	name, err := c.Cookie(routeCookie)
	if err != nil {
		return "none"
	}
	for _, r := range Routes {
		if r.Name == name {
			return name
		}
	}
	return "none"
}

// RequestID tags every request and response with an id.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Writer.Header().Set(requestIDHeader, id)
		c.Next()
	}
}

// CORS allows the remotes to be developed against the host from other origins.
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, X-Request-ID")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// Instrument records request counts and latencies on reg.
func Instrument(reg prometheus.Registerer, namespace string) gin.HandlerFunc {
	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)
	duration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)
	requests = register(reg, requests)
	duration = register(reg, duration)

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		requests.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		duration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// register returns the collector already registered under the same
// descriptor, if any.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

func componentNames(comps []federation.Component) []string {
	names := make([]string, 0, len(comps))
	for _, c := range comps {
		names = append(names, c.Name())
	}
	return names
}

// Serve runs srv until ctx is done, then shuts it down gracefully.
func Serve(ctx context.Context, srv *http.Server, logger *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

package federation

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

var errUnknownFailure = errors.New("component unavailable")

// Endpoint is a route served by a component.
type Endpoint struct {
	Method string `json:"method"`
	Path   string `json:"path"`
}

// Component is a unit of UI or behavior mounted into the host.
type Component interface {
	// Name is the qualified name, "<remote>/<module>".
	Name() string
	Endpoints() []Endpoint
	Mount(r gin.IRoutes)
}

// SplitName separates the remote and the exposed module of a qualified name.
func SplitName(name string) (remote, module string) {
	remote, module, ok := strings.Cut(name, "/")
	if !ok {
		return "", name
	}
	return remote, module
}

// Unavailable stands in for a component that could not be resolved.
// It answers 503 on every endpoint of the original component.
type Unavailable struct {
	name      string
	endpoints []Endpoint
	Reason    error
}

// NewUnavailable returns a placeholder for name serving endpoints.
func NewUnavailable(name string, reason error, endpoints ...Endpoint) *Unavailable {
	return &Unavailable{name: name, endpoints: endpoints, Reason: reason}
}

func (u *Unavailable) Name() string          { return u.name }
func (u *Unavailable) Endpoints() []Endpoint { return u.endpoints }

func (u *Unavailable) Mount(r gin.IRoutes) {
	for _, ep := range u.endpoints {
		r.Handle(ep.Method, ep.Path, u.serve)
	}
}

func (u *Unavailable) serve(c *gin.Context) {
	c.JSON(http.StatusServiceUnavailable, gin.H{
		"error":     "component unavailable",
		"component": u.name,
	})
}

// IsUnavailable reports whether c cannot serve right now: a placeholder, or
// a deferred remote that has not been bound yet.
func IsUnavailable(c Component) bool {
	return Failure(c) != nil
}

// Failure returns why c cannot serve, or nil.
func Failure(c Component) error {
	switch v := c.(type) {
	case *Unavailable:
		if v.Reason == nil {
			return errUnknownFailure
		}
		return v.Reason
	case *Deferred:
		return v.Err()
	}
	return nil
}

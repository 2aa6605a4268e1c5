// Package listuser serves the user list of the listUserApp remote.
package listuser

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/celerix-dev/celerix-federation/internal/federation"
	"github.com/celerix-dev/celerix-federation/internal/perf"
	"github.com/celerix-dev/celerix-federation/internal/telemetry"
	"github.com/celerix-dev/celerix-federation/pkg/schema"
	"github.com/celerix-dev/celerix-federation/pkg/sdk"
)

const (
	App    = "listUserApp"
	Module = "ListUser"
	Name   = App + "/" + Module
)

// Endpoints served by the component.
var Endpoints = []federation.Endpoint{
	{Method: http.MethodGet, Path: "/users"},
	{Method: http.MethodDelete, Path: "/users/:id"},
}

type listQuery struct {
	Role   string `form:"role"`
	Status string `form:"status" binding:"omitempty,oneof=all active inactive"`
}

type idParam struct {
	ID int `uri:"id" binding:"required,min=1"`
}

// ListResponse is the body of GET /users.
type ListResponse struct {
	Users   []schema.User `json:"users"`
	Total   int           `json:"total"`
	Loading bool          `json:"loading"`
	Error   string        `json:"error,omitempty"`
}

// Component lists and deletes users from whichever store it was given.
type Component struct {
	store   sdk.UserStore
	mon     *perf.Monitor
	tracker *telemetry.Tracker
	logger  *zap.Logger
}

// New builds the component. An empty info.App defaults to App.
func New(h *federation.Host, info perf.Info) *Component {
	if info.App == "" {
		info.App = App
	}
	return &Component{
		store:   h.Store,
		mon:     h.Monitor(info),
		tracker: telemetry.NewTracker(h.Telemetry, info.App, h.Logger),
		logger:  h.Logger.Named(info.App),
	}
}

// Factory registers the component in a federation.Registry.
func Factory(info perf.Info) federation.Factory {
	return func(_ context.Context, h *federation.Host) (federation.Component, error) {
		return New(h, info), nil
	}
}

func (l *Component) Name() string                     { return Name }
func (l *Component) Endpoints() []federation.Endpoint { return Endpoints }

// Mount registers the routes and records the component load time.
func (l *Component) Mount(r gin.IRoutes) {
	start := time.Now()
	l.mon.MarkComponentLoadStart(Module, nil)

	r.GET("/users", l.list)
	r.DELETE("/users/:id", l.delete)

	l.mon.MarkComponentLoadEnd(Module, perf.Metadata{"componentType": "remote"})
	l.tracker.TrackComponentLoad(Module, time.Since(start))
}

func (l *Component) list(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	start := time.Now()
	l.mon.MarkDataLoadStart("fetchUsers", nil)
	err := l.store.FetchUsers(c.Request.Context())
	l.mon.MarkDataLoadEnd("fetchUsers", perf.Metadata{"success": err == nil})
	l.tracker.TrackAPICall("fetchUsers", time.Since(start), statusOf(err))

	if err != nil {
		l.logger.Warn("failed to fetch users", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": l.store.ErrorMessage()})
		return
	}

	var users []schema.User
	switch q.Status {
	case "active":
		users = l.store.ActiveUsers()
	case "inactive":
		users = l.store.InactiveUsers()
	default:
		users = l.store.AllUsers()
	}
	if q.Role != "" {
		filtered := users[:0]
		for _, u := range users {
			if u.Role == q.Role {
				filtered = append(filtered, u)
			}
		}
		users = filtered
	}

	c.JSON(http.StatusOK, ListResponse{
		Users:   users,
		Total:   l.store.TotalUsers(),
		Loading: l.store.IsLoading(),
		Error:   l.store.ErrorMessage(),
	})
}

func (l *Component) delete(c *gin.Context) {
	var p idParam
	if err := c.ShouldBindUri(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	l.mon.MarkInteractionStart("deleteUser", perf.Metadata{"userId": p.ID})
	err := l.store.DeleteUser(c.Request.Context(), p.ID)
	l.mon.MarkInteractionEnd("deleteUser", perf.Metadata{"userId": p.ID, "success": err == nil})
	l.tracker.TrackUserInteraction("delete", "user", map[string]any{"userId": p.ID})

	if err != nil {
		l.logger.Warn("failed to delete user", zap.Int("id", p.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": l.store.ErrorMessage()})
		return
	}
	c.Status(http.StatusNoContent)
}

func statusOf(err error) int {
	if err != nil {
		return http.StatusInternalServerError
	}
	return http.StatusOK
}

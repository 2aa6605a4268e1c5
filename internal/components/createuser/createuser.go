// Package createuser serves the create and edit forms of the createUserApp remote.
package createuser

import (
	"context"
	"errors"
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
	App    = "createUserApp"
	Module = "CreateUpdateUser"
	Name   = App + "/" + Module
)

// Roles offered by the form.
var Roles = []string{"Admin", "User", "Editor"}

// Endpoints served by the component.
var Endpoints = []federation.Endpoint{
	{Method: http.MethodGet, Path: "/users/create"},
	{Method: http.MethodPost, Path: "/users/create"},
	{Method: http.MethodGet, Path: "/users/edit/:id"},
	{Method: http.MethodPut, Path: "/users/edit/:id"},
}

// UserForm is the submitted form.
type UserForm struct {
	Name       string `json:"name" binding:"required"`
	Email      string `json:"email" binding:"required,email"`
	Role       string `json:"role" binding:"required,oneof=Admin User Editor"`
	Phone      string `json:"phone"`
	Department string `json:"department"`
	Active     *bool  `json:"active"`
}

func (f UserForm) input() schema.UserInput {
	active := true
	if f.Active != nil {
		active = *f.Active
	}
	return schema.UserInput{
		Name:       f.Name,
		Email:      f.Email,
		Role:       f.Role,
		Phone:      f.Phone,
		Department: f.Department,
		Active:     active,
	}
}

// FormResponse is the body of the form views.
type FormResponse struct {
	Mode  string           `json:"mode"`
	User  schema.UserInput `json:"user"`
	ID    int              `json:"id,omitempty"`
	Roles []string         `json:"roles"`
}

type idParam struct {
	ID int `uri:"id" binding:"required,min=1"`
}

// Component creates and edits users in whichever store it was given.
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

func (cu *Component) Name() string                     { return Name }
func (cu *Component) Endpoints() []federation.Endpoint { return Endpoints }

// Mount registers the routes and records the component load time.
func (cu *Component) Mount(r gin.IRoutes) {
	start := time.Now()
	cu.mon.MarkComponentLoadStart(Module, nil)

	r.GET("/users/create", cu.blank)
	r.POST("/users/create", cu.create)
	r.GET("/users/edit/:id", cu.edit)
	r.PUT("/users/edit/:id", cu.update)

	cu.mon.MarkComponentLoadEnd(Module, perf.Metadata{"componentType": "remote"})
	cu.tracker.TrackComponentLoad(Module, time.Since(start))
}

func (cu *Component) blank(c *gin.Context) {
	c.JSON(http.StatusOK, FormResponse{
		Mode:  "create",
		User:  schema.UserInput{Role: "User", Active: true},
		Roles: Roles,
	})
}

func (cu *Component) create(c *gin.Context) {
	var form UserForm
	if err := c.ShouldBindJSON(&form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cu.mon.MarkInteractionStart("createUser", nil)
	u, err := cu.store.CreateUser(c.Request.Context(), form.input())
	cu.mon.MarkInteractionEnd("createUser", perf.Metadata{"success": err == nil})
	cu.tracker.TrackUserInteraction("create", "user", map[string]any{"role": form.Role})

	if err != nil {
		cu.logger.Warn("failed to create user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": cu.store.ErrorMessage()})
		return
	}
	c.JSON(http.StatusCreated, u)
}

func (cu *Component) edit(c *gin.Context) {
	u, ok := cu.load(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, FormResponse{
		Mode: "edit",
		ID:   u.ID,
		User: schema.UserInput{
			Name:       u.Name,
			Email:      u.Email,
			Role:       u.Role,
			Phone:      u.Phone,
			Department: u.Department,
			Active:     u.Active,
		},
		Roles: Roles,
	})
}

func (cu *Component) update(c *gin.Context) {
	var form UserForm
	if err := c.ShouldBindJSON(&form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	existing, ok := cu.load(c)
	if !ok {
		return
	}

	in := form.input()
	existing.Name = in.Name
	existing.Email = in.Email
	existing.Role = in.Role
	existing.Phone = in.Phone
	existing.Department = in.Department
	existing.Active = in.Active

	cu.mon.MarkInteractionStart("updateUser", perf.Metadata{"userId": existing.ID})
	u, err := cu.store.UpdateUser(c.Request.Context(), existing)
	cu.mon.MarkInteractionEnd("updateUser", perf.Metadata{"userId": existing.ID, "success": err == nil})
	cu.tracker.TrackUserInteraction("update", "user", map[string]any{"userId": existing.ID})

	if err != nil {
		cu.logger.Warn("failed to update user", zap.Int("id", existing.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": cu.store.ErrorMessage()})
		return
	}
	c.JSON(http.StatusOK, u)
}

// load resolves the :id parameter through the store and writes the error
// reply itself when it fails.
func (cu *Component) load(c *gin.Context) (schema.User, bool) {
	var p idParam
	if err := c.ShouldBindUri(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return schema.User{}, false
	}

	start := time.Now()
	cu.mon.MarkDataLoadStart("fetchUserById", perf.Metadata{"userId": p.ID})
	u, err := sdk.Lookup(c.Request.Context(), cu.store, p.ID)
	cu.mon.MarkDataLoadEnd("fetchUserById", perf.Metadata{"userId": p.ID, "success": err == nil})

	switch {
	case errors.Is(err, sdk.ErrUserNotFound):
		cu.tracker.TrackAPICall("fetchUserById", time.Since(start), http.StatusNotFound)
		msg := cu.store.ErrorMessage()
		if msg == "" {
			msg = err.Error()
		}
		c.JSON(http.StatusNotFound, gin.H{"error": msg})
		return schema.User{}, false
	case err != nil:
		cu.tracker.TrackAPICall("fetchUserById", time.Since(start), http.StatusInternalServerError)
		cu.logger.Warn("failed to fetch user", zap.Int("id", p.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": cu.store.ErrorMessage()})
		return schema.User{}, false
	}
	cu.tracker.TrackAPICall("fetchUserById", time.Since(start), http.StatusOK)
	return u, true
}

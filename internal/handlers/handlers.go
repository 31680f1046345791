// Package handlers implements the HTTP surface of the server: the proxy
// gateway endpoint and the module management and invocation API consumed
// by the web UI.
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/ordzy/sora-webui/internal/config"
	"github.com/ordzy/sora-webui/internal/middleware"
	"github.com/ordzy/sora-webui/internal/services"
)

// Handler handles HTTP requests.
type Handler struct {
	services *services.Container
	config   *config.Config
}

// New creates a new Handler with the provided services and configuration.
func New(services *services.Container, config *config.Config) *Handler {
	return &Handler{
		services: services,
		config:   config,
	}
}

// RegisterRoutes registers all HTTP routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	// Home route
	r.GET("/", h.handleHome)

	// Proxy gateway; every verb the upstream contract allows. No gzip:
	// media bodies stream through and manifests carry exact lengths.
	r.Any(h.config.ProxyPath, h.handleProxy)

	api := r.Group("/api/modules", middleware.Gzip())

	// Module registry
	api.GET("", h.handleListModules)
	api.POST("", h.handleInstallModule)
	api.DELETE("", h.handleDeleteModule)

	// Module invocation
	api.GET("/search", h.handleModuleSearch)
	api.GET("/details", h.handleModuleDetails)
	api.GET("/stream", h.handleModuleStream)
}

func (h *Handler) handleHome(c *gin.Context) {
	c.String(200, "Sora WebUI backend. Install modules via /api/modules; proxy endpoint at "+h.config.ProxyPath+".")
}

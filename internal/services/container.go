package services

import (
	"github.com/ordzy/sora-webui/internal/cache"
	"github.com/ordzy/sora-webui/internal/database"
	"github.com/ordzy/sora-webui/internal/proxy"
	"github.com/ordzy/sora-webui/pkg/logger"
)

// Container holds all application services for dependency injection.
type Container struct {
	Gateway *proxy.Gateway
	Loader  *ModuleLoader
	DB      database.Database
	Cache   *cache.LRUCache
	Logger  logger.Logger
}

// NewContainer wires the service graph: one gateway shared by the proxy
// handler and the module runtimes, one loader on top of it.
func NewContainer(gateway *proxy.Gateway, db database.Database, programCache *cache.LRUCache, log logger.Logger) *Container {
	return &Container{
		Gateway: gateway,
		Loader:  NewModuleLoader(gateway, programCache, log),
		DB:      db,
		Cache:   programCache,
		Logger:  log,
	}
}

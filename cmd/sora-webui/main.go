package main

import (
	"context"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ordzy/sora-webui/internal/cache"
	"github.com/ordzy/sora-webui/internal/config"
	"github.com/ordzy/sora-webui/internal/database"
	"github.com/ordzy/sora-webui/internal/handlers"
	"github.com/ordzy/sora-webui/internal/middleware"
	"github.com/ordzy/sora-webui/internal/proxy"
	"github.com/ordzy/sora-webui/internal/services"
	"github.com/ordzy/sora-webui/pkg/logger"
)

func main() {
	appLogger := logger.New()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	db, err := database.NewBolt(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("failed to open module database: %v", err)
	}
	defer db.Close()

	programCache := cache.New(cfg.CacheSize, cfg.CacheTTL)
	programCache.StartCleanup(context.Background(), cfg.CacheTTL/2)

	gateway := proxy.New(cfg.ProxyPath, cfg.FallbackUserAgent, appLogger)
	container := services.NewContainer(gateway, db, programCache, appLogger)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.CORS())
	r.Use(middleware.Logger(appLogger))

	handlers.New(container, cfg).RegisterRoutes(r)

	appLogger.Infof("[App] starting HTTP server on port %s", cfg.Port)
	log.Fatal(http.ListenAndServe(":"+cfg.Port, r))
}

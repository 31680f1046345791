package handlers

import (
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/ordzy/sora-webui/internal/cache"
	"github.com/ordzy/sora-webui/internal/config"
	"github.com/ordzy/sora-webui/internal/database"
	"github.com/ordzy/sora-webui/internal/proxy"
	"github.com/ordzy/sora-webui/internal/services"
	"github.com/ordzy/sora-webui/pkg/logger"
)

// newTestRouter wires a full handler stack against a temp database.
func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Port:              "0",
		ProxyPath:         "/api/proxy",
		FallbackUserAgent: "TestAgent/1.0",
		CacheSize:         10,
		CacheTTL:          time.Hour,
	}

	db, err := database.NewBolt(filepath.Join(t.TempDir(), "modules.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	log := logger.NewSilent()
	gateway := proxy.New(cfg.ProxyPath, cfg.FallbackUserAgent, log)
	container := services.NewContainer(gateway, db, cache.New(cfg.CacheSize, cfg.CacheTTL), log)

	r := gin.New()
	New(container, cfg).RegisterRoutes(r)
	return r
}

func doRequest(r *gin.Engine, method, target string, body io.Reader) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, target, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	r.ServeHTTP(w, req)
	return w
}

func get(r *gin.Engine, target string) *httptest.ResponseRecorder {
	return doRequest(r, http.MethodGet, target, nil)
}

package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ordzy/sora-webui/internal/database"
	apperrors "github.com/ordzy/sora-webui/internal/errors"
	"github.com/ordzy/sora-webui/internal/models"
	"github.com/ordzy/sora-webui/internal/services"
)

// handleInstallModule installs a module from a request body that is either
// {"url": "<manifest url>"} or a full manifest object. The module is loaded
// once to validate it before it is persisted; a load failure is returned
// with the underlying error text so the UI can show something actionable.
func (h *Handler) handleInstallModule(c *gin.Context) {
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(data, &payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "request body must be JSON"})
		return
	}

	var input interface{}
	if ref, ok := payload["url"].(string); ok && payload["scriptUrl"] == nil {
		input = ref
	} else {
		input = payload
	}

	mod, err := h.services.Loader.Load(c.Request.Context(), input)
	if err != nil {
		status := http.StatusUnprocessableEntity
		if apperrors.IsType(err, apperrors.ErrorTypeScriptFetch) {
			status = http.StatusBadGateway
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	manifestJSON, err := json.Marshal(mod.Manifest)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	stored := &database.StoredModule{
		ScriptURL:  mod.Manifest.ScriptURL(),
		SourceName: mod.Name,
		Version:    mod.Manifest.Version(),
		Manifest:   manifestJSON,
		AddedAt:    time.Now(),
	}

	if err := h.services.DB.StoreModule(stored); err != nil {
		h.services.Logger.Errorf("[Modules] failed to store module %s: %v", stored.ScriptURL, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to persist module"})
		return
	}

	c.JSON(http.StatusCreated, summarize(stored))
}

// handleListModules returns all installed modules.
func (h *Handler) handleListModules(c *gin.Context) {
	mods, err := h.services.DB.ListModules()
	if err != nil {
		h.services.Logger.Errorf("[Modules] failed to list modules: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list modules"})
		return
	}

	summaries := make([]models.ModuleSummary, 0, len(mods))
	for i := range mods {
		summaries = append(summaries, summarize(&mods[i]))
	}
	c.JSON(http.StatusOK, summaries)
}

// handleDeleteModule uninstalls a module by its scriptUrl.
func (h *Handler) handleDeleteModule(c *gin.Context) {
	scriptURL := c.Query("url")
	if scriptURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing url query parameter"})
		return
	}

	if err := h.services.DB.DeleteModule(scriptURL); err != nil {
		h.services.Logger.Errorf("[Modules] failed to delete module %s: %v", scriptURL, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete module"})
		return
	}

	c.Status(http.StatusNoContent)
}

// handleModuleSearch loads the installed module named by url and runs a
// search. Search failures propagate as errors: the caller needs to know
// browsing failed.
func (h *Handler) handleModuleSearch(c *gin.Context) {
	query := c.Query("q")
	mod, ok := h.loadInstalled(c)
	if !ok {
		return
	}

	results, err := mod.Search(query)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, results)
}

// handleModuleDetails loads the installed module named by url and fetches
// details for an opaque content id.
func (h *Handler) handleModuleDetails(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing id query parameter"})
		return
	}

	mod, ok := h.loadInstalled(c)
	if !ok {
		return
	}

	details, err := mod.GetDetails(id)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, details)
}

// handleModuleStream resolves streams for an opaque episode id. Always
// 200: stream extraction failure yields an empty bundle the UI presents as
// "no streams available".
func (h *Handler) handleModuleStream(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing id query parameter"})
		return
	}

	mod, ok := h.loadInstalled(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, mod.GetStream(id))
}

// loadInstalled resolves the url query parameter against the registry and
// loads the module fresh. Responds and returns ok=false on failure.
func (h *Handler) loadInstalled(c *gin.Context) (*services.LoadedModule, bool) {
	scriptURL := c.Query("url")
	if scriptURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing url query parameter"})
		return nil, false
	}

	stored, err := h.services.DB.GetModule(scriptURL)
	if err != nil {
		h.services.Logger.Errorf("[Modules] failed to read module %s: %v", scriptURL, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read module"})
		return nil, false
	}
	if stored == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "module not installed"})
		return nil, false
	}

	var manifest models.Manifest
	if err := json.Unmarshal(stored.Manifest, &manifest); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stored manifest is corrupt"})
		return nil, false
	}

	mod, err := h.services.Loader.Load(c.Request.Context(), manifest)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return nil, false
	}

	return mod, true
}

func summarize(mod *database.StoredModule) models.ModuleSummary {
	return models.ModuleSummary{
		ScriptURL: mod.ScriptURL,
		Name:      mod.SourceName,
		Version:   mod.Version,
		AddedAt:   mod.AddedAt.Format(time.RFC3339),
	}
}

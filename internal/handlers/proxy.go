package handlers

import (
	"io"
	"net/http"
	"runtime/debug"
	"strconv"

	"github.com/gin-gonic/gin"

	apperrors "github.com/ordzy/sora-webui/internal/errors"
)

// handleProxy is the gateway endpoint: it fetches the target named by the
// url query parameter on the client's behalf, restores tunneled headers,
// rewrites HLS manifests so every referenced URL flows back through here,
// and streams everything else through unmodified.
func (h *Handler) handleProxy(c *gin.Context) {
	targetURL := c.Query("url")
	if targetURL == "" {
		h.services.Logger.Warnf("[Proxy] %v in %s", apperrors.NewMissingTargetError(), c.Request.URL.String())
		c.String(http.StatusBadRequest, "Missing url query parameter")
		return
	}

	// Request bodies are buffered, not streamed: the upstream request may
	// be replayed across redirects and the bodies involved are small
	// (form posts, JSON API calls).
	var body []byte
	switch c.Request.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		data, err := io.ReadAll(c.Request.Body)
		if err != nil {
			h.proxyError(c, err)
			return
		}
		body = data
	}

	res, err := h.services.Gateway.Fetch(c.Request.Context(), c.Request.Method, targetURL, c.Request.Header, body)
	if err != nil {
		h.proxyError(c, apperrors.NewUpstreamFetchError(targetURL, err))
		return
	}
	defer res.Body.Close()

	// Mirror upstream headers (already cleaned), then apply the gateway's
	// own CORS policy and surface where the redirect chain landed.
	header := c.Writer.Header()
	for key, values := range res.Header {
		for _, v := range values {
			header.Add(key, v)
		}
	}
	header.Set("Access-Control-Allow-Origin", "*")
	header.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
	header.Set("Access-Control-Allow-Headers", "*")
	header.Set("X-Final-Url", res.FinalURL)

	if res.IsManifest {
		h.writeRewrittenManifest(c, res.Status, res.Body, res.FinalURL)
		return
	}

	c.Status(res.Status)
	h.streamBody(c, res.Body)
}

// writeRewrittenManifest buffers an HLS playlist, rewrites its URI lines to
// gateway URLs and sends it with a recomputed length.
func (h *Handler) writeRewrittenManifest(c *gin.Context, status int, body io.Reader, manifestURL string) {
	text, err := io.ReadAll(body)
	if err != nil {
		h.proxyError(c, err)
		return
	}

	rewritten := h.services.Gateway.RewriteManifest(string(text), manifestURL)
	h.services.Logger.Debugf("[Proxy] rewrote HLS manifest from %s", manifestURL)

	c.Writer.Header().Set("Content-Length", strconv.Itoa(len(rewritten)))
	c.Status(status)
	if _, err := c.Writer.WriteString(rewritten); err != nil {
		h.services.Logger.Errorf("[Proxy] failed to write manifest: %v", err)
	}
}

// streamBody copies the upstream body chunk by chunk without buffering the
// payload; media segments can be large. A write failure means the client
// went away, so the copy stops and the deferred body close tears down the
// upstream read.
func (h *Handler) streamBody(c *gin.Context, body io.Reader) {
	if _, err := io.Copy(c.Writer, body); err != nil {
		h.services.Logger.Debugf("[Proxy] stream ended early: %v", err)
	}
}

// proxyError reports an internal gateway failure. If nothing has been
// written yet the client gets a 500 with a diagnostic body; mid-stream
// failures just end the response.
func (h *Handler) proxyError(c *gin.Context, err error) {
	h.services.Logger.Errorf("[Proxy] %v", err)

	if c.Writer.Written() {
		return
	}

	c.JSON(http.StatusInternalServerError, gin.H{
		"error": err.Error(),
		"stack": string(debug.Stack()),
	})
}

// Package proxy implements the gateway fetch core: same-origin-safe fetches
// of third-party URLs with forbidden-header tunneling and HLS manifest
// rewriting. The HTTP handler in internal/handlers and the module runtime's
// native fetch both route through this package, so header restoration
// behaves identically for player traffic and module scraping.
package proxy

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/ordzy/sora-webui/internal/constants"
	"github.com/ordzy/sora-webui/pkg/httputil"
	"github.com/ordzy/sora-webui/pkg/logger"
	"github.com/ordzy/sora-webui/pkg/ratelimiter"
)

// Gateway performs upstream fetches on behalf of clients and modules.
type Gateway struct {
	proxyPath         string
	fallbackUserAgent string
	httpClient        *http.Client
	rateLimiter       ratelimiter.RateLimiter
	logger            logger.Logger
}

// Result is the outcome of one upstream fetch. Body is open and must be
// closed by the caller unless an error is returned.
type Result struct {
	Status     int
	Header     http.Header
	Body       io.ReadCloser
	FinalURL   string
	IsManifest bool
}

// New creates a Gateway. proxyPath is the public mount point of the proxy
// endpoint, used when rewriting HLS manifests.
func New(proxyPath, fallbackUserAgent string, log logger.Logger) *Gateway {
	return &Gateway{
		proxyPath:         proxyPath,
		fallbackUserAgent: fallbackUserAgent,
		httpClient:        httputil.NewHTTPClient(constants.ProxyFetchTimeout),
		rateLimiter:       ratelimiter.NewTokenBucket(constants.ProxyRateLimit, constants.ProxyRateBurst),
		logger:            log,
	}
}

// ProxyPath returns the public mount point of the proxy endpoint.
func (g *Gateway) ProxyPath() string {
	return g.proxyPath
}

// Fetch forwards one request to targetURL. Incoming headers are cleaned of
// client-hop noise and tunneled headers are restored before forwarding.
// Redirects are followed; Result.FinalURL reports where the chain landed.
func (g *Gateway) Fetch(ctx context.Context, method, targetURL string, incoming http.Header, body []byte) (*Result, error) {
	parsed, err := url.Parse(targetURL)
	if err != nil || !parsed.IsAbs() {
		return nil, &url.Error{Op: "proxy", URL: targetURL, Err: errInvalidTarget}
	}

	headers := g.CleanHeaders(incoming)

	var reqBody io.Reader
	if len(body) > 0 {
		reqBody = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, targetURL, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header = headers

	g.rateLimiter.Wait()

	g.logger.Debugf("[Proxy] forwarding %s %s", method, targetURL)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	finalURL := targetURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return &Result{
		Status:     resp.StatusCode,
		Header:     cleanResponseHeaders(resp.Header),
		Body:       resp.Body,
		FinalURL:   finalURL,
		IsManifest: IsManifest(parsed.Path, resp.Header.Get("Content-Type")),
	}, nil
}

// FetchText is a convenience wrapper for callers that want the whole body
// as a string (manifest and script fetches during module loading).
func (g *Gateway) FetchText(ctx context.Context, targetURL string, headers http.Header) (string, int, string, error) {
	res, err := g.Fetch(ctx, http.MethodGet, targetURL, headers, nil)
	if err != nil {
		return "", 0, "", err
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return "", res.Status, res.FinalURL, err
	}
	return string(data), res.Status, res.FinalURL, nil
}

// CleanHeaders strips client-hop headers, restores tunneled headers to
// their real names and applies the User-Agent fallback. The input is not
// modified.
func (g *Gateway) CleanHeaders(incoming http.Header) http.Header {
	headers := make(http.Header, len(incoming))
	for key, values := range incoming {
		if strippedRequestHeader(key) {
			continue
		}
		for _, v := range values {
			headers.Add(key, v)
		}
	}

	// Restore tunneled headers; the tunneled form must not reach upstream.
	for tunneled, real := range constants.TunneledHeaders {
		if v := headers.Get(tunneled); v != "" {
			headers.Set(real, v)
		}
		headers.Del(tunneled)
	}

	if headers.Get("User-Agent") == "" {
		headers.Set("User-Agent", g.fallbackUserAgent)
	}

	return headers
}

// strippedRequestHeader reports whether a client request header describes
// the client→gateway hop and must not leak upstream. Tunneled forms of the
// same headers are restored separately in CleanHeaders.
func strippedRequestHeader(key string) bool {
	for _, h := range constants.StrippedRequestHeaders {
		if http.CanonicalHeaderKey(h) == key {
			return true
		}
	}
	lower := strings.ToLower(key)
	return strings.HasPrefix(lower, "sec-fetch-") || strings.HasPrefix(lower, "x-forwarded-")
}

// cleanResponseHeaders drops upstream headers the gateway replaces or
// recomputes before mirroring the rest.
func cleanResponseHeaders(upstream http.Header) http.Header {
	headers := make(http.Header, len(upstream))
	for key, values := range upstream {
		if strippedResponseHeader(key) {
			continue
		}
		for _, v := range values {
			headers.Add(key, v)
		}
	}
	return headers
}

func strippedResponseHeader(key string) bool {
	for _, h := range constants.StrippedResponseHeaders {
		if http.CanonicalHeaderKey(h) == key {
			return true
		}
	}
	return false
}

type invalidTargetError struct{}

func (invalidTargetError) Error() string { return "target must be an absolute URL" }

var errInvalidTarget = invalidTargetError{}

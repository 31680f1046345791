// Package constants defines application-wide constants and default values.
package constants

const (
	// Application metadata
	AppName    = "SoraWebUI"
	AppVersion = "1.0.0"

	// Default configuration values
	DefaultPort     = "5000"
	DefaultLogLevel = "info"

	// Path the gateway is mounted on; rewritten HLS manifest lines and the
	// polyfill both build URLs against it.
	DefaultProxyPath = "/api/proxy"

	// User-Agent forwarded upstream when the client tunnels none and sends
	// none of its own. Matches a current desktop Chrome so upstream hosts
	// treat gateway traffic like plain browser traffic.
	DefaultFallbackUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	// Cache settings (compiled module programs)
	DefaultCacheSize = 100
	DefaultCacheTTL  = 24 // hours

	// Outbound gateway rate limiting
	ProxyRateLimit = 50 // requests per second
	ProxyRateBurst = 20 // burst capacity
)

// TunneledHeaders maps the X-Proxy-* request headers to the forbidden
// headers they smuggle. Browsers refuse to let page scripts set the real
// names on a cross-origin fetch, so callers send the prefixed form and the
// gateway restores it before forwarding.
var TunneledHeaders = map[string]string{
	"X-Proxy-Cookie":     "Cookie",
	"X-Proxy-User-Agent": "User-Agent",
	"X-Proxy-Referer":    "Referer",
	"X-Proxy-Origin":     "Origin",
}

// StrippedRequestHeaders are client-hop headers that must never leak to the
// upstream target. sec-fetch-* and x-forwarded-* families are matched by
// prefix in addition to this list.
var StrippedRequestHeaders = []string{
	"Host",
	"Origin",
	"Referer",
	"Accept-Encoding",
	"Connection",
	"Content-Length",
	"Cookie",
}

// StrippedResponseHeaders are upstream response headers the gateway drops
// before mirroring: the body may already be decoded (encoding), CORS is
// replaced with the gateway's own policy, and length is recomputed once the
// final body size is known.
var StrippedResponseHeaders = []string{
	"Content-Encoding",
	"Access-Control-Allow-Origin",
	"Content-Length",
}

// HLSContentTypes are Content-Type substrings that mark a response as an
// HLS manifest regardless of the target URL's extension.
var HLSContentTypes = []string{
	"mpegurl",
}

// ScriptPatches lists known-broken substrings shipped by upstream module
// authors that are removed from script source before execution. Narrow,
// exact-match workarounds only; this is not a sanitizer.
var ScriptPatches = []string{
	`.replace("megaup22", "megaup.site")`,
}

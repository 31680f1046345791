package proxy

import (
	"net/url"
	"path"
	"strings"

	"github.com/ordzy/sora-webui/internal/constants"
)

// IsManifest reports whether a response should be treated as an HLS
// playlist, either by target extension or by declared content type.
func IsManifest(targetPath, contentType string) bool {
	if strings.HasSuffix(strings.ToLower(targetPath), ".m3u8") {
		return true
	}
	ct := strings.ToLower(contentType)
	for _, marker := range constants.HLSContentTypes {
		if strings.Contains(ct, marker) {
			return true
		}
	}
	return false
}

// RewriteManifest rewrites every URI line of an HLS playlist to flow back
// through the gateway. Comment and blank lines pass through unchanged;
// every other line is resolved to an absolute URL (relative references
// against the manifest's own base path) and replaced with
// <proxyPath>?url=<escaped absolute url>. This guarantees that the
// segment, sub-playlist and key requests a player makes next are proxied
// and header-tunneled the same way the manifest itself was.
func (g *Gateway) RewriteManifest(manifest string, manifestURL string) string {
	base, err := url.Parse(manifestURL)
	if err != nil {
		// Without a usable base, relative references cannot be resolved;
		// absolute lines are still rewritten.
		base = nil
	} else {
		base.Path = path.Dir(base.Path)
		if !strings.HasSuffix(base.Path, "/") {
			base.Path += "/"
		}
		base.RawQuery = ""
		base.Fragment = ""
	}

	lines := strings.Split(manifest, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		absolute := trimmed
		if !isAbsoluteURL(trimmed) {
			if base == nil {
				continue
			}
			ref, err := url.Parse(trimmed)
			if err != nil {
				continue
			}
			absolute = base.ResolveReference(ref).String()
		}

		lines[i] = g.proxyPath + "?url=" + url.QueryEscape(absolute)
	}

	return strings.Join(lines, "\n")
}

func isAbsoluteURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

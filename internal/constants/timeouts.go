// Package constants defines timeout values used throughout the application.
package constants

import "time"

const (
	// Timeout for gateway fetches of proxied targets. Media segments can be
	// large, so this bounds the whole exchange rather than individual reads.
	ProxyFetchTimeout = 60 * time.Second

	// Timeout for manifest and script fetches during module loading.
	ModuleFetchTimeout = 30 * time.Second

	// Wall-clock budget for a single module script call (search, details,
	// stream). Enforced through the runtime interrupt.
	ModuleCallTimeout = 45 * time.Second
)

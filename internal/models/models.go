// Package models defines the data structures exchanged between modules,
// the loader and the HTTP API.
package models

// Manifest describes an installable module. It stays a raw map because
// module authors ship arbitrary metadata alongside the required scriptUrl;
// only the accessors below are interpreted by the core.
type Manifest map[string]interface{}

// ScriptURL returns the module script location. Empty when absent, which
// makes the manifest invalid.
func (m Manifest) ScriptURL() string {
	return m.stringField("scriptUrl")
}

// SourceName returns the author-chosen display name, if any.
func (m Manifest) SourceName() string {
	return m.stringField("sourceName")
}

// Version returns the declared module version, if any.
func (m Manifest) Version() string {
	return m.stringField("version")
}

func (m Manifest) stringField(key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// SearchResultItem is one entry of a module search. ID is opaque and
// module-defined (frequently a detail-page URL); the core never parses it.
type SearchResultItem struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Poster      string `json:"poster,omitempty"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// ContentDetails is the merged result of a module's detail extraction.
type ContentDetails struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Year        string       `json:"year,omitempty"`
	Episodes    []EpisodeRef `json:"episodes"`
}

// EpisodeRef identifies one playable episode. ID is opaque and passed back
// verbatim to stream resolution.
type EpisodeRef struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Number int    `json:"number"`
	Season int    `json:"season"`
}

// StreamOption is one resolved playback candidate.
type StreamOption struct {
	Label   string            `json:"label"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
}

// StreamBundle is the canonical result of stream resolution.
type StreamBundle struct {
	Streams   []StreamOption `json:"streams"`
	Subtitles []string       `json:"subtitles"`
}

// EmptyStreamBundle returns a bundle with non-nil empty slices so JSON
// encodes [] rather than null.
func EmptyStreamBundle() StreamBundle {
	return StreamBundle{Streams: []StreamOption{}, Subtitles: []string{}}
}

// ModuleSummary is the registry's view of an installed module, returned by
// the module management API.
type ModuleSummary struct {
	ScriptURL string `json:"scriptUrl"`
	Name      string `json:"name"`
	Version   string `json:"version,omitempty"`
	AddedAt   string `json:"addedAt,omitempty"`
}

package services

import (
	"strings"

	"github.com/ordzy/sora-webui/internal/models"
)

// HeaderInferrer decides which request headers a resolved stream should
// carry based on its URL. The default policy returns none: plain
// direct-link access works for most hosts and asserting a Referer where
// one is not wanted breaks more sources than it fixes. Kept as a hook so
// deployments facing Referer-guarded CDNs can plug in their own policy.
type HeaderInferrer func(streamURL string) map[string]string

// NoInferredHeaders is the default HeaderInferrer.
func NoInferredHeaders(string) map[string]string {
	return map[string]string{}
}

// StreamNormalizer interprets the many ad hoc shapes module stream
// extraction returns into one canonical StreamBundle.
type StreamNormalizer struct {
	inferHeaders HeaderInferrer
}

// NewStreamNormalizer creates a normalizer. A nil inferrer uses
// NoInferredHeaders.
func NewStreamNormalizer(infer HeaderInferrer) *StreamNormalizer {
	if infer == nil {
		infer = NoInferredHeaders
	}
	return &StreamNormalizer{inferHeaders: infer}
}

// Normalize applies an ordered list of shape matchers, first match wins.
// The streams-array convention is authoritative for well-behaved modules;
// the later matchers exist for backward compatibility with older scripts
// and must run in exactly this order because several shapes are structural
// subsets of earlier ones.
func (n *StreamNormalizer) Normalize(raw interface{}) models.StreamBundle {
	if raw == nil {
		return models.EmptyStreamBundle()
	}

	// Raw URL string return.
	if s, ok := raw.(string); ok {
		if isHTTPURL(s) {
			return models.StreamBundle{
				Streams:   []models.StreamOption{n.stream("Default", s, nil)},
				Subtitles: []string{},
			}
		}
		return models.EmptyStreamBundle()
	}

	data, ok := raw.(map[string]interface{})
	if !ok {
		// The result itself may be a bare array of {file|url} objects.
		if arr, isArr := raw.([]interface{}); isArr {
			return models.StreamBundle{Streams: n.fromBareArray(arr), Subtitles: []string{}}
		}
		return models.EmptyStreamBundle()
	}

	bundle := models.EmptyStreamBundle()

	switch {
	case isArray(data["streams"]):
		bundle.Streams = n.fromStreamsArray(data["streams"].([]interface{}))
	case isMap(data["stream"]):
		entry := data["stream"].(map[string]interface{})
		bundle.Streams = []models.StreamOption{n.stream(
			stringOr(entry, "title", "Default"),
			firstString(entry, "streamUrl", "url", "file"),
			headerMap(entry),
		)}
	case isString(data["stream"]):
		bundle.Streams = []models.StreamOption{n.stream("Default", data["stream"].(string), nil)}
	case isString(data["url"]):
		// Legacy single url at the root.
		bundle.Streams = []models.StreamOption{n.stream("Default", data["url"].(string), headerMap(data))}
	case isArray(data["source"]):
		bundle.Streams = n.fromSourceArray(data["source"].([]interface{}))
	case isArray(data["sources"]):
		bundle.Streams = n.fromSourceArray(data["sources"].([]interface{}))
	}

	bundle.Subtitles = subtitleList(data)

	return bundle
}

// fromStreamsArray handles the primary "streams" convention: either a flat
// [label, url, label, url, ...] string sequence or an array of objects with
// per-element shape sniffing.
func (n *StreamNormalizer) fromStreamsArray(items []interface{}) []models.StreamOption {
	streams := []models.StreamOption{}
	if len(items) == 0 {
		return streams
	}

	if _, flat := items[0].(string); flat {
		// Pair sequentially; an unpaired trailing element is dropped.
		for i := 0; i+1 < len(items); i += 2 {
			label, _ := items[i].(string)
			url, _ := items[i+1].(string)
			streams = append(streams, n.stream(label, url, nil))
		}
		return streams
	}

	for _, it := range items {
		if s, ok := it.(string); ok {
			streams = append(streams, n.stream("Stream", s, nil))
			continue
		}

		entry, ok := it.(map[string]interface{})
		if !ok {
			continue
		}

		switch {
		case entry["streamUrl"] != nil || entry["title"] != nil:
			streams = append(streams, n.stream(
				stringOr(entry, "title", "Unknown"),
				firstString(entry, "streamUrl"),
				headerMap(entry),
			))
		case entry["url"] != nil || entry["label"] != nil:
			streams = append(streams, n.stream(
				stringOr(entry, "label", "Default"),
				firstString(entry, "url"),
				headerMap(entry),
			))
		case entry["file"] != nil:
			// JWPlayer style.
			streams = append(streams, n.stream(
				stringOr(entry, "label", "Default"),
				firstString(entry, "file"),
				headerMap(entry),
			))
		}
		// Anything unrecognized is dropped.
	}

	return streams
}

// fromSourceArray handles the "source"/"sources" fallback convention.
func (n *StreamNormalizer) fromSourceArray(items []interface{}) []models.StreamOption {
	streams := []models.StreamOption{}
	for _, it := range items {
		entry, ok := it.(map[string]interface{})
		if !ok {
			continue
		}
		streams = append(streams, n.stream(
			stringOr(entry, "label", "Default"),
			firstString(entry, "file", "url", "src"),
			headerMap(entry),
		))
	}
	return streams
}

// fromBareArray handles a top-level array of {file|url} objects.
func (n *StreamNormalizer) fromBareArray(items []interface{}) []models.StreamOption {
	streams := []models.StreamOption{}
	for _, it := range items {
		entry, ok := it.(map[string]interface{})
		if !ok {
			continue
		}
		url := firstString(entry, "file", "url")
		if url == "" {
			continue
		}
		streams = append(streams, n.stream(stringOr(entry, "label", "Default"), url, headerMap(entry)))
	}
	return streams
}

// stream builds one StreamOption with inferred headers merged under any
// the module provided explicitly.
func (n *StreamNormalizer) stream(label, url string, explicit map[string]string) models.StreamOption {
	headers := n.inferHeaders(url)
	for k, v := range explicit {
		headers[k] = v
	}
	return models.StreamOption{Label: label, URL: url, Headers: headers}
}

// subtitleList extracts subtitles (or the "tracks" alias) as strings.
func subtitleList(data map[string]interface{}) []string {
	raw, ok := data["subtitles"]
	if !ok || raw == nil {
		raw, ok = data["tracks"]
		if !ok || raw == nil {
			return []string{}
		}
	}

	subs := []string{}
	switch v := raw.(type) {
	case string:
		if v != "" {
			subs = append(subs, v)
		}
	case []interface{}:
		for _, s := range v {
			switch sv := s.(type) {
			case string:
				subs = append(subs, sv)
			case map[string]interface{}:
				if u := firstString(sv, "file", "url", "src"); u != "" {
					subs = append(subs, u)
				}
			}
		}
	}
	return subs
}

// headerMap extracts a module-provided headers object from an entry.
func headerMap(entry map[string]interface{}) map[string]string {
	raw, ok := entry["headers"].(map[string]interface{})
	if !ok {
		return nil
	}
	headers := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			headers[k] = s
		}
	}
	return headers
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func isArray(v interface{}) bool {
	_, ok := v.([]interface{})
	return ok
}

func isMap(v interface{}) bool {
	_, ok := v.(map[string]interface{})
	return ok
}

func isString(v interface{}) bool {
	s, ok := v.(string)
	return ok && s != ""
}

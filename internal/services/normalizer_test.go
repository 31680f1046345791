package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ordzy/sora-webui/internal/models"
)

func TestNormalizeRawURLString(t *testing.T) {
	n := NewStreamNormalizer(nil)

	bundle := n.Normalize("https://cdn.example/video.mp4")
	require.Len(t, bundle.Streams, 1)
	assert.Equal(t, "Default", bundle.Streams[0].Label)
	assert.Equal(t, "https://cdn.example/video.mp4", bundle.Streams[0].URL)
	assert.Empty(t, bundle.Subtitles)

	assert.Empty(t, n.Normalize("not a url").Streams)
}

func TestNormalizeFlatLabelURLPairs(t *testing.T) {
	n := NewStreamNormalizer(nil)

	bundle := n.Normalize(map[string]interface{}{
		"streams": []interface{}{
			"720p", "https://cdn.example/720.m3u8",
			"1080p", "https://cdn.example/1080.m3u8",
		},
	})

	require.Len(t, bundle.Streams, 2)
	assert.Equal(t, "720p", bundle.Streams[0].Label)
	assert.Equal(t, "https://cdn.example/720.m3u8", bundle.Streams[0].URL)
	assert.Equal(t, "1080p", bundle.Streams[1].Label)
	assert.Equal(t, "https://cdn.example/1080.m3u8", bundle.Streams[1].URL)
}

func TestNormalizeFlatPairsDropsUnpairedTrailing(t *testing.T) {
	n := NewStreamNormalizer(nil)

	bundle := n.Normalize(map[string]interface{}{
		"streams": []interface{}{"720p", "https://cdn.example/720.m3u8", "1080p"},
	})

	require.Len(t, bundle.Streams, 1)
	assert.Equal(t, "720p", bundle.Streams[0].Label)
}

func TestNormalizeStreamsObjectArray(t *testing.T) {
	n := NewStreamNormalizer(nil)

	bundle := n.Normalize(map[string]interface{}{
		"streams": []interface{}{
			map[string]interface{}{"title": "HD", "streamUrl": "https://a.example/hd"},
			map[string]interface{}{"label": "SD", "url": "https://a.example/sd"},
			map[string]interface{}{"file": "https://a.example/jw"},
			"https://a.example/bare",
			map[string]interface{}{"quality": "ignored"},
		},
	})

	require.Len(t, bundle.Streams, 4)
	assert.Equal(t, models.StreamOption{Label: "HD", URL: "https://a.example/hd", Headers: map[string]string{}}, bundle.Streams[0])
	assert.Equal(t, "SD", bundle.Streams[1].Label)
	assert.Equal(t, "https://a.example/sd", bundle.Streams[1].URL)
	assert.Equal(t, "Default", bundle.Streams[2].Label)
	assert.Equal(t, "https://a.example/jw", bundle.Streams[2].URL)
	assert.Equal(t, "Stream", bundle.Streams[3].Label)
	assert.Equal(t, "https://a.example/bare", bundle.Streams[3].URL)
}

func TestNormalizeSingleStreamObject(t *testing.T) {
	n := NewStreamNormalizer(nil)

	bundle := n.Normalize(map[string]interface{}{
		"stream": map[string]interface{}{
			"title":   "Main",
			"url":     "https://a.example/main",
			"headers": map[string]interface{}{"Referer": "https://src.example/"},
		},
	})

	require.Len(t, bundle.Streams, 1)
	assert.Equal(t, "Main", bundle.Streams[0].Label)
	assert.Equal(t, "https://a.example/main", bundle.Streams[0].URL)
	assert.Equal(t, "https://src.example/", bundle.Streams[0].Headers["Referer"])
}

func TestNormalizeStreamString(t *testing.T) {
	n := NewStreamNormalizer(nil)

	bundle := n.Normalize(map[string]interface{}{"stream": "https://a.example/only"})
	require.Len(t, bundle.Streams, 1)
	assert.Equal(t, "Default", bundle.Streams[0].Label)
}

func TestNormalizeRootURL(t *testing.T) {
	n := NewStreamNormalizer(nil)

	bundle := n.Normalize(map[string]interface{}{"url": "https://a.example/root.mp4"})
	require.Len(t, bundle.Streams, 1)
	assert.Equal(t, "Default", bundle.Streams[0].Label)
	assert.Equal(t, "https://a.example/root.mp4", bundle.Streams[0].URL)
}

func TestNormalizeSourceArrays(t *testing.T) {
	n := NewStreamNormalizer(nil)

	for _, key := range []string{"source", "sources"} {
		bundle := n.Normalize(map[string]interface{}{
			key: []interface{}{
				map[string]interface{}{"file": "https://a.example/f", "label": "HQ"},
				map[string]interface{}{"src": "https://a.example/s"},
			},
		})
		require.Len(t, bundle.Streams, 2, key)
		assert.Equal(t, "HQ", bundle.Streams[0].Label)
		assert.Equal(t, "https://a.example/f", bundle.Streams[0].URL)
		assert.Equal(t, "Default", bundle.Streams[1].Label)
		assert.Equal(t, "https://a.example/s", bundle.Streams[1].URL)
	}
}

func TestNormalizeBareTopLevelArray(t *testing.T) {
	n := NewStreamNormalizer(nil)

	bundle := n.Normalize([]interface{}{
		map[string]interface{}{"file": "https://a.example/one"},
		map[string]interface{}{"noURL": true},
	})

	require.Len(t, bundle.Streams, 1)
	assert.Equal(t, "https://a.example/one", bundle.Streams[0].URL)
}

func TestNormalizeStreamsWinsOverLaterShapes(t *testing.T) {
	n := NewStreamNormalizer(nil)

	bundle := n.Normalize(map[string]interface{}{
		"streams": []interface{}{"720p", "https://a.example/streams"},
		"stream":  "https://a.example/stream",
		"url":     "https://a.example/url",
	})

	require.Len(t, bundle.Streams, 1)
	assert.Equal(t, "https://a.example/streams", bundle.Streams[0].URL)
}

func TestNormalizeEmptyAndNil(t *testing.T) {
	n := NewStreamNormalizer(nil)

	for _, raw := range []interface{}{nil, map[string]interface{}{}, 42, true} {
		bundle := n.Normalize(raw)
		assert.NotNil(t, bundle.Streams)
		assert.NotNil(t, bundle.Subtitles)
		assert.Empty(t, bundle.Streams)
		assert.Empty(t, bundle.Subtitles)
	}
}

func TestNormalizeSubtitles(t *testing.T) {
	n := NewStreamNormalizer(nil)

	bundle := n.Normalize(map[string]interface{}{
		"stream":    "https://a.example/v",
		"subtitles": "https://a.example/en.vtt",
	})
	assert.Equal(t, []string{"https://a.example/en.vtt"}, bundle.Subtitles)

	bundle = n.Normalize(map[string]interface{}{
		"stream": "https://a.example/v",
		"tracks": []interface{}{
			"https://a.example/en.vtt",
			map[string]interface{}{"file": "https://a.example/fr.vtt"},
			map[string]interface{}{"kind": "thumbnails"},
		},
	})
	assert.Equal(t, []string{"https://a.example/en.vtt", "https://a.example/fr.vtt"}, bundle.Subtitles)
}

func TestNormalizeInferredHeaders(t *testing.T) {
	infer := func(url string) map[string]string {
		return map[string]string{"Referer": "https://inferred.example/", "Origin": "https://inferred.example"}
	}
	n := NewStreamNormalizer(infer)

	bundle := n.Normalize(map[string]interface{}{
		"stream": map[string]interface{}{
			"url":     "https://a.example/v",
			"headers": map[string]interface{}{"Referer": "https://explicit.example/"},
		},
	})

	require.Len(t, bundle.Streams, 1)
	assert.Equal(t, "https://explicit.example/", bundle.Streams[0].Headers["Referer"])
	assert.Equal(t, "https://inferred.example", bundle.Streams[0].Headers["Origin"])
}

package services

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ordzy/sora-webui/internal/cache"
	apperrors "github.com/ordzy/sora-webui/internal/errors"
	"github.com/ordzy/sora-webui/internal/models"
	"github.com/ordzy/sora-webui/internal/proxy"
	"github.com/ordzy/sora-webui/pkg/logger"
)

// scriptServer serves one module script at /module.js and returns the
// loader plus a manifest pointing at it.
func scriptServer(t *testing.T, script string) (*ModuleLoader, models.Manifest, *httptest.Server) {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/module.js" {
			w.Header().Set("Content-Type", "application/javascript")
			fmt.Fprint(w, script)
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(server.Close)

	gateway := proxy.New("/api/proxy", "TestAgent/1.0", logger.NewSilent())
	loader := NewModuleLoader(gateway, cache.New(10, time.Hour), logger.NewSilent())

	manifest := models.Manifest{
		"sourceName": "Test Source",
		"scriptUrl":  server.URL + "/module.js",
	}
	return loader, manifest, server
}

const legacyScript = `
function searchResults(query) {
    return JSON.stringify([
        { href: "h1", title: "T " + query, image: "i1" }
    ]);
}

function extractDetails(id) {
    return JSON.stringify([
        { title: "Show " + id, description: "desc", aired: "2021" }
    ]);
}

function extractEpisodes(id) {
    return JSON.stringify([
        { href: "e1", number: 1 },
        { href: "e2", number: 2, title: "Finale" }
    ]);
}

function extractStreamUrl(id) {
    return "https://cdn.example/" + id + ".m3u8";
}
`

func TestLoadLegacyModuleSearch(t *testing.T) {
	loader, manifest, _ := scriptServer(t, legacyScript)

	mod, err := loader.Load(context.Background(), manifest)
	require.NoError(t, err)
	assert.Equal(t, "Test Source", mod.Name)

	results, err := mod.Search("cat")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, models.SearchResultItem{
		ID:     "h1",
		Title:  "T cat",
		Poster: "i1",
		Type:   "Video",
	}, results[0])
}

func TestLoadLegacyModuleDetails(t *testing.T) {
	loader, manifest, _ := scriptServer(t, legacyScript)

	mod, err := loader.Load(context.Background(), manifest)
	require.NoError(t, err)

	details, err := mod.GetDetails("show-1")
	require.NoError(t, err)
	assert.Equal(t, "Show show-1", details.Title)
	assert.Equal(t, "desc", details.Description)
	assert.Equal(t, "2021", details.Year)

	require.Len(t, details.Episodes, 2)
	assert.Equal(t, models.EpisodeRef{ID: "e1", Title: "Episode 1", Number: 1, Season: 1}, details.Episodes[0])
	assert.Equal(t, models.EpisodeRef{ID: "e2", Title: "Finale", Number: 2, Season: 1}, details.Episodes[1])
}

func TestLoadLegacyModuleStream(t *testing.T) {
	loader, manifest, _ := scriptServer(t, legacyScript)

	mod, err := loader.Load(context.Background(), manifest)
	require.NoError(t, err)

	bundle := mod.GetStream("ep1")
	require.Len(t, bundle.Streams, 1)
	assert.Equal(t, "Default", bundle.Streams[0].Label)
	assert.Equal(t, "https://cdn.example/ep1.m3u8", bundle.Streams[0].URL)
}

func TestLoadModuleWithOnlySearchResults(t *testing.T) {
	loader, manifest, _ := scriptServer(t, `
function searchResults(query) { return JSON.stringify([]); }
`)

	mod, err := loader.Load(context.Background(), manifest)
	require.NoError(t, err)

	results, err := mod.Search("anything")
	require.NoError(t, err)
	assert.Empty(t, results)

	details, err := mod.GetDetails("id")
	require.Error(t, err)
	assert.Nil(t, details)
}

func TestGetDetailsWithoutEpisodeExtractor(t *testing.T) {
	loader, manifest, _ := scriptServer(t, `
function searchResults(query) { return "[]"; }

function extractDetails(id) {
    return JSON.stringify([{ title: "Show", description: "d", year: "2019" }]);
}
`)

	mod, err := loader.Load(context.Background(), manifest)
	require.NoError(t, err)

	details, err := mod.GetDetails("id-1")
	require.NoError(t, err)
	assert.Equal(t, "Show", details.Title)
	assert.Equal(t, "2019", details.Year)
	assert.NotNil(t, details.Episodes)
	assert.Empty(t, details.Episodes)

	bundle := mod.GetStream("id-1")
	assert.Empty(t, bundle.Streams)
}

func TestLoadRejectsModuleWithoutSearch(t *testing.T) {
	loader, manifest, _ := scriptServer(t, `
function extractDetails(id) { return "[]"; }
`)

	_, err := loader.Load(context.Background(), manifest)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeMissingSearchFunction))
}

func TestLoadObjectConventionWinsOverLegacyGlobals(t *testing.T) {
	loader, manifest, _ := scriptServer(t, `
globalThis.searchResults = function (q) {
    return JSON.stringify([{ href: "legacy", title: "legacy" }]);
};

({
    name: "ObjectModule",
    search: function (q) {
        return [{ id: "o1", title: "Obj " + q }];
    },
    getDetails: function (id) {
        return {
            title: "Object Show",
            episodes: [{ id: "e1", number: 1 }]
        };
    },
    getStream: function (id) {
        return { streams: ["720p", "https://cdn.example/720"] };
    }
})
`)

	mod, err := loader.Load(context.Background(), manifest)
	require.NoError(t, err)
	assert.Equal(t, "ObjectModule", mod.Name)

	results, err := mod.Search("q")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "o1", results[0].ID)
	assert.Equal(t, "Obj q", results[0].Title)

	details, err := mod.GetDetails("x")
	require.NoError(t, err)
	assert.Equal(t, "Object Show", details.Title)
	require.Len(t, details.Episodes, 1)
	assert.Equal(t, "e1", details.Episodes[0].ID)

	bundle := mod.GetStream("e1")
	require.Len(t, bundle.Streams, 1)
	assert.Equal(t, "720p", bundle.Streams[0].Label)
}

func TestLoadAsyncModuleUsingFetchv2(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"results":[{"href":"a1","title":"Hit %s"}]}`, r.URL.Query().Get("q"))
	}))
	defer upstream.Close()

	loader, manifest, _ := scriptServer(t, fmt.Sprintf(`
async function searchResults(query) {
    const res = await fetchv2(%q + "?q=" + encodeURIComponent(query));
    const data = await res.json();
    return data.results;
}
`, upstream.URL))

	mod, err := loader.Load(context.Background(), manifest)
	require.NoError(t, err)

	results, err := mod.Search("dog")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a1", results[0].ID)
	assert.Equal(t, "Hit dog", results[0].Title)
}

func TestLoadModuleTunnelsHeadersThroughFetch(t *testing.T) {
	var gotReferer, gotTunneled string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotReferer = r.Header.Get("Referer")
		gotTunneled = r.Header.Get("X-Proxy-Referer")
		fmt.Fprint(w, `[]`)
	}))
	defer upstream.Close()

	loader, manifest, _ := scriptServer(t, fmt.Sprintf(`
async function searchResults(query) {
    const res = await fetchv2(%q, { "Referer": "https://source.example/" });
    return await res.text();
}
`, upstream.URL))

	mod, err := loader.Load(context.Background(), manifest)
	require.NoError(t, err)

	_, err = mod.Search("q")
	require.NoError(t, err)

	assert.Equal(t, "https://source.example/", gotReferer)
	assert.Empty(t, gotTunneled)
}

func TestLoadFromManifestURL(t *testing.T) {
	loader, manifest, _ := scriptServer(t, legacyScript)

	manifestServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"sourceName":"Remote","scriptUrl":%q}`, manifest.ScriptURL())
	}))
	defer manifestServer.Close()

	mod, err := loader.Load(context.Background(), manifestServer.URL+"/manifest.json")
	require.NoError(t, err)
	assert.Equal(t, "Remote", mod.Name)
}

func TestLoadFromRawJSONManifest(t *testing.T) {
	loader, manifest, _ := scriptServer(t, legacyScript)

	raw := fmt.Sprintf(`{"sourceName":"Inline","scriptUrl":%q}`, manifest.ScriptURL())
	mod, err := loader.Load(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "Inline", mod.Name)
}

func TestLoadRejectsBadManifestInput(t *testing.T) {
	loader, _, _ := scriptServer(t, legacyScript)

	_, err := loader.Load(context.Background(), "not json at all")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeInvalidManifest))

	_, err = loader.Load(context.Background(), 42)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeInvalidManifest))

	_, err = loader.Load(context.Background(), models.Manifest{"sourceName": "NoScript"})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeMissingScriptURL))
}

func TestLoadReportsScriptFetchFailure(t *testing.T) {
	loader, _, server := scriptServer(t, legacyScript)

	_, err := loader.Load(context.Background(), models.Manifest{
		"scriptUrl": server.URL + "/missing.js",
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeScriptFetch))
}

func TestLoadReportsScriptExecutionFailure(t *testing.T) {
	loader, manifest, _ := scriptServer(t, `throw new Error("broken module");`)

	_, err := loader.Load(context.Background(), manifest)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeScriptExecution))
}

func TestLoadAppliesScriptPatches(t *testing.T) {
	loader, manifest, _ := scriptServer(t, `
function searchResults(query) {
    var host = "https://megaup22/watch".replace("megaup22", "megaup.site");
    return JSON.stringify([{ href: host, title: "t" }]);
}
`)

	mod, err := loader.Load(context.Background(), manifest)
	require.NoError(t, err)

	results, err := mod.Search("q")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "https://megaup22/watch", results[0].ID)
}

func TestGetStreamDegradesToEmptyBundle(t *testing.T) {
	loader, manifest, _ := scriptServer(t, `
function searchResults(q) { return "[]"; }
function extractStreamUrl(id) { throw new Error("host down"); }
`)

	mod, err := loader.Load(context.Background(), manifest)
	require.NoError(t, err)

	bundle := mod.GetStream("e1")
	assert.NotNil(t, bundle.Streams)
	assert.NotNil(t, bundle.Subtitles)
	assert.Empty(t, bundle.Streams)
}

func TestLoadedModulesAreIndependent(t *testing.T) {
	loader, manifest, _ := scriptServer(t, `
var calls = 0;
function searchResults(q) {
    calls++;
    return JSON.stringify([{ href: String(calls), title: "t" }]);
}
`)

	first, err := loader.Load(context.Background(), manifest)
	require.NoError(t, err)
	second, err := loader.Load(context.Background(), manifest)
	require.NoError(t, err)

	r1, err := first.Search("q")
	require.NoError(t, err)
	r2, err := second.Search("q")
	require.NoError(t, err)

	assert.Equal(t, "1", r1[0].ID)
	assert.Equal(t, "1", r2[0].ID, "each load must execute in its own runtime")
}

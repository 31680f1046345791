package services

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/ordzy/sora-webui/internal/constants"
	apperrors "github.com/ordzy/sora-webui/internal/errors"
	"github.com/ordzy/sora-webui/internal/models"
	"github.com/ordzy/sora-webui/pkg/logger"
)

// LoadedModule is the normalized runtime handle for one executed module
// script. The caller owns it for its lifetime; re-loading the same manifest
// produces an independent handle with its own runtime.
//
// goja runtimes are not goroutine-safe, so all calls into the module are
// serialized through mu.
type LoadedModule struct {
	Manifest models.Manifest
	Name     string

	vm         *goja.Runtime
	adapter    moduleAdapter
	normalizer *StreamNormalizer
	logger     logger.Logger
	mu         sync.Mutex
}

// moduleAdapter abstracts the two script calling conventions behind one
// interface. Each method returns the module's raw (exported, JSON-parsed)
// result; shaping into models happens in LoadedModule.
type moduleAdapter interface {
	search(query string) (interface{}, error)
	details(id string) (interface{}, error)
	// episodes returns ok=false when the module defines no episode extractor.
	episodes(id string) (interface{}, bool, error)
	stream(episodeID string) (interface{}, error)
}

// detectAdapter picks the calling convention, first match wins: a script
// whose execution returned an object with a callable search member uses the
// object convention even if it also defined legacy globals. Otherwise the
// legacy global functions are snapshotted immediately, before anything else
// can touch the runtime.
func detectAdapter(vm *goja.Runtime, executionResult goja.Value) (moduleAdapter, string, error) {
	if obj := asObjectWithSearch(vm, executionResult); obj != nil {
		name := ""
		if v := obj.Get("name"); v != nil && !goja.IsUndefined(v) && !goja.IsNull(v) {
			name = v.String()
		}
		return &objectModule{vm: vm, obj: obj}, name, nil
	}

	legacy := &legacyModule{
		vm:              vm,
		searchResults:   globalCallable(vm, "searchResults"),
		extractDetails:  globalCallable(vm, "extractDetails"),
		extractEpisodes: globalCallable(vm, "extractEpisodes"),
		extractStream:   globalCallable(vm, "extractStreamUrl"),
	}

	if legacy.searchResults == nil {
		return nil, "", apperrors.NewMissingSearchFunctionError()
	}

	return legacy, "", nil
}

// Search runs the module's search. Errors propagate: the caller needs to
// know browsing failed.
func (m *LoadedModule) Search(query string) ([]models.SearchResultItem, error) {
	raw, err := m.callAdapter(func() (interface{}, error) { return m.adapter.search(query) })
	if err != nil {
		m.logger.Errorf("[ModuleLoader] search failed for %q: %v", query, err)
		return nil, apperrors.NewModuleCallError("search", err)
	}

	items, ok := raw.([]interface{})
	if !ok {
		return nil, apperrors.NewModuleCallError("search", fmt.Errorf("expected an array of results, got %T", raw))
	}

	results := make([]models.SearchResultItem, 0, len(items))
	for _, it := range items {
		entry, ok := it.(map[string]interface{})
		if !ok {
			continue
		}
		results = append(results, models.SearchResultItem{
			ID:          firstString(entry, "href", "id"),
			Title:       firstString(entry, "title"),
			Poster:      firstString(entry, "image", "poster"),
			Type:        stringOr(entry, "type", "Video"),
			Description: firstString(entry, "description"),
		})
	}

	return results, nil
}

// GetDetails runs the module's detail extraction and merges the optional
// episode list. Errors propagate.
func (m *LoadedModule) GetDetails(id string) (*models.ContentDetails, error) {
	raw, err := m.callAdapter(func() (interface{}, error) { return m.adapter.details(id) })
	if err != nil {
		m.logger.Errorf("[ModuleLoader] details failed for %q: %v", id, err)
		return nil, apperrors.NewModuleCallError("getDetails", err)
	}

	// Legacy modules return the details object wrapped in a one-element array.
	detail, _ := raw.(map[string]interface{})
	if arr, ok := raw.([]interface{}); ok {
		detail = nil
		if len(arr) > 0 {
			detail, _ = arr[0].(map[string]interface{})
		}
	}
	if detail == nil {
		detail = map[string]interface{}{}
	}

	details := &models.ContentDetails{
		ID:          id,
		Title:       stringOr(detail, "title", "Details"),
		Description: firstString(detail, "description"),
		Year:        firstString(detail, "year", "aired", "premiered", "releaseDate"),
		Episodes:    []models.EpisodeRef{},
	}

	rawEpisodes, hasEpisodes, err := m.callAdapterEpisodes(id)
	if err != nil {
		m.logger.Errorf("[ModuleLoader] episodes failed for %q: %v", id, err)
		return nil, apperrors.NewModuleCallError("getDetails", err)
	}
	if hasEpisodes {
		if arr, ok := rawEpisodes.([]interface{}); ok {
			for _, e := range arr {
				entry, ok := e.(map[string]interface{})
				if !ok {
					continue
				}
				number := intField(entry, "number")
				title := firstString(entry, "title")
				if title == "" {
					title = fmt.Sprintf("Episode %d", number)
				}
				season := intField(entry, "season")
				if season == 0 {
					season = 1
				}
				details.Episodes = append(details.Episodes, models.EpisodeRef{
					ID:     firstString(entry, "href", "id"),
					Title:  title,
					Number: number,
					Season: season,
				})
			}
		}
	}

	return details, nil
}

// GetStream resolves playback candidates for an episode. It never returns
// an error: stream extraction failure must not crash content browsing, so
// any internal error degrades to an empty bundle the UI can present as "no
// streams available".
func (m *LoadedModule) GetStream(episodeID string) models.StreamBundle {
	raw, err := m.callAdapter(func() (interface{}, error) { return m.adapter.stream(episodeID) })
	if err != nil {
		m.logger.Errorf("[ModuleLoader] stream extraction failed for %q: %v", episodeID, err)
		return models.EmptyStreamBundle()
	}

	return m.normalizer.Normalize(raw)
}

// callAdapter serializes a module call, bounds it with the call timeout and
// JSON-decodes string results.
func (m *LoadedModule) callAdapter(fn func() (interface{}, error)) (interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stop := m.armInterrupt()
	defer stop()

	return fn()
}

func (m *LoadedModule) callAdapterEpisodes(id string) (interface{}, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stop := m.armInterrupt()
	defer stop()

	return m.adapter.episodes(id)
}

// armInterrupt aborts a runaway script call after the module call timeout.
func (m *LoadedModule) armInterrupt() func() {
	timer := time.AfterFunc(constants.ModuleCallTimeout, func() {
		m.vm.Interrupt("module call timeout exceeded")
	})
	return func() {
		timer.Stop()
		m.vm.ClearInterrupt()
	}
}

// --- object-return convention ---

type objectModule struct {
	vm  *goja.Runtime
	obj *goja.Object
}

func (o *objectModule) search(query string) (interface{}, error) {
	return o.call("search", query)
}

func (o *objectModule) details(id string) (interface{}, error) {
	return o.call("getDetails", id)
}

func (o *objectModule) episodes(id string) (interface{}, bool, error) {
	// The object convention folds episodes into getDetails.
	raw, err := o.call("getDetails", id)
	if err != nil {
		return nil, false, err
	}
	if detail, ok := raw.(map[string]interface{}); ok {
		if eps, ok := detail["episodes"]; ok {
			return eps, true, nil
		}
	}
	return nil, false, nil
}

func (o *objectModule) stream(episodeID string) (interface{}, error) {
	return o.call("getStream", episodeID)
}

// call invokes a method on the module object with the object as this, so
// modules built as stateful objects keep working.
func (o *objectModule) call(method string, arg string) (interface{}, error) {
	fn, ok := goja.AssertFunction(o.obj.Get(method))
	if !ok {
		return nil, fmt.Errorf("module object has no %s method", method)
	}
	return invoke(o.vm, fn, o.obj, o.vm.ToValue(arg))
}

// --- legacy global-function convention ---

type legacyModule struct {
	vm              *goja.Runtime
	searchResults   goja.Callable
	extractDetails  goja.Callable
	extractEpisodes goja.Callable
	extractStream   goja.Callable
}

func (l *legacyModule) search(query string) (interface{}, error) {
	return invoke(l.vm, l.searchResults, goja.Undefined(), l.vm.ToValue(query))
}

func (l *legacyModule) details(id string) (interface{}, error) {
	if l.extractDetails == nil {
		return nil, fmt.Errorf("module missing extractDetails")
	}
	return invoke(l.vm, l.extractDetails, goja.Undefined(), l.vm.ToValue(id))
}

func (l *legacyModule) episodes(id string) (interface{}, bool, error) {
	if l.extractEpisodes == nil {
		return nil, false, nil
	}
	raw, err := invoke(l.vm, l.extractEpisodes, goja.Undefined(), l.vm.ToValue(id))
	return raw, true, err
}

func (l *legacyModule) stream(episodeID string) (interface{}, error) {
	if l.extractStream == nil {
		return nil, fmt.Errorf("module missing extractStreamUrl")
	}
	return invoke(l.vm, l.extractStream, goja.Undefined(), l.vm.ToValue(episodeID))
}

// --- goja plumbing ---

// invoke calls fn, settles any returned promise and exports the result,
// JSON-decoding string returns (modules frequently JSON.stringify their
// results). Host fetch functions are synchronous, so module promises are
// settled by the time the call stack unwinds; a still-pending promise means
// the script scheduled work this host cannot run.
func invoke(vm *goja.Runtime, fn goja.Callable, this goja.Value, args ...goja.Value) (interface{}, error) {
	val, err := fn(this, args...)
	if err != nil {
		return nil, err
	}

	val, err = settle(val)
	if err != nil {
		return nil, err
	}

	return exportParsed(val), nil
}

// settle unwraps a promise return value.
func settle(val goja.Value) (goja.Value, error) {
	if val == nil {
		return goja.Undefined(), nil
	}

	promise, ok := val.Export().(*goja.Promise)
	if !ok {
		return val, nil
	}

	switch promise.State() {
	case goja.PromiseStateFulfilled:
		return promise.Result(), nil
	case goja.PromiseStateRejected:
		result := promise.Result()
		if result == nil {
			return nil, fmt.Errorf("promise rejected")
		}
		return nil, fmt.Errorf("promise rejected: %s", result.String())
	default:
		return nil, fmt.Errorf("module call left a pending promise; background work is not supported")
	}
}

// exportParsed exports a goja value to plain Go data. String results that
// parse as JSON are decoded: module authors JSON.stringify their results
// about as often as they return them directly, and both must work.
func exportParsed(val goja.Value) interface{} {
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return nil
	}

	exported := val.Export()
	if s, ok := exported.(string); ok {
		trimmed := strings.TrimSpace(s)
		if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
			var decoded interface{}
			if err := json.Unmarshal([]byte(trimmed), &decoded); err == nil {
				return decoded
			}
		}
		return s
	}

	return exported
}

// asObjectWithSearch returns the execution result as an object when it
// exposes a callable search member, nil otherwise.
func asObjectWithSearch(vm *goja.Runtime, val goja.Value) *goja.Object {
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return nil
	}
	obj := val.ToObject(vm)
	if obj == nil {
		return nil
	}
	if _, ok := goja.AssertFunction(obj.Get("search")); !ok {
		return nil
	}
	return obj
}

// globalCallable snapshots a global function binding, nil when undefined or
// not callable.
func globalCallable(vm *goja.Runtime, name string) goja.Callable {
	fn, ok := goja.AssertFunction(vm.GlobalObject().Get(name))
	if !ok {
		return nil
	}
	return fn
}

// --- small helpers shared across the package ---

func readAllString(r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// firstString returns the first present, non-empty string among keys.
func firstString(m map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if v, ok := m[key]; ok {
			switch s := v.(type) {
			case string:
				if s != "" {
					return s
				}
			case float64:
				return strconv.FormatFloat(s, 'f', -1, 64)
			case int64:
				return strconv.FormatInt(s, 10)
			}
		}
	}
	return ""
}

func stringOr(m map[string]interface{}, key, fallback string) string {
	if s := firstString(m, key); s != "" {
		return s
	}
	return fallback
}

func intField(m map[string]interface{}, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	case string:
		n := 0
		fmt.Sscanf(v, "%d", &n)
		return n
	}
	return 0
}

package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"

	"github.com/ordzy/sora-webui/internal/cache"
	"github.com/ordzy/sora-webui/internal/constants"
	apperrors "github.com/ordzy/sora-webui/internal/errors"
	"github.com/ordzy/sora-webui/internal/models"
	"github.com/ordzy/sora-webui/internal/proxy"
	"github.com/ordzy/sora-webui/pkg/logger"
)

// ModuleLoader turns a manifest (or its URL, or its raw JSON) into a
// LoadedModule handle. Stateless across calls: every Load fetches the
// manifest and script fresh and executes in a new runtime, so two loads of
// the same manifest yield independent handles. Only compilation is reused,
// keyed by script content, through the program cache.
type ModuleLoader struct {
	gateway    *proxy.Gateway
	programs   *cache.LRUCache
	normalizer *StreamNormalizer
	logger     logger.Logger
}

// NewModuleLoader creates a loader. The program cache may be nil to disable
// compilation reuse.
func NewModuleLoader(gateway *proxy.Gateway, programs *cache.LRUCache, log logger.Logger) *ModuleLoader {
	return &ModuleLoader{
		gateway:    gateway,
		programs:   programs,
		normalizer: NewStreamNormalizer(nil),
		logger:     log,
	}
}

// SetHeaderInferrer replaces the stream header inference policy.
func (l *ModuleLoader) SetHeaderInferrer(infer HeaderInferrer) {
	l.normalizer = NewStreamNormalizer(infer)
}

// Load resolves, fetches, executes and wraps one module. input may be a
// models.Manifest (or plain map), an absolute manifest URL, or a raw JSON
// manifest string.
//
// Load-time failures are returned as errors: they are actionable ("module
// is broken or unreachable"). Once loaded, the handle's methods degrade
// per their own contracts instead.
func (l *ModuleLoader) Load(ctx context.Context, input interface{}) (*LoadedModule, error) {
	manifest, err := l.resolveManifest(ctx, input)
	if err != nil {
		return nil, err
	}

	scriptURL := manifest.ScriptURL()
	if scriptURL == "" {
		return nil, apperrors.NewMissingScriptURLError()
	}

	source, err := l.fetchScript(ctx, scriptURL)
	if err != nil {
		return nil, err
	}

	source = l.applyPatches(source)

	program, err := l.compile(scriptURL, source)
	if err != nil {
		return nil, apperrors.NewScriptExecutionError(err)
	}

	vm := goja.New()
	if err := installPolyfill(vm, l.gateway, l.logger); err != nil {
		return nil, apperrors.NewScriptExecutionError(err)
	}

	result, err := l.execute(vm, program)
	if err != nil {
		return nil, apperrors.NewScriptExecutionError(err)
	}

	adapter, objectName, err := detectAdapter(vm, result)
	if err != nil {
		return nil, err
	}

	name := objectName
	if name == "" {
		name = manifest.SourceName()
	}
	if name == "" {
		name = "Unknown Module"
	}

	l.logger.Infof("[ModuleLoader] loaded module %q from %s", name, scriptURL)

	return &LoadedModule{
		Manifest:   manifest,
		Name:       name,
		vm:         vm,
		adapter:    adapter,
		normalizer: l.normalizer,
		logger:     l.logger,
	}, nil
}

// resolveManifest turns the load input into a manifest map.
func (l *ModuleLoader) resolveManifest(ctx context.Context, input interface{}) (models.Manifest, error) {
	switch v := input.(type) {
	case models.Manifest:
		return v, nil
	case map[string]interface{}:
		return models.Manifest(v), nil
	case string:
		trimmed := strings.TrimSpace(v)
		if strings.HasPrefix(trimmed, "http://") || strings.HasPrefix(trimmed, "https://") {
			return l.fetchManifest(ctx, trimmed)
		}
		var manifest models.Manifest
		if err := json.Unmarshal([]byte(trimmed), &manifest); err != nil {
			return nil, apperrors.NewInvalidManifestError(err)
		}
		return manifest, nil
	default:
		return nil, apperrors.NewInvalidManifestError(fmt.Errorf("unsupported manifest input type %T", input))
	}
}

// fetchManifest downloads and parses a manifest by URL through the gateway
// fetch core.
func (l *ModuleLoader) fetchManifest(ctx context.Context, manifestURL string) (models.Manifest, error) {
	body, status, _, err := l.gateway.FetchText(ctx, manifestURL, nil)
	if err != nil {
		return nil, apperrors.NewScriptFetchError(manifestURL, err)
	}
	if status < 200 || status >= 300 {
		return nil, apperrors.NewScriptFetchError(manifestURL, fmt.Errorf("HTTP %d", status))
	}

	var manifest models.Manifest
	if err := json.Unmarshal([]byte(body), &manifest); err != nil {
		return nil, apperrors.NewInvalidManifestError(err)
	}
	return manifest, nil
}

// fetchScript downloads module source text, failing on non-success status.
func (l *ModuleLoader) fetchScript(ctx context.Context, scriptURL string) (string, error) {
	body, status, _, err := l.gateway.FetchText(ctx, scriptURL, nil)
	if err != nil {
		return "", apperrors.NewScriptFetchError(scriptURL, err)
	}
	if status < 200 || status >= 300 {
		return "", apperrors.NewScriptFetchError(scriptURL, fmt.Errorf("HTTP %d", status))
	}
	return body, nil
}

// applyPatches removes the known-broken snippets upstream module authors
// shipped. Each removal is logged; this is a fixed workaround list, not a
// sanitizer.
func (l *ModuleLoader) applyPatches(source string) string {
	for _, patch := range constants.ScriptPatches {
		if strings.Contains(source, patch) {
			l.logger.Infof("[ModuleLoader] patching module: removing %q", patch)
			source = strings.ReplaceAll(source, patch, "")
		}
	}
	return source
}

// compile returns a compiled program for the source, reusing the cache
// when the identical script text was compiled before.
func (l *ModuleLoader) compile(scriptURL, source string) (*goja.Program, error) {
	if l.programs == nil {
		return goja.Compile(scriptURL, source, false)
	}

	sum := sha256.Sum256([]byte(source))
	key := hex.EncodeToString(sum[:])

	if cached, ok := l.programs.Get(key); ok {
		return cached.(*goja.Program), nil
	}

	program, err := goja.Compile(scriptURL, source, false)
	if err != nil {
		return nil, err
	}

	l.programs.Set(key, program)
	return program, nil
}

// execute runs the compiled script in the module runtime with the load
// timeout armed, returning the script's direct completion value.
func (l *ModuleLoader) execute(vm *goja.Runtime, program *goja.Program) (goja.Value, error) {
	timer := time.AfterFunc(constants.ModuleCallTimeout, func() {
		vm.Interrupt("script execution timeout exceeded")
	})
	defer func() {
		timer.Stop()
		vm.ClearInterrupt()
	}()

	return vm.RunProgram(program)
}

// Package errors defines custom error types for better error handling and debugging.
// ModuleError provides context-aware error reporting with type classification,
// letting callers tell "couldn't reach the module" apart from "the module is
// malformed" without string matching.
package errors

import (
	"errors"
	"fmt"
)

// ModuleError represents errors that occur while proxying, loading or
// invoking a module.
type ModuleError struct {
	Type    string
	Message string
	Cause   error
}

func (e *ModuleError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *ModuleError) Unwrap() error {
	return e.Cause
}

// Error type constants
const (
	ErrorTypeMissingTarget         = "MISSING_TARGET_URL"
	ErrorTypeInvalidManifest       = "INVALID_MANIFEST"
	ErrorTypeMissingScriptURL      = "MISSING_SCRIPT_URL"
	ErrorTypeScriptFetch           = "SCRIPT_FETCH_FAILED"
	ErrorTypeScriptExecution       = "SCRIPT_EXECUTION_FAILED"
	ErrorTypeMissingSearchFunction = "MISSING_SEARCH_FUNCTION"
	ErrorTypeUpstreamFetch         = "UPSTREAM_FETCH_FAILED"
	ErrorTypeModuleCall            = "MODULE_CALL_FAILED"
)

// NewModuleError creates a new ModuleError
func NewModuleError(errorType, message string, cause error) *ModuleError {
	return &ModuleError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
	}
}

// NewMissingTargetError reports a gateway request without a url parameter.
func NewMissingTargetError() *ModuleError {
	return NewModuleError(ErrorTypeMissingTarget, "missing url query parameter", nil)
}

// NewInvalidManifestError reports unparseable manifest input.
func NewInvalidManifestError(cause error) *ModuleError {
	return NewModuleError(ErrorTypeInvalidManifest, "invalid JSON manifest", cause)
}

// NewMissingScriptURLError reports a manifest without a scriptUrl field.
func NewMissingScriptURLError() *ModuleError {
	return NewModuleError(ErrorTypeMissingScriptURL, `manifest missing "scriptUrl"`, nil)
}

// NewScriptFetchError reports a failed manifest or script download.
func NewScriptFetchError(url string, cause error) *ModuleError {
	return NewModuleError(ErrorTypeScriptFetch, fmt.Sprintf("failed to fetch %s", url), cause)
}

// NewScriptExecutionError reports a module script that threw during execution.
func NewScriptExecutionError(cause error) *ModuleError {
	return NewModuleError(ErrorTypeScriptExecution, "script execution failed", cause)
}

// NewMissingSearchFunctionError reports a script that satisfies neither
// calling convention. searchResults is the minimum viable module contract.
func NewMissingSearchFunctionError() *ModuleError {
	return NewModuleError(ErrorTypeMissingSearchFunction, `module did not define "searchResults" global function`, nil)
}

// NewUpstreamFetchError reports a failed gateway fetch of a proxied target.
func NewUpstreamFetchError(url string, cause error) *ModuleError {
	return NewModuleError(ErrorTypeUpstreamFetch, fmt.Sprintf("upstream fetch failed for %s", url), cause)
}

// NewModuleCallError reports a loaded module method that failed at call time.
func NewModuleCallError(method string, cause error) *ModuleError {
	return NewModuleError(ErrorTypeModuleCall, fmt.Sprintf("module %s call failed", method), cause)
}

// IsType reports whether err is a ModuleError of the given type.
func IsType(err error, errorType string) bool {
	var me *ModuleError
	if errors.As(err, &me) {
		return me.Type == errorType
	}
	return false
}

// Package services contains the module execution core: the loader, the
// per-module JavaScript runtime with its polyfilled native API, and the
// stream result normalizer.
package services

import (
	"context"
	"encoding/base64"
	"net/http"

	"github.com/dop251/goja"

	"github.com/ordzy/sora-webui/internal/constants"
	"github.com/ordzy/sora-webui/internal/proxy"
	"github.com/ordzy/sora-webui/pkg/logger"
)

// installPolyfill makes a fresh goja runtime look like the native Sora
// scripting host, so third-party module scripts run unmodified. Every
// network primitive routes through the gateway fetch core. None of them
// ever throw into module code: failures resolve with success:false or
// ok:false so a broken upstream cannot crash the host.
//
// Each module gets its own runtime, so installation happens once per load.
// The "only define if absent" guards are kept anyway: a script that ships
// its own binding wins, matching the browser polyfill's behavior.
func installPolyfill(vm *goja.Runtime, gateway *proxy.Gateway, log logger.Logger) error {
	// Capability scoping: module code gets the polyfilled surface and
	// nothing of the host environment.
	vm.Set("require", goja.Undefined())
	vm.Set("process", goja.Undefined())
	vm.Set("module", goja.Undefined())
	vm.Set("exports", goja.Undefined())
	vm.Set("setTimeout", func(call goja.FunctionCall) goja.Value { return goja.Undefined() })
	vm.Set("setInterval", func(call goja.FunctionCall) goja.Value { return goja.Undefined() })

	installConsole(vm, log)

	vm.Set("__soraNativeFetch", makeNativeFetch(vm, gateway, log))

	vm.Set("atob", func(call goja.FunctionCall) goja.Value {
		decoded, err := base64.StdEncoding.DecodeString(call.Argument(0).String())
		if err != nil {
			panic(vm.NewGoError(err))
		}
		return vm.ToValue(string(decoded))
	})
	vm.Set("btoa", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(base64.StdEncoding.EncodeToString([]byte(call.Argument(0).String())))
	})

	// window doubles as the global object for scripts that assign through it.
	vm.Set("window", vm.GlobalObject())
	vm.Set("globalThis", vm.GlobalObject())

	_, err := vm.RunString(polyfillBootstrap)
	return err
}

// installConsole wires console.log/warn/error/info to the host logger with
// a per-module prefix.
func installConsole(vm *goja.Runtime, log logger.Logger) {
	format := func(call goja.FunctionCall) string {
		msg := ""
		for i, arg := range call.Arguments {
			if i > 0 {
				msg += " "
			}
			msg += arg.String()
		}
		return msg
	}

	console := vm.NewObject()
	console.Set("log", func(call goja.FunctionCall) goja.Value {
		log.Debugf("[Module] %s", format(call))
		return goja.Undefined()
	})
	console.Set("info", func(call goja.FunctionCall) goja.Value {
		log.Infof("[Module] %s", format(call))
		return goja.Undefined()
	})
	console.Set("warn", func(call goja.FunctionCall) goja.Value {
		log.Warnf("[Module] %s", format(call))
		return goja.Undefined()
	})
	console.Set("error", func(call goja.FunctionCall) goja.Value {
		log.Errorf("[Module] %s", format(call))
		return goja.Undefined()
	})
	vm.Set("console", console)
}

// makeNativeFetch builds the single Go-backed primitive the JS bootstrap
// layers everything on: __soraNativeFetch(url, headers, method, body) →
// {status, ok, body, finalUrl, error}. Synchronous and non-throwing.
func makeNativeFetch(vm *goja.Runtime, gateway *proxy.Gateway, log logger.Logger) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		targetURL := call.Argument(0).String()

		headers := make(http.Header)
		if raw, ok := call.Argument(1).Export().(map[string]interface{}); ok {
			for k, v := range raw {
				if s, ok := v.(string); ok {
					headers.Set(k, s)
				}
			}
		}

		method := http.MethodGet
		if m := call.Argument(2); !goja.IsUndefined(m) && !goja.IsNull(m) && m.String() != "" {
			method = m.String()
		}

		var body []byte
		if b := call.Argument(3); !goja.IsUndefined(b) && !goja.IsNull(b) {
			body = []byte(b.String())
		}

		failure := func(err error) goja.Value {
			log.Warnf("[Polyfill] fetch failed for %s: %v", targetURL, err)
			return vm.ToValue(map[string]interface{}{
				"status":   0,
				"ok":       false,
				"body":     "",
				"finalUrl": targetURL,
				"error":    err.Error(),
			})
		}

		ctx, cancel := context.WithTimeout(context.Background(), constants.ModuleFetchTimeout)
		defer cancel()

		res, err := gateway.Fetch(ctx, method, targetURL, headers, body)
		if err != nil {
			return failure(err)
		}
		defer res.Body.Close()

		text, err := readAllString(res.Body)
		if err != nil {
			return failure(err)
		}

		var errField interface{}
		ok := res.Status >= 200 && res.Status < 300
		if !ok {
			errField = "HTTP " + http.StatusText(res.Status)
		}

		return vm.ToValue(map[string]interface{}{
			"status":   res.Status,
			"ok":       ok,
			"body":     text,
			"finalUrl": res.FinalURL,
			"error":    errField,
		})
	}
}

// polyfillBootstrap is the JS shim defining the native API surface over
// __soraNativeFetch. It mirrors the browser polyfill: rich networkFetch
// results with stubbed native-only fields, tolerant fetchv2 with smart body
// serialization, and header tunneling under the X-Proxy-* names that the
// gateway restores.
const polyfillBootstrap = `
(function () {
    'use strict';

    var TUNNEL_MAP = {
        'cookie': 'X-Proxy-Cookie',
        'user-agent': 'X-Proxy-User-Agent',
        'referer': 'X-Proxy-Referer',
        'origin': 'X-Proxy-Origin'
    };

    function tunnelHeaders(headers) {
        var out = {};
        for (var key in headers) {
            var lower = key.toLowerCase();
            out[TUNNEL_MAP[lower] || key] = headers[key];
        }
        return out;
    }

    function encodeForm(obj) {
        var parts = [];
        for (var key in obj) {
            parts.push(encodeURIComponent(key) + '=' + encodeURIComponent(obj[key]));
        }
        return parts.join('&');
    }

    function internalFetch(url, options) {
        options = options || {};
        // Some callers pass a bare timeout number instead of options.
        if (typeof options === 'number') {
            options = { timeoutSeconds: options };
        }

        var method = options.method || 'GET';
        var headers = tunnelHeaders(options.headers || {});
        var body = options.body;
        if (body !== undefined && body !== null && typeof body !== 'string') {
            body = JSON.stringify(body);
        }

        return __soraNativeFetch(url, headers, method, body);
    }

    if (typeof networkFetch === 'undefined') {
        globalThis.networkFetch = async function (url, options) {
            var result = internalFetch(url, options);
            // Body is captured even on HTTP errors: modules scrape error
            // pages for redirect targets and embedded tokens.
            return {
                url: result.finalUrl,
                requests: [url],
                html: result.body || null,
                cookies: null,
                success: result.ok,
                error: result.error || null,
                totalRequests: 1,
                cutoffTriggered: false,
                cutoffUrl: null,
                htmlCaptured: !!result.body,
                cookiesCaptured: false,
                elementsClicked: [],
                waitResults: {}
            };
        };
    }

    if (typeof networkFetchSimple === 'undefined') {
        globalThis.networkFetchSimple = async function (url, options) {
            var result = internalFetch(url, options);
            return {
                url: result.finalUrl,
                requests: [url],
                success: result.ok,
                error: result.error || null,
                totalRequests: 1
            };
        };
    }

    if (typeof networkFetchWithHTML === 'undefined') {
        globalThis.networkFetchWithHTML = function (url, timeoutSeconds) {
            return networkFetch(url, { timeoutSeconds: timeoutSeconds || 10, returnHTML: true });
        };
    }

    if (typeof networkFetchWithCutoff === 'undefined') {
        globalThis.networkFetchWithCutoff = function (url, cutoff, timeoutSeconds) {
            return networkFetch(url, { cutoff: cutoff, timeoutSeconds: timeoutSeconds || 10 });
        };
    }

    if (typeof networkFetchWithClicks === 'undefined') {
        globalThis.networkFetchWithClicks = function (url, clickSelectors, options) {
            console.warn('networkFetchWithClicks: click selectors are not supported in this environment');
            return networkFetch(url, options);
        };
    }

    if (typeof networkFetchFromHTML === 'undefined') {
        // No navigation happens: the caller already has the HTML.
        globalThis.networkFetchFromHTML = function (htmlContent) {
            return Promise.resolve({
                url: '',
                requests: [],
                html: htmlContent,
                cookies: null,
                success: true,
                error: null,
                htmlCaptured: true
            });
        };
    }

    if (typeof fetchv2 === 'undefined') {
        globalThis.fetchv2 = async function (url, headers, method, body) {
            headers = headers || {};
            method = method || 'GET';

            if (!url) {
                console.error('fetchv2 called with undefined URL');
                return {
                    ok: false,
                    status: 0,
                    text: function () { return Promise.resolve(''); },
                    json: function () { return Promise.resolve({}); }
                };
            }

            var finalHeaders = tunnelHeaders(headers);
            var finalBody = body;

            if (body !== undefined && body !== null && typeof body === 'object') {
                var contentType = '';
                for (var key in headers) {
                    if (key.toLowerCase() === 'content-type') {
                        contentType = String(headers[key]).toLowerCase();
                    }
                }

                if (contentType.indexOf('application/x-www-form-urlencoded') !== -1) {
                    finalBody = encodeForm(body);
                } else if (contentType.indexOf('multipart/form-data') !== -1) {
                    // Pass through and drop the content type so a real
                    // multipart boundary can be negotiated downstream.
                    for (var hk in finalHeaders) {
                        if (hk.toLowerCase() === 'content-type') {
                            delete finalHeaders[hk];
                        }
                    }
                } else if (!contentType || contentType.indexOf('application/json') !== -1) {
                    finalBody = JSON.stringify(body);
                    if (!contentType) {
                        finalHeaders['Content-Type'] = 'application/json';
                    }
                }
                // Any other declared content type sends the body as given.
            }

            var result = __soraNativeFetch(url, finalHeaders, method, finalBody);
            if (!result.ok) {
                console.warn('fetchv2 failed: ' + result.status + ' for ' + url);
            }

            var bodyText = result.body;
            return {
                status: result.status,
                ok: result.ok,
                text: function () { return Promise.resolve(bodyText); },
                json: function () { return Promise.resolve(JSON.parse(bodyText)); }
            };
        };
    }
})();
`

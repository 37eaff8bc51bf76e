package triggers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/flowforge/engine/internal/dsl"
)

// restTrigger registers a dynamic HTTP route on the engine's main mux so that
// external callers can invoke the flow via HTTP.
//
// Because the engine runs a single http.Server, the REST trigger hands its
// route to the process-wide globalRESTRegistry instead of starting its own
// HTTP server; the registry is mounted once by cmd/server at startup.
type restTrigger struct {
	executor  Executor
	processID string
	path      string
	method    string
}

func newRESTTrigger(executor Executor) *restTrigger {
	return &restTrigger{executor: executor}
}

// Start validates the REST config and registers the route in the shared registry.
func (t *restTrigger) Start(ctx context.Context, proc *dsl.Process) error {
	path, method, err := restTriggerConfig(proc.Trigger.Config)
	if err != nil {
		return fmt.Errorf("rest_trigger: %w", err)
	}

	t.processID = proc.Definition.ID
	t.path = path
	t.method = method

	procCopy := *proc
	globalRESTRegistry.register(path, method, t.buildHandler(&procCopy))

	logger.Info("rest trigger registered", zap.String("method", method), zap.String("path", path), zap.String("process_id", proc.Definition.ID))
	return nil
}

// buildHandler returns the http.HandlerFunc for this REST endpoint. Any
// {name}-style path variables captured by the registry's router are exposed
// to the flow under trigger_data["path_params"].
func (t *restTrigger) buildHandler(proc *dsl.Process) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limitBody(w, r)

		body := map[string]interface{}{}
		if r.Body != nil {
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil && err != io.EOF {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid JSON body: " + err.Error()})
				return
			}
		}

		pathParams := make(map[string]interface{})
		for k, v := range mux.Vars(r) {
			pathParams[k] = v
		}

		triggerData := map[string]interface{}{
			"method":      r.Method,
			"headers":     firstHeaders(r.Header),
			"body":        body,
			"auth":        r.Header.Get("Authorization"),
			"path_params": pathParams,
			"query":       firstQueryParams(r.URL.Query()),
		}

		execCtx, execErr := t.executor.Execute(proc, triggerData)
		if execErr != nil {
			logger.Error("rest trigger execution failed", zap.String("process_id", t.processID), zap.Error(execErr))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnprocessableEntity)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": execErr.Error()})
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"execution_id": execCtx.ExecutionID,
			"nodes":        execCtx.Nodes,
		})
	}
}

func firstQueryParams(values map[string][]string) map[string]interface{} {
	out := make(map[string]interface{}, len(values))
	for k, vv := range values {
		if len(vv) > 0 {
			out[k] = vv[0]
		}
	}
	return out
}

// Stop deregisters the route from the shared registry.
func (t *restTrigger) Stop() error {
	if t.path != "" {
		globalRESTRegistry.deregister(t.path, t.method)
		logger.Info("rest trigger deregistered", zap.String("method", t.method), zap.String("path", t.path), zap.String("process_id", t.processID))
	}
	return nil
}

func (t *restTrigger) Type() string { return "rest" }

// restTriggerConfig extracts path and method from trigger config.
func restTriggerConfig(config map[string]interface{}) (path, method string, err error) {
	if config == nil {
		return "", "", fmt.Errorf("trigger config is nil; expected {\"path\":\"...\",\"method\":\"...\"}")
	}
	path, _ = config["path"].(string)
	if path == "" {
		return "", "", fmt.Errorf("trigger config missing required field \"path\"")
	}
	method, _ = config["method"].(string)
	if method == "" {
		method = http.MethodPost // sensible default
	}
	return path, method, nil
}

// ---------------------------------------------------------------------------
// Global REST route registry
// ---------------------------------------------------------------------------

// restRoute is one registered REST trigger endpoint.
type restRoute struct {
	path, method string
	handler      http.HandlerFunc
}

// restRegistryImpl dispatches inbound requests to the REST trigger handler
// whose path and method match, using a gorilla/mux router rebuilt on every
// register/deregister. A router swap (rather than a mutex held across
// ServeHTTP) keeps concurrent request dispatch lock-free: readers always see
// a complete, consistent router via the atomic pointer load below. mux
// supports DSL-declared path variables ({id}-style segments), which the
// method+path string keying the teacher's registry used could never match.
type restRegistryImpl struct {
	mu     sync.Mutex
	routes map[string]restRoute
	router atomic.Pointer[mux.Router]
}

func newRESTRegistry() *restRegistryImpl {
	return &restRegistryImpl{routes: make(map[string]restRoute)}
}

var globalRESTRegistry = newRESTRegistry()

func (r *restRegistryImpl) register(path, method string, h http.HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[registryKey(path, method)] = restRoute{path: path, method: method, handler: h}
	r.rebuild()
}

func (r *restRegistryImpl) deregister(path, method string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.routes, registryKey(path, method))
	r.rebuild()
}

// rebuild must be called with mu held. gorilla/mux has no route-removal API,
// so the whole router is reconstructed from the current route set on every
// change; registrations happen at deploy/stop time, not per-request, so the
// rebuild cost is negligible against request dispatch volume.
func (r *restRegistryImpl) rebuild() {
	router := mux.NewRouter()
	for _, route := range r.routes {
		router.HandleFunc(route.path, route.handler).Methods(route.method)
	}
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		http.Error(w, fmt.Sprintf("no REST trigger registered for %s %s", req.Method, req.URL.Path), http.StatusNotFound)
	})
	router.MethodNotAllowedHandler = router.NotFoundHandler
	r.router.Store(router)
}

// ServeHTTP dispatches incoming requests to the registered handler for the
// given method+path combination. It is intended to be used inside a catch-all
// HTTP route like /triggers/{path}.
//
// The /triggers prefix is stripped from the URL path before the lookup so
// that a DSL trigger configured with path "/v1/rest" is reachable at
// /triggers/v1/rest without needing to duplicate the prefix in the DSL.
func (r *restRegistryImpl) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	router := r.router.Load()
	if router == nil {
		http.Error(w, fmt.Sprintf("no REST trigger registered for %s %s", req.Method, req.URL.Path), http.StatusNotFound)
		return
	}

	lookupPath := strings.TrimPrefix(req.URL.Path, "/triggers")
	if lookupPath == "" {
		lookupPath = "/"
	}
	if lookupPath != req.URL.Path {
		clone := req.Clone(req.Context())
		clone.URL.Path = lookupPath
		req = clone
	}
	router.ServeHTTP(w, req)
}

// GetRegistryHandler returns the shared REST registry as an http.Handler.
// Call this once and mount it on the mux under /triggers/.
func GetRegistryHandler() http.Handler {
	return globalRESTRegistry
}

func registryKey(path, method string) string {
	return method + " " + path
}

// TimeoutMiddleware bounds how long a registered trigger handler may run
// before the caller gets a response, so a slow or hung flow execution (an
// activity blocked on an unreachable SFTP/SMB/AMQP peer, for instance) can't
// hold an inbound HTTP connection open indefinitely. cmd/server wraps both
// the REST and SOAP registry mounts with it.
func TimeoutMiddleware(timeout time.Duration, next http.Handler) http.Handler {
	return http.TimeoutHandler(next, timeout, `{"error":"request timeout"}`)
}

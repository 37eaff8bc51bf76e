// Package triggers manages the lifecycle of active flow triggers.
// soap.go implements the SOAP/HTTP trigger for the flow engine.
package triggers

import (
	"context"
	"encoding/xml"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/flowforge/engine/internal/dsl"
)

// soapVersion distinguishes SOAP 1.1 from SOAP 1.2, since the two disagree
// on both how the operation name is carried and which envelope namespace a
// response must echo back.
type soapVersion int

const (
	soap11 soapVersion = iota
	soap12
)

// soapTrigger registers a dynamic HTTP route on the engine's shared mux so
// that external SOAP callers can invoke a flow via XML/HTTP (SOAP 1.1 and
// 1.2). Like the REST trigger it delegates to globalSOAPRegistry instead of
// owning its own http.Server; cmd/server mounts the registry at /soap/.
type soapTrigger struct {
	executor  Executor
	processID string
	path      string
	wsdl      string
}

func newSOAPTrigger(executor Executor) *soapTrigger {
	return &soapTrigger{executor: executor}
}

// Start validates the SOAP config and registers the HTTP handler in the shared
// SOAP registry.
func (t *soapTrigger) Start(_ context.Context, proc *dsl.Process) error {
	path, wsdl, err := soapTriggerConfig(proc.Trigger.Config)
	if err != nil {
		return fmt.Errorf("soap_trigger: %w", err)
	}

	t.processID = proc.Definition.ID
	t.path = path
	t.wsdl = wsdl

	procCopy := *proc
	globalSOAPRegistry.register(path, t.buildHandler(&procCopy))
	logger.Info("soap trigger registered", zap.String("path", path), zap.String("process_id", proc.Definition.ID))
	return nil
}

// buildHandler returns the http.HandlerFunc for this SOAP endpoint. Inbound
// requests are classified as SOAP 1.1 or 1.2 from their Content-Type, and
// both the operation-name resolution and the response envelope follow
// whichever version the caller used.
func (t *soapTrigger) buildHandler(proc *dsl.Process) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, wsdlReq := r.URL.Query()["wsdl"]; wsdlReq {
			t.serveWSDL(w)
			return
		}

		version := soapVersionFromRequest(r)

		if r.Method != http.MethodPost {
			writeSoapFault(w, version, http.StatusMethodNotAllowed, "Client",
				fmt.Sprintf("method %s not allowed; SOAP endpoints only accept POST", r.Method))
			return
		}

		limitBody(w, r)

		// encoding/xml matches on local name only when no namespace URI is
		// specified in the struct tag, so soapRequestEnvelope decodes both
		// SOAP 1.1 and 1.2 bodies the same way.
		var env soapRequestEnvelope
		if err := xml.NewDecoder(r.Body).Decode(&env); err != nil {
			writeSoapFault(w, version, http.StatusBadRequest, "Client", "invalid SOAP envelope: "+err.Error())
			return
		}

		triggerData := map[string]interface{}{
			"method":       soapActionFromRequest(r),
			"headers":      firstHeaders(r.Header),
			"body":         string(env.Body.Content),
			"soap_version": soapVersionLabel(version),
		}

		execCtx, execErr := t.executor.Execute(proc, triggerData)
		if execErr != nil {
			logger.Error("soap trigger execution failed", zap.String("process_id", t.processID), zap.Error(execErr))
			writeSoapFault(w, version, http.StatusInternalServerError, "Server", execErr.Error())
			return
		}

		writeSoapSuccess(w, version, execCtx.ExecutionID)
	}
}

func (t *soapTrigger) serveWSDL(w http.ResponseWriter) {
	if t.wsdl == "" {
		http.Error(w, "no WSDL configured for this endpoint", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	_, _ = w.Write([]byte(t.wsdl))
}

// Stop deregisters the route from the shared SOAP registry.
func (t *soapTrigger) Stop() error {
	if t.path != "" {
		globalSOAPRegistry.deregister(t.path)
		logger.Info("soap trigger deregistered", zap.String("path", t.path), zap.String("process_id", t.processID))
	}
	return nil
}

// Type implements TriggerHandler.
func (t *soapTrigger) Type() string { return "soap" }

// soapVersionFromRequest classifies an inbound request as SOAP 1.1 or 1.2.
// SOAP 1.2 uses the application/soap+xml media type; SOAP 1.1 uses text/xml
// and carries its operation name in a separate SOAPAction header instead of
// a Content-Type parameter.
func soapVersionFromRequest(r *http.Request) soapVersion {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err == nil && mediaType == "application/soap+xml" {
		return soap12
	}
	return soap11
}

func soapVersionLabel(v soapVersion) string {
	if v == soap12 {
		return "1.2"
	}
	return "1.1"
}

// soapActionFromRequest resolves the SOAP operation name for an inbound
// request. SOAP 1.1 callers send it in the SOAPAction header; SOAP 1.2
// callers instead carry it as the action parameter on the Content-Type
// header (e.g. `application/soap+xml; action="urn:doWork"`). Falls back to
// the HTTP method string when neither is present.
func soapActionFromRequest(r *http.Request) string {
	if action := strings.Trim(r.Header.Get("SOAPAction"), `"`); action != "" {
		return action
	}
	if _, params, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err == nil {
		if action := params["action"]; action != "" {
			return action
		}
	}
	return r.Method
}

// soapTriggerConfig extracts and validates SOAP trigger config fields.
// path is required; wsdl is optional (static WSDL document served at ?wsdl).
func soapTriggerConfig(config map[string]interface{}) (path, wsdl string, err error) {
	if config == nil {
		return "", "", fmt.Errorf("trigger config is nil; expected {\"path\":\"...\"}")
	}
	path, _ = config["path"].(string)
	if path == "" {
		return "", "", fmt.Errorf("trigger config missing required field \"path\"")
	}
	wsdl, _ = config["wsdl"].(string) // optional
	return path, wsdl, nil
}

// ---------------------------------------------------------------------------
// Global SOAP route registry
// ---------------------------------------------------------------------------

// soapRegistryImpl dispatches SOAP requests by URL path, rebuilding a
// gorilla/mux router on every register/deregister the same way the REST
// registry does, so both trigger kinds share one dispatch strategy instead
// of each hand-rolling its own map+mutex lookup.
type soapRegistryImpl struct {
	mu     sync.Mutex
	routes map[string]http.HandlerFunc
	router atomic.Pointer[mux.Router]
}

func newSOAPRegistry() *soapRegistryImpl {
	return &soapRegistryImpl{routes: make(map[string]http.HandlerFunc)}
}

var globalSOAPRegistry = newSOAPRegistry()

func (r *soapRegistryImpl) register(path string, h http.HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[path] = h
	r.rebuild()
}

func (r *soapRegistryImpl) deregister(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.routes, path)
	r.rebuild()
}

func (r *soapRegistryImpl) rebuild() {
	router := mux.NewRouter()
	for path, h := range r.routes {
		router.HandleFunc(path, h)
	}
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		http.Error(w, fmt.Sprintf("no SOAP trigger registered for path %s", req.URL.Path), http.StatusNotFound)
	})
	r.router.Store(router)
}

// ServeHTTP dispatches the incoming request to the handler registered for
// the request's URL path.
//
// The /soap mount-point prefix is stripped before lookup, the same way the
// REST registry strips /triggers, so a DSL trigger configured with path
// "/invoices" is reachable at /soap/invoices without duplicating the mount
// point inside the DSL.
func (r *soapRegistryImpl) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	router := r.router.Load()
	if router == nil {
		http.Error(w, fmt.Sprintf("no SOAP trigger registered for path %s", req.URL.Path), http.StatusNotFound)
		return
	}

	lookupPath := strings.TrimPrefix(req.URL.Path, "/soap")
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

// GetSOAPRegistryHandler returns the shared SOAP registry as an http.Handler.
// Mount it on the engine mux under /soap/ during server startup.
func GetSOAPRegistryHandler() http.Handler {
	return globalSOAPRegistry
}

// ---------------------------------------------------------------------------
// SOAP XML parsing
// ---------------------------------------------------------------------------

// soapRequestEnvelope is a minimal SOAP 1.1/1.2 request envelope.
// encoding/xml matches on local name only when no namespace URI is specified
// in the struct tag, so this struct is compatible with both SOAP versions.
type soapRequestEnvelope struct {
	XMLName xml.Name        `xml:"Envelope"`
	Body    soapRequestBody `xml:"Body"`
}

// soapRequestBody captures the raw inner XML of the SOAP Body element.
type soapRequestBody struct {
	XMLName xml.Name `xml:"Body"`
	Content []byte   `xml:",innerxml"`
}

// ---------------------------------------------------------------------------
// SOAP response helpers
// ---------------------------------------------------------------------------

const soap11Namespace = "http://schemas.xmlsoap.org/soap/envelope/"
const soap12Namespace = "http://www.w3.org/2003/05/soap-envelope"

const soapFaultEnvelope = `<?xml version="1.0" encoding="utf-8"?>` +
	`<soap:Envelope xmlns:soap="%s">` +
	`<soap:Body>` +
	`<soap:Fault>` +
	`<faultcode>soap:%s</faultcode>` +
	`<faultstring>%s</faultstring>` +
	`</soap:Fault>` +
	`</soap:Body>` +
	`</soap:Envelope>`

const soapSuccessEnvelope = `<?xml version="1.0" encoding="utf-8"?>` +
	`<soap:Envelope xmlns:soap="%s">` +
	`<soap:Body>` +
	`<flowResponse>` +
	`<executionId>%s</executionId>` +
	`<status>success</status>` +
	`</flowResponse>` +
	`</soap:Body>` +
	`</soap:Envelope>`

func soapNamespace(v soapVersion) string {
	if v == soap12 {
		return soap12Namespace
	}
	return soap11Namespace
}

// writeSoapFault writes a SOAP Fault envelope in the caller's own SOAP
// version (1.1 or 1.2 namespace) with the given HTTP status. faultString is
// XML-escaped before insertion to prevent malformed responses. xml.EscapeText
// writes to a strings.Builder whose Write method never returns an error, so
// the return value is intentionally discarded.
func writeSoapFault(w http.ResponseWriter, version soapVersion, statusCode int, faultCode, faultString string) {
	var escaped strings.Builder
	_ = xml.EscapeText(&escaped, []byte(faultString))
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(statusCode)
	_, _ = fmt.Fprintf(w, soapFaultEnvelope, soapNamespace(version), faultCode, escaped.String())
}

// writeSoapSuccess writes a success envelope in the caller's own SOAP
// version containing the execution ID. See the note on writeSoapFault
// regarding xml.EscapeText error discarding.
func writeSoapSuccess(w http.ResponseWriter, version soapVersion, executionID string) {
	var escaped strings.Builder
	_ = xml.EscapeText(&escaped, []byte(executionID))
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	_, _ = fmt.Fprintf(w, soapSuccessEnvelope, soapNamespace(version), escaped.String())
}

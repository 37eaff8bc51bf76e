// Package httpapi is the thin management HTTP surface spec.md §1 treats as
// an external collaborator, specified only by contract: running/testing a
// flow ad hoc, and CRUD over stored processes and secrets. It exists only so
// cmd/server has something to expose at these paths; the Designer UI is the
// intended caller and owns the real product surface.
package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/flowforge/engine/internal/dsl"
	"github.com/flowforge/engine/internal/execctx"
	"github.com/flowforge/engine/internal/executor"
	"github.com/flowforge/engine/internal/secrets"
	"github.com/flowforge/engine/internal/store"
	"github.com/flowforge/engine/internal/triggers"
)

// Server wires the executor, process store, secret store, and trigger
// manager behind a gorilla/mux router.
type Server struct {
	exec    *executor.Executor
	procs   *store.ProcessStore
	secrets *secrets.SecretStore
	manager *triggers.Manager
	logger  *zap.Logger
	router  *mux.Router
}

// New builds the management router. secretStore may be nil when the engine
// was started without an encryption key; secret CRUD routes then respond
// 503 instead of panicking.
func New(exec *executor.Executor, procs *store.ProcessStore, secretStore *secrets.SecretStore, manager *triggers.Manager, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{exec: exec, procs: procs, secrets: secretStore, manager: manager, logger: logger}
	s.router = s.buildRouter()
	return s
}

// Router returns the http.Handler to mount at the root of the main mux.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) buildRouter() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/v1/flow", s.handleRunFlow).Methods(http.MethodPost)
	r.HandleFunc("/v1/test", s.handleTestNode).Methods(http.MethodPost)
	r.HandleFunc("/v1/replay", s.handleReplay).Methods(http.MethodPost)

	r.HandleFunc("/api/v1/processes", s.handleListProcesses).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/processes", s.handleUpsertProcess).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/processes/{id}", s.handleGetProcess).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/processes/{id}", s.handleDeleteProcess).Methods(http.MethodDelete)
	r.HandleFunc("/api/v1/processes/{id}/deploy", s.handleDeployProcess).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/processes/{id}/stop", s.handleStopProcess).Methods(http.MethodPost)

	r.HandleFunc("/api/v1/secrets", s.handleListSecrets).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/secrets", s.handleUpsertSecret).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/secrets/{id}", s.handleDeleteSecret).Methods(http.MethodDelete)

	r.HandleFunc("/api/v1/triggers", s.handleListTriggers).Methods(http.MethodGet)

	return r
}

// ---------------------------------------------------------------------------
// Ad hoc execution
// ---------------------------------------------------------------------------

func (s *Server) handleRunFlow(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DSL         json.RawMessage        `json:"dsl"`
		TriggerData map[string]interface{} `json:"trigger_data"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.TriggerData == nil {
		req.TriggerData = map[string]interface{}{}
	}
	process, err := dsl.ParseAndValidate(func(v interface{}) error { return json.Unmarshal(req.DSL, v) })
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, err := s.exec.Execute(process, req.TriggerData)
	writeExecution(w, ctx, err)
}

func (s *Server) handleTestNode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		NodeType     string                 `json:"node_type"`
		InputMapping map[string]interface{} `json:"input_mapping"`
		Script       string                 `json:"script"`
		Config       map[string]interface{} `json:"config"`
		TriggerData  map[string]interface{} `json:"trigger_data"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.NodeType == "" {
		jsonError(w, http.StatusBadRequest, "node_type is required")
		return
	}

	process := &dsl.Process{
		Definition: dsl.Definition{ID: "live-test", Version: "1.0.0", Name: "live-test"},
		Trigger:    dsl.Trigger{ID: "trg_test", Type: "manual"},
		Nodes: []dsl.Node{{
			ID:           "test_node",
			Type:         req.NodeType,
			InputMapping: req.InputMapping,
			Script:       req.Script,
			Config:       req.Config,
		}},
	}

	ctx, err := s.exec.Execute(process, req.TriggerData)
	if err != nil {
		jsonError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	output := map[string]interface{}{}
	if node, ok := ctx.Nodes["test_node"]; ok {
		output = node.Output
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"output": output})
}

func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DSL           dsl.Process            `json:"dsl"`
		StartNodeID   string                 `json:"start_node_id"`
		NodeOutput    map[string]interface{} `json:"node_output"`
		ExecutionHint string                 `json:"execution_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.StartNodeID == "" {
		jsonError(w, http.StatusBadRequest, "start_node_id is required")
		return
	}
	ctx, err := s.exec.ExecuteFromNode(&req.DSL, req.StartNodeID, req.NodeOutput, req.ExecutionHint)
	writeExecution(w, ctx, err)
}

func writeExecution(w http.ResponseWriter, ctx *execctx.Context, err error) {
	type response struct {
		ExecutionID string                         `json:"execution_id"`
		Nodes       map[string]*execctx.NodeResult `json:"nodes"`
		Error       string                         `json:"error,omitempty"`
	}
	resp := response{Nodes: map[string]*execctx.NodeResult{}}
	if ctx != nil {
		resp.ExecutionID = ctx.ExecutionID
		resp.Nodes = ctx.Nodes
	}
	if err != nil {
		resp.Error = err.Error()
		writeJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ---------------------------------------------------------------------------
// Process CRUD + lifecycle
// ---------------------------------------------------------------------------

func (s *Server) handleListProcesses(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.procs.List(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleGetProcess(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, err := s.procs.Get(r.Context(), id)
	if err != nil {
		jsonError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleUpsertProcess(w http.ResponseWriter, r *http.Request) {
	var proc dsl.Process
	if !decodeJSON(w, r, &proc) {
		return
	}
	if err := proc.Validate(); err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := s.procs.Upsert(r.Context(), &proc)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteProcess(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if s.manager.IsRunning(id) {
		jsonError(w, http.StatusConflict, fmt.Sprintf("process %q is deployed; stop it before deleting", id))
		return
	}
	if err := s.procs.Delete(r.Context(), id); err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeployProcess(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, err := s.procs.Get(r.Context(), id)
	if err != nil {
		jsonError(w, http.StatusNotFound, err.Error())
		return
	}
	proc, err := rec.ParseDSL()
	if err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.manager.Deploy(proc); err != nil {
		s.exec.SendLifecycleAuditLog(id, proc.Trigger.Type, "deploy", err.Error())
		jsonError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err := s.procs.UpdateStatus(r.Context(), id, "deployed"); err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.exec.SendLifecycleAuditLog(id, proc.Trigger.Type, "deploy", "")
	writeJSON(w, http.StatusOK, map[string]string{"status": "deployed"})
}

func (s *Server) handleStopProcess(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	triggerType := s.manager.TriggerType(id)
	if err := s.manager.Stop(id); err != nil {
		jsonError(w, http.StatusConflict, err.Error())
		return
	}
	if err := s.procs.UpdateStatus(r.Context(), id, "stopped"); err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.exec.SendLifecycleAuditLog(id, triggerType, "stop", "")
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

// handleListTriggers returns a snapshot of every currently-deployed trigger,
// for the Designer UI's trigger inspector.
func (s *Server) handleListTriggers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.Status())
}

// ---------------------------------------------------------------------------
// Secret CRUD — metadata only; decrypted values never leave the resolver.
// ---------------------------------------------------------------------------

func (s *Server) handleListSecrets(w http.ResponseWriter, r *http.Request) {
	if s.secrets == nil {
		jsonError(w, http.StatusServiceUnavailable, "secret store not configured")
		return
	}
	metas, err := s.secrets.List(r.Context())
	if err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, metas)
}

func (s *Server) handleUpsertSecret(w http.ResponseWriter, r *http.Request) {
	if s.secrets == nil {
		jsonError(w, http.StatusServiceUnavailable, "secret store not configured")
		return
	}
	var input secrets.SecretInput
	if !decodeJSON(w, r, &input) {
		return
	}
	if err := s.secrets.Upsert(r.Context(), input); err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": input.ID})
}

func (s *Server) handleDeleteSecret(w http.ResponseWriter, r *http.Request) {
	if s.secrets == nil {
		jsonError(w, http.StatusServiceUnavailable, "secret store not configured")
		return
	}
	id := mux.Vars(r)["id"]
	if err := s.secrets.Delete(r.Context(), id); err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// JSON helpers
// ---------------------------------------------------------------------------

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		jsonError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

package triggers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/flowforge/engine/internal/dsl"
)

// mcpTrigger exposes an HTTP endpoint that accepts Model Context Protocol
// JSON-RPC 2.0 requests and translates them into flow executions.
//
// MCP (Model Context Protocol) is an open standard for exposing tools to LLM
// clients. initialize, ping and tools/list are answered directly (tools/list
// from the configured capabilities document; see localMCPMethods); every
// other method invokes the flow and returns its node outputs
// as the JSON-RPC result. The trigger listens on addr (default :9091) at
// /mcp/{processId}.
type mcpTrigger struct {
	executor  Executor
	server    *http.Server
	processID string
}

func newMCPTrigger(executor Executor) *mcpTrigger {
	return &mcpTrigger{executor: executor}
}

// Start registers the MCP JSON-RPC handler on an internal HTTP server.
func (t *mcpTrigger) Start(ctx context.Context, proc *dsl.Process) error {
	addr, err := mcpAddr(proc.Trigger.Config)
	if err != nil {
		return fmt.Errorf("mcp_trigger: %w", err)
	}

	t.processID = proc.Definition.ID
	procCopy := *proc

	mux := http.NewServeMux()
	mux.HandleFunc("/mcp/"+proc.Definition.ID, t.buildHandler(&procCopy))
	// Health / capabilities endpoint required by MCP clients.
	mux.HandleFunc("/mcp/"+proc.Definition.ID+"/capabilities", t.capabilitiesHandler(&procCopy))

	t.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		if err := t.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("mcp trigger server error", zap.String("process_id", t.processID), zap.Error(err))
		}
	}()

	logger.Info("mcp trigger listening", zap.String("addr", addr), zap.String("process_id", proc.Definition.ID))
	return nil
}

// mcpMethodHandler answers one JSON-RPC method directly, without invoking
// the flow. It returns the JSON-RPC result value, or an error to report as
// a JSON-RPC error response.
type mcpMethodHandler func(proc *dsl.Process, req mcpRequest) (interface{}, error)

// localMCPMethods are the standard MCP lifecycle/discovery calls every
// server answers the same way regardless of which flow is deployed behind
// it: capability discovery and liveness checks must stay cheap and
// side-effect-free, so none of them reach the executor.
var localMCPMethods = map[string]mcpMethodHandler{
	"tools/list": func(proc *dsl.Process, _ mcpRequest) (interface{}, error) {
		return mcpToolsFromConfig(proc.Trigger.Config), nil
	},
	"initialize": func(proc *dsl.Process, _ mcpRequest) (interface{}, error) {
		return map[string]interface{}{
			"protocolVersion": "2024-11-05",
			"serverInfo":      map[string]interface{}{"name": proc.Definition.ID, "version": proc.Definition.Version},
			"capabilities":    map[string]interface{}{"tools": map[string]interface{}{}},
		}, nil
	},
	"ping": func(_ *dsl.Process, _ mcpRequest) (interface{}, error) {
		return map[string]interface{}{}, nil
	},
}

// buildHandler returns an http.HandlerFunc for the MCP JSON-RPC endpoint.
// Requests for a method in localMCPMethods are answered directly; every
// other method is forwarded to the flow as a tool invocation.
func (t *mcpTrigger) buildHandler(proc *dsl.Process) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		limitBody(w, r)

		var req mcpRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeMCPError(w, nil, -32700, "Parse error: "+err.Error())
			return
		}
		if req.JSONRPC != "2.0" {
			writeMCPError(w, req.ID, -32600, "Invalid Request: jsonrpc must be \"2.0\"")
			return
		}

		if handler, ok := localMCPMethods[req.Method]; ok {
			result, err := handler(proc, req)
			if err != nil {
				writeMCPError(w, req.ID, -32000, err.Error())
				return
			}
			writeMCPResult(w, req.ID, result)
			return
		}

		t.invokeTool(w, proc, req)
	}
}

// invokeTool forwards a non-lifecycle JSON-RPC method to the flow as a tool
// call, returning the flow's final node outputs as the JSON-RPC result.
func (t *mcpTrigger) invokeTool(w http.ResponseWriter, proc *dsl.Process, req mcpRequest) {
	triggerData := map[string]interface{}{
		"tool_request": map[string]interface{}{
			"method":    req.Method,
			"params":    req.Params,
			"arguments": req.Params, // alias for compatibility
		},
		"client_context": map[string]interface{}{
			"jsonrpc": req.JSONRPC,
			"id":      req.ID,
		},
	}

	execCtx, execErr := t.executor.Execute(proc, triggerData)
	if execErr != nil {
		logger.Error("mcp trigger execution failed", zap.String("process_id", t.processID), zap.Error(execErr))
		writeMCPError(w, req.ID, -32000, execErr.Error())
		return
	}

	writeMCPResult(w, req.ID, map[string]interface{}{"nodes": execCtx.Nodes})
}

// mcpToolsFromConfig extracts the "tools" array from the trigger's
// capabilities config for a tools/list response, defaulting to an empty
// list when none was configured.
func mcpToolsFromConfig(config map[string]interface{}) map[string]interface{} {
	if config != nil {
		if caps, ok := config["capabilities"].(map[string]interface{}); ok {
			if tools, ok := caps["tools"]; ok {
				return map[string]interface{}{"tools": tools}
			}
		}
	}
	return map[string]interface{}{"tools": []interface{}{}}
}

// capabilitiesHandler returns the MCP capabilities document for this flow.
func (t *mcpTrigger) capabilitiesHandler(proc *dsl.Process) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caps := map[string]interface{}{}
		if proc.Trigger.Config != nil {
			if c, ok := proc.Trigger.Config["capabilities"]; ok {
				caps, _ = c.(map[string]interface{})
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"version":      proc.Trigger.Config["version"],
			"capabilities": caps,
		})
	}
}

// Stop gracefully shuts down the MCP HTTP server.
func (t *mcpTrigger) Stop() error {
	if t.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := t.server.Shutdown(ctx)
		t.server = nil
		return err
	}
	return nil
}

func (t *mcpTrigger) Type() string { return "mcp" }

// mcpAddr returns the addr the MCP server should bind to, defaulting to :9091.
func mcpAddr(config map[string]interface{}) (string, error) {
	if config == nil {
		return ":9091", nil
	}
	if raw, ok := config["addr"]; ok {
		if addr, ok := raw.(string); ok && addr != "" {
			return addr, nil
		}
	}
	return ":9091", nil
}

// ---------------------------------------------------------------------------
// MCP JSON-RPC helpers
// ---------------------------------------------------------------------------

// mcpRequest is a minimal MCP / JSON-RPC 2.0 request envelope.
type mcpRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      interface{} `json:"id"`
}

func writeMCPResult(w http.ResponseWriter, id, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"result":  result,
	})
}

func writeMCPError(w http.ResponseWriter, id interface{}, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
	})
}

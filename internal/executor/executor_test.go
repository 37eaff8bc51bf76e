package executor

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/engine/internal/dsl"
)

// newTestExecutor returns an executor with audit logging disabled (no NATS required).
func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	return New("", nil, nil)
}

func TestSendLifecycleAuditLog_AuditDisabled(t *testing.T) {
	exec := newTestExecutor(t)
	exec.SendLifecycleAuditLog("my-flow", "rest", "deployed", "")
	exec.SendLifecycleAuditLog("my-flow", "cron", "stopped", "")
	exec.SendLifecycleAuditLog("my-flow", "rest", "deployed", "some error occurred")
}

func buildProcess(id string, nodes []dsl.Node) []byte {
	process := dsl.Process{
		Definition: dsl.Definition{ID: id, Version: "1.0.0", Name: id},
		Trigger:    dsl.Trigger{ID: "trg_01", Type: "rest"},
		Nodes:      nodes,
	}
	data, _ := json.Marshal(process)
	return data
}

// ---------------------------------------------------------------------------
// Trigger payload propagation
// ---------------------------------------------------------------------------

func TestExecute_TriggerDataStoredInContext(t *testing.T) {
	exec := newTestExecutor(t)

	triggerData := map[string]interface{}{
		"body": map[string]interface{}{"email": "user@example.com"},
	}

	process := buildProcess("p1", []dsl.Node{
		{
			ID:           "log_1",
			Type:         "log",
			InputMapping: map[string]interface{}{"message": "$.trigger.body.email"},
			Config:       map[string]interface{}{"level": "info"},
		},
	})

	ctx, err := exec.ExecuteFromJSON(process, triggerData)
	require.NoError(t, err)

	emailVal, err := ctx.GetValue("$.trigger.body.email")
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", emailVal)
}

func TestExecute_NodeOutputStoredInContext(t *testing.T) {
	exec := newTestExecutor(t)

	triggerData := map[string]interface{}{
		"body": map[string]interface{}{"name": "Alice"},
	}

	process := buildProcess("p2", []dsl.Node{
		{
			ID:           "log_name",
			Type:         "log",
			InputMapping: map[string]interface{}{"message": "$.trigger.body.name"},
			Config:       map[string]interface{}{"level": "info"},
		},
	})

	ctx, err := exec.ExecuteFromJSON(process, triggerData)
	require.NoError(t, err)

	outputVal, err := ctx.GetValue("$.nodes.log_name.output")
	require.NoError(t, err)
	outputMap, ok := outputVal.(map[string]interface{})
	require.True(t, ok, "output should be a map")
	assert.Equal(t, true, outputMap["logged"])
}

func TestExecute_NodeStatusStoredInContext(t *testing.T) {
	exec := newTestExecutor(t)

	process := buildProcess("p3", []dsl.Node{
		{ID: "log_1", Type: "log", Config: map[string]interface{}{"level": "info"}},
	})

	ctx, err := exec.ExecuteFromJSON(process, map[string]interface{}{})
	require.NoError(t, err)

	statusVal, err := ctx.GetValue("$.nodes.log_1.status")
	require.NoError(t, err)
	assert.Equal(t, "success", statusVal)
}

// ---------------------------------------------------------------------------
// Multi-node payload propagation (chaining)
// ---------------------------------------------------------------------------

func TestExecute_NodeOutputPropagatedToNextNode(t *testing.T) {
	exec := newTestExecutor(t)

	triggerData := map[string]interface{}{
		"body": map[string]interface{}{"greeting": "hello-world"},
	}

	process := buildProcess("p4", []dsl.Node{
		{
			ID:           "node_first",
			Type:         "log",
			InputMapping: map[string]interface{}{"message": "$.trigger.body.greeting"},
			Config:       map[string]interface{}{"level": "info"},
		},
		{
			ID:           "node_second",
			Type:         "log",
			InputMapping: map[string]interface{}{"message": "$.nodes.node_first.output"},
			Config:       map[string]interface{}{"level": "info"},
		},
	})

	ctx, err := exec.ExecuteFromJSON(process, triggerData)
	require.NoError(t, err)

	status1, err := ctx.GetValue("$.nodes.node_first.status")
	require.NoError(t, err)
	assert.Equal(t, "success", status1)

	status2, err := ctx.GetValue("$.nodes.node_second.status")
	require.NoError(t, err)
	assert.Equal(t, "success", status2)

	output2, err := ctx.GetValue("$.nodes.node_second.output")
	require.NoError(t, err)
	output2Map, ok := output2.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, output2Map["logged"])
}

func TestExecute_ScriptNodeTransformsPropagated(t *testing.T) {
	exec := newTestExecutor(t)

	triggerData := map[string]interface{}{
		"body": map[string]interface{}{"name": "Bob", "age": float64(25)},
	}

	process := buildProcess("p5", []dsl.Node{
		{
			ID:   "transform",
			Type: "script",
			InputMapping: map[string]interface{}{
				"name": "$.trigger.body.name",
				"age":  "$.trigger.body.age",
			},
			Script: `(function() { return { greeting: "Hello, " + input.name + "!", isAdult: input.age >= 18 }; })()`,
		},
		{
			ID:           "log_result",
			Type:         "log",
			InputMapping: map[string]interface{}{"message": "$.nodes.transform.output"},
			Config:       map[string]interface{}{"level": "info"},
		},
	})

	ctx, err := exec.ExecuteFromJSON(process, triggerData)
	require.NoError(t, err)

	scriptOutput, err := ctx.GetValue("$.nodes.transform.output")
	require.NoError(t, err)
	scriptOutputMap, ok := scriptOutput.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Hello, Bob!", scriptOutputMap["greeting"])
	assert.Equal(t, true, scriptOutputMap["isAdult"])

	logStatus, err := ctx.GetValue("$.nodes.log_result.status")
	require.NoError(t, err)
	assert.Equal(t, "success", logStatus)
}

// ---------------------------------------------------------------------------
// Error / edge cases
// ---------------------------------------------------------------------------

func TestExecute_MalformedJSON(t *testing.T) {
	exec := newTestExecutor(t)
	_, err := exec.ExecuteFromJSON([]byte(`{ this is not valid json`), map[string]interface{}{})
	assert.Error(t, err)
}

func TestExecute_MalformedDSLRejected(t *testing.T) {
	exec := newTestExecutor(t)
	process := dsl.Process{
		Definition: dsl.Definition{ID: "p-bad"},
		Trigger:    dsl.Trigger{ID: "trg", Type: "manual"},
		Nodes:      []dsl.Node{{ID: "n1", Type: "log"}},
		Transitions: []dsl.Transition{
			{From: "n1", To: "n1", Type: "not-a-real-type"},
		},
	}
	data, _ := json.Marshal(process)
	_, err := exec.ExecuteFromJSON(data, map[string]interface{}{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid process")
}

func TestExecute_UnknownActivityType(t *testing.T) {
	exec := newTestExecutor(t)

	process := buildProcess("p6", []dsl.Node{
		{ID: "bad_node", Type: "nonexistent_activity"},
	})

	ctx, err := exec.ExecuteFromJSON(process, map[string]interface{}{})
	assert.Error(t, err)
	assert.ErrorContains(t, err, "nonexistent_activity")
	require.NotNil(t, ctx)
	assert.Equal(t, "error", ctx.Nodes["bad_node"].Status)
}

func TestExecute_InputMappingReferencesNonExistentNode(t *testing.T) {
	exec := newTestExecutor(t)

	process := buildProcess("p7", []dsl.Node{
		{
			ID:           "node_a",
			Type:         "log",
			InputMapping: map[string]interface{}{"message": "$.nodes.ghost_node.output"},
		},
	})

	_, err := exec.ExecuteFromJSON(process, map[string]interface{}{})
	assert.Error(t, err)
}

func TestExecute_EmptyNodeList(t *testing.T) {
	exec := newTestExecutor(t)

	process := buildProcess("p8", []dsl.Node{})

	ctx, err := exec.ExecuteFromJSON(process, map[string]interface{}{"event": "ping"})
	require.NoError(t, err)
	require.NotNil(t, ctx)
}

// TestExecute_HTTPActivityRegistered verifies that the "http" activity type
// is registered and that an unreachable URL does NOT abort the flow — the
// error is captured in the node output under "error" instead of being
// propagated as a fatal execution error.
func TestExecute_HTTPActivityRegistered(t *testing.T) {
	exec := newTestExecutor(t)

	process := buildProcess("p9", []dsl.Node{
		{
			ID:   "http_node",
			Type: "http",
			Config: map[string]interface{}{
				"url":    "http://localhost:19999",
				"method": "GET",
			},
		},
	})

	ctx, err := exec.ExecuteFromJSON(process, map[string]interface{}{})
	require.NoError(t, err)
	require.NotNil(t, ctx)

	statusVal, getErr := ctx.GetValue("$.nodes.http_node.status")
	require.NoError(t, getErr)
	assert.Equal(t, "success", statusVal)

	outputVal, getErr := ctx.GetValue("$.nodes.http_node.output")
	require.NoError(t, getErr)
	outputMap, ok := outputVal.(map[string]interface{})
	require.True(t, ok, "output should be a map")
	assert.NotEmpty(t, outputMap["error"], "unreachable URL error should be captured in output.error")
}

func TestExecute_HTTPMissingURL(t *testing.T) {
	exec := newTestExecutor(t)

	process := buildProcess("p10", []dsl.Node{
		{ID: "http_node", Type: "http", Config: map[string]interface{}{}},
	})

	_, err := exec.ExecuteFromJSON(process, map[string]interface{}{})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "unknown activity type")
}

// TestTransition_TriggerToNode is a regression test for a trigger→node
// transition incorrectly blocking the target node from being treated as a
// start node.
func TestTransition_TriggerToNode(t *testing.T) {
	exec := newTestExecutor(t)
	process := dsl.Process{
		Definition: dsl.Definition{ID: "trigger-trans", Version: "1.0.0", Name: "trigger-trans"},
		Trigger:    dsl.Trigger{ID: "trg_01", Type: "rest"},
		Nodes: []dsl.Node{
			{ID: "log_1", Type: "log", Config: map[string]interface{}{"level": "info"}},
		},
		Transitions: []dsl.Transition{
			{From: "trg_01", To: "log_1", Type: "success"},
		},
	}
	data, _ := json.Marshal(process)
	ctx, err := exec.ExecuteFromJSON(data, map[string]interface{}{})
	require.NoError(t, err)
	s1, valErr := ctx.GetValue("$.nodes.log_1.status")
	require.NoError(t, valErr, "log_1 should have been executed")
	assert.Equal(t, "success", s1)
}

func TestTransition_SuccessPath(t *testing.T) {
	exec := newTestExecutor(t)
	process := dsl.Process{
		Definition: dsl.Definition{ID: "trans-p1", Version: "1.0.0", Name: "trans-p1"},
		Trigger:    dsl.Trigger{ID: "trg", Type: "manual"},
		Nodes: []dsl.Node{
			{ID: "n1", Type: "log", Config: map[string]interface{}{"level": "info"}},
			{ID: "n2", Type: "log", Config: map[string]interface{}{"level": "info"}},
		},
		Transitions: []dsl.Transition{{From: "n1", To: "n2", Type: "success"}},
	}
	data, _ := json.Marshal(process)
	ctx, err := exec.ExecuteFromJSON(data, map[string]interface{}{})
	require.NoError(t, err)
	s1, _ := ctx.GetValue("$.nodes.n1.status")
	s2, _ := ctx.GetValue("$.nodes.n2.status")
	assert.Equal(t, "success", s1)
	assert.Equal(t, "success", s2)
}

func TestTransition_ErrorPath(t *testing.T) {
	exec := newTestExecutor(t)
	process := dsl.Process{
		Definition: dsl.Definition{ID: "trans-p2", Version: "1.0.0", Name: "trans-p2"},
		Trigger:    dsl.Trigger{ID: "trg", Type: "manual"},
		Nodes: []dsl.Node{
			{ID: "bad", Type: "nonexistent_activity"},
			{ID: "on_error", Type: "log", Config: map[string]interface{}{"level": "error"}},
		},
		Transitions: []dsl.Transition{{From: "bad", To: "on_error", Type: "error"}},
	}
	data, _ := json.Marshal(process)
	ctx, err := exec.ExecuteFromJSON(data, map[string]interface{}{})
	require.NoError(t, err)
	s1, _ := ctx.GetValue("$.nodes.bad.status")
	assert.Equal(t, "error", s1)
	s2, _ := ctx.GetValue("$.nodes.on_error.status")
	assert.Equal(t, "success", s2)
}

func TestTransition_ConditionTrue(t *testing.T) {
	exec := newTestExecutor(t)
	process := dsl.Process{
		Definition: dsl.Definition{ID: "trans-p3", Version: "1.0.0", Name: "trans-p3"},
		Trigger:    dsl.Trigger{ID: "trg", Type: "manual"},
		Nodes: []dsl.Node{
			{ID: "script_node", Type: "script", Script: "(function(){ return { value: 42 }; })()"},
			{ID: "on_true", Type: "log", Config: map[string]interface{}{"level": "info"}},
			{ID: "on_false", Type: "log", Config: map[string]interface{}{"level": "info"}},
		},
		Transitions: []dsl.Transition{
			{From: "script_node", To: "on_true", Type: "condition", Condition: "$.nodes.script_node.output.value === 42"},
			{From: "script_node", To: "on_false", Type: "nocondition"},
		},
	}
	data, _ := json.Marshal(process)
	ctx, err := exec.ExecuteFromJSON(data, map[string]interface{}{})
	require.NoError(t, err)
	s1, _ := ctx.GetValue("$.nodes.on_true.status")
	assert.Equal(t, "success", s1)
	_, errFalse := ctx.GetValue("$.nodes.on_false.status")
	assert.Error(t, errFalse, "on_false node should not have been executed")
}

func TestTransition_NoConditionFallback(t *testing.T) {
	exec := newTestExecutor(t)
	process := dsl.Process{
		Definition: dsl.Definition{ID: "trans-p4", Version: "1.0.0", Name: "trans-p4"},
		Trigger:    dsl.Trigger{ID: "trg", Type: "manual"},
		Nodes: []dsl.Node{
			{ID: "script_node", Type: "script", Script: "(function(){ return { value: 99 }; })()"},
			{ID: "on_true", Type: "log", Config: map[string]interface{}{"level": "info"}},
			{ID: "on_false", Type: "log", Config: map[string]interface{}{"level": "info"}},
		},
		Transitions: []dsl.Transition{
			{From: "script_node", To: "on_true", Type: "condition", Condition: "$.nodes.script_node.output.value === 42"},
			{From: "script_node", To: "on_false", Type: "nocondition"},
		},
	}
	data, _ := json.Marshal(process)
	ctx, err := exec.ExecuteFromJSON(data, map[string]interface{}{})
	require.NoError(t, err)
	_, errTrue := ctx.GetValue("$.nodes.on_true.status")
	assert.Error(t, errTrue, "on_true node should not have been executed")
	s2, _ := ctx.GetValue("$.nodes.on_false.status")
	assert.Equal(t, "success", s2)
}

func TestTransition_CycleDetected(t *testing.T) {
	exec := newTestExecutor(t)
	process := dsl.Process{
		Definition: dsl.Definition{ID: "trans-p5", Version: "1.0.0", Name: "trans-p5"},
		Trigger:    dsl.Trigger{ID: "trg", Type: "manual"},
		Nodes: []dsl.Node{
			{ID: "n1", Type: "log", Config: map[string]interface{}{"level": "info"}},
			{ID: "n2", Type: "log", Config: map[string]interface{}{"level": "info"}},
		},
		Transitions: []dsl.Transition{
			{From: "n1", To: "n2", Type: "success"},
			{From: "n2", To: "n1", Type: "success"},
		},
	}
	data, _ := json.Marshal(process)
	_, err := exec.ExecuteFromJSON(data, map[string]interface{}{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle detected")
}

// ---------------------------------------------------------------------------
// ExecuteFromNode (partial replay)
// ---------------------------------------------------------------------------

func TestExecuteFromNode_SkipsStartNodeAndRunsDownstream(t *testing.T) {
	exec := newTestExecutor(t)
	process := dsl.Process{
		Definition: dsl.Definition{ID: "replay-p1", Version: "1.0.0", Name: "replay-p1"},
		Trigger:    dsl.Trigger{ID: "trg", Type: "manual"},
		Nodes: []dsl.Node{
			{ID: "start_node", Type: "log", Config: map[string]interface{}{"level": "info"}},
			{ID: "next_node", Type: "log", Config: map[string]interface{}{"level": "info"}},
		},
		Transitions: []dsl.Transition{{From: "start_node", To: "next_node", Type: "success"}},
	}
	injected := map[string]interface{}{"key": "injected_value"}
	ctx, err := exec.ExecuteFromNode(&process, "start_node", injected, "")
	require.NoError(t, err)
	require.NotNil(t, ctx)

	startStatus, _ := ctx.GetValue("$.nodes.start_node.status")
	assert.Equal(t, "replayed", startStatus)

	startOut, _ := ctx.GetValue("$.nodes.start_node.output")
	outMap, ok := startOut.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "injected_value", outMap["key"])

	nextStatus, _ := ctx.GetValue("$.nodes.next_node.status")
	assert.Equal(t, "success", nextStatus)
}

func TestExecuteFromNode_WithExecutionIDHint(t *testing.T) {
	exec := newTestExecutor(t)
	process := dsl.Process{
		Definition: dsl.Definition{ID: "replay-p2", Version: "1.0.0", Name: "replay-p2"},
		Trigger:    dsl.Trigger{ID: "trg", Type: "manual"},
		Nodes:      []dsl.Node{{ID: "only_node", Type: "log", Config: map[string]interface{}{"level": "info"}}},
	}
	hint := "fixed-execution-id-1234"
	ctx, err := exec.ExecuteFromNode(&process, "only_node", map[string]interface{}{}, hint)
	require.NoError(t, err)
	require.NotNil(t, ctx)
	assert.Equal(t, hint, ctx.ExecutionID)
}

func TestExecuteFromNode_ConditionRouting(t *testing.T) {
	exec := newTestExecutor(t)
	process := dsl.Process{
		Definition: dsl.Definition{ID: "replay-p3", Version: "1.0.0", Name: "replay-p3"},
		Trigger:    dsl.Trigger{ID: "trg", Type: "manual"},
		Nodes: []dsl.Node{
			{ID: "start_node", Type: "log", Config: map[string]interface{}{"level": "info"}},
			{ID: "on_true", Type: "log", Config: map[string]interface{}{"level": "info"}},
			{ID: "on_false", Type: "log", Config: map[string]interface{}{"level": "info"}},
		},
		Transitions: []dsl.Transition{
			{From: "start_node", To: "on_true", Type: "condition", Condition: "$.nodes.start_node.output.score > 50"},
			{From: "start_node", To: "on_false", Type: "nocondition"},
		},
	}

	ctx, err := exec.ExecuteFromNode(&process, "start_node", map[string]interface{}{"score": float64(75)}, "")
	require.NoError(t, err)

	trueStatus, _ := ctx.GetValue("$.nodes.on_true.status")
	assert.Equal(t, "success", trueStatus)
	_, falseErr := ctx.GetValue("$.nodes.on_false.status")
	assert.Error(t, falseErr, "on_false should not have run when condition is true")
}

// ---------------------------------------------------------------------------
// Retry policy
// ---------------------------------------------------------------------------

func TestExecuteNode_RetryPolicyUsesIntervalString(t *testing.T) {
	exec := newTestExecutor(t)
	process := buildProcess("p-retry", []dsl.Node{
		{
			ID:          "bad",
			Type:        "script",
			Script:      `throw new Error("boom")`,
			RetryPolicy: &dsl.RetryPolicy{MaxAttempts: 2, Interval: "1ms"},
		},
	})
	start := time.Now()
	_, err := exec.ExecuteFromJSON(process, map[string]interface{}{})
	require.Error(t, err)
	// The single retry waits 1ms; the 1s default interval would take far longer.
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

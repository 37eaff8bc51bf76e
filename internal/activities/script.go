package activities

import (
	"fmt"
	"time"

	"github.com/dop251/goja"

	"github.com/flowforge/engine/internal/execctx"
)

// defaultScriptTimeout bounds a script node's execution when config does not
// specify timeout_ms.
const defaultScriptTimeout = 5 * time.Second

// ScriptActivity implements the `script` node type: it evaluates the node's
// JavaScript body against a throwaway goja runtime with `input` injected.
//
// config fields:
//
//	timeout_ms: interrupt the VM after this many milliseconds (default 5000)
//
// The script body itself comes from Node.Script, merged into config under
// the "script" key by the executor before Execute is called.
type ScriptActivity struct{}

// Name returns the DSL type identifier for this activity.
func (a *ScriptActivity) Name() string { return "script" }

// Execute runs the script and converts its return value to the node's output.
func (a *ScriptActivity) Execute(input map[string]interface{}, config map[string]interface{}, ctx *execctx.Context) (map[string]interface{}, error) {
	scriptCode, ok := config["script"]
	if !ok {
		return nil, fmt.Errorf("script activity: 'script' not found in config")
	}
	scriptStr, ok := scriptCode.(string)
	if !ok || scriptStr == "" {
		return nil, fmt.Errorf("script activity: script must be a non-empty string")
	}

	timeout := defaultScriptTimeout
	switch v := config["timeout_ms"].(type) {
	case float64:
		timeout = time.Duration(v) * time.Millisecond
	case int:
		timeout = time.Duration(v) * time.Millisecond
	}

	vm := goja.New()
	if err := vm.Set("input", input); err != nil {
		return nil, fmt.Errorf("script activity: failed to set input: %w", err)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-time.After(timeout):
			vm.Interrupt("script activity: execution timed out")
		case <-done:
		}
	}()

	result, err := vm.RunString(scriptStr)
	if err != nil {
		return nil, fmt.Errorf("script activity: execution error: %w", err)
	}

	if result == nil || goja.IsUndefined(result) || goja.IsNull(result) {
		return map[string]interface{}{}, nil
	}

	switch v := result.Export().(type) {
	case map[string]interface{}:
		return v, nil
	case nil:
		return map[string]interface{}{}, nil
	default:
		return map[string]interface{}{"result": v}, nil
	}
}

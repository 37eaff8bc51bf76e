// Package evaluator implements the condition evaluator: it substitutes every
// JSONPath-like token in a condition expression with its resolved JSON
// literal and runs the result as a JavaScript boolean expression in a
// throwaway goja VM.
package evaluator

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/dop251/goja"
)

// Resolver is the subset of execctx.Context this package depends on. Kept as
// an interface so evaluator has no import-time dependency on execctx.
type Resolver interface {
	GetValue(path string) (interface{}, error)
}

var pathPattern = regexp.MustCompile(`\$\.[a-zA-Z0-9_.\[\]]+`)

// Evaluate substitutes every "$.a.b[0].c"-shaped token in expr with its
// resolved JSON literal (or the literal `undefined` when resolution fails)
// and evaluates the result as a JS expression, returning its truthiness. A
// VM construction or script error is treated as a false condition, matching
// the engine's fail-closed transition-routing behavior.
func Evaluate(expr string, r Resolver) bool {
	replaced := pathPattern.ReplaceAllStringFunc(expr, func(token string) string {
		val, err := r.GetValue(token)
		if err != nil {
			return "undefined"
		}
		return literal(val)
	})

	vm := goja.New()
	result, err := vm.RunString(replaced)
	if err != nil {
		return false
	}
	return result.ToBoolean()
}

// literal renders val as a JS source literal suitable for substitution into
// a condition expression.
func literal(val interface{}) string {
	switch v := val.(type) {
	case string:
		b, _ := json.Marshal(v)
		return string(b)
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%g", v)
	case bool:
		if v {
			return "true"
		}
		return "false"
	case nil:
		return "null"
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "undefined"
		}
		return string(b)
	}
}

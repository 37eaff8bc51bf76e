// Package execctx implements the per-run Execution Context: the mutable
// store of trigger payload and per-node {output, status} that every node's
// input_mapping and every condition expression resolves against via a
// dotted-path-with-array-indexing syntax (spec.md §4.1).
package execctx

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Status is the terminal state recorded for an attempted node.
type Status string

const (
	StatusSuccess  Status = "success"
	StatusError    Status = "error"
	StatusReplayed Status = "replayed"
)

// arrayIndexPattern matches a path segment like "items[0]".
var arrayIndexPattern = regexp.MustCompile(`^(.+)\[(\d+)\]$`)

// NodeResult is the per-node slot in the context: output is present once the
// node's handler returns success (or on replay injection); status is set on
// every attempted node exactly once.
type NodeResult struct {
	Output map[string]interface{} `json:"output,omitempty"`
	Status string                 `json:"status,omitempty"`
}

// Context holds the state of a single flow run. It is owned by exactly one
// Executor invocation and must never be shared across goroutines.
type Context struct {
	ExecutionID string                 `json:"execution_id"`
	ProcessID   string                 `json:"process_id"`
	Trigger     map[string]interface{} `json:"trigger"`
	Nodes       map[string]*NodeResult `json:"nodes"`
}

// New creates an empty Context for the given execution id.
func New(executionID string) *Context {
	return &Context{
		ExecutionID: executionID,
		Trigger:     map[string]interface{}{},
		Nodes:       map[string]*NodeResult{},
	}
}

// SetTriggerData sets the trigger payload. Per spec.md §3 this must only be
// called once, at context creation; callers must not mutate data afterward.
func (c *Context) SetTriggerData(data map[string]interface{}) {
	if data == nil {
		data = map[string]interface{}{}
	}
	c.Trigger = data
}

func (c *Context) result(nodeID string) *NodeResult {
	r, ok := c.Nodes[nodeID]
	if !ok {
		r = &NodeResult{}
		c.Nodes[nodeID] = r
	}
	return r
}

// SetNodeOutput records the output of a node that has run to success (or is
// being replay-injected).
func (c *Context) SetNodeOutput(nodeID string, output map[string]interface{}) {
	c.result(nodeID).Output = output
}

// SetNodeStatus records the terminal status for nodeID.
func (c *Context) SetNodeStatus(nodeID string, status Status) {
	c.result(nodeID).Status = string(status)
}

// rootView exposes the two keys a GetValue path may traverse into.
func (c *Context) rootView() map[string]interface{} {
	nodes := make(map[string]interface{}, len(c.Nodes))
	for id, r := range c.Nodes {
		entry := map[string]interface{}{}
		if r.Output != nil {
			entry["output"] = r.Output
		}
		if r.Status != "" {
			entry["status"] = r.Status
		}
		nodes[id] = entry
	}
	return map[string]interface{}{
		"trigger": c.Trigger,
		"nodes":   nodes,
	}
}

// GetValue resolves a dotted path against the context's root view. A leading
// "$." is optional; a segment of the form "name[n]" indexes into the array
// found under "name". Traversal fails with a descriptive error on a missing
// key, an out-of-range index, or a non-indexable/non-traversable
// intermediate value.
func (c *Context) GetValue(path string) (interface{}, error) {
	trimmed := strings.TrimPrefix(path, "$.")
	trimmed = strings.TrimPrefix(trimmed, "$")
	trimmed = strings.TrimPrefix(trimmed, ".")
	if trimmed == "" {
		return nil, fmt.Errorf("execctx: empty path %q", path)
	}

	parts := strings.Split(trimmed, ".")
	var current interface{} = c.rootView()

	for _, part := range parts {
		if m := arrayIndexPattern.FindStringSubmatch(part); m != nil {
			key, idxStr := m[1], m[2]
			idx, _ := strconv.Atoi(idxStr)
			container, err := descend(current, key, path)
			if err != nil {
				return nil, err
			}
			slice, ok := container.([]interface{})
			if !ok {
				return nil, fmt.Errorf("execctx: path %q: %q is not an array (got %T)", path, key, container)
			}
			if idx < 0 || idx >= len(slice) {
				return nil, fmt.Errorf("execctx: path %q: index %d out of range (len %d)", path, idx, len(slice))
			}
			current = slice[idx]
			continue
		}
		next, err := descend(current, part, path)
		if err != nil {
			return nil, err
		}
		current = next
	}
	return current, nil
}

// descend looks up key inside container, which must be a map-shaped value.
func descend(container interface{}, key, fullPath string) (interface{}, error) {
	m, ok := container.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("execctx: path %q: cannot traverse into %q (not a map, got %T)", fullPath, key, container)
	}
	val, ok := m[key]
	if !ok {
		return nil, fmt.Errorf("execctx: path %q: key %q not found", fullPath, key)
	}
	return val, nil
}

// ResolveInputMapping resolves every (key, value) pair of an input_mapping:
// a string value starting with "$" is treated as a path and resolved via
// GetValue; any other value (including a non-"$"-prefixed string) passes
// through verbatim. The first unresolvable path fails the whole mapping.
func (c *Context) ResolveInputMapping(mapping map[string]interface{}) (map[string]interface{}, error) {
	result := make(map[string]interface{}, len(mapping))
	for key, value := range mapping {
		str, isString := value.(string)
		if isString && strings.HasPrefix(str, "$") {
			resolved, err := c.GetValue(str)
			if err != nil {
				return nil, fmt.Errorf("execctx: resolve %q for key %q: %w", str, key, err)
			}
			result[key] = resolved
			continue
		}
		result[key] = value
	}
	return result, nil
}

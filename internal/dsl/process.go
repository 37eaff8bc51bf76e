// Package dsl holds the flow definition types: the JSON document a flow
// author produces and the engine loads. Types here are immutable once
// parsed — the executor never mutates a Process in place.
package dsl

import "fmt"

// Process is the complete workflow definition: one trigger, a sequence of
// nodes, and the transitions routing data between them.
type Process struct {
	Definition  Definition   `json:"definition"`
	Trigger     Trigger      `json:"trigger"`
	Nodes       []Node       `json:"nodes"`
	Transitions []Transition `json:"transitions"`
}

// Definition carries the process's identity and execution-wide settings.
type Definition struct {
	ID          string          `json:"id" validate:"required"`
	Version     string          `json:"version"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Settings    ProcessSettings `json:"settings"`
}

// ProcessSettings controls execution-wide behavior. Timeout is advisory in
// this iteration (see DESIGN.md) and error_strategy is not currently
// consulted by the executor's routing decisions — see the Open Question on
// error_strategy vs. explicit error edges.
type ProcessSettings struct {
	Persistence   string `json:"persistence,omitempty"`    // full | minimal | none
	Timeout       int    `json:"timeout,omitempty"`         // milliseconds, advisory
	ErrorStrategy string `json:"error_strategy,omitempty"`  // stop_and_rollback | continue | retry
}

// TriggerType enumerates the supported trigger kinds.
type TriggerType string

const (
	TriggerCron             TriggerType = "cron"
	TriggerREST             TriggerType = "rest"
	TriggerSOAP             TriggerType = "soap"
	TriggerRabbitMQConsumer TriggerType = "rabbitmq-consumer"
	TriggerMCP              TriggerType = "mcp"
	TriggerManual           TriggerType = "manual"
)

// Trigger is the single external stimulus that starts the flow.
type Trigger struct {
	ID     string                 `json:"id"`
	Type   string                 `json:"type" validate:"required"`
	Config map[string]interface{} `json:"config,omitempty"`
}

// ActivityType enumerates the supported node/activity kinds.
type ActivityType string

const (
	ActivityHTTP             ActivityType = "http"
	ActivitySQL              ActivityType = "sql"
	ActivitySFTP             ActivityType = "sftp"
	ActivityS3               ActivityType = "s3"
	ActivitySMB              ActivityType = "smb"
	ActivityMail             ActivityType = "mail"
	ActivityRabbitMQProducer ActivityType = "rabbitmq-producer"
	ActivityScript           ActivityType = "script"
	ActivityLog              ActivityType = "log"
	ActivityTransform        ActivityType = "transform"
	ActivityFile             ActivityType = "file"
)

// Node is a single execution step in the graph.
type Node struct {
	ID           string                 `json:"id" validate:"required"`
	Type         string                 `json:"type" validate:"required"`
	Description  string                 `json:"description,omitempty"`
	InputMapping map[string]interface{} `json:"input_mapping,omitempty"`
	Config       map[string]interface{} `json:"config,omitempty"`
	SecretRef    string                 `json:"secret_ref,omitempty"`
	Script       string                 `json:"script,omitempty"`
	Next         []string               `json:"next,omitempty"`
	RetryPolicy  *RetryPolicy           `json:"retry_policy,omitempty"`
}

// RetryPolicy controls how many times and how far apart a failing node is
// retried. Type is validated but, per the design notes, only fixed-delay
// retry is currently implemented; exponential is accepted and behaves as
// fixed (a documented, deliberate simplification — see DESIGN.md).
type RetryPolicy struct {
	MaxAttempts int    `json:"max_attempts"`
	Interval    string `json:"interval,omitempty"` // Go duration string, e.g. "2s"; default 1s
	Type        string `json:"type,omitempty"`     // fixed | exponential
}

// TransitionType enumerates the supported edge kinds.
type TransitionType string

const (
	TransitionSuccess     TransitionType = "success"
	TransitionError       TransitionType = "error"
	TransitionCondition   TransitionType = "condition"
	TransitionNoCondition TransitionType = "nocondition"
)

// Transition is a directed edge from one node (or the trigger) to another.
type Transition struct {
	From      string `json:"from" validate:"required"`
	To        string `json:"to" validate:"required"`
	Type      string `json:"type" validate:"required"`
	Condition string `json:"condition,omitempty"`
}

// Validate performs structural checks beyond what struct tags can express:
// every transition type is recognized, and `condition` transitions carry a
// non-empty condition expression. This is the "malformed DSL rejected up
// front" gate described in spec.md §8.
func (p *Process) Validate() error {
	if len(p.Nodes) == 0 && len(p.Transitions) > 0 {
		return fmt.Errorf("dsl: transitions present with no nodes")
	}
	seen := make(map[string]bool, len(p.Nodes))
	for _, n := range p.Nodes {
		if n.ID == "" {
			return fmt.Errorf("dsl: node with empty id")
		}
		if seen[n.ID] {
			return fmt.Errorf("dsl: duplicate node id %q", n.ID)
		}
		seen[n.ID] = true
		if n.Type == "" {
			return fmt.Errorf("dsl: node %q missing type", n.ID)
		}
	}
	for i, t := range p.Transitions {
		switch TransitionType(t.Type) {
		case TransitionSuccess, TransitionError, TransitionCondition, TransitionNoCondition:
		default:
			return fmt.Errorf("dsl: transition[%d] has unknown type %q", i, t.Type)
		}
		if t.Type == string(TransitionCondition) && t.Condition == "" {
			return fmt.Errorf("dsl: transition[%d] (%s -> %s) is type condition but has no condition expression", i, t.From, t.To)
		}
		if t.From != p.Trigger.ID && !seen[t.From] {
			return fmt.Errorf("dsl: transition[%d] references unknown source %q", i, t.From)
		}
		if !seen[t.To] {
			return fmt.Errorf("dsl: transition[%d] references unknown target %q", i, t.To)
		}
	}
	return nil
}

// IsSequential reports whether the process has no explicit transition graph
// (no transitions and no node uses the Next shorthand), in which case nodes
// execute strictly in listed order.
func (p *Process) IsSequential() bool {
	if len(p.Transitions) > 0 {
		return false
	}
	for _, n := range p.Nodes {
		if len(n.Next) > 0 {
			return false
		}
	}
	return true
}

// Package executor walks a parsed process graph, resolving each node's
// input, merging in secrets, invoking its activity, and routing to the next
// node(s) via the transition graph.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	nats "github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/flowforge/engine/internal/activities"
	"github.com/flowforge/engine/internal/dsl"
	"github.com/flowforge/engine/internal/evaluator"
	"github.com/flowforge/engine/internal/execctx"
	"github.com/flowforge/engine/internal/metrics"
	"github.com/flowforge/engine/internal/secrets"
)

// defaultRetryInterval is used when a node's retry_policy omits interval.
const defaultRetryInterval = time.Second

// Executor runs process definitions against the activity registry,
// publishing an audit trail to NATS and node/process metrics to Prometheus
// as it goes.
type Executor struct {
	registry       *activities.Registry
	natsConn       *nats.Conn
	auditEnabled   bool
	secretResolver secrets.SecretResolver
	logger         *zap.Logger
	metrics        *metrics.Recorder
}

// New creates an Executor. A non-empty natsURL enables audit publishing; a
// failed connection degrades to audit-disabled rather than failing startup,
// matching the teacher's resilience posture. logger and rec may be nil.
func New(natsURL string, logger *zap.Logger, rec *metrics.Recorder) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Executor{
		registry:       activities.NewRegistry(),
		auditEnabled:   natsURL != "",
		secretResolver: &secrets.NoopResolver{},
		logger:         logger,
		metrics:        rec,
	}
	if e.auditEnabled {
		nc, err := nats.Connect(natsURL)
		if err != nil {
			logger.Warn("nats connect failed, audit logging disabled", zap.String("url", natsURL), zap.Error(err))
			e.auditEnabled = false
		} else {
			e.natsConn = nc
			logger.Info("connected to nats for audit logging", zap.String("url", natsURL))
		}
	}
	return e
}

// Close releases the NATS connection, if any.
func (e *Executor) Close() {
	if e.natsConn != nil {
		e.natsConn.Close()
	}
}

// SetSecretResolver replaces the default no-op resolver with a real one,
// typically a *secrets.SecretStore wired to the config database.
func (e *Executor) SetSecretResolver(r secrets.SecretResolver) {
	e.secretResolver = r
}

// Registry exposes the activity registry, primarily so the management API
// can validate a submitted flow's node types before accepting it.
func (e *Executor) Registry() *activities.Registry {
	return e.registry
}

// ExecuteFromJSON parses a JSON-encoded process document and executes it.
func (e *Executor) ExecuteFromJSON(jsonData []byte, triggerData map[string]interface{}) (*execctx.Context, error) {
	var process dsl.Process
	if err := json.Unmarshal(jsonData, &process); err != nil {
		return nil, fmt.Errorf("executor: parse process json: %w", err)
	}
	if err := process.Validate(); err != nil {
		return nil, fmt.Errorf("executor: invalid process: %w", err)
	}
	return e.Execute(&process, triggerData)
}

// Execute runs process start-to-finish against triggerData.
func (e *Executor) Execute(process *dsl.Process, triggerData map[string]interface{}) (ctx *execctx.Context, err error) {
	executionID := uuid.New().String()
	processID := process.Definition.ID
	e.logger.Info("execution started",
		zap.String("execution_id", executionID),
		zap.String("process_id", processID),
		zap.String("version", process.Definition.Version),
	)

	ctx = execctx.New(executionID)
	ctx.ProcessID = processID
	ctx.SetTriggerData(triggerData)

	e.sendAuditLog(executionID, processID, processID, "process", "started",
		map[string]interface{}{"trigger": triggerData}, nil, "")

	defer func() {
		status := "completed"
		if err != nil {
			status = "failed"
		}
		e.metrics.ObserveProcess(status)
		errMsg := ""
		if err != nil {
			errMsg = err.Error()
		}
		e.sendAuditLog(executionID, processID, processID, "process", status,
			map[string]interface{}{"trigger": triggerData}, nil, errMsg)
	}()

	if process.IsSequential() {
		for _, node := range process.Nodes {
			nodeCopy := node
			if err = e.executeNode(&nodeCopy, ctx); err != nil {
				return ctx, fmt.Errorf("node %s failed: %w", node.ID, err)
			}
		}
		e.logger.Info("execution completed", zap.String("execution_id", executionID))
		return ctx, nil
	}

	nodeMap, transMap := buildGraph(process)

	incomingFromNode := make(map[string]bool)
	for _, t := range process.Transitions {
		if _, fromIsNode := nodeMap[t.From]; fromIsNode {
			incomingFromNode[t.To] = true
		}
	}

	var startNodes []string
	for _, node := range process.Nodes {
		if !incomingFromNode[node.ID] {
			startNodes = append(startNodes, node.ID)
		}
	}
	if len(startNodes) == 0 && len(process.Nodes) > 0 {
		// Every node is the target of another node's transition, so the
		// graph has no entry point and must contain a cycle.
		err = fmt.Errorf("executor: cycle detected: every node has an incoming transition")
		return ctx, err
	}

	visited := make(map[string]bool)
	for _, startID := range startNodes {
		if err = e.executeChain(startID, nodeMap, transMap, ctx, visited); err != nil {
			return ctx, err
		}
	}

	e.logger.Info("execution completed", zap.String("execution_id", executionID))
	return ctx, nil
}

// ExecuteFromNode replays a process starting after startNodeID, injecting
// nodeInput as that node's already-resolved output. A new execution id is
// generated unless executionIDHint is supplied.
func (e *Executor) ExecuteFromNode(
	process *dsl.Process,
	startNodeID string,
	nodeInput map[string]interface{},
	executionIDHint string,
) (ctx *execctx.Context, err error) {
	executionID := executionIDHint
	if executionID == "" {
		executionID = uuid.New().String()
	}
	processID := process.Definition.ID
	e.logger.Info("replay execution started",
		zap.String("execution_id", executionID),
		zap.String("process_id", processID),
		zap.String("start_node", startNodeID),
	)

	ctx = execctx.New(executionID)
	ctx.ProcessID = processID
	ctx.SetTriggerData(map[string]interface{}{})

	e.sendAuditLog(executionID, processID, processID, "process", "started",
		map[string]interface{}{"replay_from": startNodeID}, nil, "")

	defer func() {
		status := "replayed"
		errMsg := ""
		if err != nil {
			status = "failed"
			errMsg = err.Error()
		}
		e.metrics.ObserveProcess(status)
		e.sendAuditLog(executionID, processID, processID, "process", status,
			map[string]interface{}{"replay_from": startNodeID}, nil, errMsg)
	}()

	nodeMap, transMap := buildGraph(process)

	ctx.SetNodeOutput(startNodeID, nodeInput)
	ctx.SetNodeStatus(startNodeID, execctx.StatusReplayed)

	visited := make(map[string]bool)
	visited[startNodeID] = true

	condTrans, noCondTrans, successTrans := partitionTransitions(transMap[startNodeID])

	if len(condTrans) > 0 || len(noCondTrans) > 0 {
		dispatched := false
		for _, t := range condTrans {
			if evaluator.Evaluate(t.Condition, ctx) {
				err = e.executeChain(t.To, nodeMap, transMap, ctx, visited)
				dispatched = true
				break
			}
		}
		if !dispatched {
			for _, t := range noCondTrans {
				if chainErr := e.executeChain(t.To, nodeMap, transMap, ctx, visited); chainErr != nil {
					err = chainErr
					break
				}
			}
		}
	} else {
		for _, t := range successTrans {
			if chainErr := e.executeChain(t.To, nodeMap, transMap, ctx, visited); chainErr != nil {
				err = chainErr
				break
			}
		}
	}

	if err != nil {
		return ctx, err
	}
	e.logger.Info("replay execution completed", zap.String("execution_id", executionID))
	return ctx, nil
}

func buildGraph(process *dsl.Process) (map[string]*dsl.Node, map[string][]dsl.Transition) {
	nodeMap := make(map[string]*dsl.Node, len(process.Nodes))
	for i := range process.Nodes {
		nodeMap[process.Nodes[i].ID] = &process.Nodes[i]
	}
	transMap := make(map[string][]dsl.Transition)
	for _, t := range process.Transitions {
		transMap[t.From] = append(transMap[t.From], t)
	}
	return nodeMap, transMap
}

func partitionTransitions(transitions []dsl.Transition) (cond, nocond, success []dsl.Transition) {
	for _, t := range transitions {
		switch dsl.TransitionType(t.Type) {
		case dsl.TransitionCondition:
			cond = append(cond, t)
		case dsl.TransitionNoCondition:
			nocond = append(nocond, t)
		case dsl.TransitionSuccess:
			success = append(success, t)
		}
	}
	return
}

// executeChain runs nodeID and, on success, follows its outbound
// transitions; on error it follows only "error" transitions, surfacing the
// original error unchanged when none exist. A node revisited within the
// same run is reported as a cycle rather than looping forever.
func (e *Executor) executeChain(nodeID string, nodeMap map[string]*dsl.Node, transMap map[string][]dsl.Transition, ctx *execctx.Context, visited map[string]bool) error {
	if visited[nodeID] {
		return fmt.Errorf("executor: cycle detected at node %s", nodeID)
	}
	visited[nodeID] = true

	node := nodeMap[nodeID]
	nodeErr := e.executeNode(node, ctx)
	transitions := transMap[nodeID]

	if nodeErr != nil {
		var errorTrans []dsl.Transition
		for _, t := range transitions {
			if dsl.TransitionType(t.Type) == dsl.TransitionError {
				errorTrans = append(errorTrans, t)
			}
		}
		if len(errorTrans) == 0 {
			return nodeErr
		}
		for _, t := range errorTrans {
			if err := e.executeChain(t.To, nodeMap, transMap, ctx, visited); err != nil {
				return err
			}
		}
		return nil
	}

	condTrans, noCondTrans, successTrans := partitionTransitions(transitions)

	if len(condTrans) > 0 || len(noCondTrans) > 0 {
		for _, t := range condTrans {
			if evaluator.Evaluate(t.Condition, ctx) {
				return e.executeChain(t.To, nodeMap, transMap, ctx, visited)
			}
		}
		for _, t := range noCondTrans {
			if err := e.executeChain(t.To, nodeMap, transMap, ctx, visited); err != nil {
				return err
			}
		}
		return nil
	}

	for _, t := range successTrans {
		if err := e.executeChain(t.To, nodeMap, transMap, ctx, visited); err != nil {
			return err
		}
	}
	return nil
}

// executeNode resolves a node's input, merges its secret (if any), runs its
// activity (retrying per its retry_policy), and records the outcome.
func (e *Executor) executeNode(node *dsl.Node, ctx *execctx.Context) error {
	e.logger.Debug("executing node", zap.String("node_id", node.ID), zap.String("node_type", node.Type))
	startTime := time.Now()

	var input map[string]interface{}
	var err error
	if node.InputMapping != nil {
		input, err = ctx.ResolveInputMapping(node.InputMapping)
		if err != nil {
			ctx.SetNodeStatus(node.ID, execctx.StatusError)
			e.sendAuditLog(ctx.ExecutionID, ctx.ProcessID, node.ID, node.Type, "error", nil, nil, err.Error())
			return fmt.Errorf("executor: resolve input mapping for %s: %w", node.ID, err)
		}
	} else {
		input = make(map[string]interface{})
	}

	config := make(map[string]interface{}, len(node.Config)+1)
	for k, v := range node.Config {
		config[k] = v
	}
	if node.Type == string(dsl.ActivityScript) && node.Script != "" {
		config["script"] = node.Script
	}

	if node.SecretRef != "" {
		secretData, secretErr := e.secretResolver.Resolve(context.Background(), node.SecretRef)
		if secretErr != nil {
			ctx.SetNodeStatus(node.ID, execctx.StatusError)
			e.sendAuditLog(ctx.ExecutionID, ctx.ProcessID, node.ID, node.Type, "error", input, nil, secretErr.Error())
			return fmt.Errorf("executor: resolve secret %s: %w", node.SecretRef, secretErr)
		}
		for k, v := range secretData {
			config[k] = v
		}
	}

	activity, ok := e.registry.Get(node.Type)
	if !ok {
		execErr := fmt.Errorf("executor: unknown activity type %q", node.Type)
		ctx.SetNodeStatus(node.ID, execctx.StatusError)
		e.sendAuditLog(ctx.ExecutionID, ctx.ProcessID, node.ID, node.Type, "error", input, nil, execErr.Error())
		return execErr
	}

	maxAttempts := 1
	interval := defaultRetryInterval
	if node.RetryPolicy != nil {
		if node.RetryPolicy.MaxAttempts > 0 {
			maxAttempts = node.RetryPolicy.MaxAttempts
		}
		if node.RetryPolicy.Interval != "" {
			if d, parseErr := time.ParseDuration(node.RetryPolicy.Interval); parseErr == nil {
				interval = d
			}
		}
	}

	var output map[string]interface{}
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		output, err = activity.Execute(input, config, ctx)
		if err == nil {
			break
		}
		if attempt < maxAttempts {
			e.logger.Warn("node attempt failed, retrying",
				zap.String("node_id", node.ID), zap.Int("attempt", attempt), zap.Int("max_attempts", maxAttempts), zap.Error(err))
			time.Sleep(interval)
		}
	}

	duration := time.Since(startTime)

	if err != nil {
		e.metrics.ObserveNode(node.Type, "error", duration.Seconds())
		ctx.SetNodeStatus(node.ID, execctx.StatusError)
		e.sendAuditLog(ctx.ExecutionID, ctx.ProcessID, node.ID, node.Type, "error", input, nil, err.Error())
		return err
	}

	e.metrics.ObserveNode(node.Type, "success", duration.Seconds())
	ctx.SetNodeOutput(node.ID, output)
	ctx.SetNodeStatus(node.ID, execctx.StatusSuccess)
	e.logger.Debug("node completed", zap.String("node_id", node.ID), zap.Duration("duration", duration))
	e.sendAuditLog(ctx.ExecutionID, ctx.ProcessID, node.ID, node.Type, "success", input, output, "")

	return nil
}

// sendAuditLog publishes a single audit event to the "audit.logs" NATS
// subject. It is a no-op when audit logging is disabled. Secrets must never
// appear here: config is never passed in, only resolved input/output.
func (e *Executor) sendAuditLog(executionID, processID, nodeID, nodeType, status string, input, output map[string]interface{}, errorMsg string) {
	if !e.auditEnabled || e.natsConn == nil {
		return
	}

	auditMsg := map[string]interface{}{
		"execution_id": executionID,
		"process_id":   processID,
		"node_id":      nodeID,
		"node_type":    nodeType,
		"status":       status,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
		"input":        input,
		"output":       output,
	}
	if errorMsg != "" {
		auditMsg["error"] = errorMsg
	}

	msgBytes, err := json.Marshal(auditMsg)
	if err != nil {
		e.logger.Warn("audit marshal failed, retrying without data fields", zap.String("node_id", nodeID), zap.Error(err))
		auditMsg["input"] = nil
		auditMsg["output"] = nil
		msgBytes, err = json.Marshal(auditMsg)
		if err != nil {
			e.logger.Error("audit marshal failed permanently", zap.String("node_id", nodeID), zap.Error(err))
			return
		}
	}

	if err := e.natsConn.Publish("audit.logs", msgBytes); err != nil {
		e.logger.Error("audit publish failed", zap.Error(err))
	}
}

// SendLifecycleAuditLog emits an audit event for a trigger lifecycle action
// (deployed / stopped) rather than a node execution.
func (e *Executor) SendLifecycleAuditLog(processID, triggerType, action, errorMsg string) {
	status := "success"
	if errorMsg != "" {
		status = "error"
	}
	input := map[string]interface{}{
		"action":       action,
		"process_id":   processID,
		"trigger_type": triggerType,
	}
	e.sendAuditLog(uuid.New().String(), processID, processID, "lifecycle", status, input, nil, errorMsg)
}

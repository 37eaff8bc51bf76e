// Package triggers manages the lifecycle of active flow triggers.
// Each deployed process owns exactly one TriggerHandler that starts/stops
// according to the trigger type defined in its DSL.
package triggers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/flowforge/engine/internal/dsl"
	"github.com/flowforge/engine/internal/execctx"
)

// logger is the package-wide zap logger used by every trigger implementation.
// It defaults to a no-op logger so tests don't need to wire one; SetLogger
// lets cmd/server install the real one at startup.
var logger = zap.NewNop()

// SetLogger installs the logger every trigger implementation writes through.
func SetLogger(l *zap.Logger) {
	if l != nil {
		logger = l
	}
}

// Executor is the subset of executor.Executor used by triggers. Keeping a
// narrow interface avoids an import cycle between triggers and executor.
type Executor interface {
	Execute(process *dsl.Process, triggerData map[string]interface{}) (*execctx.Context, error)
}

// TriggerHandler is the lifecycle interface every trigger must implement.
type TriggerHandler interface {
	// Start activates the trigger. For cron and queue-based triggers this
	// starts background goroutines; for REST/SOAP/MCP it registers routes.
	Start(ctx context.Context, proc *dsl.Process) error
	// Stop deactivates the trigger and releases all resources.
	Stop() error
	// Type returns the DSL trigger type string (e.g. "cron").
	Type() string
}

// runningEntry pairs a live TriggerHandler with the deploy-time bookkeeping
// the management API surfaces via Status — when it started and how many
// times that process has been (re)deployed since the engine booted.
type runningEntry struct {
	handler     TriggerHandler
	startedAt   time.Time
	deployCount int
}

// TriggerStatus is the read-only snapshot Status returns for one deployed
// process, used by the Designer UI's trigger inspector.
type TriggerStatus struct {
	ProcessID   string    `json:"process_id"`
	Type        string    `json:"type"`
	StartedAt   time.Time `json:"started_at"`
	DeployCount int       `json:"deploy_count"`
}

// Manager maintains a registry of running triggers, keyed by process ID.
// It is safe for concurrent use.
type Manager struct {
	executor Executor
	running  map[string]*runningEntry
	mu       sync.Mutex
}

// NewManager creates a Manager that will use executor to run flows when a
// trigger fires.
func NewManager(executor Executor) *Manager {
	return &Manager{
		executor: executor,
		running:  make(map[string]*runningEntry),
	}
}

// Deploy starts the appropriate trigger for proc. If the process is already
// deployed, it is stopped first and then restarted (hot-reload semantics),
// leaving exactly one handler running for the process id. deployCount carries
// over across a redeploy so Status reflects how many times this process has
// been (re)deployed in total, not just since the last restart.
func (m *Manager) Deploy(proc *dsl.Process) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var deployCount int
	if prev, ok := m.running[proc.Definition.ID]; ok {
		logger.Info("redeploying, stopping previous trigger",
			zap.String("process_id", proc.Definition.ID), zap.String("trigger_type", prev.handler.Type()))
		if err := prev.handler.Stop(); err != nil {
			logger.Warn("stop previous trigger failed", zap.String("process_id", proc.Definition.ID), zap.Error(err))
		}
		deployCount = prev.deployCount
		delete(m.running, proc.Definition.ID)
	}

	handler, err := m.newHandler(proc)
	if err != nil {
		return fmt.Errorf("triggers: create handler for %q: %w", proc.Definition.ID, err)
	}

	if err := handler.Start(context.Background(), proc); err != nil {
		return fmt.Errorf("triggers: start %s trigger for %q: %w", proc.Trigger.Type, proc.Definition.ID, err)
	}

	m.running[proc.Definition.ID] = &runningEntry{
		handler:     handler,
		startedAt:   time.Now().UTC(),
		deployCount: deployCount + 1,
	}
	logger.Info("trigger deployed", zap.String("process_id", proc.Definition.ID), zap.String("trigger_type", proc.Trigger.Type))
	return nil
}

// Stop deactivates the trigger for processID.
func (m *Manager) Stop(processID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.running[processID]
	if !ok {
		return fmt.Errorf("triggers: process %q is not currently deployed", processID)
	}
	if err := entry.handler.Stop(); err != nil {
		return fmt.Errorf("triggers: stop %s trigger for %q: %w", entry.handler.Type(), processID, err)
	}
	delete(m.running, processID)
	logger.Info("trigger stopped", zap.String("process_id", processID))
	return nil
}

// IsRunning reports whether a trigger is active for processID.
func (m *Manager) IsRunning(processID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.running[processID]
	return ok
}

// TriggerType returns the trigger type string for a currently-deployed process,
// or an empty string if the process is not running.
func (m *Manager) TriggerType(processID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.running[processID]; ok {
		return entry.handler.Type()
	}
	return ""
}

// RunningCount returns the number of currently deployed triggers, primarily
// for the active-triggers gauge.
func (m *Manager) RunningCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.running)
}

// Status returns a snapshot of every currently-deployed trigger, for the
// management API's trigger inspector.
func (m *Manager) Status() []TriggerStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TriggerStatus, 0, len(m.running))
	for id, entry := range m.running {
		out = append(out, TriggerStatus{
			ProcessID:   id,
			Type:        entry.handler.Type(),
			StartedAt:   entry.startedAt,
			DeployCount: entry.deployCount,
		})
	}
	return out
}

// StopAll deactivates every running trigger. Useful during shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, entry := range m.running {
		if err := entry.handler.Stop(); err != nil {
			logger.Warn("stop trigger failed during StopAll", zap.String("process_id", id), zap.Error(err))
		}
	}
	m.running = make(map[string]*runningEntry)
}

// newHandler selects the correct TriggerHandler implementation for proc.
func (m *Manager) newHandler(proc *dsl.Process) (TriggerHandler, error) {
	switch dsl.TriggerType(proc.Trigger.Type) {
	case dsl.TriggerCron:
		return newCronTrigger(m.executor), nil
	case dsl.TriggerRabbitMQConsumer:
		return newRabbitMQTrigger(m.executor), nil
	case dsl.TriggerMCP:
		return newMCPTrigger(m.executor), nil
	case dsl.TriggerREST:
		return newRESTTrigger(m.executor), nil
	case dsl.TriggerSOAP:
		return newSOAPTrigger(m.executor), nil
	case dsl.TriggerManual:
		return &manualTrigger{}, nil
	default:
		return nil, fmt.Errorf("unsupported trigger type: %q", proc.Trigger.Type)
	}
}

// ---------------------------------------------------------------------------
// manualTrigger — no-op; the flow is started via the management API's run
// endpoint instead of an external stimulus.
// ---------------------------------------------------------------------------

type manualTrigger struct{}

func (t *manualTrigger) Start(_ context.Context, _ *dsl.Process) error { return nil }
func (t *manualTrigger) Stop() error                                   { return nil }
func (t *manualTrigger) Type() string                                  { return "manual" }

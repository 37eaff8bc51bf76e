package triggers

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/flowforge/engine/internal/dsl"
)

// cronTrigger fires the process on a cron schedule.
// It relies on robfig/cron v3, which is thread-safe by design.
type cronTrigger struct {
	executor  Executor
	scheduler *cron.Cron
}

func newCronTrigger(executor Executor) *cronTrigger {
	return &cronTrigger{
		executor: executor,
	}
}

// Start parses the cron expression from the trigger config and schedules the job.
//
// The scheduler is built with SkipIfStillRunning so a slow-running flow never
// stacks up overlapping executions when its own schedule fires again before
// the previous run finished — each skip is logged via the zap adapter below.
func (t *cronTrigger) Start(ctx context.Context, proc *dsl.Process) error {
	expr, err := cronExpression(proc.Trigger.Config)
	if err != nil {
		return fmt.Errorf("cron_trigger: %w", err)
	}

	// Keep a local copy so the closure does not reference the outer variable.
	procCopy := *proc
	t.scheduler = cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(zapCronLogger{processID: procCopy.Definition.ID})))

	_, addErr := t.scheduler.AddFunc(expr, func() {
		triggerData := map[string]interface{}{
			"datetime": time.Now().UTC().Format(time.RFC3339),
		}
		if _, execErr := t.executor.Execute(&procCopy, triggerData); execErr != nil {
			logger.Error("cron trigger execution failed",
				zap.String("process_id", procCopy.Definition.ID), zap.Error(execErr))
		}
	})
	if addErr != nil {
		return fmt.Errorf("cron_trigger: add cron job: %w", addErr)
	}

	t.scheduler.Start()
	logger.Info("cron trigger scheduled", zap.String("process_id", proc.Definition.ID), zap.String("expression", expr))
	return nil
}

// Stop halts the scheduler and waits for any in-flight job to complete.
func (t *cronTrigger) Stop() error {
	if t.scheduler != nil {
		ctx := t.scheduler.Stop()
		// Wait until the running job finishes (or context is done).
		select {
		case <-ctx.Done():
		case <-time.After(30 * time.Second):
			logger.Warn("cron trigger timed out waiting for job to finish")
		}
		t.scheduler = nil
	}
	return nil
}

func (t *cronTrigger) Type() string { return "cron" }

// zapCronLogger adapts the package's zap logger to robfig/cron's Logger
// interface, so SkipIfStillRunning's skip notices go through the same
// structured sink as every other trigger log line instead of stdlib log.
type zapCronLogger struct {
	processID string
}

func (l zapCronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.Info("cron: "+msg, append([]zap.Field{zap.String("process_id", l.processID)}, zapFieldsFromPairs(keysAndValues)...)...)
}

func (l zapCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	fields := append([]zap.Field{zap.String("process_id", l.processID), zap.Error(err)}, zapFieldsFromPairs(keysAndValues)...)
	logger.Error("cron: "+msg, fields...)
}

// zapFieldsFromPairs converts cron.Logger's alternating key/value varargs
// into zap.Field values, skipping an unpaired trailing key.
func zapFieldsFromPairs(pairs []interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, zap.Any(key, pairs[i+1]))
	}
	return fields
}

// cronExpression extracts the "expression" field from the trigger config.
func cronExpression(config map[string]interface{}) (string, error) {
	if config == nil {
		return "", fmt.Errorf("trigger config is nil; expected {\"expression\":\"...\"}")
	}
	raw, ok := config["expression"]
	if !ok {
		return "", fmt.Errorf("trigger config missing required field \"expression\"")
	}
	expr, ok := raw.(string)
	if !ok || expr == "" {
		return "", fmt.Errorf("trigger config field \"expression\" must be a non-empty string")
	}
	return expr, nil
}

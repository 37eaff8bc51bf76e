package triggers

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/flowforge/engine/internal/dsl"
)

// consumerDrainTimeout is the time Stop() waits for in-flight deliveries to
// complete before closing the AMQP connection.
const consumerDrainTimeout = 100 * time.Millisecond

// rabbitMQTrigger consumes from an AMQP queue and executes the flow for every
// message received. Each delivery is ACKed on successful execution.
type rabbitMQTrigger struct {
	executor  Executor
	conn      *amqp.Connection
	channel   *amqp.Channel
	done      chan struct{}
	closeErrs chan *amqp.Error
	processID string
}

func newRabbitMQTrigger(executor Executor) *rabbitMQTrigger {
	return &rabbitMQTrigger{executor: executor}
}

// Start connects to the AMQP broker, sets up the consumer, and begins consuming
// in a background goroutine.
func (t *rabbitMQTrigger) Start(ctx context.Context, proc *dsl.Process) error {
	urlAMQP, queue, vhost, prefetch, err := rabbitmqTriggerConfig(proc.Trigger.Config)
	if err != nil {
		return fmt.Errorf("rabbitmq_trigger: %w", err)
	}

	conn, err := amqp.Dial(urlAMQP)
	if err != nil {
		return fmt.Errorf("rabbitmq_trigger: dial %q: %w", urlAMQP, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("rabbitmq_trigger: open channel: %w", err)
	}

	// QoS caps how many unacknowledged deliveries the broker hands this
	// consumer at once, so one slow flow execution can't starve every other
	// message sitting in the queue.
	if err := ch.Qos(prefetch, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("rabbitmq_trigger: set QoS(prefetch=%d): %w", prefetch, err)
	}

	_ = vhost // vhost is embedded in the AMQP URL by convention; kept for DSL completeness

	deliveries, err := ch.Consume(
		queue,           // queue name
		"flowjs-runner", // consumer tag
		false,           // auto-ack
		false,           // exclusive
		false,           // no-local
		false,           // no-wait
		nil,             // args
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("rabbitmq_trigger: consume %q: %w", queue, err)
	}

	t.conn = conn
	t.channel = ch
	t.done = make(chan struct{})
	t.closeErrs = conn.NotifyClose(make(chan *amqp.Error, 1))
	t.processID = proc.Definition.ID

	procCopy := *proc
	go t.consume(deliveries, &procCopy)

	logger.Info("rabbitmq trigger listening", zap.String("queue", queue), zap.String("process_id", proc.Definition.ID))
	return nil
}

// consume drains deliveries until Stop is called or the broker connection
// drops out from under it (conn.NotifyClose fires on a lost connection even
// when no explicit Close was ever called on this side). An unexpected close
// is logged rather than silently leaving a dead goroutine parked on a
// channel that will never produce or close again.
func (t *rabbitMQTrigger) consume(deliveries <-chan amqp.Delivery, proc *dsl.Process) {
	for {
		select {
		case <-t.done:
			return
		case closeErr, ok := <-t.closeErrs:
			if ok {
				logger.Error("rabbitmq trigger connection closed unexpectedly",
					zap.String("process_id", t.processID), zap.Error(closeErr))
			}
			return
		case d, ok := <-deliveries:
			if !ok {
				logger.Warn("rabbitmq trigger delivery channel closed", zap.String("process_id", t.processID))
				return
			}
			t.handleDelivery(d, proc)
		}
	}
}

func (t *rabbitMQTrigger) handleDelivery(d amqp.Delivery, proc *dsl.Process) {
	triggerData := map[string]interface{}{
		"payload": string(d.Body),
		"properties": map[string]interface{}{
			"delivery_mode": int(d.DeliveryMode),
			"headers":       amqpHeadersToMap(d.Headers),
		},
	}

	if _, err := t.executor.Execute(proc, triggerData); err != nil {
		logger.Error("rabbitmq trigger execution failed, nacking message",
			zap.String("process_id", proc.Definition.ID), zap.Error(err))
		_ = d.Nack(false, true) // requeue on failure
		return
	}

	_ = d.Ack(false)
}

// Stop closes the channel, connection, and signals the consumer goroutine.
func (t *rabbitMQTrigger) Stop() error {
	if t.done != nil {
		close(t.done)
		t.done = nil
	}
	if t.channel != nil {
		if err := t.channel.Cancel("flowjs-runner", false); err != nil {
			logger.Warn("rabbitmq trigger cancel consumer failed", zap.Error(err))
		}
		t.channel.Close()
		t.channel = nil
	}
	if t.conn != nil {
		// Give the consumer goroutine a short window to drain.
		time.Sleep(consumerDrainTimeout)
		t.conn.Close()
		t.conn = nil
	}
	return nil
}

func (t *rabbitMQTrigger) Type() string { return "rabbitmq-consumer" }

// defaultPrefetch is the QoS prefetch count applied when the trigger config
// doesn't specify one.
const defaultPrefetch = 1

// rabbitmqTriggerConfig extracts AMQP connection parameters from trigger config.
func rabbitmqTriggerConfig(config map[string]interface{}) (urlAMQP, queue, vhost string, prefetch int, err error) {
	if config == nil {
		return "", "", "", 0, fmt.Errorf("trigger config is nil; expected {\"url_amqp\":\"...\",\"queue\":\"...\"}")
	}
	urlAMQP, _ = config["url_amqp"].(string)
	if urlAMQP == "" {
		return "", "", "", 0, fmt.Errorf("trigger config missing required field \"url_amqp\"")
	}
	queue, _ = config["queue"].(string)
	if queue == "" {
		return "", "", "", 0, fmt.Errorf("trigger config missing required field \"queue\"")
	}
	vhost, _ = config["vhost"].(string)
	prefetch = defaultPrefetch
	switch v := config["prefetch"].(type) {
	case int:
		if v > 0 {
			prefetch = v
		}
	case float64:
		if v > 0 {
			prefetch = int(v)
		}
	}
	return urlAMQP, queue, vhost, prefetch, nil
}

// amqpHeadersToMap converts amqp.Table into a plain map for JSON serialization.
func amqpHeadersToMap(headers amqp.Table) map[string]interface{} {
	out := make(map[string]interface{}, len(headers))
	for k, v := range headers {
		out[k] = v
	}
	return out
}

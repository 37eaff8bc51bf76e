package activities

import (
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/flowforge/engine/internal/execctx"
)

// publishConfirmTimeout bounds how long Execute waits for the broker to
// acknowledge a published message once publisher confirms are enabled.
const publishConfirmTimeout = 5 * time.Second

// RabbitMQProducerActivity implements the `rabbitmq-producer` node type.
//
// config fields:
//
//	url_amqp:    AMQP URL (required)
//	exchange:    exchange name (default "")
//	routing_key: routing key (required)
//	payload:     message body (any — serialised to JSON); read from
//	             input["payload"] first, falling back to config["payload"]
//	properties:  map with optional delivery_mode(int), content_type(string)
//
// The channel is put into confirm mode before publishing, so a broker NACK
// (e.g. the message couldn't be routed to a durable queue) surfaces as an
// activity error rather than a silently dropped message.
type RabbitMQProducerActivity struct{}

// Name returns the DSL type identifier for this activity.
func (a *RabbitMQProducerActivity) Name() string { return "rabbitmq-producer" }

// Execute publishes a single message, waits for the broker's publisher
// confirm, and closes the connection.
func (a *RabbitMQProducerActivity) Execute(input map[string]interface{}, config map[string]interface{}, ctx *execctx.Context) (map[string]interface{}, error) {
	urlAMQP, ok := config["url_amqp"].(string)
	if !ok || urlAMQP == "" {
		return nil, fmt.Errorf("rabbitmq-producer activity: missing required config field 'url_amqp'")
	}
	routingKey, ok := config["routing_key"].(string)
	if !ok || routingKey == "" {
		return nil, fmt.Errorf("rabbitmq-producer activity: missing required config field 'routing_key'")
	}
	exchange, _ := config["exchange"].(string)

	payload, ok := input["payload"]
	if !ok {
		payload = config["payload"]
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq-producer activity: marshal payload: %w", err)
	}

	contentType, deliveryMode := publishProperties(config["properties"])

	conn, ch, err := dialAMQPChannel(urlAMQP)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq-producer activity: %w", err)
	}
	defer conn.Close()
	defer ch.Close()

	if err := ch.Confirm(false); err != nil {
		return nil, fmt.Errorf("rabbitmq-producer activity: enable publisher confirms: %w", err)
	}
	confirms := ch.NotifyPublish(make(chan amqp.Confirmation, 1))

	err = ch.Publish(exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  contentType,
		DeliveryMode: deliveryMode,
		Body:         payloadBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("rabbitmq-producer activity: publish: %w", err)
	}

	confirmed, err := awaitPublishConfirm(confirms)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq-producer activity: %w", err)
	}

	return map[string]interface{}{
		"published":   true,
		"confirmed":   confirmed,
		"routing_key": routingKey,
	}, nil
}

// dialAMQPChannel connects to the broker and opens a channel in one step,
// closing the connection if channel creation fails.
func dialAMQPChannel(urlAMQP string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(urlAMQP)
	if err != nil {
		return nil, nil, fmt.Errorf("connect: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	return conn, ch, nil
}

// publishProperties reads content_type and delivery_mode from the
// node's properties config, defaulting to JSON content and persistent
// delivery.
func publishProperties(raw interface{}) (contentType string, deliveryMode uint8) {
	contentType = "application/json"
	deliveryMode = amqp.Persistent

	props, ok := raw.(map[string]interface{})
	if !ok {
		return contentType, deliveryMode
	}
	if ct, ok := props["content_type"].(string); ok && ct != "" {
		contentType = ct
	}
	switch v := props["delivery_mode"].(type) {
	case int:
		deliveryMode = uint8(v)
	case float64:
		deliveryMode = uint8(v)
	}
	return contentType, deliveryMode
}

// awaitPublishConfirm blocks for the broker's ack/nack on the just-published
// message, up to publishConfirmTimeout.
func awaitPublishConfirm(confirms <-chan amqp.Confirmation) (bool, error) {
	select {
	case conf, ok := <-confirms:
		if !ok {
			return false, fmt.Errorf("confirmation channel closed before ack")
		}
		if !conf.Ack {
			return false, fmt.Errorf("broker nacked the published message")
		}
		return true, nil
	case <-time.After(publishConfirmTimeout):
		return false, fmt.Errorf("timed out waiting for broker confirmation")
	}
}

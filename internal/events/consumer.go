package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// Consumer defines the interface for event consumption
type Consumer interface {
	Start() error
	Close() error
}

// ResourceCleanup is what the consumer needs from the access core when
// the content-management service deletes a resource: every agreement and
// grant on it must die with it.
type ResourceCleanup interface {
	HandleResourceDeleted(ctx context.Context, resourceType, resourceID string) error
}

// ResourceDeletedEvent is the shape published by the content service on
// its content-events exchange.
type ResourceDeletedEvent struct {
	ResourceType string `json:"resourceType"`
	ResourceID   string `json:"resourceId"`
	OwnerID      string `json:"ownerId"`
	Timestamp    int64  `json:"timestamp"`
}

type EventConsumer struct {
	conn      *amqp091.Connection
	channel   *amqp091.Channel
	queueName string
	cleanup   ResourceCleanup
	shutdown  chan struct{}
	wg        sync.WaitGroup
	enabled   bool
}

func NewEventConsumer(rabbitURI string, cleanup ResourceCleanup) (*EventConsumer, error) {
	if rabbitURI == "" {
		log.Println("Warning: RabbitMQ URI is empty, event consumption is disabled")
		return &EventConsumer{
			cleanup:  cleanup,
			shutdown: make(chan struct{}),
			enabled:  false,
		}, nil
	}

	conn, err := amqp091.Dial(rabbitURI)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	err = channel.Qos(
		10,    // prefetch count
		0,     // prefetch size
		false, // global
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	return &EventConsumer{
		conn:      conn,
		channel:   channel,
		queueName: "access-service-events",
		cleanup:   cleanup,
		shutdown:  make(chan struct{}),
		enabled:   true,
	}, nil
}

// Start declares the content-events exchange, binds the deletion routing
// keys and begins consuming.
func (c *EventConsumer) Start() error {
	if !c.enabled {
		log.Println("Event consumption is disabled, not starting consumer")
		return nil
	}

	err := c.channel.ExchangeDeclare(
		"content-events", // name
		"topic",          // type
		true,             // durable
		false,            // auto-deleted
		false,            // internal
		false,            // no-wait
		nil,              // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare content-events exchange: %w", err)
	}

	_, err = c.channel.QueueDeclare(
		c.queueName, // name
		true,        // durable
		false,       // delete when unused
		false,       // exclusive
		false,       // no-wait
		nil,         // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	for _, routingKey := range []string{"pitch.deleted", "media.deleted"} {
		err = c.channel.QueueBind(
			c.queueName,      // queue name
			routingKey,       // routing key
			"content-events", // exchange
			false,            // no-wait
			nil,              // arguments
		)
		if err != nil {
			return fmt.Errorf("failed to bind queue with key %s: %w", routingKey, err)
		}
	}

	msgs, err := c.channel.Consume(
		c.queueName, // queue
		"",          // consumer
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return fmt.Errorf("failed to register a consumer: %w", err)
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.consume(msgs)
	}()

	log.Println("Event consumer started, listening for resource deletions")
	return nil
}

func (c *EventConsumer) consume(msgs <-chan amqp091.Delivery) {
	for {
		select {
		case <-c.shutdown:
			log.Println("Stopping event consumer")
			return
		case msg, ok := <-msgs:
			if !ok {
				log.Println("Message channel closed, consumer stopping")
				return
			}

			if err := c.processMessage(msg); err != nil {
				log.Printf("FAILED to process message - RoutingKey: %s, Error: %v", msg.RoutingKey, err)
				// Requeue once; a poison message is dropped on redelivery.
				msg.Nack(false, !msg.Redelivered)
				continue
			}
			msg.Ack(false)
		}
	}
}

func (c *EventConsumer) processMessage(msg amqp091.Delivery) error {
	var event ResourceDeletedEvent
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		return fmt.Errorf("failed to decode %s event: %w", msg.RoutingKey, err)
	}
	if event.ResourceID == "" {
		return fmt.Errorf("%s event missing resource id", msg.RoutingKey)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := c.cleanup.HandleResourceDeleted(ctx, event.ResourceType, event.ResourceID); err != nil {
		return fmt.Errorf("cleanup for deleted %s %s failed: %w", event.ResourceType, event.ResourceID, err)
	}

	log.Printf("Processed %s for %s %s", msg.RoutingKey, event.ResourceType, event.ResourceID)
	return nil
}

func (c *EventConsumer) Close() error {
	close(c.shutdown)

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		log.Println("Timed out waiting for consumer to stop")
	}

	var err error
	if c.channel != nil {
		err = c.channel.Close()
	}
	if c.conn != nil {
		err = c.conn.Close()
	}
	return err
}

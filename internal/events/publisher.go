package events

import (
	"log"
)

type Publisher interface {
	PublishAgreementEvent(event *AgreementEvent) error
	PublishGrantEvent(event *GrantEvent) error

	// Close closes the publisher and releases resources
	Close() error
}

type EventPublisher struct {
	rabbitMQ *RabbitMQClient
	enabled  bool
}

// NewDisabledPublisher returns a publisher that drops every event. Used
// when the broker is unreachable so publishing stays fire-and-forget.
func NewDisabledPublisher() *EventPublisher {
	return &EventPublisher{enabled: false}
}

func NewEventPublisher(rabbitURI string) (*EventPublisher, error) {
	if rabbitURI == "" {
		log.Println("Warning: RabbitMQ URI is empty, event publishing is disabled")
		return &EventPublisher{
			enabled: false,
		}, nil
	}

	client, err := NewRabbitMQClient(rabbitURI)
	if err != nil {
		return nil, err
	}

	if err := client.setupExchanges(); err != nil {
		client.Close()
		return nil, err
	}

	return &EventPublisher{
		rabbitMQ: client,
		enabled:  true,
	}, nil
}

func (p *EventPublisher) PublishAgreementEvent(event *AgreementEvent) error {
	if !p.enabled {
		log.Printf("Event publishing is disabled, skipping %s", event.EventType)
		return nil
	}

	body, err := event.ToJSON()
	if err != nil {
		return err
	}

	if err := p.rabbitMQ.PublishEvent(ExchangeAccessEvents, event.EventType, body); err != nil {
		return err
	}

	log.Printf("Published %s event for agreement %s", event.EventType, event.AgreementID)
	return nil
}

func (p *EventPublisher) PublishGrantEvent(event *GrantEvent) error {
	if !p.enabled {
		log.Printf("Event publishing is disabled, skipping %s", event.EventType)
		return nil
	}

	body, err := event.ToJSON()
	if err != nil {
		return err
	}

	if err := p.rabbitMQ.PublishEvent(ExchangeAccessEvents, event.EventType, body); err != nil {
		return err
	}

	log.Printf("Published %s event for user %s on %s/%s", event.EventType, event.UserID, event.ResourceType, event.ResourceID)
	return nil
}

func (p *EventPublisher) Close() error {
	if p.rabbitMQ == nil {
		return nil
	}
	return p.rabbitMQ.Close()
}

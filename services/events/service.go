package events

import (
	"github.com/pkg/errors"

	"github.com/customeros/exchangestack/internal/logger"
)

// EventsService owns the RabbitMQ connections used to publish mail events
// and consume queued sends.
type EventsService struct {
	Publisher  *RabbitMQPublisher
	Subscriber *RabbitMQSubscriber
}

func NewEventsService(rabbitmqURL string, log logger.Logger, publisherConfig *PublisherConfig, subscriberConfig *SubscriberConfig) (*EventsService, error) {
	publisher, err := NewRabbitMQPublisher(rabbitmqURL, log, publisherConfig)
	if err != nil {
		return nil, errors.Wrap(err, "starting event publisher")
	}
	subscriber, err := NewRabbitMQSubscriber(rabbitmqURL, log, subscriberConfig)
	if err != nil {
		_ = publisher.Close()
		return nil, errors.Wrap(err, "starting event subscriber")
	}
	return &EventsService{Publisher: publisher, Subscriber: subscriber}, nil
}

// Close stops consuming first so no send is accepted after the publisher
// is gone. The first error wins; both sides are always closed.
func (s *EventsService) Close() error {
	var first error
	if s.Subscriber != nil {
		if err := s.Subscriber.Close(); err != nil {
			first = errors.Wrap(err, "closing event subscriber")
		}
	}
	if s.Publisher != nil {
		if err := s.Publisher.Close(); err != nil && first == nil {
			first = errors.Wrap(err, "closing event publisher")
		}
	}
	return first
}

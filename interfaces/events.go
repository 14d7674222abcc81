package interfaces

import (
	"context"

	"github.com/customeros/exchangestack/dto"
)

// EventPublisher puts mailbox changes and queued sends on the broker.
type EventPublisher interface {
	PublishMailboxChanged(ctx context.Context, message dto.MailboxChanged) error
	PublishSendEmail(ctx context.Context, message dto.SendEmail) error
	Close() error
}

// EventListener handles one event type from one queue. event is a
// dto.Event.
type EventListener interface {
	Handle(ctx context.Context, event any) error
	GetEventType() string
	GetQueueName() string
}

type EventSubscriber interface {
	RegisterListener(listener EventListener)
	ListenQueue(queueName string) error
	Close() error
}

package dto

import (
	"time"

	"github.com/customeros/exchangestack/internal/enum"
)

// Event is the envelope of every message on the RabbitMQ exchanges.
type Event struct {
	Event    EventDetails  `json:"event"`
	Metadata EventMetadata `json:"metadata"`
}

// EventDetails identifies the account and entity an event is about. Data
// holds one of the payloads in this package, named by EventType.
type EventDetails struct {
	Id         string          `json:"id"`
	AccountId  string          `json:"accountId"`
	EntityId   string          `json:"entityId"`
	EntityType enum.EntityType `json:"entityType"`
	EventType  string          `json:"eventType"`
	Data       any             `json:"data"`
}

type EventMetadata struct {
	UberTraceId string    `json:"uber-trace-id,omitempty"`
	AppSource   string    `json:"appSource,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

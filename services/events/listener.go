package events

import (
	"context"
	"encoding/json"
	"reflect"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/exchangestack/dto"
	"github.com/customeros/exchangestack/internal/logger"
	"github.com/customeros/exchangestack/internal/tracing"
)

// BaseEventListener carries what every queue listener shares: its queue,
// the event type it accepts and the envelope checks.
type BaseEventListener struct {
	logger    logger.Logger
	eventType string
	queueName string
}

func NewBaseEventListener(logger logger.Logger, eventType, queueName string) BaseEventListener {
	return BaseEventListener{
		logger:    logger,
		eventType: eventType,
		queueName: queueName,
	}
}

func (b BaseEventListener) GetEventType() string {
	return b.eventType
}

func (b BaseEventListener) GetQueueName() string {
	return b.queueName
}

func asEvent(input any) (dto.Event, bool) {
	switch e := input.(type) {
	case dto.Event:
		return e, true
	case *dto.Event:
		if e != nil {
			return *e, true
		}
	}
	return dto.Event{}, false
}

// ValidateBaseEvent checks the envelope of a consumed event before its
// data is decoded.
func (b BaseEventListener) ValidateBaseEvent(ctx context.Context, input any) (*dto.Event, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Events.ValidateEvent")
	defer span.Finish()
	tracing.SetDefaultListenerSpanTags(ctx, span)

	message, ok := asEvent(input)
	if !ok {
		err := errors.Errorf("unable to cast %T to event type", input)
		tracing.TraceErr(span, err)
		return nil, err
	}

	checks := []struct {
		failed bool
		reason string
	}{
		{message.Event.Data == nil, "message data is nil"},
		{message.Event.EntityId == "", "entity id is empty"},
		{message.Event.AccountId == "", "account id is empty"},
		{message.Event.EventType == "", "event type is empty"},
	}
	for _, check := range checks {
		if check.failed {
			err := errors.New(check.reason)
			tracing.TraceErr(span, err)
			return nil, err
		}
	}
	tracing.TagAccount(span, message.Event.AccountId)
	return &message, nil
}

// DecodeEventData converts the loosely typed event data into T by a JSON
// round trip.
func DecodeEventData[T any](ctx context.Context, event *dto.Event) (T, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Listener.DecodeEventData")
	defer span.Finish()
	tracing.SetDefaultListenerSpanTags(ctx, span)

	var decoded T
	raw, err := json.Marshal(event.Event.Data)
	if err != nil {
		tracing.TraceErr(span, err)
		return decoded, errors.Wrap(err, "encoding event data")
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		tracing.TraceErr(span, err)
		return decoded, errors.Wrapf(err, "decoding event data as %s", GetEventType[T]())
	}
	return decoded, nil
}

// GetEventType names an event by its data type, e.g. SendEmail.
func GetEventType[T any]() string {
	return typeName(reflect.TypeOf((*T)(nil)).Elem())
}

func eventTypeOf(data any) string {
	return typeName(reflect.TypeOf(data))
}

func typeName(t reflect.Type) string {
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil {
		return ""
	}
	return t.Name()
}

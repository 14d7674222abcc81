package events

import (
	"context"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/exchangestack/dto"
	"github.com/customeros/exchangestack/interfaces"
	"github.com/customeros/exchangestack/internal/logger"
	"github.com/customeros/exchangestack/internal/tracing"
)

// SendEmailListener sends queued emails through the account they name.
type SendEmailListener struct {
	BaseEventListener
	exchange interfaces.ExchangeService
}

func NewSendEmailListener(log logger.Logger, exchange interfaces.ExchangeService) *SendEmailListener {
	return &SendEmailListener{
		BaseEventListener: NewBaseEventListener(log, GetEventType[dto.SendEmail](), QueueSendEmail),
		exchange:          exchange,
	}
}

func (l *SendEmailListener) Handle(ctx context.Context, baseEvent any) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "SendEmailListener.Handle")
	defer span.Finish()
	tracing.SetDefaultListenerSpanTags(ctx, span)

	event, err := l.ValidateBaseEvent(ctx, baseEvent)
	if err != nil {
		return err
	}

	message, err := DecodeEventData[dto.SendEmail](ctx, event)
	if err != nil {
		return errors.Wrap(err, "decoding send email event")
	}
	if message.AccountID == "" {
		message.AccountID = event.Event.AccountId
	}
	tracing.TagAccount(span, message.AccountID)

	if err := l.exchange.Send(ctx, message.AccountID, &message.Email); err != nil {
		tracing.TraceErr(span, err)
		l.logger.Errorf("[%s] failed to send queued email: %v", message.AccountID, err)
		return err
	}
	return nil
}

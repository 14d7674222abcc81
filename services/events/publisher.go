package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"github.com/rabbitmq/amqp091-go"

	"github.com/customeros/exchangestack/dto"
	"github.com/customeros/exchangestack/interfaces"
	"github.com/customeros/exchangestack/internal/enum"
	"github.com/customeros/exchangestack/internal/logger"
	"github.com/customeros/exchangestack/internal/tracing"
	"github.com/customeros/exchangestack/internal/utils"
)

const (
	DefaultMessageTTL          = 240 * time.Hour
	DefaultMaxRetries          = 3
	DefaultPublishTimeout      = 5 * time.Second
	DefaultReconnectBackoff    = time.Second
	DefaultMaxReconnectBackoff = 30 * time.Second
)

type PublisherConfig struct {
	MessageTTL          time.Duration
	MaxRetries          int
	PublishTimeout      time.Duration
	ReconnectBackoff    time.Duration
	MaxReconnectBackoff time.Duration
}

func defaultPublisherConfig() PublisherConfig {
	return PublisherConfig{
		MessageTTL:          DefaultMessageTTL,
		MaxRetries:          DefaultMaxRetries,
		PublishTimeout:      DefaultPublishTimeout,
		ReconnectBackoff:    DefaultReconnectBackoff,
		MaxReconnectBackoff: DefaultMaxReconnectBackoff,
	}
}

var _ interfaces.EventPublisher = (*RabbitMQPublisher)(nil)

// RabbitMQPublisher publishes events with publisher confirms over a single
// channel. Publishes are serialized so every confirmation matches its
// message.
type RabbitMQPublisher struct {
	mu       sync.Mutex
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	confirms chan amqp091.Confirmation
	closed   bool

	url    string
	logger logger.Logger
	config PublisherConfig
}

func NewRabbitMQPublisher(rabbitmqURL string, log logger.Logger, config *PublisherConfig) (*RabbitMQPublisher, error) {
	cfg := defaultPublisherConfig()
	if config != nil {
		cfg = *config
	}
	p := &RabbitMQPublisher{url: rabbitmqURL, logger: log, config: cfg}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.dialLocked(); err != nil {
		return nil, err
	}
	return p, nil
}

// entityRef is what an event is about.
type entityRef struct {
	accountID string
	id        string
	kind      enum.EntityType
}

func mailboxChangedEntity(message dto.MailboxChanged) entityRef {
	if message.EventType == enum.MailEventFolders {
		return entityRef{accountID: message.AccountID, id: message.AccountID, kind: enum.EntityFolder}
	}
	return entityRef{
		accountID: message.AccountID,
		id:        fmt.Sprintf("%s-%s-%s", message.AccountID, message.FolderID, message.ItemID),
		kind:      enum.EntityMessage,
	}
}

// PublishMailboxChanged fans a reconciliation change out to every consumer
// of mail events.
func (p *RabbitMQPublisher) PublishMailboxChanged(ctx context.Context, message dto.MailboxChanged) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "RabbitMQPublisher.PublishMailboxChanged")
	defer span.Finish()
	tracing.TagAccount(span, message.AccountID)
	span.LogKV("eventType", message.EventType, "folderId", message.FolderID)

	event := newEvent(ctx, tracing.UberTraceID(span.Context()), mailboxChangedEntity(message), message)
	if err := p.publish(ctx, event, ExchangeMailEvents, ""); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

// PublishSendEmail queues an email to be sent by the account it names.
func (p *RabbitMQPublisher) PublishSendEmail(ctx context.Context, message dto.SendEmail) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "RabbitMQPublisher.PublishSendEmail")
	defer span.Finish()
	tracing.TagAccount(span, message.AccountID)

	ref := entityRef{accountID: message.AccountID, id: message.AccountID, kind: enum.EntityAccount}
	event := newEvent(ctx, tracing.UberTraceID(span.Context()), ref, message)
	if err := p.publish(ctx, event, ExchangeDirect, RoutingKeySendEmail); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

func newEvent(ctx context.Context, traceID string, ref entityRef, data any) dto.Event {
	return dto.Event{
		Event: dto.EventDetails{
			Id:         utils.GenerateNanoIDWithPrefix("event", 21),
			AccountId:  ref.accountID,
			EntityId:   ref.id,
			EntityType: ref.kind,
			EventType:  eventTypeOf(data),
			Data:       data,
		},
		Metadata: dto.EventMetadata{
			UberTraceId: traceID,
			AppSource:   utils.GetAppSourceFromContext(ctx),
			Timestamp:   time.Now().UTC(),
		},
	}
}

func (p *RabbitMQPublisher) publish(ctx context.Context, event dto.Event, exchange, routingKey string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "RabbitMQPublisher.Publish")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("exchange", exchange)
	tracing.LogObjectAsJson(span, "event", event)

	body, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "encoding event")
	}

	var lastErr error
	for attempt := 1; attempt <= p.config.MaxRetries; attempt++ {
		if lastErr = p.publishConfirmed(ctx, body, exchange, routingKey); lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.logger.Warnf("Publishing %s to %s failed (attempt %d/%d): %v",
			event.Event.EventType, exchange, attempt, p.config.MaxRetries, lastErr)
		time.Sleep(time.Duration(attempt) * 100 * time.Millisecond)
	}
	return errors.Wrapf(lastErr, "publishing %s after %d attempts", event.Event.EventType, p.config.MaxRetries)
}

func (p *RabbitMQPublisher) publishConfirmed(ctx context.Context, body []byte, exchange, routingKey string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.readyLocked(); err != nil {
		return err
	}

	err := p.channel.PublishWithContext(ctx, exchange, routingKey, true, false, amqp091.Publishing{
		DeliveryMode: amqp091.Persistent,
		ContentType:  "application/json",
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return errors.Wrap(err, "publish")
	}

	timer := time.NewTimer(p.config.PublishTimeout)
	defer timer.Stop()
	select {
	case confirm := <-p.confirms:
		if !confirm.Ack {
			return errors.New("broker rejected message")
		}
		return nil
	case <-timer.C:
		return errors.New("timed out waiting for publish confirmation")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// readyLocked redials or reopens the channel when either has dropped.
func (p *RabbitMQPublisher) readyLocked() error {
	if p.closed {
		return errors.New("publisher is closed")
	}
	if p.conn == nil || p.conn.IsClosed() {
		return p.dialLocked()
	}
	if p.channel == nil || p.channel.IsClosed() {
		return p.openChannelLocked()
	}
	return nil
}

func (p *RabbitMQPublisher) dialLocked() error {
	conn, err := amqp091.Dial(p.url)
	if err != nil {
		return errors.Wrap(err, "connecting to RabbitMQ")
	}

	setup, err := conn.Channel()
	if err != nil {
		conn.Close()
		return errors.Wrap(err, "opening setup channel")
	}
	err = declareTopology(setup, p.config.MessageTTL)
	setup.Close()
	if err != nil {
		conn.Close()
		return err
	}

	p.conn = conn
	if err := p.openChannelLocked(); err != nil {
		conn.Close()
		return err
	}
	go p.watch(conn)
	return nil
}

func (p *RabbitMQPublisher) openChannelLocked() error {
	channel, err := p.conn.Channel()
	if err != nil {
		return errors.Wrap(err, "opening publish channel")
	}
	if err := channel.Confirm(false); err != nil {
		channel.Close()
		return errors.Wrap(err, "enabling publisher confirms")
	}
	p.confirms = channel.NotifyPublish(make(chan amqp091.Confirmation, 1))
	p.channel = channel
	return nil
}

// watch redials after conn drops unexpectedly. The channel returned by
// NotifyClose is closed without a value on a graceful Close.
func (p *RabbitMQPublisher) watch(conn *amqp091.Connection) {
	reason, ok := <-conn.NotifyClose(make(chan *amqp091.Error, 1))
	if !ok {
		return
	}
	p.logger.Warnf("RabbitMQ publisher connection lost: %v", reason)

	backoff := p.config.ReconnectBackoff
	for {
		p.mu.Lock()
		if p.closed || (p.conn != conn && !p.conn.IsClosed()) {
			p.mu.Unlock()
			return
		}
		err := p.dialLocked()
		p.mu.Unlock()
		if err == nil {
			p.logger.Info("RabbitMQ publisher reconnected")
			return
		}
		p.logger.Errorf("RabbitMQ publisher reconnect failed, retrying in %v: %v", backoff, err)
		time.Sleep(backoff)
		backoff = nextBackoff(backoff, p.config.MaxReconnectBackoff)
	}
}

func (p *RabbitMQPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	var first error
	if p.channel != nil && !p.channel.IsClosed() {
		first = p.channel.Close()
	}
	if p.conn != nil && !p.conn.IsClosed() {
		if err := p.conn.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rabbitmq/amqp091-go"

	"github.com/customeros/exchangestack/dto"
	"github.com/customeros/exchangestack/interfaces"
	"github.com/customeros/exchangestack/internal/logger"
	"github.com/customeros/exchangestack/internal/tracing"
	"github.com/customeros/exchangestack/internal/utils"
)

const ackAttempts = 5

type SubscriberConfig struct {
	ReconnectBackoff    time.Duration
	MaxReconnectBackoff time.Duration
}

var _ interfaces.EventSubscriber = (*RabbitMQSubscriber)(nil)

// RabbitMQSubscriber dispatches deliveries to the listener registered for
// their event type. Each queue is consumed by its own goroutine which
// survives connection loss.
type RabbitMQSubscriber struct {
	mu     sync.Mutex
	conn   *amqp091.Connection
	closed bool

	listeners sync.Map // event type -> interfaces.EventListener

	url    string
	logger logger.Logger
	config SubscriberConfig
}

func NewRabbitMQSubscriber(rabbitmqURL string, log logger.Logger, config *SubscriberConfig) (*RabbitMQSubscriber, error) {
	cfg := SubscriberConfig{
		ReconnectBackoff:    DefaultReconnectBackoff,
		MaxReconnectBackoff: DefaultMaxReconnectBackoff,
	}
	if config != nil {
		cfg = *config
	}
	s := &RabbitMQSubscriber{url: rabbitmqURL, logger: log, config: cfg}
	if _, err := s.connection(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *RabbitMQSubscriber) RegisterListener(listener interfaces.EventListener) {
	s.listeners.Store(listener.GetEventType(), listener)
	s.logger.Infof("Registered %s listener on queue %s", listener.GetEventType(), listener.GetQueueName())
}

// ListenQueue starts consuming queueName in the background.
func (s *RabbitMQSubscriber) ListenQueue(queueName string) error {
	if s.isClosed() {
		return errors.New("subscriber is closed")
	}
	go s.consume(queueName)
	return nil
}

func (s *RabbitMQSubscriber) consume(queueName string) {
	backoff := s.config.ReconnectBackoff
	for !s.isClosed() {
		err := s.consumeOnce(queueName)
		if s.isClosed() {
			return
		}
		if err == nil {
			backoff = s.config.ReconnectBackoff
			s.logger.Warnf("Delivery channel for queue %s closed, resubscribing", queueName)
		} else {
			s.logger.Errorf("Consuming queue %s failed, retrying in %v: %v", queueName, backoff, err)
		}
		time.Sleep(backoff)
		backoff = nextBackoff(backoff, s.config.MaxReconnectBackoff)
	}
}

// consumeOnce drains deliveries until the channel closes.
func (s *RabbitMQSubscriber) consumeOnce(queueName string) error {
	conn, err := s.connection()
	if err != nil {
		return err
	}
	channel, err := conn.Channel()
	if err != nil {
		return errors.Wrap(err, "opening consumer channel")
	}
	defer channel.Close()

	deliveries, err := channel.Consume(queueName, "", false, false, false, false, nil)
	if err != nil {
		return errors.Wrapf(err, "consuming %s", queueName)
	}
	s.logger.Infof("Listening for messages on queue %s", queueName)

	for d := range deliveries {
		s.deliver(d, queueName)
	}
	return nil
}

func (s *RabbitMQSubscriber) deliver(d amqp091.Delivery, queueName string) {
	defer tracing.RecoverAndLogToJaeger(s.logger)

	err := s.dispatch(d.Body, queueName)
	if err != nil {
		s.logger.Errorf("Event on queue %s failed, dead lettering: %v", queueName, err)
	}
	settle := func() error { return d.Ack(false) }
	if err != nil {
		settle = func() error { return d.Nack(false, false) }
	}
	for attempt := 1; attempt <= ackAttempts; attempt++ {
		if settle() == nil {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	s.logger.Errorf("Could not settle delivery %d on queue %s", d.DeliveryTag, queueName)
}

// dispatch hands body to its listener. Events without a listener on this
// queue are acknowledged and dropped.
func (s *RabbitMQSubscriber) dispatch(body []byte, queueName string) error {
	var event dto.Event
	if err := json.Unmarshal(body, &event); err != nil {
		return errors.Wrap(err, "decoding event")
	}

	ctx := utils.WithCustomContext(context.Background(), &utils.CustomContext{
		AppSource: event.Metadata.AppSource,
		AccountId: event.Event.AccountId,
	})
	ctx = tracing.WithAccount(ctx, event.Event.AccountId)
	ctx, span := tracing.StartRabbitMQMessageTracerSpanWithHeader(ctx, "RabbitMQSubscriber.Dispatch", event.Metadata.UberTraceId)
	defer span.Finish()
	span.LogKV("eventType", event.Event.EventType, "queue", queueName)

	value, ok := s.listeners.Load(event.Event.EventType)
	if !ok {
		s.logger.Infof("No listener for %s on queue %s", event.Event.EventType, queueName)
		return nil
	}
	listener := value.(interfaces.EventListener)
	if listener.GetQueueName() != queueName {
		s.logger.Warnf("%s arrived on %s, its listener consumes %s", event.Event.EventType, queueName, listener.GetQueueName())
		return nil
	}

	if err := listener.Handle(ctx, event); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

// connection returns the shared connection, dialing when it has dropped.
func (s *RabbitMQSubscriber) connection() (*amqp091.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New("subscriber is closed")
	}
	if s.conn != nil && !s.conn.IsClosed() {
		return s.conn, nil
	}
	conn, err := amqp091.Dial(s.url)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to RabbitMQ")
	}
	s.conn = conn
	return conn, nil
}

func (s *RabbitMQSubscriber) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *RabbitMQSubscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.conn != nil && !s.conn.IsClosed() {
		return s.conn.Close()
	}
	return nil
}

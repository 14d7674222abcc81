package events

import (
	"time"

	"github.com/pkg/errors"
	"github.com/rabbitmq/amqp091-go"
)

const (
	ExchangeDirect     = "exchangestack-direct"
	ExchangeMailEvents = "exchangestack-mail-events"
	ExchangeDeadLetter = "dead-letter"

	QueueMailEvents = "exchange-mail-events"
	QueueSendEmail  = "exchange-send-email"

	RoutingKeyDeadLetter = "dead-letter"
	RoutingKeySendEmail  = "exchangestack-send-email"

	dlqSuffix = "-dlq"
)

type exchangeDecl struct {
	name string
	kind string
}

// queueDecl is a durable queue bound to exchange. Rejected or expired
// messages move to its dead letter queue.
type queueDecl struct {
	name       string
	exchange   string
	routingKey string
}

func (q queueDecl) deadLetterQueue() string {
	return q.name + dlqSuffix
}

var (
	exchangeDecls = []exchangeDecl{
		{name: ExchangeDeadLetter, kind: amqp091.ExchangeDirect},
		{name: ExchangeMailEvents, kind: amqp091.ExchangeFanout},
		{name: ExchangeDirect, kind: amqp091.ExchangeDirect},
	}
	queueDecls = []queueDecl{
		{name: QueueMailEvents, exchange: ExchangeMailEvents},
		{name: QueueSendEmail, exchange: ExchangeDirect, routingKey: RoutingKeySendEmail},
	}
)

func (q queueDecl) arguments(ttl time.Duration) amqp091.Table {
	return amqp091.Table{
		"x-dead-letter-exchange":    ExchangeDeadLetter,
		"x-dead-letter-routing-key": RoutingKeyDeadLetter,
		"x-message-ttl":             ttl.Milliseconds(),
	}
}

// declareTopology creates every exchange and queue the service uses. It is
// idempotent and runs on each (re)connect.
func declareTopology(channel *amqp091.Channel, ttl time.Duration) error {
	for _, ex := range exchangeDecls {
		if err := channel.ExchangeDeclare(ex.name, ex.kind, true, false, false, false, nil); err != nil {
			return errors.Wrapf(err, "declaring exchange %s", ex.name)
		}
	}
	for _, q := range queueDecls {
		dlq := q.deadLetterQueue()
		if _, err := channel.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
			return errors.Wrapf(err, "declaring queue %s", dlq)
		}
		if err := channel.QueueBind(dlq, RoutingKeyDeadLetter, ExchangeDeadLetter, false, nil); err != nil {
			return errors.Wrapf(err, "binding queue %s", dlq)
		}
		if _, err := channel.QueueDeclare(q.name, true, false, false, false, q.arguments(ttl)); err != nil {
			return errors.Wrapf(err, "declaring queue %s", q.name)
		}
		if err := channel.QueueBind(q.name, q.routingKey, q.exchange, false, nil); err != nil {
			return errors.Wrapf(err, "binding queue %s to %s", q.name, q.exchange)
		}
	}
	return nil
}

// nextBackoff doubles d up to limit.
func nextBackoff(d, limit time.Duration) time.Duration {
	d *= 2
	if d > limit {
		return limit
	}
	return d
}

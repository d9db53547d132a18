package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"intake.org/internal/audit"
	"intake.org/internal/obs"
)

const routingPrefix = "intake."

type amqpChannel interface {
	Confirm(noWait bool) error
	NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes events to a topic exchange, one confirm-mode channel
// per publish. Deliver returns only after the broker acks the message.
type AMQPPublisher struct {
	conn     *amqp.Connection
	open     func() (amqpChannel, error)
	exchange string
	producer string
	log      *logrus.Logger
}

// DialAMQP connects and declares a durable topic exchange.
func DialAMQP(url, exchange, producer string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &AMQPPublisher{
		conn:     conn,
		open:     func() (amqpChannel, error) { return conn.Channel() },
		exchange: exchange,
		producer: producer,
		log:      obs.Logger(),
	}, nil
}

func (p *AMQPPublisher) Name() string { return "amqp" }

func (p *AMQPPublisher) Deliver(ctx context.Context, evt Event) error {
	ch, err := p.open()
	if err != nil {
		return err
	}
	defer ch.Close()
	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("confirm mode: %w", err)
	}
	confirms := ch.NotifyPublish(make(chan amqp.Confirmation, 1))

	env := Wrap(evt, p.producer, audit.RequestIDFromContext(ctx))
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	key := routingPrefix + evt.Kind
	err = ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     env.Meta.ID,
		CorrelationId: env.Meta.CorrelationID,
		Type:          env.Meta.Type,
		AppId:         p.producer,
		Timestamp:     time.Now(),
		Body:          body,
	})
	if err != nil {
		return err
	}
	select {
	case c, ok := <-confirms:
		if !ok {
			return fmt.Errorf("amqp channel closed before confirming %s", env.Meta.ID)
		}
		if !c.Ack {
			return fmt.Errorf("amqp nack for %s (tag %d)", env.Meta.ID, c.DeliveryTag)
		}
	case <-ctx.Done():
		return fmt.Errorf("await confirm for %s: %w", env.Meta.ID, ctx.Err())
	}
	if p.log != nil {
		p.log.WithFields(logrus.Fields{"key": key, "exchange": p.exchange}).Debug("published")
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Close()
}

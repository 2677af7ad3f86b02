package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"topicsmith/internal/config"
	"topicsmith/internal/domain"
)

// amqpProducer publishes to one exchange over a confirm-mode channel.
// Connection loss surfaces as ErrProducerLost so supervision reconnects.
type amqpProducer struct {
	exchange string
	conn     *amqp091.Connection
	ch       *amqp091.Channel
	closes   chan *amqp091.Error
}

// AMQPFactory returns the producer factory for a RabbitMQ destination. The
// destination name is used as the routing key; a missing url or exchange is
// a permanent configuration error.
func AMQPFactory(dest config.DestinationConfig) ProducerFactory {
	return func(ctx context.Context) (Producer, error) {
		if dest.URL == "" || dest.Exchange == "" {
			return nil, &ConfigError{Err: fmt.Errorf("destination %q: rabbitmq url and exchange are required", dest.Name)}
		}
		conn, err := amqp091.Dial(dest.URL)
		if err != nil {
			return nil, fmt.Errorf("dial rabbitmq for %q: %w", dest.Name, err)
		}
		ch, err := conn.Channel()
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("open channel for %q: %w", dest.Name, err)
		}
		if err := ch.Confirm(false); err != nil {
			conn.Close()
			return nil, fmt.Errorf("confirm mode for %q: %w", dest.Name, err)
		}
		p := &amqpProducer{
			exchange: dest.Exchange,
			conn:     conn,
			ch:       ch,
			closes:   conn.NotifyClose(make(chan *amqp091.Error, 1)),
		}
		return p, nil
	}
}

func (p *amqpProducer) Send(ctx context.Context, rec domain.DeliveryRecord) (domain.RecordMetadata, error) {
	select {
	case amqpErr := <-p.closes:
		return domain.RecordMetadata{}, fmt.Errorf("%w: %v", ErrProducerLost, amqpErr)
	default:
	}

	pub := amqp091.Publishing{
		ContentType: "application/json",
		MessageId:   string(rec.Key),
		Timestamp:   time.Now().UTC(),
		Body:        rec.Payload,
	}
	conf, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, p.exchange, rec.Destination, false, false, pub)
	if err != nil {
		return domain.RecordMetadata{}, fmt.Errorf("%w: publish to %q: %v", ErrProducerLost, p.exchange, err)
	}
	if rec.Ack == domain.AckReplicated || rec.Ack == domain.AckExplicit {
		acked, err := conf.WaitContext(ctx)
		if err != nil {
			return domain.RecordMetadata{}, fmt.Errorf("await confirm on %q: %w", p.exchange, err)
		}
		if !acked {
			return domain.RecordMetadata{}, fmt.Errorf("broker nacked publish to %q", p.exchange)
		}
	}
	return domain.RecordMetadata{
		Topic:     p.exchange,
		Partition: -1,
		Offset:    int64(conf.DeliveryTag),
		Timestamp: pub.Timestamp,
	}, nil
}

func (p *amqpProducer) Close() {
	_ = p.ch.Close()
	_ = p.conn.Close()
}

package metastream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"topicsmith/internal/domain"
	"topicsmith/internal/transport"
)

// Deliverer is the slice of the transport router the publisher uses.
type Deliverer interface {
	Deliver(rec domain.DeliveryRecord, deliveryID string, done transport.Completion)
}

// Publisher serializes stream metadata records and hands them to the
// transport layer for durable delivery on the metadata topic.
type Publisher struct {
	router  Deliverer
	topic   string
	timeout time.Duration
}

func NewPublisher(router Deliverer, topic string, timeout time.Duration) *Publisher {
	return &Publisher{router: router, topic: topic, timeout: timeout}
}

type completion struct {
	md  domain.RecordMetadata
	err error
}

// Publish enqueues one metadata record with an explicit ack and waits for the
// delivery to resolve. The returned error is the transport's ingestion error
// verbatim when delivery fails.
func (p *Publisher) Publish(ctx context.Context, md domain.TopicMetadata) (domain.RecordMetadata, error) {
	payload, err := json.Marshal(md)
	if err != nil {
		return domain.RecordMetadata{}, fmt.Errorf("serialize metadata for %q: %w", md.Subject, err)
	}
	rec := domain.DeliveryRecord{
		Destination: p.topic,
		Key:         []byte(md.Subject),
		Payload:     payload,
		Ack:         domain.AckExplicit,
	}

	done := make(chan completion, 1)
	p.router.Deliver(rec, uuid.NewString(), func(rm domain.RecordMetadata, err error) {
		done <- completion{md: rm, err: err}
	})

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	select {
	case <-ctx.Done():
		return domain.RecordMetadata{}, fmt.Errorf("publish metadata for %q: %w", md.Subject, ctx.Err())
	case c := <-done:
		if c.err != nil {
			return domain.RecordMetadata{}, c.err
		}
		return c.md, nil
	}
}

package transport

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl/plain"
	"github.com/twmb/franz-go/pkg/sasl/scram"

	"topicsmith/internal/config"
	"topicsmith/internal/domain"
)

// kafkaProducer owns one kgo client producing to a single topic. The client
// is configured for ISR acks, so explicit and replicated strategies both
// resolve when the quorum has the record.
type kafkaProducer struct {
	topic  string
	client *kgo.Client
}

// KafkaFactory returns the producer factory for a Kafka destination whose
// topic is the destination name. Broker option errors are permanent and
// suspend the destination.
func KafkaFactory(cfg config.KafkaConfig, topic string) ProducerFactory {
	return func(ctx context.Context) (Producer, error) {
		opts, err := KafkaClientOpts(cfg)
		if err != nil {
			return nil, &ConfigError{Err: err}
		}
		opts = append(opts,
			kgo.DefaultProduceTopic(topic),
			kgo.RequiredAcks(kgo.AllISRAcks()),
		)
		cl, err := kgo.NewClient(opts...)
		if err != nil {
			return nil, &ConfigError{Err: fmt.Errorf("new kafka producer: %w", err)}
		}
		return &kafkaProducer{topic: topic, client: cl}, nil
	}
}

// KafkaClientOpts builds the shared kgo options (seeds, client id, TLS, SASL)
// used by producers, the metadata reader, and the admin client.
func KafkaClientOpts(cfg config.KafkaConfig) ([]kgo.Opt, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	opts := []kgo.Opt{kgo.SeedBrokers(cfg.Brokers...)}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}
	if cfg.Auth.TLS.Enabled {
		opts = append(opts, kgo.DialTLSConfig(&tls.Config{InsecureSkipVerify: cfg.Auth.TLS.InsecureSkipVerify}))
	}
	if cfg.Auth.SASL.Enabled {
		switch cfg.Auth.SASL.Mechanism {
		case "plain":
			opts = append(opts, kgo.SASL(plain.Auth{User: cfg.Auth.SASL.Username, Pass: cfg.Auth.SASL.Password}.AsMechanism()))
		case "scram-sha-256":
			opts = append(opts, kgo.SASL(scram.Auth{User: cfg.Auth.SASL.Username, Pass: cfg.Auth.SASL.Password}.AsSha256Mechanism()))
		case "scram-sha-512":
			opts = append(opts, kgo.SASL(scram.Auth{User: cfg.Auth.SASL.Username, Pass: cfg.Auth.SASL.Password}.AsSha512Mechanism()))
		default:
			return nil, fmt.Errorf("unsupported sasl mechanism %q", cfg.Auth.SASL.Mechanism)
		}
	}
	return opts, nil
}

func (p *kafkaProducer) Send(ctx context.Context, rec domain.DeliveryRecord) (domain.RecordMetadata, error) {
	r := &kgo.Record{Topic: p.topic, Key: rec.Key, Value: rec.Payload}
	produced, err := p.client.ProduceSync(ctx, r).First()
	if err != nil {
		return domain.RecordMetadata{}, fmt.Errorf("produce to %q: %w", p.topic, err)
	}
	return domain.RecordMetadata{
		Topic:     produced.Topic,
		Partition: produced.Partition,
		Offset:    produced.Offset,
		Timestamp: produced.Timestamp,
	}, nil
}

func (p *kafkaProducer) Close() { p.client.Close() }

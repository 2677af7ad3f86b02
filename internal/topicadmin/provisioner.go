package topicadmin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Provisioner is the narrow broker-admin contract the coordinator depends on.
type Provisioner interface {
	Exists(ctx context.Context, topic string) (bool, error)
	Create(ctx context.Context, topic string) error
}

type Options struct {
	Partitions        int32
	ReplicationFactor int16
	Timeout           time.Duration
}

// Admin provisions topics through the Kafka admin API. Stateless; safe for
// concurrent use across pipeline invocations.
type Admin struct {
	kadm *kadm.Client
	opts Options
}

func NewAdmin(client *kgo.Client, opts Options) *Admin {
	return &Admin{kadm: kadm.NewClient(client), opts: opts}
}

func (a *Admin) Exists(ctx context.Context, topic string) (bool, error) {
	details, err := a.kadm.ListTopics(ctx, topic)
	if err != nil {
		return false, fmt.Errorf("list topics: %w", err)
	}
	d, ok := details[topic]
	if !ok {
		return false, nil
	}
	if d.Err != nil && !errors.Is(d.Err, kerr.UnknownTopicOrPartition) {
		return false, fmt.Errorf("describe topic %q: %w", topic, d.Err)
	}
	return d.Err == nil, nil
}

// Create issues the topic creation and waits up to the configured timeout for
// the controller to acknowledge. An "already exists" response is success:
// a retried pipeline must converge, not fail.
func (a *Admin) Create(ctx context.Context, topic string) error {
	ctx, cancel := context.WithTimeout(ctx, a.opts.Timeout)
	defer cancel()

	resp, err := a.kadm.CreateTopic(ctx, a.opts.Partitions, a.opts.ReplicationFactor, nil, topic)
	if err != nil {
		return fmt.Errorf("create topic %q: %w", topic, err)
	}
	if resp.Err != nil {
		if errors.Is(resp.Err, kerr.TopicAlreadyExists) {
			return nil
		}
		return fmt.Errorf("create topic %q: %w", topic, resp.Err)
	}
	return nil
}

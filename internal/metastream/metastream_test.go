package metastream

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"topicsmith/internal/domain"
	"topicsmith/internal/transport"
)

type stubDeliverer struct {
	mu       sync.Mutex
	records  []domain.DeliveryRecord
	ids      []string
	err      error
	complete bool
}

func (s *stubDeliverer) Deliver(rec domain.DeliveryRecord, deliveryID string, done transport.Completion) {
	s.mu.Lock()
	s.records = append(s.records, rec)
	s.ids = append(s.ids, deliveryID)
	s.mu.Unlock()
	if !s.complete {
		return
	}
	if s.err != nil {
		done(domain.RecordMetadata{}, s.err)
		return
	}
	done(domain.RecordMetadata{Topic: rec.Destination, Offset: 11}, nil)
}

type memCatalog struct {
	mu      sync.Mutex
	streams map[string]domain.TopicMetadata
}

func newMemCatalog() *memCatalog {
	return &memCatalog{streams: make(map[string]domain.TopicMetadata)}
}

func (m *memCatalog) UpsertStream(_ context.Context, md domain.TopicMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streams[md.Subject] = md
	return nil
}

func (m *memCatalog) ListStreams(_ context.Context, filter string) ([]domain.TopicMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.TopicMetadata
	for _, md := range m.streams {
		if filter == "" || md.Subject == filter {
			out = append(out, md)
		}
	}
	return out, nil
}

func (m *memCatalog) Close() error { return nil }

func sampleMetadata(subject string) domain.TopicMetadata {
	return domain.TopicMetadata{
		ID:           "id-" + subject,
		Subject:      subject,
		SchemaID:     5,
		StreamType:   "event",
		CreatedAtUTC: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestPublishDeliversExplicitAckRecord(t *testing.T) {
	d := &stubDeliverer{complete: true}
	p := NewPublisher(d, "_topicsmith.metadata", time.Second)

	md := sampleMetadata("exp.dataplatform.testsubject")
	rm, err := p.Publish(context.Background(), md)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if rm.Offset != 11 {
		t.Fatalf("unexpected record metadata %+v", rm)
	}
	if len(d.records) != 1 {
		t.Fatalf("expected one delivery, got %d", len(d.records))
	}
	rec := d.records[0]
	if rec.Destination != "_topicsmith.metadata" || rec.Ack != domain.AckExplicit {
		t.Fatalf("unexpected record %+v", rec)
	}
	if string(rec.Key) != md.Subject {
		t.Fatalf("record key = %q, want subject", rec.Key)
	}
	var decoded domain.TopicMetadata
	if err := json.Unmarshal(rec.Payload, &decoded); err != nil {
		t.Fatalf("payload not valid metadata json: %v", err)
	}
	if decoded.Subject != md.Subject || decoded.SchemaID != md.SchemaID {
		t.Fatalf("round-tripped metadata = %+v", decoded)
	}
	if d.ids[0] == "" {
		t.Fatalf("expected a generated delivery id")
	}
}

func TestPublishSurfacesTransportError(t *testing.T) {
	tErr := errors.New("no producer found for destination \"_topicsmith.metadata\"")
	d := &stubDeliverer{complete: true, err: tErr}
	p := NewPublisher(d, "_topicsmith.metadata", time.Second)

	_, err := p.Publish(context.Background(), sampleMetadata("exp.a.b"))
	if !errors.Is(err, tErr) {
		t.Fatalf("expected transport error verbatim, got %v", err)
	}
}

func TestPublishTimesOutWithoutCompletion(t *testing.T) {
	d := &stubDeliverer{complete: false}
	p := NewPublisher(d, "_topicsmith.metadata", 50*time.Millisecond)

	_, err := p.Publish(context.Background(), sampleMetadata("exp.a.b"))
	if err == nil || !strings.Contains(err.Error(), "deadline") {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestReaderReconnectsUntilCancelled(t *testing.T) {
	var attempts atomic.Int32
	r := NewReader(func() (*kgo.Client, error) {
		attempts.Add(1)
		return nil, errors.New("broker down")
	}, nil)
	r.retryBackoff = 5 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := r.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected run to end with the context, got %v", err)
	}
	if attempts.Load() < 2 {
		t.Fatalf("expected repeated connect attempts, got %d", attempts.Load())
	}
}

func TestReaderIngestUpdatesViewAndCatalog(t *testing.T) {
	cat := newMemCatalog()
	r := NewReader(nil, cat)

	payload, _ := json.Marshal(sampleMetadata("EXP.DataPlatform.One"))
	r.ingest(context.Background(), payload)
	r.ingest(context.Background(), []byte("not json"))
	r.ingest(context.Background(), []byte(`{"id":"x"}`)) // no subject

	streams := r.Streams("")
	if len(streams) != 1 {
		t.Fatalf("expected 1 stream, got %d", len(streams))
	}
	if streams[0].Subject != "exp.dataplatform.one" {
		t.Fatalf("subject not canonicalized: %q", streams[0].Subject)
	}
	if _, ok := cat.streams["exp.dataplatform.one"]; !ok {
		t.Fatalf("catalog missed the write-through")
	}
}

func TestReaderStreamsFilterAndOrder(t *testing.T) {
	r := NewReader(nil, nil)
	for _, s := range []string{"exp.c.z", "exp.a.x", "exp.b.y"} {
		payload, _ := json.Marshal(sampleMetadata(s))
		r.ingest(context.Background(), payload)
	}

	all := r.Streams("")
	if len(all) != 3 {
		t.Fatalf("expected 3 streams, got %d", len(all))
	}
	for i, want := range []string{"exp.a.x", "exp.b.y", "exp.c.z"} {
		if all[i].Subject != want {
			t.Fatalf("order[%d] = %q, want %q", i, all[i].Subject, want)
		}
	}

	one := r.Streams("exp.b.y")
	if len(one) != 1 || one[0].Subject != "exp.b.y" {
		t.Fatalf("filtered = %+v", one)
	}
	if got := r.Streams("exp.missing.x"); got != nil {
		t.Fatalf("expected nil for unknown subject, got %+v", got)
	}
}

func TestReaderHydrateFromCatalog(t *testing.T) {
	cat := newMemCatalog()
	if err := cat.UpsertStream(context.Background(), sampleMetadata("exp.a.cached")); err != nil {
		t.Fatal(err)
	}
	r := NewReader(nil, cat)
	if err := r.Hydrate(context.Background()); err != nil {
		t.Fatalf("hydrate: %v", err)
	}
	if got := r.Streams("exp.a.cached"); len(got) != 1 {
		t.Fatalf("hydrated view = %+v", got)
	}
}

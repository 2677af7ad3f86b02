package metastream

import (
	"context"
	"encoding/json"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"topicsmith/internal/domain"
	"topicsmith/internal/storage"
	"topicsmith/internal/subject"
)

// Reader consumes the metadata topic from the beginning and maintains the
// live view of all known streams. Writes go through the catalog so the view
// is warm across restarts while the log replays.
type Reader struct {
	connect func() (*kgo.Client, error)
	catalog storage.Catalog

	retryBackoff time.Duration

	mu      sync.RWMutex
	streams map[string]domain.TopicMetadata
}

// NewReader wires the metadata-log consumer. connect must build a client
// already configured for the metadata topic (no group, reading from the
// topic start); it is invoked on every reconnect.
func NewReader(connect func() (*kgo.Client, error), catalog storage.Catalog) *Reader {
	return &Reader{
		connect:      connect,
		catalog:      catalog,
		retryBackoff: time.Second,
		streams:      make(map[string]domain.TopicMetadata),
	}
}

// Hydrate preloads the view from the catalog. Called once before Run; the
// replayed log overwrites any stale rows.
func (r *Reader) Hydrate(ctx context.Context) error {
	if r.catalog == nil {
		return nil
	}
	cached, err := r.catalog.ListStreams(ctx, "")
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, md := range cached {
		r.streams[md.Subject] = md
	}
	return nil
}

// Run ingests the metadata log until the context is cancelled. A failed
// consumer is rebuilt with capped backoff so the view never stays stale
// silently.
func (r *Reader) Run(ctx context.Context) error {
	backoff := r.retryBackoff
	for {
		start := time.Now()
		err := r.consume(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("metastream: reader stopped: %v (reconnecting)", err)
		if time.Since(start) > time.Minute {
			backoff = r.retryBackoff
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > 30*time.Second {
			backoff = 30 * time.Second
		}
	}
}

func (r *Reader) consume(ctx context.Context) error {
	client, err := r.connect()
	if err != nil {
		return err
	}
	defer client.Close()
	for {
		fetches := client.PollFetches(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errs := fetches.Errors(); len(errs) > 0 {
			return errs[0].Err
		}
		fetches.EachRecord(func(rec *kgo.Record) {
			r.ingest(ctx, rec.Value)
		})
	}
}

func (r *Reader) ingest(ctx context.Context, payload []byte) {
	var md domain.TopicMetadata
	if err := json.Unmarshal(payload, &md); err != nil {
		log.Printf("metastream: skip unparseable metadata record: %v", err)
		return
	}
	if md.Subject == "" {
		log.Printf("metastream: skip metadata record without subject")
		return
	}
	md.Subject = subject.Canonicalize(md.Subject)

	r.mu.Lock()
	r.streams[md.Subject] = md
	r.mu.Unlock()

	if r.catalog != nil {
		if err := r.catalog.UpsertStream(ctx, md); err != nil {
			log.Printf("metastream: catalog upsert for %s: %v", md.Subject, err)
		}
	}
}

// Streams returns the current view, optionally filtered to one subject,
// ordered by subject.
func (r *Reader) Streams(subjectFilter string) []domain.TopicMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if subjectFilter != "" {
		if md, ok := r.streams[subject.Canonicalize(subjectFilter)]; ok {
			return []domain.TopicMetadata{md}
		}
		return nil
	}
	out := make([]domain.TopicMetadata, 0, len(r.streams))
	for _, md := range r.streams {
		out = append(out, md)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Subject < out[j].Subject })
	return out
}

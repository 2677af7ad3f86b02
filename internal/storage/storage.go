package storage

import (
	"context"

	"topicsmith/internal/domain"
)

// Catalog is the read-model store under the metadata stream reader. The
// metadata topic stays the source of truth; the catalog only keeps GetStreams
// warm across restarts while the log replays.
type Catalog interface {
	UpsertStream(ctx context.Context, md domain.TopicMetadata) error
	ListStreams(ctx context.Context, subjectFilter string) ([]domain.TopicMetadata, error)
	Close() error
}

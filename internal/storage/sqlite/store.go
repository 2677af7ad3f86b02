package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"topicsmith/internal/domain"
)

const catalogSchema = `
CREATE TABLE IF NOT EXISTS stream_catalog (
	subject TEXT PRIMARY KEY,
	id TEXT NOT NULL,
	schema_id INTEGER NOT NULL,
	stream_type TEXT NOT NULL,
	derived INTEGER NOT NULL DEFAULT 0,
	classification TEXT NOT NULL DEFAULT '',
	contact TEXT NOT NULL DEFAULT '',
	documentation TEXT NOT NULL DEFAULT '',
	notes TEXT NOT NULL DEFAULT '',
	created_at_utc_ns INTEGER NOT NULL,
	updated_at_utc_ns INTEGER NOT NULL
);
`

var pragmas = []string{
	"PRAGMA journal_mode=WAL;",
	"PRAGMA synchronous=FULL;",
	"PRAGMA busy_timeout=5000;",
}

// Store persists the stream catalog in a local sqlite database.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create catalog dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma: %w", err)
		}
	}
	if _, err := db.Exec(catalogSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply catalog schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) UpsertStream(ctx context.Context, md domain.TopicMetadata) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO stream_catalog
	(subject, id, schema_id, stream_type, derived, classification, contact, documentation, notes, created_at_utc_ns, updated_at_utc_ns)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(subject) DO UPDATE SET
	id = excluded.id,
	schema_id = excluded.schema_id,
	stream_type = excluded.stream_type,
	derived = excluded.derived,
	classification = excluded.classification,
	contact = excluded.contact,
	documentation = excluded.documentation,
	notes = excluded.notes,
	created_at_utc_ns = excluded.created_at_utc_ns,
	updated_at_utc_ns = excluded.updated_at_utc_ns`,
		md.Subject, md.ID, md.SchemaID, md.StreamType, boolToInt(md.Derived),
		md.Classification, md.Contact, md.Documentation, md.Notes,
		md.CreatedAtUTC.UnixNano(), time.Now().UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("upsert stream %q: %w", md.Subject, err)
	}
	return nil
}

func (s *Store) ListStreams(ctx context.Context, subjectFilter string) ([]domain.TopicMetadata, error) {
	query := `
SELECT subject, id, schema_id, stream_type, derived, classification, contact, documentation, notes, created_at_utc_ns
FROM stream_catalog`
	args := []any{}
	if subjectFilter != "" {
		query += ` WHERE subject = ?`
		args = append(args, subjectFilter)
	}
	query += ` ORDER BY subject`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list streams: %w", err)
	}
	defer rows.Close()

	var out []domain.TopicMetadata
	for rows.Next() {
		var md domain.TopicMetadata
		var derived int
		var createdNs int64
		if err := rows.Scan(&md.Subject, &md.ID, &md.SchemaID, &md.StreamType, &derived,
			&md.Classification, &md.Contact, &md.Documentation, &md.Notes, &createdNs); err != nil {
			return nil, fmt.Errorf("scan stream row: %w", err)
		}
		md.Derived = derived != 0
		md.CreatedAtUTC = time.Unix(0, createdNs).UTC()
		out = append(out, md)
	}
	return out, rows.Err()
}

func (s *Store) Close() error { return s.db.Close() }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

package schemareg

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/twmb/franz-go/pkg/sr"
)

// metadataSchema is the Avro document describing the stream metadata record.
// It is registered once at startup under the metadata topic's subject.
//
//go:embed metadata_schema.avsc
var metadataSchema []byte

// Registrar is the narrow schema-registry contract the coordinator depends on.
type Registrar interface {
	Register(ctx context.Context, subject string, schema json.RawMessage) (int, error)
}

// MetadataSchema returns the bundled metadata-record schema document.
func MetadataSchema() json.RawMessage {
	return json.RawMessage(metadataSchema)
}

// Client registers schemas against a Confluent-compatible schema registry.
// Stateless; safe for concurrent use.
type Client struct {
	sr *sr.Client
}

type Options struct {
	URL      string
	Username string
	Password string
}

func NewClient(opts Options) (*Client, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("schema registry url is required")
	}
	clOpts := []sr.ClientOpt{sr.URLs(opts.URL)}
	if opts.Username != "" {
		clOpts = append(clOpts, sr.BasicAuth(opts.Username, opts.Password))
	}
	cl, err := sr.NewClient(clOpts...)
	if err != nil {
		return nil, fmt.Errorf("new schema registry client: %w", err)
	}
	return &Client{sr: cl}, nil
}

// Register submits the schema under the given subject and returns the
// registry-assigned schema id. Re-registering an identical schema returns
// the existing id, so retried pipelines converge on the same schema.
func (c *Client) Register(ctx context.Context, subject string, schema json.RawMessage) (int, error) {
	ss, err := c.sr.CreateSchema(ctx, subject, sr.Schema{
		Schema: string(schema),
		Type:   sr.TypeAvro,
	})
	if err != nil {
		return 0, fmt.Errorf("register schema for %q: %w", subject, err)
	}
	return ss.ID, nil
}

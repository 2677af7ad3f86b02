package domain

import (
	"encoding/json"
	"time"
)

// AckStrategy controls when a producer confirms delivery back to the caller.
type AckStrategy string

const (
	// AckNone is fire-and-forget: the caller callback is never invoked,
	// the delivery outcome is still emitted for observers.
	AckNone AckStrategy = "none"
	// AckExplicit completes the caller callback once the broker accepts the record.
	AckExplicit AckStrategy = "explicit"
	// AckReplicated completes the caller callback only after the broker
	// confirms the record on the replication quorum.
	AckReplicated AckStrategy = "replicated"
)

// BootstrapRequest is one client ask to provision a stream.
type BootstrapRequest struct {
	Subject        string          `json:"subject"`
	Schema         json.RawMessage `json:"schema"`
	StreamType     string          `json:"stream_type"`
	Classification string          `json:"classification"`
	Contact        string          `json:"contact"`
	Documentation  string          `json:"documentation"`
	Notes          string          `json:"notes"`
}

// TopicMetadata is the durable record of one provisioned stream.
// Immutable once created; one instance per successful bootstrap.
type TopicMetadata struct {
	ID             string    `json:"id"`
	Subject        string    `json:"subject"`
	SchemaID       int       `json:"schema_id"`
	StreamType     string    `json:"stream_type"`
	Derived        bool      `json:"derived"`
	Classification string    `json:"classification"`
	Contact        string    `json:"contact"`
	Documentation  string    `json:"documentation"`
	Notes          string    `json:"notes"`
	CreatedAtUTC   time.Time `json:"created_at_utc"`
}

// DeliveryRecord is one outbound record handed to the transport layer.
// Consumed exactly once by the producer worker owning Destination.
type DeliveryRecord struct {
	Destination string
	Key         []byte
	Payload     []byte
	Ack         AckStrategy
}

// RecordMetadata is the broker-assigned placement of a delivered record.
type RecordMetadata struct {
	Topic     string
	Partition int32
	Offset    int64
	Timestamp time.Time
}

// DeliveryOutcome is the terminal result of one record handed to a worker.
// Exactly one of Metadata/Err is meaningful, discriminated by Err == nil.
type DeliveryOutcome struct {
	DeliveryID  string
	Destination string
	Metadata    RecordMetadata
	Record      DeliveryRecord
	Err         error
}

// Failed reports whether the outcome carries a delivery error.
func (o DeliveryOutcome) Failed() bool { return o.Err != nil }

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadYAMLWithEnvOverride(t *testing.T) {
	t.Setenv("TOPICSMITH_COORDINATOR_METADATA_TOPIC", "_meta.override")

	path := filepath.Join(t.TempDir(), "topicsmith.yaml")
	content := []byte(`
kafka:
  brokers: ["127.0.0.1:9092"]
registry:
  url: http://127.0.0.1:8081
provision:
  partitions: 3
  replication_factor: 1
transport:
  destinations:
    - name: audit
      kind: kafka
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}
	if cfg.Coordinator.MetadataTopic != "_meta.override" {
		t.Fatalf("expected env override for metadata topic, got %q", cfg.Coordinator.MetadataTopic)
	}
	if cfg.Provision.Partitions != 3 || cfg.Provision.ReplicationFactor != 1 {
		t.Fatalf("unexpected provision config: %+v", cfg.Provision)
	}
	if cfg.Provision.Timeout != 30*time.Second {
		t.Fatalf("expected default provision timeout, got %s", cfg.Provision.Timeout)
	}
}

func TestLoadDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "topicsmith.yaml")
	content := []byte(`
kafka:
  brokers: ["127.0.0.1:9092"]
registry:
  url: http://127.0.0.1:8081
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}
	if cfg.Coordinator.MetadataTopic != DefaultMetadataTopic {
		t.Fatalf("expected reserved metadata topic, got %q", cfg.Coordinator.MetadataTopic)
	}
	if cfg.Coordinator.RetryInterval != time.Minute {
		t.Fatalf("unexpected retry interval: %s", cfg.Coordinator.RetryInterval)
	}
	if !cfg.Metrics.Enabled {
		t.Fatalf("expected metrics enabled by default")
	}
}

func TestValidateRequiresBrokersAndRegistry(t *testing.T) {
	cfg := Config{}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error without brokers")
	}
	cfg.Kafka.Brokers = []string{"b:9092"}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error without registry url")
	}
}

func TestValidateDestinations(t *testing.T) {
	base := Config{
		Kafka:       KafkaConfig{Brokers: []string{"b:9092"}},
		Registry:    RegistryConfig{URL: "http://sr:8081"},
		Provision:   ProvisionConfig{Partitions: 1, ReplicationFactor: 1, Timeout: time.Second},
		Coordinator: CoordinatorConfig{RetryInterval: time.Second, QueueCapacity: 1},
	}

	cfg := base
	cfg.Transport.Destinations = []DestinationConfig{{Name: "a", Kind: "kafka"}, {Name: "a", Kind: "kafka"}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected duplicate destination error")
	}

	cfg = base
	cfg.Transport.Destinations = []DestinationConfig{{Name: "q", Kind: "rabbitmq"}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected rabbitmq url/exchange error")
	}

	cfg = base
	cfg.Transport.Destinations = []DestinationConfig{{Name: "x", Kind: "pigeon"}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected unsupported kind error")
	}
}

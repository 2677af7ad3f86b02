package bootstrap

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/twmb/franz-go/pkg/kgo"

	"topicsmith/internal/config"
	"topicsmith/internal/metastream"
	"topicsmith/internal/schemareg"
	"topicsmith/internal/topicadmin"
	"topicsmith/internal/transport"
)

func TestBootstrapEndToEndIntegration(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			t.Skipf("docker/container runtime unavailable: %v", r)
		}
	}()

	req := testcontainers.ContainerRequest{
		Image:        "docker.redpanda.com/redpandadata/redpanda:v24.1.8",
		ExposedPorts: []string{"9092/tcp", "8081/tcp"},
		Cmd: []string{
			"redpanda", "start", "--overprovisioned", "--smp", "1", "--memory", "512M",
			"--reserve-memory", "0M", "--check=false", "--node-id", "0",
			"--kafka-addr", "0.0.0.0:9092", "--advertise-kafka-addr", "127.0.0.1:9092",
			"--schema-registry-addr", "0.0.0.0:8081",
		},
		WaitingFor: wait.ForLog("Successfully started Redpanda"),
	}
	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Skipf("docker/container runtime unavailable: %v", err)
	}
	defer func() { _ = ctr.Terminate(ctx) }()

	host, _ := ctr.Host(ctx)
	kafkaPort, _ := ctr.MappedPort(ctx, "9092")
	srPort, _ := ctr.MappedPort(ctx, "8081")
	broker := fmt.Sprintf("%s:%s", host, kafkaPort.Port())
	srURL := fmt.Sprintf("http://%s:%s", host, srPort.Port())

	kafkaCfg := config.KafkaConfig{Brokers: []string{broker}, ClientID: "topicsmith-test"}
	registrar, err := schemareg.NewClient(schemareg.Options{URL: srURL})
	if err != nil {
		t.Fatalf("schema registry client: %v", err)
	}

	adminClient, err := kgo.NewClient(kgo.SeedBrokers(broker))
	if err != nil {
		t.Fatalf("admin client: %v", err)
	}
	defer adminClient.Close()
	provisioner := topicadmin.NewAdmin(adminClient, topicadmin.Options{
		Partitions: 1, ReplicationFactor: 1, Timeout: 15 * time.Second,
	})

	const metadataTopic = "_topicsmith.metadata"
	if err := provisioner.Create(ctx, metadataTopic); err != nil {
		t.Fatalf("create metadata topic: %v", err)
	}

	router := transport.NewRouter()
	if err := router.AddDestination(metadataTopic, transport.KafkaFactory(kafkaCfg, metadataTopic)); err != nil {
		t.Fatalf("add destination: %v", err)
	}
	router.Start(ctx)
	defer router.Close()

	reader := metastream.NewReader(func() (*kgo.Client, error) {
		return kgo.NewClient(
			kgo.SeedBrokers(broker),
			kgo.ConsumeTopics(metadataTopic),
			kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		)
	}, nil)
	go func() { _ = reader.Run(ctx) }()

	publisher := metastream.NewPublisher(router, metadataTopic, 15*time.Second)
	coord := NewCoordinator(Config{
		MetadataTopic:  metadataTopic,
		RetryInterval:  time.Second,
		QueueCapacity:  16,
		RequestTimeout: 30 * time.Second,
	}, registrar, provisioner, publisher, reader)
	coord.Start(ctx)
	waitForState(t, coord, StateActive)

	res, err := coord.InitiateTopicBootstrap(ctx, validRequest())
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if !res.Succeeded() {
		t.Fatalf("bootstrap failed: %v", res.Reasons)
	}
	if res.Metadata.SchemaID == 0 {
		t.Fatalf("expected registry-assigned schema id, got %+v", res.Metadata)
	}

	exists, err := provisioner.Exists(ctx, "exp.dataplatform.testsubject")
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if !exists {
		t.Fatalf("topic was not created on the broker")
	}

	// idempotent re-entry: the topic already exists now
	res2, err := coord.InitiateTopicBootstrap(ctx, validRequest())
	if err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}
	if !res2.Succeeded() {
		t.Fatalf("second bootstrap failed: %v", res2.Reasons)
	}

	deadline := time.Now().Add(20 * time.Second)
	for time.Now().Before(deadline) {
		if streams, _ := coord.GetStreams("exp.dataplatform.testsubject"); len(streams) > 0 {
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatalf("metadata stream reader never observed the bootstrapped subject")
}

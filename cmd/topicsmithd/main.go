package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/twmb/franz-go/pkg/kgo"

	"topicsmith/internal/bootstrap"
	"topicsmith/internal/config"
	"topicsmith/internal/metastream"
	"topicsmith/internal/metrics"
	"topicsmith/internal/schemareg"
	"topicsmith/internal/storage/sqlite"
	"topicsmith/internal/topicadmin"
	"topicsmith/internal/transport"
)

func main() {
	cfgPath := flag.String("config", "topicsmith.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registrar, err := schemareg.NewClient(schemareg.Options{
		URL:      cfg.Registry.URL,
		Username: cfg.Registry.Username,
		Password: cfg.Registry.Password,
	})
	if err != nil {
		log.Fatalf("schema registry: %v", err)
	}

	baseOpts, err := transport.KafkaClientOpts(cfg.Kafka)
	if err != nil {
		log.Fatalf("kafka options: %v", err)
	}
	adminClient, err := kgo.NewClient(baseOpts...)
	if err != nil {
		log.Fatalf("kafka admin client: %v", err)
	}
	defer adminClient.Close()
	provisioner := topicadmin.NewAdmin(adminClient, topicadmin.Options{
		Partitions:        cfg.Provision.Partitions,
		ReplicationFactor: cfg.Provision.ReplicationFactor,
		Timeout:           cfg.Provision.Timeout,
	})

	catalog, err := sqlite.Open(cfg.Catalog.Path)
	if err != nil {
		log.Fatalf("open catalog: %v", err)
	}
	defer catalog.Close()

	router := transport.NewRouter()
	mustAdd := func(name string, factory transport.ProducerFactory) {
		if err := router.AddDestination(name, factory); err != nil {
			log.Fatalf("transport: %v", err)
		}
	}
	mustAdd(cfg.Coordinator.MetadataTopic, transport.KafkaFactory(cfg.Kafka, cfg.Coordinator.MetadataTopic))
	for _, d := range cfg.Transport.Destinations {
		switch d.Kind {
		case "rabbitmq":
			mustAdd(d.Name, transport.AMQPFactory(d))
		default:
			mustAdd(d.Name, transport.KafkaFactory(cfg.Kafka, d.Name))
		}
	}
	router.Start(ctx)
	defer router.Close()

	collector := metrics.NewCollector(prometheus.DefaultRegisterer)
	go collector.Watch(ctx, router.Subscribe(1024))
	if cfg.Metrics.Enabled {
		go func() {
			http.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(cfg.Metrics.Address, nil); err != nil {
				log.Printf("metrics server: %v", err)
			}
		}()
	}

	readerConnect := func() (*kgo.Client, error) {
		opts := append(append([]kgo.Opt{}, baseOpts...),
			kgo.ConsumeTopics(cfg.Coordinator.MetadataTopic),
			kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		)
		return kgo.NewClient(opts...)
	}
	reader := metastream.NewReader(readerConnect, catalog)
	if err := reader.Hydrate(ctx); err != nil {
		log.Printf("metastream: hydrate from catalog: %v", err)
	}
	go func() { _ = reader.Run(ctx) }()

	publisher := metastream.NewPublisher(router, cfg.Coordinator.MetadataTopic, cfg.Provision.Timeout)
	coord := bootstrap.NewCoordinator(bootstrap.Config{
		MetadataTopic:  cfg.Coordinator.MetadataTopic,
		RetryInterval:  cfg.Coordinator.RetryInterval,
		QueueCapacity:  cfg.Coordinator.QueueCapacity,
		RequestTimeout: cfg.Coordinator.RequestTimeout,
	}, registrar, provisioner, publisher, reader)
	coord.Observe = collector.ObserveBootstrap
	coord.Start(ctx)

	log.Printf("topicsmithd up: metadata_topic=%s destinations=%d metrics=%t",
		cfg.Coordinator.MetadataTopic, len(cfg.Transport.Destinations)+1, cfg.Metrics.Enabled)

	<-ctx.Done()
	coord.Wait()
	log.Printf("topicsmithd shut down")
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const DefaultMetadataTopic = "_topicsmith.metadata"

type Config struct {
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	Registry    RegistryConfig    `mapstructure:"registry"`
	Provision   ProvisionConfig   `mapstructure:"provision"`
	Coordinator CoordinatorConfig `mapstructure:"coordinator"`
	Transport   TransportConfig   `mapstructure:"transport"`
	Catalog     CatalogConfig     `mapstructure:"catalog"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
}

type KafkaConfig struct {
	Brokers  []string   `mapstructure:"brokers"`
	ClientID string     `mapstructure:"client_id"`
	Auth     AuthConfig `mapstructure:"auth"`
}

type AuthConfig struct {
	SASL SASLConfig `mapstructure:"sasl"`
	TLS  TLSConfig  `mapstructure:"tls"`
}

type SASLConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Mechanism string `mapstructure:"mechanism"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
}

type TLSConfig struct {
	Enabled            bool `mapstructure:"enabled"`
	InsecureSkipVerify bool `mapstructure:"insecure_skip_verify"`
}

type RegistryConfig struct {
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type ProvisionConfig struct {
	Partitions        int32         `mapstructure:"partitions"`
	ReplicationFactor int16         `mapstructure:"replication_factor"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

type CoordinatorConfig struct {
	MetadataTopic  string        `mapstructure:"metadata_topic"`
	RetryInterval  time.Duration `mapstructure:"retry_interval"`
	QueueCapacity  int           `mapstructure:"queue_capacity"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type TransportConfig struct {
	Destinations []DestinationConfig `mapstructure:"destinations"`
}

type DestinationConfig struct {
	Name string `mapstructure:"name"`
	Kind string `mapstructure:"kind"`

	// rabbitmq destinations only
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
}

type CatalogConfig struct {
	Path string `mapstructure:"path"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("topicsmith")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("kafka.client_id", "topicsmith")
	v.SetDefault("provision.partitions", 6)
	v.SetDefault("provision.replication_factor", 3)
	v.SetDefault("provision.timeout", "30s")
	v.SetDefault("coordinator.metadata_topic", DefaultMetadataTopic)
	v.SetDefault("coordinator.retry_interval", "1m")
	v.SetDefault("coordinator.queue_capacity", 256)
	v.SetDefault("coordinator.request_timeout", "45s")
	v.SetDefault("catalog.path", "topicsmith.db")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.address", ":9105")
}

func (c Config) Validate() error {
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required")
	}
	if c.Registry.URL == "" {
		return fmt.Errorf("registry.url is required")
	}
	if c.Provision.Partitions < 1 {
		return fmt.Errorf("provision.partitions must be >= 1")
	}
	if c.Provision.ReplicationFactor < 1 {
		return fmt.Errorf("provision.replication_factor must be >= 1")
	}
	if c.Provision.Timeout <= 0 {
		return fmt.Errorf("provision.timeout must be positive")
	}
	if c.Coordinator.RetryInterval <= 0 {
		return fmt.Errorf("coordinator.retry_interval must be positive")
	}
	if c.Coordinator.QueueCapacity < 1 {
		return fmt.Errorf("coordinator.queue_capacity must be >= 1")
	}
	seen := map[string]bool{}
	for _, d := range c.Transport.Destinations {
		if d.Name == "" {
			return fmt.Errorf("transport destination name is required")
		}
		if seen[d.Name] {
			return fmt.Errorf("duplicate transport destination %q", d.Name)
		}
		seen[d.Name] = true
		switch d.Kind {
		case "kafka":
		case "rabbitmq":
			if d.URL == "" {
				return fmt.Errorf("destination %q: rabbitmq url is required", d.Name)
			}
			if d.Exchange == "" {
				return fmt.Errorf("destination %q: rabbitmq exchange is required", d.Name)
			}
		default:
			return fmt.Errorf("destination %q: unsupported kind %q", d.Name, d.Kind)
		}
	}
	return nil
}

// Package config provides configuration loading for screenpilot.
//
// Values come from built-in defaults, an optional YAML file and environment
// variables, in increasing order of precedence. See Load.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config holds the complete screenpilot configuration.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Primary     PrimaryConfig     `koanf:"primary"`
	Secondary   SecondaryConfig   `koanf:"secondary"`
	Embeddings  EmbeddingsConfig  `koanf:"embeddings"`
	VectorStore VectorStoreConfig `koanf:"vectorstore"`
	Chunking    ChunkingConfig    `koanf:"chunking"`
	Secrets     SecretsConfig     `koanf:"secrets"`
	Events      EventsConfig      `koanf:"events"`
	Logging     LoggingConfig     `koanf:"logging"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	CORSOrigins     []string `koanf:"cors_origins"`
}

// PrimaryConfig configures the OpenAI-compatible primary provider and the
// dedicated endpoint probe.
type PrimaryConfig struct {
	APIKey       Secret   `koanf:"api_key"`
	DedicatedURL string   `koanf:"dedicated_url"`
	DefaultURL   string   `koanf:"default_url"`
	Model        string   `koanf:"model"`
	Temperature  float32  `koanf:"temperature"`
	Timeout      Duration `koanf:"timeout"`
	ProbePath    string   `koanf:"probe_path"`
	ProbeTimeout Duration `koanf:"probe_timeout"`
	CacheTTL     Duration `koanf:"cache_ttl"`
}

// SecondaryConfig configures the fallback provider. An empty APIKey
// disables fallback.
type SecondaryConfig struct {
	Provider string   `koanf:"provider"` // gemini | anthropic
	APIKey   Secret   `koanf:"api_key"`
	Model    string   `koanf:"model"`
	Timeout  Duration `koanf:"timeout"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	Provider          string   `koanf:"provider"` // openai | fastembed
	BaseURL           string   `koanf:"base_url"`
	APIKey            Secret   `koanf:"api_key"`
	Model             string   `koanf:"model"`
	Dimension         int      `koanf:"dimension"` // 0 learns it from the first response
	BatchSize         int      `koanf:"batch_size"`
	MaxInputChars     int      `koanf:"max_input_chars"`
	Timeout           Duration `koanf:"timeout"`
	MaxRetries        int      `koanf:"max_retries"`
	RequestsPerSecond float64  `koanf:"requests_per_second"`
	CacheDir          string   `koanf:"cache_dir"`
}

// VectorStoreConfig selects and configures the vector database.
type VectorStoreConfig struct {
	Provider   string        `koanf:"provider"` // chromem | qdrant
	Collection string        `koanf:"collection"`
	Chromem    ChromemConfig `koanf:"chromem"`
	Qdrant     QdrantConfig  `koanf:"qdrant"`
}

// ChromemConfig configures the embedded store. An empty Path keeps data in memory.
type ChromemConfig struct {
	Path     string `koanf:"path"`
	Compress bool   `koanf:"compress"`
}

// QdrantConfig configures the Qdrant gRPC connection.
type QdrantConfig struct {
	Host   string `koanf:"host"`
	Port   int    `koanf:"port"`
	APIKey Secret `koanf:"api_key"`
	UseTLS bool   `koanf:"use_tls"`
}

// ChunkingConfig holds chunk sizes in runes.
type ChunkingConfig struct {
	MaxLength int `koanf:"max_length"`
	Overlap   int `koanf:"overlap"`
}

// SecretsConfig toggles secret scrubbing of ingested text.
type SecretsConfig struct {
	Enabled bool `koanf:"enabled"`
	// Gitleaks adds the gitleaks default ruleset to the built-in rules.
	Gitleaks  bool     `koanf:"gitleaks"`
	AllowList []string `koanf:"allow_list"`
}

// EventsConfig configures ingestion event publishing. An empty NATSURL disables it.
type EventsConfig struct {
	NATSURL string `koanf:"nats_url"`
	Subject string `koanf:"subject"`
}

// LoggingConfig is the subset of logging settings exposed in the config file.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig is the subset of OpenTelemetry settings exposed in the config file.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	Protocol    string  `koanf:"protocol"`
	Insecure    bool    `koanf:"insecure"`
	SampleRate  float64 `koanf:"sample_rate"`
	ServiceName string  `koanf:"service_name"`
}

// NewDefaultConfig returns the configuration used when nothing is overridden.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			ShutdownTimeout: Duration(10 * time.Second),
			CORSOrigins:     []string{"*"},
		},
		Primary: PrimaryConfig{
			DefaultURL:   "https://api.friendli.ai",
			Model:        "meta-llama/Llama-3-8B-Instruct",
			Temperature:  0.4,
			Timeout:      Duration(30 * time.Second),
			ProbePath:    "/v1/models",
			ProbeTimeout: Duration(5 * time.Second),
			CacheTTL:     Duration(60 * time.Second),
		},
		Secondary: SecondaryConfig{
			Provider: "gemini",
			Model:    "gemini-2.5-flash",
			Timeout:  Duration(30 * time.Second),
		},
		Embeddings: EmbeddingsConfig{
			Provider:      "openai",
			BaseURL:       "https://api.friendli.ai/v1",
			Model:         "BAAI/bge-small-en-v1.5",
			BatchSize:     64,
			MaxInputChars: 8192,
			Timeout:       Duration(15 * time.Second),
			MaxRetries:    3,
		},
		VectorStore: VectorStoreConfig{
			Provider:   "chromem",
			Collection: "page_context",
			Qdrant: QdrantConfig{
				Host: "localhost",
				Port: 6334,
			},
		},
		Chunking: ChunkingConfig{
			MaxLength: 1000,
			Overlap:   200,
		},
		Secrets: SecretsConfig{Enabled: true},
		Events: EventsConfig{
			Subject: "screenpilot.documents.ingested",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Endpoint:    "localhost:4317",
			Protocol:    "grpc",
			Insecure:    true,
			SampleRate:  1.0,
			ServiceName: "screenpilot",
		},
	}
}

// Validate checks the configuration for values no component can work with.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port))
	}

	if strings.TrimSpace(c.Primary.DefaultURL) == "" {
		errs = append(errs, errors.New("primary.default_url is required"))
	}
	if c.Primary.Timeout.Duration() <= 0 {
		errs = append(errs, errors.New("primary.timeout must be positive"))
	}
	if c.Primary.ProbeTimeout.Duration() <= 0 {
		errs = append(errs, errors.New("primary.probe_timeout must be positive"))
	}

	switch c.Secondary.Provider {
	case "gemini", "anthropic":
	default:
		errs = append(errs, fmt.Errorf("secondary.provider must be gemini or anthropic, got %q", c.Secondary.Provider))
	}

	switch c.Embeddings.Provider {
	case "openai", "fastembed":
	default:
		errs = append(errs, fmt.Errorf("embeddings.provider must be openai or fastembed, got %q", c.Embeddings.Provider))
	}
	if c.Embeddings.BatchSize <= 0 {
		errs = append(errs, errors.New("embeddings.batch_size must be positive"))
	}
	if c.Embeddings.MaxRetries < 0 {
		errs = append(errs, errors.New("embeddings.max_retries cannot be negative"))
	}

	switch c.VectorStore.Provider {
	case "chromem", "qdrant":
	default:
		errs = append(errs, fmt.Errorf("vectorstore.provider must be chromem or qdrant, got %q", c.VectorStore.Provider))
	}
	if c.VectorStore.Collection == "" {
		errs = append(errs, errors.New("vectorstore.collection is required"))
	}

	if c.Chunking.MaxLength <= 0 {
		errs = append(errs, fmt.Errorf("chunking.max_length must be positive, got %d", c.Chunking.MaxLength))
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.MaxLength {
		errs = append(errs, fmt.Errorf("chunking.overlap must be in [0, max_length), got %d", c.Chunking.Overlap))
	}

	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("telemetry.sample_rate must be between 0 and 1, got %f", c.Telemetry.SampleRate))
	}

	return errors.Join(errs...)
}

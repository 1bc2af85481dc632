package config

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix prefixes every environment override, e.g. SCREENPILOT_SERVER_PORT.
	EnvPrefix = "SCREENPILOT_"

	maxConfigFileSize = 1024 * 1024 // 1MB
)

// legacyEnv maps the variable names the service has historically used onto
// config keys. Prefixed variables still take precedence over these.
var legacyEnv = map[string]string{
	"FRIENDLIAI_API_KEY":  "primary.api_key",
	"FRIENDLIAI_ENDPOINT": "primary.dedicated_url",
	"GEMINI_API_KEY":      "secondary.api_key",
	"EMBEDDINGS_API_KEY":  "embeddings.api_key",
	"QDRANT_API_KEY":      "vectorstore.qdrant.api_key",
}

// nestedSections lists sections whose fields are themselves sections, so
// that SCREENPILOT_VECTORSTORE_QDRANT_HOST maps to vectorstore.qdrant.host.
var nestedSections = map[string][]string{
	"vectorstore": {"chromem", "qdrant"},
}

// Load builds the configuration from defaults, then the YAML file at path
// (skipped when path is empty or the file does not exist), then environment
// variables.
//
// # Security Considerations
//
// The config file may contain API keys, so it must be readable by its owner
// only (0600 or 0400) and no larger than 1MB.
//
// # Environment Variable Mapping
//
// The prefix is stripped and the first underscore separates section from field:
//
//	SCREENPILOT_SERVER_PORT          -> server.port
//	SCREENPILOT_EMBEDDINGS_BASE_URL  -> embeddings.base_url
//	SCREENPILOT_VECTORSTORE_QDRANT_HOST -> vectorstore.qdrant.host
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		content, err := readConfigFile(path)
		if err != nil {
			return nil, err
		}
		if content != nil {
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider("", ".", func(s string) string {
		return legacyEnv[s]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load legacy environment variables: %w", err)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := NewDefaultConfig()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// envKey maps SCREENPILOT_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	section, field := parts[0], parts[1]

	for _, sub := range nestedSections[section] {
		if strings.HasPrefix(field, sub+"_") {
			return section + "." + sub + "." + strings.TrimPrefix(field, sub+"_")
		}
	}
	return section + "." + field
}

// readConfigFile returns nil content when the file does not exist.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	// Validate on the open descriptor to avoid a stat/open race.
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return nil, fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

func validateConfigFileProperties(info os.FileInfo) error {
	if info.IsDir() {
		return fmt.Errorf("config path is a directory")
	}
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}

package config

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig_IsValid(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "https://api.friendli.ai", cfg.Primary.DefaultURL)
	assert.Equal(t, "meta-llama/Llama-3-8B-Instruct", cfg.Primary.Model)
	assert.InDelta(t, 0.4, cfg.Primary.Temperature, 1e-6)
	assert.Equal(t, 5*time.Second, cfg.Primary.ProbeTimeout.Duration())
	assert.Equal(t, 30*time.Second, cfg.Primary.Timeout.Duration())
	assert.Equal(t, 15*time.Second, cfg.Embeddings.Timeout.Duration())
	assert.Equal(t, "page_context", cfg.VectorStore.Collection)
	assert.Equal(t, "gemini-2.5-flash", cfg.Secondary.Model)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"no default url", func(c *Config) { c.Primary.DefaultURL = " " }, "primary.default_url"},
		{"bad secondary", func(c *Config) { c.Secondary.Provider = "cohere" }, "secondary.provider"},
		{"bad embeddings", func(c *Config) { c.Embeddings.Provider = "tei" }, "embeddings.provider"},
		{"bad store", func(c *Config) { c.VectorStore.Provider = "weaviate" }, "vectorstore.provider"},
		{"overlap too big", func(c *Config) { c.Chunking.Overlap = c.Chunking.MaxLength }, "chunking.overlap"},
		{"zero chunk", func(c *Config) { c.Chunking.MaxLength = 0 }, "chunking.max_length"},
		{"sample rate", func(c *Config) { c.Telemetry.SampleRate = 2 }, "telemetry.sample_rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSecret_Redaction(t *testing.T) {
	s := Secret("sk-very-secret")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.NotContains(t, fmt.Sprintf("%#v", s), "sk-very")
	assert.Equal(t, "sk-very-secret", s.Value())
	assert.True(t, s.IsSet())

	data, err := json.Marshal(struct {
		Key Secret `json:"key"`
	}{s})
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"[REDACTED]"}`, string(data))

	assert.Equal(t, "", Secret("").String())
	assert.False(t, Secret("").IsSet())
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	require.NoError(t, d.UnmarshalText([]byte("30")))
	assert.Equal(t, 30*time.Second, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-5s")))
	assert.Error(t, d.UnmarshalText([]byte("-5")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))
	assert.Equal(t, "30s", d.String())
}

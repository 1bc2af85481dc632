package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration is a time.Duration read from YAML or the environment. It accepts
// Go duration strings ("15s", "1m30s") and bare integers, which count
// seconds so legacy settings such as TIMEOUT=30 keep working.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))

	var parsed time.Duration
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		parsed = time.Duration(secs) * time.Second
	} else {
		parsed, err = time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", raw, err)
		}
	}
	if parsed < 0 {
		return fmt.Errorf("duration cannot be negative: %q", raw)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d Duration) MarshalJSON() ([]byte, error) { return json.Marshal(d.String()) }

func (d Duration) String() string { return d.Duration().String() }

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

// Secret is an API key or token. Every printed or serialized form is
// masked; only Value returns the credential.
type Secret string

const masked = "[REDACTED]"

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return masked
}

func (s Secret) GoString() string { return "config.Secret(" + masked + ")" }

func (s Secret) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s Secret) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

// UnmarshalText stores text verbatim.
func (s *Secret) UnmarshalText(text []byte) error {
	*s = Secret(text)
	return nil
}

// Value returns the credential.
func (s Secret) Value() string { return string(s) }

// IsSet reports whether a credential was provided.
func (s Secret) IsSet() bool { return s != "" }

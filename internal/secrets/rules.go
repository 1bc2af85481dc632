package secrets

// DefaultRules returns the built-in rules. Prefix-identified tokens need no
// keyword; generic assignments do.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:          "aws-access-key-id",
			Description: "AWS Access Key ID",
			Pattern:     `(?:A3T[A-Z0-9]|AKIA|AGPA|AIDA|AROA|AIPA|ANPA|ANVA|ASIA)[A-Z0-9]{16}`,
		},
		{
			ID:          "generic-api-key",
			Description: "Generic API Key",
			Pattern:     `(?i)(?:api[_-]?key|apikey)\s*[:=]\s*['"]?([A-Za-z0-9_\-]{16,64})['"]?`,
			Keywords:    []string{"api"},
		},
		{
			ID:          "generic-secret",
			Description: "Generic Secret",
			Pattern:     `(?i)(?:secret|password|passwd|pwd)\s*[:=]\s*['"]?([^\s'"]{8,})['"]?`,
			Keywords:    []string{"secret", "password", "passwd", "pwd"},
		},
		{
			ID:          "private-key",
			Description: "Private Key",
			Pattern:     `-----BEGIN (?:RSA |DSA |EC |OPENSSH |PGP )?PRIVATE KEY(?:[- ]BLOCK)?-----`,
		},
		{
			ID:          "github-token",
			Description: "GitHub Token",
			Pattern:     `(?:ghp|gho|ghu|ghs)_[A-Za-z0-9]{36}|github_pat_[A-Za-z0-9_]{22,}`,
		},
		{
			ID:          "slack-token",
			Description: "Slack Token",
			Pattern:     `xox[baprs]-[A-Za-z0-9\-]{10,}`,
		},
		{
			ID:          "jwt",
			Description: "JSON Web Token",
			Pattern:     `eyJ[A-Za-z0-9_-]*\.eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]*`,
		},
		{
			ID:          "google-api-key",
			Description: "Google API Key",
			Pattern:     `AIza[A-Za-z0-9_\-]{35}`,
		},
		{
			ID:          "anthropic-api-key",
			Description: "Anthropic API Key",
			Pattern:     `sk-ant-[A-Za-z0-9_\-]{32,}`,
		},
		{
			ID:          "openai-api-key",
			Description: "OpenAI-style API Key",
			Pattern:     `sk-(?:proj-)?[A-Za-z0-9]{32,}`,
		},
		{
			ID:          "bearer-token",
			Description: "Bearer Token",
			Pattern:     `(?i)bearer\s+[A-Za-z0-9_\-\.=]{20,}`,
			Keywords:    []string{"bearer"},
		},
		{
			ID:          "database-url",
			Description: "Connection URL with credentials",
			Pattern:     `(?i)(?:postgres|postgresql|mysql|mongodb|redis|amqp|nats)://[^:\s]+:[^@\s]+@[^\s]+`,
		},
	}
}

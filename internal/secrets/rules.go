package secrets

// DefaultRules covers the credentials this service handles: LLM provider
// keys, warehouse DSNs and the usual generic shapes.
func DefaultRules() []Rule {
	return []Rule{
		{ID: "anthropic-api-key", Pattern: `sk-ant-[A-Za-z0-9_\-]{16,}`},
		{ID: "openai-api-key", Pattern: `sk-(?:proj-)?[A-Za-z0-9_\-]{20,}`},
		{ID: "aws-access-key-id", Pattern: `\b(?:AKIA|ASIA|AGPA|AROA)[A-Z0-9]{16}\b`},
		// user:password@ in a URL-style DSN.
		{ID: "dsn-password", Pattern: `\b[a-zA-Z][a-zA-Z0-9+.\-]*://[^\s:/@'"]+:([^\s@/'"]+)@`},
		// password=... in a key/value DSN.
		{ID: "dsn-keyvalue", Pattern: `(?i)\b(?:password|pwd)\s*=\s*([^\s;'"]+)`},
		{ID: "generic-secret", Pattern: `(?i)\b(?:api[_-]?key|secret|token)\s*[:=]\s*([^\s,;'"]{8,})`},
		{ID: "bearer-token", Pattern: `(?i)\bbearer\s+([A-Za-z0-9_\-.=]{16,})`},
		{ID: "private-key", Pattern: `-----BEGIN (?:RSA |EC |OPENSSH )?PRIVATE KEY-----`},
	}
}

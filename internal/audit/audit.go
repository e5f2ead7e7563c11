// Package audit provides a structured audit logger for CLI command invocations.
// It logs command name, resolved configuration, and sanitised environment state
// so operators can trace what happened without exposing secret values.
//
// Secrets are logged as presence/absence only — never their values.
package audit

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// LogCommandStart emits a structured audit log entry when a CLI command begins.
// It records the command name, config file source, and sanitised environment.
func LogCommandStart(log *slog.Logger, command string, configPath string) {
	attrs := []slog.Attr{
		slog.String("command", command),
		slog.String("config_file", sanitiseConfigPath(configPath)),
	}

	// Log key operational env vars with sanitisation.
	for _, entry := range auditKeys {
		val := os.Getenv(entry.key)
		if entry.secret {
			attrs = append(attrs, slog.String(entry.key, presence(val)))
		} else {
			attrs = append(attrs, slog.String(entry.key, valOrUnset(val)))
		}
	}

	log.LogAttrs(context.TODO(), slog.LevelInfo, "audit: command start", attrs...)
}

// auditEntry defines an env var to include in the audit log.
type auditEntry struct {
	// key is the environment variable name.
	key string
	// secret indicates the value should be redacted to presence/absence.
	secret bool
}

// auditKeys is the ordered list of env vars included in every audit log entry.
var auditKeys = []auditEntry{
	{key: "MODEL_PROVIDER"},
	{key: "MODEL_NAME"},
	{key: "EMBEDDING_PROVIDER"},
	{key: "EMBEDDING_MODEL"},
	{key: "QDRANT_HOST"},
	{key: "QDRANT_PORT"},
	{key: "RETRIEVAL_TOP_K"},
	{key: "WORKFLOW_TTL_SECONDS"},
	{key: "WORKFLOW_CAP"},
	{key: "AGRIQUERY_DATA_DIR"},
	{key: "AGRIQUERY_HISTORY_DB"},
	{key: "GROQ_API_KEY", secret: true},
	{key: "PERPLEXITY_API_KEY", secret: true},
	{key: "OPENAI_API_KEY", secret: true},
	{key: "AZURE_OPENAI_API_KEY", secret: true},
	{key: "GOOGLE_API_KEY", secret: true},
	{key: "EMBEDDING_API_KEY", secret: true},
	{key: "QDRANT_API_KEY", secret: true},
	{key: "AGRIQUERY_API_KEY", secret: true},
	{key: "LANGFUSE_PUBLIC_KEY", secret: true},
	{key: "LANGFUSE_SECRET_KEY", secret: true},
	{key: "AWS_SECRET_ACCESS_KEY", secret: true},
}

// presence reduces a secret value to "set"/"unset".
func presence(val string) string {
	if val == "" {
		return "unset"
	}
	return "set"
}

// valOrUnset returns the value, or "unset" when empty.
func valOrUnset(val string) string {
	if val == "" {
		return "unset"
	}
	return val
}

// sanitiseConfigPath hides the user's home directory in logged paths.
func sanitiseConfigPath(path string) string {
	if path == "" {
		return "none"
	}
	if home, err := os.UserHomeDir(); err == nil && strings.HasPrefix(path, home) {
		return "~" + strings.TrimPrefix(path, home)
	}
	return path
}

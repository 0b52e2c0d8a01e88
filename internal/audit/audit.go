// Package audit provides structured audit logging for docqa. It records CLI
// command invocations with a sanitised view of the environment, and the
// state-changing session actions (upload, cleanup, expiry) served over HTTP.
//
// Secrets are logged as presence/absence only, never their values.
package audit

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// Action names a state-changing operation recorded in the audit trail.
type Action string

const (
	// ActionUpload is recorded when a document replaces a session's pipeline.
	ActionUpload Action = "upload"
	// ActionCleanup is recorded when a client requests a session reset.
	ActionCleanup Action = "cleanup"
	// ActionExpire is recorded when an idle session is reclaimed.
	ActionExpire Action = "expire"
	// ActionStartupReset is recorded when leftover state is wiped at boot.
	ActionStartupReset Action = "startup_reset"
)

// auditEntry defines an env var to include in the audit log.
type auditEntry struct {
	key    string
	secret bool
}

// auditKeys is the ordered list of env vars included in every command entry.
var auditKeys = []auditEntry{
	{"MODEL_PROVIDER", false},
	{"OLLAMA_HOST", false},
	{"OLLAMA_MODEL", false},
	{"OPENAI_API_KEY", true},
	{"OPENAI_MODEL", false},
	{"AZURE_OPENAI_API_KEY", true},
	{"AZURE_OPENAI_ENDPOINT", false},
	{"AZURE_OPENAI_DEPLOYMENT", false},
	{"ARK_API_KEY", true},
	{"ARK_MODEL", false},
	{"GOOGLE_API_KEY", true},
	{"GEMINI_MODEL", false},
	{"EMBEDDING_PROVIDER", false},
	{"EMBEDDING_MODEL", false},
	{"EMBEDDING_API_KEY", true},
	{"QDRANT_HOST", false},
	{"QDRANT_COLLECTION", false},
	{"QDRANT_API_KEY", true},
	{"DOCQA_API_KEY", true},
	{"DOCQA_PER_SESSION", false},
	{"DOCQA_SESSION_TTL", false},
	{"DOCQA_UPLOADS_DIR", false},
	{"DOCQA_INDEX_DIR", false},
	{"DOCQA_HISTORY_DB", false},
	{"LOG_LEVEL", false},
	{"LOG_FORMAT", false},
	{"LOG_FILE", false},
	{"LANGFUSE_PUBLIC_KEY", true},
	{"LANGFUSE_SECRET_KEY", true},
}

// secretEnvKeys is derived from auditKeys so the two lists cannot drift.
var secretEnvKeys = func() map[string]bool {
	m := make(map[string]bool, len(auditKeys))
	for _, e := range auditKeys {
		if e.secret {
			m[e.key] = true
		}
	}
	return m
}()

// LogCommandStart emits a structured audit log entry when a CLI command begins.
// It records the command name, config file source, and sanitised environment.
func LogCommandStart(log *slog.Logger, command string, configPath string) {
	attrs := []slog.Attr{
		slog.String("command", command),
		slog.String("config_file", sanitiseConfigPath(configPath)),
	}
	for _, entry := range auditKeys {
		attrs = append(attrs, slog.String(entry.key, SanitiseKey(entry.key, os.Getenv(entry.key))))
	}
	log.LogAttrs(context.Background(), slog.LevelInfo, "audit: command start", attrs...)
}

// LogSession records a session-scoped action. The namespace is shortened so
// full session tokens never reach the logs.
func LogSession(ctx context.Context, log *slog.Logger, action Action, namespace string, attrs ...slog.Attr) {
	base := []slog.Attr{
		slog.String("action", string(action)),
		slog.String("session", RedactToken(namespace)),
	}
	log.LogAttrs(ctx, slog.LevelInfo, "audit: session", append(base, attrs...)...)
}

// RedactToken keeps the first eight characters of a session token.
func RedactToken(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[:8] + "…"
}

// SanitiseKey returns "set" or "unset" for known secret keys, or the actual
// value for non-secret keys. This is safe to use in log messages.
func SanitiseKey(key, value string) string {
	if secretEnvKeys[key] {
		return presence(value)
	}
	return valOrUnset(value)
}

func presence(v string) string {
	if v != "" {
		return "set"
	}
	return "unset"
}

func valOrUnset(v string) string {
	if v != "" {
		return v
	}
	return "unset"
}

// sanitiseConfigPath returns the config path or "none" if empty.
func sanitiseConfigPath(p string) string {
	if p == "" {
		return "none"
	}
	home, err := os.UserHomeDir()
	if err == nil && strings.HasPrefix(p, home) {
		return "~" + p[len(home):]
	}
	return p
}

// Package tracing wires eino's callback system to Langfuse so every answering
// chain run (retrieval, prompt, model call) is recorded as a trace.
package tracing

import (
	"log/slog"
	"os"

	"github.com/cloudwego/eino-ext/callbacks/langfuse"
	"github.com/cloudwego/eino/callbacks"
)

// defaultHost is used when LANGFUSE_HOST is unset.
const defaultHost = "http://localhost:3000"

// Settings holds the Langfuse credentials resolved from the environment.
type Settings struct {
	Host      string
	PublicKey string
	SecretKey string
}

// FromEnv reads LANGFUSE_HOST, LANGFUSE_PUBLIC_KEY and LANGFUSE_SECRET_KEY.
// The second return value is false when either key is missing.
func FromEnv() (Settings, bool) {
	s := Settings{
		Host:      os.Getenv("LANGFUSE_HOST"),
		PublicKey: os.Getenv("LANGFUSE_PUBLIC_KEY"),
		SecretKey: os.Getenv("LANGFUSE_SECRET_KEY"),
	}
	if s.PublicKey == "" || s.SecretKey == "" {
		return s, false
	}
	if s.Host == "" {
		s.Host = defaultHost
	}
	return s, true
}

// Setup registers the Langfuse handler as a global eino callback when the
// credentials are present and returns a flush function that must run before
// process exit. When tracing is not configured the returned flush is a no-op.
func Setup(log *slog.Logger) func() {
	s, ok := FromEnv()
	if !ok {
		log.Debug("tracing: langfuse disabled")
		return func() {}
	}

	handler, flusher := langfuse.NewLangfuseHandler(&langfuse.Config{
		Host:      s.Host,
		PublicKey: s.PublicKey,
		SecretKey: s.SecretKey,
	})
	callbacks.AppendGlobalHandlers(handler)

	log.Info("tracing: langfuse enabled", slog.String("host", s.Host))
	return flusher
}

package server

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"

	"github.com/54b3r/docqa-go/internal/provider"
)

// LLMPinger probes a chat model backend through its zero-token health
// endpoint. It satisfies the Pinger interface and is used by GET /api/ready.
type LLMPinger struct {
	// check performs the backend-specific probe.
	check provider.HealthChecker
	// name identifies the backend in readiness responses (e.g. "ollama").
	name string
}

// NewLLMPinger constructs an LLMPinger for the given checker and backend
// name. It returns nil when the backend has no health endpoint.
func NewLLMPinger(hc provider.HealthChecker, name string) *LLMPinger {
	if hc == nil {
		return nil
	}
	return &LLMPinger{check: hc, name: name}
}

// Name returns the backend label used in readiness responses.
func (p *LLMPinger) Name() string { return p.name }

// Ping probes the LLM backend.
func (p *LLMPinger) Ping(ctx context.Context) error {
	if err := p.check.HealthCheck(ctx); err != nil {
		return fmt.Errorf("%s health check failed: %w", p.name, err)
	}
	return nil
}

// QdrantPinger probes a Qdrant instance using its native HealthCheck RPC.
type QdrantPinger struct {
	// client is the Qdrant gRPC client to probe.
	client *qdrant.Client
}

// NewQdrantPinger constructs a QdrantPinger for the given Qdrant client.
func NewQdrantPinger(client *qdrant.Client) *QdrantPinger {
	return &QdrantPinger{client: client}
}

// Name returns the dependency label used in readiness responses.
func (p *QdrantPinger) Name() string { return "qdrant" }

// Ping calls the Qdrant HealthCheck RPC.
func (p *QdrantPinger) Ping(ctx context.Context) error {
	if _, err := p.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// funcPinger adapts a named probe function to the Pinger interface.
type funcPinger struct {
	name string
	fn   func(ctx context.Context) error
}

// NewFuncPinger returns a Pinger that calls fn, e.g. a database Ping.
func NewFuncPinger(name string, fn func(ctx context.Context) error) Pinger {
	return &funcPinger{name: name, fn: fn}
}

func (p *funcPinger) Name() string                   { return p.name }
func (p *funcPinger) Ping(ctx context.Context) error { return p.fn(ctx) }

package qa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/sony/gobreaker"
)

// BreakerSettings tunes the chat model circuit breaker.
type BreakerSettings struct {
	// ConsecutiveFailures opens the breaker (default 5).
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing (default 30s).
	OpenTimeout time.Duration
}

// NewBreaker returns a breaker shared by every pipeline of the process, so a
// failing backend is detected across sessions. Cancelled requests do not
// count as failures.
func NewBreaker(s BreakerSettings, log *slog.Logger) *gobreaker.CircuitBreaker {
	if s.ConsecutiveFailures == 0 {
		s.ConsecutiveFailures = 5
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = 30 * time.Second
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "chat-model",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= s.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("qa: circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
}

// breakerModel runs a chat model's calls through a circuit breaker.
type breakerModel struct {
	inner model.BaseChatModel
	cb    *gobreaker.CircuitBreaker
}

// IsCallbacksEnabled reports that the wrapped model emits its own callbacks,
// so the chain does not wrap this node a second time.
func (b *breakerModel) IsCallbacksEnabled() bool { return true }

// Generate implements model.BaseChatModel.
func (b *breakerModel) Generate(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.Generate(ctx, in, opts...)
	})
	if err != nil {
		return nil, breakerError(err)
	}
	return out.(*schema.Message), nil
}

// Stream implements model.BaseChatModel. Only establishing the stream is
// guarded; errors surfacing mid-stream are not counted.
func (b *breakerModel) Stream(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.Stream(ctx, in, opts...)
	})
	if err != nil {
		return nil, breakerError(err)
	}
	return out.(*schema.StreamReader[*schema.Message]), nil
}

func breakerError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}

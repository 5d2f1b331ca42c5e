package translate

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/babelroom/babelroom/internal/observe"
	"github.com/babelroom/babelroom/internal/resilience"
	"github.com/babelroom/babelroom/pkg/provider/translator"
)

const (
	primaryTimeout  = 10 * time.Second
	fallbackTimeout = 15 * time.Second
)

// clientEntry pairs one backend with its breaker and call budget.
type clientEntry struct {
	provider translator.Provider
	breaker  *resilience.CircuitBreaker
	timeout  time.Duration
}

// Client drives the configured translation backends: the primary first, then
// the fallback once per call. Every attempt's latency is recorded per target,
// on failure as well as success. Translate never returns an error — when all
// backends fail, listeners receive the source text stamped provider "none"
// rather than nothing.
type Client struct {
	entries []clientEntry
	metrics *observe.Metrics
	log     *slog.Logger
}

// NewClient creates a Client. fallback may be nil; metrics may be nil in
// tests.
func NewClient(primary, fallback translator.Provider, m *observe.Metrics, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	c := &Client{metrics: m, log: log}
	c.entries = append(c.entries, clientEntry{
		provider: primary,
		breaker:  resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "translate-" + primary.Name()}),
		timeout:  primaryTimeout,
	})
	if fallback != nil {
		c.entries = append(c.entries, clientEntry{
			provider: fallback,
			breaker:  resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "translate-" + fallback.Name()}),
			timeout:  fallbackTimeout,
		})
	}
	return c
}

// Translate tries each backend in order and returns the first full answer.
// On total failure it returns identity results with Provider "none".
func (c *Client) Translate(ctx context.Context, req translator.Request) []translator.Result {
	for _, entry := range c.entries {
		results, err := c.attempt(ctx, entry, req)
		if err == nil {
			return results
		}
		if errors.Is(err, resilience.ErrCircuitOpen) {
			c.log.Debug("translator skipped, circuit open", "provider", entry.provider.Name())
			continue
		}
		c.log.Warn("translator failed",
			"provider", entry.provider.Name(),
			"targets", req.Targets,
			"error", err)
	}

	out := make([]translator.Result, len(req.Targets))
	for i, target := range req.Targets {
		out[i] = translator.Result{Lang: target, Text: req.Text, Provider: "none"}
	}
	return out
}

// Healthy reports readiness: at least one backend's breaker must admit calls.
func (c *Client) Healthy() error {
	for _, entry := range c.entries {
		if entry.breaker.State() != resilience.StateOpen {
			return nil
		}
	}
	return errors.New("translate: all backends have open circuit breakers")
}

func (c *Client) attempt(ctx context.Context, entry clientEntry, req translator.Request) ([]translator.Result, error) {
	cctx, cancel := context.WithTimeout(ctx, entry.timeout)
	defer cancel()

	start := time.Now()
	var results []translator.Result
	err := entry.breaker.Execute(func() error {
		var innerErr error
		results, innerErr = entry.provider.Translate(cctx, req)
		if innerErr == nil && len(results) != len(req.Targets) {
			innerErr = errors.New("translator returned wrong result count")
		}
		return innerErr
	})

	// A rejected call never reached the backend, so there is no latency to
	// report for it.
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		c.observe(ctx, entry.provider.Name(), req.Targets, time.Since(start), err == nil)
	}
	return results, err
}

func (c *Client) observe(ctx context.Context, provider string, targets []string, elapsed time.Duration, ok bool) {
	if c.metrics == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "error"
	}
	for _, target := range targets {
		c.metrics.TranslateDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
			attribute.String("lang", target),
			attribute.String("provider", provider),
			attribute.String("outcome", outcome),
		))
	}
}

// Package metrics exposes runtime counters over Prometheus.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sharphq/sharpbot/internal/agent"
	"github.com/sharphq/sharpbot/internal/bus"
)

// Metrics holds the collectors. Each instance carries its own registry
// so construction is idempotent.
type Metrics struct {
	registry *prometheus.Registry

	// Messages counts bus traffic. Labels: channel, direction
	// (inbound|outbound).
	Messages *prometheus.CounterVec

	// Turns counts completed agent turns. Labels: channel, status
	// (success|error|maxed_out).
	Turns *prometheus.CounterVec

	// TurnDuration measures turn wall time in seconds. Label: channel.
	TurnDuration *prometheus.HistogramVec

	// Tokens counts LLM token usage. Label: type (prompt|completion).
	Tokens *prometheus.CounterVec

	// ToolCalls counts tool executions across all turns.
	ToolCalls prometheus.Counter

	// Compactions counts context compaction passes.
	Compactions prometheus.Counter
}

// New creates the collectors. When b is non-nil the inbound/outbound
// queue depths are exported as gauges.
func New(b *bus.Bus) *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{
		registry: registry,
		Messages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sharpbot_messages_total",
				Help: "Messages through the bus by channel and direction",
			},
			[]string{"channel", "direction"},
		),
		Turns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sharpbot_turns_total",
				Help: "Agent turns by channel and outcome",
			},
			[]string{"channel", "status"},
		),
		TurnDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sharpbot_turn_duration_seconds",
				Help:    "Agent turn wall time in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"channel"},
		),
		Tokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sharpbot_llm_tokens_total",
				Help: "LLM tokens used by type",
			},
			[]string{"type"},
		),
		ToolCalls: factory.NewCounter(prometheus.CounterOpts{
			Name: "sharpbot_tool_calls_total",
			Help: "Tool executions across all turns",
		}),
		Compactions: factory.NewCounter(prometheus.CounterOpts{
			Name: "sharpbot_compactions_total",
			Help: "Context compaction passes",
		}),
	}

	if b != nil {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "sharpbot_inbound_queue_depth",
			Help: "Messages waiting in the inbound queue",
		}, func() float64 { return float64(b.InboundDepth()) })
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "sharpbot_outbound_queue_depth",
			Help: "Messages waiting in the outbound queue",
		}, func() float64 { return float64(b.OutboundDepth()) })
	}
	return m
}

// ObserveTurn records one turn's telemetry. Suitable as the agent
// loop's Observer.
func (m *Metrics) ObserveTurn(tel agent.Telemetry) {
	status := "success"
	switch {
	case tel.Failed:
		status = "error"
	case tel.MaxedOut:
		status = "maxed_out"
	}
	m.Turns.WithLabelValues(tel.Channel, status).Inc()
	m.TurnDuration.WithLabelValues(tel.Channel).Observe(tel.Duration.Seconds())
	m.Tokens.WithLabelValues("prompt").Add(float64(tel.PromptTokens))
	m.Tokens.WithLabelValues("completion").Add(float64(tel.CompletionTokens))
	m.ToolCalls.Add(float64(tel.ToolCalls))
	m.Compactions.Add(float64(tel.Compactions))
}

// MessageReceived counts one inbound message.
func (m *Metrics) MessageReceived(channel string) {
	m.Messages.WithLabelValues(channel, "inbound").Inc()
}

// MessageSent counts one outbound message.
func (m *Metrics) MessageSent(channel string) {
	m.Messages.WithLabelValues(channel, "outbound").Inc()
}

// Handler returns the scrape handler for this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics — and /status when a status handler is given
// — on the given port until ctx is cancelled. Port 0 disables the
// endpoint.
func (m *Metrics) Serve(ctx context.Context, port int, status http.Handler, logger *slog.Logger) error {
	if port <= 0 {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	if status != nil {
		mux.Handle("/status", status)
	}
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	errs := make(chan error, 1)
	go func() {
		logger.Info("metrics endpoint listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errs <- err
		}
	}()

	select {
	case err := <-errs:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

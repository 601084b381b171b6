package observability

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/iamwavecut/ngtrust"

var (
	// Global logger instance
	Logger = zap.NewNop()

	registerOnce sync.Once

	// Metrics
	violationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ngtrust_violations_total",
			Help: "Total number of recorded policy violations",
		},
		[]string{"type", "severity", "action"},
	)

	gateDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ngtrust_gate_decisions_total",
			Help: "Send gate decisions by reason code",
		},
		[]string{"code"},
	)

	gateDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ngtrust_gate_duration_seconds",
			Help:    "Time spent deciding on an outgoing message",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"code"},
	)

	sweptConversationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ngtrust_sweeper_conversations_total",
			Help: "Conversations scanned by the sweeper",
		},
	)

	sweptFlaggedMessagesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ngtrust_sweeper_flagged_messages_total",
			Help: "Messages newly flagged by the sweeper",
		},
	)

	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ngtrust_notifications_total",
			Help: "Enforcement notices by delivery status",
		},
		[]string{"status"},
	)

	appealsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ngtrust_appeals_total",
			Help: "Appeal events by outcome",
		},
		[]string{"outcome"},
	)
)

// Init sets up the request logger, metric registration and the tracer provider.
// The returned function flushes and shuts the tracer provider down.
func Init(ctx context.Context) (func(context.Context) error, error) {
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	Logger = logger

	registerOnce.Do(func() {
		prometheus.MustRegister(
			violationsTotal,
			gateDecisionsTotal,
			gateDuration,
			sweptConversationsTotal,
			sweptFlaggedMessagesTotal,
			notificationsTotal,
			appealsTotal,
		)
	})

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		_ = Logger.Sync()
		return tp.Shutdown(ctx)
	}, nil
}

// Tracer resolves through the global provider, so spans are no-ops until Init runs.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// RecordViolation records an enforcement decision
func RecordViolation(violationType, severity, action string) {
	violationsTotal.WithLabelValues(violationType, severity, action).Inc()
}

// StartGateDecision returns a function to record the decision code and its latency
func StartGateDecision() func(code string) {
	timer := prometheus.NewTimer(prometheus.ObserverFunc(func(float64) {}))
	return func(code string) {
		gateDecisionsTotal.WithLabelValues(code).Inc()
		gateDuration.WithLabelValues(code).Observe(timer.ObserveDuration().Seconds())
	}
}

func RecordSweep(conversations, flaggedMessages int) {
	sweptConversationsTotal.Add(float64(conversations))
	sweptFlaggedMessagesTotal.Add(float64(flaggedMessages))
}

func RecordNotification(status string) {
	notificationsTotal.WithLabelValues(status).Inc()
}

func RecordAppeal(outcome string) {
	appealsTotal.WithLabelValues(outcome).Inc()
}

package observability

import (
	"context"

	"github.com/aretw0/ledger/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ledger"

// Outcome labels.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Metrics holds the Prometheus collectors fed by engine hooks.
type Metrics struct {
	Commands        *prometheus.CounterVec
	CommandDuration *prometheus.HistogramVec
	Replayed        prometheus.Counter
	RecoverySeconds prometheus.Gauge
	LastSeq         prometheus.Gauge
	State           *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_total",
				Help:      "Commands applied, by command and outcome.",
			},
			[]string{"command", "outcome"},
		),
		CommandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "command_duration_seconds",
				Help:      "Time to run and journal a live command.",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
			},
			[]string{"command"},
		),
		Replayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replayed_records_total",
			Help:      "Journal records applied during recovery.",
		}),
		RecoverySeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "recovery_duration_seconds",
			Help:      "Duration of the last startup replay.",
		}),
		LastSeq: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_sequence",
			Help:      "Sequence of the last committed command.",
		}),
		State: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "state",
				Help:      "Current lifecycle state (1 for the active state).",
			},
			[]string{"state"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.Commands, m.CommandDuration, m.Replayed, m.RecoverySeconds, m.LastSeq, m.State)
	}
	return m
}

// Hooks returns lifecycle hooks that update the collectors.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnCommand: func(_ context.Context, e *domain.CommandEvent) {
			if e.Replay {
				if e.Err == nil {
					m.Replayed.Inc()
					m.LastSeq.Set(float64(e.Seq))
				}
				return
			}
			outcome := OutcomeOK
			if e.Err != nil {
				outcome = OutcomeError
			} else {
				m.LastSeq.Set(float64(e.Seq))
			}
			m.Commands.WithLabelValues(e.Command, outcome).Inc()
			m.CommandDuration.WithLabelValues(e.Command).Observe(e.Duration.Seconds())
		},
		OnRecovery: func(_ context.Context, e *domain.RecoveryEvent) {
			m.RecoverySeconds.Set(e.Duration.Seconds())
			m.LastSeq.Set(float64(e.LastSeq))
		},
		OnStateChange: func(_ context.Context, e *domain.StateEvent) {
			if e.From != "" {
				m.State.WithLabelValues(string(e.From)).Set(0)
			}
			m.State.WithLabelValues(string(e.To)).Set(1)
		},
	}
}

// Package metrics exposes prometheus instrumentation for the orchestration
// core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the collectors the orchestrator updates.
type Metrics struct {
	PhasesStarted    prometheus.Counter
	PhasesCompleted  prometheus.Counter
	PhasesBlocked    prometheus.Counter
	ApprovalsPending prometheus.Gauge
	ApprovalsAuto    prometheus.Counter
	ApprovalsUser    prometheus.Counter
	AlertsRaised     *prometheus.CounterVec
	MessagesFiltered *prometheus.CounterVec
}

// New creates and registers the collectors on reg. Pass
// prometheus.NewRegistry() in tests to avoid global registration conflicts.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PhasesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "conductor",
			Name:      "phases_started_total",
			Help:      "Number of phase executions started.",
		}),
		PhasesCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "conductor",
			Name:      "phases_completed_total",
			Help:      "Number of phase executions completed.",
		}),
		PhasesBlocked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "conductor",
			Name:      "phases_blocked_total",
			Help:      "Number of phase executions blocked by vigilance or agent failure.",
		}),
		ApprovalsPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "conductor",
			Name:      "approvals_pending",
			Help:      "Approval requests currently awaiting a decision.",
		}),
		ApprovalsAuto: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "conductor",
			Name:      "approvals_auto_resolved_total",
			Help:      "Approval requests resolved automatically.",
		}),
		ApprovalsUser: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "conductor",
			Name:      "approvals_user_resolved_total",
			Help:      "Approval requests resolved by a human.",
		}),
		AlertsRaised: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conductor",
			Name:      "vigilance_alerts_total",
			Help:      "Vigilance alerts raised, by type.",
		}, []string{"type"}),
		MessagesFiltered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conductor",
			Name:      "messages_filtered_total",
			Help:      "Agent messages rejected by the output filter, by reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		m.PhasesStarted,
		m.PhasesCompleted,
		m.PhasesBlocked,
		m.ApprovalsPending,
		m.ApprovalsAuto,
		m.ApprovalsUser,
		m.AlertsRaised,
		m.MessagesFiltered,
	)
	return m
}

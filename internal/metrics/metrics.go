// Package metrics exposes Prometheus collectors for the exam runtime.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ViolationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "exstem",
		Name:      "violations_total",
		Help:      "Integrity violations detected, by cause.",
	}, []string{"cause"})

	AlertsSuppressedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "exstem",
		Name:      "alerts_suppressed_total",
		Help:      "Violation alerts coalesced by the throttle window.",
	})

	SubmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "exstem",
		Name:      "submissions_total",
		Help:      "Submission attempts, by status and outcome.",
	}, []string{"status", "outcome"})

	AutosaveWritesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "exstem",
		Name:      "autosave_writes_total",
		Help:      "Draft writes performed by auto-save or manual save.",
	})

	PersistenceFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "exstem",
		Name:      "persistence_failures_total",
		Help:      "Draft store operations that failed, by operation.",
	}, []string{"op"})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "exstem",
		Name:      "active_sessions",
		Help:      "Exam surfaces currently connected.",
	})
)

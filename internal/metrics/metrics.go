package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Authentication metrics
	AuthAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vulnscope_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"method", "result"},
	)

	AccountLockoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vulnscope_auth_lockouts_total",
			Help: "Total number of account lockouts triggered",
		},
	)

	// Authorization metrics
	PermissionChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vulnscope_authz_permission_checks_total",
			Help: "Total number of permission checks",
		},
		[]string{"result"},
	)

	// Audit metrics
	AuditEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vulnscope_audit_events_total",
			Help: "Total number of audit events written",
		},
		[]string{"component", "level"},
	)

	AuditChecksumFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vulnscope_audit_checksum_failures_total",
			Help: "Total number of audit records skipped due to checksum mismatch",
		},
	)

	// Sandbox metrics
	SandboxExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vulnscope_sandbox_executions_total",
			Help: "Total number of sandboxed command executions",
		},
		[]string{"isolation", "outcome"},
	)

	SandboxExecutionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vulnscope_sandbox_execution_duration_seconds",
			Help:    "Duration of sandboxed command executions in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Compliance metrics
	ComplianceChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vulnscope_compliance_checks_total",
			Help: "Total number of compliance requirement validations",
		},
		[]string{"result"},
	)
)

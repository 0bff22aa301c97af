package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records authentication outcomes by flow (signup|login|verify_otp|federated|forgot_password|renew)
	// and result (success|failure).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accounts_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"flow", "result"},
	)

	// OTPIssued counts OTP codes by outcome (created|reused).
	OTPIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accounts_otp_issued_total",
			Help: "Total number of OTP issuance requests",
		},
		[]string{"outcome"},
	)

	// MailDispatch counts outbound mail by result (sent|failed|disabled).
	MailDispatch = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accounts_mail_dispatch_total",
			Help: "Total number of outbound mail dispatches",
		},
		[]string{"template", "result"},
	)

	// SpamRejections counts signups refused by the spam filter.
	SpamRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "accounts_spam_rejections_total",
			Help: "Total number of signups rejected as spam",
		},
	)

	// Accounts tracks stored accounts by state (pending|verified|inactive).
	Accounts = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "accounts_total",
			Help: "Number of stored accounts by state",
		},
		[]string{"state"},
	)

	// RoleChecks counts role guard decisions by role and result (allowed|denied).
	RoleChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accounts_role_checks_total",
			Help: "Total number of role guard decisions",
		},
		[]string{"role", "result"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "accounts_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// ObserveAuth records a single authentication outcome.
func ObserveAuth(flow string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	AuthAttempts.WithLabelValues(flow, result).Inc()
}

package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// Config configures the metric constant labels.
type Config struct {
	ServiceName string
	Environment string
}

// Metrics exposes the ledger's prometheus instruments.
type Metrics struct {
	consumeTotal     *prometheus.CounterVec
	creditsConsumed  prometheus.Counter
	overageRecorded  prometheus.Counter
	alertsFired      prometheus.Counter
	webhookEvents    *prometheus.CounterVec
	reporterRuns     *prometheus.CounterVec
	reportedCredits  prometheus.Counter
	grantsIssued     *prometheus.CounterVec
	expiredRemainder prometheus.Counter
}

// New registers the ledger metrics on the default registerer.
func New(cfg Config) *Metrics {
	return NewWith(prometheus.DefaultRegisterer, cfg)
}

// NewWith registers the ledger metrics on the given registerer.
func NewWith(registerer prometheus.Registerer, cfg Config) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "kredit"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	factory := func(opts prometheus.CounterOpts, labels ...string) *prometheus.CounterVec {
		opts.ConstLabels = constLabels
		vec := prometheus.NewCounterVec(opts, labels)
		registerer.MustRegister(vec)
		return vec
	}
	counter := func(opts prometheus.CounterOpts) prometheus.Counter {
		opts.ConstLabels = constLabels
		c := prometheus.NewCounter(opts)
		registerer.MustRegister(c)
		return c
	}

	return &Metrics{
		consumeTotal: factory(prometheus.CounterOpts{
			Name: "kredit_consume_total",
			Help: "Credit consumption attempts by outcome.",
		}, "outcome"),
		creditsConsumed: counter(prometheus.CounterOpts{
			Name: "kredit_credits_consumed_total",
			Help: "Credits debited from grants.",
		}),
		overageRecorded: counter(prometheus.CounterOpts{
			Name: "kredit_overage_recorded_total",
			Help: "Credits recorded as overage usage.",
		}),
		alertsFired: counter(prometheus.CounterOpts{
			Name: "kredit_alerts_fired_total",
			Help: "Usage threshold alerts fired.",
		}),
		webhookEvents: factory(prometheus.CounterOpts{
			Name: "kredit_webhook_events_total",
			Help: "Billing webhook events by type and outcome.",
		}, "event_type", "outcome"),
		reporterRuns: factory(prometheus.CounterOpts{
			Name: "kredit_reporter_runs_total",
			Help: "Overage reporter runs by outcome.",
		}, "outcome"),
		reportedCredits: counter(prometheus.CounterOpts{
			Name: "kredit_reported_credits_total",
			Help: "Overage credits reported to the billing provider.",
		}),
		grantsIssued: factory(prometheus.CounterOpts{
			Name: "kredit_grants_issued_total",
			Help: "Credit grants issued by grant type.",
		}, "grant_type"),
		expiredRemainder: counter(prometheus.CounterOpts{
			Name: "kredit_expired_remainder_credits_total",
			Help: "Credits left unspent on grants at expiry.",
		}),
	}
}

func (m *Metrics) RecordConsume(outcome string) {
	if m == nil {
		return
	}
	m.consumeTotal.WithLabelValues(strings.TrimSpace(outcome)).Inc()
}

func (m *Metrics) AddCreditsConsumed(amount int64) {
	if m == nil || amount <= 0 {
		return
	}
	m.creditsConsumed.Add(float64(amount))
}

func (m *Metrics) AddOverageRecorded(amount int64) {
	if m == nil || amount <= 0 {
		return
	}
	m.overageRecorded.Add(float64(amount))
}

func (m *Metrics) RecordAlertFired() {
	if m == nil {
		return
	}
	m.alertsFired.Inc()
}

func (m *Metrics) RecordWebhookEvent(eventType, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(strings.TrimSpace(eventType), strings.TrimSpace(outcome)).Inc()
}

func (m *Metrics) RecordReporterRun(outcome string) {
	if m == nil {
		return
	}
	m.reporterRuns.WithLabelValues(strings.TrimSpace(outcome)).Inc()
}

func (m *Metrics) AddReportedCredits(amount int64) {
	if m == nil || amount <= 0 {
		return
	}
	m.reportedCredits.Add(float64(amount))
}

func (m *Metrics) RecordGrantIssued(grantType string) {
	if m == nil {
		return
	}
	m.grantsIssued.WithLabelValues(strings.TrimSpace(grantType)).Inc()
}

func (m *Metrics) AddExpiredRemainder(amount int64) {
	if m == nil || amount <= 0 {
		return
	}
	m.expiredRemainder.Add(float64(amount))
}

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	invoicesCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "localboard",
			Subsystem: "ledger",
			Name:      "invoices_created_total",
			Help:      "Invoices created, by purpose and provider.",
		},
		[]string{"purpose", "provider"},
	)

	settlements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "localboard",
			Subsystem: "ledger",
			Name:      "settlements_total",
			Help:      "Settlement attempts, by purpose and outcome (applied, noop, error).",
		},
		[]string{"purpose", "outcome"},
	)

	webhooks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "localboard",
			Subsystem: "webhooks",
			Name:      "deliveries_total",
			Help:      "Webhook deliveries, by provider and result.",
		},
		[]string{"provider", "result"},
	)

	presenceTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "localboard",
			Subsystem: "presence",
			Name:      "verifications_total",
			Help:      "Presence token verifications, by result.",
		},
		[]string{"result"},
	)

	lnurlVerifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "localboard",
			Subsystem: "lnurl",
			Name:      "verifications_total",
			Help:      "LNURL-auth callback verifications, by result.",
		},
		[]string{"result"},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		invoicesCreated,
		settlements,
		webhooks,
		presenceTokens,
		lnurlVerifications,
	)
}

// Handler exposes the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func RecordInvoiceCreated(purpose, provider string) {
	invoicesCreated.WithLabelValues(purpose, provider).Inc()
}

func RecordSettlement(purpose, outcome string) {
	if purpose == "" {
		purpose = "unknown"
	}
	settlements.WithLabelValues(purpose, outcome).Inc()
}

func RecordWebhook(provider, result string) {
	webhooks.WithLabelValues(provider, result).Inc()
}

func RecordPresence(result string) {
	presenceTokens.WithLabelValues(result).Inc()
}

func RecordLnurl(result string) {
	lnurlVerifications.WithLabelValues(result).Inc()
}

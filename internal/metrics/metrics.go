package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"route", "method", "status"},
	)

	PaymentsInitiated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_initiated_total",
			Help: "Payment initiations by outcome",
		},
		[]string{"outcome"}, // completed|pending|failed
	)
	PaymentsSettled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_settled_total",
			Help: "Terminal payment transitions by path and status",
		},
		[]string{"path", "status"}, // path: verify|webhook|initiate
	)
	WebhooksReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhooks_received_total",
			Help: "Inbound gateway webhooks by result",
		},
		[]string{"result"}, // applied|duplicate|ignored|invalid
	)
	RefundsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refunds_total",
			Help: "Refunds by outcome",
		},
		[]string{"outcome"}, // partial|full|failed
	)
	ReconciliationConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reconciliation_conflicts_total",
			Help: "Status transitions lost to a concurrent writer",
		},
	)
	PersistenceGaps = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "persistence_gaps_total",
			Help: "Gateway-confirmed movements the local store failed to record",
		},
	)
	DispatchQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatch_queue_depth",
			Help: "Pending side-effect jobs",
		},
	)
)

var Handler = promhttp.Handler

func Init() {
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(PaymentsInitiated)
	prometheus.MustRegister(PaymentsSettled)
	prometheus.MustRegister(WebhooksReceived)
	prometheus.MustRegister(RefundsTotal)
	prometheus.MustRegister(ReconciliationConflicts)
	prometheus.MustRegister(PersistenceGaps)
	prometheus.MustRegister(DispatchQueueDepth)
}

package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PurchasesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ticket_purchases_total",
		Help: "Total number of purchase requests by tier kind and outcome",
	}, []string{"kind", "outcome"})

	TicketsIssuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tickets_issued_total",
		Help: "Total number of tickets minted",
	}, []string{"kind"})

	InventoryCommitFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_commit_failed_total",
		Help: "Total number of inventory commits rejected",
	}, []string{"reason"})

	InventoryCommitLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "inventory_commit_latency_seconds",
		Help:    "Latency of inventory commit operations",
		Buckets: prometheus.DefBuckets,
	})

	PaymentResolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_resolutions_total",
		Help: "Total number of payment confirmations by outcome",
	}, []string{"outcome"})

	WalletRequestLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "wallet_request_latency_seconds",
		Help:    "Latency of payment collection requests",
		Buckets: prometheus.DefBuckets,
	})

	WalletRequestsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wallet_requests_failed_total",
		Help: "Total number of failed payment collection requests",
	})

	CheckInsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ticket_checkins_total",
		Help: "Total number of gate scans by result",
	}, []string{"result"})

	NotificationsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ticket_notifications_failed_total",
		Help: "Total number of ticket notifications that could not be queued",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)

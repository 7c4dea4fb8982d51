package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BidsAcceptedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bids_accepted_total",
		Help: "Total number of accepted bids",
	})

	BidsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bids_rejected_total",
		Help: "Total number of rejected bids",
	}, []string{"reason"})

	BidPlacementLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bid_placement_latency_seconds",
		Help:    "Latency of bid placement including the atomic apply",
		Buckets: prometheus.DefBuckets,
	})

	AuctionsActivatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auctions_activated_total",
		Help: "Total number of auctions moved from scheduled to active",
	})

	AuctionsClosedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auctions_closed_total",
		Help: "Total number of auctions moved from active to ended",
	})

	AuctionsCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auctions_cancelled_total",
		Help: "Total number of cancelled auctions",
	})

	AuctionsExtendedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auctions_extended_total",
		Help: "Total number of applied deadline extensions",
	}, []string{"source"})

	AuctionsFinalizedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auctions_finalized_total",
		Help: "Total number of auctions handed off to order creation",
	})

	WinnerReassignedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "winner_reassigned_total",
		Help: "Total number of reconciliations that moved the winner to another bid",
	})

	AuctionsResetTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auctions_reset_total",
		Help: "Total number of reconciliations that reset an auction to its unbid state",
	})

	SchedulerSweepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scheduler_sweep_duration_seconds",
		Help:    "Duration of one scheduler sweep",
		Buckets: prometheus.DefBuckets,
	}, []string{"sweep"})

	SchedulerSweepFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_sweep_failures_total",
		Help: "Per-auction failures isolated during scheduler sweeps",
	}, []string{"sweep"})

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

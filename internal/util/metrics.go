package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersPlacedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pharmacy_orders_placed_total",
		Help: "Total number of orders committed",
	})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pharmacy_orders_failed_total",
		Help: "Total number of order placements that did not commit",
	}, []string{"reason"})

	OrderLinesDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pharmacy_order_lines_dropped_total",
		Help: "Cart lines dropped during order placement",
	}, []string{"reason"})

	OrderPlacementLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pharmacy_order_placement_latency_seconds",
		Help:    "Latency of the order placement transaction",
		Buckets: prometheus.DefBuckets,
	})

	OrderStatusChangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pharmacy_order_status_changes_total",
		Help: "Order status transitions",
	}, []string{"from", "to"})

	StockDecrementConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pharmacy_stock_decrement_conflicts_total",
		Help: "Conditional stock decrements that affected no row",
	})

	DuplicateDetectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pharmacy_duplicate_detections_total",
		Help: "Incoming medicine names flagged as probable duplicates",
	}, []string{"source"})

	BulkImportRowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pharmacy_bulk_import_rows_total",
		Help: "Bulk import rows by outcome",
	}, []string{"outcome"})

	WorkflowStepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pharmacy_workflow_steps_total",
		Help: "Workflow step inputs by workflow kind and outcome",
	}, []string{"kind", "outcome"})

	SessionEvictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pharmacy_session_evictions_total",
		Help: "Expired sessions removed by the sweeper",
	}, []string{"type"})

	NotificationsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pharmacy_notifications_sent_total",
		Help: "Outbound notifications by result",
	}, []string{"result"})

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

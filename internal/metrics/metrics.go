package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsSubmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "library_requests_submitted_total",
		Help: "Total number of borrow requests submitted by students.",
	})

	RequestsApprovedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "library_requests_approved_total",
		Help: "Total number of borrow requests approved.",
	})

	RequestsRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "library_requests_rejected_total",
		Help: "Total number of borrow requests rejected.",
	})

	BooksCheckedOutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "library_books_checked_out_total",
		Help: "Total number of book copies checked out.",
	})

	BooksReturnedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "library_books_returned_total",
		Help: "Total number of book copies returned.",
	})

	OperationErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "library_operation_errors_total",
		Help: "Total number of errors encountered during specific operations.",
	},
		[]string{"operation"},
	)

	RealtimeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "library_realtime_sessions",
		Help: "Current number of connected realtime sessions.",
	})

	BookCacheItems = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "library_book_cache_items",
		Help: "Current number of items in the book cache.",
	})
)

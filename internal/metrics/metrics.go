package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CatalogRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "books_catalog_requests_total",
		Help: "Remote catalog requests by outcome",
	}, []string{"outcome"})

	CatalogRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "books_catalog_request_duration_seconds",
		Help:    "Duration of remote catalog requests in seconds",
		Buckets: prometheus.DefBuckets,
	})

	StaleResponsesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "books_catalog_stale_responses_total",
		Help: "Catalog responses discarded because a newer query superseded them",
	})

	RentalMutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "books_rental_mutations_total",
		Help: "Rent and return actions by outcome",
	}, []string{"action", "outcome"})

	HttpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "books_http_requests_total",
		Help: "Total number of Mini App API requests",
	}, []string{"method", "path", "status"})

	HttpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "books_http_request_duration_seconds",
		Help:    "Duration of Mini App API requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"path"})
)

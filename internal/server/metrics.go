package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deskpilot_queries_total",
		Help: "Processed queries by decided route.",
	}, []string{"route"})

	queryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "deskpilot_query_duration_seconds",
		Help:    "End to end query processing time.",
		Buckets: prometheus.DefBuckets,
	})

	reindexTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deskpilot_reindex_total",
		Help: "Knowledge base rebuilds by outcome.",
	}, []string{"outcome"})

	ticketsOpened = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deskpilot_tickets_opened_total",
		Help: "Tickets opened by the escalation flow.",
	})
)

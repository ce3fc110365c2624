package feed

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pushesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pdxfeed",
			Name:      "pushes_total",
			Help:      "Live snapshots applied to views, by stream.",
		},
		[]string{"stream"},
	)

	togglesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pdxfeed",
			Name:      "toggles_total",
			Help:      "Like and save toggles by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	resubscribesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pdxfeed",
			Name:      "resubscribes_total",
			Help:      "Times a view reopened its subscriptions after a failure.",
		},
	)

	undatedEventsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pdxfeed",
			Name:      "undated_events_total",
			Help:      "Events dropped from a view because their dateTime did not parse.",
		},
	)
)

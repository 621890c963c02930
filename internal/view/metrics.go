package view

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	changesApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livefeed_view_changes_total",
		Help: "The total number of change events applied to timeline views",
	}, []string{"entity", "kind"})

	changesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livefeed_view_changes_dropped_total",
		Help: "The total number of change events ignored by timeline views",
	}, []string{"entity", "reason"})
)

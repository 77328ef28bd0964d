// Package telemetry exposes the prometheus collectors for the feed and
// race pipeline, served on /metrics.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CardsServed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wikirace_cards_served_total",
		Help: "Cards handed to feed clients.",
	})

	VotesRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wikirace_votes_total",
		Help: "Poll votes recorded, by bucket.",
	}, []string{"bucket"})

	RacesStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wikirace_races_started_total",
		Help: "Browser sessions opened for a race.",
	})

	RacesFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wikirace_races_finished_total",
		Help: "Races that reached a terminal event, by outcome.",
	}, []string{"outcome"})

	StreamEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wikirace_stream_events_total",
		Help: "Run stream events emitted, by type.",
	}, []string{"type"})
)

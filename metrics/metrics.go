// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "runoff"

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	ballotsAccepted,
	ballotsInvalid,
	ballotsRejected prometheus.Counter

	tallies      *prometheus.CounterVec // by path: patched, full
	tallyLatency prometheus.Histogram

	snapshots,
	tieBreakAmbiguous,
	privacyRefused prometheus.Counter

	diffs       *prometheus.CounterVec // by kind: counts, reset
	subscribers prometheus.Gauge
	dropped     prometheus.Counter
}

func newCounter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	})
}

// New creates the collectors and registers them with registerer.
func New(registerer prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		ballotsAccepted:   newCounter("ballots_accepted", "Number of ballots stored with a countable ranking"),
		ballotsInvalid:    newCounter("ballots_invalid", "Number of ballots stored as exhausted after normalization"),
		ballotsRejected:   newCounter("ballots_rejected", "Number of ballots refused because the poll is closed"),
		snapshots:         newCounter("snapshots", "Number of official snapshots created"),
		tieBreakAmbiguous: newCounter("tie_break_ambiguous", "Number of tallies aborted by an unresolvable tie"),
		privacyRefused:    newCounter("privacy_refused", "Number of breakdown queries refused for lack of epsilon budget"),
		dropped:           newCounter("subscribers_dropped", "Number of realtime subscribers dropped for falling behind"),
		tallies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tallies",
			Help:      "Number of tally computations by path",
		}, []string{"path"}),
		tallyLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tally_seconds",
			Help:      "Time spent computing tallies",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}),
		diffs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "diffs_published",
			Help:      "Number of realtime diffs published by kind",
		}, []string{"kind"}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers",
			Help:      "Number of connected realtime subscribers",
		}),
	}

	err := errors.Join(
		registerer.Register(m.ballotsAccepted),
		registerer.Register(m.ballotsInvalid),
		registerer.Register(m.ballotsRejected),
		registerer.Register(m.tallies),
		registerer.Register(m.tallyLatency),
		registerer.Register(m.snapshots),
		registerer.Register(m.tieBreakAmbiguous),
		registerer.Register(m.privacyRefused),
		registerer.Register(m.diffs),
		registerer.Register(m.subscribers),
		registerer.Register(m.dropped),
	)
	return m, err
}

func (m *Metrics) BallotAccepted(exhausted bool) {
	if m == nil {
		return
	}
	if exhausted {
		m.ballotsInvalid.Inc()
		return
	}
	m.ballotsAccepted.Inc()
}

func (m *Metrics) BallotRejected() {
	if m != nil {
		m.ballotsRejected.Inc()
	}
}

// Tally records one tally computation.
func (m *Metrics) Tally(patched bool, took time.Duration) {
	if m == nil {
		return
	}
	path := "full"
	if patched {
		path = "patched"
	}
	m.tallies.WithLabelValues(path).Inc()
	m.tallyLatency.Observe(took.Seconds())
}

func (m *Metrics) SnapshotCreated() {
	if m != nil {
		m.snapshots.Inc()
	}
}

func (m *Metrics) TieBreakAmbiguous() {
	if m != nil {
		m.tieBreakAmbiguous.Inc()
	}
}

func (m *Metrics) PrivacyRefused() {
	if m != nil {
		m.privacyRefused.Inc()
	}
}

func (m *Metrics) DiffPublished(kind string) {
	if m != nil {
		m.diffs.WithLabelValues(kind).Inc()
	}
}

// Subscribers adjusts the connected subscriber gauge by delta.
func (m *Metrics) Subscribers(delta int) {
	if m != nil {
		m.subscribers.Add(float64(delta))
	}
}

func (m *Metrics) SubscriberDropped() {
	if m != nil {
		m.dropped.Inc()
	}
}

// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	m.BallotAccepted(false)
	m.BallotAccepted(false)
	m.BallotAccepted(true)
	m.Tally(true, time.Millisecond)
	m.Tally(false, time.Millisecond)
	m.Tally(false, time.Millisecond)
	m.DiffPublished("reset")
	m.Subscribers(2)
	m.Subscribers(-1)

	tests := []struct {
		name string
		c    prometheus.Collector
		want float64
	}{
		{"accepted", m.ballotsAccepted, 2},
		{"invalid", m.ballotsInvalid, 1},
		{"patched", m.tallies.WithLabelValues("patched"), 1},
		{"full", m.tallies.WithLabelValues("full"), 2},
		{"reset diffs", m.diffs.WithLabelValues("reset"), 1},
		{"subscribers", m.subscribers, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := testutil.ToFloat64(tt.c); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestMetricsDoubleRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := New(reg); err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := New(reg); err == nil {
		t.Error("Expected error registering collectors twice")
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	// must not panic
	m.BallotAccepted(true)
	m.Tally(false, time.Second)
	m.SubscriberDropped()
	m.PrivacyRefused()
}

// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package engine

import (
	"math"
	"sync"
	"time"
)

// meter is an exponentially decaying rate estimate in events per second.
// A steady stream of r events/s reads as r after a few halflives.
type meter struct {
	mu       sync.Mutex
	lambda   float64 // ln2 / halflife, per second
	value    float64
	lastTime time.Time
}

func newMeter(halflife time.Duration) *meter {
	return &meter{lambda: math.Ln2 / halflife.Seconds()}
}

func (m *meter) decay(now time.Time) {
	if !m.lastTime.IsZero() {
		if dt := now.Sub(m.lastTime).Seconds(); dt > 0 {
			m.value *= math.Exp(-m.lambda * dt)
		}
	}
	if now.After(m.lastTime) {
		m.lastTime = now
	}
}

func (m *meter) Inc(now time.Time, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decay(now)
	m.value += float64(n) * m.lambda
}

func (m *meter) Read(now time.Time) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decay(now)
	return m.value
}

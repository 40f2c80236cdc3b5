// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package trend

import (
	"errors"
	"sync"
	"time"

	"github.com/danielhkuo/runoff/methodology"
	"github.com/danielhkuo/runoff/models"
)

var (
	// ErrNotApplicable is returned for polls that do not accept ballots
	// after close.
	ErrNotApplicable = errors.New("trend not applicable: poll does not accept post-close ballots")
)

// leaderRun tracks how long the current leader has held.
type leaderRun struct {
	leader      string
	sinceWindow int64
}

// Aggregator turns post-close tallies into TrendDeltas. It never touches a
// Snapshot; it only reads one to compute deltas.
type Aggregator struct {
	mu    sync.Mutex
	cfg   methodology.TrendConfig
	meth  methodology.Methodology
	polls map[string]*leaderRun
}

func NewAggregator(m methodology.Methodology) *Aggregator {
	return &Aggregator{cfg: m.Trend, meth: m, polls: make(map[string]*leaderRun)}
}

// Observe records result, computed over official and post-close ballots at
// time at, and returns the TrendDelta to publish.
//
// Windows are counted from the snapshot time. The leader is "leading" only
// once it has held for MinWindows consecutive windows and at least
// MinNewBallots ballots arrived after close.
func (a *Aggregator) Observe(snap models.Snapshot, result models.TallyResult, tieBreak string, at time.Time) models.TrendDelta {
	a.mu.Lock()
	defer a.mu.Unlock()

	window := int64(at.Sub(snap.TakenAt) / a.cfg.Window)
	if window < 0 {
		window = 0
	}

	leader := result.Leader()
	run, ok := a.polls[snap.PollID]
	if !ok || run.leader != leader {
		run = &leaderRun{leader: leader, sinceWindow: window}
		a.polls[snap.PollID] = run
	}

	since := result.TotalBallots - snap.TotalBallots
	if since < 0 {
		since = 0
	}
	windows := 0
	if leader != "" {
		windows = int(window-run.sinceWindow) + 1
	}

	return models.TrendDelta{
		PollID:        snap.PollID,
		SinceSnapshot: since,
		Result:        result,
		VoteDeltas:    Delta(snap.Result, result),
		Leader:        leader,
		Stability: models.Stability{
			Windows:       windows,
			NewBallots:    since,
			Leading:       leader != "" && windows >= a.cfg.MinWindows && since >= a.cfg.MinNewBallots,
			MinWindows:    a.cfg.MinWindows,
			MinNewBallots: a.cfg.MinNewBallots,
		},
		ComputedAt: at.UTC(),
		Disclosure: a.meth.Disclose(false, result.TotalBallots, at, tieBreak),
	}
}

// Delta returns per-candidate first-preference changes from official to
// current. Candidates absent on one side count as zero there.
func Delta(official, current models.TallyResult) map[string]int {
	before := official.FirstPreferences()
	after := current.FirstPreferences()

	deltas := make(map[string]int, len(after))
	for c, n := range after {
		deltas[c] = n - before[c]
	}
	for c, n := range before {
		if _, ok := after[c]; !ok {
			deltas[c] = -n
		}
	}
	return deltas
}

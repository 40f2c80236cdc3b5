// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/danielhkuo/runoff/irv"
	"github.com/danielhkuo/runoff/metrics"
	"github.com/danielhkuo/runoff/models"
)

// maxRestarts bounds how often a running computation is cancelled in favor
// of newer ballots before it is allowed to finish.
const maxRestarts = 4

// outcome is a committed tally. Version increases with every commit.
type outcome struct {
	Result  models.TallyResult
	Err     error // nil or irv.ErrNoWinner when committed
	Version uint64
	Patched bool
}

type job struct {
	ballots    [][]string
	candidates []string
	done       chan outcome
}

// worker owns one poll's Incremental. Only its run goroutine reads or
// replaces inc.
type worker struct {
	pollID   string
	metrics  *metrics.Metrics
	onCommit func(outcome)

	inc   *irv.Incremental
	carry [][]string // persisted ballots whose tally failed

	mu      sync.Mutex
	queue   []job
	latest  outcome
	version uint64
	wake    chan struct{}
}

func newWorker(pollID string, inc *irv.Incremental, m *metrics.Metrics, onCommit func(outcome)) *worker {
	w := &worker{
		pollID:   pollID,
		metrics:  m,
		onCommit: onCommit,
		inc:      inc,
		wake:     make(chan struct{}, 1),
	}
	res, err := inc.Result()
	w.latest = outcome{Result: res, Err: err}
	return w
}

// enqueue schedules ballots (possibly none, for a candidate change) and
// returns a channel that receives the first outcome covering them.
func (w *worker) enqueue(ballots [][]string, candidates []string) <-chan outcome {
	done := make(chan outcome, 1)
	w.mu.Lock()
	w.queue = append(w.queue, job{ballots: ballots, candidates: candidates, done: done})
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
	return done
}

func (w *worker) take() []job {
	w.mu.Lock()
	defer w.mu.Unlock()
	jobs := w.queue
	w.queue = nil
	return jobs
}

// Latest returns the last committed outcome.
func (w *worker) Latest() outcome {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.latest
}

func (w *worker) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.fail(w.take(), ctx.Err())
			return
		case <-w.wake:
		}
		w.compute(ctx, w.take())
	}
}

type applied struct {
	next    *irv.Incremental
	result  models.TallyResult
	patched bool
	err     error
}

// compute tallies jobs. A batch arriving mid-computation cancels it; the
// batches are merged and the tally restarts from the last committed state.
func (w *worker) compute(ctx context.Context, jobs []job) {
	if len(jobs) == 0 {
		return
	}

	for restarts := 0; ; restarts++ {
		ballots := append([][]string(nil), w.carry...)
		for _, j := range jobs {
			ballots = append(ballots, j.ballots...)
		}
		candidates := jobs[len(jobs)-1].candidates

		cctx, cancel := context.WithCancel(ctx)
		resc := make(chan applied, 1)
		start := time.Now()
		go func() {
			next, result, patched, err := w.inc.Apply(cctx, ballots, candidates)
			resc <- applied{next, result, patched, err}
		}()

		select {
		case r := <-resc:
			cancel()
			w.metrics.Tally(r.patched, time.Since(start))
			w.commit(jobs, ballots, r)
			return

		case <-w.wake:
			if restarts >= maxRestarts {
				r := <-resc
				cancel()
				w.metrics.Tally(r.patched, time.Since(start))
				w.commit(jobs, ballots, r)
				// pick the newer batches up on the next loop
				select {
				case w.wake <- struct{}{}:
				default:
				}
				return
			}
			cancel()
			<-resc
			jobs = append(jobs, w.take()...)
			slog.Debug("restarting tally with newer ballots", "poll_id", w.pollID, "jobs", len(jobs))

		case <-ctx.Done():
			cancel()
			<-resc
			w.carry = ballots
			w.fail(jobs, ctx.Err())
			return
		}
	}
}

func (w *worker) commit(jobs []job, ballots [][]string, r applied) {
	if r.err != nil && !errors.Is(r.err, irv.ErrNoWinner) {
		if errors.Is(r.err, irv.ErrTieBreakAmbiguous) {
			w.metrics.TieBreakAmbiguous()
		}
		slog.Error("tally failed", "poll_id", w.pollID, "ballots", len(ballots), "error", r.err)
		w.carry = ballots
		w.fail(jobs, r.err)
		return
	}

	w.inc = r.next
	w.carry = nil

	w.mu.Lock()
	w.version++
	out := outcome{Result: r.result, Err: r.err, Version: w.version, Patched: r.patched}
	w.latest = out
	w.mu.Unlock()

	if w.onCommit != nil {
		w.onCommit(out)
	}
	for _, j := range jobs {
		j.done <- out
	}
}

func (w *worker) fail(jobs []job, err error) {
	for _, j := range jobs {
		j.done <- outcome{Err: err}
	}
}

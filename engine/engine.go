// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danielhkuo/runoff/audit"
	"github.com/danielhkuo/runoff/db"
	"github.com/danielhkuo/runoff/irv"
	"github.com/danielhkuo/runoff/methodology"
	"github.com/danielhkuo/runoff/metrics"
	"github.com/danielhkuo/runoff/models"
	"github.com/danielhkuo/runoff/privacy"
	"github.com/danielhkuo/runoff/realtime"
	"github.com/danielhkuo/runoff/snapshot"
	"github.com/danielhkuo/runoff/trend"
)

// velocityHalflife smooths the ballot rate that selects the publish interval.
const velocityHalflife = 10 * time.Second

type Options struct {
	Methodology methodology.Methodology
	Metrics     *metrics.Metrics
	// Noise defaults to a Laplace source seeded from crypto/rand.
	Noise privacy.Noise
	// Now defaults to time.Now.
	Now func() time.Time
}

// Engine ties ingest, tallying, snapshots, trends, breakdowns and the live
// channel together. Each poll has its own lock and tally worker; polls
// never block each other.
type Engine struct {
	store     *db.Store
	meth      methodology.Methodology
	metrics   *metrics.Metrics
	ledger    *audit.Ledger
	filter    *privacy.Filter
	publisher *realtime.Publisher
	trends    *trend.Aggregator
	snapshots *snapshot.Manager
	now       func() time.Time

	mu    sync.Mutex
	polls map[string]*pollState

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// pollView is the immutable part of a poll's state that readers need
// without taking the poll lock.
type pollView struct {
	cfg  models.PollConfig
	snap *models.Snapshot
}

type pollState struct {
	// mu serializes ingest, candidate changes and finalization
	mu      sync.Mutex
	set     irv.CandidateSet
	nextSeq int

	view      atomic.Pointer[pollView]
	published atomic.Uint64
	velocity  *meter
	worker    *worker
}

func New(store *db.Store, opts Options) (*Engine, error) {
	if err := opts.Methodology.Validate(); err != nil {
		return nil, fmt.Errorf("invalid methodology: %w", err)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Noise == nil {
		seed, err := privacy.SecureSeed()
		if err != nil {
			return nil, err
		}
		opts.Noise = privacy.NewNoise(seed)
	}

	m := opts.Methodology
	budget := privacy.NewLedger(m.Privacy.EpsilonBudget, store)
	ctx, cancel := context.WithCancel(context.Background())

	return &Engine{
		store:     store,
		meth:      m,
		metrics:   opts.Metrics,
		ledger:    audit.NewLedger(),
		filter:    privacy.NewFilter(m.Privacy.Thresholds, m.Privacy.EpsilonPerQuery, budget, opts.Noise),
		publisher: realtime.NewPublisher(m.Realtime, opts.Metrics),
		trends:    trend.NewAggregator(m),
		snapshots: snapshot.NewManager(store, opts.Metrics, opts.Now),
		now:       opts.Now,
		polls:     make(map[string]*pollState),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Methodology returns the published rule set.
func (e *Engine) Methodology() methodology.Methodology {
	return e.meth
}

// Close stops every tally worker and closes live subscriptions.
func (e *Engine) Close() {
	e.cancel()
	e.wg.Wait()
	e.publisher.Close()
}

// state returns the poll's in-memory state, loading it on first use.
func (e *Engine) state(ctx context.Context, pollID string) (*pollState, error) {
	e.mu.Lock()
	ps, ok := e.polls[pollID]
	e.mu.Unlock()
	if ok {
		return ps, nil
	}

	ps, digests, err := e.load(ctx, pollID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if existing, ok := e.polls[pollID]; ok {
		return existing, nil
	}
	// only the load that installs ps may touch the audit tree; a losing
	// load could otherwise replace leaves the winner already appended
	e.ledger.Restore(pollID, digests)
	e.polls[pollID] = ps
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ps.worker.run(e.ctx)
	}()
	return ps, nil
}

// load reads a poll's stored state. It returns the ballot digests in
// audit order for the caller to restore once ps is installed.
func (e *Engine) load(ctx context.Context, pollID string) (*pollState, []string, error) {
	cfg, err := e.store.GetPoll(ctx, pollID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil, ErrPollNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	candidates, err := e.store.ListCandidates(ctx, pollID)
	if err != nil {
		return nil, nil, err
	}
	ballots, err := e.store.ListBallots(ctx, pollID, false)
	if err != nil {
		return nil, nil, err
	}
	nextSeq, err := e.store.NextSeq(ctx, pollID)
	if err != nil {
		return nil, nil, err
	}

	view := &pollView{cfg: cfg}
	snap, err := e.store.GetSnapshot(ctx, pollID)
	switch {
	case err == nil:
		view.snap = &snap
	case !errors.Is(err, db.ErrNotFound):
		return nil, nil, err
	}

	digests := make([]string, len(ballots))
	rankings := make([][]string, len(ballots))
	for i, b := range ballots {
		digests[i] = b.Digest
		rankings[i] = b.Ranking
	}

	ps := &pollState{
		set:      irv.NewCandidateSet(candidates, cfg.AllowWriteIns),
		nextSeq:  nextSeq,
		velocity: newMeter(velocityHalflife),
	}
	ps.view.Store(view)

	inc := irv.NewIncremental(pollID, cfg.TieBreak)
	var carry [][]string
	if len(rankings) > 0 {
		next, _, _, err := inc.Apply(ctx, rankings, ps.set.Counted())
		if err != nil && !errors.Is(err, irv.ErrNoWinner) {
			slog.Error("failed to tally stored ballots", "poll_id", pollID, "error", err)
			carry = rankings
		} else {
			inc = next
		}
	}
	ps.worker = newWorker(pollID, inc, e.metrics, func(out outcome) { e.commit(pollID, ps, out) })
	ps.worker.carry = carry

	slog.Debug("loaded poll", "poll_id", pollID, "ballots", len(ballots), "finalized", view.snap != nil)
	return ps, digests, nil
}

func (e *Engine) tieBreak(cfg models.PollConfig) string {
	return irv.NewTieBreaker(cfg.ID, cfg.TieBreak).Describe()
}

// commit runs on the worker goroutine after each committed tally.
// Only a snapshot is official: open polls publish their live tally as
// unofficial, and finalized polls publish an unofficial trend when
// post-close ballots are accepted.
func (e *Engine) commit(pollID string, ps *pollState, out outcome) {
	v := ps.view.Load()

	switch {
	case v.snap == nil && v.cfg.LiveTally:
		e.publish(pollID, ps, out.Result, false)
	case v.snap != nil && v.cfg.AllowPostClose:
		e.trends.Observe(*v.snap, out.Result, e.tieBreak(v.cfg), e.now())
		e.publish(pollID, ps, out.Result, false)
	}
}

func (e *Engine) publish(pollID string, ps *pollState, result models.TallyResult, official bool) {
	now := e.now()
	disclosure := e.meth.Disclose(official, result.TotalBallots, now, e.tieBreak(ps.view.Load().cfg))
	version := ps.published.Add(1)
	e.publisher.Publish(pollID, version, result, disclosure, ps.velocity.Read(now))
}

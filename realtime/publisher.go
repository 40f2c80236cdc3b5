// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package realtime

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/danielhkuo/runoff/methodology"
	"github.com/danielhkuo/runoff/metrics"
	"github.com/danielhkuo/runoff/models"
)

// Initial is what a new subscriber receives before the diff stream:
// Base followed by Diffs reconstructs the last published state, which
// Disclosure describes.
type Initial struct {
	PollID     string              `json:"poll_id"`
	Seq        uint64              `json:"seq"`
	Base       *models.TallyResult `json:"base,omitempty"`
	Diffs      []models.Diff       `json:"recent_diffs"`
	Disclosure *models.Disclosure  `json:"disclosure,omitempty"`
}

// Subscription delivers diffs in Seq order. C is closed when the
// subscriber falls behind or the publisher shuts down; the caller must
// resubscribe to continue.
type Subscription struct {
	C <-chan models.Diff

	c    chan models.Diff
	p    *Publisher
	ch   *channel
	once sync.Once
}

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	s.p.drop(s.ch, s)
}

type channel struct {
	pollID string
	seq    uint64

	// base is the state before ring[0]; nil when ring starts with a reset
	base *models.TallyResult
	ring []models.Diff

	latest           *models.TallyResult
	latestDisclosure models.Disclosure

	pending           *models.TallyResult
	pendingDisclosure models.Disclosure
	lastVersion       uint64

	limiter *rate.Limiter
	timer   *time.Timer
	subs    map[*Subscription]struct{}
}

// Publisher fans tally states out to live subscribers as throttled diffs.
type Publisher struct {
	mu       sync.Mutex
	cfg      methodology.RealtimeConfig
	metrics  *metrics.Metrics
	channels map[string]*channel
	now      func() time.Time
	closed   bool
}

func NewPublisher(cfg methodology.RealtimeConfig, m *metrics.Metrics) *Publisher {
	return &Publisher{
		cfg:      cfg,
		metrics:  m,
		channels: make(map[string]*channel),
		now:      time.Now,
	}
}

func (p *Publisher) channel(pollID string) *channel {
	ch, ok := p.channels[pollID]
	if !ok {
		ch = &channel{
			pollID:  pollID,
			limiter: rate.NewLimiter(rate.Every(p.cfg.Interval), 1),
			subs:    make(map[*Subscription]struct{}),
		}
		p.channels[pollID] = ch
	}
	return ch
}

// Publish offers a new state computed at version, with the disclosure that
// labels it. Versions at or below the last one seen are discarded.
// Structural changes go out immediately as a reset; count changes are
// throttled to one diff per interval, or per fast interval while velocity
// (ballots/s) is at or above the threshold.
// Intermediate states coalesce; the newest is always delivered.
func (p *Publisher) Publish(pollID string, version uint64, state models.TallyResult, disclosure models.Disclosure, velocity float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}

	ch := p.channel(pollID)
	if version <= ch.lastVersion {
		slog.Debug("discarding stale tally", "poll_id", pollID, "version", version, "last", ch.lastVersion)
		return
	}
	ch.lastVersion = version
	ch.pending = &state
	ch.pendingDisclosure = disclosure

	every := p.cfg.Interval
	if velocity >= p.cfg.VelocityThreshold {
		every = p.cfg.FastInterval
	}
	ch.limiter.SetLimit(rate.Every(every))

	if ch.latest == nil || disclosure.Official != ch.latestDisclosure.Official || NeedsReset(*ch.latest, state) {
		p.flush(ch)
		return
	}
	if ch.timer != nil {
		return
	}
	r := ch.limiter.Reserve()
	if delay := r.Delay(); delay > 0 {
		ch.timer = time.AfterFunc(delay, func() { p.Flush(pollID) })
		return
	}
	p.flush(ch)
}

// Flush publishes any pending state for the poll now.
func (p *Publisher) Flush(pollID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ch, ok := p.channels[pollID]; ok {
		p.flush(ch)
	}
}

func (p *Publisher) flush(ch *channel) {
	if ch.timer != nil {
		ch.timer.Stop()
		ch.timer = nil
	}
	if ch.pending == nil {
		return
	}
	next := *ch.pending
	disclosure := ch.pendingDisclosure

	prev := ch.latest
	if prev != nil && disclosure.Official != ch.latestDisclosure.Official {
		prev = nil
	}
	d := MakeDiff(prev, next, disclosure.Official, p.now())
	d.Disclosure = &disclosure
	ch.seq++
	d.Seq = ch.seq
	ch.latest = &next
	ch.latestDisclosure = disclosure
	ch.pending = nil

	if d.Kind == models.DiffReset {
		ch.base = nil
		ch.ring = ch.ring[:0]
	}
	ch.ring = append(ch.ring, d)
	if len(ch.ring) > p.cfg.RingSize {
		folded, err := Reconstruct(ch.base, ch.ring[:1])
		if err != nil {
			// unreachable while ring[0] applies to base
			slog.Error("failed to fold realtime ring", "poll_id", ch.pollID, "error", err)
		}
		ch.base = &folded
		ch.ring = append(ch.ring[:0], ch.ring[1:]...)
	}
	p.metrics.DiffPublished(d.Kind)

	for sub := range ch.subs {
		select {
		case sub.c <- d:
		default:
			slog.Warn("dropping slow subscriber", "poll_id", ch.pollID, "seq", d.Seq)
			p.metrics.SubscriberDropped()
			p.drop(ch, sub)
		}
	}
}

// Subscribe registers a subscriber and returns the state it starts from.
func (p *Publisher) Subscribe(pollID string) (Initial, *Subscription) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch := p.channel(pollID)
	c := make(chan models.Diff, p.cfg.SubscriberBuffer)
	sub := &Subscription{C: c, c: c, p: p, ch: ch}
	if p.closed {
		close(c)
		return Initial{PollID: pollID}, sub
	}
	ch.subs[sub] = struct{}{}
	p.metrics.Subscribers(1)

	init := Initial{PollID: pollID, Seq: ch.seq, Diffs: append([]models.Diff(nil), ch.ring...)}
	if ch.base != nil {
		base := ch.base.Clone()
		init.Base = &base
	}
	if ch.latest != nil {
		disclosure := ch.latestDisclosure
		init.Disclosure = &disclosure
	}
	return init, sub
}

// drop removes sub and closes its channel. Callers hold p.mu.
func (p *Publisher) drop(ch *channel, sub *Subscription) {
	sub.once.Do(func() {
		if _, ok := ch.subs[sub]; ok {
			delete(ch.subs, sub)
			p.metrics.Subscribers(-1)
		}
		close(sub.c)
	})
}

// Latest returns the last published state and its Seq.
func (p *Publisher) Latest(pollID string) (models.TallyResult, uint64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, ok := p.channels[pollID]
	if !ok || ch.latest == nil {
		return models.TallyResult{}, 0, false
	}
	return ch.latest.Clone(), ch.seq, true
}

// Close stops all timers and closes every subscription.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for _, ch := range p.channels {
		if ch.timer != nil {
			ch.timer.Stop()
			ch.timer = nil
		}
		for sub := range ch.subs {
			p.drop(ch, sub)
		}
	}
}

// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package engine

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/danielhkuo/runoff/audit"
	"github.com/danielhkuo/runoff/db"
	"github.com/danielhkuo/runoff/irv"
	"github.com/danielhkuo/runoff/methodology"
	"github.com/danielhkuo/runoff/models"
	"github.com/danielhkuo/runoff/privacy"
	"github.com/danielhkuo/runoff/realtime"
	"github.com/danielhkuo/runoff/testutil"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type zeroNoise struct{}

func (zeroNoise) Laplace(float64) float64 { return 0 }

func newEngine(t *testing.T) (*Engine, *db.Store, *clock) {
	t.Helper()
	store := db.NewStore(testutil.SetupTestDB(t))
	clk := &clock{t: time.Date(2025, 11, 4, 12, 0, 0, 0, time.UTC)}
	e, err := New(store, Options{
		Methodology: methodology.Default(),
		Noise:       zeroNoise{},
		Now:         clk.Now,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(e.Close)
	return e, store, clk
}

func createPoll(t *testing.T, e *Engine, clk *clock, id string, mutate func(*models.CreatePollRequest)) models.PollConfig {
	t.Helper()
	req := models.CreatePollRequest{
		Title:      "Board seat",
		CloseAt:    clk.Now().Add(time.Hour),
		Candidates: []string{"A", "B", "C"},
	}
	if mutate != nil {
		mutate(&req)
	}
	poll, err := e.CreatePoll(context.Background(), id, id+"-slug", req)
	if err != nil {
		t.Fatalf("CreatePoll failed: %v", err)
	}
	return poll
}

func ballots(rankings ...[]string) []models.SubmitBallotRequest {
	out := make([]models.SubmitBallotRequest, len(rankings))
	for i, r := range rankings {
		out[i] = models.SubmitBallotRequest{Ranking: r}
	}
	return out
}

func golden() []models.SubmitBallotRequest {
	return ballots(
		[]string{"A", "B", "C"}, []string{"A", "B", "C"}, []string{"A", "B", "C"},
		[]string{"B", "A", "C"}, []string{"B", "A", "C"})
}

func TestCreatePollValidation(t *testing.T) {
	e, _, clk := newEngine(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*models.CreatePollRequest)
	}{
		{"empty title", func(r *models.CreatePollRequest) { r.Title = " " }},
		{"past close", func(r *models.CreatePollRequest) { r.CloseAt = clk.Now().Add(-time.Minute) }},
		{"one candidate", func(r *models.CreatePollRequest) { r.Candidates = []string{"A", "A", ""} }},
		{"write-in prefix", func(r *models.CreatePollRequest) { r.Candidates = []string{"A", "WriteIn:x"} }},
		{"beacon missing", func(r *models.CreatePollRequest) { r.TieBreak = models.TieBreak{Mode: models.TieBreakBeacon} }},
		{"unknown mode", func(r *models.CreatePollRequest) { r.TieBreak = models.TieBreak{Mode: "coin"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := models.CreatePollRequest{Title: "T", CloseAt: clk.Now().Add(time.Hour), Candidates: []string{"A", "B"}}
			tt.mutate(&req)
			if _, err := e.CreatePoll(ctx, "p-"+tt.name, "", req); !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("Expected ErrInvalidRequest, got %v", err)
			}
		})
	}

	poll := createPoll(t, e, clk, "poll-1", nil)
	if poll.TieBreak.Mode != models.TieBreakHash || poll.Status != models.StatusOpen {
		t.Errorf("Unexpected poll defaults: %+v", poll)
	}
	got, err := e.GetPoll(ctx, "poll-1-slug")
	if err != nil || got.Poll.ID != "poll-1" || len(got.Candidates) != 3 {
		t.Errorf("Expected poll by slug with 3 candidates, got %+v (%v)", got, err)
	}
	if _, err := e.GetPoll(ctx, "nope"); !errors.Is(err, ErrPollNotFound) {
		t.Errorf("Expected ErrPollNotFound, got %v", err)
	}
}

func TestSubmitAndFinalize(t *testing.T) {
	e, _, clk := newEngine(t)
	ctx := context.Background()
	createPoll(t, e, clk, "poll-1", nil)

	resp, err := e.SubmitBatch(ctx, "poll-1", golden())
	if err != nil {
		t.Fatalf("SubmitBatch failed: %v", err)
	}
	if resp.Version == 0 || len(resp.Results) != 5 {
		t.Errorf("Expected committed version and 5 results, got %+v", resp)
	}
	for _, r := range resp.Results {
		if !r.Accepted || !r.Official || r.Exhausted {
			t.Errorf("Expected accepted official ballot, got %+v", r)
		}
	}

	invalid, err := e.SubmitBallot(ctx, "poll-1", models.SubmitBallotRequest{Ranking: []string{"Z", " "}})
	if !errors.Is(err, irv.ErrInvalidBallot) {
		t.Errorf("Expected ErrInvalidBallot, got %v", err)
	}
	if !invalid.Accepted || !invalid.Exhausted || invalid.BallotID == "" {
		t.Errorf("Expected invalid ballot recorded as exhausted, got %+v", invalid)
	}

	dup, err := e.SubmitBallot(ctx, "poll-1", models.SubmitBallotRequest{Ranking: []string{"B", "B", "A"}})
	if err != nil || !reflect.DeepEqual(dup.Ranking, []string{"B", "A"}) {
		t.Errorf("Expected [B A], got %v (%v)", dup.Ranking, err)
	}

	if _, err := e.Finalize(ctx, "poll-1"); !errors.Is(err, ErrPollOpen) {
		t.Errorf("Expected ErrPollOpen, got %v", err)
	}
	if _, err := e.GetOfficialResult(ctx, "poll-1"); !errors.Is(err, ErrNotYetClosed) {
		t.Errorf("Expected ErrNotYetClosed, got %v", err)
	}

	clk.Advance(time.Hour)
	if _, err := e.SubmitBatch(ctx, "poll-1", golden()); !errors.Is(err, ErrPollClosed) {
		t.Errorf("Expected ErrPollClosed after close_at, got %v", err)
	}

	snap, err := e.Finalize(ctx, "poll-1")
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if snap.Result.Winner != "B" && snap.Result.Winner != "A" {
		t.Errorf("Unexpected winner %q", snap.Result.Winner)
	}
	if snap.TotalBallots != 7 || snap.Result.ExhaustedCount < 1 {
		t.Errorf("Expected 7 ballots with the invalid one exhausted, got %d/%d", snap.TotalBallots, snap.Result.ExhaustedCount)
	}

	again, err := e.Finalize(ctx, "poll-1")
	if err != nil || again.ID != snap.ID {
		t.Errorf("Expected same snapshot on second finalize, got %v (%v)", again, err)
	}

	official, err := e.GetOfficialResult(ctx, "poll-1")
	if err != nil {
		t.Fatalf("GetOfficialResult failed: %v", err)
	}
	d := official.Disclosure
	if !d.Official || d.Badge != models.BadgeOfficial || d.SampleSize != 7 || d.SampleSizeText != "7 ballots" || d.Method != models.MethodIRV {
		t.Errorf("Unexpected disclosure: %+v", d)
	}

	proof, err := e.Proof(ctx, "poll-1", resp.Results[2].BallotID)
	if err != nil {
		t.Fatalf("Proof failed: %v", err)
	}
	if proof.LeafIndex != 2 || proof.TreeSize != 7 {
		t.Errorf("Expected leaf 2 of 7, got %d of %d", proof.LeafIndex, proof.TreeSize)
	}
	if err := audit.VerifyProof(proof); err != nil {
		t.Errorf("Expected proof to verify, got %v", err)
	}
	if proof.Root != snap.LedgerRoot || snap.LedgerSize != 7 {
		t.Errorf("Expected proof root to be the snapshot's ledger root %s, got %s", snap.LedgerRoot, proof.Root)
	}
	if _, err := e.Proof(ctx, "poll-1", "missing"); !errors.Is(err, ErrBallotNotFound) {
		t.Errorf("Expected ErrBallotNotFound, got %v", err)
	}

	ds, err := e.Dataset(ctx, "poll-1")
	if err != nil {
		t.Fatalf("Dataset failed: %v", err)
	}
	if report, err := audit.Replay(ctx, ds); err != nil || !report.Match {
		t.Errorf("Expected replay to match, got %+v (%v)", report, err)
	}
	if err := audit.VerifyBallot(ds, resp.Results[2].BallotID, proof); err != nil {
		t.Errorf("Expected the proof to check against the published dataset, got %v", err)
	}
	if err := audit.VerifyBallot(ds, resp.Results[1].BallotID, proof); !errors.Is(err, audit.ErrInvalidProof) {
		t.Errorf("Expected a proof for another ballot to fail, got %v", err)
	}
}

func TestGoldenWinner(t *testing.T) {
	e, _, clk := newEngine(t)
	ctx := context.Background()
	createPoll(t, e, clk, "golden-1", nil)

	if _, err := e.SubmitBatch(ctx, "golden-1", golden()); err != nil {
		t.Fatalf("SubmitBatch failed: %v", err)
	}
	resp, err := e.ClosePoll(ctx, "golden-1")
	if err != nil {
		t.Fatalf("ClosePoll failed: %v", err)
	}
	if resp.Snapshot.Result.Winner != "A" || !reflect.DeepEqual(resp.Snapshot.Result.EliminationOrder(), []string{"C"}) {
		t.Errorf("Expected A after eliminating C, got %+v", resp.Snapshot.Result)
	}
	if !resp.ClosedAt.Equal(clk.Now()) {
		t.Errorf("Expected early close at %v, got %v", clk.Now(), resp.ClosedAt)
	}

	again, err := e.ClosePoll(ctx, "golden-1")
	if err != nil || again.Snapshot.ID != resp.Snapshot.ID {
		t.Errorf("Expected closing twice to return the same snapshot, got %+v (%v)", again, err)
	}
	if _, err := e.SubmitBatch(ctx, "golden-1", golden()); !errors.Is(err, ErrPollClosed) {
		t.Errorf("Expected ErrPollClosed after early close, got %v", err)
	}
}

func TestPostCloseTrend(t *testing.T) {
	e, _, clk := newEngine(t)
	ctx := context.Background()
	createPoll(t, e, clk, "poll-1", func(r *models.CreatePollRequest) { r.AllowPostClose = true })
	createPoll(t, e, clk, "poll-2", nil)

	if _, err := e.SubmitBatch(ctx, "poll-1", golden()); err != nil {
		t.Fatalf("SubmitBatch failed: %v", err)
	}
	if _, err := e.GetTrend(ctx, "poll-1"); !errors.Is(err, ErrNotYetClosed) {
		t.Errorf("Expected ErrNotYetClosed, got %v", err)
	}
	if _, err := e.GetTrend(ctx, "poll-2"); !errors.Is(err, ErrNotApplicable) {
		t.Errorf("Expected ErrNotApplicable, got %v", err)
	}

	clk.Advance(time.Hour)
	late, err := e.SubmitBatch(ctx, "poll-1", ballots([]string{"B"}, []string{"B"}, []string{"C", "B"}))
	if err != nil {
		t.Fatalf("Post-close SubmitBatch failed: %v", err)
	}
	for _, r := range late.Results {
		if r.Official {
			t.Errorf("Expected post-close ballot to be unofficial, got %+v", r)
		}
	}

	snap, err := e.Finalize(ctx, "poll-1")
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if snap.TotalBallots != 5 || snap.Result.Winner != "A" {
		t.Errorf("Expected official result over 5 ballots won by A, got %d, %s", snap.TotalBallots, snap.Result.Winner)
	}

	after, err := e.SubmitBatch(ctx, "poll-1", ballots([]string{"B", "A"}))
	if err != nil {
		t.Fatalf("SubmitBatch after finalize failed: %v", err)
	}
	td, err := e.GetTrend(ctx, "poll-1")
	if err != nil {
		t.Fatalf("GetTrend failed: %v", err)
	}
	if td.SinceSnapshot != 4 || td.Result.TotalBallots != 9 {
		t.Errorf("Expected 4 ballots since snapshot of 9 total, got %d of %d", td.SinceSnapshot, td.Result.TotalBallots)
	}
	if td.VoteDeltas["B"] != 3 || td.VoteDeltas["C"] != 1 {
		t.Errorf("Unexpected vote deltas %v", td.VoteDeltas)
	}
	if td.Disclosure.Official || td.Disclosure.Badge != models.BadgeUnofficial || td.Disclosure.Disclaimer == "" {
		t.Errorf("Expected unofficial disclosure, got %+v", td.Disclosure)
	}
	if td.Stability.Leading {
		t.Error("Expected leader not yet stable")
	}

	official, _ := e.GetOfficialResult(ctx, "poll-1")
	if official.Snapshot.Checksum != snap.Checksum || official.Snapshot.TotalBallots != 5 {
		t.Error("Expected post-close ballots to leave the snapshot untouched")
	}

	initial, sub, err := e.Subscribe(ctx, "poll-1")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Close()
	if initial.Trend == nil || initial.Trend.SinceSnapshot != 4 {
		t.Errorf("Expected the live initial state to carry the trend, got %+v", initial.Trend)
	}
	if initial.Trend != nil && initial.Trend.Disclosure.Disclaimer != methodology.TrendDisclaimer {
		t.Errorf("Expected the live trend to carry the disclaimer, got %+v", initial.Trend.Disclosure)
	}

	// ballots stored before finalize are anchored to the snapshot's ledger
	ds, err := e.Dataset(ctx, "poll-1")
	if err != nil {
		t.Fatalf("Dataset failed: %v", err)
	}
	if ds.LedgerSize != 8 {
		t.Errorf("Expected the ledger to cover 8 ballots, got %d", ds.LedgerSize)
	}
	lateProof, err := e.Proof(ctx, "poll-1", late.Results[0].BallotID)
	if err != nil {
		t.Fatalf("Proof failed: %v", err)
	}
	if err := audit.VerifyAnchored(ds, lateProof); err != nil {
		t.Errorf("Expected the pre-finalize proof to be anchored, got %v", err)
	}
	afterProof, err := e.Proof(ctx, "poll-1", after.Results[0].BallotID)
	if err != nil {
		t.Fatalf("Proof failed: %v", err)
	}
	if err := audit.VerifyProof(afterProof); err != nil || afterProof.TreeSize != 9 {
		t.Errorf("Expected a valid proof in the current log of 9, got %d (%v)", afterProof.TreeSize, err)
	}
	if err := audit.VerifyAnchored(ds, afterProof); !errors.Is(err, audit.ErrUnanchoredProof) {
		t.Errorf("Expected a post-finalize proof not to match the published root, got %v", err)
	}
}

func TestCandidateChanges(t *testing.T) {
	e, store, clk := newEngine(t)
	ctx := context.Background()
	createPoll(t, e, clk, "poll-1", func(r *models.CreatePollRequest) { r.AllowWriteIns = true })

	resp, err := e.SubmitBatch(ctx, "poll-1", ballots(
		[]string{"C", "A"}, []string{"C", "A"},
		[]string{"writein:Jane  Doe!", "B"}, []string{"B"}, []string{"A"}))
	if err != nil {
		t.Fatalf("SubmitBatch failed: %v", err)
	}
	if got := resp.Results[2].Ranking; !reflect.DeepEqual(got, []string{"writein:jane-doe", "B"}) {
		t.Errorf("Expected normalized write-in, got %v", got)
	}

	if err := e.WithdrawCandidate(ctx, "poll-1", "C"); err != nil {
		t.Fatalf("WithdrawCandidate failed: %v", err)
	}
	if err := e.WithdrawCandidate(ctx, "poll-1", "Z"); !errors.Is(err, ErrCandidateNotFound) {
		t.Errorf("Expected ErrCandidateNotFound, got %v", err)
	}
	if _, err := e.AddCandidate(ctx, "poll-1", models.AddCandidateRequest{ID: "A"}); !errors.Is(err, ErrCandidateExists) {
		t.Errorf("Expected ErrCandidateExists, got %v", err)
	}
	if _, err := e.AddCandidate(ctx, "poll-1", models.AddCandidateRequest{ID: "D", Label: "Dee"}); err != nil {
		t.Fatalf("AddCandidate failed: %v", err)
	}

	// a ballot after the change waits for a tally with the new set
	after, err := e.SubmitBatch(ctx, "poll-1", ballots([]string{"C", "D"}))
	if err != nil {
		t.Fatalf("SubmitBatch failed: %v", err)
	}
	if got := after.Results[0].Ranking; !reflect.DeepEqual(got, []string{"D"}) {
		t.Errorf("Expected withdrawn C dropped, got %v", got)
	}

	ps, _ := e.state(ctx, "poll-1")
	latest := ps.worker.Latest()
	want := []string{"A", "B", "D", "writein:jane-doe"}
	if !reflect.DeepEqual(latest.Result.Candidates, want) {
		t.Errorf("Expected candidates %v, got %v", want, latest.Result.Candidates)
	}
	for _, round := range latest.Result.Rounds {
		if _, ok := round.VoteCounts["C"]; ok {
			t.Errorf("Withdrawn candidate counted in round %d", round.Index)
		}
	}

	cands, _ := store.ListCandidates(ctx, "poll-1")
	var writeIn models.Candidate
	for _, c := range cands {
		if c.ID == "writein:jane-doe" {
			writeIn = c
		}
	}
	if writeIn.Status != models.CandidateWriteIn || writeIn.Label != "jane-doe" {
		t.Errorf("Expected stored write-in candidate, got %+v", writeIn)
	}

	clk.Advance(time.Hour)
	if _, err := e.Finalize(ctx, "poll-1"); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if err := e.WithdrawCandidate(ctx, "poll-1", "B"); !errors.Is(err, ErrFinalized) {
		t.Errorf("Expected ErrFinalized, got %v", err)
	}
	if _, err := e.AddCandidate(ctx, "poll-1", models.AddCandidateRequest{ID: "E"}); !errors.Is(err, ErrFinalized) {
		t.Errorf("Expected ErrFinalized, got %v", err)
	}
}

func TestConcurrentSubmit(t *testing.T) {
	e, store, clk := newEngine(t)
	ctx := context.Background()
	createPoll(t, e, clk, "poll-1", nil)

	rankings := [][]string{{"A", "B"}, {"B", "C"}, {"C"}, {"B", "A", "C"}, {"A"}}
	const submitters, perBatch = 20, 10

	var wg sync.WaitGroup
	errs := make(chan error, submitters)
	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			batch := make([]models.SubmitBallotRequest, perBatch)
			for j := range batch {
				batch[j] = models.SubmitBallotRequest{Ranking: rankings[(i+j)%len(rankings)]}
			}
			resp, err := e.SubmitBatch(ctx, "poll-1", batch)
			if err == nil && resp.Version == 0 {
				err = fmt.Errorf("submitter %d: no committed version", i)
			}
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Error(err)
		}
	}

	ps, _ := e.state(ctx, "poll-1")
	latest := ps.worker.Latest()
	if latest.Result.TotalBallots != submitters*perBatch {
		t.Fatalf("Expected %d ballots tallied, got %d", submitters*perBatch, latest.Result.TotalBallots)
	}

	stored, _ := store.ListBallots(ctx, "poll-1", false)
	all := make([][]string, len(stored))
	for i, b := range stored {
		if b.Seq != i {
			t.Fatalf("Expected contiguous seq, got %d at %d", b.Seq, i)
		}
		all[i] = b.Ranking
	}
	want, err := irv.Tally(ctx, irv.Input{PollID: "poll-1", Candidates: []string{"A", "B", "C"}, Ballots: all})
	if err != nil {
		t.Fatalf("Tally failed: %v", err)
	}
	if !reflect.DeepEqual(latest.Result, want) {
		t.Errorf("Incremental result differs from full tally:\n%+v\n%+v", latest.Result, want)
	}
}

func TestBreakdown(t *testing.T) {
	e, _, clk := newEngine(t)
	ctx := context.Background()
	createPoll(t, e, clk, "poll-1", nil)

	var batch []models.SubmitBallotRequest
	for i := 0; i < 12; i++ {
		batch = append(batch, models.SubmitBallotRequest{
			Ranking:    []string{"A"},
			Attributes: map[string]string{models.DimensionLocation: "north", "shoe_size": "9"},
		})
	}
	for i := 0; i < 2; i++ {
		batch = append(batch, models.SubmitBallotRequest{
			Ranking:    []string{"B"},
			Attributes: map[string]string{models.DimensionLocation: "south"},
		})
	}
	if _, err := e.SubmitBatch(ctx, "poll-1", batch); err != nil {
		t.Fatalf("SubmitBatch failed: %v", err)
	}

	if _, err := e.Breakdown(ctx, "poll-1", []string{models.DimensionLocation}, models.ViewPublic); !errors.Is(err, ErrNotYetClosed) {
		t.Errorf("Expected ErrNotYetClosed, got %v", err)
	}
	clk.Advance(time.Hour)
	if _, err := e.Finalize(ctx, "poll-1"); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	if _, err := e.Breakdown(ctx, "poll-1", []string{models.DimensionLocation, models.DimensionInterest}, models.ViewPublic); !errors.Is(err, privacy.ErrCrossTabulation) {
		t.Errorf("Expected ErrCrossTabulation, got %v", err)
	}

	b, err := e.Breakdown(ctx, "poll-1", []string{models.DimensionLocation}, models.ViewPublic)
	if err != nil {
		t.Fatalf("Breakdown failed: %v", err)
	}
	if len(b.Buckets) != 1 || b.Buckets[0].Value != "north" || b.Suppressed != 1 {
		t.Fatalf("Expected only north with south suppressed, got %+v", b)
	}
	if b.Buckets[0].Count != 12 || b.Buckets[0].FirstChoice["A"] != 12 || b.Buckets[0].FirstChoice["B"] != 0 {
		t.Errorf("Unexpected north bucket %+v", b.Buckets[0])
	}
	if b.K != 10 || b.Disclosure.SampleSize != 14 {
		t.Errorf("Unexpected k %d or sample size %d", b.K, b.Disclosure.SampleSize)
	}

	for i := 0; i < 9; i++ {
		if _, err := e.Breakdown(ctx, "poll-1", []string{models.DimensionLocation}, models.ViewInternal); err != nil {
			t.Fatalf("Query %d: expected budget to allow, got %v", i+2, err)
		}
	}
	if _, err := e.Breakdown(ctx, "poll-1", []string{models.DimensionLocation}, models.ViewInternal); !errors.Is(err, privacy.ErrPrivacyBudgetExceeded) {
		t.Errorf("Expected ErrPrivacyBudgetExceeded, got %v", err)
	}
}

func TestCloseDue(t *testing.T) {
	e, _, clk := newEngine(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		createPoll(t, e, clk, fmt.Sprintf("poll-%d", i), nil)
	}
	createPoll(t, e, clk, "later", func(r *models.CreatePollRequest) { r.CloseAt = clk.Now().Add(48 * time.Hour) })
	if _, err := e.SubmitBatch(ctx, "poll-0", golden()); err != nil {
		t.Fatalf("SubmitBatch failed: %v", err)
	}

	if n, err := e.CloseDue(ctx, 2); err != nil || n != 0 {
		t.Errorf("Expected nothing due, got %d (%v)", n, err)
	}

	clk.Advance(2 * time.Hour)
	n, err := e.CloseDue(ctx, 2)
	if err != nil || n != 3 {
		t.Fatalf("Expected 3 polls finalized, got %d (%v)", n, err)
	}
	res, err := e.GetOfficialResult(ctx, "poll-0")
	if err != nil || res.Snapshot.Result.Winner != "A" {
		t.Errorf("Expected poll-0 won by A, got %+v (%v)", res.Snapshot.Result, err)
	}
	if _, err := e.GetOfficialResult(ctx, "later"); !errors.Is(err, ErrNotYetClosed) {
		t.Errorf("Expected later poll still open, got %v", err)
	}
	if n, _ := e.CloseDue(ctx, 2); n != 0 {
		t.Errorf("Expected a second scan to find nothing, got %d", n)
	}
}

func TestSubscribe(t *testing.T) {
	e, _, clk := newEngine(t)
	ctx := context.Background()
	createPoll(t, e, clk, "sealed", nil)
	createPoll(t, e, clk, "live", func(r *models.CreatePollRequest) { r.LiveTally = true })

	if _, _, err := e.Subscribe(ctx, "sealed"); !errors.Is(err, ErrSealed) {
		t.Errorf("Expected ErrSealed, got %v", err)
	}

	initial, sub, err := e.Subscribe(ctx, "live")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Close()
	if initial.Official != nil {
		t.Error("Expected no official snapshot on an open poll")
	}

	if d := initial.Disclosure; d == nil || d.Official || d.Disclaimer != methodology.TrendDisclaimer {
		t.Errorf("Expected the open tally labelled unofficial, got %+v", d)
	}

	if _, err := e.SubmitBatch(ctx, "live", golden()); err != nil {
		t.Fatalf("SubmitBatch failed: %v", err)
	}
	select {
	case d := <-sub.C:
		if d.Kind != models.DiffReset || d.State == nil || d.State.TotalBallots != 5 {
			t.Errorf("Expected reset carrying 5 ballots, got %+v", d)
		}
		if d.Official || d.Disclosure == nil || d.Disclosure.SampleSize != 5 || d.Disclosure.Badge != models.BadgeUnofficial {
			t.Errorf("Expected unofficial disclosure over 5 ballots, got %+v", d.Disclosure)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Expected a diff after submitting ballots")
	}

	clk.Advance(time.Hour)
	if _, err := e.Finalize(ctx, "sealed"); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	initial, sealedSub, err := e.Subscribe(ctx, "sealed")
	if err != nil {
		t.Fatalf("Expected finalized poll to stream, got %v", err)
	}
	defer sealedSub.Close()
	if initial.Official == nil || len(initial.Diffs) == 0 {
		t.Fatalf("Expected official snapshot and published state, got %+v", initial)
	}
	if d := initial.Official.Disclosure; !d.Official || d.Method != models.MethodIRV || d.SampleSize != 0 || d.Timestamp.IsZero() {
		t.Errorf("Expected official disclosure, got %+v", d)
	}
	if initial.Disclosure == nil || !initial.Disclosure.Official {
		t.Errorf("Expected the streamed state labelled official, got %+v", initial.Disclosure)
	}
}

// drainDiffs returns the diffs already queued for sub.
func drainDiffs(sub *realtime.Subscription) []models.Diff {
	var out []models.Diff
	for {
		select {
		case d, ok := <-sub.C:
			if !ok {
				return out
			}
			out = append(out, d)
		default:
			return out
		}
	}
}

func TestLiveTallyUnofficialUntilFinalized(t *testing.T) {
	e, _, clk := newEngine(t)
	ctx := context.Background()
	createPoll(t, e, clk, "poll-1", func(r *models.CreatePollRequest) {
		r.LiveTally = true
		r.AllowPostClose = true
	})

	_, sub, err := e.Subscribe(ctx, "poll-1")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Close()

	if _, err := e.SubmitBallot(ctx, "poll-1", models.SubmitBallotRequest{Ranking: []string{"A"}}); err != nil {
		t.Fatalf("SubmitBallot failed: %v", err)
	}
	clk.Advance(2 * time.Hour)
	late, err := e.SubmitBallot(ctx, "poll-1", models.SubmitBallotRequest{Ranking: []string{"B"}})
	if err != nil {
		t.Fatalf("Post-close SubmitBallot failed: %v", err)
	}
	if late.Official {
		t.Fatal("Expected the ballot after close_at to be unofficial")
	}
	e.publisher.Flush("poll-1")

	before := drainDiffs(sub)
	if len(before) == 0 {
		t.Fatal("Expected live diffs before finalize")
	}
	for _, d := range before {
		if d.Official || d.Disclosure == nil || d.Disclosure.Official {
			t.Errorf("Seq %d: expected an unofficial diff before finalize, got official=%v %+v", d.Seq, d.Official, d.Disclosure)
		}
	}
	if latest, _, _ := e.publisher.Latest("poll-1"); latest.TotalBallots != 2 {
		t.Errorf("Expected the live tally over 2 ballots, got %d", latest.TotalBallots)
	}

	snap, err := e.Finalize(ctx, "poll-1")
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	after := drainDiffs(sub)
	if len(after) == 0 {
		t.Fatal("Expected the snapshot to be published")
	}
	d := after[0]
	if d.Kind != models.DiffReset || !d.Official || d.State.TotalBallots != snap.TotalBallots || snap.TotalBallots != 1 {
		t.Errorf("Expected an official reset over the 1 official ballot, got %+v", d)
	}
	for _, d := range after[1:] {
		if d.Official {
			t.Errorf("Seq %d: expected the post-close trend to stay unofficial", d.Seq)
		}
	}
}

func TestConcurrentFirstLoadKeepsAuditLog(t *testing.T) {
	first, store, clk := newEngine(t)
	ctx := context.Background()
	createPoll(t, first, clk, "poll-1", nil)
	if _, err := first.SubmitBatch(ctx, "poll-1", golden()); err != nil {
		t.Fatalf("SubmitBatch failed: %v", err)
	}

	// a fresh engine over the same store loads the poll on first use
	e, err := New(store, Options{Methodology: methodology.Default(), Noise: zeroNoise{}, Now: clk.Now})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(e.Close)

	const voters = 16
	ids := make([]string, voters)
	var wg sync.WaitGroup
	for i := 0; i < voters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := e.SubmitBallot(ctx, "poll-1", models.SubmitBallotRequest{Ranking: []string{"C", "A"}})
			if err != nil {
				t.Errorf("SubmitBallot failed: %v", err)
				return
			}
			ids[i] = resp.BallotID
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		if id == "" {
			continue
		}
		b, err := store.GetBallot(ctx, "poll-1", id)
		if err != nil {
			t.Fatalf("GetBallot failed: %v", err)
		}
		proof, err := e.Proof(ctx, "poll-1", id)
		if err != nil {
			t.Fatalf("Proof for seq %d failed: %v", b.Seq, err)
		}
		if proof.LeafIndex != b.Seq || proof.TreeSize != 5+voters {
			t.Errorf("Expected leaf %d of %d, got %d of %d", b.Seq, 5+voters, proof.LeafIndex, proof.TreeSize)
		}
		if err := audit.VerifyProof(proof); err != nil {
			t.Errorf("Expected proof for seq %d to verify, got %v", b.Seq, err)
		}
	}
}

func TestMeter(t *testing.T) {
	m := newMeter(time.Second)
	start := time.Unix(0, 0)
	for i := 1; i <= 100; i++ {
		m.Inc(start.Add(time.Duration(i)*100*time.Millisecond), 10)
	}
	// 10 ballots every 100ms
	if rate := m.Read(start.Add(10 * time.Second)); rate < 80 || rate > 120 {
		t.Errorf("Expected about 100 ballots/s, got %v", rate)
	}
	if rate := m.Read(start.Add(60 * time.Second)); rate > 1 {
		t.Errorf("Expected rate to decay, got %v", rate)
	}
}

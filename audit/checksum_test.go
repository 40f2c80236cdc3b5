// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/danielhkuo/runoff/irv"
	"github.com/danielhkuo/runoff/models"
)

func TestBallotDigest(t *testing.T) {
	a, err := BallotDigest("b1", []string{"A", "B"})
	if err != nil {
		t.Fatal(err)
	}
	b, _ := BallotDigest("b1", []string{"A", "B"})
	c, _ := BallotDigest("b1", []string{"B", "A"})
	d, _ := BallotDigest("b2", []string{"A", "B"})

	if a != b {
		t.Error("Expected equal ballots to share a digest")
	}
	if a == c || a == d {
		t.Error("Expected ranking order and id to change the digest")
	}
	if len(a) != 64 {
		t.Errorf("Expected 64 hex chars, got %d", len(a))
	}

	empty, _ := BallotDigest("b3", nil)
	explicit, _ := BallotDigest("b3", []string{})
	if empty != explicit {
		t.Error("Expected nil and empty rankings to digest the same")
	}
}

func TestBallotSetDigestOrderIndependent(t *testing.T) {
	x := BallotSetDigest([]string{"c", "a", "b"})
	y := BallotSetDigest([]string{"b", "c", "a"})
	if x != y {
		t.Errorf("Expected order-independent digest, got %s and %s", x, y)
	}
	if x == BallotSetDigest([]string{"a", "b"}) {
		t.Error("Expected a different set to change the digest")
	}
}

func TestChecksumDeterministic(t *testing.T) {
	rounds := []models.Round{
		{Index: 1, VoteCounts: map[string]int{"B": 2, "A": 3, "C": 0}, Eliminated: "C"},
		{Index: 2, VoteCounts: map[string]int{"A": 3, "B": 2}},
	}
	reordered := []models.Round{
		{Index: 1, VoteCounts: map[string]int{"C": 0, "A": 3, "B": 2}, Eliminated: "C"},
		{Index: 2, VoteCounts: map[string]int{"B": 2, "A": 3}},
	}

	first, err := Checksum("golden-1", []string{"C", "A", "B"}, "set", rounds)
	if err != nil {
		t.Fatal(err)
	}
	second, _ := Checksum("golden-1", []string{"A", "B", "C"}, "set", reordered)
	if first != second {
		t.Errorf("Expected identical checksums, got %s and %s", first, second)
	}

	other, _ := Checksum("golden-2", []string{"A", "B", "C"}, "set", rounds)
	if other == first {
		t.Error("Expected poll id to change the checksum")
	}
}

func goldenDataset(t *testing.T) Dataset {
	t.Helper()

	ballots := []models.Ballot{
		{ID: "b4", Ranking: []string{"D"}},
		{ID: "b1", Ranking: []string{"A", "B"}},
		{ID: "b3", Ranking: []string{"C"}},
		{ID: "b2", Ranking: []string{"B", "A"}},
	}
	rankings := make([][]string, len(ballots))
	digests := make([]string, len(ballots))
	for i, b := range ballots {
		rankings[i] = b.Ranking
		digests[i], _ = BallotDigest(b.ID, b.Ranking)
	}
	result, err := irv.Tally(context.Background(), irv.Input{
		PollID:     "golden-5",
		Candidates: []string{"A", "B", "C", "D"},
		Ballots:    rankings,
	})
	if err != nil {
		t.Fatal(err)
	}
	setDigest := BallotSetDigest(digests)
	sum, err := Checksum("golden-5", result.Candidates, setDigest, result.Rounds)
	if err != nil {
		t.Fatal(err)
	}

	snap := models.Snapshot{
		PollID:          "golden-5",
		Result:          result,
		TotalBallots:    len(ballots),
		BallotSetDigest: setDigest,
		Checksum:        sum,
	}
	return NewDataset(snap, models.TieBreak{Mode: models.TieBreakHash}, ballots)
}

func TestReplayReproducesChecksum(t *testing.T) {
	ds := goldenDataset(t)

	if ds.Ballots[0].ID != "b1" {
		t.Errorf("Expected ballots sorted by id, got first %s", ds.Ballots[0].ID)
	}

	report, err := Replay(context.Background(), ds)
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if !report.Match || report.Checksum != ds.Checksum {
		t.Errorf("Expected checksum %s, got %s", ds.Checksum, report.Checksum)
	}
	if report.Result.Winner != "B" {
		t.Errorf("Expected replayed winner B, got %s", report.Result.Winner)
	}
}

func TestReplayDetectsTampering(t *testing.T) {
	tests := []struct {
		name   string
		tamper func(ds *Dataset)
	}{
		{"ballot changed", func(ds *Dataset) { ds.Ballots[2].Ranking = []string{"A"} }},
		{"ballot dropped", func(ds *Dataset) { ds.Ballots = ds.Ballots[1:] }},
		{"beacon swapped", func(ds *Dataset) { ds.TieBreak = models.TieBreak{Mode: models.TieBreakBeacon, Beacon: "x"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds := goldenDataset(t)
			tt.tamper(&ds)
			report, err := Replay(context.Background(), ds)
			if !errors.Is(err, ErrChecksumMismatch) {
				t.Fatalf("Expected ErrChecksumMismatch, got %v", err)
			}
			if report.Match {
				t.Error("Expected report to flag the mismatch")
			}
		})
	}
}

// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package models

import "time"

// Poll status constants
const (
	StatusOpen   = "open"
	StatusClosed = "closed"
)

// MethodIRV is the only tally method the engine implements.
const MethodIRV = "Instant Runoff Voting"

// CandidateStatus is the lifecycle state of a candidate within a poll.
type CandidateStatus string

const (
	CandidateActive    CandidateStatus = "active"
	CandidateWithdrawn CandidateStatus = "withdrawn"
	CandidateWriteIn   CandidateStatus = "write-in"
)

// Counted reports whether ballots may rank a candidate with this status.
func (s CandidateStatus) Counted() bool {
	return s == CandidateActive || s == CandidateWriteIn
}

// Valid reports whether s is a known status.
func (s CandidateStatus) Valid() bool {
	switch s {
	case CandidateActive, CandidateWithdrawn, CandidateWriteIn:
		return true
	}
	return false
}

// Tie-break modes
const (
	TieBreakHash   = "hash"
	TieBreakBeacon = "beacon"
)

// Result badges
const (
	BadgeOfficial   = "official"
	BadgeUnofficial = "unofficial"
)

// Privacy views, from strictest to most permissive k threshold
const (
	ViewPublic        = "public"
	ViewAuthenticated = "authenticated"
	ViewInternal      = "internal"
)

// Breakdown dimensions
const (
	DimensionInterest    = "interest"
	DimensionDemographic = "demographic"
	DimensionLocation    = "location"
)

// Diff kinds
const (
	DiffCounts = "counts"
	DiffReset  = "reset"
)

// Domain types

type Candidate struct {
	ID     string          `json:"id"`
	PollID string          `json:"poll_id,omitempty"`
	Label  string          `json:"label"`
	Status CandidateStatus `json:"status"`
}

type TieBreak struct {
	Mode   string `json:"mode" yaml:"mode"`
	Beacon string `json:"beacon,omitempty" yaml:"beacon"`
}

type PollConfig struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	CloseAt        time.Time `json:"close_at"`
	AllowPostClose bool      `json:"allow_post_close"`
	AllowWriteIns  bool      `json:"allow_write_ins"`
	LiveTally      bool      `json:"live_tally"`
	TieBreak       TieBreak  `json:"tie_break"`
	Status         string    `json:"status"`
	ShareSlug      string    `json:"share_slug,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Closed reports whether ballots received at t fall after the close cutoff.
func (p PollConfig) Closed(t time.Time) bool {
	return !t.Before(p.CloseAt)
}

type Ballot struct {
	ID         string            `json:"id"`
	PollID     string            `json:"poll_id"`
	Ranking    []string          `json:"ranking"`
	ReceivedAt time.Time         `json:"-"` // classification only, never published
	Official   bool              `json:"-"`
	Digest     string            `json:"digest"`
	Seq        int               `json:"-"` // audit leaf index, arrival order
	Attributes map[string]string `json:"-"` // breakdown dimensions, never published raw
}

// Exhausted reports whether the ballot carries no countable choice.
func (b Ballot) Exhausted() bool {
	return len(b.Ranking) == 0
}

type Round struct {
	Index      int                       `json:"index"`
	VoteCounts map[string]int            `json:"vote_counts"`
	Exhausted  int                       `json:"exhausted"`
	Eliminated string                    `json:"eliminated,omitempty"`
	Transfers  map[string]map[string]int `json:"transfers,omitempty"`
}

type TallyResult struct {
	PollID         string   `json:"poll_id"`
	Candidates     []string `json:"candidates"`
	Rounds         []Round  `json:"rounds"`
	Winner         string   `json:"winner,omitempty"`
	TotalBallots   int      `json:"total_ballots"`
	ExhaustedCount int      `json:"exhausted_count"`
}

// EliminationOrder lists eliminated candidates round by round.
func (r TallyResult) EliminationOrder() []string {
	order := make([]string, 0, len(r.Rounds))
	for _, round := range r.Rounds {
		if round.Eliminated != "" {
			order = append(order, round.Eliminated)
		}
	}
	return order
}

// Leader returns the winner, or the top candidate of the last round when
// no winner could be declared.
func (r TallyResult) Leader() string {
	if r.Winner != "" {
		return r.Winner
	}
	if len(r.Rounds) == 0 {
		return ""
	}
	last := r.Rounds[len(r.Rounds)-1]
	leader, best := "", -1
	for id, n := range last.VoteCounts {
		if n > best || (n == best && id < leader) {
			leader, best = id, n
		}
	}
	return leader
}

// FirstPreferences returns the first round's counts.
func (r TallyResult) FirstPreferences() map[string]int {
	if len(r.Rounds) == 0 {
		return map[string]int{}
	}
	return r.Rounds[0].VoteCounts
}

// Clone returns a deep copy of r.
func (r TallyResult) Clone() TallyResult {
	out := r
	if r.Candidates != nil {
		out.Candidates = make([]string, len(r.Candidates))
		copy(out.Candidates, r.Candidates)
	}
	if r.Rounds == nil {
		return out
	}
	out.Rounds = make([]Round, len(r.Rounds))
	for i, round := range r.Rounds {
		cp := round
		cp.VoteCounts = make(map[string]int, len(round.VoteCounts))
		for k, v := range round.VoteCounts {
			cp.VoteCounts[k] = v
		}
		if round.Transfers != nil {
			cp.Transfers = make(map[string]map[string]int, len(round.Transfers))
			for from, to := range round.Transfers {
				inner := make(map[string]int, len(to))
				for k, v := range to {
					inner[k] = v
				}
				cp.Transfers[from] = inner
			}
		}
		out.Rounds[i] = cp
	}
	return out
}

// Snapshot is a poll's official result. LedgerRoot is the audit log root
// over the first LedgerSize ballots, every ballot stored when it was taken.
type Snapshot struct {
	ID              string      `json:"id"`
	PollID          string      `json:"poll_id"`
	TakenAt         time.Time   `json:"taken_at"`
	CloseAt         time.Time   `json:"close_at"`
	Result          TallyResult `json:"result"`
	TotalBallots    int         `json:"total_ballots"`
	BallotSetDigest string      `json:"ballot_set_digest"`
	Checksum        string      `json:"checksum"`
	LedgerRoot      string      `json:"ledger_root"`
	LedgerSize      int         `json:"ledger_size"`
}

type Stability struct {
	Windows       int  `json:"windows"`
	NewBallots    int  `json:"new_ballots"`
	Leading       bool `json:"leading"`
	MinWindows    int  `json:"min_windows"`
	MinNewBallots int  `json:"min_new_ballots"`
}

type TrendDelta struct {
	PollID        string         `json:"poll_id"`
	SinceSnapshot int            `json:"since_snapshot"`
	Result        TallyResult    `json:"result"`
	VoteDeltas    map[string]int `json:"vote_deltas"`
	Leader        string         `json:"leader,omitempty"`
	Stability     Stability      `json:"stability"`
	ComputedAt    time.Time      `json:"computed_at"`
	Disclosure    Disclosure     `json:"disclosure"`
}

type RoundDelta struct {
	Index     int                       `json:"index"`
	Counts    map[string]int            `json:"counts,omitempty"`
	Exhausted int                       `json:"exhausted,omitempty"`
	Transfers map[string]map[string]int `json:"transfers,omitempty"`
}

type Diff struct {
	PollID         string       `json:"poll_id"`
	Seq            uint64       `json:"seq"`
	Kind           string       `json:"kind"`
	Official       bool         `json:"official"`
	Rounds         []RoundDelta `json:"rounds,omitempty"`
	TotalDelta     int          `json:"total_delta,omitempty"`
	ExhaustedDelta int          `json:"exhausted_delta,omitempty"`
	Winner         string       `json:"winner,omitempty"`
	State          *TallyResult `json:"state,omitempty"`
	Timestamp      time.Time    `json:"timestamp"`
	Disclosure     *Disclosure  `json:"disclosure,omitempty"`
}

type BreakdownBucket struct {
	Value       string         `json:"value"`
	Count       int            `json:"count"`
	FirstChoice map[string]int `json:"first_choice"`
}

type Breakdown struct {
	PollID          string            `json:"poll_id"`
	Dimension       string            `json:"dimension"`
	View            string            `json:"view"`
	Buckets         []BreakdownBucket `json:"buckets"`
	Suppressed      int               `json:"suppressed"`
	K               int               `json:"k"`
	Epsilon         float64           `json:"epsilon"`
	RemainingBudget float64           `json:"remaining_budget"`
	Disclosure      Disclosure        `json:"disclosure"`
}

type Disclosure struct {
	Method         string    `json:"method"`
	SampleSize     int       `json:"sample_size"`
	SampleSizeText string    `json:"sample_size_text"`
	Timestamp      time.Time `json:"timestamp"`
	Official       bool      `json:"official"`
	Badge          string    `json:"badge"`
	Disclaimer     string    `json:"disclaimer,omitempty"`
	TieBreak       string    `json:"tie_break"`
}

type MerkleProof struct {
	PollID    string   `json:"poll_id"`
	Leaf      string   `json:"leaf"`
	LeafIndex int      `json:"leaf_index"`
	TreeSize  int      `json:"tree_size"`
	Path      []string `json:"path"`
	Root      string   `json:"root"`
}

// Request types

type CreatePollRequest struct {
	Title          string    `json:"title"`
	CloseAt        time.Time `json:"close_at"`
	AllowPostClose bool      `json:"allow_post_close"`
	AllowWriteIns  bool      `json:"allow_write_ins"`
	LiveTally      bool      `json:"live_tally"`
	TieBreak       TieBreak  `json:"tie_break"`
	Candidates     []string  `json:"candidates"`
}

type AddCandidateRequest struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

type SubmitBallotRequest struct {
	Ranking    []string          `json:"ranking"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

type SubmitBatchRequest struct {
	Ballots []SubmitBallotRequest `json:"ballots"`
}

// Response types

type CreatePollResponse struct {
	PollID    string `json:"poll_id"`
	AdminKey  string `json:"admin_key"`
	ViewerKey string `json:"viewer_key"`
	ShareSlug string `json:"share_slug"`
}

type SubmitBallotResponse struct {
	Accepted  bool     `json:"accepted"`
	BallotID  string   `json:"ballot_id"`
	Official  bool     `json:"official"`
	Exhausted bool     `json:"exhausted"`
	Ranking   []string `json:"ranking"`
	Message   string   `json:"message,omitempty"`
}

type SubmitBatchResponse struct {
	Results []SubmitBallotResponse `json:"results"`
	Version uint64                 `json:"version"`
}

type ClosePollResponse struct {
	ClosedAt time.Time `json:"closed_at"`
	Snapshot Snapshot  `json:"snapshot"`
}

type OfficialResultResponse struct {
	Snapshot   Snapshot   `json:"snapshot"`
	Disclosure Disclosure `json:"disclosure"`
}

type PollWithCandidates struct {
	Poll       PollConfig  `json:"poll"`
	Candidates []Candidate `json:"candidates"`
}

// Error response

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

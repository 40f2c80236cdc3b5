// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package privacy

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"gonum.org/v1/gonum/mathext/prng"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/danielhkuo/runoff/models"
)

var (
	ErrCrossTabulation  = errors.New("breakdowns accept exactly one sensitive dimension")
	ErrUnknownDimension = errors.New("unknown breakdown dimension")
	ErrUnknownView      = errors.New("unknown privacy view")
)

// Thresholds are the minimum bucket sizes per view. Stricter views need
// larger buckets.
type Thresholds struct {
	Public        int `yaml:"public" json:"public"`
	Authenticated int `yaml:"authenticated" json:"authenticated"`
	Internal      int `yaml:"internal" json:"internal"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{Public: 10, Authenticated: 5, Internal: 3}
}

// K returns the threshold for view.
func (t Thresholds) K(view string) (int, error) {
	switch view {
	case models.ViewPublic:
		return t.Public, nil
	case models.ViewAuthenticated:
		return t.Authenticated, nil
	case models.ViewInternal:
		return t.Internal, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownView, view)
}

// ValidDimension reports whether d is a supported breakdown dimension.
func ValidDimension(d string) bool {
	switch d {
	case models.DimensionInterest, models.DimensionDemographic, models.DimensionLocation:
		return true
	}
	return false
}

// Sensitivity is the L1 sensitivity of one breakdown: adding or removing a
// ballot moves its bucket count and at most one first-choice cell by 1.
const Sensitivity = 2.0

// Noise draws Laplace noise.
type Noise interface {
	Laplace(scale float64) float64
}

type laplaceNoise struct {
	mu  sync.Mutex
	src *prng.MT19937
}

// NewNoise returns a Laplace source seeded with seed. Production callers
// pass SecureSeed().
func NewNoise(seed uint64) Noise {
	src := prng.NewMT19937()
	src.Seed(seed)
	return &laplaceNoise{src: src}
}

// SecureSeed reads a seed from crypto/rand.
func SecureSeed() (uint64, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("failed to seed noise source: %w", err)
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func (n *laplaceNoise) Laplace(scale float64) float64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	d := distuv.Laplace{Mu: 0, Scale: scale, Src: n.src}
	return d.Rand()
}

// Row is the minimum a breakdown needs from one ballot.
type Row struct {
	Attributes  map[string]string
	FirstChoice string // "" for an exhausted ballot
}

type Request struct {
	PollID     string
	Dimensions []string
	View       string
	// Candidates lists every first-choice cell to publish per bucket, so a
	// missing cell never reveals a zero.
	Candidates []string
	Purpose    string
}

// Filter gates every aggregate breakdown.
type Filter struct {
	thresholds Thresholds
	epsilon    float64
	budget     *Ledger
	noise      Noise
}

func NewFilter(thresholds Thresholds, epsilon float64, budget *Ledger, noise Noise) *Filter {
	return &Filter{thresholds: thresholds, epsilon: epsilon, budget: budget, noise: noise}
}

// Epsilon is the budget each query consumes.
func (f *Filter) Epsilon() float64 {
	return f.epsilon
}

// Apply builds a breakdown of rows by the single requested dimension.
//
// The request's epsilon is reserved before any count is read and refunded
// if the computation fails. Buckets smaller than the view's k are dropped
// and counted in Suppressed; surviving counts and first-choice cells get
// Laplace(0, Sensitivity/epsilon) noise and are rounded to non-negative
// integers, so the whole breakdown is epsilon-private.
func (f *Filter) Apply(ctx context.Context, req Request, rows []Row) (models.Breakdown, error) {
	if len(req.Dimensions) != 1 {
		return models.Breakdown{}, fmt.Errorf("%w: got %d", ErrCrossTabulation, len(req.Dimensions))
	}
	dimension := req.Dimensions[0]
	if !ValidDimension(dimension) {
		return models.Breakdown{}, fmt.Errorf("%w: %q", ErrUnknownDimension, dimension)
	}
	k, err := f.thresholds.K(req.View)
	if err != nil {
		return models.Breakdown{}, err
	}

	remaining, err := f.budget.Reserve(ctx, req.PollID, f.epsilon, req.Purpose)
	if err != nil {
		return models.Breakdown{}, err
	}

	breakdown, err := f.compute(ctx, req, dimension, k, rows)
	if err != nil {
		if rerr := f.budget.Refund(context.WithoutCancel(ctx), req.PollID, f.epsilon); rerr != nil {
			return models.Breakdown{}, errors.Join(err, rerr)
		}
		return models.Breakdown{}, err
	}
	breakdown.RemainingBudget = remaining
	return breakdown, nil
}

func (f *Filter) compute(ctx context.Context, req Request, dimension string, k int, rows []Row) (models.Breakdown, error) {
	type bucket struct {
		count int
		cells map[string]int
	}
	buckets := make(map[string]*bucket)
	for _, row := range rows {
		value, ok := row.Attributes[dimension]
		if !ok || value == "" {
			continue
		}
		b, ok := buckets[value]
		if !ok {
			b = &bucket{cells: make(map[string]int)}
			buckets[value] = b
		}
		b.count++
		if row.FirstChoice != "" {
			b.cells[row.FirstChoice]++
		}
	}

	values := make([]string, 0, len(buckets))
	for v := range buckets {
		values = append(values, v)
	}
	sort.Strings(values)

	breakdown := models.Breakdown{
		PollID:    req.PollID,
		Dimension: dimension,
		View:      req.View,
		Buckets:   []models.BreakdownBucket{},
		K:         k,
		Epsilon:   f.epsilon,
	}

	scale := Sensitivity / f.epsilon
	for _, value := range values {
		if err := ctx.Err(); err != nil {
			return models.Breakdown{}, err
		}
		b := buckets[value]
		if b.count < k {
			breakdown.Suppressed++
			continue
		}

		out := models.BreakdownBucket{
			Value:       value,
			Count:       f.noisy(b.count, scale),
			FirstChoice: make(map[string]int, len(req.Candidates)),
		}
		for _, c := range req.Candidates {
			out.FirstChoice[c] = f.noisy(b.cells[c], scale)
		}
		breakdown.Buckets = append(breakdown.Buckets, out)
	}

	return breakdown, nil
}

func (f *Filter) noisy(n int, scale float64) int {
	v := math.Round(float64(n) + f.noise.Laplace(scale))
	if v < 0 {
		return 0
	}
	return int(v)
}

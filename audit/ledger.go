// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package audit

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/danielhkuo/runoff/models"
)

var ErrUnknownPoll = errors.New("no audit ledger for poll")

// Ledger keeps one append-only Merkle tree per poll, in arrival order.
type Ledger struct {
	mu    sync.RWMutex
	trees map[string]*Tree
}

func NewLedger() *Ledger {
	return &Ledger{trees: make(map[string]*Tree)}
}

// Append adds digest to the poll's tree and returns its leaf index.
func (l *Ledger) Append(pollID, digest string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, ok := l.trees[pollID]
	if !ok {
		t = &Tree{}
		l.trees[pollID] = t
	}
	return t.Append(digest)
}

// Restore rebuilds a poll's tree from stored digests, in leaf order.
// It replaces any tree already held for the poll.
func (l *Ledger) Restore(pollID string, digests []string) {
	t := &Tree{}
	for _, d := range digests {
		t.Append(d)
	}

	l.mu.Lock()
	l.trees[pollID] = t
	l.mu.Unlock()
}

// LedgerRoot is the root of a poll's audit tree holding digests in
// arrival order.
func LedgerRoot(digests []string) string {
	var t Tree
	for _, d := range digests {
		t.Append(d)
	}
	return t.Root()
}

// Root returns the poll's current root and size.
func (l *Ledger) Root(pollID string) (string, int) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	t, ok := l.trees[pollID]
	if !ok {
		var empty Tree
		return empty.Root(), 0
	}
	return t.Root(), t.Size()
}

// Proof returns an inclusion proof for the leaf at index in the tree as it
// stood at size leaves. A size of 0 proves against the current tree.
func (l *Ledger) Proof(pollID string, index int, digest string, size int) (models.MerkleProof, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	t, ok := l.trees[pollID]
	if !ok {
		return models.MerkleProof{}, fmt.Errorf("%w: %s", ErrUnknownPoll, pollID)
	}
	if size == 0 {
		size = t.Size()
	}
	path, err := t.ProofAt(index, size)
	if err != nil {
		return models.MerkleProof{}, err
	}
	if !bytes.Equal(t.leaves[index], hashLeaf([]byte(digest))) {
		return models.MerkleProof{}, fmt.Errorf("%w: leaf %d does not hold %s", ErrInvalidProof, index, digest)
	}
	root, err := t.RootAt(size)
	if err != nil {
		return models.MerkleProof{}, err
	}
	return models.MerkleProof{
		PollID:    pollID,
		Leaf:      digest,
		LeafIndex: index,
		TreeSize:  size,
		Path:      path,
		Root:      root,
	}, nil
}

// VerifyProof checks a proof returned by Proof.
func VerifyProof(p models.MerkleProof) error {
	return VerifyInclusion(p.Leaf, p.LeafIndex, p.TreeSize, p.Path, p.Root)
}

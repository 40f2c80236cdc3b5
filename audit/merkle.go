// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package audit

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

var (
	ErrLeafIndex    = errors.New("leaf index out of range")
	ErrInvalidProof = errors.New("invalid inclusion proof")
)

// Hashing follows RFC 6962: leaves and interior nodes carry distinct
// prefixes so a leaf can never be passed off as a node.
const (
	leafPrefix = 0x00
	nodePrefix = 0x01
)

func hashLeaf(data []byte) []byte {
	h := sha256.New()
	h.Write([]byte{leafPrefix})
	h.Write(data)
	return h.Sum(nil)
}

func hashChildren(left, right []byte) []byte {
	h := sha256.New()
	h.Write([]byte{nodePrefix})
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}

// split returns the largest power of two smaller than n.
func split(n int) int {
	k := 1
	for k<<1 < n {
		k <<= 1
	}
	return k
}

// rootOf computes the tree hash over leaf hashes.
func rootOf(leaves [][]byte) []byte {
	switch len(leaves) {
	case 0:
		sum := sha256.Sum256(nil)
		return sum[:]
	case 1:
		return leaves[0]
	}
	k := split(len(leaves))
	return hashChildren(rootOf(leaves[:k]), rootOf(leaves[k:]))
}

// pathOf returns the audit path for leaf m, ordered leaf to root.
func pathOf(m int, leaves [][]byte) [][]byte {
	if len(leaves) <= 1 {
		return nil
	}
	k := split(len(leaves))
	if m < k {
		return append(pathOf(m, leaves[:k]), rootOf(leaves[k:]))
	}
	return append(pathOf(m-k, leaves[k:]), rootOf(leaves[:k]))
}

// Tree is an append-only Merkle tree over ballot digests.
type Tree struct {
	leaves [][]byte
}

// Append adds a digest and returns its leaf index.
func (t *Tree) Append(digest string) int {
	t.leaves = append(t.leaves, hashLeaf([]byte(digest)))
	return len(t.leaves) - 1
}

func (t *Tree) Size() int {
	return len(t.leaves)
}

// Root returns the hex tree hash.
func (t *Tree) Root() string {
	return hex.EncodeToString(rootOf(t.leaves))
}

// RootAt returns the hex tree hash over the first size leaves, the root
// the tree had when it held size leaves.
func (t *Tree) RootAt(size int) (string, error) {
	if size < 0 || size > len(t.leaves) {
		return "", fmt.Errorf("%w: size %d of %d", ErrLeafIndex, size, len(t.leaves))
	}
	return hex.EncodeToString(rootOf(t.leaves[:size])), nil
}

// Proof returns the inclusion path for leaf index in the current tree.
func (t *Tree) Proof(index int) ([]string, error) {
	return t.ProofAt(index, len(t.leaves))
}

// ProofAt returns the inclusion path for leaf index in the tree's first
// size leaves.
func (t *Tree) ProofAt(index, size int) ([]string, error) {
	if size < 0 || size > len(t.leaves) {
		return nil, fmt.Errorf("%w: size %d of %d", ErrLeafIndex, size, len(t.leaves))
	}
	if index < 0 || index >= size {
		return nil, fmt.Errorf("%w: %d of %d", ErrLeafIndex, index, size)
	}
	path := pathOf(index, t.leaves[:size])
	out := make([]string, len(path))
	for i, p := range path {
		out[i] = hex.EncodeToString(p)
	}
	return out, nil
}

// VerifyInclusion checks that digest sits at index in a tree of size
// treeSize with the given hex root.
func VerifyInclusion(digest string, index, treeSize int, path []string, root string) error {
	if index < 0 || index >= treeSize {
		return fmt.Errorf("%w: %d of %d", ErrLeafIndex, index, treeSize)
	}
	want, err := hex.DecodeString(root)
	if err != nil {
		return fmt.Errorf("%w: root: %v", ErrInvalidProof, err)
	}

	fn, sn := index, treeSize-1
	r := hashLeaf([]byte(digest))
	for _, hp := range path {
		p, err := hex.DecodeString(hp)
		if err != nil {
			return fmt.Errorf("%w: path: %v", ErrInvalidProof, err)
		}
		if sn == 0 {
			return fmt.Errorf("%w: path too long", ErrInvalidProof)
		}
		if fn&1 == 1 || fn == sn {
			r = hashChildren(p, r)
			if fn&1 == 0 {
				for fn&1 == 0 && fn != 0 {
					fn >>= 1
					sn >>= 1
				}
			}
		} else {
			r = hashChildren(r, p)
		}
		fn >>= 1
		sn >>= 1
	}

	if sn != 0 || !bytes.Equal(r, want) {
		return ErrInvalidProof
	}
	return nil
}

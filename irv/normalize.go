// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package irv

import (
	"sort"
	"strings"
	"unicode"

	"github.com/danielhkuo/runoff/models"
)

// WriteInPrefix marks a ranking entry as a write-in label.
const WriteInPrefix = "writein:"

// CandidateSet is the set of candidate ids a ballot may rank, with their
// current status.
type CandidateSet struct {
	status        map[string]models.CandidateStatus
	AllowWriteIns bool
}

// NewCandidateSet builds a CandidateSet from stored candidates.
func NewCandidateSet(candidates []models.Candidate, allowWriteIns bool) CandidateSet {
	set := CandidateSet{
		status:        make(map[string]models.CandidateStatus, len(candidates)),
		AllowWriteIns: allowWriteIns,
	}
	for _, c := range candidates {
		set.status[c.ID] = c.Status
	}
	return set
}

// Status returns the status of id and whether it is known.
func (s CandidateSet) Status(id string) (models.CandidateStatus, bool) {
	st, ok := s.status[id]
	return st, ok
}

// Counted returns the sorted ids of every candidate whose ballots count.
func (s CandidateSet) Counted() []string {
	ids := make([]string, 0, len(s.status))
	for id, st := range s.status {
		if st.Counted() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Normalize canonicalizes a raw ranking: entries are trimmed, blanks and
// unknown or withdrawn ids are dropped, write-in labels are normalized, and
// duplicates collapse to their first occurrence.
//
// Returns ErrInvalidBallot together with an empty (non-nil) ranking when
// nothing valid remains.
func Normalize(raw []string, candidates CandidateSet) ([]string, error) {
	ranking := make([]string, 0, len(raw))
	seen := make(map[string]bool, len(raw))

	for _, entry := range raw {
		id := strings.TrimSpace(entry)
		if id == "" {
			continue
		}

		if isWriteIn(id) {
			if !candidates.AllowWriteIns {
				continue
			}
			id = NormalizeWriteIn(id[len(WriteInPrefix):])
			if id == "" {
				continue
			}
			if st, ok := candidates.status[id]; ok && !st.Counted() {
				continue
			}
		} else {
			st, ok := candidates.status[id]
			if !ok || !st.Counted() {
				continue
			}
		}

		if seen[id] {
			continue
		}
		seen[id] = true
		ranking = append(ranking, id)
	}

	if len(ranking) == 0 {
		return ranking, ErrInvalidBallot
	}
	return ranking, nil
}

// NormalizeWriteIn turns a free-text label into a write-in candidate id:
// lowercased, whitespace runs collapsed to one hyphen, everything outside
// [a-z0-9-] removed. Returns "" for a label with nothing left.
func NormalizeWriteIn(label string) string {
	var b strings.Builder
	pendingHyphen := false
	for _, r := range strings.ToLower(strings.TrimSpace(label)) {
		switch {
		case unicode.IsSpace(r):
			pendingHyphen = b.Len() > 0
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-':
			if pendingHyphen {
				b.WriteByte('-')
				pendingHyphen = false
			}
			b.WriteRune(r)
		}
	}

	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		return ""
	}
	return WriteInPrefix + slug
}

func isWriteIn(id string) bool {
	return len(id) >= len(WriteInPrefix) && strings.EqualFold(id[:len(WriteInPrefix)], WriteInPrefix)
}

// WriteIns returns the write-in ids in ranking that the set does not know yet.
func (s CandidateSet) WriteIns(ranking []string) []string {
	var out []string
	for _, id := range ranking {
		if !strings.HasPrefix(id, WriteInPrefix) {
			continue
		}
		if _, ok := s.status[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

// Add registers id with status st, replacing any earlier status.
func (s CandidateSet) Add(id string, st models.CandidateStatus) {
	s.status[id] = st
}

// Remove forgets id.
func (s CandidateSet) Remove(id string) {
	delete(s.status, id)
}

package domain

import "sort"

// IDSet is a deduplicated, sorted set of entity ids. The zero value is an
// empty set. Union is commutative and idempotent, which is what makes the
// multi-step reconciliation writes safe to repeat.
type IDSet []int64

// NewIDSet builds a set from the given ids, dropping duplicates.
func NewIDSet(ids ...int64) IDSet {
	return IDSet(nil).Union(ids...)
}

// Union returns a new set containing every id in s plus the given ids.
// The receiver is never modified.
func (s IDSet) Union(ids ...int64) IDSet {
	seen := make(map[int64]struct{}, len(s)+len(ids))
	out := make(IDSet, 0, len(s)+len(ids))
	for _, id := range s {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	for _, id := range ids {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Contains reports whether id is in the set.
func (s IDSet) Contains(id int64) bool {
	for _, v := range s {
		if v == id {
			return true
		}
	}
	return false
}

// Equal reports whether two sets hold the same ids.
func (s IDSet) Equal(other IDSet) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Int64s returns the set as a plain slice for driver array binding.
func (s IDSet) Int64s() []int64 {
	out := make([]int64, len(s))
	copy(out, s)
	return out
}

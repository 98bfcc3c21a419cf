package detector

import "sort"

// Results is the collected output of one dispatch round, including failures.
type Results []Result

// Valid returns the results that carry a signal, ordered by registry position.
func (rs Results) Valid() Results {
	var out Results
	for _, r := range rs.Sorted() {
		if r.Valid() {
			out = append(out, r)
		}
	}
	return out
}

// Sorted returns a copy ordered by registry position, so arrival order never matters.
func (rs Results) Sorted() Results {
	out := make(Results, len(rs))
	copy(out, rs)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].Source < out[j].Source
	})
	return out
}

// Degraded reports whether any detector did not return ok.
func (rs Results) Degraded() bool {
	for _, r := range rs {
		if !r.Valid() {
			return true
		}
	}
	return false
}

// Count returns the number of results with the given status.
func (rs Results) Count(status Status) int {
	n := 0
	for _, r := range rs {
		if r.Status == status {
			n++
		}
	}
	return n
}

// Attempted counts the detectors that were dispatched or considered for this artifact.
func (rs Results) Attempted() int {
	return len(rs)
}

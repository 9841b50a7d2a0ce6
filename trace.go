package kausality

import (
	"github.com/sttts/kausality/allowance"
	"github.com/sttts/kausality/pathmatch"
)

// pickJustification selects a single justifying allowance when several
// candidates cover the same operation. Candidates are ordered by their root
// hop's kind, then name, then field; the allowance key breaks any remaining
// tie. Byte-identical inputs always pick the same allowance, so replays
// produce byte-identical traces.
func pickJustification(candidates []allowance.Allowance) allowance.Allowance {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if traceLess(c, best) {
			best = c
		}
	}

	return best
}

func traceLess(a, b allowance.Allowance) bool {
	ra, _ := a.Root()
	rb, _ := b.Root()

	if ra.Kind != rb.Kind {
		return ra.Kind < rb.Kind
	}
	if ra.Name != rb.Name {
		return ra.Name < rb.Name
	}
	if ra.Field != rb.Field {
		return ra.Field < rb.Field
	}

	return a.Key() < b.Key()
}

// coveringAllowances returns the allowances in the set covering the given
// operation. Callers filter out trace-less records first; one slipping
// through is skipped here, never trusted.
func coveringAllowances(set allowance.Set, target, verb string, path pathmatch.Path) []allowance.Allowance {
	var candidates []allowance.Allowance

	for _, a := range set {
		if _, ok := a.Root(); !ok {
			continue
		}

		if a.Covers(target, verb, path) {
			candidates = append(candidates, a)
		}
	}

	return candidates
}

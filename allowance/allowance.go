// Package allowance defines the Allowance value: a grant permitting one
// controller-performed mutation, carrying the linear causal trace that
// justifies it. Allowances are immutable values; every propagation copies.
package allowance

import (
	"strconv"
	"strings"

	"github.com/sttts/kausality/pathmatch"
)

// Hop is one object's contribution to a trace: its kind, name, generation,
// and the concrete field that changed, plus any captured attestations.
// Namespace is never recorded; it is implicit from the carrying object.
//
// Generation is the hop object's own metadata.generation at the moment the
// hop was recorded. Generations are per-object counters: they order hops of
// the same object but carry no ordering across hops, so a fresh child at
// generation 1 legitimately follows a parent hop at generation 7.
type Hop struct {
	Kind         string            `json:"kind"`
	Name         string            `json:"name"`
	Generation   int64             `json:"generation"`
	Field        string            `json:"field"`
	Attestations map[string]string `json:"attestations,omitempty"`
}

// Allowance grants one verb or field mutation toward a target, justified by
// a root-first trace. Field holds the granted path pattern for mutation
// grants and is empty for plain verbs. Generation is the generation of the
// object holding this allowance at the moment of grant. Initiator is set
// exactly once, at the root, and is never reassigned on propagation.
type Allowance struct {
	Target     string `json:"target"`
	Verb       string `json:"verb"`
	Field      string `json:"field,omitempty"`
	Generation int64  `json:"generation"`
	Initiator  string `json:"initiator"`
	Trace      []Hop  `json:"trace"`
}

// Key identifies an allowance for dedupe purposes: same target, same grant,
// same trace head collapse into one.
func (a Allowance) Key() string {
	var head string
	if len(a.Trace) > 0 {
		h := a.Trace[0]
		head = h.Kind + "\x00" + h.Name + "\x00" + strconv.FormatInt(h.Generation, 10) + "\x00" + h.Field
	}

	return a.Target + "\x00" + a.Verb + "\x00" + a.Field + "\x00" + head
}

// Root returns the trace's first hop. The second return is false for an
// empty (malformed) trace.
func (a Allowance) Root() (Hop, bool) {
	if len(a.Trace) == 0 {
		return Hop{}, false
	}

	return a.Trace[0], true
}

// Clone deep-copies the allowance so trace storage is never shared.
func (a Allowance) Clone() Allowance {
	out := a
	out.Trace = make([]Hop, len(a.Trace))

	for i, h := range a.Trace {
		out.Trace[i] = h

		if h.Attestations != nil {
			atts := make(map[string]string, len(h.Attestations))
			for k, v := range h.Attestations {
				atts[k] = v
			}
			out.Trace[i].Attestations = atts
		}
	}

	return out
}

// Extend returns a copy of the allowance with one hop appended and the grant
// retargeted. The initiator carries over unchanged.
func (a Allowance) Extend(hop Hop, target, verb, field string, generation int64) Allowance {
	out := a.Clone()
	out.Trace = append(out.Trace, hop)
	out.Target = target
	out.Verb = verb
	out.Field = field
	out.Generation = generation

	return out
}

// Originate creates a fresh allowance whose trace starts at the given hop.
// The subject becomes the initiator, recorded once.
func Originate(initiator string, hop Hop, target, verb, field string, generation int64) Allowance {
	return Allowance{
		Target:     target,
		Verb:       verb,
		Field:      field,
		Generation: generation,
		Initiator:  initiator,
		Trace:      []Hop{hop},
	}
}

// Covers reports whether this allowance justifies the given operation: same
// target, same verb, and for mutation grants a field path falling within
// the granted pattern. An unparseable granted pattern never covers anything.
func (a Allowance) Covers(target, verb string, fieldPath pathmatch.Path) bool {
	if a.Target != target || a.Verb != verb {
		return false
	}

	if a.Field == "" {
		return len(fieldPath) == 0
	}

	pat, err := pathmatch.ParsePattern(a.Field)
	if err != nil {
		return false
	}

	return pat.Matches(fieldPath)
}

// ConsumedBy reports whether the holding object's reconciliation has caught
// up with this allowance: observedGeneration >= the granting generation.
// An absent observedGeneration never consumes.
func (a Allowance) ConsumedBy(observedGeneration *int64) bool {
	return observedGeneration != nil && *observedGeneration >= a.Generation
}

// Set is an ordered collection of allowances attached to one object.
type Set []Allowance

// Add appends an allowance unless an equal-keyed one is already present.
// Attaching never invalidates existing allowances.
func (s Set) Add(a Allowance) Set {
	key := a.Key()
	for _, existing := range s {
		if existing.Key() == key {
			return s
		}
	}

	return append(s, a)
}

// Prune removes every allowance consumed at the given observed generation.
// Pruning is idempotent and order-preserving.
func (s Set) Prune(observedGeneration *int64) Set {
	out := make(Set, 0, len(s))
	for _, a := range s {
		if !a.ConsumedBy(observedGeneration) {
			out = append(out, a)
		}
	}

	return out
}

// Clone deep-copies the set.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for i, a := range s {
		out[i] = a.Clone()
	}

	return out
}

// String renders a compact single-line summary for logs and reject reasons.
func (a Allowance) String() string {
	var b strings.Builder
	b.WriteString(a.Target)
	b.WriteByte(' ')
	b.WriteString(a.Verb)

	if a.Field != "" {
		b.WriteByte(' ')
		b.WriteString(a.Field)
	}

	b.WriteString(" gen=")
	b.WriteString(strconv.FormatInt(a.Generation, 10))

	return b.String()
}

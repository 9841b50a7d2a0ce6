package kausality

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/sttts/kausality/object"
	"github.com/sttts/kausality/pathmatch"
	"github.com/sttts/kausality/policy"
)

// Bound is the upper-bound permission set: a mapping from target to the
// union of verbs and field-mutation rights granted by all applicable policy
// entries. It is a monoid under Merge with the empty bound as identity, so
// accumulation is order-independent. A target never mentioned is
// unrestricted; a target mentioned with entries is bounded to exactly their
// union. Bounds only ever permit; denial comes from the admission
// decision's default-deny, never from a bound.
type Bound struct {
	targets map[string]*targetBound

	// externalDefaultDeny implements the Deleting-phase default:
	// controller children fully mutable, external targets untouchable.
	externalDefaultDeny bool

	// explicitUnrestricted counts rules that matched with empty policies.
	// Outwardly identical to "not mentioned", kept distinct for visibility.
	explicitUnrestricted int
}

type targetBound struct {
	unrestricted bool
	verbs        map[string]struct{}
	mutations    []compiledGrant
}

type compiledGrant struct {
	pattern pathmatch.Pattern
	verbs   map[policy.MutationVerb]struct{}
}

// NewBound returns the empty bound, the identity of the union monoid.
func NewBound() *Bound {
	return &Bound{targets: make(map[string]*targetBound)}
}

// Merge accumulates policy entries into the bound via set union. Inert
// entries (no target) and unparseable mutation patterns contribute nothing.
func (b *Bound) Merge(entries []policy.Entry) {
	for _, e := range entries {
		key := e.TargetKey()
		if key == "" {
			continue
		}

		tb := b.targets[key]
		if tb == nil {
			tb = &targetBound{verbs: make(map[string]struct{})}
			b.targets[key] = tb
		}

		for _, v := range e.Verbs {
			tb.verbs[v] = struct{}{}
		}

		for _, m := range e.Mutations {
			pat, err := pathmatch.ParsePattern(m.Path)
			if err != nil {
				continue
			}

			verbs := make(map[policy.MutationVerb]struct{}, len(m.Verbs))
			for _, v := range m.Verbs {
				verbs[v] = struct{}{}
			}

			tb.mutations = append(tb.mutations, compiledGrant{pattern: pat, verbs: verbs})
		}
	}
}

// MarkUnrestricted records an explicitly unrestricted target: mentioned, but
// with no bound imposed.
func (b *Bound) MarkUnrestricted(targetKey string) {
	tb := b.targets[targetKey]
	if tb == nil {
		tb = &targetBound{verbs: make(map[string]struct{})}
		b.targets[targetKey] = tb
	}

	tb.unrestricted = true
}

func (b *Bound) markRuleUnrestricted() { b.explicitUnrestricted++ }

// ExplicitlyUnrestricted reports whether any matched rule carried empty
// policies (explicit opt-out of restriction).
func (b *Bound) ExplicitlyUnrestricted() bool { return b.explicitUnrestricted > 0 }

// Permits reports whether an operation toward a target falls within the
// bound. Whole-object verbs pass a nil path; field mutations pass the
// concrete path and the mutation verb.
func (b *Bound) Permits(target, verb string, path pathmatch.Path) bool {
	tb := b.targets[target]
	if tb == nil {
		if b.externalDefaultDeny && strings.HasPrefix(target, "external:") {
			return false
		}

		return true
	}

	if tb.unrestricted {
		return true
	}

	if len(path) == 0 {
		if _, ok := tb.verbs[verb]; ok {
			return true
		}

		_, all := tb.verbs["all"]

		return all
	}

	mv := policy.MutationVerb(verb)
	for _, g := range tb.mutations {
		if _, ok := g.verbs[mv]; !ok {
			continue
		}

		if g.pattern.Matches(path) {
			return true
		}
	}

	// "all" verbs on a controller-child target cover its field mutations too.
	_, all := tb.verbs["all"]

	return all
}

// boundFromEntries builds a bound from a flat entry list.
func boundFromEntries(entries []policy.Entry) *Bound {
	b := NewBound()
	b.Merge(entries)

	return b
}

// deletingDefaultBound is the Deleting-phase default when no deleting
// policies are configured: controller children fully mutable, external
// targets denied.
func deletingDefaultBound() *Bound {
	b := NewBound()
	b.externalDefaultDeny = true

	return b
}

// phaseBound resolves the upper bound for the Initializing or Deleting
// phase of the given policy.
func phaseBound(pol *policy.AllowancePolicy, phase Phase) *Bound {
	switch phase {
	case PhaseInitializing:
		return boundFromEntries(pol.Initializing.Policies)
	case PhaseDeleting:
		if len(pol.Deleting.Policies) == 0 {
			return deletingDefaultBound()
		}

		return boundFromEntries(pol.Deleting.Policies)
	default:
		return NewBound()
	}
}

// triggeredRule is a rule whose trigger matched the request's diff and whose
// conditions all held. matched is the lexicographically smallest concrete
// changed path the trigger matched; it becomes the trace hop's field.
type triggeredRule struct {
	rule     policy.Rule
	matched  pathmatch.Path
	captures map[string]string
}

// resolveSteadyState computes the SteadyState upper bound and the triggered
// rule list for a policy against the request's concrete diff. A failing or
// erroring condition excludes its rule entirely (fail closed); an
// unparseable trigger does the same.
func (e *Engine) resolveSteadyState(ctx context.Context, pol *policy.AllowancePolicy, changes []object.Change, obj, oldObj *unstructured.Unstructured) (*Bound, []triggeredRule) {
	bound := NewBound()
	paths := object.Paths(changes)

	var triggered []triggeredRule

	for _, rule := range pol.Rules {
		pat, err := pathmatch.ParsePattern(rule.Trigger)
		if err != nil {
			e.logger.Warn("skipping rule with invalid trigger",
				"kind", pol.ForKind.Key(), "trigger", rule.Trigger, "err", err)

			continue
		}

		matched := pat.Expand(paths)
		if len(matched) == 0 {
			continue
		}

		if !e.conditionsHold(ctx, pol, rule, obj, oldObj) {
			continue
		}

		sort.Slice(matched, func(i, j int) bool {
			return matched[i].String() < matched[j].String()
		})

		if len(rule.Policies) == 0 {
			bound.markRuleUnrestricted()
		} else {
			bound.Merge(rule.Policies)
		}

		triggered = append(triggered, triggeredRule{
			rule:     rule,
			matched:  matched[0],
			captures: e.captureFields(rule, obj),
		})
	}

	return bound, triggered
}

func (e *Engine) conditionsHold(ctx context.Context, pol *policy.AllowancePolicy, rule policy.Rule, obj, oldObj *unstructured.Unstructured) bool {
	for _, cond := range rule.Conditions {
		ok, err := e.evaluator.Evaluate(ctx, cond, obj, oldObj)
		if err != nil {
			e.logger.Warn("condition evaluation failed, excluding rule",
				"kind", pol.ForKind.Key(), "trigger", rule.Trigger, "condition", cond, "err", err)

			return false
		}

		if !ok {
			return false
		}
	}

	return true
}

// captureFields reads a triggering rule's capture paths from the new object
// state. Absent fields are skipped; present values render via fmt.
func (e *Engine) captureFields(rule policy.Rule, obj *unstructured.Unstructured) map[string]string {
	if len(rule.Capture) == 0 {
		return nil
	}

	captures := make(map[string]string, len(rule.Capture))

	for _, c := range rule.Capture {
		path, err := pathmatch.ParsePath(c)
		if err != nil {
			continue
		}

		if v, ok := object.Lookup(obj, path); ok {
			captures[c] = fmt.Sprint(v)
		}
	}

	if len(captures) == 0 {
		return nil
	}

	return captures
}

package kausality

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sttts/kausality/allowance"
	"github.com/sttts/kausality/decisionlog"
	"github.com/sttts/kausality/id"
	"github.com/sttts/kausality/object"
	"github.com/sttts/kausality/pathmatch"
	"github.com/sttts/kausality/plugin"
	"github.com/sttts/kausality/policy"
	"github.com/sttts/kausality/store"
)

// Engine is the central admission decision engine. It classifies phases,
// resolves upper bounds, justifies every requested change, issues new
// allowances, and fires extension hooks. The engine itself never writes
// object state; callers persist the returned allowance set and fingerprint.
type Engine struct {
	store         store.Store
	evaluator     PredicateEvaluator
	parents       ParentLookup
	cache         Cache
	plugins       *plugin.Registry
	fingerprinter Fingerprinter
	logger        *slog.Logger
	config        Config
}

// NewEngine creates a new Kausality engine with the given options.
func NewEngine(opts ...Option) (*Engine, error) {
	e := &Engine{
		evaluator:     DefaultEvaluator(),
		fingerprinter: defaultFingerprinter,
		logger:        slog.Default(),
		config:        DefaultConfig(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.store == nil {
		return nil, errors.New("kausality: store is required")
	}
	return e, nil
}

// Store returns the underlying composite store.
func (e *Engine) Store() store.Store { return e.store }

// Plugins returns the plugin registry (may be nil).
func (e *Engine) Plugins() *plugin.Registry { return e.plugins }

// Start performs any startup initialization.
func (e *Engine) Start(_ context.Context) error { return nil }

// Stop performs graceful shutdown.
func (e *Engine) Stop(ctx context.Context) error {
	if e.plugins != nil {
		e.plugins.EmitShutdown(ctx)
	}
	return nil
}

// operation is one unit the decision must justify: a whole-object verb
// (Create, Delete) or a single concrete field change.
type operation struct {
	verb string
	path pathmatch.Path
}

func (o operation) String() string {
	if len(o.path) == 0 {
		return o.verb
	}
	return o.verb + " " + o.path.String()
}

// requestOps derives the operations a request asks for. A create or delete
// is one whole-object op; an update is one op per concrete field change.
func requestOps(req *Request, changes []object.Change) []operation {
	if req.Verb == VerbDelete {
		return []operation{{verb: string(VerbDelete)}}
	}

	if req.OldObject == nil || req.Verb == VerbCreate {
		return []operation{{verb: string(VerbCreate)}}
	}

	ops := make([]operation, 0, len(changes))
	for _, c := range changes {
		ops = append(ops, operation{verb: string(c.Op), path: c.Path})
	}

	return ops
}

// Decide evaluates an admission request. This is the hot path.
func (e *Engine) Decide(ctx context.Context, req *Request) (*Decision, error) {
	start := time.Now()

	if req == nil || req.Object == nil {
		return nil, errors.New("kausality: request object is required")
	}

	scope := scopeFromContext(ctx)

	// 1. Decode annotation-carried allowance sets, excluding malformed
	// records with warnings.
	warnings := e.decodeRawAllowances(req)

	// 2. Cache hit?
	if e.cache != nil {
		if cached, ok := e.cache.Get(ctx, scope.clusterID, req); ok {
			cached.EvalTimeNs = time.Since(start).Nanoseconds()
			return cached, nil
		}
	}

	// 2b. Extension hook: before decide.
	if e.plugins != nil {
		e.plugins.EmitBeforeDecide(ctx, req)
	}

	// 3. Evaluate. A transient store failure surfaces as an error, never as
	// a decision; only deterministic outcomes are logged and cached.
	decision, err := e.decide(ctx, scope, req, warnings)
	if err != nil {
		return nil, err
	}
	decision.EvalTimeNs = time.Since(start).Nanoseconds()

	// 4. Record the decision.
	if e.config.decisionLogEnabled() {
		e.writeDecisionLog(ctx, scope, req, decision)
	}

	// 5. Cache the decision.
	if e.cache != nil {
		e.cache.Set(ctx, scope.clusterID, req, decision)
	}

	// 6. Extension hook: after decide.
	if e.plugins != nil {
		e.plugins.EmitAfterDecide(ctx, req, decision)
	}

	return decision, nil
}

// Enforce returns an error if the admission decision is a reject.
func (e *Engine) Enforce(ctx context.Context, req *Request) error {
	decision, err := e.Decide(ctx, req)
	if err != nil {
		return fmt.Errorf("kausality decide: %w", err)
	}
	if !decision.Accepted() {
		return fmt.Errorf("%w: %s", ErrDecisionDenied, decision.Reason)
	}
	return nil
}

// decide runs the decision pipeline proper: resolve the governing parent,
// classify the phase, justify every operation, and on accept prune and issue
// allowances. Admission is all-or-nothing: one unjustified operation rejects
// the whole request. Store failures return an error so a backend outage
// never degrades into an unjustified accept.
func (e *Engine) decide(ctx context.Context, scope clusterScope, req *Request, warnings []string) (*Decision, error) {
	objRef := object.RefOf(req.Object)
	targetKey := objRef.Key()

	ownPol, err := e.policyFor(ctx, scope, objRef)
	if err != nil {
		return nil, err
	}

	parent, parentPol, parentAllowances, err := e.resolveAncestry(ctx, scope, req)
	if errors.Is(err, ErrAncestryDepthExceeded) {
		e.logger.Warn("ancestry resolution failed",
			"kind", targetKey, "name", objRef.Name, "err", err)

		return &Decision{Outcome: OutcomeReject, Reason: err.Error(), Warnings: warnings}, nil
	}
	if err != nil {
		return nil, err
	}

	// Neither the object nor any ancestor is policed: out of scope, accept.
	if parentPol == nil && ownPol == nil {
		return &Decision{Outcome: OutcomeAccept, Reason: "kind is not policed", Warnings: warnings}, nil
	}

	// The governing phase is the policed parent's; roots are governed by
	// their own phase.
	var phase Phase
	if parentPol != nil {
		phase = e.classifyPhase(ctx, parentPol, parent, nil)
	} else {
		phase = e.classifyPhase(ctx, ownPol, req.Object, req.OldObject)
	}

	changes := object.Diff(req.OldObject, req.Object)
	ops := requestOps(req, changes)

	if len(ops) == 0 {
		d := &Decision{Outcome: OutcomeAccept, Phase: phase, Reason: "no effective changes", Warnings: warnings}
		d.Allowances = req.ObjectAllowances.Clone()

		return d, nil
	}

	upgradeBound, newFingerprint, err := e.matchUpgrade(ctx, scope, req)
	if err != nil {
		return nil, err
	}

	mayInitiate := ownPol != nil && subjectMayInitiate(ownPol, req.Subject)

	var phaseB *Bound
	if parentPol != nil && phase != PhaseSteadyState {
		phaseB = phaseBound(parentPol, phase)
	}

	// Drop trace-less parent allowances up front; they justify nothing.
	clean := make(allowance.Set, 0, len(parentAllowances))
	for _, a := range parentAllowances {
		if _, ok := a.Root(); !ok {
			warnings = append(warnings, "parent allowance without trace ignored: "+a.String())
			continue
		}
		clean = append(clean, a)
	}

	// chosen is the parent allowance whose trace new issuances extend, the
	// deterministically smallest one justifying any operation.
	var chosen *allowance.Allowance

	for _, op := range ops {
		justified := false

		switch {
		case upgradeBound != nil:
			// An engaged upgrade grant substitutes for the normal bound.
			justified = upgradeBound.Permits(targetKey, op.verb, op.path)

		case parentPol != nil && phase != PhaseSteadyState:
			justified = phaseB.Permits(targetKey, op.verb, op.path)

		case parentPol != nil:
			candidates := coveringAllowances(clean, targetKey, op.verb, op.path)
			if len(candidates) > 0 {
				pick := pickJustification(candidates)
				if chosen == nil || traceLess(pick, *chosen) {
					chosen = &pick
				}
				justified = true
			}
		}

		if !justified && upgradeBound == nil && mayInitiate {
			justified = true
		}

		if !justified {
			return &Decision{
				Outcome:  OutcomeReject,
				Phase:    phase,
				Reason:   fmt.Sprintf("no justification for %s of %s/%s", op, targetKey, objRef.Name),
				Warnings: warnings,
			}, nil
		}
	}

	decision := &Decision{Outcome: OutcomeAccept, Phase: phase, Warnings: warnings}

	if newFingerprint != "" {
		decision.UpdatedFingerprint = newFingerprint
		if e.plugins != nil {
			e.plugins.EmitFingerprintRotated(ctx, req.Subject.String(), newFingerprint)
		}
	}

	// A deleted object issues nothing; its allowances die with it.
	if req.Verb == VerbDelete {
		return decision, nil
	}

	decision.Allowances = e.issue(ctx, req, objRef, ownPol, changes, chosen)

	return decision, nil
}

// issue produces the allowance set to persist on the accepted object: the
// carried set pruned of consumed entries, plus one allowance per grant of
// every rule the request's own diff triggered. Issued allowances extend the
// chosen justifying parent allowance when there is one, and otherwise
// originate a fresh trace with the subject as initiator.
func (e *Engine) issue(ctx context.Context, req *Request, objRef object.Ref, ownPol *policy.AllowancePolicy, changes []object.Change, chosen *allowance.Allowance) allowance.Set {
	set := req.ObjectAllowances.Clone()

	if e.config.pruningEnabled() {
		before := len(set)
		set = set.Prune(objRef.ObservedGeneration)

		if pruned := before - len(set); pruned > 0 {
			e.logger.Debug("pruned consumed allowances",
				"kind", objRef.Key(), "name", objRef.Name, "count", pruned)

			if e.plugins != nil {
				e.plugins.EmitAllowancesPruned(ctx, objRef.Key(), objRef.Name, pruned)
			}
		}
	}

	if ownPol == nil {
		return set
	}

	_, triggered := e.resolveSteadyState(ctx, ownPol, changes, req.Object, req.OldObject)

	for _, tr := range triggered {
		hop := allowance.Hop{
			Kind:         objRef.Key(),
			Name:         objRef.Name,
			Generation:   objRef.Generation,
			Field:        tr.matched.String(),
			Attestations: tr.captures,
		}

		for _, entry := range tr.rule.Policies {
			key := entry.TargetKey()
			if key == "" {
				continue
			}

			for _, g := range entryGrants(entry) {
				var a allowance.Allowance
				if chosen != nil {
					a = chosen.Extend(hop, key, g.verb, g.field, objRef.Generation)
				} else {
					a = allowance.Originate(req.Subject.String(), hop, key, g.verb, g.field, objRef.Generation)
				}

				set = set.Add(a)
			}
		}
	}

	return set
}

// grantSpec is one issuable grant flattened out of a policy entry.
type grantSpec struct {
	verb  string
	field string
}

func entryGrants(entry policy.Entry) []grantSpec {
	var out []grantSpec

	for _, v := range entry.Verbs {
		out = append(out, grantSpec{verb: v})
	}

	for _, m := range entry.Mutations {
		for _, v := range m.Verbs {
			out = append(out, grantSpec{verb: string(v), field: m.Path})
		}
	}

	return out
}

// subjectMayInitiate reports whether the policy recognizes the subject as an
// initiator. An unrecognized subject never initiates.
func subjectMayInitiate(pol *policy.AllowancePolicy, s Subject) bool {
	for _, m := range pol.Subjects {
		if m.Kind != string(s.Kind) || m.Name != s.Name {
			continue
		}
		if m.Namespace != "" && m.Namespace != s.Namespace {
			continue
		}
		return m.MayInitiate
	}
	return false
}

// decodeRawAllowances fills the decoded allowance sets from their
// annotation-encoded raw forms. Malformed records are excluded and surface
// as decision warnings; they never abort the decision.
func (e *Engine) decodeRawAllowances(req *Request) []string {
	var warnings []string

	if len(req.ParentAllowances) == 0 && req.ParentAllowancesRaw != "" {
		set, errs := allowance.Decode(req.ParentAllowancesRaw)
		req.ParentAllowances = set
		for _, err := range errs {
			warnings = append(warnings, "parent allowances: "+err.Error())
		}
	}

	if len(req.ObjectAllowances) == 0 && req.ObjectAllowancesRaw != "" {
		set, errs := allowance.Decode(req.ObjectAllowancesRaw)
		req.ObjectAllowances = set
		for _, err := range errs {
			warnings = append(warnings, "object allowances: "+err.Error())
		}
	}

	return warnings
}

func (e *Engine) writeDecisionLog(ctx context.Context, scope clusterScope, req *Request, d *Decision) {
	objRef := object.RefOf(req.Object)

	entry := &decisionlog.Entry{
		ID:          id.NewDecisionLogID(),
		ClusterID:   scope.clusterID,
		SubjectKind: string(req.Subject.Kind),
		SubjectName: req.Subject.Name,
		ObjectKind:  objRef.Key(),
		ObjectName:  objRef.Name,
		Namespace:   objRef.Namespace,
		Generation:  objRef.Generation,
		Phase:       string(d.Phase),
		Outcome:     string(d.Outcome),
		Reason:      d.Reason,
		Allowances:  len(d.Allowances),
		EvalTimeNs:  d.EvalTimeNs,
		CreatedAt:   time.Now(),
	}

	if err := e.store.CreateDecisionLog(ctx, entry); err != nil {
		e.logger.Warn("failed to write decision log", "err", err)
	}
}

// Package kausality decides, for every mutation to a hierarchical object
// graph, whether that mutation is causally justified by an upstream change,
// and propagates a tamper-evident causal trace describing why it is
// permitted.
//
// The engine is a deterministic authorization state machine: it classifies
// the governing object's lifecycle phase, resolves the upper-bound
// permission set from the kind's AllowancePolicy, checks each requested
// change against phase grants, parent allowances, or the subject's right to
// initiate, and on acceptance emits the allowance set to attach to the
// mutated object.
//
//	eng, err := kausality.NewEngine(
//	    kausality.WithStore(memStore),
//	)
//	decision, err := eng.Decide(ctx, &kausality.Request{
//	    Subject: kausality.Subject{Kind: kausality.SubjectUser, Name: "alice"},
//	    Object:  updated,
//	    OldObject: current,
//	})
package kausality

import (
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/sttts/kausality/allowance"
)

// SubjectKind identifies the type of actor making an admission request.
type SubjectKind string

const (
	// SubjectUser represents a human user.
	SubjectUser SubjectKind = "User"

	// SubjectGroup represents a group identity.
	SubjectGroup SubjectKind = "Group"

	// SubjectServiceAccount represents a service account (controllers).
	SubjectServiceAccount SubjectKind = "ServiceAccount"
)

// Subject is the authenticated requester identity, supplied by an external
// authentication layer, never self-declared. Namespace applies to service
// accounts only.
type Subject struct {
	Kind      SubjectKind `json:"kind"`
	Name      string      `json:"name"`
	Namespace string      `json:"namespace,omitempty"`
}

// String renders the canonical identity string used for initiator fields
// and upgrade-grant lookups.
func (s Subject) String() string {
	if s.Kind == SubjectServiceAccount && s.Namespace != "" {
		return string(s.Kind) + ":" + s.Namespace + "/" + s.Name
	}

	return string(s.Kind) + ":" + s.Name
}

// Verb is a whole-object operation in an admission request.
type Verb string

const (
	// VerbCreate is the creation of the object.
	VerbCreate Verb = "Create"

	// VerbUpdate is a mutation of an existing object.
	VerbUpdate Verb = "Update"

	// VerbDelete is the deletion of the object.
	VerbDelete Verb = "Delete"
)

// Request is the input to an admission decision. Object is the requested
// new state; OldObject is the stored state (nil on create). Parent, when
// set, is the pre-resolved governing parent and ParentAllowances its
// decoded allowance set; when Parent is nil the engine walks ownership via
// the configured ParentLookup. Raw fields carry the annotation-encoded
// allowance sets and are decoded (with malformed records excluded and
// warned about) when their decoded counterparts are empty.
type Request struct {
	Subject   Subject                    `json:"subject"`
	Verb      Verb                       `json:"verb,omitempty"`
	Object    *unstructured.Unstructured `json:"object"`
	OldObject *unstructured.Unstructured `json:"old_object,omitempty"`

	Parent              *unstructured.Unstructured `json:"parent,omitempty"`
	ParentAllowances    allowance.Set              `json:"parent_allowances,omitempty"`
	ParentAllowancesRaw string                     `json:"parent_allowances_raw,omitempty"`

	ObjectAllowances    allowance.Set `json:"object_allowances,omitempty"`
	ObjectAllowancesRaw string        `json:"object_allowances_raw,omitempty"`

	Fingerprint       string `json:"fingerprint,omitempty"`
	StoredFingerprint string `json:"stored_fingerprint,omitempty"`
}

// Outcome is the admission decision result.
type Outcome string

const (
	// OutcomeAccept means every requested change is justified.
	OutcomeAccept Outcome = "accept"

	// OutcomeReject means at least one requested change is not justified.
	// Admission is all-or-nothing; there is no partial accept.
	OutcomeReject Outcome = "reject"
)

// Decision is the outcome of an admission decision. On accept, Allowances is
// the full set to persist on the mutated object (pruned of consumed entries,
// with newly issued ones appended) and UpdatedFingerprint, when non-empty,
// must be persisted alongside. The engine itself writes nothing.
type Decision struct {
	Outcome            Outcome       `json:"outcome"`
	Reason             string        `json:"reason,omitempty"`
	Phase              Phase         `json:"phase,omitempty"`
	Allowances         allowance.Set `json:"allowances,omitempty"`
	UpdatedFingerprint string        `json:"updated_fingerprint,omitempty"`
	Warnings           []string      `json:"warnings,omitempty"`
	EvalTimeNs         int64         `json:"eval_time_ns"`
}

// Accepted reports whether the decision permits the request.
func (d *Decision) Accepted() bool { return d.Outcome == OutcomeAccept }

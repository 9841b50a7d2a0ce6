// Package policy defines the AllowancePolicy entity: the per-kind document
// declaring which subjects may initiate changes, which phases permit what,
// and which field-triggered rules grant downstream mutation rights.
package policy

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sttts/kausality/id"
	"github.com/sttts/kausality/pathmatch"
)

// Relation classifies what a policy entry's target is.
type Relation string

const (
	// RelationControllerChild targets an owned object of the policed kind.
	RelationControllerChild Relation = "ControllerChild"

	// RelationExternal targets a system outside the object hierarchy.
	RelationExternal Relation = "External"
)

// MutationVerb is a field-level mutation right.
type MutationVerb string

const (
	// MutationInsert permits adding the field.
	MutationInsert MutationVerb = "Insert"

	// MutationDelete permits removing the field.
	MutationDelete MutationVerb = "Delete"

	// MutationMutate permits changing the field's value.
	MutationMutate MutationVerb = "Mutate"
)

// TargetRef names an object kind at the API-group level.
type TargetRef struct {
	APIGroup string `json:"api_group,omitempty" yaml:"apiGroup,omitempty"`
	Kind     string `json:"kind" yaml:"kind"`
}

// Key returns "group/Kind", or just "Kind" for the core group.
func (t TargetRef) Key() string {
	if t.APIGroup == "" {
		return t.Kind
	}

	return t.APIGroup + "/" + t.Kind
}

// IsZero reports whether the reference names nothing.
func (t TargetRef) IsZero() bool { return t.Kind == "" }

// MutationGrant permits a set of mutation verbs on fields matching a
// path pattern.
type MutationGrant struct {
	Path  string         `json:"path" yaml:"path"`
	Verbs []MutationVerb `json:"verbs" yaml:"verbs"`
}

// Entry grants verbs and field-mutation rights toward one target. An entry
// with neither a Target nor an External identifier is inert: it contributes
// nothing to any bound.
type Entry struct {
	Target    TargetRef         `json:"target,omitempty" yaml:"target,omitempty"`
	External  map[string]string `json:"external,omitempty" yaml:"external,omitempty"`
	Relation  Relation          `json:"relation" yaml:"relation"`
	Verbs     []string          `json:"verbs,omitempty" yaml:"verbs,omitempty"`
	Mutations []MutationGrant   `json:"mutations,omitempty" yaml:"mutations,omitempty"`
}

// TargetKey returns the deterministic bound key for this entry's target, or
// "" for an inert entry. External identifier maps render with sorted keys so
// equal maps always produce equal keys.
func (e Entry) TargetKey() string {
	if e.Relation == RelationExternal {
		if len(e.External) == 0 {
			return ""
		}

		keys := make([]string, 0, len(e.External))
		for k := range e.External {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + "=" + e.External[k]
		}

		return "external:" + strings.Join(parts, ",")
	}

	if e.Target.IsZero() {
		return ""
	}

	return e.Target.Key()
}

// Rule triggers on changes to fields matching Trigger, gated by Conditions,
// and contributes Policies to the upper bound. Empty Policies means the
// trigger is explicitly unrestricted. Capture names fields whose values are
// recorded as attestations on the resulting trace hop.
type Rule struct {
	Trigger    string   `json:"trigger" yaml:"trigger"`
	Conditions []string `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Capture    []string `json:"capture,omitempty" yaml:"capture,omitempty"`
	Policies   []Entry  `json:"policies,omitempty" yaml:"policies,omitempty"`
}

// SubjectMatch declares a subject a policy recognizes.
// Kind is a plain string to avoid an import cycle with the root package.
type SubjectMatch struct {
	Kind        string `json:"kind" yaml:"kind"`
	Name        string `json:"name" yaml:"name"`
	Namespace   string `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	MayInitiate bool   `json:"may_initiate,omitempty" yaml:"mayInitiate,omitempty"`
}

// Initializing configures the Initializing phase. When is a predicate
// expression; empty means the default ("observedGeneration is absent").
type Initializing struct {
	When     string  `json:"when,omitempty" yaml:"when,omitempty"`
	Policies []Entry `json:"policies,omitempty" yaml:"policies,omitempty"`
}

// Deleting configures the Deleting phase. Empty Policies applies the
// default: controller children fully mutable, external targets untouchable.
type Deleting struct {
	Policies []Entry `json:"policies,omitempty" yaml:"policies,omitempty"`
}

// AllowancePolicy is the complete policy document for one object kind.
// At most one policy applies per kind within a cluster.
type AllowancePolicy struct {
	ID           id.PolicyID    `json:"id" db:"id"`
	ClusterID    string         `json:"cluster_id" db:"cluster_id"`
	ForKind      TargetRef      `json:"for_kind" db:"-"`
	Subjects     []SubjectMatch `json:"subjects,omitempty" db:"-"`
	Initializing Initializing   `json:"initializing,omitempty" db:"-"`
	Deleting     Deleting       `json:"deleting,omitempty" db:"-"`
	Rules        []Rule         `json:"rules,omitempty" db:"-"`
	Metadata     map[string]any `json:"metadata,omitempty" db:"metadata"`
	CreatedAt    time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at" db:"updated_at"`
}

// Validate checks the structural integrity of the policy document: the
// policed kind is named, every path pattern parses, every entry names a
// target consistent with its relation, and capture paths are concrete.
func (p *AllowancePolicy) Validate() error {
	if p.ForKind.IsZero() {
		return fmt.Errorf("policy: for_kind is required")
	}

	for i, e := range p.Initializing.Policies {
		if err := validateEntry(e); err != nil {
			return fmt.Errorf("policy %s: initializing policy %d: %w", p.ForKind.Key(), i, err)
		}
	}

	for i, e := range p.Deleting.Policies {
		if err := validateEntry(e); err != nil {
			return fmt.Errorf("policy %s: deleting policy %d: %w", p.ForKind.Key(), i, err)
		}
	}

	for i, r := range p.Rules {
		if _, err := pathmatch.ParsePattern(r.Trigger); err != nil {
			return fmt.Errorf("policy %s: rule %d: invalid trigger: %w", p.ForKind.Key(), i, err)
		}

		for _, c := range r.Capture {
			if _, err := pathmatch.ParsePath(c); err != nil {
				return fmt.Errorf("policy %s: rule %d: invalid capture path: %w", p.ForKind.Key(), i, err)
			}
		}

		for j, e := range r.Policies {
			if err := validateEntry(e); err != nil {
				return fmt.Errorf("policy %s: rule %d: policy %d: %w", p.ForKind.Key(), i, j, err)
			}
		}
	}

	return nil
}

func validateEntry(e Entry) error {
	switch e.Relation {
	case RelationControllerChild:
		if len(e.External) > 0 {
			return fmt.Errorf("controller-child entry must not carry an external identifier")
		}
	case RelationExternal:
		if !e.Target.IsZero() {
			return fmt.Errorf("external entry must not carry a kind target")
		}

		if len(e.Mutations) > 0 {
			return fmt.Errorf("mutations apply only to controller-child entries")
		}
	default:
		return fmt.Errorf("unknown relation %q", e.Relation)
	}

	for _, m := range e.Mutations {
		if _, err := pathmatch.ParsePattern(m.Path); err != nil {
			return fmt.Errorf("invalid mutation path: %w", err)
		}

		for _, v := range m.Verbs {
			switch v {
			case MutationInsert, MutationDelete, MutationMutate:
			default:
				return fmt.Errorf("unknown mutation verb %q", v)
			}
		}
	}

	return nil
}

// ListFilter contains filters for listing policies.
type ListFilter struct {
	ClusterID string `json:"cluster_id,omitempty"`
	Kind      string `json:"kind,omitempty"`
	Search    string `json:"search,omitempty"`
	Limit     int    `json:"limit,omitempty"`
	Offset    int    `json:"offset,omitempty"`
}

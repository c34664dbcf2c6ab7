package viz

import "github.com/cockroachdb/errors"

// ErrAmbiguousSchema marks a configuration table that assigns two rules (or
// a rule and a drop) to the same schema identity. Raised at registry
// construction, before any source I/O.
var ErrAmbiguousSchema = errors.New("ambiguous schema configuration")

// PolicyKind is the fate of one schema identity.
type PolicyKind uint8

const (
	// PolicyPassThrough copies schema and payload verbatim.
	PolicyPassThrough PolicyKind = iota
	// PolicyRule applies a registered transformation rule.
	PolicyRule
	// PolicyDrop discards the message.
	PolicyDrop
)

func (kind PolicyKind) String() string {
	switch kind {
	case PolicyRule:
		return "rule"
	case PolicyDrop:
		return "drop"
	default:
		return "pass-through"
	}
}

// Resolution is the outcome of a registry lookup.
type Resolution struct {
	Kind PolicyKind
	// Rule is set when Kind is PolicyRule.
	Rule Rule
}

// Binding assigns a rule to one source schema identity.
type Binding struct {
	Identity Identity
	Rule     Rule
}

// Registry resolves each schema identity to exactly one policy. It is
// immutable after construction and safe to share across concurrent per-file
// pipelines.
type Registry struct {
	rules map[Identity]Rule
	drops map[Identity]bool
}

// NewRegistry builds a registry from a rule table and an explicit drop
// list. Identities absent from both default to pass-through. Assigning two
// policies to one identity fails with ErrAmbiguousSchema.
func NewRegistry(bindings []Binding, drop []Identity) (*Registry, error) {
	registry := &Registry{
		rules: make(map[Identity]Rule, len(bindings)),
		drops: make(map[Identity]bool, len(drop)),
	}

	for _, binding := range bindings {
		if prev, ok := registry.rules[binding.Identity]; ok {
			return nil, errors.Wrapf(ErrAmbiguousSchema, "%s/%s bound to both %s and %s",
				binding.Identity.Name, binding.Identity.Encoding, prev.Name(), binding.Rule.Name())
		}
		registry.rules[binding.Identity] = binding.Rule
	}
	for _, identity := range drop {
		if rule, ok := registry.rules[identity]; ok {
			return nil, errors.Wrapf(ErrAmbiguousSchema, "%s/%s bound to rule %s and marked drop",
				identity.Name, identity.Encoding, rule.Name())
		}
		registry.drops[identity] = true
	}

	return registry, nil
}

// Resolve returns the policy for a schema identity.
func (registry *Registry) Resolve(identity Identity) Resolution {
	if rule, ok := registry.rules[identity]; ok {
		return Resolution{Kind: PolicyRule, Rule: rule}
	}
	if registry.drops[identity] {
		return Resolution{Kind: PolicyDrop}
	}
	return Resolution{Kind: PolicyPassThrough}
}

// DefaultBindings is the built-in rule table of the egosuite recording
// profile.
func DefaultBindings() []Binding {
	return []Binding{
		{Identity: LayoutIdentity("egosuite.ImuRaw"), Rule: &ImuRule{}},
		{Identity: LayoutIdentity("egosuite.CompositeScan"), Rule: &CompositeScanRule{}},
		{Identity: LayoutIdentity("egosuite.PoseFrame"), Rule: &PoseFrameRule{}},
		{Identity: LayoutIdentity("egosuite.AudioBlock"), Rule: &AudioRule{}},
		{Identity: LayoutIdentity("egosuite.AnnotationEvent"), Rule: &AnnotationRule{}},
		{Identity: LayoutIdentity("egosuite.QualityEvent"), Rule: &LowQualityRule{}},
	}
}

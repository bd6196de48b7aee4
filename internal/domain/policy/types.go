// Package policy contains the access-control rule model and the
// resolution engine that turns rules into allow/deny verdicts.
package policy

import (
	"fmt"
	"sort"
	"strings"
)

// Sentinel names recognized by the evaluation algorithm.
const (
	// PrincipalAll matches every identity when present in an allow or deny set.
	PrincipalAll = "ALL"
	// ResourceAny is the wildcard resource whose rule set applies to every
	// resource on its channel. The wildcard tier is evaluated after the
	// resource-specific tier and wins whenever it matches.
	ResourceAny = "ANY"
	// ChannelDefault is the channel used when a request does not name one.
	ChannelDefault = "default"
)

// PrincipalSet is a set of identity tokens.
type PrincipalSet map[string]struct{}

// NewPrincipalSet builds a set from the given members.
func NewPrincipalSet(members ...string) PrincipalSet {
	s := make(PrincipalSet, len(members))
	for _, m := range members {
		s[m] = struct{}{}
	}
	return s
}

// Has reports whether the exact token is a member.
func (s PrincipalSet) Has(principal string) bool {
	_, ok := s[principal]
	return ok
}

// Matches reports whether the identity is covered by this set,
// either directly or through the ALL wildcard.
func (s PrincipalSet) Matches(identity string) bool {
	return s.Has(identity) || s.Has(PrincipalAll)
}

// Add inserts a member.
func (s PrincipalSet) Add(principal string) {
	s[principal] = struct{}{}
}

// Remove deletes a member. Removing an absent member is a no-op.
func (s PrincipalSet) Remove(principal string) {
	delete(s, principal)
}

// Clone returns an independent copy.
func (s PrincipalSet) Clone() PrincipalSet {
	c := make(PrincipalSet, len(s))
	for m := range s {
		c[m] = struct{}{}
	}
	return c
}

// Members returns the set contents sorted lexicographically.
func (s PrincipalSet) Members() []string {
	members := make([]string, 0, len(s))
	for m := range s {
		members = append(members, m)
	}
	sort.Strings(members)
	return members
}

// RuleSet holds the allow and deny principal sets for one
// (channel, resource) pair. Within a rule set deny wins ties:
// an identity present in both sets is denied.
type RuleSet struct {
	Allow PrincipalSet
	Deny  PrincipalSet
}

// NewRuleSet returns a RuleSet with empty allow and deny sets.
func NewRuleSet() RuleSet {
	return RuleSet{
		Allow: make(PrincipalSet),
		Deny:  make(PrincipalSet),
	}
}

// Clone returns an independent copy of the rule set.
func (r RuleSet) Clone() RuleSet {
	return RuleSet{
		Allow: r.Allow.Clone(),
		Deny:  r.Deny.Clone(),
	}
}

// IsEmpty reports whether both sets have no members.
func (r RuleSet) IsEmpty() bool {
	return len(r.Allow) == 0 && len(r.Deny) == 0
}

// Request identifies one inbound interaction to be evaluated.
type Request struct {
	// Identity is the requester's identity token (session or sender id).
	Identity string
	// Resource is the capability the dispatcher wants to invoke.
	Resource string
	// Channel is the communication surface the request arrived on.
	// Empty means ChannelDefault.
	Channel string
}

// Normalize returns a copy of the request with the default channel applied.
func (r Request) Normalize() Request {
	if r.Channel == "" {
		r.Channel = ChannelDefault
	}
	return r
}

// Basis classifies which step of the resolution algorithm produced a verdict.
type Basis string

const (
	// BasisDisabled means enforcement is globally off; every request passes.
	BasisDisabled Basis = "disabled"
	// BasisExempt means the resource is on the exemption list.
	BasisExempt Basis = "exempt"
	// BasisUnknownChannel means the channel has no configuration (fail-closed).
	BasisUnknownChannel Basis = "unknown_channel"
	// BasisRule means at least one rule set matched the identity.
	BasisRule Basis = "rule"
	// BasisDefault means rules exist for the channel but none matched.
	BasisDefault Basis = "default"
)

// Decision is the outcome of evaluating one Request.
type Decision struct {
	// Allowed is the verdict: true permits the interaction.
	Allowed bool
	// Basis classifies which resolution step decided.
	Basis Basis
	// Reason is a human-readable explanation for logs and tooling.
	Reason string
}

// ValidationError reports a malformed administrative input.
// The store is left unchanged when one is returned.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// validateScope rejects malformed channel/resource/principal names. Names
// become JSON object keys and URL path segments, so whitespace and path
// separators are not allowed.
func validateScope(field, value string) error {
	if value == "" {
		return &ValidationError{Field: field, Message: "name must not be empty"}
	}
	if strings.ContainsAny(value, "/\\ \t\n") {
		return &ValidationError{Field: field, Message: "name must not contain whitespace or path separators"}
	}
	return nil
}

package policy

import "fmt"

// Engine resolves requests against the store's current snapshot. It holds no
// state of its own; evaluation is a pure function of (request, snapshot) and
// never writes to the store.
type Engine struct {
	store *Store
}

// NewEngine creates an engine reading from the given store.
func NewEngine(store *Store) *Engine {
	return &Engine{store: store}
}

// Evaluate resolves one request to a verdict.
//
// Resolution order:
//  1. enforcement disabled        -> allow (fail-open, explicit admin choice)
//  2. resource exempt             -> allow (bypasses rule lookup entirely)
//  3. channel unconfigured        -> deny (fail-closed for unknown scopes)
//  4. resource-specific rule set  -> allow-then-deny, deny wins ties
//  5. channel-wide ANY rule set   -> allow-then-deny again; when either of
//     its sets matches, its outcome replaces the specific tier's. The
//     wildcard tier is the blanket switch and has final say; a present but
//     non-matching ANY tier leaves the prior verdict alone.
//
// When no tier matches the verdict stays false.
func (e *Engine) Evaluate(req Request) Decision {
	req = req.Normalize()
	snap := e.store.Snapshot()

	if !snap.Enabled() {
		return Decision{Allowed: true, Basis: BasisDisabled, Reason: "enforcement disabled"}
	}
	if snap.IsExempt(req.Resource) {
		return Decision{Allowed: true, Basis: BasisExempt, Reason: fmt.Sprintf("resource %q is exempt", req.Resource)}
	}
	if !snap.HasChannel(req.Channel) {
		return Decision{Allowed: false, Basis: BasisUnknownChannel, Reason: fmt.Sprintf("channel %q has no configuration", req.Channel)}
	}

	verdict := false
	matched := false
	tier := ""

	apply := func(rs RuleSet, name string) {
		if rs.Allow.Matches(req.Identity) {
			verdict = true
			matched = true
			tier = name
		}
		if rs.Deny.Matches(req.Identity) {
			verdict = false
			matched = true
			tier = name
		}
	}

	if rs, ok := snap.Rule(req.Channel, req.Resource); ok {
		apply(rs, req.Resource)
	}
	// Wildcard tier last. Skipped when the request names ANY itself, since
	// that rule set was already applied above.
	if req.Resource != ResourceAny {
		if rs, ok := snap.Rule(req.Channel, ResourceAny); ok {
			apply(rs, ResourceAny)
		}
	}

	if !matched {
		return Decision{Allowed: false, Basis: BasisDefault, Reason: "no rule matched"}
	}
	action := "denied"
	if verdict {
		action = "allowed"
	}
	return Decision{
		Allowed: verdict,
		Basis:   BasisRule,
		Reason:  fmt.Sprintf("%s by %q rules on channel %q", action, tier, req.Channel),
	}
}

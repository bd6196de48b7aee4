package policy

import (
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// Snapshot is an immutable view of the rule configuration. Evaluations read
// one snapshot for their whole run, so a concurrent mutation can never expose
// a half-updated rule set.
type Snapshot struct {
	enabled    bool
	channels   map[string]map[string]RuleSet
	exemptions map[string]struct{}
}

// Enabled reports whether enforcement is on.
func (s *Snapshot) Enabled() bool { return s.enabled }

// Rule returns the rule set for (channel, resource). The second return is
// false when no such rule set is configured; absence is a normal case.
func (s *Snapshot) Rule(channel, resource string) (RuleSet, bool) {
	resources, ok := s.channels[channel]
	if !ok {
		return RuleSet{}, false
	}
	rs, ok := resources[resource]
	return rs, ok
}

// HasChannel reports whether the channel has any configuration.
func (s *Snapshot) HasChannel(channel string) bool {
	_, ok := s.channels[channel]
	return ok
}

// IsExempt reports whether the resource bypasses rule evaluation.
func (s *Snapshot) IsExempt(resource string) bool {
	_, ok := s.exemptions[resource]
	return ok
}

// Config is the deep-copied, display/persistence-friendly form of the rule
// configuration. Allow and deny slices are sorted so marshaling a Config is
// deterministic.
type Config struct {
	Enabled    bool                             `json:"enabled"`
	Exemptions []string                         `json:"exemptions"`
	Channels   map[string]map[string]RuleConfig `json:"channels"`
}

// RuleConfig is one rule set in Config form.
type RuleConfig struct {
	Allow []string `json:"allow"`
	Deny  []string `json:"deny"`
}

// Store owns the mutable rule configuration. Reads go through an atomically
// swapped snapshot, so Evaluate never blocks on a writer; mutations clone the
// current snapshot, apply the change, and publish the clone.
type Store struct {
	mu   sync.Mutex // serializes mutations
	snap atomic.Pointer[Snapshot]
}

// NewStore creates an empty, enabled store.
func NewStore() *Store {
	s := &Store{}
	s.snap.Store(&Snapshot{
		enabled:    true,
		channels:   map[string]map[string]RuleSet{},
		exemptions: map[string]struct{}{},
	})
	return s
}

// NewStoreWithDefaults creates a store seeded with ANY allow={ALL}, deny={}
// on each given channel, the configuration a fresh agent starts with.
func NewStoreWithDefaults(channels ...string) *Store {
	s := NewStore()
	for _, ch := range channels {
		_ = s.SetAllow(ch, ResourceAny, PrincipalAll)
	}
	return s
}

// Snapshot returns the current immutable view.
func (s *Store) Snapshot() *Snapshot {
	return s.snap.Load()
}

// GetRule is a convenience lookup against the current snapshot.
func (s *Store) GetRule(channel, resource string) (RuleSet, bool) {
	return s.Snapshot().Rule(channel, resource)
}

// HasChannel reports whether the channel is configured.
func (s *Store) HasChannel(channel string) bool {
	return s.Snapshot().HasChannel(channel)
}

// IsEnabled reports whether enforcement is on.
func (s *Store) IsEnabled() bool {
	return s.Snapshot().Enabled()
}

// IsExempt reports whether the resource bypasses evaluation.
func (s *Store) IsExempt(resource string) bool {
	return s.Snapshot().IsExempt(resource)
}

// SetAllow adds a principal to the allow set for (channel, resource),
// creating the channel and resource entries on demand.
func (s *Store) SetAllow(channel, resource, principal string) error {
	return s.mutateRule(channel, resource, principal, func(rs RuleSet, p string) {
		rs.Allow.Add(p)
	})
}

// ClearAllow removes a principal from the allow set. Clearing an absent
// principal is a no-op; the rule set entry stays.
func (s *Store) ClearAllow(channel, resource, principal string) error {
	return s.mutateRule(channel, resource, principal, func(rs RuleSet, p string) {
		rs.Allow.Remove(p)
	})
}

// SetDeny adds a principal to the deny set for (channel, resource).
func (s *Store) SetDeny(channel, resource, principal string) error {
	return s.mutateRule(channel, resource, principal, func(rs RuleSet, p string) {
		rs.Deny.Add(p)
	})
}

// ClearDeny removes a principal from the deny set.
func (s *Store) ClearDeny(channel, resource, principal string) error {
	return s.mutateRule(channel, resource, principal, func(rs RuleSet, p string) {
		rs.Deny.Remove(p)
	})
}

// SetEnabled flips the global enforcement flag.
func (s *Store) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.cloneLocked()
	next.enabled = enabled
	s.snap.Store(next)
}

// AddExemption marks a resource as always allowed.
func (s *Store) AddExemption(resource string) error {
	if err := validateScope("resource", resource); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.cloneLocked()
	next.exemptions[resource] = struct{}{}
	s.snap.Store(next)
	return nil
}

// RemoveExemption takes a resource off the exemption list.
func (s *Store) RemoveExemption(resource string) error {
	if err := validateScope("resource", resource); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.cloneLocked()
	delete(next.exemptions, resource)
	s.snap.Store(next)
	return nil
}

// ReplaceAll swaps the entire configuration in one publish. Used when a
// persisted document is (re)loaded.
func (s *Store) ReplaceAll(cfg Config) error {
	next := &Snapshot{
		enabled:    cfg.Enabled,
		channels:   make(map[string]map[string]RuleSet, len(cfg.Channels)),
		exemptions: make(map[string]struct{}, len(cfg.Exemptions)),
	}
	for channel, resources := range cfg.Channels {
		if err := validateScope("channel", channel); err != nil {
			return err
		}
		next.channels[channel] = make(map[string]RuleSet, len(resources))
		for resource, rc := range resources {
			if err := validateScope("resource", resource); err != nil {
				return err
			}
			next.channels[channel][resource] = RuleSet{
				Allow: NewPrincipalSet(rc.Allow...),
				Deny:  NewPrincipalSet(rc.Deny...),
			}
		}
	}
	for _, resource := range cfg.Exemptions {
		if err := validateScope("resource", resource); err != nil {
			return err
		}
		next.exemptions[resource] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Store(next)
	return nil
}

// Dump returns a deep copy of the full configuration for display, editing,
// and persistence.
func (s *Store) Dump() Config {
	snap := s.Snapshot()
	cfg := Config{
		Enabled:    snap.enabled,
		Exemptions: make([]string, 0, len(snap.exemptions)),
		Channels:   make(map[string]map[string]RuleConfig, len(snap.channels)),
	}
	for resource := range snap.exemptions {
		cfg.Exemptions = append(cfg.Exemptions, resource)
	}
	sort.Strings(cfg.Exemptions)
	for channel, resources := range snap.channels {
		cfg.Channels[channel] = make(map[string]RuleConfig, len(resources))
		for resource, rs := range resources {
			cfg.Channels[channel][resource] = RuleConfig{
				Allow: rs.Allow.Members(),
				Deny:  rs.Deny.Members(),
			}
		}
	}
	return cfg
}

// Revision is a fingerprint of the current configuration. Two stores with
// the same rules, flag, and exemptions produce the same revision.
func (s *Store) Revision() uint64 {
	data, err := json.Marshal(s.Dump())
	if err != nil {
		// Config marshals only maps, slices, strings, and bools.
		return 0
	}
	return xxhash.Sum64(data)
}

// mutateRule applies fn to a cloned rule set for (channel, resource) and
// publishes the new snapshot.
func (s *Store) mutateRule(channel, resource, principal string, fn func(RuleSet, string)) error {
	if err := validateScope("channel", channel); err != nil {
		return err
	}
	if err := validateScope("resource", resource); err != nil {
		return err
	}
	if err := validateScope("principal", principal); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cloneLocked()
	resources, ok := next.channels[channel]
	if !ok {
		resources = make(map[string]RuleSet)
		next.channels[channel] = resources
	}
	rs, ok := resources[resource]
	if !ok {
		rs = NewRuleSet()
	}
	fn(rs, principal)
	resources[resource] = rs

	s.snap.Store(next)
	return nil
}

// cloneLocked deep-copies the current snapshot. Callers hold s.mu.
func (s *Store) cloneLocked() *Snapshot {
	cur := s.snap.Load()
	next := &Snapshot{
		enabled:    cur.enabled,
		channels:   make(map[string]map[string]RuleSet, len(cur.channels)),
		exemptions: make(map[string]struct{}, len(cur.exemptions)),
	}
	for channel, resources := range cur.channels {
		next.channels[channel] = make(map[string]RuleSet, len(resources))
		for resource, rs := range resources {
			next.channels[channel][resource] = rs.Clone()
		}
	}
	for resource := range cur.exemptions {
		next.exemptions[resource] = struct{}{}
	}
	return next
}

// Package state persists the rule configuration as a JSON document.
//
// The document is the agent's persisted policy configuration: nested
// channel -> resource -> {allow, deny} rules plus the enforcement flag and
// the exemption list. It is loaded at start and written back on every
// administrative change. Writes are atomic (write-tmp, fsync, rename) with
// a backup and both in-process and cross-process locking.
package state

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/actiongate/actiongate/internal/domain/policy"
)

// DocumentVersion is the current schema version.
const DocumentVersion = "1"

// Document is the top-level structure persisted on disk.
//
// Rules nest under "channels" so channel names can never collide with the
// sibling flags. The exemption list keeps its historical "exceptions" key.
type Document struct {
	// Version is the schema version for forward compatibility.
	Version string `json:"version" yaml:"version"`

	// Enabled is the global enforcement flag. False means fail-open.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Exceptions lists resources that always evaluate to allowed.
	Exceptions []string `json:"exceptions" yaml:"exceptions"`

	// Channels maps channel -> resource -> rule sets.
	Channels map[string]map[string]RuleDocument `json:"channels" yaml:"channels"`

	// CreatedAt is when this document was first created.
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`

	// UpdatedAt is when this document was last written.
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// RuleDocument is the persisted form of one rule set.
type RuleDocument struct {
	Allow []string `json:"allow" yaml:"allow"`
	Deny  []string `json:"deny" yaml:"deny"`
}

// DefaultDocument returns the seed configuration for a fresh install:
// each given channel gets an ANY rule set with allow={ALL}, deny={}.
func DefaultDocument(channels ...string) *Document {
	now := time.Now().UTC()
	doc := &Document{
		Version:    DocumentVersion,
		Enabled:    true,
		Exceptions: []string{},
		Channels:   make(map[string]map[string]RuleDocument, len(channels)),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for _, ch := range channels {
		doc.Channels[ch] = map[string]RuleDocument{
			policy.ResourceAny: {
				Allow: []string{policy.PrincipalAll},
				Deny:  []string{},
			},
		}
	}
	return doc
}

// Config converts the document into the policy exchange form.
func (d *Document) Config() policy.Config {
	cfg := policy.Config{
		Enabled:    d.Enabled,
		Exemptions: append([]string(nil), d.Exceptions...),
		Channels:   make(map[string]map[string]policy.RuleConfig, len(d.Channels)),
	}
	if cfg.Exemptions == nil {
		cfg.Exemptions = []string{}
	}
	for channel, resources := range d.Channels {
		cfg.Channels[channel] = make(map[string]policy.RuleConfig, len(resources))
		for resource, rd := range resources {
			cfg.Channels[channel][resource] = policy.RuleConfig{
				Allow: append([]string(nil), rd.Allow...),
				Deny:  append([]string(nil), rd.Deny...),
			}
		}
	}
	return cfg
}

// FromConfig builds a document from the policy exchange form. CreatedAt is
// zero; the store fills timestamps on save and Load preserves the original
// CreatedAt when overwriting an existing document.
func FromConfig(cfg policy.Config) *Document {
	doc := &Document{
		Version:    DocumentVersion,
		Enabled:    cfg.Enabled,
		Exceptions: append([]string(nil), cfg.Exemptions...),
		Channels:   make(map[string]map[string]RuleDocument, len(cfg.Channels)),
	}
	if doc.Exceptions == nil {
		doc.Exceptions = []string{}
	}
	for channel, resources := range cfg.Channels {
		doc.Channels[channel] = make(map[string]RuleDocument, len(resources))
		for resource, rc := range resources {
			allow := append([]string(nil), rc.Allow...)
			deny := append([]string(nil), rc.Deny...)
			if allow == nil {
				allow = []string{}
			}
			if deny == nil {
				deny = []string{}
			}
			doc.Channels[channel][resource] = RuleDocument{Allow: allow, Deny: deny}
		}
	}
	return doc
}

// Revision fingerprints the rule content of the document. Timestamps are
// excluded and member lists are sorted first, so two documents with the
// same rules always share a revision regardless of array order on disk.
func (d *Document) Revision() uint64 {
	channels := make(map[string]map[string]RuleDocument, len(d.Channels))
	for channel, resources := range d.Channels {
		channels[channel] = make(map[string]RuleDocument, len(resources))
		for resource, rd := range resources {
			channels[channel][resource] = RuleDocument{
				Allow: sortedCopy(rd.Allow),
				Deny:  sortedCopy(rd.Deny),
			}
		}
	}
	shadow := struct {
		Version    string                             `json:"version"`
		Enabled    bool                               `json:"enabled"`
		Exceptions []string                           `json:"exceptions"`
		Channels   map[string]map[string]RuleDocument `json:"channels"`
	}{d.Version, d.Enabled, sortedCopy(d.Exceptions), channels}
	data, err := json.Marshal(shadow)
	if err != nil {
		return 0
	}
	return xxhash.Sum64(data)
}

func sortedCopy(in []string) []string {
	out := append([]string{}, in...)
	sort.Strings(out)
	return out
}

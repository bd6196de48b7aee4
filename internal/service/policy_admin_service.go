// Package service contains application services.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/actiongate/actiongate/internal/adapter/outbound/state"
	"github.com/actiongate/actiongate/internal/domain/policy"
)

// PolicyAdminService is the mutation facade used by configuration tooling.
// Every call validates its input, applies the change to the in-memory store,
// and persists the full document. Mutations are synchronous: when a call
// returns, subsequent evaluations see the change.
type PolicyAdminService struct {
	store  *policy.Store
	docs   *state.FileDocumentStore
	logger *slog.Logger
	tracer trace.Tracer
	mu     sync.Mutex // serializes mutate-then-persist sequences
}

// NewPolicyAdminService creates a new PolicyAdminService.
func NewPolicyAdminService(store *policy.Store, docs *state.FileDocumentStore, logger *slog.Logger) *PolicyAdminService {
	return &PolicyAdminService{
		store:  store,
		docs:   docs,
		logger: logger,
		tracer: otel.Tracer("actiongate/admin"),
	}
}

// SetAllow adds a principal to the allow set for (channel, resource).
func (s *PolicyAdminService) SetAllow(ctx context.Context, channel, resource, principal string) error {
	return s.mutate(ctx, "set_allow", channel, resource, principal, func() error {
		return s.store.SetAllow(channel, resource, principal)
	})
}

// ClearAllow removes a principal from the allow set.
func (s *PolicyAdminService) ClearAllow(ctx context.Context, channel, resource, principal string) error {
	return s.mutate(ctx, "clear_allow", channel, resource, principal, func() error {
		return s.store.ClearAllow(channel, resource, principal)
	})
}

// SetDeny adds a principal to the deny set for (channel, resource).
func (s *PolicyAdminService) SetDeny(ctx context.Context, channel, resource, principal string) error {
	return s.mutate(ctx, "set_deny", channel, resource, principal, func() error {
		return s.store.SetDeny(channel, resource, principal)
	})
}

// ClearDeny removes a principal from the deny set.
func (s *PolicyAdminService) ClearDeny(ctx context.Context, channel, resource, principal string) error {
	return s.mutate(ctx, "clear_deny", channel, resource, principal, func() error {
		return s.store.ClearDeny(channel, resource, principal)
	})
}

// SetEnabled flips the global enforcement flag.
func (s *PolicyAdminService) SetEnabled(ctx context.Context, enabled bool) error {
	return s.mutate(ctx, "set_enabled", "", "", "", func() error {
		s.store.SetEnabled(enabled)
		return nil
	})
}

// AddExemption marks a resource as always allowed.
func (s *PolicyAdminService) AddExemption(ctx context.Context, resource string) error {
	return s.mutate(ctx, "add_exemption", "", resource, "", func() error {
		return s.store.AddExemption(resource)
	})
}

// RemoveExemption takes a resource off the exemption list.
func (s *PolicyAdminService) RemoveExemption(ctx context.Context, resource string) error {
	return s.mutate(ctx, "remove_exemption", "", resource, "", func() error {
		return s.store.RemoveExemption(resource)
	})
}

// Dump returns a deep copy of the full configuration and its revision for
// display and editing.
func (s *PolicyAdminService) Dump(ctx context.Context) (policy.Config, uint64) {
	_ = ctx
	return s.store.Dump(), s.store.Revision()
}

// IsEnabled reports the current enforcement flag.
func (s *PolicyAdminService) IsEnabled() bool {
	return s.store.IsEnabled()
}

// ApplyDocument replaces the in-memory configuration with a freshly loaded
// document. Used by the document watcher after an external edit; the file
// already holds the content, so nothing is persisted.
func (s *PolicyAdminService) ApplyDocument(doc *state.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.ReplaceAll(doc.Config()); err != nil {
		return fmt.Errorf("apply reloaded document: %w", err)
	}
	s.logger.Info("policy configuration replaced from document",
		"revision", s.store.Revision(), "channels", len(doc.Channels))
	return nil
}

// mutate runs one admin operation under the service mutex: span, store
// mutation, document persist, log.
func (s *PolicyAdminService) mutate(ctx context.Context, op, channel, resource, principal string, apply func() error) error {
	_, span := s.tracer.Start(ctx, "policy.admin."+op,
		trace.WithAttributes(
			attribute.String("policy.channel", channel),
			attribute.String("policy.resource", resource),
		))
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := apply(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if err := s.persist(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("failed to persist policy document", "op", op, "error", err)
		return fmt.Errorf("persist policy document: %w", err)
	}

	s.logger.Info("policy mutated",
		"op", op,
		"channel", channel,
		"resource", resource,
		"principal", principal,
		"revision", s.store.Revision(),
	)
	return nil
}

// persist writes the current configuration back to disk. Callers hold s.mu.
func (s *PolicyAdminService) persist() error {
	if s.docs == nil {
		return nil // in-memory mode (tests, one-shot CLI)
	}
	return s.docs.Save(state.FromConfig(s.store.Dump()))
}

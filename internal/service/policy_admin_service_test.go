package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/actiongate/actiongate/internal/adapter/outbound/state"
	"github.com/actiongate/actiongate/internal/domain/policy"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func adminFixture(t *testing.T) (*PolicyAdminService, *policy.Store, *state.FileDocumentStore) {
	t.Helper()
	store := policy.NewStoreWithDefaults("default", "whatsapp")
	docs := state.NewFileDocumentStore(
		filepath.Join(t.TempDir(), "policies.json"),
		[]string{"default", "whatsapp"},
		testLogger(),
	)
	return NewPolicyAdminService(store, docs, testLogger()), store, docs
}

func TestAdmin_MutationsVisibleToEvaluations(t *testing.T) {
	svc, store, _ := adminFixture(t)
	engine := policy.NewEngine(store)
	ctx := context.Background()

	if err := svc.SetDeny(ctx, "whatsapp", "ANY", "user123"); err != nil {
		t.Fatalf("SetDeny: %v", err)
	}
	d := engine.Evaluate(policy.Request{Identity: "user123", Resource: "send_message", Channel: "whatsapp"})
	if d.Allowed {
		t.Error("deny should be visible immediately after the admin call returns")
	}

	if err := svc.ClearDeny(ctx, "whatsapp", "ANY", "user123"); err != nil {
		t.Fatalf("ClearDeny: %v", err)
	}
	d = engine.Evaluate(policy.Request{Identity: "user123", Resource: "send_message", Channel: "whatsapp"})
	if !d.Allowed {
		t.Error("clear should restore the seeded allow")
	}
}

func TestAdmin_MutationsPersistToDocument(t *testing.T) {
	svc, store, docs := adminFixture(t)
	ctx := context.Background()

	if err := svc.SetAllow(ctx, "whatsapp", "send_message", "user123"); err != nil {
		t.Fatalf("SetAllow: %v", err)
	}
	if err := svc.AddExemption(ctx, "health_check"); err != nil {
		t.Fatalf("AddExemption: %v", err)
	}
	if err := svc.SetEnabled(ctx, false); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}

	doc, err := docs.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if doc.Enabled {
		t.Error("enabled flag not persisted")
	}
	rd, ok := doc.Channels["whatsapp"]["send_message"]
	if !ok {
		t.Fatal("allow rule not persisted")
	}
	if len(rd.Allow) != 1 || rd.Allow[0] != "user123" {
		t.Errorf("persisted allow = %v", rd.Allow)
	}
	if len(doc.Exceptions) != 1 || doc.Exceptions[0] != "health_check" {
		t.Errorf("persisted exceptions = %v", doc.Exceptions)
	}

	// The persisted document restores the exact same configuration.
	restored := policy.NewStore()
	if err := restored.ReplaceAll(doc.Config()); err != nil {
		t.Fatalf("ReplaceAll: %v", err)
	}
	if restored.Revision() != store.Revision() {
		t.Error("restored configuration differs from the live store")
	}
}

func TestAdmin_ValidationErrorLeavesStoreAndDiskUntouched(t *testing.T) {
	svc, store, docs := adminFixture(t)
	ctx := context.Background()
	before := store.Revision()

	err := svc.SetAllow(ctx, "", "send_message", "user123")
	var verr *policy.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("got %v, want *policy.ValidationError", err)
	}
	if store.Revision() != before {
		t.Error("store mutated despite validation error")
	}
	if docs.Exists() {
		t.Error("validation error should not persist anything")
	}
}

func TestAdmin_ExemptionLifecycle(t *testing.T) {
	svc, store, _ := adminFixture(t)
	ctx := context.Background()

	if err := svc.AddExemption(ctx, "health_check"); err != nil {
		t.Fatalf("AddExemption: %v", err)
	}
	if !store.IsExempt("health_check") {
		t.Error("exemption not applied")
	}
	if err := svc.RemoveExemption(ctx, "health_check"); err != nil {
		t.Fatalf("RemoveExemption: %v", err)
	}
	if store.IsExempt("health_check") {
		t.Error("exemption not removed")
	}
}

func TestAdmin_DumpMatchesStore(t *testing.T) {
	svc, store, _ := adminFixture(t)
	ctx := context.Background()

	if err := svc.SetDeny(ctx, "default", "transcribe", "user123"); err != nil {
		t.Fatalf("SetDeny: %v", err)
	}

	cfg, rev := svc.Dump(ctx)
	if rev != store.Revision() {
		t.Errorf("Dump revision %d != store revision %d", rev, store.Revision())
	}
	rc, ok := cfg.Channels["default"]["transcribe"]
	if !ok || len(rc.Deny) != 1 || rc.Deny[0] != "user123" {
		t.Errorf("dumped rule = %+v", rc)
	}
}

func TestAdmin_ApplyDocumentReplacesConfiguration(t *testing.T) {
	svc, store, _ := adminFixture(t)

	doc := state.DefaultDocument("telegram")
	doc.Enabled = false
	if err := svc.ApplyDocument(doc); err != nil {
		t.Fatalf("ApplyDocument: %v", err)
	}

	if store.IsEnabled() {
		t.Error("enabled flag not replaced")
	}
	if !store.HasChannel("telegram") {
		t.Error("new channel missing after reload")
	}
	if store.HasChannel("whatsapp") {
		t.Error("old channel survived a full replace")
	}
}

func TestAdmin_NilDocumentStoreSkipsPersistence(t *testing.T) {
	store := policy.NewStoreWithDefaults("default")
	svc := NewPolicyAdminService(store, nil, testLogger())

	if err := svc.SetAllow(context.Background(), "default", "send_message", "user123"); err != nil {
		t.Fatalf("SetAllow without document store: %v", err)
	}
}

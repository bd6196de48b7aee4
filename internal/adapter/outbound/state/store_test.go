package state

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/actiongate/actiongate/internal/domain/policy"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testStore(t *testing.T) *FileDocumentStore {
	t.Helper()
	return NewFileDocumentStore(
		filepath.Join(t.TempDir(), "policies.json"),
		[]string{"default", "whatsapp"},
		testLogger(),
	)
}

// ---------------------------------------------------------------------------
// DefaultDocument tests
// ---------------------------------------------------------------------------

func TestDefaultDocument_SeedsWildcardAllowAll(t *testing.T) {
	doc := DefaultDocument("default", "whatsapp")

	if doc.Version != DocumentVersion {
		t.Errorf("Version = %q, want %q", doc.Version, DocumentVersion)
	}
	if !doc.Enabled {
		t.Error("seed document should be enabled")
	}
	if len(doc.Exceptions) != 0 {
		t.Errorf("seed document should have no exceptions, got %v", doc.Exceptions)
	}
	for _, ch := range []string{"default", "whatsapp"} {
		resources, ok := doc.Channels[ch]
		if !ok {
			t.Fatalf("channel %q missing from seed document", ch)
		}
		rd, ok := resources[policy.ResourceAny]
		if !ok {
			t.Fatalf("channel %q missing ANY rule set", ch)
		}
		if len(rd.Allow) != 1 || rd.Allow[0] != policy.PrincipalAll {
			t.Errorf("channel %q ANY allow = %v, want [ALL]", ch, rd.Allow)
		}
		if len(rd.Deny) != 0 {
			t.Errorf("channel %q ANY deny = %v, want empty", ch, rd.Deny)
		}
	}
	if doc.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}
}

// ---------------------------------------------------------------------------
// Load tests
// ---------------------------------------------------------------------------

func TestLoad_NoFile_ReturnsSeedDocument(t *testing.T) {
	s := testStore(t)

	doc, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := doc.Channels["whatsapp"]; !ok {
		t.Error("seed document missing whatsapp channel")
	}
}

func TestLoad_InvalidJSON_ReturnsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policies.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}
	s := NewFileDocumentStore(path, nil, testLogger())

	if _, err := s.Load(); err == nil {
		t.Error("expected parse error for invalid JSON")
	}
}

func TestLoad_NilCollectionsNormalized(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policies.json")
	if err := os.WriteFile(path, []byte(`{"version":"1","enabled":true}`), 0600); err != nil {
		t.Fatal(err)
	}
	s := NewFileDocumentStore(path, nil, testLogger())

	doc, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if doc.Channels == nil {
		t.Error("Channels should be normalized to an empty map")
	}
	if doc.Exceptions == nil {
		t.Error("Exceptions should be normalized to an empty slice")
	}
}

// ---------------------------------------------------------------------------
// Save tests
// ---------------------------------------------------------------------------

func TestSaveLoad_RoundTrip(t *testing.T) {
	s := testStore(t)
	doc := DefaultDocument("default", "whatsapp")
	doc.Channels["whatsapp"]["send_message"] = RuleDocument{
		Allow: []string{"user123"},
		Deny:  []string{"user456"},
	}
	doc.Exceptions = []string{"health_check"}
	doc.Enabled = false

	if err := s.Save(doc); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Revision() != doc.Revision() {
		t.Error("revision changed across save/load")
	}
	if loaded.Enabled {
		t.Error("enabled flag lost")
	}
	if len(loaded.Exceptions) != 1 || loaded.Exceptions[0] != "health_check" {
		t.Errorf("Exceptions = %v", loaded.Exceptions)
	}
	rd := loaded.Channels["whatsapp"]["send_message"]
	if len(rd.Allow) != 1 || rd.Allow[0] != "user123" {
		t.Errorf("allow = %v", rd.Allow)
	}
}

func TestSave_WritesIndentedJSONWithTrailingNewline(t *testing.T) {
	s := testStore(t)
	if err := s.Save(DefaultDocument("default")); err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatal(err)
	}
	if data[len(data)-1] != '\n' {
		t.Error("document should end with a newline")
	}
	var parsed map[string]any
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("written document is not valid JSON: %v", err)
	}
	if _, ok := parsed["channels"]; !ok {
		t.Error("channels key missing from written document")
	}
	if _, ok := parsed["exceptions"]; !ok {
		t.Error("exceptions key missing from written document")
	}
}

func TestSave_SetsPrivatePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permission bits")
	}
	s := testStore(t)
	if err := s.Save(DefaultDocument("default")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	info, err := os.Stat(s.Path())
	if err != nil {
		t.Fatal(err)
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		t.Errorf("mode = %04o, want 0600", mode)
	}
}

func TestSave_CreatesBackupOfPreviousFile(t *testing.T) {
	s := testStore(t)
	first := DefaultDocument("default")
	if err := s.Save(first); err != nil {
		t.Fatalf("first Save: %v", err)
	}

	second := DefaultDocument("default")
	second.Channels["default"]["send_message"] = RuleDocument{Allow: []string{"user123"}, Deny: []string{}}
	if err := s.Save(second); err != nil {
		t.Fatalf("second Save: %v", err)
	}

	bak, err := os.ReadFile(s.Path() + ".bak")
	if err != nil {
		t.Fatalf("backup missing: %v", err)
	}
	var doc Document
	if err := json.Unmarshal(bak, &doc); err != nil {
		t.Fatalf("backup is not valid JSON: %v", err)
	}
	if doc.Revision() != first.Revision() {
		t.Error("backup should hold the previous document")
	}
}

func TestSave_SkipsIdenticalContent(t *testing.T) {
	s := testStore(t)
	doc := DefaultDocument("default")
	if err := s.Save(doc); err != nil {
		t.Fatalf("Save: %v", err)
	}
	info1, err := os.Stat(s.Path())
	if err != nil {
		t.Fatal(err)
	}

	// Saving an identical document must not rewrite the file.
	again := DefaultDocument("default")
	again.CreatedAt = doc.CreatedAt
	if err := s.Save(again); err != nil {
		t.Fatalf("second Save: %v", err)
	}
	info2, err := os.Stat(s.Path())
	if err != nil {
		t.Fatal(err)
	}
	if !info1.ModTime().Equal(info2.ModTime()) {
		t.Error("identical save rewrote the document")
	}
}

func TestSave_NoTempFileLeftBehind(t *testing.T) {
	s := testStore(t)
	if err := s.Save(DefaultDocument("default")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(s.Path() + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind after save")
	}
}

// ---------------------------------------------------------------------------
// Document conversion tests
// ---------------------------------------------------------------------------

func TestDocument_ConfigRoundTrip(t *testing.T) {
	ps := policy.NewStoreWithDefaults("default", "whatsapp")
	if err := ps.SetDeny("whatsapp", "ANY", "user123"); err != nil {
		t.Fatal(err)
	}
	if err := ps.AddExemption("health_check"); err != nil {
		t.Fatal(err)
	}

	doc := FromConfig(ps.Dump())
	restored := policy.NewStore()
	if err := restored.ReplaceAll(doc.Config()); err != nil {
		t.Fatalf("ReplaceAll: %v", err)
	}

	if restored.Revision() != ps.Revision() {
		t.Error("store revision changed across document conversion")
	}
}

func TestDocument_RevisionIgnoresTimestampsAndOrder(t *testing.T) {
	a := DefaultDocument("default")
	b := DefaultDocument("default")
	b.UpdatedAt = b.UpdatedAt.Add(1000)
	if a.Revision() != b.Revision() {
		t.Error("timestamps should not affect the revision")
	}

	a.Channels["default"]["send_message"] = RuleDocument{Allow: []string{"b", "a"}, Deny: []string{}}
	b.Channels["default"]["send_message"] = RuleDocument{Allow: []string{"a", "b"}, Deny: []string{}}
	if a.Revision() != b.Revision() {
		t.Error("member order should not affect the revision")
	}

	b.Enabled = false
	if a.Revision() == b.Revision() {
		t.Error("the enabled flag must affect the revision")
	}
}

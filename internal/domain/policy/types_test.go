package policy

import (
	"reflect"
	"testing"
)

func TestPrincipalSet_Matches(t *testing.T) {
	tests := []struct {
		name     string
		members  []string
		identity string
		want     bool
	}{
		{"direct member", []string{"user123"}, "user123", true},
		{"non-member", []string{"user123"}, "user456", false},
		{"ALL wildcard", []string{"ALL"}, "anyone", true},
		{"empty set", nil, "user123", false},
		{"identity literally named ALL", []string{"ALL"}, "ALL", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewPrincipalSet(tt.members...).Matches(tt.identity); got != tt.want {
				t.Errorf("Matches(%q) = %v, want %v", tt.identity, got, tt.want)
			}
		})
	}
}

func TestPrincipalSet_MembersSorted(t *testing.T) {
	s := NewPrincipalSet("charlie", "alice", "bob")
	want := []string{"alice", "bob", "charlie"}
	if got := s.Members(); !reflect.DeepEqual(got, want) {
		t.Errorf("Members() = %v, want %v", got, want)
	}
}

func TestPrincipalSet_CloneIsIndependent(t *testing.T) {
	orig := NewPrincipalSet("user123")
	clone := orig.Clone()
	clone.Add("user456")
	if orig.Has("user456") {
		t.Error("Clone shares storage with the original")
	}
}

func TestRequest_Normalize(t *testing.T) {
	r := Request{Identity: "user123", Resource: "send_message"}.Normalize()
	if r.Channel != ChannelDefault {
		t.Errorf("Channel = %q, want %q", r.Channel, ChannelDefault)
	}

	r = Request{Identity: "user123", Resource: "send_message", Channel: "whatsapp"}.Normalize()
	if r.Channel != "whatsapp" {
		t.Errorf("Normalize overwrote an explicit channel: %q", r.Channel)
	}
}

func TestValidationError_Message(t *testing.T) {
	err := &ValidationError{Field: "channel", Message: "name must not be empty"}
	want := "invalid channel: name must not be empty"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

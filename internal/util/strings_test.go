package util

import (
	"reflect"
	"testing"
)

func TestSafeTruncate(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{name: "string shorter than maxLen", input: "short", maxLen: 10, want: "short"},
		{name: "string equal to maxLen", input: "exactly10c", maxLen: 10, want: "exactly10c"},
		{name: "string longer than maxLen", input: "this-is-a-very-long-code-string", maxLen: 8, want: "this-is-"},
		{name: "empty string", input: "", maxLen: 5, want: ""},
		{name: "maxLen is zero", input: "test", maxLen: 0, want: ""},
		{name: "negative maxLen", input: "test", maxLen: -1, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SafeTruncate(tt.input, tt.maxLen); got != tt.want {
				t.Errorf("SafeTruncate(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.want)
			}
		})
	}
}

func TestSplitScopes(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{name: "empty", input: "", want: nil},
		{name: "only spaces", input: "   ", want: nil},
		{name: "single", input: "openid", want: []string{"openid"}},
		{name: "multiple", input: "openid profile email", want: []string{"openid", "profile", "email"}},
		{name: "repeated spaces", input: " openid   profile ", want: []string{"openid", "profile"}},
		{name: "duplicates collapsed", input: "openid email openid", want: []string{"openid", "email"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitScopes(tt.input)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("SplitScopes(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestContainsScope(t *testing.T) {
	scopes := []string{"openid", "email"}
	if !ContainsScope(scopes, "email") {
		t.Error("ContainsScope() should find email")
	}
	if ContainsScope(scopes, "profile") {
		t.Error("ContainsScope() should not find profile")
	}
	if ContainsScope(nil, "openid") {
		t.Error("ContainsScope(nil) should be false")
	}
}

func TestIsLocalPath(t *testing.T) {
	tests := []struct {
		target string
		want   bool
	}{
		{"/authorize?client_id=acme", true},
		{"/", true},
		{"", false},
		{"authorize", false},
		{"//evil.example.com/cb", false},
		{"/\\evil.example.com", false},
		{"https://evil.example.com", false},
		{"/path\r\nSet-Cookie: x=y", false},
	}

	for _, tt := range tests {
		if got := IsLocalPath(tt.target); got != tt.want {
			t.Errorf("IsLocalPath(%q) = %v, want %v", tt.target, got, tt.want)
		}
	}
}

func TestEqualFoldASCII(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"https://acme.test/cb", "https://acme.test/cb", true},
		{"https://acme.test/cb", "HTTPS://ACME.TEST/CB", true},
		{"https://kiosk.test/cb", "https://Kio\u017fk.test/cb", false},
		{"https://kiosk.test/cb", "https://\u212aiosk.test/cb", false},
		{"https://acme.test/cb", "https://acme.test/cb/", false},
		{"caf\u00e9", "caf\u00e9", true},
		{"caf\u00e9", "CAF\u00c9", false},
		{"", "", true},
	}

	for _, tt := range tests {
		if got := EqualFoldASCII(tt.a, tt.b); got != tt.want {
			t.Errorf("EqualFoldASCII(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

package security

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestNewAuditor(t *testing.T) {
	tests := []struct {
		name    string
		logger  *slog.Logger
		enabled bool
	}{
		{name: "enabled with logger", logger: slog.Default(), enabled: true},
		{name: "disabled with logger", logger: slog.Default(), enabled: false},
		{name: "enabled with nil logger", logger: nil, enabled: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auditor := NewAuditor(tt.logger, tt.enabled)
			if auditor == nil {
				t.Fatal("NewAuditor() returned nil")
			}
			if auditor.enabled != tt.enabled {
				t.Errorf("enabled = %v, want %v", auditor.enabled, tt.enabled)
			}
			if auditor.logger == nil {
				t.Error("logger should not be nil")
			}
		})
	}
}

func TestAuditor_LogEvent(t *testing.T) {
	tests := []struct {
		name    string
		enabled bool
		wantLog bool
	}{
		{name: "enabled", enabled: true, wantLog: true},
		{name: "disabled", enabled: false, wantLog: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			auditor := NewAuditor(slog.New(slog.NewTextHandler(&buf, nil)), tt.enabled)

			auditor.LogEvent(Event{
				Type:      EventTokenIssued,
				UserID:    "user@test.com",
				ClientID:  "acme",
				IPAddress: "10.0.0.1",
				RequestID: "req-1",
			})

			out := buf.String()
			if got := strings.Contains(out, "security_audit"); got != tt.wantLog {
				t.Fatalf("logged = %v, want %v (output %q)", got, tt.wantLog, out)
			}
			if !tt.wantLog {
				return
			}
			if strings.Contains(out, "user@test.com") {
				t.Error("raw user id must not appear in audit log")
			}
			if !strings.Contains(out, hashForLogging("user@test.com")) {
				t.Error("hashed user id missing from audit log")
			}
			if !strings.Contains(out, "request_id=req-1") {
				t.Error("request id missing from audit log")
			}
		})
	}
}

func TestAuditor_OnEvent(t *testing.T) {
	auditor := NewAuditor(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)), true)

	var seen []string
	auditor.OnEvent(func(eventType string) { seen = append(seen, eventType) })

	auditor.LogCodeIssued("u1", "acme", "10.0.0.1", "openid")
	auditor.LogTokenIssued("u1", "acme", "10.0.0.1", "openid")
	auditor.LogAuthorizationRejected("acme", "10.0.0.1", "invalid_scope", "admin")
	auditor.LogAuthFailure("u1", "", "10.0.0.1", "bad password")
	auditor.LogLogin("u1", "10.0.0.1")
	auditor.LogLogout("u1", "10.0.0.1")
	auditor.LogRateLimitExceeded("10.0.0.1", "token")

	want := []string{
		EventAuthorizationCodeIssued,
		EventTokenIssued,
		EventAuthorizationRejected,
		EventAuthFailure,
		EventLoginSucceeded,
		EventLogout,
		EventRateLimitExceeded,
	}
	if len(seen) != len(want) {
		t.Fatalf("got %d events, want %d: %v", len(seen), len(want), seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("event[%d] = %q, want %q", i, seen[i], want[i])
		}
	}
}

func TestAuditor_NilSafe(t *testing.T) {
	var auditor *Auditor
	auditor.LogEvent(Event{Type: EventLogout})
}

func TestHashForLogging(t *testing.T) {
	if got := hashForLogging(""); got != "<empty>" {
		t.Errorf("hashForLogging(\"\") = %q", got)
	}
	h := hashForLogging("alice")
	if len(h) != 16 {
		t.Errorf("hash length = %d, want 16", len(h))
	}
	if h != hashForLogging("alice") {
		t.Error("hash must be deterministic")
	}
}

package auth

import (
	"testing"
	"time"
)

func TestSessionRoundTrip(t *testing.T) {
	m, err := NewSessionManager("session-secret", time.Hour)
	if err != nil {
		t.Fatalf("new session manager: %v", err)
	}
	token, err := m.NewSession("client-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	clientID, ok := m.ClientIDFromSession(token)
	if !ok {
		t.Fatalf("expected session token to validate")
	}
	if clientID != "client-1" {
		t.Fatalf("expected subject client-1, got %q", clientID)
	}
}

func TestSessionRejectsGarbageAndForeignSecret(t *testing.T) {
	m, err := NewSessionManager("session-secret", time.Hour)
	if err != nil {
		t.Fatalf("new session manager: %v", err)
	}
	if _, ok := m.ClientIDFromSession("not-a-jwt"); ok {
		t.Fatalf("expected garbage token to be rejected")
	}
	other, err := NewSessionManager("different-secret", time.Hour)
	if err != nil {
		t.Fatalf("new session manager: %v", err)
	}
	foreign, err := other.NewSession("client-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if _, ok := m.ClientIDFromSession(foreign); ok {
		t.Fatalf("expected token signed with another secret to be rejected")
	}
}

func TestNewSessionManagerRequiresSecret(t *testing.T) {
	if _, err := NewSessionManager("  ", time.Hour); err == nil {
		t.Fatalf("expected empty secret to be rejected")
	}
}

package util

import (
	"net/http/httptest"
	"testing"
)

func TestClientIPIgnoresForwardedHeaderByDefault(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.9:4321"
	req.Header.Set("X-Forwarded-For", "203.0.113.7")

	if got := ClientIP(req, false); got != "10.0.0.9" {
		t.Fatalf("expected remote addr host, got %q", got)
	}
}

func TestClientIPHonorsForwardedHeaderWhenTrusted(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.9:4321"
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")

	if got := ClientIP(req, true); got != "203.0.113.7" {
		t.Fatalf("expected first forwarded hop, got %q", got)
	}
}

func TestClientIPRejectsGarbageForwardedValue(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.9:4321"
	req.Header.Set("X-Forwarded-For", "not-an-ip")

	if got := ClientIP(req, true); got != "10.0.0.9" {
		t.Fatalf("expected fallback to remote addr, got %q", got)
	}
}

package signature

import (
	"errors"
	"testing"
	"time"

	"amberscan/pkg/domain"
	"amberscan/pkg/store"
)

func newTestService(t *testing.T) (*Service, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	svc, err := New(st, "signing-secret", time.Hour)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if err := st.SaveClient(domain.Client{ID: "client-1", Name: "acme", Email: "acme@example.com"}); err != nil {
		t.Fatalf("save client: %v", err)
	}
	return svc, st
}

func TestIssueAndVerify(t *testing.T) {
	svc, _ := newTestService(t)

	token, err := svc.Issue("client-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if token == "" {
		t.Fatalf("expected non-empty token")
	}
	if !svc.Verify("client-1", token) {
		t.Fatalf("expected issued token to verify")
	}
	if svc.Verify("client-1", "deadbeef") {
		t.Fatalf("expected random token to fail verification")
	}
	if svc.Verify("other-client", token) {
		t.Fatalf("expected token to fail for a different client")
	}
}

func TestIssueRotatesInPlace(t *testing.T) {
	svc, st := newTestService(t)

	first, err := svc.Issue("client-1")
	if err != nil {
		t.Fatalf("first issue: %v", err)
	}
	providerBefore, ok, err := st.GetProviderByClientID("client-1")
	if err != nil || !ok {
		t.Fatalf("expected provider row after first issue: %v", err)
	}

	second, err := svc.Issue("client-1")
	if err != nil {
		t.Fatalf("second issue: %v", err)
	}
	if first == second {
		t.Fatalf("expected rotation to mint a different token")
	}
	if svc.Verify("client-1", first) {
		t.Fatalf("expected old token to stop verifying after rotation")
	}
	if !svc.Verify("client-1", second) {
		t.Fatalf("expected new token to verify")
	}

	providerAfter, ok, err := st.GetProviderByClientID("client-1")
	if err != nil || !ok {
		t.Fatalf("expected provider row after rotation: %v", err)
	}
	if providerAfter.ID != providerBefore.ID {
		t.Fatalf("expected rotation to reuse the provider row, got %q then %q", providerBefore.ID, providerAfter.ID)
	}
	if providerAfter.KeyIdentifier != providerBefore.KeyIdentifier {
		t.Fatalf("expected key identifier to survive rotation")
	}
	if !providerAfter.CreatedAt.Equal(providerBefore.CreatedAt) {
		t.Fatalf("expected created_at to survive rotation")
	}
}

func TestVerifyDeactivatesExpiredProvider(t *testing.T) {
	svc, st := newTestService(t)

	token, err := svc.Issue("client-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	svc.now = func() time.Time { return time.Now().UTC().Add(2 * time.Hour) }

	if svc.Verify("client-1", token) {
		t.Fatalf("expected expired token to fail verification")
	}
	provider, ok, err := st.GetProviderByClientID("client-1")
	if err != nil || !ok {
		t.Fatalf("expected provider row: %v", err)
	}
	if provider.IsActive {
		t.Fatalf("expected expired provider to be deactivated")
	}
}

func TestIssueUnknownClient(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.Issue("nope"); !errors.Is(err, ErrClientNotFound) {
		t.Fatalf("expected ErrClientNotFound, got: %v", err)
	}
}

func TestResolve(t *testing.T) {
	svc, _ := newTestService(t)

	token, err := svc.Issue("client-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	provider, ok := svc.Resolve(token)
	if !ok {
		t.Fatalf("expected resolve to find the active provider")
	}
	if provider.ClientID != "client-1" {
		t.Fatalf("expected provider for client-1, got %q", provider.ClientID)
	}
	if _, ok := svc.Resolve("unknown-token"); ok {
		t.Fatalf("expected unknown token to not resolve")
	}
	if _, ok := svc.Resolve(""); ok {
		t.Fatalf("expected empty token to not resolve")
	}
}

func TestNewRequiresSecret(t *testing.T) {
	if _, err := New(store.NewMemoryStore(), "   ", time.Hour); err == nil {
		t.Fatalf("expected empty secret to be rejected")
	}
}

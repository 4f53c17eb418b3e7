// Package signature issues and verifies the opaque per-client bearer
// tokens that authorize upload API access. Tokens are minted from random
// bytes keyed through HMAC-SHA256, so a fresh token is produced on every
// login and only a holder of the signing secret can forge one. Verification
// goes through the stored provider record, never through re-derivation.
package signature

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"amberscan/pkg/domain"
	"amberscan/pkg/store"
)

// ErrClientNotFound reports a missing authentication subject.
var ErrClientNotFound = errors.New("signature: client not found")

// DefaultProviderTTL is how long a signing credential stays valid after it
// was last rotated.
const DefaultProviderTTL = 30 * 24 * time.Hour

// Service manages provider signing credentials.
type Service struct {
	store       store.Store
	secret      []byte
	providerTTL time.Duration
	now         func() time.Time
}

// New builds the service. An empty secret is a configuration error and the
// caller must refuse to serve requests.
func New(st store.Store, secret string, providerTTL time.Duration) (*Service, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("signature: signing secret is required")
	}
	if st == nil {
		return nil, errors.New("signature: store is required")
	}
	if providerTTL <= 0 {
		providerTTL = DefaultProviderTTL
	}
	return &Service{
		store:       st,
		secret:      []byte(secret),
		providerTTL: providerTTL,
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

// Issue mints a new signature for the client and upserts its provider row:
// the signature is replaced in place, last_used_at and expires_at refresh,
// and the key identifier survives rotation. The row is created on first
// login.
func (s *Service) Issue(clientID string) (string, error) {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return "", ErrClientNotFound
	}
	if _, ok, err := s.store.GetClientByID(clientID); err != nil {
		return "", fmt.Errorf("signature: fetch client: %w", err)
	} else if !ok {
		return "", ErrClientNotFound
	}

	token, err := s.mintToken(clientID)
	if err != nil {
		return "", err
	}

	now := s.now()
	expires := now.Add(s.providerTTL)
	provider, ok, err := s.store.GetProviderByClientID(clientID)
	if err != nil {
		return "", fmt.Errorf("signature: fetch provider: %w", err)
	}
	if !ok {
		provider = domain.Provider{
			ID:            newRecordID(),
			ClientID:      clientID,
			KeyIdentifier: uuid.NewString(),
			CreatedAt:     now,
		}
	}
	provider.Signature = token
	provider.IsActive = true
	provider.LastUsedAt = &now
	provider.ExpiresAt = &expires
	if err := s.store.SaveProvider(provider); err != nil {
		return "", fmt.Errorf("signature: save provider: %w", err)
	}
	return token, nil
}

// Verify reports whether the presented token is the client's current active
// signature. It returns false on any mismatch and never errors, so callers
// cannot distinguish forgery from absence. Expired providers are
// deactivated on sight.
func (s *Service) Verify(clientID, presented string) bool {
	provider, ok, err := s.store.GetProviderByClientID(strings.TrimSpace(clientID))
	if err != nil || !ok {
		return false
	}
	return s.checkProvider(provider, presented)
}

// Resolve returns the active provider matching the presented signature,
// for upload validation where only the signature is known.
func (s *Service) Resolve(presented string) (domain.Provider, bool) {
	presented = strings.TrimSpace(presented)
	if presented == "" {
		return domain.Provider{}, false
	}
	provider, ok, err := s.store.GetActiveProviderBySignature(presented)
	if err != nil || !ok {
		return domain.Provider{}, false
	}
	if !s.checkProvider(provider, presented) {
		return domain.Provider{}, false
	}
	return provider, true
}

func (s *Service) checkProvider(provider domain.Provider, presented string) bool {
	if !provider.IsActive {
		return false
	}
	if provider.ExpiresAt != nil && s.now().After(*provider.ExpiresAt) {
		provider.IsActive = false
		_ = s.store.SaveProvider(provider)
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provider.Signature), []byte(presented)) == 1
}

// mintToken derives an unforgeable opaque token from fresh random bytes
// keyed with the signing secret. Randomness makes rotation produce a new
// value every time; the MAC keeps token minting exclusive to this process.
func (s *Service) mintToken(clientID string) (string, error) {
	nonce := make([]byte, 64)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("signature: read random: %w", err)
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(clientID))
	mac.Write(nonce)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

func newRecordID() string {
	b := make([]byte, 12)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

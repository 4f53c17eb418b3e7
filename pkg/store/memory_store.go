package store

import (
	"sync"
	"time"

	"amberscan/pkg/domain"
)

// MemoryStore keeps all records in-process. It backs tests and local
// development without Postgres.
type MemoryStore struct {
	mu        sync.RWMutex
	clients   map[string]domain.Client
	emails    map[string]string // email -> client ID
	names     map[string]string // name -> client ID
	providers map[string]domain.Provider // key: provider ID
	assets    map[string]domain.Asset
	order     []string // asset insertion order
	receipts  map[string]domain.ProcessedReceipt // key: receipt ID
	byAsset   map[string]string                  // asset ID -> receipt ID
	secrets   map[string]string
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		clients:   make(map[string]domain.Client),
		emails:    make(map[string]string),
		names:     make(map[string]string),
		providers: make(map[string]domain.Provider),
		assets:    make(map[string]domain.Asset),
		receipts:  make(map[string]domain.ProcessedReceipt),
		byAsset:   make(map[string]string),
		secrets:   make(map[string]string),
	}
}

func (m *MemoryStore) SaveClient(c domain.Client) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[c.ID] = c
	m.emails[c.Email] = c.ID
	m.names[c.Name] = c.ID
	return nil
}

func (m *MemoryStore) HasClientEmail(email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.emails[email]
	return ok, nil
}

func (m *MemoryStore) GetClientByEmail(email string) (domain.Client, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.emails[email]
	if !ok {
		return domain.Client{}, false, nil
	}
	c, ok := m.clients[id]
	return c, ok, nil
}

func (m *MemoryStore) GetClientByName(name string) (domain.Client, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.names[name]
	if !ok {
		return domain.Client{}, false, nil
	}
	c, ok := m.clients[id]
	return c, ok, nil
}

func (m *MemoryStore) GetClientByID(id string) (domain.Client, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[id]
	return c, ok, nil
}

func (m *MemoryStore) ClientCount() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients), nil
}

func (m *MemoryStore) SaveProvider(p domain.Provider) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[p.ID] = p
	return nil
}

func (m *MemoryStore) GetProviderByClientID(clientID string) (domain.Provider, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest domain.Provider
	found := false
	for _, p := range m.providers {
		if p.ClientID != clientID {
			continue
		}
		if !found || p.CreatedAt.After(latest.CreatedAt) {
			latest = p
			found = true
		}
	}
	return latest, found, nil
}

func (m *MemoryStore) GetActiveProviderBySignature(signature string) (domain.Provider, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.providers {
		if p.IsActive && p.Signature == signature {
			return p, true, nil
		}
	}
	return domain.Provider{}, false, nil
}

func (m *MemoryStore) SaveAsset(a domain.Asset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.assets[a.ID]; !exists {
		m.order = append(m.order, a.ID)
	}
	m.assets[a.ID] = a
	return nil
}

func (m *MemoryStore) GetAsset(id string) (domain.Asset, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.assets[id]
	return a, ok, nil
}

func (m *MemoryStore) GetAssetByPath(path string) (domain.Asset, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.assets {
		if a.Path == path {
			return a, true, nil
		}
	}
	return domain.Asset{}, false, nil
}

func (m *MemoryStore) ListAssetsByClient(clientID string, kind domain.AssetKind) ([]domain.Asset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Asset, 0)
	for _, id := range m.order {
		a, ok := m.assets[id]
		if !ok || a.ClientID != clientID {
			continue
		}
		if kind != "" && a.Kind != kind {
			continue
		}
		res = append(res, a)
	}
	return res, nil
}

func (m *MemoryStore) SetAssetStatus(id string, status domain.AssetStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assets[id]
	if !ok {
		return ErrNotFound
	}
	a.Status = status
	a.ErrorMessage = errMsg
	a.UpdatedAt = time.Now().UTC()
	m.assets[id] = a
	return nil
}

func (m *MemoryStore) RenameAsset(id, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assets[id]
	if !ok {
		return ErrNotFound
	}
	a.Name = name
	a.UpdatedAt = time.Now().UTC()
	m.assets[id] = a
	return nil
}

func (m *MemoryStore) DeleteAsset(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.assets[id]; !ok {
		return ErrNotFound
	}
	delete(m.assets, id)
	for i, aid := range m.order {
		if aid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *MemoryStore) CreateProcessedReceipt(r domain.ProcessedReceipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byAsset[r.AssetID]; exists {
		return ErrDuplicateReceipt
	}
	m.receipts[r.ID] = r
	m.byAsset[r.AssetID] = r.ID
	if a, ok := m.assets[r.AssetID]; ok {
		a.Status = domain.StatusProcessed
		a.ErrorMessage = ""
		a.UpdatedAt = time.Now().UTC()
		m.assets[r.AssetID] = a
	}
	return nil
}

func (m *MemoryStore) GetReceiptByAsset(assetID string) (domain.ProcessedReceipt, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byAsset[assetID]
	if !ok {
		return domain.ProcessedReceipt{}, false, nil
	}
	r, ok := m.receipts[id]
	return r, ok, nil
}

func (m *MemoryStore) ListReceiptsByClient(clientID string) ([]domain.ProcessedReceipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.ProcessedReceipt, 0)
	for _, r := range m.receipts {
		if r.ClientID == clientID {
			res = append(res, r)
		}
	}
	return res, nil
}

func (m *MemoryStore) GetSecret(name string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.secrets[name]
	return v, ok, nil
}

func (m *MemoryStore) SaveSecret(name, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets[name] = value
	return nil
}

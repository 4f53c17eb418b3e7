package store

import (
	"errors"

	"amberscan/pkg/domain"
)

// ErrNotFound reports a missing row for operations that target one record.
var ErrNotFound = errors.New("record not found")

// ErrDuplicateReceipt reports an attempt to persist a second processed
// receipt for the same asset.
var ErrDuplicateReceipt = errors.New("asset already has a processed receipt")

// Store defines persistence operations for clients, providers, assets, and
// processed receipts.
type Store interface {
	// clients
	SaveClient(domain.Client) error
	HasClientEmail(email string) (bool, error)
	GetClientByEmail(email string) (domain.Client, bool, error)
	GetClientByName(name string) (domain.Client, bool, error)
	GetClientByID(id string) (domain.Client, bool, error)
	ClientCount() (int, error)

	// providers
	SaveProvider(domain.Provider) error
	GetProviderByClientID(clientID string) (domain.Provider, bool, error)
	GetActiveProviderBySignature(signature string) (domain.Provider, bool, error)

	// assets
	SaveAsset(domain.Asset) error
	GetAsset(id string) (domain.Asset, bool, error)
	GetAssetByPath(path string) (domain.Asset, bool, error)
	ListAssetsByClient(clientID string, kind domain.AssetKind) ([]domain.Asset, error)
	SetAssetStatus(id string, status domain.AssetStatus, errMsg string) error
	RenameAsset(id, name string) error
	DeleteAsset(id string) error

	// processed receipts. CreateProcessedReceipt runs in a single atomic
	// transaction: either the full receipt row becomes visible or nothing
	// does, and a second receipt for the same asset fails with
	// ErrDuplicateReceipt.
	CreateProcessedReceipt(domain.ProcessedReceipt) error
	GetReceiptByAsset(assetID string) (domain.ProcessedReceipt, bool, error)
	ListReceiptsByClient(clientID string) ([]domain.ProcessedReceipt, error)

	// secrets are named process-wide credentials read once at startup.
	GetSecret(name string) (string, bool, error)
	SaveSecret(name, value string) error
}

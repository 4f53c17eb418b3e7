package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type ClientModel struct {
	ID           string `gorm:"primaryKey"`
	Name         string `gorm:"uniqueIndex;not null"`
	Email        string `gorm:"uniqueIndex;not null"`
	PasswordHash string `gorm:"not null"`
	Role         string `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time
}

type ProviderModel struct {
	ID            string `gorm:"primaryKey"`
	ClientID      string `gorm:"not null;index"`
	Signature     string `gorm:"uniqueIndex;not null"`
	KeyIdentifier string `gorm:"uniqueIndex;not null"`
	IsActive      bool   `gorm:"not null"`
	CreatedAt     time.Time `gorm:"not null"`
	LastUsedAt    *time.Time
	ExpiresAt     *time.Time
}

type AssetModel struct {
	ID           string `gorm:"primaryKey"`
	ClientID     string `gorm:"not null;index"`
	ProviderID   string `gorm:"not null"`
	Name         string `gorm:"not null"`
	Kind         string `gorm:"not null;index"`
	StorageKey   string `gorm:"not null"`
	Path         string `gorm:"uniqueIndex;not null"`
	SizeBytes    int64  `gorm:"not null"`
	Status       string `gorm:"not null"`
	ErrorMessage string
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

type ProcessedReceiptModel struct {
	ID              string `gorm:"primaryKey"`
	ClientID        string `gorm:"not null;index"`
	AssetID         string `gorm:"uniqueIndex;not null"`
	CompanyName     *string
	CompanyAddress  *string
	VATNumber       *string
	TransactionDate *string
	TransactionTime *string
	PaymentMethod   *string
	Items           datatypes.JSON `gorm:"type:jsonb"`
	FuelType        *string
	IsInvoice       *bool
	TotalGross      *float64
	TotalVAT        *float64
	TotalNet        *float64
	CreatedAt       time.Time `gorm:"not null"`
}

type SecretModel struct {
	Name      string `gorm:"primaryKey"`
	Value     string `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time
}

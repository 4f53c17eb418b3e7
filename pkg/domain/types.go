package domain

import "time"

type AssetKind string

const (
	KindImage AssetKind = "image"
	KindPDF   AssetKind = "pdf"
)

type AssetStatus string

const (
	StatusQueued     AssetStatus = "queued"
	StatusProcessing AssetStatus = "processing"
	StatusProcessed  AssetStatus = "processed"
	StatusFailed     AssetStatus = "failed"
)

type ClientRole string

const (
	RoleClient ClientRole = "client"
	RoleAdmin  ClientRole = "admin"
)

// Client is an authenticated principal that owns providers and assets.
type Client struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Role         ClientRole `json:"role"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// Provider is the active signing credential for a client. A client has at
// most one active provider; rotation replaces the signature in place and
// the key identifier survives rotation for audit.
type Provider struct {
	ID            string     `json:"id"`
	ClientID      string     `json:"clientId"`
	Signature     string     `json:"-"`
	KeyIdentifier string     `json:"keyIdentifier"`
	IsActive      bool       `json:"isActive"`
	CreatedAt     time.Time  `json:"createdAt"`
	LastUsedAt    *time.Time `json:"lastUsedAt,omitempty"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
}

// Asset is an uploaded receipt file (image or PDF) owned by a
// (provider, client) pair. It stays unprocessed until a ProcessedReceipt
// referencing it exists.
type Asset struct {
	ID           string      `json:"id"`
	ClientID     string      `json:"clientId"`
	ProviderID   string      `json:"providerId"`
	Name         string      `json:"name"`
	Kind         AssetKind   `json:"kind"`
	StorageKey   string      `json:"-"`
	Path         string      `json:"path"`
	SizeBytes    int64       `json:"sizeBytes"`
	Status       AssetStatus `json:"status"`
	ErrorMessage string      `json:"errorMessage,omitempty"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

// LineItem is a single receipt line with its VAT breakdown.
type LineItem struct {
	Description string   `json:"description"`
	Quantity    *float64 `json:"quantity"`
	UnitPrice   *float64 `json:"unit_price"`
	GrossPrice  *float64 `json:"gross_price"`
	VATRate     *float64 `json:"vat_rate"`
	VATAmount   *float64 `json:"vat_amount"`
	NetAmount   *float64 `json:"net_amount"`
	Deductible  *bool    `json:"tax_deductible"`
}

// ProcessedReceipt is the structured pipeline output for one asset.
// Created once per successfully processed asset and immutable afterwards.
type ProcessedReceipt struct {
	ID              string     `json:"id"`
	ClientID        string     `json:"clientId"`
	AssetID         string     `json:"assetId"`
	CompanyName     *string    `json:"companyName"`
	CompanyAddress  *string    `json:"companyAddress"`
	VATNumber       *string    `json:"vatNumber"`
	TransactionDate *string    `json:"transactionDate"`
	TransactionTime *string    `json:"transactionTime"`
	PaymentMethod   *string    `json:"paymentMethod"`
	Items           []LineItem `json:"items"`
	FuelType        *string    `json:"fuelType"`
	IsInvoice       *bool      `json:"isInvoice"`
	TotalGross      *float64   `json:"totalGross"`
	TotalVAT        *float64   `json:"totalVat"`
	TotalNet        *float64   `json:"totalNet"`
	CreatedAt       time.Time  `json:"createdAt"`
}

// Extraction is the raw structured payload returned by the completion API.
// Absent keys decode to nil and are stored as nulls, never treated as a
// hard failure of the task.
type Extraction struct {
	CompanyDetails *CompanyDetails `json:"company_details"`
	Transaction    *Transaction    `json:"transaction_details"`
	Items          []LineItem      `json:"items"`
	FuelType       *string         `json:"fuel_type"`
	IsInvoice      *bool           `json:"is_invoice"`
	Totals         *Totals         `json:"totals"`
}

type CompanyDetails struct {
	Name      *string `json:"name"`
	Address   *string `json:"address"`
	VATNumber *string `json:"vat_number"`
}

type Transaction struct {
	Date          *string `json:"date"`
	Time          *string `json:"time"`
	PaymentMethod *string `json:"payment_method"`
}

type Totals struct {
	TotalGross *float64 `json:"total_gross"`
	TotalVAT   *float64 `json:"total_vat"`
	TotalNet   *float64 `json:"total_net"`
}

type TaskStatus string

const (
	TaskSuccess TaskStatus = "success"
	TaskError   TaskStatus = "error"
)

// TaskResult is the uniform descriptor every processing task terminates
// with, surfaced to the enqueuing endpoint and to monitoring.
type TaskResult struct {
	AssetPath string     `json:"asset_path"`
	Status    TaskStatus `json:"status"`
	Error     string     `json:"error,omitempty"`
}

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"amberscan/pkg/domain"
)

const migrateLockID int64 = 62816281

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&ClientModel{}, &ProviderModel{}, &AssetModel{}, &ProcessedReceiptModel{}, &SecretModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		// One active signing credential per client.
		if err := tx.Exec(`
			CREATE UNIQUE INDEX IF NOT EXISTS idx_provider_active_client
			ON provider_models (client_id) WHERE is_active
		`).Error; err != nil {
			return fmt.Errorf("ensure active provider index: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

// clients

func (s *GormStore) SaveClient(c domain.Client) error {
	model := clientToModel(c)
	if err := s.db.Save(&model).Error; err != nil {
		return fmt.Errorf("save client: %w", err)
	}
	return nil
}

func (s *GormStore) HasClientEmail(email string) (bool, error) {
	var count int64
	if err := s.db.Model(&ClientModel{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return false, fmt.Errorf("count clients by email: %w", err)
	}
	return count > 0, nil
}

func (s *GormStore) GetClientByEmail(email string) (domain.Client, bool, error) {
	var model ClientModel
	err := s.db.Where("email = ?", email).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Client{}, false, nil
	}
	if err != nil {
		return domain.Client{}, false, fmt.Errorf("get client by email: %w", err)
	}
	return clientToDomain(model), true, nil
}

func (s *GormStore) GetClientByName(name string) (domain.Client, bool, error) {
	var model ClientModel
	err := s.db.Where("name = ?", name).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Client{}, false, nil
	}
	if err != nil {
		return domain.Client{}, false, fmt.Errorf("get client by name: %w", err)
	}
	return clientToDomain(model), true, nil
}

func (s *GormStore) GetClientByID(id string) (domain.Client, bool, error) {
	var model ClientModel
	err := s.db.Where("id = ?", id).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Client{}, false, nil
	}
	if err != nil {
		return domain.Client{}, false, fmt.Errorf("get client by id: %w", err)
	}
	return clientToDomain(model), true, nil
}

func (s *GormStore) ClientCount() (int, error) {
	var count int64
	if err := s.db.Model(&ClientModel{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count clients: %w", err)
	}
	return int(count), nil
}

// providers

func (s *GormStore) SaveProvider(p domain.Provider) error {
	model := providerToModel(p)
	if err := s.db.Save(&model).Error; err != nil {
		return fmt.Errorf("save provider: %w", err)
	}
	return nil
}

func (s *GormStore) GetProviderByClientID(clientID string) (domain.Provider, bool, error) {
	var model ProviderModel
	err := s.db.Where("client_id = ?", clientID).Order("created_at DESC").Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Provider{}, false, nil
	}
	if err != nil {
		return domain.Provider{}, false, fmt.Errorf("get provider by client: %w", err)
	}
	return providerToDomain(model), true, nil
}

func (s *GormStore) GetActiveProviderBySignature(signature string) (domain.Provider, bool, error) {
	var model ProviderModel
	err := s.db.Where("signature = ? AND is_active", signature).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Provider{}, false, nil
	}
	if err != nil {
		return domain.Provider{}, false, fmt.Errorf("get provider by signature: %w", err)
	}
	return providerToDomain(model), true, nil
}

// assets

func (s *GormStore) SaveAsset(a domain.Asset) error {
	model := assetToModel(a)
	if err := s.db.Save(&model).Error; err != nil {
		return fmt.Errorf("save asset: %w", err)
	}
	return nil
}

func (s *GormStore) GetAsset(id string) (domain.Asset, bool, error) {
	var model AssetModel
	err := s.db.Where("id = ?", id).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Asset{}, false, nil
	}
	if err != nil {
		return domain.Asset{}, false, fmt.Errorf("get asset: %w", err)
	}
	return assetToDomain(model), true, nil
}

func (s *GormStore) GetAssetByPath(path string) (domain.Asset, bool, error) {
	var model AssetModel
	err := s.db.Where("path = ?", path).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Asset{}, false, nil
	}
	if err != nil {
		return domain.Asset{}, false, fmt.Errorf("get asset by path: %w", err)
	}
	return assetToDomain(model), true, nil
}

func (s *GormStore) ListAssetsByClient(clientID string, kind domain.AssetKind) ([]domain.Asset, error) {
	var models []AssetModel
	query := s.db.Where("client_id = ?", clientID).Order("created_at ASC")
	if kind != "" {
		query = query.Where("kind = ?", string(kind))
	}
	if err := query.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	assets := make([]domain.Asset, 0, len(models))
	for _, m := range models {
		assets = append(assets, assetToDomain(m))
	}
	return assets, nil
}

func (s *GormStore) SetAssetStatus(id string, status domain.AssetStatus, errMsg string) error {
	res := s.db.Model(&AssetModel{}).Where("id = ?", id).Updates(map[string]any{
		"status":        string(status),
		"error_message": errMsg,
		"updated_at":    time.Now().UTC(),
	})
	if res.Error != nil {
		return fmt.Errorf("set asset status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) RenameAsset(id, name string) error {
	res := s.db.Model(&AssetModel{}).Where("id = ?", id).Updates(map[string]any{
		"name":       name,
		"updated_at": time.Now().UTC(),
	})
	if res.Error != nil {
		return fmt.Errorf("rename asset: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) DeleteAsset(id string) error {
	res := s.db.Where("id = ?", id).Delete(&AssetModel{})
	if res.Error != nil {
		return fmt.Errorf("delete asset: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// processed receipts

func (s *GormStore) CreateProcessedReceipt(r domain.ProcessedReceipt) error {
	model, err := receiptToModel(r)
	if err != nil {
		return err
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&ProcessedReceiptModel{}).Where("asset_id = ?", r.AssetID).Count(&count).Error; err != nil {
			return fmt.Errorf("check existing receipt: %w", err)
		}
		if count > 0 {
			return ErrDuplicateReceipt
		}
		if err := tx.Create(&model).Error; err != nil {
			return fmt.Errorf("create receipt: %w", err)
		}
		if err := tx.Model(&AssetModel{}).Where("id = ?", r.AssetID).Updates(map[string]any{
			"status":        string(domain.StatusProcessed),
			"error_message": "",
			"updated_at":    time.Now().UTC(),
		}).Error; err != nil {
			return fmt.Errorf("mark asset processed: %w", err)
		}
		return nil
	})
}

func (s *GormStore) GetReceiptByAsset(assetID string) (domain.ProcessedReceipt, bool, error) {
	var model ProcessedReceiptModel
	err := s.db.Where("asset_id = ?", assetID).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ProcessedReceipt{}, false, nil
	}
	if err != nil {
		return domain.ProcessedReceipt{}, false, fmt.Errorf("get receipt by asset: %w", err)
	}
	receipt, err := receiptToDomain(model)
	if err != nil {
		return domain.ProcessedReceipt{}, false, err
	}
	return receipt, true, nil
}

func (s *GormStore) ListReceiptsByClient(clientID string) ([]domain.ProcessedReceipt, error) {
	var models []ProcessedReceiptModel
	if err := s.db.Where("client_id = ?", clientID).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list receipts: %w", err)
	}
	receipts := make([]domain.ProcessedReceipt, 0, len(models))
	for _, m := range models {
		receipt, err := receiptToDomain(m)
		if err != nil {
			return nil, err
		}
		receipts = append(receipts, receipt)
	}
	return receipts, nil
}

// secrets

func (s *GormStore) GetSecret(name string) (string, bool, error) {
	var model SecretModel
	err := s.db.Where("name = ?", name).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get secret: %w", err)
	}
	return model.Value, true, nil
}

func (s *GormStore) SaveSecret(name, value string) error {
	model := SecretModel{Name: name, Value: value, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}
	if err := s.db.Save(&model).Error; err != nil {
		return fmt.Errorf("save secret: %w", err)
	}
	return nil
}

// model conversions

func clientToModel(c domain.Client) ClientModel {
	return ClientModel{
		ID:           c.ID,
		Name:         c.Name,
		Email:        c.Email,
		PasswordHash: c.PasswordHash,
		Role:         string(c.Role),
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

func clientToDomain(m ClientModel) domain.Client {
	return domain.Client{
		ID:           m.ID,
		Name:         m.Name,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		Role:         domain.ClientRole(m.Role),
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func providerToModel(p domain.Provider) ProviderModel {
	return ProviderModel{
		ID:            p.ID,
		ClientID:      p.ClientID,
		Signature:     p.Signature,
		KeyIdentifier: p.KeyIdentifier,
		IsActive:      p.IsActive,
		CreatedAt:     p.CreatedAt,
		LastUsedAt:    p.LastUsedAt,
		ExpiresAt:     p.ExpiresAt,
	}
}

func providerToDomain(m ProviderModel) domain.Provider {
	return domain.Provider{
		ID:            m.ID,
		ClientID:      m.ClientID,
		Signature:     m.Signature,
		KeyIdentifier: m.KeyIdentifier,
		IsActive:      m.IsActive,
		CreatedAt:     m.CreatedAt,
		LastUsedAt:    m.LastUsedAt,
		ExpiresAt:     m.ExpiresAt,
	}
}

func assetToModel(a domain.Asset) AssetModel {
	return AssetModel{
		ID:           a.ID,
		ClientID:     a.ClientID,
		ProviderID:   a.ProviderID,
		Name:         a.Name,
		Kind:         string(a.Kind),
		StorageKey:   a.StorageKey,
		Path:         a.Path,
		SizeBytes:    a.SizeBytes,
		Status:       string(a.Status),
		ErrorMessage: a.ErrorMessage,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
}

func assetToDomain(m AssetModel) domain.Asset {
	return domain.Asset{
		ID:           m.ID,
		ClientID:     m.ClientID,
		ProviderID:   m.ProviderID,
		Name:         m.Name,
		Kind:         domain.AssetKind(m.Kind),
		StorageKey:   m.StorageKey,
		Path:         m.Path,
		SizeBytes:    m.SizeBytes,
		Status:       domain.AssetStatus(m.Status),
		ErrorMessage: m.ErrorMessage,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func receiptToModel(r domain.ProcessedReceipt) (ProcessedReceiptModel, error) {
	items := r.Items
	if items == nil {
		items = []domain.LineItem{}
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return ProcessedReceiptModel{}, fmt.Errorf("encode line items: %w", err)
	}
	return ProcessedReceiptModel{
		ID:              r.ID,
		ClientID:        r.ClientID,
		AssetID:         r.AssetID,
		CompanyName:     r.CompanyName,
		CompanyAddress:  r.CompanyAddress,
		VATNumber:       r.VATNumber,
		TransactionDate: r.TransactionDate,
		TransactionTime: r.TransactionTime,
		PaymentMethod:   r.PaymentMethod,
		Items:           datatypes.JSON(raw),
		FuelType:        r.FuelType,
		IsInvoice:       r.IsInvoice,
		TotalGross:      r.TotalGross,
		TotalVAT:        r.TotalVAT,
		TotalNet:        r.TotalNet,
		CreatedAt:       r.CreatedAt,
	}, nil
}

func receiptToDomain(m ProcessedReceiptModel) (domain.ProcessedReceipt, error) {
	var items []domain.LineItem
	if len(m.Items) > 0 {
		if err := json.Unmarshal(m.Items, &items); err != nil {
			return domain.ProcessedReceipt{}, fmt.Errorf("decode line items: %w", err)
		}
	}
	return domain.ProcessedReceipt{
		ID:              m.ID,
		ClientID:        m.ClientID,
		AssetID:         m.AssetID,
		CompanyName:     m.CompanyName,
		CompanyAddress:  m.CompanyAddress,
		VATNumber:       m.VATNumber,
		TransactionDate: m.TransactionDate,
		TransactionTime: m.TransactionTime,
		PaymentMethod:   m.PaymentMethod,
		Items:           items,
		FuelType:        m.FuelType,
		IsInvoice:       m.IsInvoice,
		TotalGross:      m.TotalGross,
		TotalVAT:        m.TotalVAT,
		TotalNet:        m.TotalNet,
		CreatedAt:       m.CreatedAt,
	}, nil
}

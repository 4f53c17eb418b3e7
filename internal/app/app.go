// Package app wires storage, signatures, and the task queue into the
// operations the HTTP layer exposes.
package app

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path"
	"path/filepath"
	"strings"
	"time"

	"amberscan/internal/util"
	"amberscan/pkg/auth"
	"amberscan/pkg/domain"
	"amberscan/pkg/queue"
	"amberscan/pkg/signature"
	"amberscan/pkg/storage"
	"amberscan/pkg/store"
)

var imageExtensions = map[string]struct{}{
	".png":  {},
	".jpg":  {},
	".jpeg": {},
	".gif":  {},
}

// Config holds runtime dependencies for the core application.
type Config struct {
	Store      store.Store
	Objects    storage.ObjectStore
	Signatures *signature.Service
	Sessions   *auth.SessionManager
	Queue      queue.TaskQueue

	MaxImageBytes int64
	MaxPDFBytes   int64
}

// App is the core application service.
type App struct {
	store      store.Store
	objects    storage.ObjectStore
	signatures *signature.Service
	sessions   *auth.SessionManager
	queue      queue.TaskQueue

	maxImageBytes int64
	maxPDFBytes   int64
}

// New constructs the application. All dependencies are mandatory.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store required")
	}
	if cfg.Objects == nil {
		return nil, fmt.Errorf("object store required")
	}
	if cfg.Signatures == nil {
		return nil, fmt.Errorf("signature service required")
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session manager required")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("task queue required")
	}
	maxImage := cfg.MaxImageBytes
	if maxImage <= 0 {
		maxImage = 5 << 20
	}
	maxPDF := cfg.MaxPDFBytes
	if maxPDF <= 0 {
		maxPDF = 20 << 20
	}
	return &App{
		store:         cfg.Store,
		objects:       cfg.Objects,
		signatures:    cfg.Signatures,
		sessions:      cfg.Sessions,
		queue:         cfg.Queue,
		maxImageBytes: maxImage,
		maxPDFBytes:   maxPDF,
	}, nil
}

// Register creates a client account and issues its first signature.
func (a *App) Register(name, email, password string) (domain.Client, string, string, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(strings.ToLower(email))
	if name == "" || email == "" || password == "" {
		return domain.Client{}, "", "", fmt.Errorf("%w: name, email, and password are required", ErrValidation)
	}
	if err := auth.ValidatePassword(password); err != nil {
		return domain.Client{}, "", "", fmt.Errorf("%w: %v", ErrValidation, err)
	}
	exists, err := a.store.HasClientEmail(email)
	if err != nil {
		return domain.Client{}, "", "", fmt.Errorf("check email: %w", err)
	}
	if exists {
		return domain.Client{}, "", "", ErrEmailAlreadyExists
	}
	if _, taken, err := a.store.GetClientByName(name); err != nil {
		return domain.Client{}, "", "", fmt.Errorf("check name: %w", err)
	} else if taken {
		return domain.Client{}, "", "", ErrNameAlreadyExists
	}
	passwordHash, err := auth.HashPassword(password)
	if err != nil {
		return domain.Client{}, "", "", err
	}
	role := domain.RoleClient
	count, err := a.store.ClientCount()
	if err != nil {
		return domain.Client{}, "", "", fmt.Errorf("count clients: %w", err)
	}
	if count == 0 {
		role = domain.RoleAdmin
	}
	now := time.Now().UTC()
	client := domain.Client{
		ID:           util.NewID(),
		Name:         name,
		Email:        email,
		PasswordHash: passwordHash,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.SaveClient(client); err != nil {
		return domain.Client{}, "", "", fmt.Errorf("save client: %w", err)
	}
	return a.issueCredentials(client)
}

// Login validates credentials, rotates the client's signature, and issues
// a session token.
func (a *App) Login(email, password string) (domain.Client, string, string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	client, ok, err := a.store.GetClientByEmail(email)
	if err != nil {
		return domain.Client{}, "", "", fmt.Errorf("fetch client: %w", err)
	}
	if !ok || !auth.CheckPassword(password, client.PasswordHash) {
		return domain.Client{}, "", "", ErrInvalidCredentials
	}
	return a.issueCredentials(client)
}

func (a *App) issueCredentials(client domain.Client) (domain.Client, string, string, error) {
	sig, err := a.signatures.Issue(client.ID)
	if err != nil {
		return domain.Client{}, "", "", fmt.Errorf("issue signature: %w", err)
	}
	session, err := a.sessions.NewSession(client.ID)
	if err != nil {
		return domain.Client{}, "", "", fmt.Errorf("issue session: %w", err)
	}
	return client, sig, session, nil
}

// ClientFromSession resolves a client from a session token.
func (a *App) ClientFromSession(token string) (domain.Client, bool) {
	clientID, ok := a.sessions.ClientIDFromSession(token)
	if !ok {
		return domain.Client{}, false
	}
	client, found, err := a.store.GetClientByID(clientID)
	if err != nil || !found {
		return domain.Client{}, false
	}
	return client, true
}

// ClientFromSignature resolves a client from a presented bearer signature.
func (a *App) ClientFromSignature(presented string) (domain.Client, bool) {
	provider, ok := a.signatures.Resolve(presented)
	if !ok {
		return domain.Client{}, false
	}
	client, found, err := a.store.GetClientByID(provider.ClientID)
	if err != nil || !found {
		return domain.Client{}, false
	}
	return client, true
}

// VerifySignature checks a (username, signature) pair as presented by the
// list endpoints.
func (a *App) VerifySignature(username, presented string) (domain.Client, bool) {
	client, ok, err := a.store.GetClientByName(strings.TrimSpace(username))
	if err != nil || !ok {
		return domain.Client{}, false
	}
	if !a.signatures.Verify(client.ID, presented) {
		return domain.Client{}, false
	}
	return client, true
}

// UploadTask describes one enqueued asset.
type UploadTask struct {
	AssetPath string `json:"image_path"`
	TaskID    string `json:"task_id"`
}

// ValidateUpload checks the filename and size limits for one upload
// without touching storage or the queue, so callers can reject a whole
// batch before any of its files is accepted.
func (a *App) ValidateUpload(filename string, size int64, kind domain.AssetKind) error {
	filename = filepath.Base(strings.TrimSpace(filename))
	if filename == "" || filename == "." {
		return fmt.Errorf("%w: filename is required", ErrValidation)
	}
	return a.validateFile(filename, size, kind)
}

// UploadAsset validates an uploaded file, stores the blob, records the
// asset, and enqueues processing. The upload returns as soon as the task
// is queued; OCR and completion latency never blocks the request.
func (a *App) UploadAsset(ctx context.Context, providerSig, clientName, filename string, r io.Reader, size int64, kind domain.AssetKind) (UploadTask, error) {
	filename = filepath.Base(strings.TrimSpace(filename))
	if err := a.ValidateUpload(filename, size, kind); err != nil {
		return UploadTask{}, err
	}
	provider, ok := a.signatures.Resolve(providerSig)
	if !ok {
		return UploadTask{}, fmt.Errorf("%w: provider with this signature does not exist or is inactive", ErrValidation)
	}
	client, ok, err := a.store.GetClientByName(strings.TrimSpace(clientName))
	if err != nil {
		return UploadTask{}, fmt.Errorf("fetch client: %w", err)
	}
	if !ok {
		return UploadTask{}, fmt.Errorf("%w: client with username %q does not exist", ErrValidation, clientName)
	}
	if provider.ClientID != client.ID {
		return UploadTask{}, ErrProviderMismatch
	}

	id := util.NewID()
	assetPath := buildAssetPath(kind, client.Name, id, filename)
	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	now := time.Now().UTC()
	asset := domain.Asset{
		ID:         id,
		ClientID:   client.ID,
		ProviderID: provider.ID,
		Name:       filename,
		Kind:       kind,
		StorageKey: assetPath,
		Path:       assetPath,
		SizeBytes:  size,
		Status:     domain.StatusQueued,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := a.objects.Put(ctx, asset.StorageKey, r, size, contentType); err != nil {
		return UploadTask{}, fmt.Errorf("save file: %w", err)
	}
	if err := a.store.SaveAsset(asset); err != nil {
		_ = a.objects.Delete(ctx, asset.StorageKey)
		return UploadTask{}, fmt.Errorf("save asset: %w", err)
	}
	job, err := a.queue.Enqueue(ctx, asset.Path, string(kind))
	if err != nil {
		_ = a.store.SetAssetStatus(asset.ID, domain.StatusFailed, err.Error())
		return UploadTask{}, fmt.Errorf("enqueue task: %w", err)
	}
	return UploadTask{AssetPath: asset.Path, TaskID: job.ID}, nil
}

func (a *App) validateFile(filename string, size int64, kind domain.AssetKind) error {
	ext := strings.ToLower(filepath.Ext(filename))
	switch kind {
	case domain.KindImage:
		if _, ok := imageExtensions[ext]; !ok {
			return fmt.Errorf("%w: uploaded file must be an image with extensions: .png, .jpg, .jpeg, .gif", ErrValidation)
		}
		if size > a.maxImageBytes {
			return fmt.Errorf("%w: image size must not exceed %dMB", ErrValidation, a.maxImageBytes>>20)
		}
	case domain.KindPDF:
		if ext != ".pdf" {
			return fmt.Errorf("%w: uploaded file must be a PDF", ErrValidation)
		}
		if size > a.maxPDFBytes {
			return fmt.Errorf("%w: PDF size must not exceed %dMB", ErrValidation, a.maxPDFBytes>>20)
		}
	default:
		return fmt.Errorf("%w: unknown asset kind", ErrValidation)
	}
	return nil
}

// ListAssets returns a client's assets of one kind.
func (a *App) ListAssets(clientID string, kind domain.AssetKind) ([]domain.Asset, error) {
	return a.store.ListAssetsByClient(clientID, kind)
}

// RenameAsset updates the asset display name.
func (a *App) RenameAsset(id, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	err := a.store.RenameAsset(id, name)
	if err == store.ErrNotFound {
		return ErrNotFound
	}
	return err
}

// DeleteAsset removes the asset row and its blob.
func (a *App) DeleteAsset(ctx context.Context, id string) error {
	asset, ok, err := a.store.GetAsset(id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	if err := a.store.DeleteAsset(id); err != nil {
		if err == store.ErrNotFound {
			return ErrNotFound
		}
		return err
	}
	if err := a.objects.Delete(ctx, asset.StorageKey); err != nil {
		return err
	}
	return nil
}

// GetReceiptByAsset exposes the processed result for polling clients.
func (a *App) GetReceiptByAsset(assetID string) (domain.ProcessedReceipt, bool, error) {
	return a.store.GetReceiptByAsset(assetID)
}

func buildAssetPath(kind domain.AssetKind, clientName, id, filename string) string {
	folder := "images"
	if kind == domain.KindPDF {
		folder = "pdf"
	}
	return path.Join(folder, sanitizeName(clientName), "Receipts", id+"-"+sanitizeName(filename))
}

func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" {
		return "unknown"
	}
	return name
}

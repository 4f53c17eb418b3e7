// Package pipeline orchestrates OCR extraction, completion, and persistence
// for one queued asset at a time.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"amberscan/internal/util"
	"amberscan/pkg/domain"
	"amberscan/pkg/queue"
	"amberscan/pkg/storage"
	"amberscan/pkg/store"
)

// Extractor converts an asset file into normalized text.
type Extractor interface {
	Extract(ctx context.Context, path string) (string, error)
	ExtractPDF(ctx context.Context, path string) (string, error)
}

// Completer converts OCR text into a structured extraction.
type Completer interface {
	Complete(ctx context.Context, ocrText string) (domain.Extraction, error)
}

// Failure classes reported in task results.
var (
	ErrAssetNotFound     = errors.New("asset not found")
	ErrNoTextExtracted   = errors.New("no text extracted")
	ErrCompletionFailed  = errors.New("completion failed")
	ErrPersistenceFailed = errors.New("persistence failed")
)

// Processor runs the per-asset state machine:
// queued → located → extracted → completed → persisted, or failed.
type Processor struct {
	store     store.Store
	objects   storage.ObjectStore
	extractor Extractor
	completer Completer
}

func New(st store.Store, objects storage.ObjectStore, extractor Extractor, completer Completer) (*Processor, error) {
	if st == nil || objects == nil || extractor == nil || completer == nil {
		return nil, errors.New("pipeline: store, object store, extractor, and completer are required")
	}
	return &Processor{store: st, objects: objects, extractor: extractor, completer: completer}, nil
}

// Handle adapts Process to the queue handler contract. Terminal failures
// carry the Permanent marker so the queue will not redeliver them.
func (p *Processor) Handle(ctx context.Context, job queue.Job) error {
	_, err := p.Process(ctx, job.AssetPath)
	return err
}

// Process runs the full pipeline for one asset reference. It always
// returns a populated result descriptor and never panics across the task
// boundary; the error mirrors the descriptor for queue retry decisions.
func (p *Processor) Process(ctx context.Context, assetPath string) (result domain.TaskResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panic: %v", r)
			result = domain.TaskResult{AssetPath: assetPath, Status: domain.TaskError, Error: err.Error()}
			slog.Error("pipeline.panic", "asset_path", assetPath, "panic", r)
		}
	}()

	asset, ok, lookupErr := p.store.GetAssetByPath(assetPath)
	if lookupErr != nil {
		return p.fail(assetPath, "", fmt.Errorf("locate asset: %w", lookupErr))
	}
	if !ok {
		// invalid reference, retrying cannot help
		return p.fail(assetPath, "", queue.Permanent(ErrAssetNotFound))
	}
	_ = p.store.SetAssetStatus(asset.ID, domain.StatusProcessing, "")

	localPath, cleanup, fetchErr := p.fetchToTemp(ctx, asset)
	if fetchErr != nil {
		if errors.Is(fetchErr, storage.ErrObjectNotFound) {
			return p.fail(assetPath, asset.ID, queue.Permanent(fmt.Errorf("%w: blob missing", ErrAssetNotFound)))
		}
		return p.fail(assetPath, asset.ID, fmt.Errorf("fetch asset: %w", fetchErr))
	}
	defer cleanup()

	text, extractErr := p.extract(ctx, asset.Kind, localPath)
	if extractErr != nil {
		return p.fail(assetPath, asset.ID, fmt.Errorf("extract: %w", extractErr))
	}
	if strings.TrimSpace(text) == "" {
		// distinguish "image has no readable text" from an OCR outage:
		// the extractor already failed above on infra errors, so an empty
		// result here is terminal for this invocation
		return p.fail(assetPath, asset.ID, queue.Permanent(ErrNoTextExtracted))
	}

	extraction, completeErr := p.completer.Complete(ctx, text)
	if completeErr != nil {
		return p.fail(assetPath, asset.ID, fmt.Errorf("%w: %v", ErrCompletionFailed, completeErr))
	}

	receipt := buildReceipt(asset, extraction)
	if persistErr := p.store.CreateProcessedReceipt(receipt); persistErr != nil {
		if errors.Is(persistErr, store.ErrDuplicateReceipt) {
			// already persisted by an earlier delivery; at-least-once
			// redelivery lands here instead of writing a second row
			slog.Info("pipeline.duplicate", "asset_path", assetPath, "asset_id", asset.ID)
			return domain.TaskResult{AssetPath: assetPath, Status: domain.TaskSuccess}, nil
		}
		return p.fail(assetPath, asset.ID, fmt.Errorf("%w: %v", ErrPersistenceFailed, persistErr))
	}

	slog.Info("pipeline.processed", "asset_path", assetPath, "asset_id", asset.ID)
	return domain.TaskResult{AssetPath: assetPath, Status: domain.TaskSuccess}, nil
}

func (p *Processor) extract(ctx context.Context, kind domain.AssetKind, path string) (string, error) {
	if kind == domain.KindPDF {
		return p.extractor.ExtractPDF(ctx, path)
	}
	return p.extractor.Extract(ctx, path)
}

// fetchToTemp resolves the asset blob to a local file for the OCR call.
func (p *Processor) fetchToTemp(ctx context.Context, asset domain.Asset) (string, func(), error) {
	obj, err := p.objects.Get(ctx, asset.StorageKey)
	if err != nil {
		return "", nil, err
	}
	defer obj.Close()
	ext := filepath.Ext(asset.Path)
	tmp, err := os.CreateTemp("", "amberscan-*"+ext)
	if err != nil {
		return "", nil, err
	}
	if _, err := io.Copy(tmp, obj); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", nil, err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", nil, err
	}
	name := tmp.Name()
	return name, func() { _ = os.Remove(name) }, nil
}

func (p *Processor) fail(assetPath, assetID string, err error) (domain.TaskResult, error) {
	if assetID != "" {
		_ = p.store.SetAssetStatus(assetID, domain.StatusFailed, err.Error())
	}
	slog.Error("pipeline.failed", "asset_path", assetPath, "err", err)
	return domain.TaskResult{AssetPath: assetPath, Status: domain.TaskError, Error: err.Error()}, err
}

// buildReceipt maps the extraction payload onto a receipt row, defaulting
// every absent group or field to null.
func buildReceipt(asset domain.Asset, extraction domain.Extraction) domain.ProcessedReceipt {
	receipt := domain.ProcessedReceipt{
		ID:        util.NewID(),
		ClientID:  asset.ClientID,
		AssetID:   asset.ID,
		Items:     extraction.Items,
		FuelType:  extraction.FuelType,
		IsInvoice: extraction.IsInvoice,
		CreatedAt: time.Now().UTC(),
	}
	if company := extraction.CompanyDetails; company != nil {
		receipt.CompanyName = company.Name
		receipt.CompanyAddress = company.Address
		receipt.VATNumber = company.VATNumber
	}
	if tx := extraction.Transaction; tx != nil {
		receipt.TransactionDate = tx.Date
		receipt.TransactionTime = tx.Time
		receipt.PaymentMethod = tx.PaymentMethod
	}
	if totals := extraction.Totals; totals != nil {
		receipt.TotalGross = totals.TotalGross
		receipt.TotalVAT = totals.TotalVAT
		receipt.TotalNet = totals.TotalNet
	}
	return receipt
}

// ResultJSON renders the uniform result descriptor for logs and monitoring.
func ResultJSON(result domain.TaskResult) string {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf(`{"asset_path":%q,"status":"error"}`, result.AssetPath)
	}
	return string(raw)
}

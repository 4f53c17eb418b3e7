package store

import (
	"errors"
	"testing"
	"time"

	"amberscan/pkg/domain"
)

func TestMemoryStoreClientLookups(t *testing.T) {
	st := NewMemoryStore()
	client := domain.Client{ID: "c1", Name: "acme", Email: "acme@example.com"}
	if err := st.SaveClient(client); err != nil {
		t.Fatalf("save client: %v", err)
	}

	if ok, _ := st.HasClientEmail("acme@example.com"); !ok {
		t.Fatalf("expected email to exist")
	}
	if ok, _ := st.HasClientEmail("other@example.com"); ok {
		t.Fatalf("expected unknown email to be absent")
	}
	if got, ok, _ := st.GetClientByName("acme"); !ok || got.ID != "c1" {
		t.Fatalf("expected lookup by name, got %+v ok=%v", got, ok)
	}
	if count, _ := st.ClientCount(); count != 1 {
		t.Fatalf("expected one client, got %d", count)
	}
}

func TestMemoryStoreAssetLifecycle(t *testing.T) {
	st := NewMemoryStore()
	now := time.Now().UTC()
	first := domain.Asset{ID: "a1", ClientID: "c1", Kind: domain.KindImage, Path: "images/acme/Receipts/a1-r.jpg", Status: domain.StatusQueued, CreatedAt: now}
	second := domain.Asset{ID: "a2", ClientID: "c1", Kind: domain.KindPDF, Path: "pdf/acme/Receipts/a2-r.pdf", Status: domain.StatusQueued, CreatedAt: now}
	if err := st.SaveAsset(first); err != nil {
		t.Fatalf("save asset: %v", err)
	}
	if err := st.SaveAsset(second); err != nil {
		t.Fatalf("save asset: %v", err)
	}

	images, err := st.ListAssetsByClient("c1", domain.KindImage)
	if err != nil {
		t.Fatalf("list assets: %v", err)
	}
	if len(images) != 1 || images[0].ID != "a1" {
		t.Fatalf("expected kind filter to apply, got %+v", images)
	}

	if got, ok, _ := st.GetAssetByPath("pdf/acme/Receipts/a2-r.pdf"); !ok || got.ID != "a2" {
		t.Fatalf("expected path lookup, got %+v ok=%v", got, ok)
	}

	if err := st.SetAssetStatus("a1", domain.StatusFailed, "ocr down"); err != nil {
		t.Fatalf("set status: %v", err)
	}
	if got, _, _ := st.GetAsset("a1"); got.Status != domain.StatusFailed || got.ErrorMessage != "ocr down" {
		t.Fatalf("expected failure recorded, got %+v", got)
	}
	if err := st.SetAssetStatus("missing", domain.StatusFailed, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got: %v", err)
	}

	if err := st.RenameAsset("a1", "renamed.jpg"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if got, _, _ := st.GetAsset("a1"); got.Name != "renamed.jpg" {
		t.Fatalf("expected rename to apply, got %+v", got)
	}

	if err := st.DeleteAsset("a1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := st.GetAsset("a1"); ok {
		t.Fatalf("expected asset gone after delete")
	}
	if err := st.DeleteAsset("a1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected second delete to report ErrNotFound, got: %v", err)
	}
}

func TestMemoryStoreReceiptPerAssetIsUnique(t *testing.T) {
	st := NewMemoryStore()
	asset := domain.Asset{ID: "a1", ClientID: "c1", Kind: domain.KindImage, Path: "images/acme/Receipts/a1-r.jpg", Status: domain.StatusProcessing}
	if err := st.SaveAsset(asset); err != nil {
		t.Fatalf("save asset: %v", err)
	}

	if err := st.CreateProcessedReceipt(domain.ProcessedReceipt{ID: "r1", ClientID: "c1", AssetID: "a1"}); err != nil {
		t.Fatalf("create receipt: %v", err)
	}
	if err := st.CreateProcessedReceipt(domain.ProcessedReceipt{ID: "r2", ClientID: "c1", AssetID: "a1"}); !errors.Is(err, ErrDuplicateReceipt) {
		t.Fatalf("expected ErrDuplicateReceipt, got: %v", err)
	}

	if got, _, _ := st.GetAsset("a1"); got.Status != domain.StatusProcessed {
		t.Fatalf("expected asset marked processed, got %+v", got)
	}
	receipts, err := st.ListReceiptsByClient("c1")
	if err != nil {
		t.Fatalf("list receipts: %v", err)
	}
	if len(receipts) != 1 || receipts[0].ID != "r1" {
		t.Fatalf("expected exactly the first receipt, got %+v", receipts)
	}
}

func TestMemoryStoreSecrets(t *testing.T) {
	st := NewMemoryStore()
	if _, ok, _ := st.GetSecret("vision_api_key"); ok {
		t.Fatalf("expected missing secret")
	}
	if err := st.SaveSecret("vision_api_key", "k-123"); err != nil {
		t.Fatalf("save secret: %v", err)
	}
	v, ok, err := st.GetSecret("vision_api_key")
	if err != nil || !ok || v != "k-123" {
		t.Fatalf("unexpected secret lookup: %q ok=%v err=%v", v, ok, err)
	}
}

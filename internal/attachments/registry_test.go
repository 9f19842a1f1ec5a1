package attachments_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ozonassist/internal/attachments"
	"ozonassist/internal/queue"
	"ozonassist/internal/store"
	"ozonassist/internal/testsupport"
)

func setup(t *testing.T) (*attachments.Registry, *queue.Engine) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	return attachments.New(st, cfg), queue.New(st)
}

func TestImportDeduplicatesByContent(t *testing.T) {
	registry, _ := setup(t)
	ctx := context.Background()
	data := testsupport.ImageBytes("same")

	first, err := registry.Import(ctx, data, "front.png")
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if first.Skipped {
		t.Fatal("expected first import to store the blob")
	}
	if first.Attachment.FileName != "front.png" || first.Attachment.MimeType != "image/png" {
		t.Fatalf("unexpected attachment %+v", first.Attachment)
	}
	if !strings.HasSuffix(first.Attachment.FilePath, ".png") {
		t.Fatalf("expected .png blob name, got %q", first.Attachment.FilePath)
	}

	second, err := registry.Import(ctx, data, "copy-of-front.jpg")
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if !second.Skipped || second.Attachment.ID != first.Attachment.ID {
		t.Fatalf("expected duplicate to resolve to id %d, got %+v", first.Attachment.ID, second)
	}
	if got := testsupport.CountFiles(t, registry.Dir()); got != 1 {
		t.Fatalf("expected 1 blob on disk, got %d", got)
	}
}

func TestImportRejectsEmptyAndNonImage(t *testing.T) {
	registry, _ := setup(t)
	ctx := context.Background()

	if _, err := registry.Import(ctx, nil, "empty.png"); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected ErrValidation for empty data, got %v", err)
	}
	if _, err := registry.Import(ctx, []byte("plain text"), "note.png"); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected ErrValidation for text, got %v", err)
	}
	if got := testsupport.CountFiles(t, registry.Dir()); got != 0 {
		t.Fatalf("expected no blobs written, got %d", got)
	}
}

func TestExtensionFallsBackToSniffedType(t *testing.T) {
	registry, _ := setup(t)

	res, err := registry.Import(context.Background(), testsupport.ImageBytes("noext"), "upload")
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if filepath.Ext(res.Attachment.FilePath) != ".png" {
		t.Fatalf("expected sniffed .png extension, got %q", res.Attachment.FilePath)
	}
}

func TestImportBatchCountsEachOutcome(t *testing.T) {
	registry, _ := setup(t)
	src := t.TempDir()

	testsupport.WriteFile(t, filepath.Join(src, "a.png"), testsupport.ImageBytes("a"))
	testsupport.WriteFile(t, filepath.Join(src, "b.png"), testsupport.ImageBytes("b"))
	testsupport.WriteFile(t, filepath.Join(src, "dup.png"), testsupport.ImageBytes("a"))
	testsupport.WriteFile(t, filepath.Join(src, "notes.txt"), []byte("ignored by directory scan"))
	bad := filepath.Join(t.TempDir(), "bad.png")
	testsupport.WriteFile(t, bad, []byte("not an image"))

	result, err := registry.ImportBatch(context.Background(), []string{src, bad, filepath.Join(src, "missing.png")})
	if err != nil {
		t.Fatalf("ImportBatch failed: %v", err)
	}
	if result.Imported != 2 || result.Skipped != 1 || result.Failed != 2 {
		t.Fatalf("unexpected batch result %+v", result)
	}
	if len(result.Errors) != 2 {
		t.Fatalf("expected 2 item errors, got %v", result.Errors)
	}
	if got := testsupport.CountFiles(t, registry.Dir()); got != 2 {
		t.Fatalf("expected 2 blobs, got %d", got)
	}
}

func TestLinkRequiresBothSides(t *testing.T) {
	registry, engine := setup(t)
	ctx := context.Background()

	if _, err := engine.EnqueueSKUs(ctx, "SKU-A"); err != nil {
		t.Fatalf("EnqueueSKUs failed: %v", err)
	}
	res, err := registry.Import(ctx, testsupport.ImageBytes("cert"), "cert.png")
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}

	if err := registry.Link(ctx, "SKU-A", 999); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown image, got %v", err)
	}
	if err := registry.Link(ctx, "SKU-Z", res.Attachment.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown sku, got %v", err)
	}
	if err := registry.Link(ctx, "SKU-A", res.Attachment.ID); err != nil {
		t.Fatalf("Link failed: %v", err)
	}

	item, err := engine.GetBySKU(ctx, "SKU-A")
	if err != nil {
		t.Fatalf("GetBySKU failed: %v", err)
	}
	if item.AttachmentID == nil || *item.AttachmentID != res.Attachment.ID {
		t.Fatalf("expected attachment linked, got %+v", item)
	}
	if item.AttachmentPath != res.Attachment.FilePath {
		t.Fatalf("expected joined blob path, got %q", item.AttachmentPath)
	}
}

func TestDeleteClearsReferencesAndBlob(t *testing.T) {
	registry, engine := setup(t)
	ctx := context.Background()

	if _, err := engine.EnqueueSKUs(ctx, "SKU-A"); err != nil {
		t.Fatalf("EnqueueSKUs failed: %v", err)
	}
	res, err := registry.Import(ctx, testsupport.ImageBytes("cert"), "cert.png")
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if err := registry.Link(ctx, "SKU-A", res.Attachment.ID); err != nil {
		t.Fatalf("Link failed: %v", err)
	}

	if err := registry.Delete(ctx, res.Attachment.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := os.Stat(registry.Path(res.Attachment)); !os.IsNotExist(err) {
		t.Fatalf("expected blob removed, stat err %v", err)
	}
	item, err := engine.GetBySKU(ctx, "SKU-A")
	if err != nil {
		t.Fatalf("expected complaint kept, got %v", err)
	}
	if item.AttachmentID != nil {
		t.Fatalf("expected reference cleared, got %d", *item.AttachmentID)
	}
	if err := registry.Delete(ctx, res.Attachment.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestDeleteLogsOrphanBlobWhenRemoveFails(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	registry := attachments.New(st, cfg, attachments.WithLogger(logger))
	ctx := context.Background()

	res, err := registry.Import(ctx, testsupport.ImageBytes("stuck"), "stuck.png")
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	blob := registry.Path(res.Attachment)
	if err := os.Remove(blob); err != nil {
		t.Fatalf("remove blob: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(blob, "pinned"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	if err := registry.Delete(ctx, res.Attachment.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := registry.Get(ctx, res.Attachment.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected row deleted, got %v", err)
	}
	out := logs.String()
	if !strings.Contains(out, "blob_remove_failed") || !strings.Contains(out, "orphan blob") {
		t.Fatalf("expected orphan blob warning, got %s", out)
	}
	if strings.Contains(out, "blob_missing") {
		t.Fatalf("expected remove failure not reported as missing, got %s", out)
	}
}

func TestDeleteLogsMissingBlob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	registry := attachments.New(st, cfg, attachments.WithLogger(logger))
	ctx := context.Background()

	res, err := registry.Import(ctx, testsupport.ImageBytes("gone"), "gone.png")
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if err := os.Remove(registry.Path(res.Attachment)); err != nil {
		t.Fatalf("remove blob: %v", err)
	}
	if err := registry.Delete(ctx, res.Attachment.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	out := logs.String()
	if !strings.Contains(out, "blob_missing") || strings.Contains(out, "blob_remove_failed") {
		t.Fatalf("expected missing blob warning only, got %s", out)
	}
}

func TestRemovingComplaintKeepsAttachment(t *testing.T) {
	registry, engine := setup(t)
	ctx := context.Background()

	if _, err := engine.EnqueueSKUs(ctx, "SKU-A"); err != nil {
		t.Fatalf("EnqueueSKUs failed: %v", err)
	}
	res, err := registry.Import(ctx, testsupport.ImageBytes("cert"), "cert.png")
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if err := registry.Link(ctx, "SKU-A", res.Attachment.ID); err != nil {
		t.Fatalf("Link failed: %v", err)
	}
	item, err := engine.GetBySKU(ctx, "SKU-A")
	if err != nil {
		t.Fatalf("GetBySKU failed: %v", err)
	}
	if err := engine.Remove(ctx, item.ID); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := registry.Get(ctx, res.Attachment.ID); err != nil {
		t.Fatalf("expected attachment kept, got %v", err)
	}
}

func TestPickRandom(t *testing.T) {
	registry, _ := setup(t)
	ctx := context.Background()

	none, err := registry.PickRandom(ctx)
	if err != nil {
		t.Fatalf("PickRandom failed: %v", err)
	}
	if none != nil {
		t.Fatalf("expected nil from empty registry, got %+v", none)
	}

	ids := map[int64]bool{}
	for _, seed := range []string{"a", "b", "c"} {
		res, err := registry.Import(ctx, testsupport.ImageBytes(seed), seed+".png")
		if err != nil {
			t.Fatalf("Import failed: %v", err)
		}
		ids[res.Attachment.ID] = true
	}
	for i := 0; i < 20; i++ {
		got, err := registry.PickRandom(ctx)
		if err != nil {
			t.Fatalf("PickRandom failed: %v", err)
		}
		if got == nil || !ids[got.ID] {
			t.Fatalf("expected one of the stored attachments, got %+v", got)
		}
	}
}

func TestListReportsMissingBlobs(t *testing.T) {
	registry, _ := setup(t)
	ctx := context.Background()

	kept, err := registry.Import(ctx, testsupport.ImageBytes("kept"), "kept.png")
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	lost, err := registry.Import(ctx, testsupport.ImageBytes("lost"), "lost.png")
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if err := os.Remove(registry.Path(lost.Attachment)); err != nil {
		t.Fatalf("remove blob: %v", err)
	}

	page, err := registry.List(ctx, attachments.ListFilter{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if page.Total != 2 || page.TotalSize != kept.Attachment.FileSize+lost.Attachment.FileSize {
		t.Fatalf("unexpected totals %+v", page)
	}
	for _, entry := range page.Items {
		if entry.Missing != (entry.ID == lost.Attachment.ID) {
			t.Fatalf("unexpected missing flag for %d: %v", entry.ID, entry.Missing)
		}
	}

	page, err = registry.List(ctx, attachments.ListFilter{Search: "kept"})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if page.Total != 1 || page.Items[0].ID != kept.Attachment.ID {
		t.Fatalf("unexpected search page %+v", page)
	}
}

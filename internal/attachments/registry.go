package attachments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"ozonassist/internal/config"
	"ozonassist/internal/events"
	"ozonassist/internal/fileutil"
	"ozonassist/internal/logging"
	"ozonassist/internal/metrics"
	"ozonassist/internal/store"
	"ozonassist/internal/textutil"
)

const defaultExtension = ".png"

// Registry manages attachment rows and their blobs on disk.
type Registry struct {
	store     *store.Store
	dir       string
	workers   int
	maxBytes  int64
	publisher events.Publisher
	recorder  *metrics.Recorder
	logger    *slog.Logger
}

// Option customizes a Registry.
type Option func(*Registry)

// WithPublisher sets the change-event sink.
func WithPublisher(p events.Publisher) Option {
	return func(r *Registry) { r.publisher = p }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(rec *metrics.Recorder) Option {
	return func(r *Registry) { r.recorder = rec }
}

// WithLogger sets the base logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// New builds a Registry storing blobs under cfg's attachment directory.
func New(st *store.Store, cfg *config.Config, opts ...Option) *Registry {
	r := &Registry{
		store:    st,
		dir:      cfg.Paths.AttachmentDir,
		workers:  cfg.Attachments.ImportWorkers,
		maxBytes: int64(cfg.Server.MaxUploadMiB) << 20,
	}
	if r.workers <= 0 {
		r.workers = 1
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.NewComponentLogger(r.logger, "attachments")
	return r
}

// Dir returns the blob directory.
func (r *Registry) Dir() string {
	return r.dir
}

// MaxBytes is the largest accepted attachment.
func (r *Registry) MaxBytes() int64 {
	return r.maxBytes
}

// Path resolves the blob backing a on disk.
func (r *Registry) Path(a *store.Attachment) string {
	return filepath.Join(r.dir, filepath.Base(a.FilePath))
}

func (r *Registry) publish(topics ...events.Topic) {
	if r.publisher == nil {
		return
	}
	for _, topic := range topics {
		r.publisher.Publish(topic)
	}
}

// Result describes one import.
type Result struct {
	Attachment *store.Attachment
	// Skipped is true when identical bytes were already stored; Attachment is
	// then the existing row.
	Skipped bool
}

type prepared struct {
	name        string
	data        []byte
	fingerprint string
	mime        *mimetype.MIME
}

func (r *Registry) prepare(data []byte, name string) (prepared, error) {
	if len(data) == 0 {
		return prepared{}, store.Validationf("attachment %q is empty", name)
	}
	if r.maxBytes > 0 && int64(len(data)) > r.maxBytes {
		return prepared{}, store.Validationf("attachment %q exceeds %d bytes", name, r.maxBytes)
	}
	mime := mimetype.Detect(data)
	if !strings.HasPrefix(mime.String(), "image/") {
		return prepared{}, store.Validationf("attachment %q is %s, not an image", name, mime.String())
	}
	return prepared{
		name:        textutil.SanitizeFileName(name),
		data:        data,
		fingerprint: fileutil.Fingerprint(data),
		mime:        mime,
	}, nil
}

// Import stores data unless an attachment with the same fingerprint exists.
func (r *Registry) Import(ctx context.Context, data []byte, originalName string) (Result, error) {
	p, err := r.prepare(data, originalName)
	if err != nil {
		r.recorder.Import("failed", 1)
		return Result{}, err
	}
	result, err := r.persist(ctx, p)
	if err != nil {
		r.recorder.Import("failed", 1)
		return Result{}, err
	}
	r.finishImport(result)
	return result, nil
}

func (r *Registry) finishImport(result Result) {
	if result.Skipped {
		r.recorder.Import("skipped", 1)
		r.logger.Debug("attachment already stored",
			logging.Int64(logging.FieldAttachmentID, result.Attachment.ID),
			logging.String("fingerprint", result.Attachment.Fingerprint),
		)
		return
	}
	r.recorder.Import("imported", 1)
	r.logger.Info("attachment imported",
		logging.Int64(logging.FieldAttachmentID, result.Attachment.ID),
		logging.String("file_name", result.Attachment.FileName),
		logging.Int64("file_size", result.Attachment.FileSize),
		logging.String(logging.FieldEventType, "attachment_imported"),
	)
	r.publish(events.TopicAttachments)
}

// persist stores one prepared attachment. A concurrent import of the same
// bytes may win the insert; the loser drops its blob and reports Skipped.
func (r *Registry) persist(ctx context.Context, p prepared) (Result, error) {
	existing, err := r.byFingerprint(ctx, p.fingerprint)
	if err != nil {
		return Result{}, err
	}
	if existing != nil {
		return Result{Attachment: existing, Skipped: true}, nil
	}

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return Result{}, fmt.Errorf("ensure attachment dir: %w", err)
	}
	blob := uuid.NewString() + r.extension(p)
	blobPath := filepath.Join(r.dir, blob)
	if err := fileutil.WriteFileAtomic(blobPath, p.data, 0o644); err != nil {
		return Result{}, fmt.Errorf("write attachment blob: %w", err)
	}

	fileName := p.name
	if fileName == "" {
		fileName = blob
	}
	res, err := r.store.Exec(ctx,
		`INSERT INTO images (file_path, file_name, file_size, fingerprint, mime_type, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(fingerprint) DO NOTHING`,
		blob, fileName, len(p.data), p.fingerprint, p.mime.String(), store.FormatTime(store.Now()),
	)
	if err != nil {
		r.removeBlob(blobPath)
		return Result{}, fmt.Errorf("insert attachment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		r.removeBlob(blobPath)
		return Result{}, fmt.Errorf("insert attachment: %w", err)
	}
	if affected == 0 {
		r.removeBlob(blobPath)
		existing, err := r.byFingerprint(ctx, p.fingerprint)
		if err != nil {
			return Result{}, err
		}
		if existing == nil {
			return Result{}, fmt.Errorf("attachment %s vanished after conflict", p.fingerprint)
		}
		return Result{Attachment: existing, Skipped: true}, nil
	}

	id, err := res.LastInsertId()
	if err != nil {
		return Result{}, fmt.Errorf("insert attachment: %w", err)
	}
	att, err := r.Get(ctx, id)
	if err != nil {
		return Result{}, err
	}
	return Result{Attachment: att}, nil
}

func (r *Registry) extension(p prepared) string {
	if ext := strings.ToLower(filepath.Ext(p.name)); len(ext) > 1 && len(ext) <= 6 {
		return ext
	}
	if ext := p.mime.Extension(); ext != "" {
		return ext
	}
	return defaultExtension
}

func (r *Registry) removeBlob(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logging.WarnWithContext(r.logger, "failed to remove attachment blob", "blob_remove_failed",
			logging.String("path", path),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check attachment directory permissions"),
			logging.String(logging.FieldImpact, "an unreferenced file remains on disk"),
		)
	}
}

func (r *Registry) byFingerprint(ctx context.Context, fingerprint string) (*store.Attachment, error) {
	att, err := store.ScanAttachment(r.store.QueryRow(ctx,
		`SELECT `+store.AttachmentColumns+` FROM images WHERE fingerprint = ?`, fingerprint))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup attachment fingerprint: %w", err)
	}
	return att, nil
}

// Get returns the attachment with id or store.ErrNotFound.
func (r *Registry) Get(ctx context.Context, id int64) (*store.Attachment, error) {
	att, err := store.ScanAttachment(r.store.QueryRow(ctx,
		`SELECT `+store.AttachmentColumns+` FROM images WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.NotFoundf("image %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get attachment: %w", err)
	}
	return att, nil
}

// Link binds attachment id to the complaint keyed by sku. Both must exist.
func (r *Registry) Link(ctx context.Context, sku string, id int64) error {
	sku = textutil.NormalizeSKU(sku)
	if sku == "" {
		return store.Validationf("sku is required")
	}
	if id <= 0 {
		return store.Validationf("invalid image id %d", id)
	}

	stamp := store.FormatTime(store.Now())
	err := r.store.WithTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM images WHERE id = ?`, id).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return store.NotFoundf("image %d not found", id)
		}
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE complaints SET image_id = ?, updated_at = ? WHERE sku = ?`, id, stamp, sku)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return store.NotFoundf("complaint %q not found", sku)
		}
		return nil
	})
	if err != nil {
		if store.IsExpected(err) {
			return err
		}
		return fmt.Errorf("link attachment: %w", err)
	}

	r.logger.Info("attachment linked",
		logging.String(logging.FieldSKU, sku),
		logging.Int64(logging.FieldAttachmentID, id),
		logging.String(logging.FieldEventType, "attachment_linked"),
	)
	r.publish(events.TopicQueue)
	return nil
}

// Delete removes attachment id. Complaints referencing it keep their row with
// the reference cleared. The blob is removed after the row is gone.
func (r *Registry) Delete(ctx context.Context, id int64) error {
	var (
		blob     string
		unlinked int64
	)
	err := r.store.WithTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `SELECT file_path FROM images WHERE id = ?`, id).Scan(&blob)
		if errors.Is(err, sql.ErrNoRows) {
			return store.NotFoundf("image %d not found", id)
		}
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `UPDATE complaints SET image_id = NULL WHERE image_id = ?`, id)
		if err != nil {
			return err
		}
		if unlinked, err = res.RowsAffected(); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM images WHERE id = ?`, id)
		return err
	})
	if err != nil {
		if store.IsExpected(err) {
			return err
		}
		return fmt.Errorf("delete attachment: %w", err)
	}

	path := filepath.Join(r.dir, filepath.Base(blob))
	switch err := os.Remove(path); {
	case err == nil:
	case errors.Is(err, os.ErrNotExist):
		logging.WarnWithContext(r.logger, "attachment blob missing on delete", "blob_missing",
			logging.Int64(logging.FieldAttachmentID, id),
			logging.String("path", path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "row deleted; nothing to clean on disk"),
		)
	default:
		logging.WarnWithContext(r.logger, "attachment blob could not be removed", "blob_remove_failed",
			logging.Int64(logging.FieldAttachmentID, id),
			logging.String("path", path),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check attachment_dir permissions and remove the file by hand"),
			logging.String(logging.FieldImpact, "row deleted; orphan blob left on disk"),
		)
	}

	r.logger.Info("attachment deleted",
		logging.Int64(logging.FieldAttachmentID, id),
		logging.Int64("unlinked_complaints", unlinked),
		logging.String(logging.FieldEventType, "attachment_deleted"),
	)
	if unlinked > 0 {
		r.publish(events.TopicAttachments, events.TopicQueue)
	} else {
		r.publish(events.TopicAttachments)
	}
	return nil
}

// PickRandom returns an attachment drawn by id range, or nil when none exist.
// Gaps in the id sequence make the draw approximately, not exactly, uniform.
func (r *Registry) PickRandom(ctx context.Context) (*store.Attachment, error) {
	var minID, maxID sql.NullInt64
	if err := r.store.QueryRow(ctx, `SELECT MIN(id), MAX(id) FROM images`).Scan(&minID, &maxID); err != nil {
		return nil, fmt.Errorf("attachment id range: %w", err)
	}
	if !minID.Valid || !maxID.Valid {
		return nil, nil
	}

	target := minID.Int64 + rand.Int64N(maxID.Int64-minID.Int64+1)
	att, err := store.ScanAttachment(r.store.QueryRow(ctx,
		`SELECT `+store.AttachmentColumns+` FROM images WHERE id >= ? ORDER BY id LIMIT 1`, target))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pick random attachment: %w", err)
	}
	return att, nil
}

package attachments

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"ozonassist/internal/events"
	"ozonassist/internal/fileutil"
	"ozonassist/internal/logging"
)

var imageExtensions = map[string]struct{}{
	".png":  {},
	".jpg":  {},
	".jpeg": {},
	".gif":  {},
	".webp": {},
	".bmp":  {},
}

// ItemError records why one path in a batch failed.
type ItemError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// BatchResult summarizes ImportBatch.
type BatchResult struct {
	Imported int
	Skipped  int
	Failed   int
	Errors   []ItemError
}

// ImportBatch imports every file in paths. A directory contributes the image
// files directly inside it. Files are read and fingerprinted concurrently and
// stored one at a time; a failure is counted and never stops the batch.
func (r *Registry) ImportBatch(ctx context.Context, paths []string) (BatchResult, error) {
	var result BatchResult
	files := r.expand(paths, &result)

	type slot struct {
		p   prepared
		err error
	}
	slots := make([]slot, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i, path := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			data, err := fileutil.ReadFileLimited(path, r.maxBytes)
			if err != nil {
				slots[i].err = err
				return nil
			}
			slots[i].p, slots[i].err = r.prepare(data, filepath.Base(path))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}

	imported := false
	for i, path := range files {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if slots[i].err != nil {
			result.fail(path, slots[i].err)
			continue
		}
		res, err := r.persist(ctx, slots[i].p)
		if err != nil {
			result.fail(path, err)
			continue
		}
		if res.Skipped {
			result.Skipped++
			continue
		}
		result.Imported++
		imported = true
	}

	r.recorder.Import("imported", result.Imported)
	r.recorder.Import("skipped", result.Skipped)
	r.recorder.Import("failed", result.Failed)
	r.logger.Info("attachment batch imported",
		logging.Int("imported", result.Imported),
		logging.Int("skipped", result.Skipped),
		logging.Int("failed", result.Failed),
		logging.String(logging.FieldEventType, "attachment_batch_imported"),
	)
	if imported {
		r.publish(events.TopicAttachments)
	}
	return result, nil
}

func (b *BatchResult) fail(path string, err error) {
	b.Failed++
	b.Errors = append(b.Errors, ItemError{Path: path, Message: err.Error()})
}

func (r *Registry) expand(paths []string, result *BatchResult) []string {
	var files []string
	for _, raw := range paths {
		path := strings.TrimSpace(raw)
		if path == "" {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			result.fail(path, err)
			continue
		}
		if !info.IsDir() {
			files = append(files, path)
			continue
		}
		entries, err := os.ReadDir(path)
		if err != nil {
			result.fail(path, err)
			continue
		}
		var found []string
		for _, entry := range entries {
			if !entry.Type().IsRegular() {
				continue
			}
			if _, ok := imageExtensions[strings.ToLower(filepath.Ext(entry.Name()))]; ok {
				found = append(found, filepath.Join(path, entry.Name()))
			}
		}
		sort.Strings(found)
		files = append(files, found...)
	}
	return files
}

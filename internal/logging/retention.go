package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

// PruneRunLogs keeps the newest keep files in dir matching pattern and removes
// the rest. The file named current is never removed. keep <= 0 disables pruning.
func PruneRunLogs(logger *slog.Logger, dir, pattern, current string, keep int) int {
	if keep <= 0 || dir == "" {
		return 0
	}
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil || len(matches) <= keep {
		return 0
	}

	type candidate struct {
		path string
		mod  int64
	}
	candidates := make([]candidate, 0, len(matches))
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		candidates = append(candidates, candidate{path: path, mod: info.ModTime().UnixNano()})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].mod > candidates[j].mod })

	removed := 0
	for i, c := range candidates {
		if i < keep || c.path == current {
			continue
		}
		if err := os.Remove(c.path); err != nil {
			WarnWithContext(logger, "log retention remove failed; file remains", "log_retention_failed",
				String("path", c.path),
				Error(err),
				String(FieldErrorHint, "check file permissions and log_dir ownership"),
				String(FieldImpact, "old log file remains on disk"),
			)
			continue
		}
		removed++
	}
	if removed > 0 && logger != nil {
		logger.Info("old run logs pruned", Int("removed", removed), String(FieldEventType, "log_pruned"))
	}
	return removed
}

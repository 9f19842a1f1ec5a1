package preflight

import (
	"context"
	"strings"

	"ozonassist/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Attachment directory", cfg.Paths.AttachmentDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
	}

	// ntfy is optional
	if topic := strings.TrimSpace(cfg.Notifications.NtfyTopic); topic != "" {
		results = append(results, CheckNtfy(ctx, topic))
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}

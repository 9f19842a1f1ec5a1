package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"ozonassist/internal/preflight"
)

func newHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check directories, alerts, and the daemon's database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			stdout := cmd.OutOrStdout()
			colorize := shouldColorize(stdout)

			printSection(stdout, "Preflight", colorize)
			results := preflight.RunAll(cmd.Context(), cfg)
			for _, r := range results {
				fmt.Fprintln(stdout, renderStatusLine(r.Name, passKind(r.Passed), r.Detail, colorize))
			}
			fmt.Fprintln(stdout)

			printSection(stdout, "Database", colorize)
			health, err := ctx.client().Health(cmd.Context())
			if err != nil {
				fmt.Fprintln(stdout, renderStatusLine("Daemon", statusError, wrapDialError(err, ctx.serverURL()).Error(), colorize))
				return fmt.Errorf("health check incomplete")
			}
			fmt.Fprintln(stdout, renderStatusLine("Path", statusInfo, health.DBPath, colorize))
			fmt.Fprintln(stdout, renderStatusLine("Journal mode", statusInfo, health.JournalMode, colorize))
			fmt.Fprintln(stdout, renderStatusLine("Integrity", passKind(health.IntegrityCheck), health.IntegrityDetail, colorize))
			schemaDetail := "complete"
			if len(health.MissingColumns) > 0 {
				schemaDetail = fmt.Sprintf("missing %v", health.MissingColumns)
			}
			fmt.Fprintln(stdout, renderStatusLine("Schema", passKind(len(health.MissingColumns) == 0), schemaDetail, colorize))
			fmt.Fprintln(stdout, renderStatusLine("Complaints", statusInfo, strconv.Itoa(health.Complaints), colorize))
			fmt.Fprintln(stdout, renderStatusLine("Images", statusInfo, strconv.Itoa(health.Images), colorize))
			fmt.Fprintln(stdout, renderStatusLine("Healthy", passKind(health.Healthy), yesNo(health.Healthy), colorize))

			if len(preflight.Failed(results)) > 0 || !health.Healthy {
				return fmt.Errorf("health check failed")
			}
			return nil
		},
	}
}

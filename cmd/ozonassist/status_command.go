package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"ozonassist/internal/api"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			server := ctx.serverURL()
			c := ctx.client()
			ping, err := c.Status(cmd.Context())
			if err != nil {
				return wrapDialError(err, server)
			}
			stats, err := c.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, map[string]any{"server": ping, "stats": stats})
			}

			stdout := cmd.OutOrStdout()
			colorize := shouldColorize(stdout)

			printSection(stdout, "Daemon", colorize)
			fmt.Fprintln(stdout, renderStatusLine("Server", statusOK, server, colorize))
			fmt.Fprintln(stdout, renderStatusLine("Port", statusInfo, strconv.Itoa(ping.Port), colorize))
			fmt.Fprintln(stdout, renderStatusLine("Images", statusInfo, strconv.Itoa(stats.Images), colorize))
			fmt.Fprintln(stdout)

			printSection(stdout, "Queue Status", colorize)
			rows := buildStatsRows(stats)
			if len(rows) == 0 {
				fmt.Fprintln(stdout, "Queue is empty")
				return nil
			}
			fmt.Fprintln(stdout, renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func buildStatsRows(stats api.Stats) [][]string {
	if stats.Total == 0 {
		return nil
	}
	counts := []struct {
		label string
		count int
	}{
		{"pending", stats.Pending},
		{"processing", stats.Processing},
		{"success", stats.Success},
		{"failed", stats.Failed},
		{"timeout", stats.Timeout},
	}
	rows := make([][]string, 0, len(counts)+1)
	for _, entry := range counts {
		if entry.count == 0 {
			continue
		}
		rows = append(rows, []string{entry.label, strconv.Itoa(entry.count)})
	}
	return append(rows, []string{"total", strconv.Itoa(stats.Total)})
}

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"ozonassist/internal/api"
	"ozonassist/internal/client"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage complaints",
	}

	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueStatsCommand(ctx))
	queueCmd.AddCommand(newQueueImportCommand(ctx))
	queueCmd.AddCommand(newQueueResetCommand(ctx))
	queueCmd.AddCommand(newQueueRemoveCommand(ctx))
	queueCmd.AddCommand(newQueueSetStatusCommand(ctx))

	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var (
		query  client.ComplaintQuery
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List complaints",
		RunE: func(cmd *cobra.Command, args []string) error {
			page, err := ctx.client().ListComplaints(cmd.Context(), query)
			if err != nil {
				return wrapDialError(err, ctx.serverURL())
			}
			if asJSON {
				return writeJSON(cmd, page)
			}
			out := cmd.OutOrStdout()
			if len(page.Items) == 0 {
				fmt.Fprintln(out, "No complaints match")
				return nil
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "SKU", "Status", "Image", "Remark", "Updated"},
				buildComplaintRows(page.Items),
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
			))
			fmt.Fprintf(out, "Page %d, %d of %d complaints\n", page.Page, len(page.Items), page.Total)
			return nil
		},
	}
	cmd.Flags().StringVar(&query.SKU, "sku", "", "Filter by SKU substring")
	cmd.Flags().StringSliceVar(&query.Statuses, "status", nil, "Filter by status (repeatable)")
	cmd.Flags().StringVar(&query.Date, "date", "", "Only complaints created on this day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&query.From, "from", "", "Created on or after this day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&query.To, "to", "", "Created on or before this day (YYYY-MM-DD)")
	cmd.Flags().IntVar(&query.Page, "page", 1, "Page number")
	cmd.Flags().IntVar(&query.PageSize, "page-size", 50, "Rows per page")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func buildComplaintRows(items []api.Complaint) [][]string {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		image := "-"
		if item.ImageID != nil {
			image = strconv.FormatInt(*item.ImageID, 10)
		}
		rows = append(rows, []string{
			strconv.FormatInt(item.ID, 10),
			item.SKU,
			item.Status,
			image,
			truncate(item.Remark, 40),
			item.UpdatedAt,
		})
	}
	return rows
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit-1]) + "…"
}

func newQueueStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show complaint counts by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := ctx.client().Stats(cmd.Context())
			if err != nil {
				return wrapDialError(err, ctx.serverURL())
			}
			rows := buildStatsRows(stats)
			if len(rows) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
			return nil
		},
	}
}

func newQueueImportCommand(ctx *commandContext) *cobra.Command {
	var skus []string

	cmd := &cobra.Command{
		Use:   "import [file...]",
		Short: "Enqueue complaints from files of \"sku[,reason]\" lines, stdin (-), or --sku",
		RunE: func(cmd *cobra.Command, args []string) error {
			var text strings.Builder
			for _, arg := range args {
				data, err := readInput(cmd, arg)
				if err != nil {
					return err
				}
				text.Write(data)
				text.WriteByte('\n')
			}
			if len(skus) == 0 && strings.TrimSpace(text.String()) == "" {
				return errors.New("nothing to import: pass files, - for stdin, or --sku")
			}
			result, err := ctx.client().Enqueue(cmd.Context(), skus, text.String())
			if err != nil {
				return wrapDialError(err, ctx.serverURL())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Enqueued %d complaints (%d already queued)\n", result.Inserted, result.Skipped)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&skus, "sku", nil, "SKU to enqueue (repeatable)")
	return cmd
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func newQueueResetCommand(ctx *commandContext) *cobra.Command {
	var statuses []string

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Return failed and timed-out complaints to pending",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := ctx.client().Reset(cmd.Context(), statuses...)
			if err != nil {
				return wrapDialError(err, ctx.serverURL())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reset %d complaints to pending\n", result.Reset)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Statuses to reset (default failed,timeout)")
	return cmd
}

func newQueueRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>...",
		Short: "Delete complaints",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			c := ctx.client()
			for _, id := range ids {
				if err := c.RemoveComplaint(cmd.Context(), id); err != nil {
					return wrapDialError(err, ctx.serverURL())
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed complaint %d\n", id)
			}
			return nil
		},
	}
}

func newQueueSetStatusCommand(ctx *commandContext) *cobra.Command {
	var remark string

	cmd := &cobra.Command{
		Use:   "set-status <id> <status>",
		Short: "Override a complaint's status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args[:1])
			if err != nil {
				return err
			}
			var remarkPtr *string
			if cmd.Flags().Changed("remark") {
				remarkPtr = &remark
			}
			item, err := ctx.client().SetStatus(cmd.Context(), ids[0], args[1], remarkPtr)
			if err != nil {
				return wrapDialError(err, ctx.serverURL())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Complaint %d (%s) is now %s\n", item.ID, item.SKU, item.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&remark, "remark", "", "Replace the complaint remark")
	return cmd
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

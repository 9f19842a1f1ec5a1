package main

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"ozonassist/internal/api"
	"ozonassist/internal/config"
)

func newImagesCommand(ctx *commandContext) *cobra.Command {
	imagesCmd := &cobra.Command{
		Use:     "images",
		Aliases: []string{"image"},
		Short:   "Manage proof images",
	}

	imagesCmd.AddCommand(newImagesListCommand(ctx))
	imagesCmd.AddCommand(newImagesImportCommand(ctx))
	imagesCmd.AddCommand(newImagesRemoveCommand(ctx))

	return imagesCmd
}

func newImagesListCommand(ctx *commandContext) *cobra.Command {
	var (
		search   string
		page     int
		pageSize int
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored images",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := ctx.client().ListImages(cmd.Context(), search, page, pageSize)
			if err != nil {
				return wrapDialError(err, ctx.serverURL())
			}
			if asJSON {
				return writeJSON(cmd, result)
			}
			out := cmd.OutOrStdout()
			if len(result.Items) == 0 {
				fmt.Fprintln(out, "No images stored")
				return nil
			}
			colorize := shouldColorize(out)
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "Name", "Size", "Type", "File"},
				buildImageRows(result.Items, colorize),
				[]columnAlignment{alignRight, alignLeft, alignRight, alignLeft, alignLeft},
			))
			fmt.Fprintf(out, "Page %d, %d of %d images, %s total\n", result.Page, len(result.Items), result.Total, humanBytes(result.TotalSize))
			return nil
		},
	}
	cmd.Flags().StringVar(&search, "search", "", "Filter by file name")
	cmd.Flags().IntVar(&page, "page", 1, "Page number")
	cmd.Flags().IntVar(&pageSize, "page-size", 50, "Rows per page")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func buildImageRows(items []api.Image, colorize bool) [][]string {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		file := item.FilePath
		if item.Missing {
			file += " (missing)"
			if colorize {
				file = text.FgRed.Sprint(file)
			}
		}
		rows = append(rows, []string{
			strconv.FormatInt(item.ID, 10),
			truncate(item.FileName, 40),
			humanBytes(item.FileSize),
			item.MimeType,
			file,
		})
	}
	return rows
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func newImagesImportCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "import <path>...",
		Short: "Import image files or directories on the daemon host",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths := make([]string, 0, len(args))
			for _, arg := range args {
				expanded, err := config.ExpandPath(arg)
				if err != nil {
					return err
				}
				paths = append(paths, filepath.Clean(expanded))
			}
			result, err := ctx.client().ImportImages(cmd.Context(), paths)
			if err != nil {
				return wrapDialError(err, ctx.serverURL())
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Imported %d, skipped %d duplicates, %d failed\n", result.Imported, result.Skipped, result.Failed)
			for _, e := range result.Errors {
				fmt.Fprintf(out, "  %s: %s\n", e.Path, e.Message)
			}
			return nil
		},
	}
}

func newImagesRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>...",
		Short: "Delete images and unlink them from complaints",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			c := ctx.client()
			for _, id := range ids {
				if err := c.DeleteImage(cmd.Context(), id); err != nil {
					return wrapDialError(err, ctx.serverURL())
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed image %d\n", id)
			}
			return nil
		},
	}
}

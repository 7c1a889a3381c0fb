package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/sha1n/mcp-tender-kb/internal/app"
	"github.com/sha1n/mcp-tender-kb/internal/config"
	"github.com/sha1n/mcp-tender-kb/internal/docx"
	"github.com/sha1n/mcp-tender-kb/internal/extract"
	"github.com/sha1n/mcp-tender-kb/internal/retrieval"
	"github.com/sha1n/mcp-tender-kb/internal/storage"
	"github.com/spf13/cobra"
)

// withStack loads settings from the command flags, opens the service stack
// and runs fn against it.
func withStack(cmd *cobra.Command, fn func(ctx context.Context, settings *config.Settings, stack *app.Stack) error) error {
	settings, err := config.LoadSettingsWithFlags(cmd.Flags())
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	if err := config.ValidateSettings(settings); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	app.ConfigureLogging(settings.LogLevel)

	stack, err := app.NewStack(settings)
	if err != nil {
		return err
	}
	defer stack.Close()

	return fn(cmd.Context(), settings, stack)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// optionalFlag returns the trimmed flag value, or nil when it is blank.
func optionalFlag(cmd *cobra.Command, name string) *string {
	v, _ := cmd.Flags().GetString(name)
	if v = strings.TrimSpace(v); v == "" {
		return nil
	}
	return &v
}

func newIngestCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest <file>",
		Short: "Chunk a .docx or .txt file into the knowledge base",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			title, _ := cmd.Flags().GetString("title")
			tag := optionalFlag(cmd, "tag")
			return withStack(cmd, func(ctx context.Context, _ *config.Settings, stack *app.Stack) error {
				res, err := stack.KB.IngestPath(ctx, args[0], title, tag)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"doc_id": res.Document.ID,
					"title":  res.Document.Title,
					"tier":   res.Tier,
					"blocks": len(res.Blocks),
				})
			})
		},
	}
	app.RegisterStorageFlags(cmd.Flags())
	cmd.Flags().String("title", "", "Document title (default: file name)")
	cmd.Flags().String("tag", "", "Tag assigned to every block")
	return cmd
}

func newBulkIngestCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bulk-ingest <dir>",
		Short: "Ingest every .docx and .txt file under a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tag := optionalFlag(cmd, "tag")
			return withStack(cmd, func(ctx context.Context, settings *config.Settings, stack *app.Stack) error {
				items, err := stack.KB.BulkIngest(ctx, args[0], tag, settings.Ingest.Concurrency)
				if err != nil {
					return err
				}
				if err := printJSON(cmd.OutOrStdout(), items); err != nil {
					return err
				}
				failed := 0
				for _, it := range items {
					if it.Error != "" {
						failed++
					}
				}
				if failed > 0 {
					return fmt.Errorf("%d of %d files failed to ingest", failed, len(items))
				}
				return nil
			})
		},
	}
	app.RegisterStorageFlags(cmd.Flags())
	cmd.Flags().String("tag", "", "Tag assigned to every block")
	return cmd
}

func newSearchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search knowledge-base blocks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			query, _ := cmd.Flags().GetString("query")
			tag, _ := cmd.Flags().GetString("tag")
			keywords, _ := cmd.Flags().GetStringSlice("title-keyword")
			raw := retrieval.RawSearchParams{Query: query, Tag: tag}
			if len(keywords) > 0 {
				raw.TitleKeywords = keywords
			}
			for name, dst := range map[string]*any{"page": &raw.Page, "page-size": &raw.PageSize, "top-k": &raw.TopK} {
				if cmd.Flags().Changed(name) {
					v, _ := cmd.Flags().GetInt(name)
					*dst = v
				}
			}
			params, err := retrieval.ParseSearchParams(raw)
			if err != nil {
				return err
			}
			return withStack(cmd, func(ctx context.Context, _ *config.Settings, stack *app.Stack) error {
				page, err := stack.KB.Search(ctx, params)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), page)
			})
		},
	}
	app.RegisterStorageFlags(cmd.Flags())
	cmd.Flags().StringP("query", "q", "", "Text the block content must contain")
	cmd.Flags().String("tag", "", "Exact block tag filter")
	cmd.Flags().StringSlice("title-keyword", nil, "Keywords boosting section title matches (repeatable)")
	cmd.Flags().Int("page", 1, "Page number")
	cmd.Flags().Int("page-size", 10, "Results per page")
	cmd.Flags().Int("top-k", 0, "Maximum number of results before paging")
	return cmd
}

func newExtractCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract <file>",
		Short: "Extract basic facts and qualification requirements from a tender document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			xlsxPath, _ := cmd.Flags().GetString("xlsx")
			settings, err := config.LoadSettingsWithFlags(cmd.Flags())
			if err != nil {
				return fmt.Errorf("failed to load settings: %w", err)
			}
			if settings.Extract.LinesPerPage <= 0 {
				return fmt.Errorf("lines-per-page must be positive")
			}
			app.ConfigureLogging(settings.LogLevel)

			src, err := docx.LoadParagraphs(args[0])
			if err != nil {
				return err
			}
			result := extract.New(settings.Extract.LinesPerPage).Extract(src.Text())

			if xlsxPath != "" {
				if err := storage.WriteAtomic(xlsxPath, func(w io.Writer) error {
					return extract.WriteXLSX(w, result)
				}); err != nil {
					return err
				}
			}
			return extract.WriteJSON(cmd.OutOrStdout(), "", result)
		},
	}
	app.RegisterStorageFlags(cmd.Flags())
	cmd.Flags().String("xlsx", "", "Also write the result as an Excel workbook to this path")
	return cmd
}

func newReportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Assemble a report from a template and knowledge-base blocks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			templateID, _ := cmd.Flags().GetString("template")
			version, _ := cmd.Flags().GetString("template-version")
			out, _ := cmd.Flags().GetString("out")
			return withStack(cmd, func(ctx context.Context, _ *config.Settings, stack *app.Stack) error {
				path, err := stack.Assembler.AssembleReport(ctx, templateID, version, uuid.NewString(), nil)
				if err != nil {
					return err
				}
				if out != "" {
					data, err := os.ReadFile(path)
					if err != nil {
						return err
					}
					if err := storage.WriteFileAtomic(out, data); err != nil {
						return err
					}
					path = out
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), path)
				return err
			})
		},
	}
	app.RegisterStorageFlags(cmd.Flags())
	cmd.Flags().String("template", "", "Template id")
	cmd.Flags().String("template-version", "", "Template version")
	cmd.Flags().StringP("out", "o", "", "Copy the report to this path")
	_ = cmd.MarkFlagRequired("template")
	_ = cmd.MarkFlagRequired("template-version")
	return cmd
}

package main

import (
	"context"
	"os"

	"github.com/sha1n/mcp-tender-kb/internal/app"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	// Version is injected at build time
	Version = "dev"
	// Build is injected at build time
	Build = "unknown"
	// ProgramName is injected at build time
	ProgramName = "tender-kb"
)

func main() {
	runMain(os.Args, os.Exit)
}

func runMain(args []string, exit func(int)) {
	if err := Execute(Version, Build, ProgramName, args[1:]); err != nil {
		exit(1)
	}
}

// Execute is the entry point for the CLI, extracted for testing
func Execute(version, build, programName string, args []string) error {
	rootCmd := newRootCommand(version, programName)
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func newRootCommand(version, programName string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   programName,
		Short: "Tender knowledge base MCP server",
		Long: "Tender document knowledge base: chunks bid documents into tagged blocks, " +
			"retrieves evidence for scoring rules, extracts requirements and assembles reports. " +
			"Without a subcommand it serves MCP tools over stdio or SSE.",
		Version:      version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithFlags(cmd.Flags(), version)
		},
	}

	rootCmd.SetVersionTemplate(`{{.Version}}
`)

	app.RegisterFlags(rootCmd.Flags())
	rootCmd.AddCommand(
		newIngestCommand(),
		newBulkIngestCommand(),
		newSearchCommand(),
		newExtractCommand(),
		newReportCommand(),
	)

	return rootCmd
}

func runWithFlags(flags *pflag.FlagSet, version string) error {
	return app.RunWithDeps(context.Background(), app.DefaultRunParams(), flags, version)
}

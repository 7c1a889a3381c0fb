package app

import "github.com/spf13/pflag"

// RegisterFlags registers all CLI flags on the given FlagSet. Flags default to
// zero values so that unset flags fall through to env vars and defaults.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.StringP("transport", "t", "", "Transport type: stdio or sse")
	flags.StringP("host", "H", "", "Host for SSE transport")
	flags.IntP("port", "p", 0, "Port for SSE transport")
	flags.StringP("auth-type", "a", "", "Authentication type: none, basic, or apikey")
	flags.StringP("auth-basic-username", "u", "", "Basic auth username")
	flags.StringP("auth-basic-password", "P", "", "Basic auth password")
	flags.StringSliceP("auth-api-keys", "k", nil, "API keys (comma-separated)")
	flags.Float64("rate-limit-rps", 0, "Maximum HTTP requests per second for SSE transport (0 disables)")
	flags.Int("rate-limit-burst", 0, "Burst size for the HTTP rate limiter")

	RegisterStorageFlags(flags)

	flags.String("jobs-dispatcher", "", "Job dispatcher: local or nats")
	flags.String("nats-url", "", "NATS server URL for the nats job dispatcher")
}

// RegisterStorageFlags registers the flags shared by the server and the
// offline commands.
func RegisterStorageFlags(flags *pflag.FlagSet) {
	flags.StringP("log-level", "l", "", "Log level: debug, info, warn, or error")
	flags.Bool("production", false, "Hide internal error details from tool results")
	flags.StringP("storage-root", "s", "", "Directory holding uploads, blocks, artifacts and exports")
	flags.String("database", "", "SQLite database path (default: {storage-root}/kb.db)")
	flags.Bool("full-text", false, "Blend bleve full-text relevance into search scores")
	flags.Int("lines-per-page", 0, "Lines per estimated page for requirement extraction")
	flags.String("templates-dir", "", "Directory of report templates")
	flags.Int("ingest-concurrency", 0, "Parallel ingestions for bulk ingest")
	flags.Float64("similarity-threshold", 0, "Cosine similarity above which windows count as duplicates")
	flags.Int("title-weight", 0, "Search score weight of a section title match")
	flags.Int("content-weight", 0, "Search score weight of a content match")
}

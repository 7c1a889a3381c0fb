package config

import (
	"context"
	"log/slog"
	"net/url"
)

// Log logs the resolved settings in a granular way, skipping irrelevant ones
func Log(s *Settings) {
	LogWithLogger(s, slog.Default())
}

// LogWithLogger logs the resolved settings using the provided logger
func LogWithLogger(s *Settings, logger *slog.Logger) {
	ctx := context.Background()
	logger.InfoContext(ctx, "Config: transport", "value", s.Transport)
	if s.Transport == "sse" {
		logger.InfoContext(ctx, "Config: host", "value", s.Host)
		logger.InfoContext(ctx, "Config: port", "value", s.Port)
		if s.RateLimit.RPS > 0 {
			logger.InfoContext(ctx, "Config: rate_limit", "rps", s.RateLimit.RPS, "burst", s.RateLimit.Burst)
		}
	}
	logger.InfoContext(ctx, "Config: log_level", "value", s.LogLevel)
	logger.InfoContext(ctx, "Config: production", "value", s.Production)

	logger.InfoContext(ctx, "Config: auth.type", "value", s.Auth.Type)
	switch s.Auth.Type {
	case AuthTypeBasic:
		logger.InfoContext(ctx, "Config: auth.basic.username", "value", s.Auth.Basic.Username)
		logger.InfoContext(ctx, "Config: auth.basic.password", "value", "****")
	case AuthTypeAPIKey:
		logger.InfoContext(ctx, "Config: auth.api_keys", "count", len(s.Auth.APIKeys))
	}

	logger.InfoContext(ctx, "Config: storage.root", "value", s.Storage.Root)
	logger.InfoContext(ctx, "Config: storage.database", "value", s.Storage.Database)
	logger.InfoContext(ctx, "Config: retrieval",
		"title_weight", s.Retrieval.TitleWeight,
		"content_weight", s.Retrieval.ContentWeight,
		"full_text", s.Retrieval.FullText)
	logger.InfoContext(ctx, "Config: reports.templates_dir", "value", s.Reports.TemplatesDir)
	logger.InfoContext(ctx, "Config: ingest.max_part_mb", "value", s.Ingest.MaxPartMB)

	logger.InfoContext(ctx, "Config: jobs.dispatcher", "value", s.Jobs.Dispatcher)
	if s.Jobs.Dispatcher == DispatcherNATS {
		logger.InfoContext(ctx, "Config: jobs.nats_url", "value", MaskURL(s.Jobs.NATSURL))
		logger.InfoContext(ctx, "Config: jobs.subject", "value", s.Jobs.Subject)
	}
}

// MaskURL hides the password of a URL with user info
func MaskURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	return u.Redacted()
}

// AuthSettingsLogValue returns a slog.Value for AuthSettings with masked data
func AuthSettingsLogValue(s AuthSettings) slog.Value {
	keys := make([]string, len(s.APIKeys))
	for i := range s.APIKeys {
		keys[i] = "****"
	}
	return slog.GroupValue(
		slog.String("type", s.Type),
		slog.Any("basic", BasicAuthSettingsLogValue(s.Basic)),
		slog.Any("api_keys", keys),
	)
}

// BasicAuthSettingsLogValue returns a slog.Value for BasicAuthSettings with masked data
func BasicAuthSettingsLogValue(s BasicAuthSettings) slog.Value {
	return slog.GroupValue(
		slog.String("username", s.Username),
		slog.String("password", "****"),
	)
}

// SettingsLogValue returns a slog.Value for Settings with masked data
func SettingsLogValue(s Settings) slog.Value {
	return slog.GroupValue(
		slog.String("transport", s.Transport),
		slog.String("host", s.Host),
		slog.Int("port", s.Port),
		slog.Any("auth", AuthSettingsLogValue(s.Auth)),
		slog.String("storage_root", s.Storage.Root),
		slog.String("jobs_dispatcher", s.Jobs.Dispatcher),
		slog.String("nats_url", MaskURL(s.Jobs.NATSURL)),
	)
}

package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const EnvConfigPath = "STORYINDEX_CONFIG"

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Pattern: STORYINDEX_[SECTION]_[KEY] (e.g., STORYINDEX_SERVER_ADDRESS).
func ApplyEnvOverrides(cfg *Config) {
	setEnvString(&cfg.ProjectRoot, "STORYINDEX_PROJECT_ROOT")
	setEnvString(&cfg.PreviewConfig, "STORYINDEX_PREVIEW_CONFIG")

	setEnvString(&cfg.Index.Output, "STORYINDEX_INDEX_OUTPUT")
	setEnvString(&cfg.Docs.Autodocs, "STORYINDEX_DOCS_AUTODOCS")

	setEnvBoolPtr(&cfg.Cache.Enabled, "STORYINDEX_CACHE_ENABLED")
	setEnvString(&cfg.Cache.Path, "STORYINDEX_CACHE_PATH")

	setEnvDuration(&cfg.Watch.Debounce, "STORYINDEX_WATCH_DEBOUNCE")

	setEnvString(&cfg.Server.Address, "STORYINDEX_SERVER_ADDRESS")
	setEnvFloat64(&cfg.Server.ChannelRate, "STORYINDEX_SERVER_CHANNEL_RATE")
	setEnvInt(&cfg.Server.ChannelBurst, "STORYINDEX_SERVER_CHANNEL_BURST")

	setEnvString(&cfg.Observability.OTLPEndpoint, "STORYINDEX_OBSERVABILITY_OTLP_ENDPOINT")
	setEnvString(&cfg.Observability.ServiceName, "STORYINDEX_OBSERVABILITY_SERVICE_NAME")
}

func setEnvString(target *string, key string) {
	if val, ok := os.LookupEnv(key); ok {
		slog.Debug("applying env override", "key", key, "value", val)
		*target = val
	}
}

func setEnvInt(target *int, key string) {
	if val, ok := os.LookupEnv(key); ok {
		i, err := strconv.Atoi(val)
		if err != nil {
			slog.Warn("ignoring invalid env override", "key", key, "error", err)
			return
		}
		slog.Debug("applying env override", "key", key, "value", val)
		*target = i
	}
}

func setEnvFloat64(target *float64, key string) {
	if val, ok := os.LookupEnv(key); ok {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			slog.Warn("ignoring invalid env override", "key", key, "error", err)
			return
		}
		slog.Debug("applying env override", "key", key, "value", val)
		*target = f
	}
}

func setEnvBoolPtr(target **bool, key string) {
	if val, ok := os.LookupEnv(key); ok {
		b, err := strconv.ParseBool(strings.ToLower(val))
		if err != nil {
			slog.Warn("ignoring invalid env override", "key", key, "error", err)
			return
		}
		slog.Debug("applying env override", "key", key, "value", val)
		*target = &b
	}
}

func setEnvDuration(target *time.Duration, key string) {
	if val, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(val)
		if err != nil {
			slog.Warn("ignoring invalid env override", "key", key, "error", err)
			return
		}
		slog.Debug("applying env override", "key", key, "value", val)
		*target = d
	}
}

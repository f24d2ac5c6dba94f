package config

import (
	"fmt"
	"net"
	"strings"

	"storyindex/internal/engine/index"
	"storyindex/internal/engine/parser"

	"github.com/gobwas/glob"
)

func validateVersion(cfg *Config) error {
	if cfg.Version > CurrentVersion {
		return fmt.Errorf("config version %d is newer than supported version %d", cfg.Version, CurrentVersion)
	}
	if cfg.Version < 0 {
		return fmt.Errorf("config version must be positive, got %d", cfg.Version)
	}
	return nil
}

func validateStories(cfg *Config) error {
	seen := make(map[string]bool, len(cfg.Stories))
	for _, s := range cfg.Stories {
		spec, err := s.Specifier()
		if err != nil {
			return fmt.Errorf("stories entry %q: %w", s.String(), err)
		}
		key := spec.Directory + "\x00" + spec.Files
		if seen[key] {
			return fmt.Errorf("stories entry %q is listed twice", s.String())
		}
		seen[key] = true
	}
	return nil
}

func validateIndex(cfg *Config) error {
	if strings.TrimSpace(cfg.Index.Output) == "" {
		return fmt.Errorf("index.output must not be empty")
	}
	if cfg.Index.SchemaVersion != index.SchemaVersion {
		return fmt.Errorf("index.schema_version %d is not supported (want %d)", cfg.Index.SchemaVersion, index.SchemaVersion)
	}
	return nil
}

func validateDocs(cfg *Config) error {
	switch cfg.Docs.Autodocs {
	case index.AutodocsTag, index.AutodocsTrue, index.AutodocsFalse:
	default:
		return fmt.Errorf("docs.autodocs must be %q, %q or %q, got %q",
			index.AutodocsTag, index.AutodocsTrue, index.AutodocsFalse, cfg.Docs.Autodocs)
	}
	if strings.TrimSpace(cfg.Docs.DefaultName) == "" {
		return fmt.Errorf("docs.default_name must not be blank")
	}
	return nil
}

func validateExclude(cfg *Config) error {
	for _, p := range cfg.Exclude.Dirs {
		if _, err := glob.Compile(p); err != nil {
			return fmt.Errorf("exclude.dirs pattern %q: %w", p, err)
		}
	}
	for _, p := range cfg.Exclude.Files {
		if _, err := glob.Compile(p, '/'); err != nil {
			return fmt.Errorf("exclude.files pattern %q: %w", p, err)
		}
	}
	return nil
}

func validateServer(cfg *Config) error {
	if _, _, err := net.SplitHostPort(cfg.Server.Address); err != nil {
		return fmt.Errorf("server.address %q: %w", cfg.Server.Address, err)
	}
	if cfg.Server.ChannelRate < 0 {
		return fmt.Errorf("server.channel_rate must not be negative")
	}
	if cfg.Server.ChannelBurst < 0 {
		return fmt.Errorf("server.channel_burst must not be negative")
	}
	if cfg.Watch.Debounce < 0 {
		return fmt.Errorf("watch.debounce must not be negative")
	}
	return nil
}

func validateLanguages(cfg *Config) error {
	if _, err := parser.BuildLanguageRegistry(cfg.LanguageOverrides()); err != nil {
		return fmt.Errorf("languages: %w", err)
	}
	return nil
}

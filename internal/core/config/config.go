package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"storyindex/internal/engine/index"
	"storyindex/internal/engine/parser"

	"github.com/BurntSushi/toml"
)

const (
	CurrentVersion    = 1
	DefaultFileName   = "storyindex.toml"
	ExampleFileName   = "storyindex.example.toml"
	defaultOutput     = "storybook-static/index.json"
	defaultCachePath  = ".storyindex/cache.db"
	defaultAddress    = "127.0.0.1:6006"
	defaultService    = "storyindex"
	defaultDebounce   = 100 * time.Millisecond
	defaultRate       = 50
	defaultBurst      = 100
	defaultStoriesDir = "."
)

// Config is the storyindex.toml document.
type Config struct {
	Version       int            `toml:"version"`
	ProjectRoot   string         `toml:"project_root"`
	Stories       []StoriesEntry `toml:"stories"`
	PreviewConfig string         `toml:"preview_config"`
	Index         Index          `toml:"index"`
	Docs          Docs           `toml:"docs"`
	Compose       Compose        `toml:"compose"`
	Cache         Cache          `toml:"cache"`
	Watch         Watch          `toml:"watch"`
	Exclude       Exclude        `toml:"exclude"`
	Server        Server         `toml:"server"`
	Observability Observability  `toml:"observability"`

	Languages map[string]Language `toml:"languages"`
}

// StoriesEntry is one element of the stories array: either a glob string or
// a table with explicit directory, files and title prefix.
type StoriesEntry struct {
	Glob        string `toml:"-"`
	Directory   string `toml:"directory"`
	Files       string `toml:"files"`
	TitlePrefix string `toml:"title_prefix"`
}

func (s *StoriesEntry) UnmarshalTOML(value any) error {
	switch v := value.(type) {
	case string:
		*s = StoriesEntry{Glob: v}
		return nil
	case map[string]any:
		*s = StoriesEntry{}
		for key, raw := range v {
			str, ok := raw.(string)
			if !ok {
				return fmt.Errorf("stories.%s must be a string", key)
			}
			switch key {
			case "directory":
				s.Directory = str
			case "files":
				s.Files = str
			case "title_prefix", "titlePrefix":
				s.TitlePrefix = str
			default:
				return fmt.Errorf("unknown stories key %q", key)
			}
		}
		if strings.TrimSpace(s.Directory) == "" {
			return fmt.Errorf("stories table requires a directory")
		}
		return nil
	default:
		return fmt.Errorf("stories entries must be strings or tables, got %T", value)
	}
}

// Specifier normalises the entry.
func (s StoriesEntry) Specifier() (index.Specifier, error) {
	if s.Glob != "" {
		return index.ParseSpecifier(s.Glob)
	}
	return index.NewSpecifier(s.Directory, s.Files, s.TitlePrefix)
}

func (s StoriesEntry) String() string {
	if s.Glob != "" {
		return s.Glob
	}
	return filepath.ToSlash(filepath.Join(s.Directory, s.Files))
}

type Index struct {
	Output        string `toml:"output"`
	SchemaVersion int    `toml:"schema_version"`
}

type Docs struct {
	Autodocs    string `toml:"autodocs"`
	DefaultName string `toml:"default_name"`
}

type Compose struct {
	AdditiveParameters []string `toml:"additive_parameters"`
}

type Cache struct {
	Enabled *bool  `toml:"enabled"`
	Path    string `toml:"path"`
}

func (c Cache) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

type Watch struct {
	Debounce time.Duration `toml:"debounce"`
}

type Exclude struct {
	Dirs  []string `toml:"dirs"`
	Files []string `toml:"files"`
}

type Server struct {
	Address      string  `toml:"address"`
	ChannelRate  float64 `toml:"channel_rate"`
	ChannelBurst int     `toml:"channel_burst"`
}

// Language adjusts one parser grammar, keyed by javascript, typescript or
// tsx.
type Language struct {
	Enabled    *bool    `toml:"enabled"`
	Extensions []string `toml:"extensions"`
}

type Observability struct {
	OTLPEndpoint string `toml:"otlp_endpoint"`
	ServiceName  string `toml:"service_name"`
}

// Load reads, defaults and validates a config file. Environment overrides
// are applied between decoding and defaulting.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(string(data))
}

// Parse decodes a config document.
func Parse(doc string) (*Config, error) {
	var cfg Config
	if _, err := toml.Decode(doc, &cfg); err != nil {
		return nil, err
	}
	return finish(&cfg)
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg, _ := finish(&Config{})
	return cfg
}

func finish(cfg *Config) (*Config, error) {
	ApplyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := validateVersion(cfg); err != nil {
		return nil, err
	}
	if err := validateStories(cfg); err != nil {
		return nil, err
	}
	if err := validateIndex(cfg); err != nil {
		return nil, err
	}
	if err := validateDocs(cfg); err != nil {
		return nil, err
	}
	if err := validateExclude(cfg); err != nil {
		return nil, err
	}
	if err := validateServer(cfg); err != nil {
		return nil, err
	}
	if err := validateLanguages(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	if len(cfg.Stories) == 0 {
		cfg.Stories = []StoriesEntry{{Glob: defaultStoriesDir}}
	}
	if cfg.Index.Output == "" {
		cfg.Index.Output = defaultOutput
	}
	if cfg.Index.SchemaVersion == 0 {
		cfg.Index.SchemaVersion = index.SchemaVersion
	}
	if cfg.Docs.Autodocs == "" {
		cfg.Docs.Autodocs = index.AutodocsTag
	}
	if cfg.Docs.DefaultName == "" {
		cfg.Docs.DefaultName = index.DefaultDocsName
	}
	if cfg.Cache.Path == "" {
		cfg.Cache.Path = defaultCachePath
	}
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = defaultDebounce
	}
	if cfg.Server.Address == "" {
		cfg.Server.Address = defaultAddress
	}
	if cfg.Server.ChannelRate == 0 {
		cfg.Server.ChannelRate = defaultRate
	}
	if cfg.Server.ChannelBurst == 0 {
		cfg.Server.ChannelBurst = defaultBurst
	}
	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = defaultService
	}
}

// Specifiers converts every stories entry.
func (c *Config) Specifiers() ([]index.Specifier, error) {
	out := make([]index.Specifier, 0, len(c.Stories))
	for _, s := range c.Stories {
		spec, err := s.Specifier()
		if err != nil {
			return nil, fmt.Errorf("stories entry %q: %w", s.String(), err)
		}
		out = append(out, spec)
	}
	return out, nil
}

// LanguageOverrides maps the languages tables onto the parser registry.
func (c *Config) LanguageOverrides() map[string]parser.LanguageOverride {
	if len(c.Languages) == 0 {
		return nil
	}
	out := make(map[string]parser.LanguageOverride, len(c.Languages))
	for name, lang := range c.Languages {
		out[strings.ToLower(strings.TrimSpace(name))] = parser.LanguageOverride{
			Enabled:    lang.Enabled,
			Extensions: lang.Extensions,
		}
	}
	return out
}

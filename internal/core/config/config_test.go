// # internal/core/config/config_test.go
package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	cfg, err := Parse(`
stories = [
  "./src/**/*.stories.@(js|tsx)",
  { directory = "./lib", files = "*.stories.ts", title_prefix = "Library" },
]
preview_config = ".storybook/preview.ts"

[docs]
autodocs = "true"
default_name = "Overview"

[compose]
additive_parameters = ["tags"]

[cache]
enabled = false

[watch]
debounce = "1s"

[exclude]
dirs = ["dist", "coverage*"]
files = ["**/*.snap"]

[server]
address = "0.0.0.0:7007"
channel_rate = 10.5
channel_burst = 20
`)
	require.NoError(t, err)

	require.Len(t, cfg.Stories, 2)
	assert.Equal(t, "./src/**/*.stories.@(js|tsx)", cfg.Stories[0].Glob)
	assert.Equal(t, StoriesEntry{Directory: "./lib", Files: "*.stories.ts", TitlePrefix: "Library"}, cfg.Stories[1])

	specs, err := cfg.Specifiers()
	require.NoError(t, err)
	assert.Equal(t, "./src", specs[0].Directory)
	assert.Equal(t, "Library", specs[1].TitlePrefix)

	assert.Equal(t, "true", cfg.Docs.Autodocs)
	assert.Equal(t, "Overview", cfg.Docs.DefaultName)
	assert.Equal(t, []string{"tags"}, cfg.Compose.AdditiveParameters)
	assert.False(t, cfg.Cache.IsEnabled())
	assert.Equal(t, time.Second, cfg.Watch.Debounce)
	assert.Equal(t, []string{"dist", "coverage*"}, cfg.Exclude.Dirs)
	assert.Equal(t, "0.0.0.0:7007", cfg.Server.Address)
	assert.Equal(t, 10.5, cfg.Server.ChannelRate)
	assert.Equal(t, 20, cfg.Server.ChannelBurst)
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse("")
	require.NoError(t, err)

	assert.Equal(t, CurrentVersion, cfg.Version)
	assert.Equal(t, []StoriesEntry{{Glob: "."}}, cfg.Stories)
	assert.Equal(t, "storybook-static/index.json", cfg.Index.Output)
	assert.Equal(t, 5, cfg.Index.SchemaVersion)
	assert.Equal(t, "tag", cfg.Docs.Autodocs)
	assert.Equal(t, "Docs", cfg.Docs.DefaultName)
	assert.True(t, cfg.Cache.IsEnabled())
	assert.Equal(t, 100*time.Millisecond, cfg.Watch.Debounce)
	assert.Equal(t, "127.0.0.1:6006", cfg.Server.Address)
	assert.Equal(t, "storyindex", cfg.Observability.ServiceName)
	assert.Equal(t, cfg, Default())
}

func TestParse_Invalid(t *testing.T) {
	cases := map[string]string{
		"newer version":      `version = 9`,
		"bad autodocs":       "[docs]\nautodocs = \"sometimes\"",
		"bad schema":         "[index]\nschema_version = 4",
		"stories number":     `stories = [3]`,
		"stories no dir":     `stories = [{ files = "*.mdx" }]`,
		"stories unknown":    `stories = [{ directory = "./a", glob = "x" }]`,
		"stories blank":      `stories = ["  "]`,
		"stories duplicated": `stories = ["./src", "src"]`,
		"bad exclude":        "[exclude]\ndirs = [\"[\"]",
		"bad address":        "[server]\naddress = \"6006\"",
		"negative rate":      "[server]\nchannel_rate = -1.0",
		"not toml":           `stories = [`,
		"unknown language":   "[languages.python]\nenabled = true",
		"shared extension":   "[languages.javascript]\nextensions = [\".ts\"]",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(doc)
			assert.Error(t, err)
		})
	}
}

func TestParse_Languages(t *testing.T) {
	cfg, err := Parse("[languages.javascript]\nextensions = [\".js\", \"es6\"]\n\n[languages.TSX]\nenabled = false\n")
	require.NoError(t, err)

	overrides := cfg.LanguageOverrides()
	require.Len(t, overrides, 2)
	assert.Equal(t, []string{".js", "es6"}, overrides["javascript"].Extensions)
	require.NotNil(t, overrides["tsx"].Enabled)
	assert.False(t, *overrides["tsx"].Enabled)

	def, err := Parse("")
	require.NoError(t, err)
	assert.Nil(t, def.LanguageOverrides())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("STORYINDEX_PROJECT_ROOT", "/work/app")
	t.Setenv("STORYINDEX_SERVER_ADDRESS", "localhost:9009")
	t.Setenv("STORYINDEX_CACHE_ENABLED", "false")
	t.Setenv("STORYINDEX_WATCH_DEBOUNCE", "250ms")
	t.Setenv("STORYINDEX_SERVER_CHANNEL_BURST", "not-a-number")

	cfg, err := Parse("[server]\nchannel_burst = 7")
	require.NoError(t, err)
	assert.Equal(t, "/work/app", cfg.ProjectRoot)
	assert.Equal(t, "localhost:9009", cfg.Server.Address)
	assert.False(t, cfg.Cache.IsEnabled())
	assert.Equal(t, 250*time.Millisecond, cfg.Watch.Debounce)
	assert.Equal(t, 7, cfg.Server.ChannelBurst)
}

func TestDiscoverAndResolvePaths(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "src", "components")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".storybook"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".storybook", "preview.tsx"), []byte("export default {}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, DefaultFileName), []byte("stories = [\"./src\"]\n"), 0o644))

	path, err := Discover(nested)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, DefaultFileName), path)

	cfg, loaded, err := LoadOrDefault(nested)
	require.NoError(t, err)
	assert.Equal(t, path, loaded)

	paths, err := ResolvePaths(cfg, nested)
	require.NoError(t, err)
	assert.Equal(t, root, paths.ProjectRoot)
	assert.Equal(t, filepath.Join(root, ".storybook", "preview.tsx"), paths.PreviewConfig)
	assert.Equal(t, filepath.Join(root, "storybook-static", "index.json"), paths.IndexOutput)
	assert.Equal(t, filepath.Join(root, ".storyindex", "cache.db"), paths.CachePath)
}

func TestDiscover_EnvPath(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "custom.toml")
	require.NoError(t, os.WriteFile(p, []byte(""), 0o644))

	t.Setenv(EnvConfigPath, p)
	got, err := Discover(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, p, got)

	t.Setenv(EnvConfigPath, filepath.Join(dir, "missing.toml"))
	_, err = Discover(dir)
	assert.Error(t, err)
}

func TestResolvePaths_ExplicitRoot(t *testing.T) {
	cfg := Default()
	cfg.ProjectRoot = "app"
	cfg.PreviewConfig = "config/preview.js"
	cfg.Index.Output = "/abs/index.json"

	paths, err := ResolvePaths(cfg, "/work")
	require.NoError(t, err)
	assert.Equal(t, filepath.Clean("/work/app"), paths.ProjectRoot)
	assert.Equal(t, filepath.Clean("/work/app/config/preview.js"), paths.PreviewConfig)
	assert.Equal(t, filepath.Clean("/abs/index.json"), paths.IndexOutput)

	_, err = ResolvePaths(cfg, " ")
	assert.Error(t, err)
}

func TestWatcher_Reloads(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, DefaultFileName)
	require.NoError(t, os.WriteFile(p, []byte("[docs]\ndefault_name = \"A\"\n"), 0o644))

	got := make(chan *Config, 4)
	w := NewWatcher(p, func(c *Config) { got <- c })
	w.debounce = 10 * time.Millisecond
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.NoError(t, os.WriteFile(p, []byte("[docs]\ndefault_name = \"B\"\n"), 0o644))

	select {
	case c := <-got:
		assert.Equal(t, "B", c.Docs.DefaultName)
	case <-time.After(5 * time.Second):
		t.Fatal("config was not reloaded")
	}

	w.Stop()
}

func TestWatcher_SkipsInvalidAndUnchanged(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, DefaultFileName)
	original := []byte("[docs]\ndefault_name = \"A\"\n")
	require.NoError(t, os.WriteFile(p, original, 0o644))

	got := make(chan *Config, 4)
	w := NewWatcher(p, func(c *Config) { got <- c })
	w.debounce = 10 * time.Millisecond

	require.NoError(t, os.WriteFile(p, original, 0o644))
	w.reload()
	require.NoError(t, os.WriteFile(p, []byte("version = 9\n"), 0o644))
	w.reload()
	assert.Empty(t, got)

	require.NoError(t, os.WriteFile(p, []byte("[docs]\ndefault_name = \"C\"\n"), 0o644))
	w.reload()
	require.Len(t, got, 1)
	assert.Equal(t, "C", (<-got).Docs.DefaultName)
}

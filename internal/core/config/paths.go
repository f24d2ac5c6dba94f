package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var previewCandidates = []string{
	"preview.ts", "preview.tsx", "preview.js", "preview.jsx", "preview.mjs", "preview.mts",
}

type ResolvedPaths struct {
	ProjectRoot string
	// PreviewConfig is empty when the project has no preview file.
	PreviewConfig string
	IndexOutput   string
	CachePath     string
}

// Discover locates the config file for cwd: STORYINDEX_CONFIG first, then
// storyindex.toml and storyindex.example.toml in the detected project root.
// It returns "" when none exists.
func Discover(cwd string) (string, error) {
	if p := strings.TrimSpace(os.Getenv(EnvConfigPath)); p != "" {
		p = ResolveRelative(cwd, p)
		if _, err := os.Stat(p); err != nil {
			return "", fmt.Errorf("%s: %w", EnvConfigPath, err)
		}
		return p, nil
	}
	root, err := DetectProjectRoot([]string{cwd})
	if err != nil {
		return "", err
	}
	for _, name := range []string{DefaultFileName, ExampleFileName} {
		p := filepath.Join(root, name)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", nil
}

// LoadOrDefault loads the discovered config, or the defaults when there is
// none.
func LoadOrDefault(cwd string) (*Config, string, error) {
	path, err := Discover(cwd)
	if err != nil {
		return nil, "", err
	}
	if path == "" {
		return Default(), "", nil
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("load %s: %w", path, err)
	}
	return cfg, path, nil
}

func ResolvePaths(cfg *Config, cwd string) (ResolvedPaths, error) {
	if strings.TrimSpace(cwd) == "" {
		return ResolvedPaths{}, fmt.Errorf("cwd must not be empty")
	}

	projectRoot := strings.TrimSpace(cfg.ProjectRoot)
	if projectRoot != "" {
		projectRoot = ResolveRelative(cwd, projectRoot)
	} else {
		root, err := DetectProjectRoot([]string{cwd})
		if err != nil {
			return ResolvedPaths{}, err
		}
		projectRoot = root
	}

	resolved := ResolvedPaths{
		ProjectRoot: filepath.Clean(projectRoot),
		IndexOutput: ResolveRelative(projectRoot, cfg.Index.Output),
		CachePath:   ResolveRelative(projectRoot, cfg.Cache.Path),
	}

	if p := strings.TrimSpace(cfg.PreviewConfig); p != "" {
		resolved.PreviewConfig = ResolveRelative(projectRoot, p)
	} else {
		for _, name := range previewCandidates {
			p := filepath.Join(projectRoot, ".storybook", name)
			if _, err := os.Stat(p); err == nil {
				resolved.PreviewConfig = p
				break
			}
		}
	}
	return resolved, nil
}

func ResolveRelative(base, value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return filepath.Clean(base)
	}
	if filepath.IsAbs(value) {
		return filepath.Clean(value)
	}
	return filepath.Clean(filepath.Join(base, value))
}

// DetectProjectRoot walks up from each candidate until a directory holding a
// project marker is found, falling back to the working directory.
func DetectProjectRoot(candidates []string) (string, error) {
	markers := []string{
		DefaultFileName,
		".storybook",
		"package.json",
		".git",
	}

	for _, candidate := range candidates {
		if strings.TrimSpace(candidate) == "" {
			continue
		}

		abs, err := filepath.Abs(candidate)
		if err != nil {
			continue
		}
		root := abs
		if info, err := os.Stat(abs); err == nil && !info.IsDir() {
			root = filepath.Dir(abs)
		}

		for {
			for _, marker := range markers {
				if _, err := os.Stat(filepath.Join(root, marker)); err == nil {
					return filepath.Clean(root), nil
				}
			}
			parent := filepath.Dir(root)
			if parent == root {
				break
			}
			root = parent
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Clean(cwd), nil
}

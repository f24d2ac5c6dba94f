package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	coreapp "storyindex/internal/core/app"
	"storyindex/internal/core/config"
)

// loadConfig loads an explicit config file or discovers one from dir. An
// explicit file anchors the project at its own directory.
func loadConfig(path, dir string) (*config.Config, string, string, error) {
	if strings.TrimSpace(path) != "" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, "", "", err
		}
		cfg, err := config.Load(abs)
		if err != nil {
			return nil, "", "", fmt.Errorf("load %s: %w", path, err)
		}
		return cfg, abs, filepath.Dir(abs), nil
	}
	cfg, found, err := config.LoadOrDefault(dir)
	if err != nil {
		return nil, "", "", err
	}
	return cfg, found, dir, nil
}

// openApp resolves the working directory (the optional positional argument
// or the process cwd), loads config and wires the application.
func openApp(opts *rootOptions, args []string) (*coreapp.App, error) {
	dir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("detect working directory: %w", err)
	}
	if len(args) > 0 {
		dir = config.ResolveRelative(dir, args[0])
		info, err := os.Stat(dir)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("%s is not a directory", args[0])
		}
	}

	cfg, cfgPath, cwd, err := loadConfig(opts.configPath, dir)
	if err != nil {
		return nil, err
	}
	return coreapp.New(cfg, cfgPath, cwd)
}

// Package config loads the optional blit configuration file and daemon
// discovery file, both grounded on
// _examples/bamsammich-beam/internal/config/config.go's XDG-path TOML
// loader and its daemon.toml discovery mechanism.
package config

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the optional blit configuration file.
type Config struct {
	Defaults DefaultsConfig `toml:"defaults"`
}

// DefaultsConfig holds persistent flag defaults for cmd/blit, mirroring
// spec.md §6's session tuning knobs so a user can pin them once instead of
// repeating flags on every invocation.
type DefaultsConfig struct {
	Verify         *bool   `toml:"verify"`
	EmptyDirs      *bool   `toml:"empty_dirs"`
	NoTar          *bool   `toml:"no_tar"`
	Checksum       *bool   `toml:"checksum"`
	HighThroughput *bool   `toml:"high_throughput"`
	NetWorkers     *int    `toml:"net_workers"`
	NetChunkMB     *int    `toml:"net_chunk_mb"`
	LargeThreshMB  *int    `toml:"large_threshold_mb"`
	BWLimit        *string `toml:"bwlimit"`
}

// Path returns the resolved path to the config file.
func Path() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "blit", "config.toml")
}

// Load reads the config file from the XDG path. Returns a zero Config
// (no error) if the file does not exist. Config is always optional.
func Load() (Config, error) {
	path := Path()
	if path == "" {
		return Config{}, nil
	}

	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, err
	}
	return cfg, nil
}

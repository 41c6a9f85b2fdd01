package bptree

import (
	"os"

	"bptreekv/bufferpool"

	toml "github.com/pelletier/go-toml"
)

// Config holds the tunables for opening a disk-backed index: how many
// frames the buffer pool gets, and the split thresholds for leaf and
// internal pages. Defaults are used for anything a config file omits.
type Config struct {
	DBPath          string `toml:"db_path"`
	PoolSize        int    `toml:"pool_size"`
	LeafMaxSize     int32  `toml:"leaf_max_size"`
	InternalMaxSize int32  `toml:"internal_max_size"`
}

// DefaultConfig returns the configuration used when no config file is
// supplied.
func DefaultConfig() Config {
	return Config{
		DBPath:          "index.db",
		PoolSize:        32,
		LeafMaxSize:     leafDefaultMaxSize,
		InternalMaxSize: internalDefaultMaxSize,
	}
}

// leafDefaultMaxSize and internalDefaultMaxSize are chosen so that a fully
// packed page of small keys stays well under bufferpool.PageSize; callers
// with larger keys should size leaf/internal max sizes down accordingly
// since this package does not enforce a byte budget per page.
const (
	leafDefaultMaxSize     = 64
	internalDefaultMaxSize = 64
)

// LoadConfig reads a TOML config file at path and overlays it onto
// DefaultConfig. A missing file is not an error — the defaults are
// returned unchanged, since a config file is optional ambient plumbing.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// PageSize re-exports bufferpool's page size for callers that only import
// this package.
const PageSize = bufferpool.PageSize

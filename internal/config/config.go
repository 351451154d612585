// Package config loads engine-wide configuration via viper, following the
// same two-tier (defaults + DIGSTORE_* environment overrides) pattern the
// teacher codebase uses for its service configuration.
package config

import (
	"strings"

	"github.com/spf13/viper"

	"github.com/dig-network/digstore/internal/chunk"
)

// ChunkerConfig carries the Open Question decision on chunker tunables
// (SPEC_FULL.md §4 item 1).
type ChunkerConfig struct {
	MinChunkSize    uint32
	TargetChunkSize uint32
	MaxChunkSize    uint32
}

// RedisConfig configures the optional chunk cache / advisory writer lock.
type RedisConfig struct {
	Enabled bool
	Addr    string
}

// SQLiteConfig configures the optional embedded chunk index.
type SQLiteConfig struct {
	Enabled bool
	Path    string
}

// ArchiveCryptConfig configures the optional at-rest archive encryption
// wrapper.
type ArchiveCryptConfig struct {
	Enabled   bool
	MasterKey string
}

// Config is the engine's full typed configuration.
type Config struct {
	GlobalDir     string
	Chunker       ChunkerConfig
	Redis         RedisConfig
	SQLite        SQLiteConfig
	ArchiveCrypt  ArchiveCryptConfig
}

// Default returns the documented defaults (SPEC_FULL.md §4 item 1): a
// 512 KiB / 1 MiB / 4 MiB chunker, no side caches, no at-rest encryption.
func Default() Config {
	d := chunk.DefaultParams()
	return Config{
		GlobalDir: "~/.dig",
		Chunker: ChunkerConfig{
			MinChunkSize:    d.MinSize,
			TargetChunkSize: d.TargetSize,
			MaxChunkSize:    d.MaxSize,
		},
	}
}

// Load builds a Config from defaults, an optional config file, and
// DIGSTORE_*-prefixed environment variables, using viper exactly as the
// teacher codebase does for its own service config.
func Load(configPath string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DIGSTORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := Default()
	v.SetDefault("global_dir", def.GlobalDir)
	v.SetDefault("chunker.min_size", def.Chunker.MinChunkSize)
	v.SetDefault("chunker.target_size", def.Chunker.TargetChunkSize)
	v.SetDefault("chunker.max_size", def.Chunker.MaxChunkSize)
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "")
	v.SetDefault("sqlite.enabled", false)
	v.SetDefault("sqlite.path", "")
	v.SetDefault("archive_crypt.enabled", false)
	v.SetDefault("archive_crypt.master_key", "")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	return Config{
		GlobalDir: v.GetString("global_dir"),
		Chunker: ChunkerConfig{
			MinChunkSize:    uint32(v.GetUint32("chunker.min_size")),
			TargetChunkSize: uint32(v.GetUint32("chunker.target_size")),
			MaxChunkSize:    uint32(v.GetUint32("chunker.max_size")),
		},
		Redis: RedisConfig{
			Enabled: v.GetBool("redis.enabled"),
			Addr:    v.GetString("redis.addr"),
		},
		SQLite: SQLiteConfig{
			Enabled: v.GetBool("sqlite.enabled"),
			Path:    v.GetString("sqlite.path"),
		},
		ArchiveCrypt: ArchiveCryptConfig{
			Enabled:   v.GetBool("archive_crypt.enabled"),
			MasterKey: v.GetString("archive_crypt.master_key"),
		},
	}, nil
}

// ChunkerParams converts the config's chunker section to chunk.Params.
func (c Config) ChunkerParams() chunk.Params {
	return chunk.Params{
		MinSize:    c.Chunker.MinChunkSize,
		TargetSize: c.Chunker.TargetChunkSize,
		MaxSize:    c.Chunker.MaxChunkSize,
	}
}

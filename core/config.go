package core

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/sherifabdlnaby/configuro"
	log "github.com/sirupsen/logrus"
)

const (
	// ConfigPath default location of the configuration file
	ConfigPath = "config.yaml"
	// ConfigEnvPrefix prefix of environment variables overriding the configuration
	ConfigEnvPrefix = "KVS"
	// DefaultCompactionThreshold log size that triggers a compaction
	DefaultCompactionThreshold = 16 * 1024 * 1024
	// DefaultCacheSize number of values held by the read cache
	DefaultCacheSize = 1000
)

// EngineConfig configuration properties utilized when initializing an engine
type EngineConfig struct {
	DataPath            string // directory holding the head log
	CompactionThreshold int64  // log size in bytes that triggers compaction
	MaxRecordSize       int    // max size of an encoded record in bytes
	CacheSize           int    // max number of values held by the read cache, 0 disables it
	UseSnapshots        bool   // persist the index on close and reuse it on open
	SyncWrites          bool   // fsync the log after every append
}

// DefaultEngineConfig returns the engine configuration used by Open
func DefaultEngineConfig(dataPath string) *EngineConfig {
	return &EngineConfig{
		DataPath:            dataPath,
		CompactionThreshold: DefaultCompactionThreshold,
		MaxRecordSize:       DefaultMaxRecordSize,
		CacheSize:           DefaultCacheSize,
	}
}

// Config user facing configuration, sizes are human readable strings such
// as "16 MiB"
type Config struct {
	DataPath            string
	CompactionThreshold string
	MaxRecordSize       string
	CacheSize           int `validate:"gte=0"`
	UseSnapshots        bool
	SyncWrites          bool
	LogLevel            string
}

// DefaultConfig returns the configuration used when nothing overrides it
func DefaultConfig() *Config {
	return &Config{
		DataPath:            ".",
		CompactionThreshold: humanize.IBytes(DefaultCompactionThreshold),
		MaxRecordSize:       humanize.IBytes(DefaultMaxRecordSize),
		CacheSize:           DefaultCacheSize,
		UseSnapshots:        false,
		SyncWrites:          false,
		LogLevel:            log.WarnLevel.String(),
	}
}

// LoadConfig loads the configuration file at configPath, if present, and
// KVS_ prefixed environment variables over the defaults
func LoadConfig(configPath string) (*Config, error) {
	loader, err := configuro.NewConfig(
		configuro.WithLoadFromEnvVars(ConfigEnvPrefix),
		configuro.WithLoadFromConfigFile(configPath, false),
	)
	if err != nil {
		return nil, err
	}

	config := DefaultConfig()
	if err := loader.Load(config); err != nil {
		return nil, err
	}

	return config, nil
}

// EngineConfig converts the configuration into engine properties
func (config *Config) EngineConfig() (*EngineConfig, error) {
	compactionThreshold, err := humanize.ParseBytes(config.CompactionThreshold)
	if err != nil {
		return nil, fmt.Errorf("invalid compaction threshold %q: %w", config.CompactionThreshold, err)
	}

	maxRecordSize, err := humanize.ParseBytes(config.MaxRecordSize)
	if err != nil {
		return nil, fmt.Errorf("invalid max record size %q: %w", config.MaxRecordSize, err)
	}

	if compactionThreshold == 0 || maxRecordSize == 0 {
		return nil, fmt.Errorf("compaction threshold and max record size must be positive")
	}

	return &EngineConfig{
		DataPath:            config.DataPath,
		CompactionThreshold: int64(compactionThreshold),
		MaxRecordSize:       int(maxRecordSize),
		CacheSize:           config.CacheSize,
		UseSnapshots:        config.UseSnapshots,
		SyncWrites:          config.SyncWrites,
	}, nil
}

// Level parses the configured log level
func (config *Config) Level() (log.Level, error) {
	return log.ParseLevel(config.LogLevel)
}

package config

import (
	"os"
	"path/filepath"
	"reflect"

	"gopkg.in/yaml.v3"

	"github.com/adrg/xdg"
)

const configFileName = "ntorrent"

// Config holds the configuration options for the application.
type Config struct {
	DataDir         string   `yaml:"dataDir,omitempty"`
	Seed            bool     `yaml:"seed,omitempty"`
	Paths           []string `yaml:"paths,omitempty"`
	MaxRetries      int      `yaml:"maxRetries,omitempty"`
	SortingInterval int      `yaml:"sortingInterval,omitempty"`
	WindowSize      int      `yaml:"windowSize,omitempty"`
	DispatchRate    float64  `yaml:"dispatchRate,omitempty"`
	Debug           bool     `yaml:"debug,omitempty"`
	LogPath         string   `yaml:"logPath,omitempty"`
}

// GetConfig reads the configuration file and returns a Config struct.
// If the configuration file does not exist, it returns the default
// configuration.
func GetConfig() (*Config, error) {
	configFilePath := filepath.Join(xdg.ConfigHome, configFileName)
	defaults := DefaultConfig()

	b, err := os.ReadFile(configFilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return &defaults, nil
		}

		return nil, err
	}

	if len(b) == 0 {
		return &defaults, nil
	}

	var cfg Config

	err = yaml.Unmarshal(b, &cfg)
	if err != nil {
		return nil, err
	}

	return &Config{
		DataDir:         zeroOr(cfg.DataDir, defaults.DataDir),
		Seed:            zeroOr(cfg.Seed, defaults.Seed),
		Paths:           zeroOr(cfg.Paths, defaults.Paths),
		MaxRetries:      zeroOr(cfg.MaxRetries, defaults.MaxRetries),
		SortingInterval: zeroOr(cfg.SortingInterval, defaults.SortingInterval),
		WindowSize:      zeroOr(cfg.WindowSize, defaults.WindowSize),
		DispatchRate:    cfg.DispatchRate,
		Debug:           cfg.Debug,
		LogPath:         zeroOr(cfg.LogPath, defaults.LogPath),
	}, nil
}

func DefaultConfig() Config {
	return Config{
		DataDir:         dataDir,
		Seed:            seedByDefault,
		Paths:           bootstrapPaths,
		MaxRetries:      maxRetries,
		SortingInterval: sortingInterval,
		WindowSize:      windowSize,
		LogPath:         filepath.Join(xdg.StateHome, configFileName, "ntorrent.log"),
	}
}

// zeroOr returns def if v is the zero value for its type.
func zeroOr[T any](v, def T) T {
	if reflect.ValueOf(v).IsZero() {
		return def
	}

	return v
}

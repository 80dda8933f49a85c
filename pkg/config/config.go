// Package config loads a devnode's operational settings: the network
// namespace, listen addresses, block production cadence and, optionally, an
// on-disk data directory. It has nothing to do with the consensus/execution
// core itself, which never reads configuration directly.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"intent-chain/pkg/utils"
)

// Config is a devnode's full set of operational options, matching the
// option table a deployment is expected to supply.
type Config struct {
	NetworkID      string        `mapstructure:"network_id"`
	P2PPort        int           `mapstructure:"p2p_port"`
	IP             []string      `mapstructure:"ip"`
	BlockTime      time.Duration `mapstructure:"block_time"`
	DataDir        string        `mapstructure:"data_dir"`
	BootstrapPeers []string      `mapstructure:"bootstrap_peers"`
}

// Defaults is the option table's stated default configuration: a
// standalone devnode on the default topic namespace, producing a block
// every two seconds, with no persistence (in-memory storage).
func Defaults() Config {
	return Config{
		NetworkID: "localnet",
		P2PPort:   44668,
		IP:        []string{"0.0.0.0", "::"},
		BlockTime: 2 * time.Second,
		DataDir:   "",
	}
}

// Load reads a YAML configuration file at path (if it exists), a sibling
// .env file (if present), and environment variables, in that order of
// increasing precedence, layered on top of Defaults. An absent config file
// is not an error: a devnode should still start on defaults alone.
func Load(path string) (*Config, error) {
	_ = godotenv.Load(filepath.Join(filepath.Dir(path), ".env")) // best effort; absence of a .env file is not an error

	defaults := Defaults()
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("INTENT_CHAIN")
	v.AutomaticEnv()

	v.SetDefault("network_id", defaults.NetworkID)
	v.SetDefault("p2p_port", defaults.P2PPort)
	v.SetDefault("ip", defaults.IP)
	v.SetDefault("block_time", defaults.BlockTime)
	v.SetDefault("data_dir", defaults.DataDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
			return nil, utils.Wrap(err, fmt.Sprintf("read config %s", path))
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &cfg, nil
}

// Persistent reports whether the configuration names an on-disk data
// directory; if false, a devnode should back its stores with
// storage.MemoryStore instead of storage.LevelStore.
func (c Config) Persistent() bool {
	return c.DataDir != ""
}

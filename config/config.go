package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/streamcart/livechat/globals"
)

const (
	defaultHistorySize  = 100
	defaultPingInterval = 30 * time.Second
	defaultPongTimeout  = 60 * time.Second
	defaultBanSweepSpec = "@every 1m"
)

// Config is the global configuration object which is filled via the configuration file
// and/or environment variables (prefix LIVECHAT).
type Config struct {
	HistoryConfig     HistoryConfig     `mapstructure:"history"`
	OIDCConfigs       []OIDCConfig      `mapstructure:"oidc"`
	PersistenceConfig PersistenceConfig `mapstructure:"persistence"`
	LivenessConfig    LivenessConfig    `mapstructure:"liveness"`
	LogLevel          string            `mapstructure:"log_level"`
	AdminUser         string            `mapstructure:"admin_user"`
	BanSweepSpec      string            `mapstructure:"ban_sweep_spec"`
}

// HistoryConfig configures the size of the per-stream message history that is kept in memory
// in a ring buffer and sent to newly connected clients.
type HistoryConfig struct {
	HistorySize int `mapstructure:"history_size"`
}

// An OIDCConfig object configures an OpenID Connect provider that is used to authenticate users.
// Users provide an ID token and the name of the provider, the authentication is then performed
// via verification of the token. If no provider is configured, the identity declared by the
// client is trusted (development mode).
type OIDCConfig struct {
	Name        string `mapstructure:"name"`
	ClientId    string `mapstructure:"client_id"`
	ProviderUrl string `mapstructure:"provider_url"` // f.e. "https://accounts.google.com"
}

// PersistenceConfig configures the durable store backend. Type is one of "postgres", "sqlite"
// (both via gorm) or "buntdb" (embedded file store, DSN is the file path).
type PersistenceConfig struct {
	Type string `mapstructure:"type"`
	DSN  string `mapstructure:"dsn"`
}

// LivenessConfig configures the websocket keepalive probing. A connection that misses the
// pong deadline is treated as disconnected.
type LivenessConfig struct {
	PingIntervalSeconds int `mapstructure:"ping_interval_seconds"`
	PongTimeoutSeconds  int `mapstructure:"pong_timeout_seconds"`
}

func (c *Config) HistorySize() int {
	if c.HistoryConfig.HistorySize > 0 {
		return c.HistoryConfig.HistorySize
	}
	return defaultHistorySize
}

func (c *Config) PingInterval() time.Duration {
	if c.LivenessConfig.PingIntervalSeconds > 0 {
		return time.Duration(c.LivenessConfig.PingIntervalSeconds) * time.Second
	}
	return defaultPingInterval
}

func (c *Config) PongTimeout() time.Duration {
	if c.LivenessConfig.PongTimeoutSeconds > 0 {
		return time.Duration(c.LivenessConfig.PongTimeoutSeconds) * time.Second
	}
	return defaultPongTimeout
}

func (c *Config) SweepSpec() string {
	if c.BanSweepSpec != "" {
		return c.BanSweepSpec
	}
	return defaultBanSweepSpec
}

func GetFlagSet() *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("configuration", pflag.ContinueOnError)
	flagSet.StringP("admin-user", "a", "", "id of the admin user (may moderate any stream)")
	flagSet.String("log-level", "", "log level (TRACE, DEBUG, INFO, WARN, ERROR)")
	return flagSet
}

// wordSepNormalizeFunc allows for normalization of the flag names (which use - as a separator)
func wordSepNormalizeFunc(f *pflag.FlagSet, name string) pflag.NormalizedName {
	name = strings.Replace(name, "-", "_", -1)
	return pflag.NormalizedName(name)
}

// ReadConfiguration reads and parses the configuration located at configPath, which can either
// point to a single TOML file or to a directory, in which case all *.toml files in this
// directory are concatenated. It returns a Config object.
func ReadConfiguration(configPath string, flagSet *pflag.FlagSet) (*Config, error) {
	cfg := Config{}
	flagSet.SetNormalizeFunc(wordSepNormalizeFunc)
	err := viper.BindPFlags(flagSet)
	if err != nil {
		globals.AppLogger.Error("could not bind flags (ignored)", "error", err)
	}
	viper.SetEnvPrefix("LIVECHAT")
	viper.AutomaticEnv()
	if configPath != "" {
		fi, err := os.Stat(configPath)
		if err != nil {
			return nil, err
		}
		contents := make([]byte, 0)
		files := []string{configPath}
		if fi.IsDir() {
			files, err = filepath.Glob(filepath.Join(configPath, "*.toml"))
			if err != nil {
				return nil, err
			}
		}
		for _, configFile := range files {
			fileContents, err := os.ReadFile(configFile)
			if err != nil {
				return nil, err
			}
			contents = append(contents, fileContents...)
			contents = append(contents, '\n')
		}
		viper.SetConfigType("toml")
		err = viper.ReadConfig(bytes.NewBuffer(contents))
		if err != nil {
			globals.AppLogger.Error("could not read config", "error", err)
		}
	}
	err = viper.Unmarshal(&cfg)
	if err != nil {
		globals.AppLogger.Error("could not unmarshal config", "error", err)
	}
	return &cfg, nil
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/dl-alexandre/drivesync/internal/utils"
	"github.com/spf13/viper"
)

const (
	// ConfigFileName is the name of the config file
	ConfigFileName = "config.yaml"
	// AppDirName is the directory created under the XDG config and data homes
	AppDirName = "drivesync"
	// EnvPrefix is the prefix for environment variables
	EnvPrefix = "DRIVESYNC"
	// DatabaseFileName is the tracking store file inside the data directory
	DatabaseFileName = "state.db"
)

// Config holds application configuration
type Config struct {
	Sync     SyncConfig     `mapstructure:"sync"`
	Transfer TransferConfig `mapstructure:"transfer"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Network  NetworkConfig  `mapstructure:"network"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Log      LogConfig      `mapstructure:"log"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	// DataDir holds the tracking database and default log file
	DataDir string `mapstructure:"data_dir"`
}

type SyncConfig struct {
	Strategy          string        `mapstructure:"strategy"`
	Mode              string        `mapstructure:"mode"`
	NetworkPolicy     string        `mapstructure:"network_policy"`
	Concurrency       int           `mapstructure:"concurrency"`
	DeletePermanently bool          `mapstructure:"delete_permanently"`
	TimeTolerance     time.Duration `mapstructure:"time_tolerance"`
	Exclude           []string      `mapstructure:"exclude"`
}

type TransferConfig struct {
	MultipartThreshold int64 `mapstructure:"multipart_threshold"`
	ChunkSize          int64 `mapstructure:"chunk_size"`
}

type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

type NetworkConfig struct {
	ProbeAddress      string        `mapstructure:"probe_address"`
	ProbeTimeout      time.Duration `mapstructure:"probe_timeout"`
	MeteredInterfaces []string      `mapstructure:"metered_interfaces"`
}

type AuthConfig struct {
	Storage      string `mapstructure:"storage"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
}

type LogConfig struct {
	Level   string `mapstructure:"level"`
	File    string `mapstructure:"file"`
	MaxSize int64  `mapstructure:"max_size"`
}

type ScheduleConfig struct {
	Interval string        `mapstructure:"interval"`
	Watch    bool          `mapstructure:"watch"`
	Debounce time.Duration `mapstructure:"debounce"`
	// RemotePoll is how often the daemon checks the Drive changes feed;
	// zero disables polling.
	RemotePoll time.Duration `mapstructure:"remote_poll"`
}

// Valid enumerations
var (
	Strategies      = []string{"keep_local", "keep_remote", "keep_newest", "keep_both", "ask_user"}
	Modes           = []string{"bidirectional", "push", "pull"}
	NetworkPolicies = []string{"any", "unmetered"}
	AuthStorages    = []string{"auto", "keyring", "encrypted-file", "file"}
	LogLevels       = []string{"debug", "info", "warn", "error"}
)

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Sync: SyncConfig{
			Strategy:      "keep_newest",
			Mode:          "bidirectional",
			NetworkPolicy: "any",
			Concurrency:   utils.DefaultConcurrency,
			TimeTolerance: utils.DefaultTimeToleranceMs * time.Millisecond,
		},
		Transfer: TransferConfig{
			MultipartThreshold: utils.UploadMultipartMaxBytes,
			ChunkSize:          utils.UploadChunkSize,
		},
		Retry: RetryConfig{
			MaxAttempts: utils.DefaultMaxAttempts,
			BaseDelay:   utils.DefaultRetryDelayMs * time.Millisecond,
			MaxDelay:    utils.MaxRetryDelayMs * time.Millisecond,
		},
		Network: NetworkConfig{
			ProbeAddress: "www.googleapis.com:443",
			ProbeTimeout: 5 * time.Second,
		},
		Auth: AuthConfig{
			Storage: "auto",
		},
		Log: LogConfig{
			Level:   "info",
			MaxSize: 100 * 1024 * 1024,
		},
		Schedule: ScheduleConfig{
			Interval: "@every 15m",
			Debounce: 5 * time.Second,
		},
		DataDir: filepath.Join(xdg.DataHome, AppDirName),
	}
}

// Load reads configuration with precedence: env vars > config file > defaults.
// An empty path means the default location under the config directory.
func Load(path string) (*Config, error) {
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}
	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Set updates a single dotted key (for example "sync.strategy") in the
// config file, validating the result before it is written.
func Set(path, key, value string) error {
	v, err := newViper(path)
	if err != nil {
		return err
	}
	if err := readConfigFile(v); err != nil {
		return err
	}

	key = strings.ToLower(key)
	if !isKnownKey(v, key) {
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	if strings.Contains(value, ",") && isListKey(key) {
		v.Set(key, splitList(value))
	} else {
		v.Set(key, value)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	target := v.ConfigFileUsed()
	if target == "" {
		if target, err = GetConfigPath(); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(filepath.Dir(target), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return v.WriteConfigAs(target)
}

// Reset removes the config file so every key falls back to its default.
// A missing file is not an error.
func Reset(path string) error {
	if path == "" {
		var err error
		if path, err = GetConfigPath(); err != nil {
			return err
		}
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove config file: %w", err)
	}
	return nil
}

// Settings flattens c into its dotted keys, masking the OAuth client secret.
func (c *Config) Settings() map[string]interface{} {
	v := viper.New()
	setDefaults(v, c)
	v.SetDefault("sync.exclude", c.Sync.Exclude)
	v.SetDefault("network.metered_interfaces", c.Network.MeteredInterfaces)

	settings := make(map[string]interface{}, len(v.AllKeys()))
	for _, key := range v.AllKeys() {
		settings[key] = v.Get(key)
	}
	if c.Auth.ClientSecret != "" {
		settings["auth.client_secret"] = "********"
	}
	return settings
}

func newViper(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path == "" {
		var err error
		path, err = GetConfigPath()
		if err != nil {
			return nil, err
		}
	}
	v.SetConfigFile(path)
	return v, nil
}

func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load config file: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("sync.strategy", d.Sync.Strategy)
	v.SetDefault("sync.mode", d.Sync.Mode)
	v.SetDefault("sync.network_policy", d.Sync.NetworkPolicy)
	v.SetDefault("sync.concurrency", d.Sync.Concurrency)
	v.SetDefault("sync.delete_permanently", d.Sync.DeletePermanently)
	v.SetDefault("sync.time_tolerance", d.Sync.TimeTolerance)
	v.SetDefault("sync.exclude", []string{})
	v.SetDefault("transfer.multipart_threshold", d.Transfer.MultipartThreshold)
	v.SetDefault("transfer.chunk_size", d.Transfer.ChunkSize)
	v.SetDefault("retry.max_attempts", d.Retry.MaxAttempts)
	v.SetDefault("retry.base_delay", d.Retry.BaseDelay)
	v.SetDefault("retry.max_delay", d.Retry.MaxDelay)
	v.SetDefault("network.probe_address", d.Network.ProbeAddress)
	v.SetDefault("network.probe_timeout", d.Network.ProbeTimeout)
	v.SetDefault("network.metered_interfaces", []string{})
	v.SetDefault("auth.storage", d.Auth.Storage)
	v.SetDefault("auth.client_id", d.Auth.ClientID)
	v.SetDefault("auth.client_secret", d.Auth.ClientSecret)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size", d.Log.MaxSize)
	v.SetDefault("schedule.interval", d.Schedule.Interval)
	v.SetDefault("schedule.watch", d.Schedule.Watch)
	v.SetDefault("schedule.debounce", d.Schedule.Debounce)
	v.SetDefault("schedule.remote_poll", d.Schedule.RemotePoll)
	v.SetDefault("data_dir", d.DataDir)
}

func isKnownKey(v *viper.Viper, key string) bool {
	for _, k := range v.AllKeys() {
		if k == key {
			return true
		}
	}
	return false
}

func isListKey(key string) bool {
	return key == "sync.exclude" || key == "network.metered_interfaces"
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if !contains(Strategies, c.Sync.Strategy) {
		return fmt.Errorf("invalid sync strategy: %s (must be one of: %s)", c.Sync.Strategy, strings.Join(Strategies, ", "))
	}
	if !contains(Modes, c.Sync.Mode) {
		return fmt.Errorf("invalid sync mode: %s (must be one of: %s)", c.Sync.Mode, strings.Join(Modes, ", "))
	}
	if !contains(NetworkPolicies, c.Sync.NetworkPolicy) {
		return fmt.Errorf("invalid network policy: %s (must be one of: %s)", c.Sync.NetworkPolicy, strings.Join(NetworkPolicies, ", "))
	}
	if c.Sync.Concurrency < 1 || c.Sync.Concurrency > utils.MaxConcurrency {
		return fmt.Errorf("concurrency must be between 1 and %d, got: %d", utils.MaxConcurrency, c.Sync.Concurrency)
	}
	if c.Sync.TimeTolerance < 0 || c.Sync.TimeTolerance > time.Minute {
		return fmt.Errorf("time tolerance must be between 0 and 1m, got: %s", c.Sync.TimeTolerance)
	}

	if c.Transfer.MultipartThreshold < 0 {
		return fmt.Errorf("multipart threshold must be non-negative, got: %d", c.Transfer.MultipartThreshold)
	}
	if c.Transfer.ChunkSize < utils.UploadChunkGranularity || c.Transfer.ChunkSize%utils.UploadChunkGranularity != 0 {
		return fmt.Errorf("chunk size must be a positive multiple of %d bytes, got: %d", utils.UploadChunkGranularity, c.Transfer.ChunkSize)
	}

	if c.Retry.MaxAttempts < 1 || c.Retry.MaxAttempts > 10 {
		return fmt.Errorf("max attempts must be between 1 and 10, got: %d", c.Retry.MaxAttempts)
	}
	if c.Retry.BaseDelay < 100*time.Millisecond || c.Retry.BaseDelay > time.Minute {
		return fmt.Errorf("retry base delay must be between 100ms and 1m, got: %s", c.Retry.BaseDelay)
	}
	if c.Retry.MaxDelay < c.Retry.BaseDelay {
		return fmt.Errorf("retry max delay %s must not be below base delay %s", c.Retry.MaxDelay, c.Retry.BaseDelay)
	}

	if !contains(AuthStorages, c.Auth.Storage) {
		return fmt.Errorf("invalid auth storage: %s (must be one of: %s)", c.Auth.Storage, strings.Join(AuthStorages, ", "))
	}
	if !contains(LogLevels, strings.ToLower(c.Log.Level)) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.Log.Level, strings.Join(LogLevels, ", "))
	}
	if c.Log.MaxSize < 0 {
		return fmt.Errorf("log max size must be non-negative, got: %d", c.Log.MaxSize)
	}
	if c.Schedule.Interval == "" {
		return fmt.Errorf("schedule interval must not be empty")
	}
	if c.Schedule.Debounce < 0 {
		return fmt.Errorf("schedule debounce must be non-negative, got: %s", c.Schedule.Debounce)
	}
	if c.Schedule.RemotePoll < 0 {
		return fmt.Errorf("schedule remote poll must be non-negative, got: %s", c.Schedule.RemotePoll)
	}
	return nil
}

// DatabasePath returns the tracking store location
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, DatabaseFileName)
}

// GetConfigPath returns the path to the config file
func GetConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, ConfigFileName), nil
}

// GetConfigDir returns the path to the config directory
func GetConfigDir() (string, error) {
	if dir := os.Getenv(EnvPrefix + "_CONFIG_DIR"); dir != "" {
		return dir, nil
	}
	if xdg.ConfigHome == "" {
		return "", fmt.Errorf("failed to resolve config home directory")
	}
	return filepath.Join(xdg.ConfigHome, AppDirName), nil
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

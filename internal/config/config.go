package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"vaultsync/internal/cloud"
	"vaultsync/internal/cloud/s3"
	"vaultsync/internal/cloud/webdav"
	"vaultsync/internal/pathutil"
	"vaultsync/internal/queue"

	"github.com/spf13/viper"
)

// RemoteBase is the backend folder every sync root lives under.
const RemoteBase = "apps/vault-sync"

type RateLimit struct {
	MaxRequests int           `mapstructure:"max_requests"`
	TimeWindow  time.Duration `mapstructure:"time_window"`
	MinInterval time.Duration `mapstructure:"min_interval"`
}

type LocalBackend struct {
	Dir string `mapstructure:"dir"`
}

type Config struct {
	DaemonPort      int                  `mapstructure:"daemon_port"`
	BufferSize      int                  `mapstructure:"buffer_size"`
	DBPath          string               `mapstructure:"db_path"`
	DeviceName      string               `mapstructure:"device_name"`
	LocalRoot       string               `mapstructure:"local_root"`
	RemoteRoot      string               `mapstructure:"remote_root"`
	Backend         cloud.Kind           `mapstructure:"backend"`
	IgnoreList      []string             `mapstructure:"ignore_list"`
	IgnorePattern   string               `mapstructure:"ignore_pattern"`
	FileSizeLimitMB int64                `mapstructure:"file_size_limit_mb"`
	AutoSync        bool                 `mapstructure:"auto_sync"`
	SyncInterval    time.Duration        `mapstructure:"sync_interval"`
	Encrypt         bool                 `mapstructure:"encrypt"`
	Password        string               `mapstructure:"password"`
	ComputeMD5      bool                 `mapstructure:"compute_md5"`
	ChunkSize       int64                `mapstructure:"chunk_size"`
	Debounce        time.Duration        `mapstructure:"debounce"`
	RateLimits      map[string]RateLimit `mapstructure:"rate_limits"`
	S3              s3.Config            `mapstructure:"s3"`
	WebDAV          webdav.Config        `mapstructure:"webdav"`
	Local           LocalBackend         `mapstructure:"local"`
}

var Default = Config{
	DaemonPort:      9001,
	BufferSize:      100,
	Backend:         cloud.KindGDrive,
	IgnoreList:      []string{".git", ".DS_Store", "*.tmp", "*.swp", "node_modules"},
	FileSizeLimitMB: 100,
	AutoSync:        true,
	SyncInterval:    5 * time.Minute,
	ComputeMD5:      true,
	ChunkSize:       cloud.DefaultChunkSize,
	Debounce:        500 * time.Millisecond,
}

// Dir returns ~/.vaultsync, which holds the config file, tokens and the
// database.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home dir: %w", err)
	}
	return filepath.Join(home, ".vaultsync"), nil
}

func Load() (*Config, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	return LoadFrom(dir)
}

// LoadFrom layers config.yaml in configDir over the defaults, and
// VAULTSYNC_ environment variables over both.
func LoadFrom(configDir string) (*Config, error) {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config dir: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)

	viper.SetDefault("daemon_port", Default.DaemonPort)
	viper.SetDefault("buffer_size", Default.BufferSize)
	viper.SetDefault("db_path", filepath.Join(configDir, "vaultsync.db"))
	viper.SetDefault("device_name", "")
	viper.SetDefault("local_root", "")
	viper.SetDefault("remote_root", "")
	viper.SetDefault("backend", string(Default.Backend))
	viper.SetDefault("ignore_list", Default.IgnoreList)
	viper.SetDefault("ignore_pattern", "")
	viper.SetDefault("file_size_limit_mb", Default.FileSizeLimitMB)
	viper.SetDefault("auto_sync", Default.AutoSync)
	viper.SetDefault("sync_interval", Default.SyncInterval)
	viper.SetDefault("encrypt", false)
	viper.SetDefault("password", "")
	viper.SetDefault("compute_md5", Default.ComputeMD5)
	viper.SetDefault("chunk_size", Default.ChunkSize)
	viper.SetDefault("debounce", Default.Debounce)
	viper.SetDefault("s3.endpoint", "")
	viper.SetDefault("s3.bucket", "")
	viper.SetDefault("s3.region", "us-east-1")
	viper.SetDefault("s3.access_key", "")
	viper.SetDefault("s3.secret_key", "")
	viper.SetDefault("s3.use_ssl", true)
	viper.SetDefault("webdav.url", "")
	viper.SetDefault("webdav.user", "")
	viper.SetDefault("webdav.password", "")
	viper.SetDefault("local.dir", filepath.Join(configDir, "remote"))

	viper.SetEnvPrefix("VAULTSYNC")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := errors.AsType[viper.ConfigFileNotFoundError](err); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate checks the settings a sync session cannot start without.
func (c *Config) Validate() error {
	if c.LocalRoot == "" {
		return errors.New("local_root is not set")
	}
	switch c.Backend {
	case cloud.KindGDrive, cloud.KindDropbox, cloud.KindLocal:
	case cloud.KindS3:
		if c.S3.Bucket == "" {
			return errors.New("s3.bucket is not set")
		}
	case cloud.KindWebDAV:
		if c.WebDAV.URL == "" {
			return errors.New("webdav.url is not set")
		}
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.Encrypt && c.Password == "" {
		return errors.New("encrypt is on but password is not set")
	}
	return nil
}

// RemotePath is the sync root on the backend. An empty remote_root uses the
// local folder name.
func (c *Config) RemotePath() string {
	root := c.RemoteRoot
	if root == "" && c.LocalRoot != "" {
		root = filepath.Base(filepath.Clean(c.LocalRoot))
	}
	return pathutil.Join(RemoteBase, root)
}

// Policies merges the configured rate limits over the built-in ones.
// Unset fields keep their default.
func (c *Config) Policies() map[queue.TaskType]queue.RatePolicy {
	policies := queue.DefaultPolicies()
	for name, rl := range c.RateLimits {
		t := queue.TaskType(name)
		p, ok := policies[t]
		if !ok {
			continue
		}
		if rl.MaxRequests > 0 {
			p.MaxRequests = rl.MaxRequests
		}
		if rl.TimeWindow > 0 {
			p.TimeWindow = rl.TimeWindow
		}
		if rl.MinInterval > 0 {
			p.MinInterval = rl.MinInterval
		}
		policies[t] = p
	}
	return policies
}

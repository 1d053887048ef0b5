package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"

	"github.com/jamesainslie/runvault/pkg/runvault/runid"
)

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSize    string `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Daily      bool   `mapstructure:"daily"`
}

// LoggingConfig configures application logging.
type LoggingConfig struct {
	Level      string            `mapstructure:"level"`
	Path       string            `mapstructure:"path"`
	Rotation   RotationConfig    `mapstructure:"rotation"`
	Components map[string]string `mapstructure:"components"`
}

// ArchiveConfig configures container packing.
type ArchiveConfig struct {
	BytesCapacity  string `mapstructure:"bytes_capacity"`
	FilesCapacity  int    `mapstructure:"files_capacity"`
	RemoveAfterAdd bool   `mapstructure:"remove_after_add"`
}

// BytesCapacityValue parses the human-readable byte budget ("10GB").
func (a ArchiveConfig) BytesCapacityValue() (int64, error) {
	if a.BytesCapacity == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(a.BytesCapacity)
	if err != nil {
		return 0, fmt.Errorf("parsing bytes_capacity %q: %w", a.BytesCapacity, err)
	}
	return int64(n), nil
}

// SessionConfig configures run sessions.
type SessionConfig struct {
	Timeout        time.Duration `mapstructure:"timeout"`
	ArchiveTimeout time.Duration `mapstructure:"archive_timeout"`
	ScanInterval   time.Duration `mapstructure:"scan_interval"`
}

// MonitorConfig configures the staging-directory monitor.
type MonitorConfig struct {
	StagingPath  string        `mapstructure:"staging_path"`
	MaxWorkers   int           `mapstructure:"max_workers"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	DataGlob     string        `mapstructure:"data_glob"`
	RunIDPattern string        `mapstructure:"run_id_pattern"`
	PIDPath      string        `mapstructure:"pid_path"`
}

// RemoteConfig configures the remote content store. Uploads are enabled by
// setting a bucket.
type RemoteConfig struct {
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
}

// Enabled reports whether containers are uploaded after close.
func (r RemoteConfig) Enabled() bool {
	return r.Bucket != ""
}

// RegistryConfig configures the run registry database.
type RegistryConfig struct {
	Path string `mapstructure:"path"`
}

// Config represents the application configuration.
type Config struct {
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Session  SessionConfig  `mapstructure:"session"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Remote   RemoteConfig   `mapstructure:"remote"`
	Registry RegistryConfig `mapstructure:"registry"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// Load loads configuration from file and environment variables.
// Config file locations (in order of precedence):
//   - $XDG_CONFIG_HOME/runvault/config.yaml
//   - $HOME/.config/runvault/config.yaml
//
// Environment variables are prefixed with RUNVAULT_
// (e.g. RUNVAULT_MONITOR_STAGING_PATH).
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
		v.AddConfigPath(filepath.Join(xdgConfigHome, "runvault"))
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get user home directory: %w", err)
	}
	v.AddConfigPath(filepath.Join(homeDir, ".config", "runvault"))

	v.SetEnvPrefix("RUNVAULT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is acceptable; we use defaults.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if strings.HasPrefix(cfg.Monitor.StagingPath, "~") {
		cfg.Monitor.StagingPath = filepath.Join(homeDir, cfg.Monitor.StagingPath[1:])
	}

	return &cfg, nil
}

// SetDefaults applies the default values to a viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("archive.bytes_capacity", DefaultBytesCapacity)
	v.SetDefault("archive.files_capacity", DefaultFilesCapacity)
	v.SetDefault("archive.remove_after_add", false)

	v.SetDefault("session.timeout", DefaultSessionTimeout)
	v.SetDefault("session.archive_timeout", DefaultArchiveTimeout)
	v.SetDefault("session.scan_interval", DefaultScanInterval)

	v.SetDefault("monitor.staging_path", DefaultStagingPath)
	v.SetDefault("monitor.max_workers", DefaultMaxWorkers)
	v.SetDefault("monitor.poll_interval", DefaultPollInterval)
	v.SetDefault("monitor.data_glob", runid.DefaultDataGlob)
	v.SetDefault("monitor.run_id_pattern", runid.DefaultIDPattern)
	v.SetDefault("monitor.pid_path", DefaultPIDPath())

	v.SetDefault("registry.path", DefaultRegistryPath())

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.path", "") // empty means use the default log path
	v.SetDefault("logging.rotation.max_size", "10MB")
	v.SetDefault("logging.rotation.max_age", 30)
	v.SetDefault("logging.rotation.max_backups", 5)
	v.SetDefault("logging.rotation.daily", true)
	v.SetDefault("logging.components", map[string]string{
		"monitor": "info",
		"watcher": "warn",
		"session": "info",
		"archive": "info",
	})
}

// ConfigDir returns the configuration directory path.
func ConfigDir() (string, error) {
	if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
		return filepath.Join(xdgConfigHome, "runvault"), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(homeDir, ".config", "runvault"), nil
}

// EnsureConfigDir creates the config directory if it doesn't exist.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return nil
}

// DataDir returns $XDG_DATA_HOME/runvault/ for the registry and pid files.
func DataDir() string {
	return filepath.Join(xdg.DataHome, "runvault")
}

// StateDir returns $XDG_STATE_HOME/runvault/ for log files.
func StateDir() string {
	return filepath.Join(xdg.StateHome, "runvault")
}

// DefaultPIDPath returns the default PID file path.
func DefaultPIDPath() string {
	return filepath.Join(DataDir(), "runvaultd.pid")
}

// DefaultRegistryPath returns the default run registry database path.
func DefaultRegistryPath() string {
	return filepath.Join(DataDir(), "registry")
}

// DefaultLogPath returns the default log file path.
func DefaultLogPath() string {
	return filepath.Join(StateDir(), "runvault.log")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func EnsureDataDir() error {
	if err := os.MkdirAll(DataDir(), 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	return nil
}

// EnsureStateDir creates the state directory if it doesn't exist.
func EnsureStateDir() error {
	if err := os.MkdirAll(StateDir(), 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	return nil
}

// WriteDefault writes a default config file if none exists.
// Returns nil if a config file already exists.
func WriteDefault() error {
	if err := EnsureConfigDir(); err != nil {
		return err
	}

	configDir, err := ConfigDir()
	if err != nil {
		return err
	}

	configPath := filepath.Join(configDir, "config.yaml")

	if _, err := os.Stat(configPath); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to check config file: %w", err)
	}

	defaultConfig := fmt.Sprintf(`# runvault configuration

# Container packing limits
archive:
  # Byte budget per container; no closed container exceeds this
  bytes_capacity: %s
  # File budget per container; the file reaching the limit is included
  files_capacity: %d
  # Delete source files after a successful add (destructive move)
  remove_after_add: false

# Per-run session behavior
session:
  # End a session after this long without a successful publish
  timeout: %s
  # Force-close an open container after this long without an add
  archive_timeout: %s
  # Pause between run-folder discovery passes
  scan_interval: %s

# Staging-directory monitor
monitor:
  # Directory watched for new run-folders
  staging_path: %s
  # Maximum concurrent run sessions
  max_workers: %d
  poll_interval: %s
  # Glob for the instrument data files used to identify a run
  data_glob: "%s"
  # Pattern extracting the run key from a data file name (first capture group)
  run_id_pattern: "%s"

# Remote content store; uploads are enabled by setting a bucket
remote:
  bucket: ""
  prefix: ""
  region: ""
  endpoint: ""

# Logging configuration
logging:
  # Log level: debug, info, warn, error
  level: info
  # Log file path (empty means $XDG_STATE_HOME/runvault/runvault.log)
  path: ""
  rotation:
    max_size: 10MB
    max_age: 30       # days
    max_backups: 5
    daily: true
  # Per-component log levels
  components:
    monitor: info
    watcher: warn
    session: info
    archive: info
`,
		DefaultBytesCapacity, DefaultFilesCapacity,
		DefaultSessionTimeout, DefaultArchiveTimeout, DefaultScanInterval,
		DefaultStagingPath, DefaultMaxWorkers, DefaultPollInterval,
		runid.DefaultDataGlob, runid.DefaultIDPattern)

	if err := os.WriteFile(configPath, []byte(defaultConfig), 0o644); err != nil {
		return fmt.Errorf("failed to write default config: %w", err)
	}

	return nil
}

// ExpandPath expands ~ in a path to the user's home directory.
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(homeDir, path[1:]), nil
}

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
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/jamesainslie/sosmon/pkg/sosmon/logging"
)

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSize    string `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups" validate:"gte=0"`
	Daily      bool   `mapstructure:"daily"`
}

// LoggingConfig configures application logging.
type LoggingConfig struct {
	Level      string            `mapstructure:"level"`
	Path       string            `mapstructure:"path"`
	Rotation   RotationConfig    `mapstructure:"rotation"`
	Components map[string]string `mapstructure:"components"`
}

// InventoryConfig controls how the disk inventory is built and cached.
type InventoryConfig struct {
	MaxAge               time.Duration `mapstructure:"max_age" validate:"gt=0"`
	Marker               string        `mapstructure:"marker" validate:"required"`
	Depth                int           `mapstructure:"depth" validate:"gte=2"`
	NormalizePattern     string        `mapstructure:"normalize_pattern"`
	NormalizeReplacement string        `mapstructure:"normalize_replacement"`
	CheckExists          bool          `mapstructure:"check_exists"`
}

// CliosoftConfig locates the SOS installation.
type CliosoftConfig struct {
	Dir               string `mapstructure:"dir" validate:"required"`
	ServersLink       string `mapstructure:"servers_link" validate:"required"`
	DefaultServersDir string `mapstructure:"default_servers_dir" validate:"required"`
}

// CommandsConfig holds the paths of the external admin tools.
type CommandsConfig struct {
	Sosadmin   string `mapstructure:"sosadmin" validate:"required"`
	Sosmgr     string `mapstructure:"sosmgr" validate:"required"`
	Stod       string `mapstructure:"stod" validate:"required"`
	Stodstatus string `mapstructure:"stodstatus" validate:"required"`
}

// TimeoutsConfig bounds external calls.
type TimeoutsConfig struct {
	Command time.Duration `mapstructure:"command" validate:"gt=0"`
	Resize  time.Duration `mapstructure:"resize" validate:"gt=0"`
	Web     time.Duration `mapstructure:"web" validate:"gt=0"`
}

// EmailConfig configures alert mail.
type EmailConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	SMTPAddr string   `mapstructure:"smtp_addr" validate:"required_if=Enabled true"`
	From     string   `mapstructure:"from" validate:"omitempty,email"`
	To       []string `mapstructure:"to" validate:"dive,email"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	StartTLS bool     `mapstructure:"starttls"`
}

// HistoryConfig controls the usage sample store.
type HistoryConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	RetentionDays int  `mapstructure:"retention_days" validate:"gte=0"`
}

// JournalConfig controls the run journal.
type JournalConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	RetentionDays int  `mapstructure:"retention_days" validate:"gte=0"`
}

// Config represents the application configuration.
type Config struct {
	DataDir              string          `mapstructure:"data_dir" validate:"required"`
	LockFile             string          `mapstructure:"lock_file" validate:"required"`
	ThresholdGB          int64           `mapstructure:"threshold_gb" validate:"gte=0"`
	AddSizeGB            int64           `mapstructure:"add_size_gb" validate:"gte=0"`
	ResizeLookbackDays   int             `mapstructure:"resize_lookback_days" validate:"gte=1"`
	ExcludedServicesFile string          `mapstructure:"excluded_services_file"`
	Inventory            InventoryConfig `mapstructure:"inventory"`
	Cliosoft             CliosoftConfig  `mapstructure:"cliosoft"`
	Commands             CommandsConfig  `mapstructure:"commands"`
	Timeouts             TimeoutsConfig  `mapstructure:"timeouts"`
	Email                EmailConfig     `mapstructure:"email"`
	Log                  LoggingConfig   `mapstructure:"log"`
	History              HistoryConfig   `mapstructure:"history"`
	Journal              JournalConfig   `mapstructure:"journal"`

	// File is the config file that was read, empty when running on defaults.
	File string `mapstructure:"-"`
}

// ErrInvalidConfig wraps validation failures.
var ErrInvalidConfig = errors.New("invalid configuration")

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", DefaultDataDir)
	v.SetDefault("lock_file", DefaultLockFile)
	v.SetDefault("threshold_gb", DefaultThresholdGB)
	v.SetDefault("add_size_gb", DefaultAddSizeGB)
	v.SetDefault("resize_lookback_days", DefaultResizeLookbackDays)
	v.SetDefault("excluded_services_file", "") // Empty means <data_dir>/excluded_services.txt

	v.SetDefault("inventory.max_age", DefaultInventoryMaxAge)
	v.SetDefault("inventory.marker", DefaultMarker)
	v.SetDefault("inventory.depth", DefaultDepth)
	v.SetDefault("inventory.normalize_pattern", DefaultNormalizePattern)
	v.SetDefault("inventory.normalize_replacement", DefaultNormalizeReplacement)
	v.SetDefault("inventory.check_exists", false)

	v.SetDefault("cliosoft.dir", DefaultCliosoftDir)
	v.SetDefault("cliosoft.servers_link", DefaultServersLink)
	v.SetDefault("cliosoft.default_servers_dir", DefaultServersDir)

	v.SetDefault("commands.sosadmin", DefaultSosadmin)
	v.SetDefault("commands.sosmgr", DefaultSosmgr)
	v.SetDefault("commands.stod", DefaultStod)
	v.SetDefault("commands.stodstatus", DefaultStodstatus)

	v.SetDefault("timeouts.command", DefaultCommandTimeout)
	v.SetDefault("timeouts.resize", DefaultResizeTimeout)
	v.SetDefault("timeouts.web", DefaultWebTimeout)

	v.SetDefault("email.enabled", false)
	v.SetDefault("email.smtp_addr", DefaultSMTPAddr)
	v.SetDefault("email.from", "")
	v.SetDefault("email.to", []string{})
	v.SetDefault("email.starttls", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.path", "") // Empty means use logging.DefaultLogPath
	v.SetDefault("log.rotation.max_size", "10MB")
	v.SetDefault("log.rotation.max_backups", 5)
	v.SetDefault("log.rotation.daily", true)
	v.SetDefault("log.components", map[string]string{})

	v.SetDefault("history.enabled", true)
	v.SetDefault("history.retention_days", DefaultHistoryRetentionDays)
	v.SetDefault("journal.enabled", true)
	v.SetDefault("journal.retention_days", DefaultJournalRetentionDays)
}

// NewViper returns a viper instance with defaults, env binding and the
// search path configured. An explicit file, when given, replaces the
// search path.
//
// Config file locations (in order of precedence):
//   - $XDG_CONFIG_HOME/sosmon/config.yaml
//   - /etc/sosmon/config.yaml
//
// Environment variables are prefixed with SOSMON_ (e.g. SOSMON_THRESHOLD_GB).
// LOG_LEVEL is honoured as well for compatibility with the cron wrapper.
func NewViper(file string) *viper.Viper {
	v := viper.New()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(ConfigDir())
		v.AddConfigPath("/etc/sosmon")
	}

	v.SetEnvPrefix("SOSMON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("log.level", "SOSMON_LOG_LEVEL", "LOG_LEVEL")

	SetDefaults(v)
	return v
}

// Load reads configuration from file (see NewViper) and the environment,
// then validates it.
func Load(file string) (*Config, error) {
	return LoadViper(NewViper(file))
}

// LoadViper reads and validates configuration from a prepared viper
// instance, so that command-line flags bound to v take effect.
func LoadViper(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is acceptable; we use defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Email.Enabled && (c.Email.From == "" || len(c.Email.To) == 0) {
		return fmt.Errorf("%w: email.from and email.to are required when email is enabled", ErrInvalidConfig)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Log.Rotation.MaxSize != "" {
		if _, err := humanize.ParseBytes(c.Log.Rotation.MaxSize); err != nil {
			return fmt.Errorf("%w: log.rotation.max_size: %v", ErrInvalidConfig, err)
		}
	}
	return nil
}

// LoggingConfig converts the log section into a logging.Config.
func (c *Config) LoggingConfig() logging.Config {
	rotation := logging.RotationConfig{
		MaxBackups: c.Log.Rotation.MaxBackups,
		Daily:      c.Log.Rotation.Daily,
	}
	if size, err := humanize.ParseBytes(c.Log.Rotation.MaxSize); err == nil {
		rotation.MaxSize = int64(size)
	}
	return logging.Config{
		Level:      c.Log.Level,
		Path:       c.Log.Path,
		Rotation:   rotation,
		Components: c.Log.Components,
	}
}

// sitePrefix upper-cases a site code for the per-site data files.
func sitePrefix(site string) string {
	return strings.ToUpper(site)
}

// InventoryPath returns the per-site disk inventory file.
func (c *Config) InventoryPath(site string) string {
	return filepath.Join(c.DataDir, sitePrefix(site)+"_cliosoft_disks.txt")
}

// SnapshotPath returns the per-site environment snapshot.
func (c *Config) SnapshotPath(site string) string {
	return filepath.Join(c.DataDir, sitePrefix(site)+"_sos_env.json")
}

// UsageCSVPath returns the per-site usage report.
func (c *Config) UsageCSVPath(site string) string {
	return filepath.Join(c.DataDir, sitePrefix(site)+"_disk_usages.csv")
}

// ExcludedServicesPath returns the exclusion list location.
func (c *Config) ExcludedServicesPath() string {
	if c.ExcludedServicesFile != "" {
		return c.ExcludedServicesFile
	}
	return filepath.Join(c.DataDir, "excluded_services.txt")
}

// HistoryDBPath returns the badger directory for usage samples.
func (c *Config) HistoryDBPath() string {
	return filepath.Join(c.DataDir, "history.db")
}

// JournalDir returns the run journal directory.
func (c *Config) JournalDir() string {
	return filepath.Join(c.DataDir, "journal")
}

// ConfigDir returns $XDG_CONFIG_HOME/sosmon.
func ConfigDir() string {
	return filepath.Join(xdg.ConfigHome, "sosmon")
}

// DefaultConfigPath returns the user config file location.
func DefaultConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// WriteDefault writes a commented default config to path. It reports
// false without touching the file when one already exists.
func WriteDefault(path string) (bool, error) {
	if path == "" {
		path = DefaultConfigPath()
	}

	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("failed to check config file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, []byte(defaultConfigYAML()), 0o644); err != nil {
		return false, fmt.Errorf("failed to write default config: %w", err)
	}
	return true, nil
}

func defaultConfigYAML() string {
	return fmt.Sprintf(`# sosmon configuration

# Directory for the disk inventory, site snapshot, usage CSV and history
data_dir: %s

# Only one monitoring run may hold this lock
lock_file: %s

# A disk is low when its free space is at or below this many GB
threshold_gb: %d

# GB added to a low disk on resize (0 disables resizing)
add_size_gb: %d

# Skip disks resized within this many days
resize_lookback_days: %d

# One service name per line; lines starting with # are ignored
# (empty means <data_dir>/excluded_services.txt)
excluded_services_file: ""

inventory:
  max_age: %s
  marker: %s
  depth: %d
  normalize_pattern: '%s'
  normalize_replacement: %s
  # Skip raw disk paths that do not exist on this host
  check_exists: false

cliosoft:
  dir: %s
  servers_link: %s
  default_servers_dir: %s

commands:
  sosadmin: %s
  sosmgr: %s
  stod: %s
  stodstatus: %s

timeouts:
  command: %s
  resize: %s
  web: %s

email:
  enabled: false
  smtp_addr: %s
  from: ""
  to: []
  username: ""
  password: ""
  # Upgrade the relay connection with STARTTLS before authenticating
  starttls: false

log:
  # Log level: debug, info, warn, error (LOG_LEVEL overrides)
  level: info
  # Log file path (empty means use default: $XDG_STATE_HOME/sosmon/sosmon.log)
  path: ""
  rotation:
    max_size: 10MB
    max_backups: 5
    daily: true

history:
  enabled: true
  retention_days: %d

journal:
  enabled: true
  retention_days: %d
`,
		DefaultDataDir, DefaultLockFile, DefaultThresholdGB, DefaultAddSizeGB, DefaultResizeLookbackDays,
		DefaultInventoryMaxAge, DefaultMarker, DefaultDepth, DefaultNormalizePattern, DefaultNormalizeReplacement,
		DefaultCliosoftDir, DefaultServersLink, DefaultServersDir,
		DefaultSosadmin, DefaultSosmgr, DefaultStod, DefaultStodstatus,
		DefaultCommandTimeout, DefaultResizeTimeout, DefaultWebTimeout,
		DefaultSMTPAddr, DefaultHistoryRetentionDays, DefaultJournalRetentionDays)
}

package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "FORMVAULT"

type StorageConfig struct {
	// Dir holds partial and final export files. It must not be web-served.
	Dir string `mapstructure:"dir"`
}

type ExportConfig struct {
	BatchSize       int           `mapstructure:"batch_size"`
	MinBatchSize    int           `mapstructure:"min_batch_size"`
	MaxBatchSize    int           `mapstructure:"max_batch_size"`
	InlineThreshold int64         `mapstructure:"inline_threshold"`
	JobTTL          time.Duration `mapstructure:"job_ttl"`
	LockTTL         time.Duration `mapstructure:"lock_ttl"`
}

type MigrationConfig struct {
	BatchSize int           `mapstructure:"batch_size"`
	StateTTL  time.Duration `mapstructure:"state_ttl"`
}

type SchedulerConfig struct {
	// Driver is "postgres" or "temporal".
	Driver        string        `mapstructure:"driver"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	BaseDelay     time.Duration `mapstructure:"base_delay"`
	MaxDelay      time.Duration `mapstructure:"max_delay"`
	Lease         time.Duration `mapstructure:"lease"`
	Retention     time.Duration `mapstructure:"retention"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type TemporalConfig struct {
	HostPort  string `mapstructure:"host_port"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

type SyncConfig struct {
	Endpoint    string        `mapstructure:"endpoint"`
	Token       string        `mapstructure:"token"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type EmailConfig struct {
	Enabled         bool     `mapstructure:"enabled"`
	From            string   `mapstructure:"from"`
	SMTPHost        string   `mapstructure:"smtp_host"`
	SMTPPort        int      `mapstructure:"smtp_port"`
	Username        string   `mapstructure:"username"`
	Password        string   `mapstructure:"password"`
	AlertRecipients []string `mapstructure:"alert_recipients"`
}

type Config struct {
	DatabaseURL string          `mapstructure:"database_url"`
	ServerPort  string          `mapstructure:"server_port"`
	JWTSecret   string          `mapstructure:"jwt_secret"`
	BaseURL     string          `mapstructure:"base_url"`
	LogLevel    string          `mapstructure:"log_level"`
	Storage     StorageConfig   `mapstructure:"storage"`
	Export      ExportConfig    `mapstructure:"export"`
	Migration   MigrationConfig `mapstructure:"migration"`
	Scheduler   SchedulerConfig `mapstructure:"scheduler"`
	Temporal    TemporalConfig  `mapstructure:"temporal"`
	Sync        SyncConfig      `mapstructure:"sync"`
	Email       EmailConfig     `mapstructure:"email"`
}

func setDefaults(v *viper.Viper) {
	// Empty defaults make secrets visible to env overrides.
	v.SetDefault("database_url", "")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("server_port", "8080")
	v.SetDefault("base_url", "http://localhost:8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("storage.dir", "./var/exports")

	v.SetDefault("export.batch_size", 5000)
	v.SetDefault("export.min_batch_size", 100)
	v.SetDefault("export.max_batch_size", 5000)
	v.SetDefault("export.inline_threshold", 10000)
	v.SetDefault("export.job_ttl", 24*time.Hour)
	v.SetDefault("export.lock_ttl", 30*time.Second)

	v.SetDefault("migration.batch_size", 1000)
	v.SetDefault("migration.state_ttl", 30*24*time.Hour)

	v.SetDefault("scheduler.driver", "postgres")
	v.SetDefault("scheduler.poll_interval", 2*time.Second)
	v.SetDefault("scheduler.max_attempts", 5)
	v.SetDefault("scheduler.base_delay", 10*time.Second)
	v.SetDefault("scheduler.max_delay", 30*time.Minute)
	v.SetDefault("scheduler.lease", 5*time.Minute)
	v.SetDefault("scheduler.retention", 7*24*time.Hour)
	v.SetDefault("scheduler.sweep_interval", time.Hour)

	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "FORMVAULT_TASKS")

	v.SetDefault("sync.endpoint", "")
	v.SetDefault("sync.token", "")
	v.SetDefault("sync.max_attempts", 5)
	v.SetDefault("sync.base_delay", 30*time.Second)
	v.SetDefault("sync.timeout", 10*time.Second)

	v.SetDefault("email.enabled", false)
	v.SetDefault("email.smtp_host", "")
	v.SetDefault("email.username", "")
	v.SetDefault("email.password", "")
	v.SetDefault("email.smtp_port", 587)
}

// LoadFrom reads configuration from path, or from config.yaml in the
// current directory or ./config when path is empty. FORMVAULT_* environment
// variables override file values, e.g. FORMVAULT_EXPORT_BATCH_SIZE.
func LoadFrom(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, missing := err.(viper.ConfigFileNotFoundError); !missing || path != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load is LoadFrom that exits the process on error.
func Load(path string) *Config {
	cfg, err := LoadFrom(path)
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}
	return cfg
}

func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("jwt_secret must be set")
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("database_url must be set")
	}
	e := c.Export
	if e.MinBatchSize <= 0 || e.MaxBatchSize < e.MinBatchSize {
		return fmt.Errorf("export batch bounds [%d, %d] are invalid", e.MinBatchSize, e.MaxBatchSize)
	}
	if e.BatchSize < e.MinBatchSize || e.BatchSize > e.MaxBatchSize {
		return fmt.Errorf("export.batch_size %d is outside [%d, %d]", e.BatchSize, e.MinBatchSize, e.MaxBatchSize)
	}
	switch c.Scheduler.Driver {
	case "postgres", "temporal":
	default:
		return fmt.Errorf("scheduler.driver %q is not one of postgres, temporal", c.Scheduler.Driver)
	}
	return nil
}

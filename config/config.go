package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Canonical CanonicalConfig `mapstructure:"canonical"`
	Warehouse WarehouseConfig `mapstructure:"warehouse"`
	LIMS      LIMSConfig      `mapstructure:"lims"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// IngestConfig holds the file-system layout of the pipeline
type IngestConfig struct {
	// WorkingRoot holds one subdirectory per centre with incoming files
	WorkingRoot string `mapstructure:"working_root"`
	// BackupRoot holds one archive per centre (errors/ and successes/)
	BackupRoot string `mapstructure:"backup_root"`
}

// CanonicalConfig holds the canonical document store connection
type CanonicalConfig struct {
	URI      string        `mapstructure:"uri"`
	Database string        `mapstructure:"database"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// WarehouseConfig holds the reporting warehouse connection
type WarehouseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// LIMSConfig holds the automation database connection
type LIMSConfig struct {
	DSN string `mapstructure:"dsn"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Format  string `mapstructure:"format"`
	NoColor bool   `mapstructure:"no_color"`
}

// WorkingDir returns the incoming-file directory of one centre
func (c *Config) WorkingDir(centreDir string) string {
	return fmt.Sprintf("%s/%s", c.Ingest.WorkingRoot, centreDir)
}

// BackupDir returns the archive root of one centre
func (c *Config) BackupDir(centreDir string) string {
	return fmt.Sprintf("%s/%s", c.Ingest.BackupRoot, centreDir)
}

// Load loads the configuration from file, .env, and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	if err := loadEnvFile(); err != nil {
		// .env is optional, log but don't fail
		log.Warn().Err(err).Msg("Warning: .env file not loaded")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("SAMPLE_INGEST")

	bindEnvVars(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// loadEnvFile loads a .env file by parsing KEY=VALUE lines and setting them
// as environment variables
func loadEnvFile() error {
	envPaths := []string{".", "./config"}

	for _, path := range envPaths {
		envFile := fmt.Sprintf("%s/.env", path)
		if _, err := os.Stat(envFile); err == nil {
			if err := loadDotEnvFile(envFile); err == nil {
				return nil
			}
		}
	}
	return fmt.Errorf("no .env file found")
}

// loadDotEnvFile reads a .env file and sets environment variables
func loadDotEnvFile(filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) == 2 {
			key := strings.TrimSpace(parts[0])
			value := strings.TrimSpace(parts[1])
			value = strings.Trim(value, "\"'")
			os.Setenv(key, value)
		}
	}
	return scanner.Err()
}

// bindEnvVars binds environment variables to config keys
func bindEnvVars(v *viper.Viper) {
	v.BindEnv("canonical.uri", "CANONICAL_URI")
	v.BindEnv("canonical.database", "CANONICAL_DATABASE")
	v.BindEnv("warehouse.dsn", "WAREHOUSE_DSN")
	v.BindEnv("lims.dsn", "LIMS_DSN")

	v.BindEnv("ingest.working_root", "WORKING_ROOT")
	v.BindEnv("ingest.backup_root", "BACKUP_ROOT")

	v.BindEnv("logging.level", "LOG_LEVEL")
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("ingest.working_root", "./data/incoming")
	v.SetDefault("ingest.backup_root", "./data/backups")

	v.SetDefault("canonical.uri", "mongodb://localhost:27017")
	v.SetDefault("canonical.database", "lighthouse")
	v.SetDefault("canonical.timeout", 30*time.Second)

	v.SetDefault("warehouse.dsn", "postgres://localhost:5432/warehouse")
	v.SetDefault("lims.dsn", "root@tcp(localhost:3306)/automation")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.no_color", false)
}

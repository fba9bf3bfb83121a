// Package config loads pgmatview.yaml.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const maxWalkDepth = 25

// FileNames are the config file names looked up during discovery, in order
var FileNames = []string{"pgmatview.yaml", "pgmatview.yml"}

// Config is the pgmatview configuration
type Config struct {
	// Manifest is the view manifest path, relative to the working directory
	Manifest string `mapstructure:"manifest"`

	Database DatabaseConfig `mapstructure:"database"`
	Apply    ApplyConfig    `mapstructure:"apply"`
	Refresh  RefreshConfig  `mapstructure:"refresh"`
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL             string `mapstructure:"url"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Name            string `mapstructure:"name"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"sslmode"`
	ApplicationName string `mapstructure:"application_name"`
}

// ApplyConfig holds apply settings
type ApplyConfig struct {
	LockTimeout string `mapstructure:"lock_timeout"`
}

// RefreshConfig holds refresh settings
type RefreshConfig struct {
	// Parallel caps how many views refresh at once; 0 means no limit
	Parallel int `mapstructure:"parallel"`
	// Mode is auto (concurrent for views with a unique key), concurrent or exclusive
	Mode string `mapstructure:"mode"`
}

// LoadConfig discovers and loads configuration with precedence
// env > config file > defaults. Flags are layered on top by the commands.
//
// Returns the loaded config and the path of the config file, empty when none was found.
func LoadConfig(explicitConfigPath string) (*Config, string, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("PGMATVIEW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configPath, err := findConfigFile(explicitConfigPath)
	if err != nil {
		return nil, "", err
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, configPath, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, configPath, fmt.Errorf("unmarshaling config: %w", err)
	}

	// a relative manifest in a discovered file is relative to that file
	if configPath != "" && cfg.Manifest != "" && !filepath.IsAbs(cfg.Manifest) && v.InConfig("manifest") {
		cfg.Manifest = filepath.Join(filepath.Dir(configPath), cfg.Manifest)
	}

	return &cfg, configPath, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("manifest", "views.yaml")

	v.SetDefault("database.url", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "")
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.sslmode", "prefer")
	v.SetDefault("database.application_name", "pgmatview")

	v.SetDefault("apply.lock_timeout", "")

	v.SetDefault("refresh.parallel", 4)
	v.SetDefault("refresh.mode", "auto")
}

// findConfigFile returns explicitPath after checking it exists, or walks up from the
// working directory looking for pgmatview.yaml, stopping at a .git directory.
func findConfigFile(explicitPath string) (string, error) {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicitPath)
		}
		return explicitPath, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting cwd: %w", err)
	}

	dir := cwd
	for i := 0; i < maxWalkDepth; i++ {
		for _, name := range FileNames {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return path, nil
			}
		}

		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			break
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", nil
}

// DSN returns the database connection string: database.url when set, otherwise a
// postgres:// URL built from the discrete fields.
func (c *Config) DSN() (string, error) {
	db := c.Database

	if db.URL != "" {
		return db.URL, nil
	}

	if db.Host == "" {
		return "", fmt.Errorf("database.host is required when database.url is not set")
	}
	if db.Name == "" {
		return "", fmt.Errorf("database.name is required when database.url is not set")
	}
	if db.User == "" {
		return "", fmt.Errorf("database.user is required when database.url is not set")
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   "/" + db.Name,
	}
	if db.Password != "" {
		u.User = url.UserPassword(db.User, db.Password)
	} else {
		u.User = url.User(db.User)
	}

	q := u.Query()
	if db.SSLMode != "" {
		q.Set("sslmode", db.SSLMode)
	}
	if db.ApplicationName != "" {
		q.Set("application_name", db.ApplicationName)
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

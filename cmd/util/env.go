package util

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/pgschema/pgmatview/internal/config"
)

// GetEnvWithDefault returns the value of an environment variable or a default value if not set
func GetEnvWithDefault(envVar, defaultValue string) string {
	if value := os.Getenv(envVar); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvIntWithDefault returns the value of an environment variable as int or a default value if not set
func GetEnvIntWithDefault(envVar string, defaultValue int) int {
	if value := os.Getenv(envVar); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// ConnectionFlags are the database flags shared by every command that connects
type ConnectionFlags struct {
	Host            string
	Port            int
	DB              string
	User            string
	Password        string
	ApplicationName string
}

// AddConnectionFlags registers the connection flags on cmd
func AddConnectionFlags(cmd *cobra.Command, f *ConnectionFlags) {
	cmd.Flags().StringVar(&f.Host, "host", "", "Database server host (env: PGHOST)")
	cmd.Flags().IntVar(&f.Port, "port", 0, "Database server port (env: PGPORT)")
	cmd.Flags().StringVar(&f.DB, "db", "", "Database name (env: PGDATABASE)")
	cmd.Flags().StringVar(&f.User, "user", "", "Database user name (env: PGUSER)")
	cmd.Flags().StringVar(&f.Password, "password", "", "Database password (env: PGPASSWORD)")
	cmd.Flags().StringVar(&f.ApplicationName, "application-name", "", "Application name for database connection (env: PGAPPNAME)")
}

// Resolve merges the connection settings with precedence flags > PG* environment >
// config file. When nothing overrides the config, its DSN is used as is.
func (f *ConnectionFlags) Resolve(cmd *cobra.Command, cfg *config.Config) (*ConnectionConfig, error) {
	db := cfg.Database
	conn := &ConnectionConfig{
		Host:            db.Host,
		Port:            db.Port,
		Database:        db.Name,
		User:            db.User,
		Password:        db.Password,
		SSLMode:         db.SSLMode,
		ApplicationName: db.ApplicationName,
	}

	overridden := false
	pick := func(flag, env string, flagValue string, target *string) {
		switch {
		case cmd.Flags().Changed(flag):
			*target = flagValue
			overridden = true
		case os.Getenv(env) != "":
			*target = os.Getenv(env)
			overridden = true
		}
	}
	pick("host", "PGHOST", f.Host, &conn.Host)
	pick("db", "PGDATABASE", f.DB, &conn.Database)
	pick("user", "PGUSER", f.User, &conn.User)
	pick("password", "PGPASSWORD", f.Password, &conn.Password)
	pick("application-name", "PGAPPNAME", f.ApplicationName, &conn.ApplicationName)

	switch {
	case cmd.Flags().Changed("port"):
		conn.Port = f.Port
		overridden = true
	case GetEnvIntWithDefault("PGPORT", 0) != 0:
		conn.Port = GetEnvIntWithDefault("PGPORT", 0)
		overridden = true
	}

	if !overridden {
		if dsn, err := cfg.DSN(); err == nil {
			return &ConnectionConfig{URL: dsn}, nil
		}
	}

	if conn.Database == "" {
		return nil, fmt.Errorf("database name is required (use --db flag, PGDATABASE or database.name in %s)", config.FileNames[0])
	}
	if conn.User == "" {
		return nil, fmt.Errorf("database user is required (use --user flag, PGUSER or database.user in %s)", config.FileNames[0])
	}
	return conn, nil
}

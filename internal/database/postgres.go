package database

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func openPostgres(cfg Config) (*gorm.DB, error) {
	dsn, err := buildPostgresDSN(cfg)
	if err != nil {
		return nil, err
	}
	return gorm.Open(postgres.Open(dsn), gormConfig())
}

// buildPostgresDSN renders a keyword/value connection string and checks it
// with the pgx parser so malformed settings fail at startup.
func buildPostgresDSN(cfg Config) (string, error) {
	dsn := cfg.DSN
	if dsn == "" {
		if cfg.User == "" || cfg.Name == "" {
			return "", errors.New("postgres configuration requires user and database name")
		}

		host := cfg.Host
		if host == "" {
			host = "localhost"
		}
		port := cfg.Port
		if port == 0 {
			port = 5432
		}

		params := []string{
			"host=" + quoteValue(host),
			fmt.Sprintf("port=%d", port),
			"user=" + quoteValue(cfg.User),
			"dbname=" + quoteValue(cfg.Name),
		}
		if cfg.Password != "" {
			params = append(params, "password="+quoteValue(cfg.Password))
		}

		options := map[string]string{"sslmode": "disable"}
		for key, value := range cfg.Options {
			options[key] = value
		}
		keys := make([]string, 0, len(options))
		for key := range options {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			params = append(params, key+"="+quoteValue(options[key]))
		}

		dsn = strings.Join(params, " ")
	}

	if _, err := pgconn.ParseConfig(dsn); err != nil {
		return "", fmt.Errorf("postgres configuration: %w", err)
	}
	return dsn, nil
}

func quoteValue(value string) string {
	if value != "" && !strings.ContainsAny(value, " '\\") {
		return value
	}
	escaped := strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(value)
	return "'" + escaped + "'"
}

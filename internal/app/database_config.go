package app

import (
	"strings"

	"github.com/mayfest/accounts/internal/database"
)

// ConnectionConfig converts DatabaseConfig into database.Open parameters.
func (c DatabaseConfig) ConnectionConfig() database.Config {
	dbCfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(c.Driver)),
		Path:   strings.TrimSpace(c.Path),
		DSN:    strings.TrimSpace(c.DSN),
	}

	var creds DBAuthConfig
	switch dbCfg.Driver {
	case "", "sqlite":
		dbCfg.Driver = "sqlite"
		return dbCfg
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		creds = c.Postgres
	case "mysql":
		creds = c.MySQL
	default:
		// Leave driver as-is to surface unsupported driver error during open.
		return dbCfg
	}

	dbCfg.Host = strings.TrimSpace(creds.Host)
	dbCfg.Port = creds.Port
	dbCfg.Name = strings.TrimSpace(creds.Database)
	dbCfg.User = strings.TrimSpace(creds.Username)
	dbCfg.Password = creds.Password
	return dbCfg
}

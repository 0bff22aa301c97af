package database

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func openMySQL(cfg Config) (*gorm.DB, error) {
	dsn, err := buildMySQLDSN(cfg)
	if err != nil {
		return nil, err
	}
	return gorm.Open(mysql.Open(dsn), gormConfig())
}

// buildMySQLDSN renders the DSN through the driver's own formatter. parseTime
// is always forced on because OTP expiry columns are scanned into time.Time.
func buildMySQLDSN(cfg Config) (string, error) {
	var dc *mysqldriver.Config
	if cfg.DSN != "" {
		parsed, err := mysqldriver.ParseDSN(cfg.DSN)
		if err != nil {
			return "", fmt.Errorf("mysql configuration: %w", err)
		}
		dc = parsed
	} else {
		if cfg.User == "" || cfg.Name == "" {
			return "", errors.New("mysql configuration requires user and database name")
		}

		host := cfg.Host
		if host == "" {
			host = "127.0.0.1"
		}
		port := cfg.Port
		if port == 0 {
			port = 3306
		}

		dc = mysqldriver.NewConfig()
		dc.User = cfg.User
		dc.Passwd = cfg.Password
		dc.Net = "tcp"
		dc.Addr = net.JoinHostPort(host, strconv.Itoa(port))
		dc.DBName = cfg.Name
		dc.Loc = time.UTC
		dc.Params = map[string]string{"charset": "utf8mb4"}

		for key, value := range cfg.Options {
			switch strings.ToLower(key) {
			case "tls":
				dc.TLSConfig = value
			case "loc":
				loc, err := time.LoadLocation(value)
				if err != nil {
					return "", fmt.Errorf("mysql configuration: loc: %w", err)
				}
				dc.Loc = loc
			case "parsetime":
			default:
				dc.Params[key] = value
			}
		}
	}

	dc.ParseTime = true
	return dc.FormatDSN(), nil
}

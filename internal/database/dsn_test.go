package database

import (
	"testing"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestBuildPostgresDSNDefaults(t *testing.T) {
	dsn, err := buildPostgresDSN(Config{User: "mayfest", Name: "accounts"})
	require.NoError(t, err)
	require.Equal(t, "host=localhost port=5432 user=mayfest dbname=accounts sslmode=disable", dsn)
}

func TestBuildPostgresDSNWithOptions(t *testing.T) {
	dsn, err := buildPostgresDSN(Config{
		User:     "user",
		Name:     "db",
		Host:     "db.example.com",
		Port:     6543,
		Password: "pa ss'word",
		Options: map[string]string{
			"sslmode":          "prefer",
			"application_name": "accounts",
		},
	})
	require.NoError(t, err)

	parsed, err := pgconn.ParseConfig(dsn)
	require.NoError(t, err)
	require.Equal(t, "db.example.com", parsed.Host)
	require.Equal(t, uint16(6543), parsed.Port)
	require.Equal(t, "user", parsed.User)
	require.Equal(t, "db", parsed.Database)
	require.Equal(t, "pa ss'word", parsed.Password)
	require.Equal(t, "accounts", parsed.RuntimeParams["application_name"])
}

func TestBuildPostgresDSNValidates(t *testing.T) {
	_, err := buildPostgresDSN(Config{Host: "localhost"})
	require.ErrorContains(t, err, "requires user and database name")

	_, err = buildPostgresDSN(Config{DSN: "host=localhost sslmode=sometimes"})
	require.ErrorContains(t, err, "postgres configuration")
}

func TestBuildMySQLDSNDefaults(t *testing.T) {
	dsn, err := buildMySQLDSN(Config{User: "mayfest", Name: "accounts"})
	require.NoError(t, err)

	parsed, err := mysqldriver.ParseDSN(dsn)
	require.NoError(t, err)
	require.Equal(t, "mayfest", parsed.User)
	require.Equal(t, "127.0.0.1:3306", parsed.Addr)
	require.Equal(t, "accounts", parsed.DBName)
	require.True(t, parsed.ParseTime)
	require.Equal(t, time.UTC, parsed.Loc)
	require.Contains(t, dsn, "charset=utf8mb4")
}

func TestBuildMySQLDSNWithOptions(t *testing.T) {
	dsn, err := buildMySQLDSN(Config{
		User:     "user",
		Password: "secret",
		Name:     "db",
		Host:     "db.example.com",
		Port:     3307,
		Options:  map[string]string{"tls": "skip-verify", "parseTime": "false"},
	})
	require.NoError(t, err)

	parsed, err := mysqldriver.ParseDSN(dsn)
	require.NoError(t, err)
	require.Equal(t, "secret", parsed.Passwd)
	require.Equal(t, "db.example.com:3307", parsed.Addr)
	require.Equal(t, "skip-verify", parsed.TLSConfig)
	require.True(t, parsed.ParseTime)
}

func TestBuildMySQLDSNOverrideForcesParseTime(t *testing.T) {
	dsn, err := buildMySQLDSN(Config{DSN: "app:pw@tcp(mysql:3306)/accounts"})
	require.NoError(t, err)

	parsed, err := mysqldriver.ParseDSN(dsn)
	require.NoError(t, err)
	require.True(t, parsed.ParseTime)
	require.Equal(t, "accounts", parsed.DBName)
}

func TestBuildMySQLDSNRequiresUserAndName(t *testing.T) {
	_, err := buildMySQLDSN(Config{Host: "localhost"})
	require.Error(t, err)
}

func TestBuildSQLiteDSN(t *testing.T) {
	dsn, err := buildSQLiteDSN(Config{})
	require.NoError(t, err)
	require.Contains(t, dsn, "memory")

	dsn, err = buildSQLiteDSN(Config{Path: t.TempDir() + "/nested/accounts.db"})
	require.NoError(t, err)
	require.Contains(t, dsn, "_journal_mode=WAL")
}

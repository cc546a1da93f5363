package repository

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const connectTimeout = 5 * time.Second

// sqlitePragmas favour concurrent readers (WAL) and wait out writer locks
// rather than failing with SQLITE_BUSY.
var sqlitePragmas = []string{
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"busy_timeout(5000)",
	"foreign_keys(ON)",
}

// sqliteDSN builds a modernc.org/sqlite DSN, creating the parent directory
// of path. An empty path uses ./kestrel.db.
func sqliteDSN(cfg domain.RepositoryConfig) (string, error) {
	path := cfg.SQLitePath
	if path == "" {
		path = "./kestrel.db"
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	q := url.Values{}
	for _, p := range sqlitePragmas {
		q.Add("_pragma", p)
	}
	return "file:" + path + "?" + q.Encode(), nil
}

// postgresDSN builds a lib/pq URL. Credentials are escaped, so passwords may
// contain any character.
func postgresDSN(cfg domain.RepositoryConfig) string {
	host := cfg.PostgresHost
	if host == "" {
		host = "localhost"
	}
	port := cfg.PostgresPort
	if port == 0 {
		port = 5432
	}
	dbname := cfg.PostgresDB
	if dbname == "" {
		dbname = "kestrel"
	}
	sslmode := cfg.PostgresSSLMode
	if sslmode == "" {
		sslmode = "disable"
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   host + ":" + strconv.Itoa(port),
		Path:   "/" + dbname,
	}
	if cfg.PostgresUser != "" {
		u.User = url.UserPassword(cfg.PostgresUser, cfg.PostgresPassword)
	}
	q := url.Values{}
	q.Set("sslmode", sslmode)
	q.Set("connect_timeout", strconv.Itoa(int(connectTimeout.Seconds())))
	u.RawQuery = q.Encode()
	return u.String()
}

// open connects to the configured database and verifies the connection.
func open(cfg domain.RepositoryConfig) (*sql.DB, error) {
	var (
		dsn string
		err error
	)
	switch cfg.Driver {
	case DriverSQLite:
		dsn, err = sqliteDSN(cfg)
	case DriverPostgres:
		dsn = postgresDSN(cfg)
	default:
		return nil, fmt.Errorf("%w: unsupported driver %q", domain.ErrInvalidInput, cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Driver, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", cfg.Driver, err)
	}
	return db, nil
}

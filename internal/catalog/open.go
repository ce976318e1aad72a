package catalog

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "github.com/tursodatabase/libsql-client-go/libsql"

	"fknsrs.biz/p/catalogfill/internal/config"
	"fknsrs.biz/p/catalogfill/internal/sqlitelogger"
)

const Schema = `create table if not exists videos (
  id integer primary key autoincrement,
  slug text unique,
  title text,
  description text,
  poster text,
  video_url text,
  tera_id text unique not null,
  category text,
  tags text not null default '[]',
  duration text,
  views integer not null default 0,
  likes integer not null default 0,
  dislikes integer not null default 0,
  comments integer not null default 0,
  published integer not null default 1,
  published_at text,
  created_at text not null default current_timestamp,
  updated_at text not null default current_timestamp
);
create index if not exists videos_category on videos (category);
create index if not exists videos_published on videos (published);`

type OpenOptions struct {
	URL        string
	Token      string
	LogQueries config.LogQueries
	// Stack frames from these packages are left out of query logs.
	IgnorePackages []string
}

var registerLock sync.Mutex

func driverName(remote bool) string {
	if remote {
		return "libsql"
	}

	return "sqlite3"
}

func registerLogged(name string, wrapped driver.Driver, opts OpenOptions) string {
	registerLock.Lock()
	defer registerLock.Unlock()

	loggedName := name + ":logged"

	for _, e := range sql.Drivers() {
		if e == loggedName {
			return loggedName
		}
	}

	sql.Register(loggedName, sqlitelogger.New(
		loggedName,
		wrapped,
		&sqlitelogger.BasicFilter{
			LogSlowerThan: opts.LogQueries.SlowerThan,
			IgnorePackageStackFrames: append([]string{
				"database/sql",
				"runtime",
				"github.com/shogo82148/go-sql-proxy",
				"fknsrs.biz/p/sorm",
				"fknsrs.biz/p/catalogfill/internal/sqlitelogger",
			}, opts.IgnorePackages...),
		},
	))

	return loggedName
}

// DataSourceName turns the configured URL and token into what the driver
// expects. Remote URLs carry the token as authToken; local ones are used as
// they are.
func DataSourceName(rawURL, token string) (string, error) {
	if !config.IsRemoteDatabase(rawURL) {
		return strings.TrimPrefix(rawURL, "file://"), nil
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("catalog.DataSourceName: could not parse database url: %w", err)
	}

	if token != "" {
		q := u.Query()
		q.Set("authToken", token)
		u.RawQuery = q.Encode()
	}

	return u.String(), nil
}

// Open validates the credentials, opens the catalog and checks that it
// answers. The caller owns the returned handle.
func Open(ctx context.Context, opts OpenOptions) (*sql.DB, error) {
	if strings.TrimSpace(opts.URL) == "" {
		return nil, &config.ConfigurationError{Field: "turso_db_url", Message: "database URL is required"}
	}

	remote := config.IsRemoteDatabase(opts.URL)
	if remote && strings.TrimSpace(opts.Token) == "" {
		return nil, &config.ConfigurationError{Field: "turso_db_secret", Message: "auth token is required for a remote database"}
	}

	dsn, err := DataSourceName(opts.URL, opts.Token)
	if err != nil {
		return nil, err
	}

	name := driverName(remote)

	db, err := sql.Open(name, dsn)
	if err != nil {
		return nil, fmt.Errorf("catalog.Open: %w", err)
	}

	if opts.LogQueries.Enabled {
		loggedName := registerLogged(name, db.Driver(), opts)

		db.Close()

		if db, err = sql.Open(loggedName, dsn); err != nil {
			return nil, fmt.Errorf("catalog.Open: %w", err)
		}
	}

	if !remote {
		// one writer at a time keeps SQLite from returning "database is locked"
		db.SetMaxOpenConns(1)
	}

	pingCtx, cancel := context.WithTimeout(ctx, time.Second*15)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog.Open: could not connect to database: %w", err)
	}

	return db, nil
}

func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("catalog.Migrate: %w", err)
	}

	return nil
}

package auditlog

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/afero"
	"github.com/terrama2/services/pkg/log"
	"github.com/terrama2/services/pkg/utils"
	_ "modernc.org/sqlite"
)

// Open the store named by uri:
//
//	memory://                     runs kept in memory
//	file:///var/lib/terrama2      runs kept as files below a directory
//	sqlite:///var/lib/audit.db    sqlite database, sqlite://:memory: for a private one
//	postgres://user:pw@host/db    postgres database
//	mysql://user:pw@host:3306/db  mysql database
func OpenStore(uri string) (Store, error) {
	if uri == "" {
		uri = "memory://"
	}

	if strings.HasPrefix(uri, "sqlite://") {
		return openSqlite(strings.TrimPrefix(uri, "sqlite://"))
	}

	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("%w: audit target %q: %v", utils.ErrParse, uri, err)
	}

	switch u.Scheme {
	case "memory":
		log.Info("Audit runs stored in memory")
		return NewFsStore(afero.NewMemMapFs())

	case "file":
		if u.Path == "" {
			return nil, fmt.Errorf("%w: no path in audit target %q", utils.ErrParse, uri)
		}

		osFs := afero.NewOsFs()
		if err := osFs.MkdirAll(u.Path, 0755); err != nil {
			return nil, err
		}

		log.Info("Audit runs stored in", u.Path)
		return NewFsStore(afero.NewBasePathFs(osFs, u.Path))

	case "postgres", "postgresql":
		db, err := sql.Open("pgx", uri)
		if err != nil {
			return nil, err
		}
		return openSql(db, Postgres, u.Host)

	case "mysql":
		cfg := mysql.NewConfig()
		cfg.User = u.User.Username()
		cfg.Passwd, _ = u.User.Password()
		cfg.Net = "tcp"
		cfg.Addr = u.Host
		cfg.DBName = strings.TrimPrefix(u.Path, "/")
		cfg.ClientFoundRows = true

		db, err := sql.Open("mysql", cfg.FormatDSN())
		if err != nil {
			return nil, err
		}
		return openSql(db, MySQL, u.Host)

	default:
		return nil, fmt.Errorf("%w audit target: %s", utils.ErrUnsupported, u.Scheme)
	}
}

func openSqlite(path string) (Store, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: no path in sqlite audit target", utils.ErrParse)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// A single connection serializes writers and keeps :memory: databases alive.
	db.SetMaxOpenConns(1)
	return openSql(db, SQLite, path)
}

func openSql(db *sql.DB, dialect Dialect, where string) (Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit database %s: %w", where, err)
	}

	log.Infof("Audit runs stored in %s database %s", dialect, where)
	return NewSqlStore(db, dialect)
}

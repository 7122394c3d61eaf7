// Package store implements the persistence contract (C7): the schema and
// the small set of SQL-shaped operations the reconciliation engine and
// AgentManager rely on. It targets SQLite (github.com/mattn/go-sqlite3, the
// default) and PostgreSQL (github.com/lib/pq) behind the same API.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"regexp"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
)

//go:embed migrations/sqlite/*.sql
var sqliteMigrations embed.FS

//go:embed migrations/postgres/*.sql
var postgresMigrations embed.FS

// DB wraps a database/sql handle with the placeholder style of the
// underlying driver, mirroring the teacher's GetParameterPlaceholder
// abstraction in materialize/driver/sql/sqlgen.go.
type DB struct {
	*sql.DB
	driver      string
	placeholder func(argIndex int) string
}

// Open connects to driverName ("sqlite3" or "postgres") at dsn and applies
// any pending migrations. Schema migrations are applied once at server
// startup, per spec.
func Open(ctx context.Context, driverName, dsn string) (*DB, error) {
	conn, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: opening %s database: %w", driverName, err)
	}
	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("store: connecting to %s database: %w", driverName, err)
	}

	db := &DB{DB: conn, driver: driverName}
	switch driverName {
	case "sqlite3":
		db.placeholder = questionMarkPlaceholder
		// sqlite3 serializes writers internally; a single connection avoids
		// "database is locked" errors under concurrent access.
		conn.SetMaxOpenConns(1)
	case "postgres":
		db.placeholder = postgresPlaceholder
	default:
		return nil, fmt.Errorf("store: unsupported driver %q", driverName)
	}

	if err := db.migrate(ctx); err != nil {
		return nil, fmt.Errorf("store: applying migrations: %w", err)
	}
	return db, nil
}

// questionMarkPlaceholder is used by database/sql drivers (sqlite3,
// mysql) that bind parameters positionally with a bare "?".
func questionMarkPlaceholder(_ int) string { return "?" }

// postgresPlaceholder returns $N style parameters, as lib/pq requires.
func postgresPlaceholder(argIndex int) string { return fmt.Sprintf("$%d", argIndex) }

func (db *DB) migrate(ctx context.Context) error {
	var fsys embed.FS
	var dir string
	switch db.driver {
	case "sqlite3":
		fsys, dir = sqliteMigrations, "migrations/sqlite"
	case "postgres":
		fsys, dir = postgresMigrations, "migrations/postgres"
	}

	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY)`); err != nil {
		return fmt.Errorf("creating schema_migrations: %w", err)
	}

	entries, err := fsys.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		var applied int
		row := db.QueryRowContext(ctx, db.rebind(`SELECT count(*) FROM schema_migrations WHERE version = ?`), name)
		if err := row.Scan(&applied); err != nil {
			return fmt.Errorf("checking migration %s: %w", name, err)
		}
		if applied > 0 {
			continue
		}

		sqlBytes, err := fsys.ReadFile(dir + "/" + name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}

		log.WithField("migration", name).Info("store: applying migration")
		for _, stmt := range splitStatements(string(sqlBytes)) {
			if strings.TrimSpace(stmt) == "" {
				continue
			}
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("applying migration %s: %w", name, err)
			}
		}
		if _, err := db.ExecContext(ctx, db.rebind(`INSERT INTO schema_migrations (version) VALUES (?)`), name); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}
	return nil
}

// statementTerminator matches a statement-ending ";" followed by either a
// line break (spaces or tabs between the ";" and the line break
// tolerated) or end of file,
// so a migration file doesn't have to end every statement with exactly
// ";\n" to split cleanly.
var statementTerminator = regexp.MustCompile(`;[ \t]*(\r\n|\r|\n|\z)`)

func splitStatements(script string) []string {
	return statementTerminator.Split(script, -1)
}

// rebind rewrites a query written with bare "?" placeholders into the
// driver's native placeholder style.
func (db *DB) rebind(query string) string {
	if db.driver == "sqlite3" {
		return query
	}
	var b strings.Builder
	arg := 1
	for _, r := range query {
		if r == '?' {
			b.WriteString(db.placeholder(arg))
			arg++
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Package migrations applies the embedded, ordered SQL files to Postgres.
//
// Every file is written to be idempotent on its own (IF NOT EXISTS on
// tables, columns and indexes), and applied versions are recorded in
// schema_migrations, so Up can be run on every start.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

//go:embed sql/*.sql
var files embed.FS

// advisoryLockID serialises concurrent runners (several instances booting at once).
const advisoryLockID int64 = 724311907

const createTableSQL = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version    VARCHAR(32)  PRIMARY KEY,
		name       VARCHAR(255) NOT NULL,
		applied_at TIMESTAMPTZ  NOT NULL DEFAULT NOW()
	)
`

type Migration struct {
	Version string
	Name    string
	SQL     string
}

type Status struct {
	Version   string     `json:"version"`
	Name      string     `json:"name"`
	AppliedAt *time.Time `json:"applied_at,omitempty"`
}

// Load returns the embedded migrations ordered by version.
func Load() ([]Migration, error) {
	return loadFS(files, "sql")
}

func loadFS(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	var out []Migration
	seen := map[string]string{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		base := strings.TrimSuffix(e.Name(), ".sql")
		version, name, ok := strings.Cut(base, "_")
		if !ok || version == "" {
			return nil, fmt.Errorf("migration %q: want <version>_<name>.sql", e.Name())
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("migration version %s used by %s and %s", version, prev, e.Name())
		}
		seen[version] = e.Name()

		body, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", e.Name(), err)
		}
		out = append(out, Migration{Version: version, Name: name, SQL: string(body)})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

type Runner struct {
	db         *sql.DB
	migrations []Migration
	logger     *zap.Logger
}

func NewRunner(db *sql.DB, logger *zap.Logger) (*Runner, error) {
	ms, err := Load()
	if err != nil {
		return nil, err
	}
	return &Runner{db: db, migrations: ms, logger: logger}, nil
}

// Up applies every migration not yet recorded and returns the versions it applied.
func (r *Runner) Up(ctx context.Context) ([]string, error) {
	// session-level advisory locks are per connection
	conn, err := r.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("migrations: acquire conn: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, createTableSQL); err != nil {
		return nil, fmt.Errorf("migrations: ensure schema_migrations: %w", err)
	}
	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, advisoryLockID); err != nil {
		return nil, fmt.Errorf("migrations: lock: %w", err)
	}
	defer func() {
		if _, err := conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, advisoryLockID); err != nil {
			r.logger.Warn("failed to release migration lock", zap.Error(err))
		}
	}()

	applied, err := appliedVersions(ctx, conn)
	if err != nil {
		return nil, err
	}

	var done []string
	for _, m := range r.migrations {
		if _, ok := applied[m.Version]; ok {
			continue
		}
		if err := apply(ctx, conn, m); err != nil {
			return done, err
		}
		r.logger.Info("migration applied", zap.String("version", m.Version), zap.String("name", m.Name))
		done = append(done, m.Version)
	}
	if len(done) == 0 {
		r.logger.Info("database schema is up to date")
	}
	return done, nil
}

// Status lists every known migration with its applied time, if any.
func (r *Runner) Status(ctx context.Context) ([]Status, error) {
	if _, err := r.db.ExecContext(ctx, createTableSQL); err != nil {
		return nil, fmt.Errorf("migrations: ensure schema_migrations: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, `SELECT version, applied_at FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("migrations: status: %w", err)
	}
	defer rows.Close()

	appliedAt := map[string]time.Time{}
	for rows.Next() {
		var v string
		var at time.Time
		if err := rows.Scan(&v, &at); err != nil {
			return nil, fmt.Errorf("migrations: status scan: %w", err)
		}
		appliedAt[v] = at
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]Status, 0, len(r.migrations))
	for _, m := range r.migrations {
		s := Status{Version: m.Version, Name: m.Name}
		if at, ok := appliedAt[m.Version]; ok {
			s.AppliedAt = &at
		}
		out = append(out, s)
	}
	return out, nil
}

func appliedVersions(ctx context.Context, conn *sql.Conn) (map[string]struct{}, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("migrations: list applied: %w", err)
	}
	defer rows.Close()

	out := map[string]struct{}{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("migrations: scan applied: %w", err)
		}
		out[v] = struct{}{}
	}
	return out, rows.Err()
}

func apply(ctx context.Context, conn *sql.Conn, m Migration) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migration %s: begin: %w", m.Version, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return fmt.Errorf("migration %s (%s): %w", m.Version, m.Name, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, name) VALUES ($1, $2) ON CONFLICT (version) DO NOTHING`,
		m.Version, m.Name,
	); err != nil {
		return fmt.Errorf("migration %s: record: %w", m.Version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migration %s: commit: %w", m.Version, err)
	}
	return nil
}

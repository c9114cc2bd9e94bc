package db

import (
	"context"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrateLockKey serializes migrations across relayd instances sharing
// one database.
const migrateLockKey int64 = 0x72656c6179 // "relay"

type migration struct {
	name string
	sql  string
	sum  string
}

func loadMigrations() ([]migration, error) {
	names, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	slices.Sort(names)

	out := make([]migration, 0, len(names))
	for _, p := range names {
		b, err := migrationsFS.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", p, err)
		}
		sum := sha256.Sum256(b)
		out = append(out, migration{
			name: strings.TrimSuffix(path.Base(p), ".sql"),
			sql:  string(b),
			sum:  hex.EncodeToString(sum[:]),
		})
	}
	return out, nil
}

// ApplyMigrations runs every embedded migration not yet recorded in
// schema_migrations, holding an advisory lock for the whole run. An
// applied migration whose file changed since is an error.
func ApplyMigrations(ctx context.Context, d *DB) error {
	migs, err := loadMigrations()
	if err != nil {
		return err
	}

	conn, err := d.Pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire conn: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, migrateLockKey); err != nil {
		return fmt.Errorf("migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.Exec(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock($1)`, migrateLockKey)
	}()

	if _, err := conn.Exec(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
  name text PRIMARY KEY,
  sha256 text NOT NULL,
  applied_at timestamptz NOT NULL DEFAULT now()
)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for _, m := range migs {
		var applied string
		err := conn.QueryRow(ctx, `SELECT sha256 FROM schema_migrations WHERE name = $1`, m.name).Scan(&applied)
		if err == nil {
			if applied != m.sum {
				return fmt.Errorf("migration %s changed after it was applied (db=%s embedded=%s)", m.name, applied, m.sum)
			}
			continue
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("check migration %s: %w", m.name, err)
		}
		if err := apply(ctx, conn, m); err != nil {
			return err
		}
	}
	return nil
}

func apply(ctx context.Context, conn *pgxpool.Conn, m migration) error {
	return pgx.BeginFunc(ctx, conn, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("apply %s: %w", m.name, err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (name, sha256) VALUES ($1, $2)`, m.name, m.sum); err != nil {
			return fmt.Errorf("record %s: %w", m.name, err)
		}
		return nil
	})
}

package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"eventpro/internal/common"
	"eventpro/internal/docstore/migrations"
)

// DBTX is the subset of database/sql used by the Postgres backend. Both
// *sql.DB and *sql.Tx satisfy it.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Postgres stores every collection in one jsonb table.
type Postgres struct {
	db     DBTX
	closer func() error
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations applies the embedded migrations to db.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, ".")
}

// NewPostgres opens dsn with the pgx driver and migrates the schema.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}
	return &Postgres{db: db, closer: db.Close}, nil
}

// NewPostgresWithDB wraps an existing handle without migrating.
func NewPostgresWithDB(db DBTX) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Get(ctx context.Context, collection, id string) (Document, error) {
	query :=
		`SELECT data FROM documents
		 WHERE collection = $1 AND id = $2`

	var raw []byte
	err := p.db.QueryRowContext(ctx, query, collection, id).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Document{}, fmt.Errorf("docstore: %s/%s: %w", collection, id, common.ErrNotFound)
		}
		return Document{}, fmt.Errorf("db error: %w", err)
	}
	return decodeRow(id, raw)
}

func (p *Postgres) Set(ctx context.Context, collection, id string, data map[string]any, merge bool) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("docstore: encode: %w", err)
	}

	query :=
		`INSERT INTO documents (collection, id, data)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (collection, id) DO UPDATE
		 SET data = EXCLUDED.data, updated_at = now()`
	if merge {
		query =
			`INSERT INTO documents (collection, id, data)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (collection, id) DO UPDATE
			 SET data = documents.data || EXCLUDED.data, updated_at = now()`
	}

	if _, err := p.db.ExecContext(ctx, query, collection, id, raw); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (p *Postgres) Add(ctx context.Context, collection string, data map[string]any) (string, error) {
	id := uuid.NewString()
	if err := p.Set(ctx, collection, id, data, false); err != nil {
		return "", err
	}
	return id, nil
}

func (p *Postgres) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("docstore: encode: %w", err)
	}

	query :=
		`UPDATE documents SET data = data || $3, updated_at = now()
		 WHERE collection = $1 AND id = $2`

	res, err := p.db.ExecContext(ctx, query, collection, id, raw)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("docstore: %s/%s: %w", collection, id, common.ErrNotFound)
	}
	return nil
}

func (p *Postgres) Delete(ctx context.Context, collection, id string) error {
	query :=
		`DELETE FROM documents
		 WHERE collection = $1 AND id = $2`

	if _, err := p.db.ExecContext(ctx, query, collection, id); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (p *Postgres) Query(ctx context.Context, collection, field string, value any) ([]Document, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("docstore: encode: %w", err)
	}

	query :=
		`SELECT id, data FROM documents
		 WHERE collection = $1 AND data -> $2 = $3::jsonb
		 ORDER BY created_at, id`

	return p.queryDocs(ctx, query, collection, field, raw)
}

func (p *Postgres) List(ctx context.Context, collection string) ([]Document, error) {
	query :=
		`SELECT id, data FROM documents
		 WHERE collection = $1
		 ORDER BY created_at, id`

	return p.queryDocs(ctx, query, collection)
}

func (p *Postgres) CompareAndSet(ctx context.Context, collection, id, field string, expected, value any) (bool, error) {
	rawExpected, err := json.Marshal(expected)
	if err != nil {
		return false, fmt.Errorf("docstore: encode: %w", err)
	}
	rawValue, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("docstore: encode: %w", err)
	}

	query :=
		`UPDATE documents
		 SET data = jsonb_set(data, ARRAY[$3::text], $5::jsonb, true), updated_at = now()
		 WHERE collection = $1 AND id = $2 AND data -> $3 IS NOT DISTINCT FROM $4::jsonb`

	res, err := p.db.ExecContext(ctx, query, collection, id, field, rawExpected, rawValue)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n == 1, nil
}

func (p *Postgres) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer()
}

func (p *Postgres) queryDocs(ctx context.Context, query string, args ...any) ([]Document, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		d, err := decodeRow(id, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func decodeRow(id string, raw []byte) (Document, error) {
	data := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &data); err != nil {
			return Document{}, fmt.Errorf("docstore: decode %s: %w", id, err)
		}
	}
	return Document{ID: id, Data: data}, nil
}

package docstore

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventpro/internal/common"
)

func newPostgresWithMock(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresWithDB(db), mock
}

func TestPostgres_GetFound(t *testing.T) {
	p, mock := newPostgresWithMock(t)

	q := `(?s)^SELECT\s+data\s+FROM\s+documents\s+WHERE\s+collection\s*=\s*\$1\s+AND\s+id\s*=\s*\$2$`
	mock.ExpectQuery(q).
		WithArgs("events", "e1").
		WillReturnRows(sqlmock.NewRows([]string{"data"}).AddRow([]byte(`{"name":"Expo"}`)))

	doc, err := p.Get(context.Background(), "events", "e1")
	require.NoError(t, err)
	assert.Equal(t, "e1", doc.ID)
	assert.Equal(t, "Expo", doc.Data["name"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetNotFound(t *testing.T) {
	p, mock := newPostgresWithMock(t)

	mock.ExpectQuery(`(?s)^SELECT\s+data\s+FROM\s+documents`).
		WithArgs("events", "nope").
		WillReturnError(sql.ErrNoRows)

	_, err := p.Get(context.Background(), "events", "nope")
	assert.True(t, errors.Is(err, common.ErrNotFound))
}

func TestPostgres_SetReplaceAndMerge(t *testing.T) {
	p, mock := newPostgresWithMock(t)

	replace := `(?s)^INSERT\s+INTO\s+documents.*ON\s+CONFLICT\s+\(collection,\s*id\)\s+DO\s+UPDATE\s+SET\s+data\s*=\s*EXCLUDED\.data,`
	mock.ExpectExec(replace).
		WithArgs("users", "u1", []byte(`{"email":"a@b.c"}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	merge := `(?s)^INSERT\s+INTO\s+documents.*SET\s+data\s*=\s*documents\.data\s*\|\|\s*EXCLUDED\.data`
	mock.ExpectExec(merge).
		WithArgs("users", "u1", []byte(`{"phone":"5491122334455"}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ctx := context.Background()
	require.NoError(t, p.Set(ctx, "users", "u1", map[string]any{"email": "a@b.c"}, false))
	require.NoError(t, p.Set(ctx, "users", "u1", map[string]any{"phone": "5491122334455"}, true))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UpdateMissingIsNotFound(t *testing.T) {
	p, mock := newPostgresWithMock(t)

	q := `(?s)^UPDATE\s+documents\s+SET\s+data\s*=\s*data\s*\|\|\s*\$3`
	mock.ExpectExec(q).
		WithArgs("events", "ghost", []byte(`{"name":"x"}`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := p.Update(context.Background(), "events", "ghost", map[string]any{"name": "x"})
	assert.True(t, errors.Is(err, common.ErrNotFound))
}

func TestPostgres_QueryDecodesRows(t *testing.T) {
	p, mock := newPostgresWithMock(t)

	q := `(?s)^SELECT\s+id,\s*data\s+FROM\s+documents\s+WHERE\s+collection\s*=\s*\$1\s+AND\s+data\s*->\s*\$2\s*=\s*\$3::jsonb`
	rows := sqlmock.NewRows([]string{"id", "data"}).
		AddRow("e1", []byte(`{"sent24h":false}`)).
		AddRow("e2", []byte(`{"sent24h":false}`))
	mock.ExpectQuery(q).
		WithArgs("notifications", "sent24h", []byte(`false`)).
		WillReturnRows(rows)

	docs, err := p.Query(context.Background(), "notifications", "sent24h", false)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "e2", docs[1].ID)
	assert.Equal(t, false, docs[0].Data["sent24h"])
}

func TestPostgres_QueryDBError(t *testing.T) {
	p, mock := newPostgresWithMock(t)

	mock.ExpectQuery(`(?s)^SELECT\s+id,\s*data\s+FROM\s+documents`).
		WithArgs("events").
		WillReturnError(errors.New("db down"))

	_, err := p.List(context.Background(), "events")
	require.Error(t, err)
	assert.Regexp(t, regexp.MustCompile(`db error: .*db down`), err.Error())
}

func TestPostgres_CompareAndSet(t *testing.T) {
	p, mock := newPostgresWithMock(t)

	q := `(?s)^UPDATE\s+documents\s+SET\s+data\s*=\s*jsonb_set\(.*IS\s+NOT\s+DISTINCT\s+FROM\s+\$4::jsonb$`
	mock.ExpectExec(q).
		WithArgs("notifications", "e1", "sent48h", []byte(`false`), []byte(`true`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q).
		WithArgs("notifications", "e1", "sent48h", []byte(`false`), []byte(`true`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ctx := context.Background()
	won, err := p.CompareAndSet(ctx, "notifications", "e1", "sent48h", false, true)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = p.CompareAndSet(ctx, "notifications", "e1", "sent48h", false, true)
	require.NoError(t, err)
	assert.False(t, won)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunMigrations_UsesEmbeddedFS(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	orig := gooseUpContext
	t.Cleanup(func() { gooseUpContext = orig })

	var gotDir string
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		gotDir = dir
		return nil
	}

	require.NoError(t, RunMigrations(context.Background(), db))
	assert.Equal(t, ".", gotDir)
}

func TestRunMigrations_PropagatesError(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	orig := gooseUpContext
	t.Cleanup(func() { gooseUpContext = orig })
	gooseUpContext = func(context.Context, *sql.DB, string, ...goose.OptionsFunc) error {
		return errors.New("boom")
	}

	assert.EqualError(t, RunMigrations(context.Background(), db), "boom")
}

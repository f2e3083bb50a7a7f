package sqlstore

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/cidflow/internal/runtime/crud"
	"github.com/drblury/cidflow/internal/runtime/search"
)

type person struct {
	ID   string `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
	Code string `db:"code" json:"code"`
}

func newStore(t *testing.T) (*Store[person], sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	db := sqlx.NewDb(mockDB, "postgres")
	s, err := New[person](db, Table{Name: "people", Key: "id", Columns: []string{"name", "code"}})
	require.NoError(t, err)
	return s, mock
}

func TestGet(t *testing.T) {
	s, mock := newStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "id", "name", "code" FROM "people" WHERE "id" = $1`)).
		WithArgs("1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "code"}).AddRow("1", "Ada", "a"))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM "people" WHERE "id" = $1`)).
		WithArgs("2").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "code"}))

	got, err := s.Get(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, person{ID: "1", Name: "Ada", Code: "a"}, got)

	_, err = s.Get(context.Background(), "2")
	assert.ErrorIs(t, err, crud.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountAndFindWithSearch(t *testing.T) {
	s, mock := newStore(t)
	filter, err := search.Spec{Query: "an_n", Fields: search.ParseFields("^name", "=code")}.Expr()
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM "people" WHERE (CAST("name" AS TEXT) ILIKE $1 ESCAPE '\' OR LOWER(CAST("code" AS TEXT)) = LOWER($2))`)).
		WithArgs(`an\_n%`, "an_n").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery(regexp.QuoteMeta(`ORDER BY "id" LIMIT $3 OFFSET $4`)).
		WithArgs(`an\_n%`, "an_n", 2, 2).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "code"}).AddRow("3", "An_na", "x"))

	n, err := s.Count(context.Background(), filter)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	items, err := s.Find(context.Background(), filter, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, []person{{ID: "3", Name: "An_na", Code: "x"}}, items)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindUnbounded(t *testing.T) {
	s, mock := newStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "id", "name", "code" FROM "people" ORDER BY "id"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "code"}))

	items, err := s.Find(context.Background(), nil, 0, -1)
	require.NoError(t, err)
	assert.Empty(t, items)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindRejectsUnknownColumns(t *testing.T) {
	s, _ := newStore(t)
	filter := search.Cond{Field: "password", Value: "x"}

	_, err := s.Find(context.Background(), filter, 0, 10)
	assert.Error(t, err)
}

func TestInsert(t *testing.T) {
	s, mock := newStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "people" ("name", "code") VALUES ($1, $2) RETURNING "id", "name", "code"`)).
		WithArgs("Ada", "a").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "code"}).AddRow("10", "Ada", "a"))

	created, err := s.Insert(context.Background(), person{Name: "Ada", Code: "a"})
	require.NoError(t, err)
	assert.Equal(t, "10", created.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateAndDelete(t *testing.T) {
	s, mock := newStore(t)
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "people" SET "name" = $1, "code" = $2 WHERE "id" = $3`)).
		WithArgs("Grace", "g", "10").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE "id" = $1`)).
		WithArgs("10").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "code"}).AddRow("10", "Grace", "g"))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "people"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "people" WHERE "id" = $1`)).
		WithArgs("10").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "people"`)).
		WithArgs("11").
		WillReturnResult(sqlmock.NewResult(0, 0))

	updated, err := s.Update(context.Background(), "10", person{Name: "Grace", Code: "g"})
	require.NoError(t, err)
	assert.Equal(t, "Grace", updated.Name)

	_, err = s.Update(context.Background(), "99", person{})
	assert.ErrorIs(t, err, crud.ErrNotFound)

	require.NoError(t, s.Delete(context.Background(), "10"))
	assert.ErrorIs(t, s.Delete(context.Background(), "11"), crud.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompile(t *testing.T) {
	cols := map[string]struct{}{"name": {}, "bio": {}}
	tests := []struct {
		name     string
		expr     search.Expr
		wantSQL  string
		wantArgs []any
	}{
		{name: "nil", expr: nil, wantSQL: ""},
		{name: "contains", expr: search.Cond{Field: "name", Value: "50%"}, wantSQL: `CAST("name" AS TEXT) ILIKE ? ESCAPE '\'`, wantArgs: []any{`%50\%%`}},
		{name: "full text", expr: search.Cond{Field: "bio", Lookup: search.FullText, Value: "go"}, wantSQL: `to_tsvector(CAST("bio" AS TEXT)) @@ plainto_tsquery(?)`, wantArgs: []any{"go"}},
		{name: "regex", expr: search.Cond{Field: "bio", Lookup: search.Regex, Value: "^g"}, wantSQL: `CAST("bio" AS TEXT) ~* ?`, wantArgs: []any{"^g"}},
		{name: "empty any", expr: search.Any{}, wantSQL: "FALSE"},
		{name: "empty all", expr: search.All{}, wantSQL: "TRUE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args, err := compile(tt.expr, cols)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, sql)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestNewValidation(t *testing.T) {
	_, err := New[person](nil, Table{Name: "t", Key: "id"})
	assert.Error(t, err)

	mockDB, _, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()
	_, err = New[person](sqlx.NewDb(mockDB, "postgres"), Table{Key: "id"})
	assert.Error(t, err)
}

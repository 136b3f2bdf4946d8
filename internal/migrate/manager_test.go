package migrate

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"0001_users.up.sql":   {Data: []byte("create table users (id text primary key);")},
		"0001_users.down.sql": {Data: []byte("drop table users;")},
		"0002_index.up.sql":   {Data: []byte("create index users_idx on users (id); comment on table users is 'a;b';")},
		"0002_index.down.sql": {Data: []byte("drop index users_idx;")},
	}
}

func expectTables(mock sqlmock.Sqlmock) {
	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create table if not exists schema_seeds").WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestUpAppliesPendingInOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	expectTables(mock)
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_users.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec("create index users_idx").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("comment on table users is 'a;b'").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec("insert into schema_migrations").
		WithArgs("0002_index.up.sql", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	m := NewManager(db, testFS(), nil)
	require.NoError(t, m.Up(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDownRollsBackLatest(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	expectTables(mock)
	mock.ExpectQuery("select name from schema_migrations order by applied_at").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).
			AddRow("0001_users.up.sql").
			AddRow("0002_index.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec("drop index users_idx").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec("delete from schema_migrations").
		WithArgs("0002_index.up.sql").
		WillReturnResult(sqlmock.NewResult(0, 1))

	m := NewManager(db, testFS(), nil, WithMigrationsTable("schema_migrations"))
	require.NoError(t, m.Down(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDownErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	expectTables(mock)
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}))
	m := NewManager(db, testFS(), nil)
	require.ErrorIs(t, m.Down(context.Background()), ErrNothingApplied)

	expectTables(mock)
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0003_gone.up.sql"))
	require.ErrorIs(t, m.Down(context.Background()), ErrNoDownMigration)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSeedSkipsApplied(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	seeds := fstest.MapFS{
		"seeds/001_staff.sql": {Data: []byte("insert into users(id) values ('a');")},
		"seeds/002_more.sql":  {Data: []byte("insert into users(id) values ('b');")},
	}
	mock.ExpectExec("create table if not exists audit_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create table if not exists audit_seeds").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from audit_seeds").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("001_staff.sql"))
	mock.ExpectBegin()
	mock.ExpectExec("insert into users\\(id\\) values \\('b'\\)").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectExec("insert into audit_seeds").
		WithArgs("002_more.sql", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	m := NewManager(db, nil, seeds, WithMigrationsTable("audit_migrations"), WithSeedsTable("audit_seeds"))
	require.NoError(t, m.Seed(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSplitStatements(t *testing.T) {
	got := splitStatements("select 1; select ';'; \n")
	require.Equal(t, []string{"select 1;", " select ';';"}, got)
}

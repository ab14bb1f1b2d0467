package main

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type fakeDB struct {
	execFn     func(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	queryRowFn func(ctx context.Context, sql string, args ...any) pgx.Row
	beginFn    func(ctx context.Context) (pgx.Tx, error)
}

func (f *fakeDB) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	if f.execFn != nil {
		return f.execFn(ctx, sql, arguments...)
	}
	return pgconn.NewCommandTag("EXEC 1"), nil
}

func (f *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if f.queryRowFn != nil {
		return f.queryRowFn(ctx, sql, args...)
	}
	return fakeRow{applied: false}
}

func (f *fakeDB) Begin(ctx context.Context) (pgx.Tx, error) {
	if f.beginFn != nil {
		return f.beginFn(ctx)
	}
	return &fakeTx{}, nil
}

func (f *fakeDB) Close() {}

type fakeRow struct {
	applied bool
	err     error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != 1 {
		return errors.New("scan arity mismatch")
	}
	b, ok := dest[0].(*bool)
	if !ok {
		return errors.New("expected *bool")
	}
	*b = r.applied
	return nil
}

type fakeTx struct {
	execFn        func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	commitErr     error
	rollbackCalls int
}

func (t *fakeTx) Begin(ctx context.Context) (pgx.Tx, error) { return t, nil }
func (t *fakeTx) Commit(ctx context.Context) error          { return t.commitErr }
func (t *fakeTx) Rollback(ctx context.Context) error {
	t.rollbackCalls++
	return nil
}
func (t *fakeTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, errors.New("not implemented")
}
func (t *fakeTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (t *fakeTx) LargeObjects() pgx.LargeObjects                               { return pgx.LargeObjects{} }
func (t *fakeTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, errors.New("not implemented")
}
func (t *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if t.execFn != nil {
		return t.execFn(ctx, sql, args...)
	}
	return pgconn.NewCommandTag("EXEC 1"), nil
}
func (t *fakeTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}
func (t *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return fakeRow{err: errors.New("not implemented")}
}
func (t *fakeTx) Conn() *pgx.Conn { return nil }

func TestValidateMigrationPath(t *testing.T) {
	t.Parallel()

	clean, err := validateMigrationPath("migrations", "migrations/001_integration_schemas.sql")
	if err != nil {
		t.Fatalf("valid path rejected: %v", err)
	}
	if clean != filepath.Clean("migrations/001_integration_schemas.sql") {
		t.Fatalf("unexpected clean path: %s", clean)
	}

	if _, err := validateMigrationPath("migrations", "../outside.sql"); err == nil {
		t.Fatal("expected rejection for path outside migrations dir")
	}
	if _, err := validateMigrationPath("migrations", "other/001.sql"); err == nil {
		t.Fatal("expected rejection for different directory")
	}
}

func TestRunMigrationsAppliesAndSkips(t *testing.T) {
	db := &fakeDB{}
	tx := &fakeTx{}
	db.beginFn = func(ctx context.Context) (pgx.Tx, error) { return tx, nil }
	db.queryRowFn = func(ctx context.Context, sql string, args ...any) pgx.Row {
		return fakeRow{applied: args[0].(string) == "001_integration_schemas.sql"}
	}

	reads := 0
	readFile := func(name string) ([]byte, error) {
		reads++
		return []byte("SELECT 1;"), nil
	}
	glob := func(pattern string) ([]string, error) {
		return []string{
			"migrations/002_registered_policies.sql",
			"migrations/001_integration_schemas.sql",
		}, nil
	}
	var logs []string
	logf := func(format string, args ...any) { logs = append(logs, format) }

	if err := runMigrations(context.Background(), db, "migrations", readFile, glob, logf); err != nil {
		t.Fatalf("runMigrations: %v", err)
	}
	if reads != 1 {
		t.Fatalf("only the unapplied file should be read, got %d reads", reads)
	}
	if tx.rollbackCalls != 0 {
		t.Fatalf("unexpected rollbacks: %d", tx.rollbackCalls)
	}
	if len(logs) < 2 {
		t.Fatalf("expected applied + summary logs, got %#v", logs)
	}
}

func TestRunMigrationsErrors(t *testing.T) {
	glob1 := func(pattern string) ([]string, error) { return []string{"migrations/001.sql"}, nil }
	readOK := func(name string) ([]byte, error) { return []byte("SELECT 1;"), nil }

	t.Run("db required", func(t *testing.T) {
		err := runMigrations(context.Background(), nil, "migrations", nil, nil, nil)
		if err == nil || !strings.Contains(err.Error(), "db required") {
			t.Fatalf("got %v", err)
		}
	})

	t.Run("create table failure", func(t *testing.T) {
		db := &fakeDB{execFn: func(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
			return pgconn.CommandTag{}, errors.New("create fail")
		}}
		err := runMigrations(context.Background(), db, "migrations", nil, nil, nil)
		if err == nil || !strings.Contains(err.Error(), "create schema_migrations") {
			t.Fatalf("got %v", err)
		}
	})

	t.Run("glob failure", func(t *testing.T) {
		glob := func(pattern string) ([]string, error) { return nil, errors.New("glob fail") }
		err := runMigrations(context.Background(), &fakeDB{}, "migrations", nil, glob, nil)
		if err == nil || !strings.Contains(err.Error(), "glob migrations") {
			t.Fatalf("got %v", err)
		}
	})

	t.Run("escaping path", func(t *testing.T) {
		glob := func(pattern string) ([]string, error) { return []string{"../evil.sql"}, nil }
		err := runMigrations(context.Background(), &fakeDB{}, "migrations", nil, glob, nil)
		if err == nil || !strings.Contains(err.Error(), "invalid migration path") {
			t.Fatalf("got %v", err)
		}
	})

	t.Run("lookup failure", func(t *testing.T) {
		db := &fakeDB{queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return fakeRow{err: errors.New("lookup fail")}
		}}
		err := runMigrations(context.Background(), db, "migrations", nil, glob1, nil)
		if err == nil || !strings.Contains(err.Error(), "migration lookup") {
			t.Fatalf("got %v", err)
		}
	})

	t.Run("read failure", func(t *testing.T) {
		readFile := func(name string) ([]byte, error) { return nil, errors.New("read fail") }
		err := runMigrations(context.Background(), &fakeDB{}, "migrations", readFile, glob1, nil)
		if err == nil || !strings.Contains(err.Error(), "read migration") {
			t.Fatalf("got %v", err)
		}
	})

	t.Run("begin failure", func(t *testing.T) {
		db := &fakeDB{beginFn: func(ctx context.Context) (pgx.Tx, error) {
			return nil, errors.New("begin fail")
		}}
		err := runMigrations(context.Background(), db, "migrations", readOK, glob1, nil)
		if err == nil || !strings.Contains(err.Error(), "begin migration tx") {
			t.Fatalf("got %v", err)
		}
	})

	t.Run("apply failure rolls back", func(t *testing.T) {
		tx := &fakeTx{execFn: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			return pgconn.CommandTag{}, errors.New("apply fail")
		}}
		db := &fakeDB{beginFn: func(ctx context.Context) (pgx.Tx, error) { return tx, nil }}
		err := runMigrations(context.Background(), db, "migrations", readOK, glob1, nil)
		if err == nil || !strings.Contains(err.Error(), "apply migration") {
			t.Fatalf("got %v", err)
		}
		if tx.rollbackCalls != 1 {
			t.Fatalf("expected rollback, got %d", tx.rollbackCalls)
		}
	})

	t.Run("mark failure rolls back", func(t *testing.T) {
		execCalls := 0
		tx := &fakeTx{execFn: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			execCalls++
			if execCalls == 2 {
				return pgconn.CommandTag{}, errors.New("mark fail")
			}
			return pgconn.NewCommandTag("EXEC 1"), nil
		}}
		db := &fakeDB{beginFn: func(ctx context.Context) (pgx.Tx, error) { return tx, nil }}
		err := runMigrations(context.Background(), db, "migrations", readOK, glob1, nil)
		if err == nil || !strings.Contains(err.Error(), "mark migration") {
			t.Fatalf("got %v", err)
		}
		if tx.rollbackCalls != 1 {
			t.Fatalf("expected rollback, got %d", tx.rollbackCalls)
		}
	})

	t.Run("commit failure", func(t *testing.T) {
		tx := &fakeTx{commitErr: errors.New("commit fail")}
		db := &fakeDB{beginFn: func(ctx context.Context) (pgx.Tx, error) { return tx, nil }}
		err := runMigrations(context.Background(), db, "migrations", readOK, glob1, nil)
		if err == nil || !strings.Contains(err.Error(), "commit migration") {
			t.Fatalf("got %v", err)
		}
	})
}

func TestMainOverrides(t *testing.T) {
	origLogFatalf := logFatalf
	origOpenDB := openDBFn
	defer func() {
		logFatalf = origLogFatalf
		openDBFn = origOpenDB
	}()

	t.Run("success", func(t *testing.T) {
		fatal := false
		logFatalf = func(format string, args ...any) { fatal = true }
		openDBFn = func(ctx context.Context) (migratorDBCloser, error) {
			return &fakeDB{queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
				return fakeRow{applied: true}
			}}, nil
		}
		main()
		if fatal {
			t.Fatal("logFatalf called on success")
		}
	})

	t.Run("db error", func(t *testing.T) {
		fatal := false
		logFatalf = func(format string, args ...any) { fatal = true }
		openDBFn = func(ctx context.Context) (migratorDBCloser, error) {
			return nil, errors.New("connection refused")
		}
		main()
		if !fatal {
			t.Fatal("logFatalf not called on db error")
		}
	})

	t.Run("migration error", func(t *testing.T) {
		fatal := false
		logFatalf = func(format string, args ...any) { fatal = true }
		openDBFn = func(ctx context.Context) (migratorDBCloser, error) {
			return &fakeDB{execFn: func(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
				return pgconn.CommandTag{}, errors.New("exec failed")
			}}, nil
		}
		main()
		if !fatal {
			t.Fatal("logFatalf not called on migration error")
		}
	})
}

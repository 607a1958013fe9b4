package changecontrol

import (
	"context"
	"errors"
	"testing"
	"time"

	"kettleplane/internal/errs"
	"kettleplane/internal/store"
	"kettleplane/internal/store/postgres"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantMsg string
	}{
		{"select", "select * from orders", ""},
		{"with cte", "  WITH x AS (SELECT 1) SELECT * FROM x", ""},
		{"leading newline", "\n\tSELECT 1", ""},
		{"empty", "   ", "Empty query"},
		{"update", "UPDATE orders SET x = 1", "Query must start with SELECT or WITH"},
		{"insert", "insert into t values (1)", "Query must start with SELECT or WITH"},
		{"drop inside", "SELECT 1; drop table orders", "Destructive commands (DROP/DELETE) not allowed via Bot."},
		{"delete inside", "WITH d AS (DELETE FROM t RETURNING *) SELECT * FROM d", "Destructive commands (DROP/DELETE) not allowed via Bot."},
		{"truncate inside", "SELECT 1; TRUNCATE orders", "Destructive commands (DROP/DELETE) not allowed via Bot."},
		{"drop before tab", "SELECT 1; DROP\tTABLE orders", "Destructive commands (DROP/DELETE) not allowed via Bot."},
		{"drop before newline", "SELECT 1;\nDROP\nTABLE orders", "Destructive commands (DROP/DELETE) not allowed via Bot."},
		{"delete before crlf", "WITH d AS (DELETE\r\nFROM t RETURNING *) SELECT * FROM d", "Destructive commands (DROP/DELETE) not allowed via Bot."},
		{"trailing truncate", "SELECT 1; truncate;", "Destructive commands (DROP/DELETE) not allowed via Bot."},
		{"keyword as column prefix", "SELECT dropped_at FROM t", ""},
		{"keyword as column suffix", "SELECT is_deleted, backdrop FROM t", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.text)
			if tt.wantMsg == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errs.IsValidation(err) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if got := errs.Message(err); got != tt.wantMsg {
				t.Errorf("message = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

// fakeSqlStore records calls; its methods fail the test when not expected.
type fakeSqlStore struct {
	replaced  []string
	limit     int
	replaceFn func() error
}

func (f *fakeSqlStore) ListSqlSteps(ctx context.Context, trans string) ([]store.SqlAttribute, error) {
	return []store.SqlAttribute{{TransformationName: trans, StepName: "S1", CurrentText: "SELECT 1"}}, nil
}

func (f *fakeSqlStore) ReplaceSql(ctx context.Context, trans, step, newText, actor string) error {
	f.replaced = append(f.replaced, trans+"/"+step+"="+newText+"@"+actor)
	if f.replaceFn != nil {
		return f.replaceFn()
	}
	return nil
}

func (f *fakeSqlStore) ListSqlVersions(ctx context.Context, trans, step string, limit int) ([]store.SqlVersion, error) {
	f.limit = limit
	return nil, nil
}

func (f *fakeSqlStore) GetSqlVersion(ctx context.Context, id int64) (*store.SqlVersion, error) {
	return nil, errs.E("get version", errs.ErrNotFound, "Version not found", nil)
}

func (f *fakeSqlStore) FindSqlUsage(ctx context.Context, term string) ([]store.SqlUsage, error) {
	return []store.SqlUsage{{DirectoryID: 1, TransformationName: "T", StepName: term}}, nil
}

func TestProposeUpdate_RejectedTextNeverReachesStore(t *testing.T) {
	fs := &fakeSqlStore{}
	svc := New(fs, nil)

	err := svc.ProposeUpdate(context.Background(), "T1", "S1", "DELETE FROM orders", "42")
	if !errs.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(fs.replaced) != 0 {
		t.Errorf("store was called: %v", fs.replaced)
	}
}

func TestProposeUpdate_PassesThroughStoreErrors(t *testing.T) {
	fs := &fakeSqlStore{replaceFn: func() error {
		return errs.E("replace sql", errs.ErrPersistence, "failed to commit", errors.New("conn reset"))
	}}
	svc := New(fs, nil)

	err := svc.ProposeUpdate(context.Background(), "T1", "S1", "SELECT 2", "42")
	if !errors.Is(err, errs.ErrPersistence) {
		t.Fatalf("expected persistence error, got %v", err)
	}
	if len(fs.replaced) != 1 || fs.replaced[0] != "T1/S1=SELECT 2@42" {
		t.Errorf("unexpected store calls: %v", fs.replaced)
	}
}

func TestListVersions_DefaultLimit(t *testing.T) {
	for _, limit := range []int{0, -3} {
		fs := &fakeSqlStore{}
		if _, err := New(fs, nil).ListVersions(context.Background(), "T", "S", limit); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if fs.limit != DefaultVersionLimit {
			t.Errorf("limit %d became %d, want %d", limit, fs.limit, DefaultVersionLimit)
		}
	}
}

func TestReadVersion_NotFound(t *testing.T) {
	_, err := New(&fakeSqlStore{}, nil).ReadVersion(context.Background(), 99)
	if !errs.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestFindUsage_RequiresTerm(t *testing.T) {
	if _, err := New(&fakeSqlStore{}, nil).FindUsage(context.Background(), " "); !errs.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestProposeUpdate_ArchivesThenUpdatesInOneTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT rsa.ID_STEP_ATTRIBUTE, rsa.VALUE_STR`).
		WithArgs("T_ORDERS", "Read orders").
		WillReturnRows(sqlmock.NewRows([]string{"id", "value"}).AddRow(int64(7), "SELECT 1"))
	mock.ExpectExec(`INSERT INTO BOT_SQL_HISTORY`).
		WithArgs("T_ORDERS", "Read orders", "SELECT 1", "1001").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`UPDATE R_STEP_ATTRIBUTE SET VALUE_STR`).
		WithArgs("SELECT 2", int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	svc := New(postgres.NewFromDB(db), nil)
	if err := svc.ProposeUpdate(context.Background(), "T_ORDERS", "Read orders", "SELECT 2", "1001"); err != nil {
		t.Fatalf("ProposeUpdate failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestProposeUpdate_RollsBackWhenUpdateFails(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT rsa.ID_STEP_ATTRIBUTE, rsa.VALUE_STR`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "value"}).AddRow(int64(7), "SELECT 1"))
	mock.ExpectExec(`INSERT INTO BOT_SQL_HISTORY`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`UPDATE R_STEP_ATTRIBUTE`).WillReturnError(errors.New("lock timeout"))
	mock.ExpectRollback()

	svc := New(postgres.NewFromDB(db), nil)
	err = svc.ProposeUpdate(context.Background(), "T_ORDERS", "Read orders", "SELECT 2", "1001")
	if !errors.Is(err, errs.ErrPersistence) {
		t.Fatalf("expected persistence error, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestListVersions_NewestFirst(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	newer := time.Date(2026, 10, 2, 9, 0, 0, 0, time.UTC)
	older := time.Date(2026, 9, 30, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`ORDER BY CHANGED_AT DESC`).
		WithArgs("T", "S", DefaultVersionLimit).
		WillReturnRows(sqlmock.NewRows([]string{"id", "trans", "step", "old", "by", "at"}).
			AddRow(int64(2), "T", "S", "SELECT 2", "1001", newer).
			AddRow(int64(1), "T", "S", "SELECT 1", "1001", older))

	versions, err := New(postgres.NewFromDB(db), nil).ListVersions(context.Background(), "T", "S", 0)
	if err != nil {
		t.Fatalf("ListVersions failed: %v", err)
	}
	if len(versions) != 2 || versions[0].ID != 2 {
		t.Fatalf("unexpected versions: %+v", versions)
	}
	if !versions[0].ChangedAt.After(versions[1].ChangedAt) {
		t.Error("expected newest first")
	}
}

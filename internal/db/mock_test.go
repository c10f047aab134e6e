package db

import (
	"errors"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/joestump/congress-roster/internal/roster"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return New(conn), mock
}

func TestGetConfigQueryError(t *testing.T) {
	d, mock := newMockDB(t)
	mock.ExpectQuery(`SELECT value FROM config`).WithArgs("k").WillReturnError(errors.New("disk I/O error"))

	if _, err := d.GetConfig(ctx, "k", "fallback"); err == nil || !strings.Contains(err.Error(), "get config") {
		t.Fatalf("expected wrapped error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAppendFactsRollsBackOnInsertError(t *testing.T) {
	d, mock := newMockDB(t)
	f := fact("f1", "G000386|SSJU|119", roster.AttrPosition, "Chair", "senate", now)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(`INSERT OR IGNORE INTO facts`)
	prep.ExpectExec().WillReturnError(errors.New("database is locked"))
	mock.ExpectRollback()

	n, err := d.AppendFacts(ctx, []roster.Fact{f})
	if err == nil {
		t.Fatal("expected error")
	}
	if n != 0 {
		t.Fatalf("expected 0 inserted on failure, got %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPublishRollsBackOnFailure(t *testing.T) {
	d, mock := newMockDB(t)
	v := testView()
	v.Committees, v.Memberships, v.Conflicts, v.Pending = nil, nil, nil, nil

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO members`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO members`).WillReturnError(errors.New("constraint failed"))
	mock.ExpectRollback()

	err := d.Publish(ctx, v, "run-1", now)
	if err == nil || !strings.Contains(err.Error(), "upsert member P000197") {
		t.Fatalf("expected member upsert error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestTransitionRollsBackOnFailure(t *testing.T) {
	d, mock := newMockDB(t)
	next := roster.CongressSession{CongressNumber: 120, StartDate: t120, EndDate: t120.AddDate(2, 0, 0)}

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT is_current FROM sessions`).WithArgs(120).
		WillReturnRows(sqlmock.NewRows([]string{"is_current"}))
	mock.ExpectExec(`UPDATE sessions SET is_current = 0, end_date`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE sessions SET is_current = 0 WHERE is_current = 1`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO sessions`).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	if _, err := d.Transition(ctx, 119, next, t120); err == nil {
		t.Fatal("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestLatestHealthReportScanError(t *testing.T) {
	d, mock := newMockDB(t)
	mock.ExpectQuery(`SELECT id, state, generated_at, report FROM health_reports`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "state", "generated_at", "report"}).
			AddRow(1, "FRESH", "not a time", "{}"))

	if _, err := d.LatestHealthReport(ctx); err == nil {
		t.Fatal("expected parse error")
	}
}

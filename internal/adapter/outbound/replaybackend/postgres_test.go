package replaybackend

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/clawee/clawee-core/internal/domain/replay"
)

func TestPostgresRegisterIfAbsentInsertSucceeds(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	backend := NewPostgres(db)
	backend.sweepEvery = 1 << 30 // disable the random sweep for deterministic expectations

	mock.ExpectQuery("INSERT INTO replay_entries").
		WithArgs(string(replay.NamespaceNonce), "hash-1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"hash"}).AddRow("hash-1"))

	ok, err := backend.RegisterIfAbsent(context.Background(), replay.NamespaceNonce, "hash-1", time.Minute)
	if err != nil {
		t.Fatalf("RegisterIfAbsent: %v", err)
	}
	if !ok {
		t.Fatal("expected insert to report success")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresRegisterIfAbsentConflictReturnsFalse(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	backend := NewPostgres(db)
	backend.sweepEvery = 1 << 30

	mock.ExpectQuery("INSERT INTO replay_entries").
		WithArgs(string(replay.NamespaceNonce), "hash-2", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"hash"}))

	ok, err := backend.RegisterIfAbsent(context.Background(), replay.NamespaceNonce, "hash-2", time.Minute)
	if err != nil {
		t.Fatalf("RegisterIfAbsent: %v", err)
	}
	if ok {
		t.Fatal("expected conflict (no returned row) to report as not registered")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresEnsureSchemaExecutesCreateTable(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS replay_entries").WillReturnResult(sqlmock.NewResult(0, 0))

	backend := NewPostgres(db)
	if err := backend.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

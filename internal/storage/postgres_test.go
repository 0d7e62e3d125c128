package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"petition-watcher/internal/config"
)

type fakeExecer struct {
	calls     int
	failFirst int
}

func (f *fakeExecer) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.calls++
	if f.calls <= f.failFirst {
		return pgconn.CommandTag{}, errors.New("connection refused")
	}
	return pgconn.CommandTag{}, nil
}

func TestEnsureSchemaRetriesAfterFailure(t *testing.T) {
	s := NewPostgresStore(nil, config.StorageConfig{QueryTimeout: time.Second}, zerolog.Nop())
	db := &fakeExecer{failFirst: 1}
	ctx := context.Background()

	if err := s.ensureSchemaOn(ctx, db); err == nil {
		t.Fatal("first attempt should surface the exec failure")
	}
	if s.schemaDone {
		t.Fatal("a failed attempt must not latch the schema as created")
	}

	if err := s.ensureSchemaOn(ctx, db); err != nil {
		t.Fatalf("second attempt should succeed: %v", err)
	}
	if !s.schemaDone {
		t.Fatal("successful creation should latch")
	}

	before := db.calls
	if err := s.ensureSchemaOn(ctx, db); err != nil {
		t.Fatalf("latched schema should be a no-op: %v", err)
	}
	if db.calls != before {
		t.Fatalf("schema statements re-ran after success: %d calls, had %d", db.calls, before)
	}
}

func TestWrapPgErrClassification(t *testing.T) {
	integrity := &pgconn.PgError{Code: "23505"}
	if err := wrapPgErr("append tick", integrity); IsRetryable(err) {
		t.Fatalf("integrity violations are definitive, got retryable: %v", err)
	}

	transient := wrapPgErr("append tick", errors.New("connection reset"))
	if !IsRetryable(transient) {
		t.Fatalf("connectivity failures must be retryable: %v", transient)
	}

	if err := wrapPgErr("read ticks", ErrNotConfigured); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("ErrNotConfigured must pass through unchanged, got %v", err)
	}
}

package errors

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestMapDBError_NilError(t *testing.T) {
	if err := MapDBError(nil); err != nil {
		t.Errorf("MapDBError(nil) = %v, want nil", err)
	}
}

func TestMapDBError_ContextErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode ErrorCode
	}{
		{
			name:     "deadline exceeded",
			err:      context.DeadlineExceeded,
			wantCode: ErrCodeTimeout,
		},
		{
			name:     "canceled",
			err:      context.Canceled,
			wantCode: ErrCodeCanceled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := MapDBError(tt.err)
			if !IsCode(err, tt.wantCode) {
				t.Errorf("MapDBError() code = %v, want %v", CodeOf(err), tt.wantCode)
			}
		})
	}
}

func TestMapDBError_NoRows(t *testing.T) {
	err := MapDBError(pgx.ErrNoRows)
	if !IsCode(err, ErrCodeNotFound) {
		t.Errorf("MapDBError(pgx.ErrNoRows) should be NotFound, got %v", CodeOf(err))
	}
}

func TestMapDBError_UniqueViolation(t *testing.T) {
	pgErr := &pgconn.PgError{
		Code:   pgerrcode.UniqueViolation,
		Detail: `Key (id)=(job-1) already exists.`,
	}

	err := MapDBError(pgErr)
	if !IsCode(err, ErrCodeConflict) {
		t.Errorf("MapDBError() should be Conflict, got %v", CodeOf(err))
	}

	var appErr *AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("MapDBError() = %T, want *AppError", err)
	}
	if appErr.Field != "id" {
		t.Errorf("MapDBError() field = %q, want %q", appErr.Field, "id")
	}
}

func TestMapDBError_ConnectionFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{
			name: "bad driver connection",
			err:  driver.ErrBadConn,
		},
		{
			name: "wrapped bad driver connection",
			err:  fmt.Errorf("query job: %w", driver.ErrBadConn),
		},
		{
			name: "refused dial",
			err: &net.OpError{
				Op:  "dial",
				Net: "tcp",
				Err: errors.New("connection refused"),
			},
		},
		{
			name: "connection exception class",
			err:  &pgconn.PgError{Code: pgerrcode.ConnectionFailure},
		},
		{
			name: "server shutting down",
			err:  &pgconn.PgError{Code: pgerrcode.AdminShutdown},
		},
		{
			name: "connection pool exhausted",
			err:  &pgconn.PgError{Code: pgerrcode.TooManyConnections},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := MapDBError(tt.err)
			if !IsCode(err, ErrCodeUnavailable) {
				t.Errorf("MapDBError() code = %v, want %v", CodeOf(err), ErrCodeUnavailable)
			}
		})
	}
}

func TestMapDBError_UnknownErrorPassesThrough(t *testing.T) {
	sentinel := errors.New("something else")
	if err := MapDBError(sentinel); !errors.Is(err, sentinel) {
		t.Errorf("MapDBError() = %v, want original error", err)
	}
}

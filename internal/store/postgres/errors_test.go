package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"storeledger/backend/internal/store"
)

func TestMapErrorTranslatesSQLState(t *testing.T) {
	cases := []struct {
		code string
		want error
	}{
		{"40001", store.ErrConflict},
		{"40P01", store.ErrConflict},
		{"23505", store.ErrDuplicate},
		{"23514", store.ErrInvalid},
		{"22003", store.ErrInvalid},
	}
	for _, tc := range cases {
		err := mapError(fmt.Errorf("exec: %w", &pgconn.PgError{Code: tc.code, Message: "boom"}))
		if !errors.Is(err, tc.want) {
			t.Fatalf("code %s: expected %v, got %v", tc.code, tc.want, err)
		}
	}
}

func TestMapErrorPassesThroughOtherErrors(t *testing.T) {
	plain := errors.New("dial failed")
	if err := mapError(plain); !errors.Is(err, plain) {
		t.Fatalf("expected plain error unchanged, got %v", err)
	}
	err := mapError(&pgconn.PgError{Code: "42P01"})
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "42P01" {
		t.Fatalf("expected unmapped pg error to pass through, got %v", err)
	}
}

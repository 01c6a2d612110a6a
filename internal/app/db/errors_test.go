package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"naberya/internal/app/community"
)

func TestConstraintMapping(t *testing.T) {
	unique := &pgconn.PgError{Code: "23505"}
	foreignKey := &pgconn.PgError{Code: "23503"}
	other := errors.New("connection reset")

	tests := []struct {
		name string
		in   error
		want error
	}{
		{"nil", nil, nil},
		{"unique violation", unique, community.ErrDuplicate},
		{"wrapped unique violation", fmt.Errorf("insert: %w", unique), community.ErrDuplicate},
		{"foreign key violation", foreignKey, community.ErrNotFound},
		{"other error", other, other},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := constraint(tt.in); !errors.Is(got, tt.want) && got != tt.want {
				t.Errorf("constraint(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNotFoundMapping(t *testing.T) {
	if !errors.Is(notFound(pgx.ErrNoRows), community.ErrNotFound) {
		t.Error("pgx.ErrNoRows should map to community.ErrNotFound")
	}
	if notFound(nil) != nil {
		t.Error("nil should stay nil")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Error("foreign key violation reported as unique violation")
	}
}

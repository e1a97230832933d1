package sqlstore

import (
	"errors"
	"testing"

	"github.com/goliatone/go-accountlink/core"
)

func TestUniqueConflict_NamesTheViolatedIndex(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"sqlite external", errors.New("UNIQUE constraint failed: account_bindings.external_id"), core.ErrorCodeAccountOccupied},
		{"postgres external", errors.New(`ERROR: duplicate key value violates unique constraint "uq_account_bindings_active_external" (SQLSTATE=23505)`), core.ErrorCodeAccountOccupied},
		{"sqlite principal", errors.New("UNIQUE constraint failed: account_bindings.principal_id"), core.ErrorCodeAlreadyBound},
		{"postgres principal", errors.New(`ERROR: duplicate key value violates unique constraint "uq_account_bindings_active_principal" (SQLSTATE=23505)`), core.ErrorCodeAlreadyBound},
	}
	for _, tc := range cases {
		if !isUniqueConstraintError(tc.err) {
			t.Fatalf("%s: expected unique constraint detection", tc.name)
		}
		if code, _ := uniqueConflict(tc.err); code != tc.want {
			t.Fatalf("%s: got %s, want %s", tc.name, code, tc.want)
		}
	}
}

package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestIsDuplicateKeyErr(t *testing.T) {
	cases := []struct {
		name string
		err  error
		dup  bool
	}{
		{name: "nil", err: nil},
		{name: "plain", err: errors.New("boom")},
		{name: "gorm translated", err: gorm.ErrDuplicatedKey, dup: true},
		{name: "pgx wrapped", err: fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}), dup: true},
		{name: "pgx foreign key", err: &pgconn.PgError{Code: "23503"}},
		{name: "lib/pq", err: &pq.Error{Code: "23505"}, dup: true},
		{name: "mysql duplicate", err: &mysql.MySQLError{Number: 1062}, dup: true},
		{name: "mysql other", err: &mysql.MySQLError{Number: 1452}},
		{name: "sqlite", err: errors.New("UNIQUE constraint failed: payment_intents.task_id"), dup: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.dup, IsDuplicateKeyErr(tc.err))
		})
	}
}

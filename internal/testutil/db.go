// Package testutil opens throwaway SQLite databases carrying the service schema.
package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var dbSeq atomic.Int64

// Decimal columns are TEXT so amounts round-trip exactly.
var schema = []string{
	`CREATE TABLE tasks (
		id INTEGER PRIMARY KEY,
		client_id INTEGER NOT NULL,
		worker_id INTEGER,
		title TEXT NOT NULL DEFAULT '',
		price TEXT NOT NULL DEFAULT '0',
		currency TEXT NOT NULL DEFAULT 'VND',
		status TEXT NOT NULL DEFAULT 'draft',
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE payment_intents (
		id INTEGER PRIMARY KEY,
		task_id INTEGER NOT NULL UNIQUE REFERENCES tasks(id),
		client_id INTEGER NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL,
		provider TEXT NOT NULL,
		provider_ref TEXT,
		client_secret TEXT NOT NULL,
		checkout_url TEXT,
		idempotency_key TEXT UNIQUE,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_payment_intents_provider_ref ON payment_intents (provider, provider_ref) WHERE provider_ref IS NOT NULL`,
	`CREATE TABLE payments (
		id INTEGER PRIMARY KEY,
		task_id INTEGER NOT NULL UNIQUE REFERENCES tasks(id),
		intent_id INTEGER NOT NULL REFERENCES payment_intents(id),
		client_id INTEGER NOT NULL,
		worker_id INTEGER,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL,
		platform_fee_percent TEXT NOT NULL DEFAULT '0',
		platform_fee_amount TEXT NOT NULL DEFAULT '0',
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE wallets (
		id INTEGER PRIMARY KEY,
		owner_id INTEGER UNIQUE,
		is_platform BOOLEAN NOT NULL DEFAULT 0,
		available_balance TEXT NOT NULL DEFAULT '0',
		pending_balance TEXT NOT NULL DEFAULT '0',
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_wallets_platform ON wallets (is_platform) WHERE is_platform`,
	`CREATE TABLE wallet_transactions (
		id INTEGER PRIMARY KEY,
		wallet_id INTEGER NOT NULL REFERENCES wallets(id),
		type TEXT NOT NULL,
		amount TEXT NOT NULL,
		task_id INTEGER REFERENCES tasks(id) ON DELETE SET NULL,
		payment_id INTEGER REFERENCES payments(id) ON DELETE SET NULL,
		intent_id INTEGER REFERENCES payment_intents(id) ON DELETE SET NULL,
		memo TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE provider_webhook_logs (
		id INTEGER PRIMARY KEY,
		provider TEXT NOT NULL,
		event TEXT NOT NULL,
		provider_ref TEXT,
		signature TEXT NOT NULL,
		payload TEXT NOT NULL,
		received_at DATETIME NOT NULL,
		processed BOOLEAN NOT NULL DEFAULT 0,
		processed_at DATETIME,
		error TEXT,
		replay_count INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE outbox_events (
		id INTEGER PRIMARY KEY,
		event_id TEXT NOT NULL UNIQUE,
		topic TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id INTEGER NOT NULL,
		payload TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		published_at DATETIME,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT
	)`,
	`CREATE TABLE audit_logs (
		id INTEGER PRIMARY KEY,
		actor_type TEXT NOT NULL,
		actor_id TEXT,
		action TEXT NOT NULL,
		target_type TEXT NOT NULL,
		target_id TEXT,
		metadata TEXT NOT NULL DEFAULT '{}',
		ip_address TEXT,
		user_agent TEXT,
		created_at DATETIME NOT NULL
	)`,
}

// NewDB returns an isolated in-memory database with a single connection so
// concurrent callers queue on the pool the way row locks would queue them.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:escrow_%d?mode=memory&cache=shared&_pragma=foreign_keys(1)", dbSeq.Add(1))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
	return conn
}

func NewNode(t testing.TB) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return node
}

// TaskRow is the shape the task subsystem writes.
type TaskRow struct {
	ID       snowflake.ID
	ClientID snowflake.ID
	WorkerID *snowflake.ID
	Title    string
	Price    string
	Currency string
	Status   string
}

func SeedTask(t testing.TB, conn *gorm.DB, row TaskRow) {
	t.Helper()
	if row.Price == "" {
		row.Price = "100.00"
	}
	if row.Currency == "" {
		row.Currency = "VND"
	}
	if row.Status == "" {
		row.Status = "assigned"
	}
	now := time.Now().UTC()
	if err := conn.Exec(
		`INSERT INTO tasks (id, client_id, worker_id, title, price, currency, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.ID, row.ClientID, row.WorkerID, row.Title, row.Price, row.Currency, row.Status, now, now,
	).Error; err != nil {
		t.Fatalf("seed task: %v", err)
	}
}

func Count(t testing.TB, conn *gorm.DB, table string, where string, args ...any) int64 {
	t.Helper()
	var count int64
	stmt := conn.Table(table)
	if where != "" {
		stmt = stmt.Where(where, args...)
	}
	if err := stmt.Count(&count).Error; err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return count
}

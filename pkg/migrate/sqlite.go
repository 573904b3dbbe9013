package migrate

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// sqliteSchema mirrors the goose migrations for the embedded SQLite mode.
// Money columns are TEXT so decimals round-trip without float conversion.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL,
		stripe_account_id TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS offers (
		id TEXT PRIMARY KEY,
		seller_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT,
		price TEXT NOT NULL,
		dynamic_price TEXT,
		quantity INTEGER NOT NULL DEFAULT 1,
		expires_at DATETIME NOT NULL,
		buyer_id TEXT,
		sold_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		offer_id TEXT NOT NULL REFERENCES offers(id),
		buyer_id TEXT NOT NULL,
		seller_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('pending', 'reserved', 'completed', 'failed', 'refunded')),
		reserved_at DATETIME,
		reservation_expires_at DATETIME NOT NULL,
		qr_code_token TEXT,
		qr_code_expires_at DATETIME,
		checkout_session_id TEXT,
		payment_intent_id TEXT,
		paid_at DATETIME,
		completed_at DATETIME,
		payout_status TEXT NOT NULL DEFAULT 'none',
		payout_attempts INTEGER NOT NULL DEFAULT 0,
		transfer_id TEXT,
		transferred_at DATETIME,
		platform_fee TEXT,
		seller_amount TEXT,
		refund_id TEXT,
		refunded_at DATETIME,
		error_message TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		CHECK (status <> 'completed' OR payment_intent_id IS NOT NULL)
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_transactions_offer_open
		ON transactions(offer_id) WHERE status IN ('pending', 'reserved')`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_transactions_qr_code_token
		ON transactions(qr_code_token) WHERE qr_code_token IS NOT NULL`,
	`CREATE TABLE IF NOT EXISTS outbox_events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		payload BLOB NOT NULL,
		created_at DATETIME NOT NULL,
		published_at DATETIME,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS ledger_events (
		id TEXT PRIMARY KEY,
		transaction_id TEXT NOT NULL,
		buyer_id TEXT NOT NULL,
		seller_id TEXT NOT NULL,
		type TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		external_ref TEXT,
		metadata BLOB,
		created_at DATETIME NOT NULL
	)`,
}

// ApplySQLiteSchema creates the marketplace tables on a SQLite connection.
func ApplySQLiteSchema(ctx context.Context, conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db is required")
	}
	for _, stmt := range sqliteSchema {
		if err := conn.WithContext(ctx).Exec(stmt).Error; err != nil {
			return fmt.Errorf("apply sqlite schema: %w", err)
		}
	}
	return nil
}

// Package store provides the PostgreSQL-backed relational store: connection
// setup, schema initialization and the transactional primitives the auction
// engine relies on.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Open connects to PostgreSQL and configures the connection pool.
func Open(connStr string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

// InitSchema creates the tables and indexes if they do not exist.
//
// The partial unique index on auctions is the atomic guard for the
// one-open-auction-per-vehicle rule: a second concurrent creation fails
// with a unique violation instead of both observing "no open auction".
func InitSchema(ctx context.Context, db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		username VARCHAR(255) PRIMARY KEY,
		password_hash VARCHAR(255) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS vehicles (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		starting_price BIGINT NOT NULL,
		owner_username VARCHAR(255) NOT NULL REFERENCES users(username),
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS auctions (
		id BIGSERIAL PRIMARY KEY,
		vehicle_id BIGINT NOT NULL REFERENCES vehicles(id),
		starting_price BIGINT NOT NULL,
		end_time TIMESTAMPTZ NOT NULL,
		state VARCHAR(16) NOT NULL DEFAULT 'open' CHECK (state IN ('open', 'closed')),
		winner_username VARCHAR(255),
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		closed_at TIMESTAMPTZ
	);

	CREATE UNIQUE INDEX IF NOT EXISTS auctions_one_open_per_vehicle
		ON auctions (vehicle_id) WHERE state = 'open';

	CREATE TABLE IF NOT EXISTS bids (
		id BIGSERIAL PRIMARY KEY,
		auction_id BIGINT NOT NULL REFERENCES auctions(id),
		bidder_username VARCHAR(255) NOT NULL REFERENCES users(username),
		amount BIGINT NOT NULL,
		placed_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_bids_auction_amount
		ON bids (auction_id, amount DESC, placed_at);

	CREATE TABLE IF NOT EXISTS bid_events (
		event_id UUID PRIMARY KEY,
		auction_id BIGINT NOT NULL,
		bid_id BIGINT NOT NULL,
		bidder_username VARCHAR(255) NOT NULL,
		amount BIGINT NOT NULL,
		previous_amount BIGINT NOT NULL,
		recorded_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	`

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

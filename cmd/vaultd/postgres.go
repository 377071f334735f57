package main

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/agentpay/vault/pkg/events"
)

// openPostgresStore connects to Postgres and prepares the events table.
func openPostgresStore(ctx context.Context, url string) (*events.PostgresStore, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	store := events.NewPostgresStore(db)
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("init event store: %w", err)
	}
	return store, nil
}

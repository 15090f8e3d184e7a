// Package pgstore implements the document store on PostgreSQL. Locations are
// kept as JSONB documents; subscribers as rows keyed by lower(email).
package pgstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/halayachts/admin/store"
)

// Backend holds the process-wide pgx pool.
type Backend struct {
	pool *pgxpool.Pool
}

// Open creates a pool for databaseURL, pings it and ensures the schema.
func Open(ctx context.Context, databaseURL string) (*Backend, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := ensureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	return &Backend{pool: pool}, nil
}

func (b *Backend) Subscribers() store.SubscriberStore {
	return &subscriberStore{db: b.pool}
}

func (b *Backend) Locations() store.LocationStore {
	return &locationStore{db: b.pool}
}

func (b *Backend) Ping(ctx context.Context) error {
	if err := b.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return nil
}

func (b *Backend) Close(context.Context) error {
	b.pool.Close()
	return nil
}

func ensureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS subscribers (
            id SERIAL PRIMARY KEY,
            email TEXT NOT NULL,
            subscribed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            status TEXT NOT NULL DEFAULT 'active'
        )`,
		`CREATE UNIQUE INDEX IF NOT EXISTS subscribers_email_key ON subscribers (lower(email))`,
		`CREATE TABLE IF NOT EXISTS locations (
            id SERIAL PRIMARY KEY,
            doc JSONB NOT NULL DEFAULT '{}'::jsonb,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        )`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

type subscriberStore struct {
	db *pgxpool.Pool
}

func (s *subscriberStore) List(ctx context.Context) ([]store.Subscriber, error) {
	rows, err := s.db.Query(ctx, `SELECT id, email, subscribed_at, status FROM subscribers ORDER BY subscribed_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("%w: list subscribers: %v", store.ErrUnavailable, err)
	}
	defer rows.Close()

	subscribers := []store.Subscriber{}
	for rows.Next() {
		var (
			id           int64
			sub          store.Subscriber
			subscribedAt time.Time
		)
		if err := rows.Scan(&id, &sub.Email, &subscribedAt, &sub.Status); err != nil {
			return nil, fmt.Errorf("%w: scan subscriber: %v", store.ErrUnavailable, err)
		}
		sub.ID = strconv.FormatInt(id, 10)
		sub.SubscribedAt = subscribedAt.UTC().Format(time.RFC3339)
		sub.Status = store.StatusOrDefault(sub.Status)
		subscribers = append(subscribers, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate subscribers: %v", store.ErrUnavailable, err)
	}
	return subscribers, nil
}

func (s *subscriberStore) DeleteByEmail(ctx context.Context, email string) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM subscribers WHERE lower(email) = $1`, store.NormalizeEmail(email))
	if err != nil {
		return 0, fmt.Errorf("%w: delete subscriber: %v", store.ErrUnavailable, err)
	}
	return tag.RowsAffected(), nil
}

type locationStore struct {
	db *pgxpool.Pool
}

func (s *locationStore) List(ctx context.Context) ([]store.Location, error) {
	rows, err := s.db.Query(ctx, `SELECT id, doc FROM locations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("%w: list locations: %v", store.ErrUnavailable, err)
	}
	defer rows.Close()

	locations := []store.Location{}
	for rows.Next() {
		var (
			id  int64
			doc map[string]any
		)
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, fmt.Errorf("%w: scan location: %v", store.ErrUnavailable, err)
		}
		locations = append(locations, withID(doc, id))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate locations: %v", store.ErrUnavailable, err)
	}
	return locations, nil
}

// withID exposes the row id as _id unless the document carries its own.
func withID(doc map[string]any, id int64) store.Location {
	if doc == nil {
		doc = make(map[string]any, 1)
	}
	if _, ok := doc["_id"]; !ok {
		doc["_id"] = strconv.FormatInt(id, 10)
	}
	return store.Location(doc)
}

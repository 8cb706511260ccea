package store

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/rankwatch/rankwatch/internal/model"
)

// SubscriptionsStore persists per-channel feed subscriptions.
type SubscriptionsStore struct {
	mu sync.Mutex
	db *sql.DB
}

// OpenSubscriptionsStore opens (or creates) the subscriptions database and
// applies migrations.
func OpenSubscriptionsStore(path string) (*SubscriptionsStore, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	if err := migrateDB(db, subscriptionsMigrationsPath); err != nil {
		db.Close()
		return nil, err
	}
	return &SubscriptionsStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SubscriptionsStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// SubscribedChannels lists the channels subscribed to a feed.
func (s *SubscriptionsStore) SubscribedChannels(page model.Page) ([]model.ChannelID, error) {
	if !page.IsValid() {
		return nil, fmt.Errorf("store: unknown page %q", string(page))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query("SELECT channel_id FROM Subscriptions WHERE page = ? AND subscribed = 1", string(page))
	if err != nil {
		return nil, fmt.Errorf("store: subscribed channels %s: %w", page, err)
	}
	defer rows.Close()

	var ids []model.ChannelID
	for rows.Next() {
		var id model.ChannelID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: subscribed channels %s scan: %w", page, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// IsSubscribed reports whether a channel is subscribed to a feed.
func (s *SubscriptionsStore) IsSubscribed(channel model.ChannelID, page model.Page) (bool, error) {
	if !page.IsValid() {
		return false, fmt.Errorf("store: unknown page %q", string(page))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var subscribed int
	err := s.db.QueryRow(
		"SELECT subscribed FROM Subscriptions WHERE channel_id = ? AND page = ?",
		channel, string(page),
	).Scan(&subscribed)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: is subscribed %d/%s: %w", channel, page, err)
	}
	return subscribed == 1, nil
}

// AddSubscription marks a channel subscribed to a feed. Idempotent.
func (s *SubscriptionsStore) AddSubscription(channel model.ChannelID, page model.Page) error {
	return s.setSubscribed(channel, page, 1)
}

// RemoveSubscription marks a channel unsubscribed from a feed. Idempotent;
// unknown channels get an unsubscribed row rather than an error.
func (s *SubscriptionsStore) RemoveSubscription(channel model.ChannelID, page model.Page) error {
	return s.setSubscribed(channel, page, 0)
}

func (s *SubscriptionsStore) setSubscribed(channel model.ChannelID, page model.Page, subscribed int) error {
	if !page.IsValid() {
		return fmt.Errorf("store: unknown page %q", string(page))
	}
	if channel < 0 {
		return fmt.Errorf("store: negative channel id %d", channel)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`INSERT INTO Subscriptions (channel_id, page, subscribed) VALUES (?, ?, ?)
		ON CONFLICT(channel_id, page) DO UPDATE SET subscribed = excluded.subscribed`,
		channel, string(page), subscribed)
	if err != nil {
		return fmt.Errorf("store: set subscription %d/%s: %w", channel, page, err)
	}
	return nil
}

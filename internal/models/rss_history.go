// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/cespare/xxhash/v2"

	"github.com/autobrr/subrss/internal/dbinterface"
)

// RSSHistoryEntry records a feed item that was accepted for a subscription.
type RSSHistoryEntry struct {
	ID             int64     `json:"id"`
	Enclosure      string    `json:"enclosure"`
	Title          string    `json:"title"`
	Site           string    `json:"site"`
	SubscriptionID int64     `json:"subscriptionId"`
	CreatedAt      time.Time `json:"createdAt"`
}

// RSSHistoryStore deduplicates feed items across runs, keyed by enclosure.
type RSSHistoryStore struct {
	db dbinterface.Querier
}

func NewRSSHistoryStore(db dbinterface.Querier) *RSSHistoryStore {
	return &RSSHistoryStore{db: db}
}

func enclosureHash(enclosure string) int64 {
	return int64(xxhash.Sum64String(enclosure))
}

// Seen reports whether the enclosure was recorded by a previous accept.
func (s *RSSHistoryStore) Seen(ctx context.Context, enclosure string) (bool, error) {
	if enclosure == "" {
		return false, nil
	}

	var id int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM rss_history
		WHERE enclosure_hash = ? AND enclosure = ?
		LIMIT 1`, enclosureHash(enclosure), enclosure).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("query rss history: %w", err)
	}
	return true, nil
}

// Record stores the entry. Recording an enclosure twice is a no-op.
func (s *RSSHistoryStore) Record(ctx context.Context, entry *RSSHistoryEntry) error {
	if entry == nil || entry.Enclosure == "" {
		return errors.New("history entry must include an enclosure")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	entry.CreatedAt = entry.CreatedAt.UTC()

	return retryBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var siteID sql.NullInt64
		if entry.Site != "" {
			ids, err := dbinterface.InternStrings(ctx, tx, entry.Site)
			if err != nil {
				return err
			}
			siteID = sql.NullInt64{Int64: ids[0], Valid: true}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO rss_history (enclosure_hash, enclosure, title, site_id, subscription_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			enclosureHash(entry.Enclosure),
			entry.Enclosure,
			entry.Title,
			siteID,
			nullInt64(entry.SubscriptionID),
			entry.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert rss history: %w", err)
		}
		return tx.Commit()
	})
}

// List returns the most recent history entries.
func (s *RSSHistoryStore) List(ctx context.Context, limit int) ([]*RSSHistoryEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT h.id, h.enclosure, h.title, COALESCE(sp.value, ''), COALESCE(h.subscription_id, 0), h.created_at
		FROM rss_history h
		LEFT JOIN string_pool sp ON sp.id = h.site_id
		ORDER BY h.id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list rss history: %w", err)
	}
	defer rows.Close()

	var entries []*RSSHistoryEntry
	for rows.Next() {
		var e RSSHistoryEntry
		if err := rows.Scan(&e.ID, &e.Enclosure, &e.Title, &e.Site, &e.SubscriptionID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan rss history: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// Prune removes entries older than the cutoff.
func (s *RSSHistoryStore) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM rss_history WHERE created_at < ?`, olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune rss history: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

func nullInt64(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}

func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "sqlite_busy")
}

func retryBusy(ctx context.Context, fn func() error) error {
	return retry.Do(
		fn,
		retry.Context(ctx),
		retry.Attempts(5),
		retry.Delay(50*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isBusyError),
	)
}

// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/autobrr/subrss/internal/dbinterface"
)

// DownloadRecord is one torrent handed to the downloader on behalf of a subscription.
type DownloadRecord struct {
	ID             int64     `json:"id"`
	SubscriptionID int64     `json:"subscriptionId"`
	TMDBID         string    `json:"tmdbId"`
	Kind           MediaKind `json:"kind"`
	Title          string    `json:"title"`
	Site           string    `json:"site"`
	Enclosure      string    `json:"enclosure"`
	Season         int       `json:"season,omitempty"`
	Episodes       []int     `json:"episodes,omitempty"`
	Size           int64     `json:"size"`
	CreatedAt      time.Time `json:"createdAt"`
}

type DownloadStore struct {
	db dbinterface.Querier
}

func NewDownloadStore(db dbinterface.Querier) *DownloadStore {
	return &DownloadStore{db: db}
}

func (s *DownloadStore) Record(ctx context.Context, rec *DownloadRecord) error {
	if rec == nil {
		return fmt.Errorf("download record cannot be nil")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	episodes := rec.Episodes
	if episodes == nil {
		episodes = []int{}
	}
	episodesJSON, err := json.Marshal(episodes)
	if err != nil {
		return fmt.Errorf("encode episodes: %w", err)
	}

	return retryBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var siteID sql.NullInt64
		if rec.Site != "" {
			ids, err := dbinterface.InternStrings(ctx, tx, rec.Site)
			if err != nil {
				return err
			}
			siteID = sql.NullInt64{Int64: ids[0], Valid: true}
		}

		result, err := tx.ExecContext(ctx, `
			INSERT INTO download_history (subscription_id, tmdb_id, kind, title, site_id, enclosure, season, episodes, size, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.SubscriptionID, rec.TMDBID, rec.Kind, rec.Title, siteID, rec.Enclosure,
			rec.Season, string(episodesJSON), rec.Size, rec.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert download history: %w", err)
		}
		if id, err := result.LastInsertId(); err == nil {
			rec.ID = id
		}
		return tx.Commit()
	})
}

// ListBySubscription returns download history for a subscription, newest first.
func (s *DownloadStore) ListBySubscription(ctx context.Context, subscriptionID int64) ([]*DownloadRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.id, d.subscription_id, d.tmdb_id, d.kind, d.title, COALESCE(sp.value, ''),
		       d.enclosure, d.season, d.episodes, d.size, d.created_at
		FROM download_history d
		LEFT JOIN string_pool sp ON sp.id = d.site_id
		WHERE d.subscription_id = ?
		ORDER BY d.id DESC`, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("list download history: %w", err)
	}
	defer rows.Close()

	var records []*DownloadRecord
	for rows.Next() {
		var rec DownloadRecord
		var episodesJSON string
		if err := rows.Scan(&rec.ID, &rec.SubscriptionID, &rec.TMDBID, &rec.Kind, &rec.Title, &rec.Site,
			&rec.Enclosure, &rec.Season, &episodesJSON, &rec.Size, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan download history: %w", err)
		}
		if episodesJSON != "" {
			if err := json.Unmarshal([]byte(episodesJSON), &rec.Episodes); err != nil {
				return nil, fmt.Errorf("decode episodes: %w", err)
			}
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/autobrr/subrss/internal/dbinterface"
)

// LibraryItem is media already present locally. Movies use season and episode 0;
// a TV row with episode 0 stands for a whole season.
type LibraryItem struct {
	Kind    MediaKind `json:"kind"`
	TMDBID  string    `json:"tmdbId"`
	Title   string    `json:"title"`
	Year    int       `json:"year,omitempty"`
	Season  int       `json:"season,omitempty"`
	Episode int       `json:"episode,omitempty"`
}

// SeasonMissing lists the episodes of one season that are still wanted.
// An open season is wanted but its length is unknown: every episode not in
// Have counts as missing until a season pack is taken.
type SeasonMissing struct {
	Season   int   `json:"season"`
	Total    int   `json:"total"`
	Episodes []int `json:"episodes"`
	Open     bool  `json:"open,omitempty"`
	Have     []int `json:"have,omitempty"`
}

func (s *SeasonMissing) has(ep int) bool {
	for _, h := range s.Have {
		if h == ep {
			return true
		}
	}
	return false
}

// MissingSet describes what a subscription still lacks. Movies carry no seasons;
// a non-nil movie set means the movie itself is missing.
type MissingSet struct {
	TMDBID  string          `json:"tmdbId"`
	Kind    MediaKind       `json:"kind"`
	Seasons []SeasonMissing `json:"seasons,omitempty"`
}

// Empty reports whether nothing is missing for a TV set.
func (m *MissingSet) Empty() bool {
	if m == nil {
		return true
	}
	for _, s := range m.Seasons {
		if s.Open || len(s.Episodes) > 0 {
			return false
		}
	}
	return true
}

// Needs reports whether any of the given episodes of season are still missing.
// An empty episode list stands for a full season pack.
func (m *MissingSet) Needs(season int, episodes []int) bool {
	if m == nil {
		return true
	}
	for i := range m.Seasons {
		s := &m.Seasons[i]
		if s.Season != season {
			continue
		}
		if s.Open {
			if len(episodes) == 0 {
				return true
			}
			for _, ep := range episodes {
				if !s.has(ep) {
					return true
				}
			}
			return false
		}
		if len(episodes) == 0 {
			return len(s.Episodes) > 0
		}
		for _, ep := range episodes {
			for _, want := range s.Episodes {
				if ep == want {
					return true
				}
			}
		}
		return false
	}
	return false
}

// Take removes the given episodes from season; an empty list takes the whole season.
func (m *MissingSet) Take(season int, episodes []int) {
	if m == nil {
		return
	}
	for i := range m.Seasons {
		s := &m.Seasons[i]
		if s.Season != season {
			continue
		}
		if len(episodes) == 0 {
			s.Episodes = nil
			s.Open = false
			s.Have = nil
			return
		}
		if s.Open {
			for _, ep := range episodes {
				if !s.has(ep) {
					s.Have = append(s.Have, ep)
				}
			}
			sort.Ints(s.Have)
			return
		}
		remove := make(map[int]struct{}, len(episodes))
		for _, ep := range episodes {
			remove[ep] = struct{}{}
		}
		kept := s.Episodes[:0]
		for _, ep := range s.Episodes {
			if _, ok := remove[ep]; !ok {
				kept = append(kept, ep)
			}
		}
		s.Episodes = kept
		return
	}
}

// Clone returns a deep copy so callers can consume the set without touching the cached original.
func (m *MissingSet) Clone() *MissingSet {
	if m == nil {
		return nil
	}
	out := &MissingSet{TMDBID: m.TMDBID, Kind: m.Kind, Seasons: make([]SeasonMissing, len(m.Seasons))}
	for i, s := range m.Seasons {
		out.Seasons[i] = SeasonMissing{
			Season:   s.Season,
			Total:    s.Total,
			Episodes: append([]int(nil), s.Episodes...),
			Open:     s.Open,
			Have:     append([]int(nil), s.Have...),
		}
	}
	return out
}

type LibraryStore struct {
	db dbinterface.Querier
}

func NewLibraryStore(db dbinterface.Querier) *LibraryStore {
	return &LibraryStore{db: db}
}

// Add upserts items in batches.
func (s *LibraryStore) Add(ctx context.Context, items []LibraryItem) error {
	if len(items) == 0 {
		return nil
	}
	for i, item := range items {
		if !item.Kind.Valid() {
			return fmt.Errorf("item %d: invalid kind %q", i, item.Kind)
		}
		if strings.TrimSpace(item.TMDBID) == "" {
			return fmt.Errorf("item %d: tmdb id is required", i)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin library tx: %w", err)
	}
	defer tx.Rollback()

	const paramsPerRow = 7
	const batch = 900 / paramsPerRow
	const queryTemplate = `INSERT OR IGNORE INTO library_items (kind, tmdb_id, title, year, season, episode, created_at) VALUES %s`
	now := time.Now().UTC()

	for i := 0; i < len(items); i += batch {
		end := min(i+batch, len(items))
		chunk := items[i:end]

		args := make([]any, 0, len(chunk)*paramsPerRow)
		for _, item := range chunk {
			args = append(args, item.Kind, strings.TrimSpace(item.TMDBID), item.Title, item.Year, item.Season, item.Episode, now)
		}

		if _, err := tx.ExecContext(ctx, dbinterface.BuildQueryWithPlaceholders(queryTemplate, paramsPerRow, len(chunk)), args...); err != nil {
			return fmt.Errorf("insert library items: %w", err)
		}
	}

	return tx.Commit()
}

// HasMovie reports whether the movie with tmdbID is present.
func (s *LibraryStore) HasMovie(ctx context.Context, tmdbID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM library_items WHERE kind = ? AND tmdb_id = ?`, MediaKindMovie, tmdbID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query library movie: %w", err)
	}
	return n > 0, nil
}

// Episodes returns the episodes present for each requested season of a show.
// Episode 0 in a season's list marks the whole season as present.
func (s *LibraryStore) Episodes(ctx context.Context, tmdbID string, seasons ...int) (map[int][]int, error) {
	if tmdbID == "" {
		return nil, errors.New("tmdb id is required")
	}

	query := `SELECT season, episode FROM library_items WHERE kind = ? AND tmdb_id = ?`
	args := []any{MediaKindTV, tmdbID}
	if len(seasons) > 0 {
		query += ` AND season IN (` + dbinterface.InClause(len(seasons)) + `)`
		for _, season := range seasons {
			args = append(args, season)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query library episodes: %w", err)
	}
	defer rows.Close()

	out := make(map[int][]int)
	for rows.Next() {
		var season, episode int
		if err := rows.Scan(&season, &episode); err != nil {
			return nil, fmt.Errorf("scan library episode: %w", err)
		}
		out[season] = append(out[season], episode)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for season := range out {
		sort.Ints(out[season])
	}
	return out, nil
}

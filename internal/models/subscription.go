// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/autobrr/subrss/internal/dbinterface"
)

var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrInvalidSubscription  = errors.New("invalid subscription")
)

type MediaKind string

const (
	MediaKindMovie MediaKind = "movie"
	MediaKindTV    MediaKind = "tv"
)

func (k MediaKind) Valid() bool {
	return k == MediaKindMovie || k == MediaKindTV
}

type SubscriptionState string

const (
	SubscriptionStateRunning   SubscriptionState = "running"
	SubscriptionStatePaused    SubscriptionState = "paused"
	SubscriptionStateCompleted SubscriptionState = "completed"
)

// alternateSourcePrefix marks an external id that came from a secondary
// metadata source and cannot be compared against resolver ids.
const alternateSourcePrefix = "DB:"

// SeasonWildcard matches any season in fuzzy TV subscriptions.
const SeasonWildcard = "S00"

// Subscription is a user's standing request for a movie or a TV season.
type Subscription struct {
	ID              int64             `json:"id"`
	Kind            MediaKind         `json:"kind"`
	Name            string            `json:"name"`
	Year            int               `json:"year,omitempty"`
	TMDBID          string            `json:"tmdbId,omitempty"`
	Season          string            `json:"season,omitempty"`
	TotalEpisodes   int               `json:"totalEpisodes,omitempty"`
	Sites           []string          `json:"sites"`
	FuzzyMatch      bool              `json:"fuzzyMatch"`
	OverEdition     bool              `json:"overEdition"`
	FilterRule      string            `json:"filterRule,omitempty"`
	FilterResType   string            `json:"filterResType,omitempty"`
	FilterPix       string            `json:"filterPix,omitempty"`
	FilterTeam      string            `json:"filterTeam,omitempty"`
	DownloadSetting string            `json:"downloadSetting,omitempty"`
	SavePath        string            `json:"savePath,omitempty"`
	State           SubscriptionState `json:"state"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

// HasAuthoritativeID reports whether TMDBID alone decides exact matches.
func (s *Subscription) HasAuthoritativeID() bool {
	return s.TMDBID != "" && !strings.HasPrefix(s.TMDBID, alternateSourcePrefix)
}

// AllowsSite reports whether the subscription is scoped to site. An empty
// site list means every site.
func (s *Subscription) AllowsSite(site string) bool {
	if len(s.Sites) == 0 {
		return true
	}
	for _, candidate := range s.Sites {
		if candidate == site {
			return true
		}
	}
	return false
}

// SeasonNumber parses the canonical "S01" season code. Zero means unset or wildcard.
func (s *Subscription) SeasonNumber() int {
	return ParseSeasonCode(s.Season)
}

// ParseSeasonCode parses "S01"/"s1" into 1. Invalid codes yield 0.
func ParseSeasonCode(code string) int {
	code = strings.TrimSpace(code)
	if len(code) < 2 || (code[0] != 'S' && code[0] != 's') {
		return 0
	}
	n := 0
	for _, r := range code[1:] {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}

// SeasonCode formats n as the canonical season code.
func SeasonCode(n int) string {
	return fmt.Sprintf("S%02d", n)
}

func (s *Subscription) validate() error {
	if !s.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidSubscription, s.Kind)
	}
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidSubscription)
	}
	season := strings.ToUpper(strings.TrimSpace(s.Season))
	if s.Kind == MediaKindMovie && season != "" {
		return fmt.Errorf("%w: movie subscriptions cannot have a season", ErrInvalidSubscription)
	}
	// the matcher compares codes as strings, so "s1" must be stored as "S01"
	switch n := ParseSeasonCode(season); {
	case season == "", season == SeasonWildcard:
	case n > 0:
		season = SeasonCode(n)
	default:
		return fmt.Errorf("%w: season code %q", ErrInvalidSubscription, s.Season)
	}
	s.Season = season
	switch s.State {
	case "":
		s.State = SubscriptionStateRunning
	case SubscriptionStateRunning, SubscriptionStatePaused, SubscriptionStateCompleted:
	default:
		return fmt.Errorf("%w: state %q", ErrInvalidSubscription, s.State)
	}
	return nil
}

type SubscriptionStore struct {
	db dbinterface.Querier
}

func NewSubscriptionStore(db dbinterface.Querier) *SubscriptionStore {
	return &SubscriptionStore{db: db}
}

const subscriptionColumns = `id, kind, name, year, tmdb_id, season, total_episodes, sites,
	fuzzy_match, over_edition, filter_rule, filter_restype, filter_pix, filter_team,
	download_setting, save_path, state, created_at, updated_at`

// ListActive returns running subscriptions of the given kind in creation order.
// The order is significant: the first matching subscription wins.
func (s *SubscriptionStore) ListActive(ctx context.Context, kind MediaKind) ([]*Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE kind = ? AND state = ?
		ORDER BY id ASC`

	return s.query(ctx, query, kind, SubscriptionStateRunning)
}

func (s *SubscriptionStore) List(ctx context.Context) ([]*Subscription, error) {
	return s.query(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions ORDER BY id ASC`)
}

func (s *SubscriptionStore) Get(ctx context.Context, id int64) (*Subscription, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = ?`, id)
	sub, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return sub, nil
}

func (s *SubscriptionStore) Create(ctx context.Context, sub *Subscription) (*Subscription, error) {
	if sub == nil {
		return nil, errors.New("subscription cannot be nil")
	}
	if err := sub.validate(); err != nil {
		return nil, err
	}

	sitesJSON, err := json.Marshal(normalizeSites(sub.Sites))
	if err != nil {
		return nil, fmt.Errorf("encode sites: %w", err)
	}

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (
			kind, name, year, tmdb_id, season, total_episodes, sites,
			fuzzy_match, over_edition, filter_rule, filter_restype, filter_pix, filter_team,
			download_setting, save_path, state, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.Kind,
		strings.TrimSpace(sub.Name),
		sub.Year,
		strings.TrimSpace(sub.TMDBID),
		sub.Season,
		sub.TotalEpisodes,
		string(sitesJSON),
		sub.FuzzyMatch,
		sub.OverEdition,
		sub.FilterRule,
		sub.FilterResType,
		sub.FilterPix,
		sub.FilterTeam,
		sub.DownloadSetting,
		sub.SavePath,
		sub.State,
		now,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert subscription: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get inserted subscription id: %w", err)
	}

	return s.Get(ctx, id)
}

func (s *SubscriptionStore) SetState(ctx context.Context, id int64, state SubscriptionState) error {
	switch state {
	case SubscriptionStateRunning, SubscriptionStatePaused, SubscriptionStateCompleted:
	default:
		return fmt.Errorf("%w: state %q", ErrInvalidSubscription, state)
	}

	result, err := s.db.ExecContext(ctx, `UPDATE subscriptions SET state = ?, updated_at = ? WHERE id = ?`, state, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update subscription state: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

func (s *SubscriptionStore) Delete(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

func (s *SubscriptionStore) query(ctx context.Context, query string, args ...any) ([]*Subscription, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscriptions: %w", err)
	}
	return subs, nil
}

func scanSubscription(scanner interface {
	Scan(dest ...any) error
}) (*Subscription, error) {
	var sub Subscription
	var sitesJSON string

	err := scanner.Scan(
		&sub.ID,
		&sub.Kind,
		&sub.Name,
		&sub.Year,
		&sub.TMDBID,
		&sub.Season,
		&sub.TotalEpisodes,
		&sitesJSON,
		&sub.FuzzyMatch,
		&sub.OverEdition,
		&sub.FilterRule,
		&sub.FilterResType,
		&sub.FilterPix,
		&sub.FilterTeam,
		&sub.DownloadSetting,
		&sub.SavePath,
		&sub.State,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	sub.Sites = []string{}
	if sitesJSON != "" {
		if err := json.Unmarshal([]byte(sitesJSON), &sub.Sites); err != nil {
			return nil, fmt.Errorf("decode sites for subscription %d: %w", sub.ID, err)
		}
	}

	return &sub, nil
}

func normalizeSites(sites []string) []string {
	out := make([]string, 0, len(sites))
	seen := make(map[string]struct{}, len(sites))
	for _, site := range sites {
		site = strings.TrimSpace(site)
		if site == "" {
			continue
		}
		if _, ok := seen[site]; ok {
			continue
		}
		seen[site] = struct{}{}
		out = append(out, site)
	}
	return out
}

// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/autobrr/subrss/internal/dbinterface"
)

// RSSRunStatus indicates the outcome of a matching run.
type RSSRunStatus string

const (
	RSSRunStatusRunning RSSRunStatus = "running"
	RSSRunStatusSuccess RSSRunStatus = "success"
	RSSRunStatusPartial RSSRunStatus = "partial"
	RSSRunStatusFailed  RSSRunStatus = "failed"
)

// RSSRunSummary counts per-item outcomes of a run.
type RSSRunSummary struct {
	Sites       int `json:"sites"`
	FeedItems   int `json:"feedItems"`
	Duplicates  int `json:"duplicates"`
	Unresolved  int `json:"unresolved"`
	NoMatch     int `json:"noMatch"`
	Satisfied   int `json:"satisfied"`
	Rejected    int `json:"rejected"`
	Accepted    int `json:"accepted"`
	Failed      int `json:"failed"`
	Plans       int `json:"plans"`
	PlansFailed int `json:"plansFailed"`
}

// RSSRun stores the persisted run metadata.
type RSSRun struct {
	ID           int64         `json:"id"`
	TriggeredBy  string        `json:"triggeredBy"`
	Status       RSSRunStatus  `json:"status"`
	Summary      RSSRunSummary `json:"summary"`
	ErrorMessage string        `json:"errorMessage,omitempty"`
	StartedAt    time.Time     `json:"startedAt"`
	CompletedAt  *time.Time    `json:"completedAt,omitempty"`
}

type RSSRunStore struct {
	db dbinterface.Querier
}

func NewRSSRunStore(db dbinterface.Querier) *RSSRunStore {
	return &RSSRunStore{db: db}
}

// CreateRun inserts a new run record.
func (s *RSSRunStore) CreateRun(ctx context.Context, run *RSSRun) (*RSSRun, error) {
	if run == nil {
		return nil, errors.New("run cannot be nil")
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = RSSRunStatusRunning
	}

	summaryJSON, err := json.Marshal(run.Summary)
	if err != nil {
		return nil, fmt.Errorf("encode summary: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO rss_runs (status, triggered_by, summary, error_message, started_at)
		VALUES (?, ?, ?, ?, ?)`,
		run.Status, run.TriggeredBy, string(summaryJSON), run.ErrorMessage, run.StartedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get inserted run id: %w", err)
	}
	return s.GetRun(ctx, id)
}

// UpdateRun stores the final status and summary.
func (s *RSSRunStore) UpdateRun(ctx context.Context, run *RSSRun) (*RSSRun, error) {
	if run == nil || run.ID == 0 {
		return nil, errors.New("run ID cannot be zero")
	}

	summaryJSON, err := json.Marshal(run.Summary)
	if err != nil {
		return nil, fmt.Errorf("encode summary: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE rss_runs
		SET status = ?, summary = ?, error_message = ?, completed_at = ?
		WHERE id = ?`,
		run.Status, string(summaryJSON), run.ErrorMessage, run.CompletedAt, run.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("update run: %w", err)
	}
	return s.GetRun(ctx, run.ID)
}

func (s *RSSRunStore) GetRun(ctx context.Context, id int64) (*RSSRun, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, status, triggered_by, summary, error_message, started_at, completed_at
		FROM rss_runs WHERE id = ?`, id)
	return scanRSSRun(row)
}

// ListRuns returns run history, newest first.
func (s *RSSRunStore) ListRuns(ctx context.Context, limit, offset int) ([]*RSSRun, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, status, triggered_by, summary, error_message, started_at, completed_at
		FROM rss_runs
		ORDER BY id DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*RSSRun
	for rows.Next() {
		run, err := scanRSSRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

func scanRSSRun(scanner interface {
	Scan(dest ...any) error
}) (*RSSRun, error) {
	var run RSSRun
	var summaryJSON string
	var completedAt sql.NullTime

	if err := scanner.Scan(&run.ID, &run.Status, &run.TriggeredBy, &summaryJSON, &run.ErrorMessage, &run.StartedAt, &completedAt); err != nil {
		return nil, err
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	if summaryJSON != "" {
		if err := json.Unmarshal([]byte(summaryJSON), &run.Summary); err != nil {
			return nil, fmt.Errorf("decode summary: %w", err)
		}
	}
	return &run, nil
}

// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/subrss/internal/models"
	"github.com/autobrr/subrss/internal/services/rss"
)

type RSSRunner interface {
	Run(ctx context.Context, triggeredBy string) (*rss.Result, error)
	Status() rss.Status
}

type RunLister interface {
	ListRuns(ctx context.Context, limit, offset int) ([]*models.RSSRun, error)
}

type HistoryLister interface {
	List(ctx context.Context, limit int) ([]*models.RSSHistoryEntry, error)
}

type RSSHandler struct {
	service RSSRunner
	runs    RunLister
	history HistoryLister

	// background runs outlive the request
	runCtx context.Context
}

func NewRSSHandler(ctx context.Context, service RSSRunner, runs RunLister, history HistoryLister) *RSSHandler {
	if ctx == nil {
		ctx = context.Background()
	}
	return &RSSHandler{
		service: service,
		runs:    runs,
		history: history,
		runCtx:  ctx,
	}
}

type runAcceptedResponse struct {
	Status string `json:"status"`
}

// TriggerRun starts a matching run. With ?wait=true the run executes inline and
// its result is returned, otherwise it is queued in the background and may be
// dropped if another run gets there first.
func (h *RSSHandler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		RespondError(w, http.StatusServiceUnavailable, "RSS service not configured")
		return
	}

	if h.service.Status().Running {
		RespondError(w, http.StatusConflict, rss.ErrRunInProgress.Error())
		return
	}

	if r.URL.Query().Get("wait") == "true" {
		result, err := h.service.Run(r.Context(), "api")
		if err != nil {
			if errors.Is(err, rss.ErrRunInProgress) {
				RespondError(w, http.StatusConflict, err.Error())
				return
			}
			log.Error().Err(err).Msg("RSS run failed")
			if result != nil {
				RespondJSON(w, http.StatusInternalServerError, result)
				return
			}
			RespondError(w, http.StatusInternalServerError, "RSS run failed")
			return
		}
		RespondJSON(w, http.StatusOK, result)
		return
	}

	// A run started between the status check and this goroutine wins; the
	// queued request is then dropped.
	go func() {
		_, err := h.service.Run(h.runCtx, "api")
		switch {
		case err == nil:
		case errors.Is(err, rss.ErrRunInProgress):
			log.Debug().Msg("Queued RSS run dropped, another run is active")
		default:
			log.Error().Err(err).Msg("Background RSS run failed")
		}
	}()

	RespondJSON(w, http.StatusAccepted, runAcceptedResponse{Status: "queued"})
}

func (h *RSSHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		RespondError(w, http.StatusServiceUnavailable, "RSS service not configured")
		return
	}
	RespondJSON(w, http.StatusOK, h.service.Status())
}

func (h *RSSHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 25, 200)
	if limit == 0 {
		limit = 25
	}
	offset := queryInt(r, "offset", 0, 0)

	runs, err := h.runs.ListRuns(r.Context(), limit, offset)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list RSS runs")
		RespondError(w, http.StatusInternalServerError, "Failed to list RSS runs")
		return
	}
	if runs == nil {
		runs = []*models.RSSRun{}
	}
	RespondJSON(w, http.StatusOK, runs)
}

func (h *RSSHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100, 1000)
	if limit == 0 {
		limit = 100
	}

	entries, err := h.history.List(r.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list RSS history")
		RespondError(w, http.StatusInternalServerError, "Failed to list RSS history")
		return
	}
	if entries == nil {
		entries = []*models.RSSHistoryEntry{}
	}
	RespondJSON(w, http.StatusOK, entries)
}

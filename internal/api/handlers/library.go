// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/subrss/internal/models"
)

type LibraryStore interface {
	Add(ctx context.Context, items []models.LibraryItem) error
}

type LibraryHandler struct {
	store LibraryStore
}

func NewLibraryHandler(store LibraryStore) *LibraryHandler {
	return &LibraryHandler{store: store}
}

type libraryRequest struct {
	Items []models.LibraryItem `json:"items"`
}

type libraryResponse struct {
	Added int `json:"added"`
}

// Add records media that already exists locally.
func (h *LibraryHandler) Add(w http.ResponseWriter, r *http.Request) {
	var payload libraryRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		log.Warn().Err(err).Msg("Failed to decode library request")
		RespondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if len(payload.Items) == 0 {
		RespondError(w, http.StatusBadRequest, "No library items provided")
		return
	}

	for i, item := range payload.Items {
		if !item.Kind.Valid() || item.TMDBID == "" {
			log.Warn().Int("index", i).Str("kind", string(item.Kind)).Msg("Invalid library item")
			RespondError(w, http.StatusBadRequest, "Library items need a valid kind and tmdbId")
			return
		}
	}

	if err := h.store.Add(r.Context(), payload.Items); err != nil {
		log.Error().Err(err).Int("items", len(payload.Items)).Msg("Failed to add library items")
		RespondError(w, http.StatusInternalServerError, "Failed to add library items")
		return
	}

	RespondJSON(w, http.StatusOK, libraryResponse{Added: len(payload.Items)})
}

// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/subrss/internal/models"
)

type SubscriptionStore interface {
	List(ctx context.Context) ([]*models.Subscription, error)
	Get(ctx context.Context, id int64) (*models.Subscription, error)
	Create(ctx context.Context, sub *models.Subscription) (*models.Subscription, error)
	SetState(ctx context.Context, id int64, state models.SubscriptionState) error
	Delete(ctx context.Context, id int64) error
}

type DownloadLister interface {
	ListBySubscription(ctx context.Context, subscriptionID int64) ([]*models.DownloadRecord, error)
}

type SubscriptionsHandler struct {
	store     SubscriptionStore
	downloads DownloadLister
}

func NewSubscriptionsHandler(store SubscriptionStore, downloads DownloadLister) *SubscriptionsHandler {
	return &SubscriptionsHandler{
		store:     store,
		downloads: downloads,
	}
}

func (h *SubscriptionsHandler) List(w http.ResponseWriter, r *http.Request) {
	subs, err := h.store.List(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list subscriptions")
		RespondError(w, http.StatusInternalServerError, "Failed to list subscriptions")
		return
	}
	if subs == nil {
		subs = []*models.Subscription{}
	}
	RespondJSON(w, http.StatusOK, subs)
}

func (h *SubscriptionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(r, "id")
	if !ok {
		RespondError(w, http.StatusBadRequest, "Invalid subscription ID")
		return
	}

	sub, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.respondStoreError(w, err, id, "Failed to load subscription")
		return
	}
	RespondJSON(w, http.StatusOK, sub)
}

func (h *SubscriptionsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var payload models.Subscription
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		log.Warn().Err(err).Msg("Failed to decode subscription request")
		RespondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	payload.ID = 0

	sub, err := h.store.Create(r.Context(), &payload)
	if err != nil {
		if errors.Is(err, models.ErrInvalidSubscription) {
			RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Error().Err(err).Str("name", payload.Name).Msg("Failed to create subscription")
		RespondError(w, http.StatusInternalServerError, "Failed to create subscription")
		return
	}

	log.Info().Int64("id", sub.ID).Str("kind", string(sub.Kind)).Str("name", sub.Name).Msg("Subscription created")
	RespondJSON(w, http.StatusCreated, sub)
}

type subscriptionStateRequest struct {
	State models.SubscriptionState `json:"state"`
}

func (h *SubscriptionsHandler) UpdateState(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(r, "id")
	if !ok {
		RespondError(w, http.StatusBadRequest, "Invalid subscription ID")
		return
	}

	var payload subscriptionStateRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		log.Warn().Err(err).Msg("Failed to decode subscription state request")
		RespondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	if err := h.store.SetState(r.Context(), id, payload.State); err != nil {
		h.respondStoreError(w, err, id, "Failed to update subscription")
		return
	}

	sub, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.respondStoreError(w, err, id, "Failed to load subscription")
		return
	}
	RespondJSON(w, http.StatusOK, sub)
}

func (h *SubscriptionsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(r, "id")
	if !ok {
		RespondError(w, http.StatusBadRequest, "Invalid subscription ID")
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil {
		h.respondStoreError(w, err, id, "Failed to delete subscription")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SubscriptionsHandler) ListDownloads(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(r, "id")
	if !ok {
		RespondError(w, http.StatusBadRequest, "Invalid subscription ID")
		return
	}

	records, err := h.downloads.ListBySubscription(r.Context(), id)
	if err != nil {
		h.respondStoreError(w, err, id, "Failed to list downloads")
		return
	}
	if records == nil {
		records = []*models.DownloadRecord{}
	}
	RespondJSON(w, http.StatusOK, records)
}

func (h *SubscriptionsHandler) respondStoreError(w http.ResponseWriter, err error, id int64, message string) {
	switch {
	case errors.Is(err, models.ErrSubscriptionNotFound):
		RespondError(w, http.StatusNotFound, "Subscription not found")
	case errors.Is(err, models.ErrInvalidSubscription):
		RespondError(w, http.StatusBadRequest, err.Error())
	default:
		log.Error().Err(err).Int64("id", id).Msg(message)
		RespondError(w, http.StatusInternalServerError, message)
	}
}

// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"

	"github.com/autobrr/subrss/internal/domain"
)

type SitesHandler struct {
	sites func() []domain.SiteConfig
}

// NewSitesHandler takes a snapshot func so reloaded configs show up without
// rebuilding the router.
func NewSitesHandler(sites func() []domain.SiteConfig) *SitesHandler {
	return &SitesHandler{sites: sites}
}

func (h *SitesHandler) List(w http.ResponseWriter, r *http.Request) {
	sites := h.sites()
	out := make([]domain.SiteConfig, 0, len(sites))
	for _, site := range sites {
		site.Cookie = domain.RedactString(site.Cookie)
		out = append(out, site)
	}
	RespondJSON(w, http.StatusOK, out)
}

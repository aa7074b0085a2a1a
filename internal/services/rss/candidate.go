// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package rss

import (
	"time"

	"github.com/autobrr/subrss/internal/models"
	"github.com/autobrr/subrss/internal/services/media"
)

// Candidate is a feed item after identity resolution.
type Candidate struct {
	Media       *media.Info `json:"media"`
	Site        string      `json:"site"`
	SiteOrder   int         `json:"siteOrder"`
	Size        int64       `json:"size"`
	Enclosure   string      `json:"enclosure"`
	PageURL     string      `json:"pageUrl,omitempty"`
	Description string      `json:"description,omitempty"`
	PublishedAt time.Time   `json:"publishedAt,omitempty"`

	// Set when the candidate is accepted.
	SubscriptionID  int64    `json:"subscriptionId,omitempty"`
	ResOrder        int      `json:"resOrder"`
	FilterRule      string   `json:"filterRule,omitempty"`
	OverEdition     bool     `json:"overEdition"`
	UploadFactor    *float64 `json:"uploadFactor,omitempty"`
	DownloadFactor  *float64 `json:"downloadFactor,omitempty"`
	HitAndRun       bool     `json:"hitAndRun"`
	DownloadSetting string   `json:"downloadSetting,omitempty"`
	SavePath        string   `json:"savePath,omitempty"`

	seq int64
}

// Title is the raw feed title.
func (c *Candidate) Title() string {
	if c == nil || c.Media == nil {
		return ""
	}
	return c.Media.OrgString
}

// MatchInfo is what a successful match carries forward to the plan.
type MatchInfo struct {
	SubscriptionID  int64            `json:"subscriptionId"`
	Kind            models.MediaKind `json:"kind"`
	Name            string           `json:"name"`
	TMDBID          string           `json:"tmdbId,omitempty"`
	Season          string           `json:"season,omitempty"`
	TotalEpisodes   int              `json:"totalEpisodes,omitempty"`
	OverEdition     bool             `json:"overEdition"`
	ResOrder        int              `json:"resOrder"`
	FilterRule      string           `json:"filterRule,omitempty"`
	UploadFactor    *float64         `json:"uploadFactor,omitempty"`
	DownloadFactor  *float64         `json:"downloadFactor,omitempty"`
	DownloadSetting string           `json:"downloadSetting,omitempty"`
	SavePath        string           `json:"savePath,omitempty"`
	FuzzyMatch      bool             `json:"fuzzyMatch"`
}

func newMatchInfo(sub *models.Subscription) MatchInfo {
	return MatchInfo{
		SubscriptionID:  sub.ID,
		Kind:            sub.Kind,
		Name:            sub.Name,
		TMDBID:          sub.TMDBID,
		Season:          sub.Season,
		TotalEpisodes:   sub.TotalEpisodes,
		OverEdition:     sub.OverEdition,
		DownloadSetting: sub.DownloadSetting,
		SavePath:        sub.SavePath,
		FuzzyMatch:      sub.FuzzyMatch,
	}
}

// Plan is the per-subscription result of a run.
type Plan struct {
	SubscriptionID int64              `json:"subscriptionId"`
	MatchInfo      MatchInfo          `json:"matchInfo"`
	Candidates     []*Candidate       `json:"candidates"`
	Missing        *models.MissingSet `json:"missing,omitempty"`

	firstSeq int64
	infoSeq  int64
}

// Outcome classifies what happened to a single feed item.
type Outcome string

const (
	OutcomeDuplicate  Outcome = "duplicate"
	OutcomeUnresolved Outcome = "unresolved"
	OutcomeNoMatch    Outcome = "no_match"
	OutcomeExists     Outcome = "exists"
	OutcomeRejected   Outcome = "rejected"
	OutcomeAccepted   Outcome = "accepted"
	OutcomeFailed     Outcome = "failed"
)

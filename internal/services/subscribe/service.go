// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package subscribe

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/subrss/internal/models"
	"github.com/autobrr/subrss/internal/qbittorrent"
	"github.com/autobrr/subrss/internal/services/media"
	"github.com/autobrr/subrss/internal/services/rss"
)

type Library interface {
	HasMovie(ctx context.Context, tmdbID string) (bool, error)
	Episodes(ctx context.Context, tmdbID string, seasons ...int) (map[int][]int, error)
}

type DownloadRecorder interface {
	Record(ctx context.Context, rec *models.DownloadRecord) error
}

type StateSetter interface {
	SetState(ctx context.Context, id int64, state models.SubscriptionState) error
}

type Downloader interface {
	Add(ctx context.Context, req qbittorrent.Request) error
}

// Service decides what a subscription still needs and turns plans into downloads.
type Service struct {
	library       Library
	downloads     DownloadRecorder
	subscriptions StateSetter
	downloader    Downloader
}

// NewService returns a subscriber. A nil downloader records plans without
// handing anything to a client.
func NewService(library Library, downloads DownloadRecorder, subscriptions StateSetter, downloader Downloader) *Service {
	return &Service{
		library:       library,
		downloads:     downloads,
		subscriptions: subscriptions,
		downloader:    downloader,
	}
}

func (s *Service) tmdbID(info *media.Info, match rss.MatchInfo) string {
	if info != nil && info.TMDBID != "" {
		return info.TMDBID
	}
	if match.TMDBID != "" && !strings.HasPrefix(match.TMDBID, "DB:") {
		return match.TMDBID
	}
	return ""
}

// GetMissing reports whether the subscription is already complete locally and
// which seasons and episodes it still lacks.
func (s *Service) GetMissing(ctx context.Context, info *media.Info, match rss.MatchInfo, overEdition bool) (bool, *models.MissingSet, error) {
	id := s.tmdbID(info, match)
	if id == "" {
		return false, nil, nil
	}

	switch match.Kind {
	case models.MediaKindMovie:
		has, err := s.library.HasMovie(ctx, id)
		if err != nil {
			return false, nil, fmt.Errorf("check library: %w", err)
		}
		if has && !overEdition {
			return true, nil, nil
		}
		return has, &models.MissingSet{TMDBID: id, Kind: models.MediaKindMovie}, nil
	case models.MediaKindTV:
		return s.missingEpisodes(ctx, id, info, match)
	default:
		return false, nil, fmt.Errorf("unsupported subscription kind %q", match.Kind)
	}
}

func (s *Service) missingEpisodes(ctx context.Context, id string, info *media.Info, match rss.MatchInfo) (bool, *models.MissingSet, error) {
	seasons := wantedSeasons(info, match)
	if len(seasons) == 0 {
		return false, nil, nil
	}

	have, err := s.library.Episodes(ctx, id, seasons...)
	if err != nil {
		return false, nil, fmt.Errorf("check library: %w", err)
	}

	set := &models.MissingSet{TMDBID: id, Kind: models.MediaKindTV}
	for _, season := range seasons {
		present := make(map[int]struct{}, len(have[season]))
		whole := false
		for _, ep := range have[season] {
			if ep == 0 {
				whole = true
			}
			present[ep] = struct{}{}
		}

		total := seasonTotal(info, match, season)
		sm := models.SeasonMissing{Season: season, Total: total}
		switch {
		case whole:
		case total > 0:
			for ep := 1; ep <= total; ep++ {
				if _, ok := present[ep]; !ok {
					sm.Episodes = append(sm.Episodes, ep)
				}
			}
		default:
			// length unknown: the season stays wanted until a pack lands
			sm.Open = true
			for ep := range present {
				sm.Have = append(sm.Have, ep)
			}
			sort.Ints(sm.Have)
		}
		set.Seasons = append(set.Seasons, sm)
	}

	return set.Empty(), set, nil
}

func wantedSeasons(info *media.Info, match rss.MatchInfo) []int {
	if n := models.ParseSeasonCode(match.Season); n > 0 {
		return []int{n}
	}
	var seasons []int
	if info != nil && info.Detail != nil {
		for _, season := range info.Detail.Seasons {
			if season.SeasonNumber > 0 {
				seasons = append(seasons, season.SeasonNumber)
			}
		}
	}
	if len(seasons) == 0 && info != nil && info.Season > 0 {
		seasons = []int{info.Season}
	}
	sort.Ints(seasons)
	return seasons
}

func seasonTotal(info *media.Info, match rss.MatchInfo, season int) int {
	if match.TotalEpisodes > 0 && models.ParseSeasonCode(match.Season) == season {
		return match.TotalEpisodes
	}
	if info != nil && info.Detail != nil {
		return info.Detail.EpisodeCount(season)
	}
	return 0
}

// selectCandidates orders the plan's candidates by filter order, then site
// order, then size, and keeps those that still cover something missing.
func selectCandidates(plan *rss.Plan) []*rss.Candidate {
	ordered := append([]*rss.Candidate(nil), plan.Candidates...)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.ResOrder != b.ResOrder {
			return a.ResOrder < b.ResOrder
		}
		if a.SiteOrder != b.SiteOrder {
			return a.SiteOrder > b.SiteOrder
		}
		return a.Size > b.Size
	})

	missing := plan.Missing.Clone()
	seen := make(map[string]struct{})
	var selected []*rss.Candidate

	for _, c := range ordered {
		if c.Media == nil {
			continue
		}
		switch {
		case missing == nil:
			key := releaseKey(c.Media)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
		case plan.MatchInfo.Kind == models.MediaKindMovie:
			if len(selected) > 0 {
				return selected
			}
		default:
			if !missing.Needs(c.Media.Season, c.Media.Episodes) {
				continue
			}
			missing.Take(c.Media.Season, c.Media.Episodes)
		}
		selected = append(selected, c)
	}
	return selected
}

func releaseKey(info *media.Info) string {
	return strings.ToLower(fmt.Sprintf("%s|%d|%s", info.Title, info.Year, info.SeasonEpisodeString()))
}

// Apply downloads the best candidates of the plan, records them and completes
// the subscription when nothing is left.
func (s *Service) Apply(ctx context.Context, plan *rss.Plan) error {
	if plan == nil || len(plan.Candidates) == 0 {
		return nil
	}
	match := plan.MatchInfo
	logger := log.With().Int64("subscription", plan.SubscriptionID).Str("name", match.Name).Logger()

	selected := selectCandidates(plan)
	if len(selected) == 0 {
		logger.Debug().Msg("[subscribe] no candidate covers a missing item")
		return nil
	}

	missing := plan.Missing.Clone()
	var errs []error
	added := 0
	for _, c := range selected {
		if err := s.download(ctx, plan, c); err != nil {
			logger.Error().Err(err).Str("title", c.Title()).Msg("[subscribe] failed to add torrent")
			errs = append(errs, err)
			continue
		}
		added++
		if missing != nil && match.Kind == models.MediaKindTV {
			missing.Take(c.Media.Season, c.Media.Episodes)
		}
		logger.Info().Str("title", c.Title()).Str("site", c.Site).Msg("[subscribe] added torrent")
	}

	if added > 0 && !match.OverEdition && missing != nil {
		done := match.Kind == models.MediaKindMovie || missing.Empty()
		if done {
			if err := s.subscriptions.SetState(ctx, plan.SubscriptionID, models.SubscriptionStateCompleted); err != nil {
				errs = append(errs, fmt.Errorf("complete subscription: %w", err))
			} else {
				logger.Info().Msg("[subscribe] subscription completed")
			}
		}
	}

	return errors.Join(errs...)
}

func (s *Service) download(ctx context.Context, plan *rss.Plan, c *rss.Candidate) error {
	savePath := c.SavePath
	if savePath == "" {
		savePath = plan.MatchInfo.SavePath
	}
	category := c.DownloadSetting
	if category == "" {
		category = plan.MatchInfo.DownloadSetting
	}

	if s.downloader != nil {
		if err := s.downloader.Add(ctx, qbittorrent.Request{
			URL:      c.Enclosure,
			SavePath: savePath,
			Category: category,
		}); err != nil {
			return err
		}
	}

	tmdbID := c.Media.TMDBID
	if tmdbID == "" {
		tmdbID = plan.MatchInfo.TMDBID
	}
	return s.downloads.Record(ctx, &models.DownloadRecord{
		SubscriptionID: plan.SubscriptionID,
		TMDBID:         tmdbID,
		Kind:           plan.MatchInfo.Kind,
		Title:          c.Title(),
		Site:           c.Site,
		Enclosure:      c.Enclosure,
		Season:         c.Media.Season,
		Episodes:       c.Media.Episodes,
		Size:           c.Size,
	})
}

// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package subscribe

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/subrss/internal/domain"
	"github.com/autobrr/subrss/internal/models"
	"github.com/autobrr/subrss/internal/services/feed"
	"github.com/autobrr/subrss/internal/services/filter"
	"github.com/autobrr/subrss/internal/services/media"
	"github.com/autobrr/subrss/internal/services/rss"
	"github.com/autobrr/subrss/internal/services/tmdb"
)

type staticFeeds map[string][]feed.Item

func (f staticFeeds) Fetch(_ context.Context, feedURL string, _ bool) []feed.Item {
	return f[feedURL]
}

type staticResolver map[string]media.Info

func (r staticResolver) Parse(raw string) *media.Info {
	info, ok := r[raw]
	if !ok {
		return nil
	}
	info.OrgString = raw
	return info.Clone()
}

func (r staticResolver) CachedLookup(*media.Info) (*media.Info, bool) { return nil, false }

func (r staticResolver) Resolve(_ context.Context, raw string) (*media.Info, error) {
	return r.Parse(raw), nil
}

func (r staticResolver) FetchDetail(context.Context, *media.Info) error { return nil }

func TestRunUnknownSeasonLengthAcceptsPackAndEpisodes(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.subs.Create(ctx, &models.Subscription{Kind: models.MediaKindTV, Name: "Example Show", TMDBID: "2316", Season: "S01"})
	require.NoError(t, err)

	// the show is known but its season listing is not
	detail := &tmdb.Details{ID: 2316, NumberOfSeasons: 1}
	release := func(episodes ...int) media.Info {
		return media.Info{Title: "Example Show", Year: 2023, TMDBID: "2316", Type: media.TypeTV, Season: 1, Episodes: episodes, Detail: detail}
	}

	const feedURL = "https://site-a.example/rss"
	feeds := staticFeeds{feedURL: {
		{Title: "Example.Show.S01.1080p.WEB-DL-GRP", Enclosure: "https://site-a.example/dl/pack", Size: 20 << 30},
		{Title: "Example.Show.S01E01.1080p.WEB-DL-GRP", Enclosure: "https://site-a.example/dl/1", Size: 2 << 30},
		{Title: "Example.Show.S01E02.1080p.WEB-DL-GRP", Enclosure: "https://site-a.example/dl/2", Size: 2 << 30},
	}}
	resolver := staticResolver{
		"Example.Show.S01.1080p.WEB-DL-GRP":    release(),
		"Example.Show.S01E01.1080p.WEB-DL-GRP": release(1),
		"Example.Show.S01E02.1080p.WEB-DL-GRP": release(2),
	}

	svc := rss.NewService(rss.Config{SiteConcurrency: 1}, rss.Deps{
		Feeds:         feeds,
		Resolver:      resolver,
		History:       models.NewRSSHistoryStore(h.db),
		Subscriptions: h.subs,
		Filter:        filter.NewEngine(nil),
		Subscriber:    h.svc,
	}, []domain.SiteConfig{{Name: "siteA", RSSURL: feedURL}})

	result, err := svc.Run(ctx, "test")
	require.NoError(t, err)

	summary := result.Run.Summary
	assert.Equal(t, 0, summary.Satisfied)
	assert.Equal(t, 3, summary.Accepted)
	require.Len(t, result.Plans, 1)
	assert.Len(t, result.Plans[0].Candidates, 3)
	assert.NotEmpty(t, h.downloader.requests)
}

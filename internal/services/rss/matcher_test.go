// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package rss

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/subrss/internal/models"
	"github.com/autobrr/subrss/internal/services/media"
)

func movieCandidate(title string, year int, site string) *Candidate {
	return &Candidate{
		Site: site,
		Media: &media.Info{
			OrgString: title + " " + "1080p",
			Title:     title,
			Year:      year,
			Type:      media.TypeMovie,
		},
	}
}

func tvCandidate(title string, year, season int, site string) *Candidate {
	return &Candidate{
		Site: site,
		Media: &media.Info{
			OrgString: title + " S0x 1080p",
			Title:     title,
			Year:      year,
			Type:      media.TypeTV,
			Season:    season,
			Episodes:  []int{1},
		},
	}
}

func TestMatcherFirstMatchWins(t *testing.T) {
	first := &models.Subscription{ID: 1, Kind: models.MediaKindMovie, Name: "Heat", Year: 1995}
	second := &models.Subscription{ID: 2, Kind: models.MediaKindMovie, Name: "Heat"}
	third := &models.Subscription{ID: 3, Kind: models.MediaKindMovie, Name: "Heat", FuzzyMatch: true}

	m := NewMatcher([]*models.Subscription{first, second, third}, nil)
	sub, trace := m.Match(movieCandidate("Heat", 1995, "alpha"))
	require.NotNil(t, sub)
	assert.Equal(t, int64(1), sub.ID)
	assert.Empty(t, trace)

	// the first subscription rejects the year, so the next one in order wins
	sub, _ = m.Match(movieCandidate("Heat", 2010, "alpha"))
	require.NotNil(t, sub)
	assert.Equal(t, int64(2), sub.ID)
}

func TestMatcherExactMovie(t *testing.T) {
	tests := []struct {
		name  string
		sub   models.Subscription
		cand  *Candidate
		match bool
	}{
		{
			name:  "same_year",
			sub:   models.Subscription{Name: "Heat", Year: 1995},
			cand:  movieCandidate("Heat", 1995, "alpha"),
			match: true,
		},
		{
			name:  "year_minus_one",
			sub:   models.Subscription{Name: "Heat", Year: 1995},
			cand:  movieCandidate("Heat", 1994, "alpha"),
			match: true,
		},
		{
			name:  "year_plus_one",
			sub:   models.Subscription{Name: "Heat", Year: 1995},
			cand:  movieCandidate("Heat", 1996, "alpha"),
			match: true,
		},
		{
			name: "year_outside_band",
			sub:  models.Subscription{Name: "Heat", Year: 1995},
			cand: movieCandidate("Heat", 1997, "alpha"),
		},
		{
			name: "title_must_be_equal",
			sub:  models.Subscription{Name: "Heat", Year: 1995},
			cand: movieCandidate("Heat 2", 1995, "alpha"),
		},
		{
			name:  "no_year_on_subscription",
			sub:   models.Subscription{Name: "Heat"},
			cand:  movieCandidate("Heat", 2031, "alpha"),
			match: true,
		},
		{
			name: "authoritative_id_ignores_title",
			sub:  models.Subscription{Name: "Something Else", Year: 1980, TMDBID: "949"},
			cand: func() *Candidate {
				c := movieCandidate("Heat", 1995, "alpha")
				c.Media.TMDBID = "949"
				return c
			}(),
			match: true,
		},
		{
			name: "authoritative_id_mismatch",
			sub:  models.Subscription{Name: "Heat", Year: 1995, TMDBID: "949"},
			cand: func() *Candidate {
				c := movieCandidate("Heat", 1995, "alpha")
				c.Media.TMDBID = "12"
				return c
			}(),
		},
		{
			name: "alternate_source_id_falls_back_to_name",
			sub:  models.Subscription{Name: "Heat", Year: 1995, TMDBID: "DB:1291843"},
			cand: func() *Candidate {
				c := movieCandidate("Heat", 1995, "alpha")
				c.Media.TMDBID = "949"
				return c
			}(),
			match: true,
		},
		{
			name: "site_not_allowed",
			sub:  models.Subscription{Name: "Heat", Sites: []string{"beta"}},
			cand: movieCandidate("Heat", 1995, "alpha"),
		},
		{
			name:  "site_allowed",
			sub:   models.Subscription{Name: "Heat", Sites: []string{"beta", "alpha"}},
			cand:  movieCandidate("Heat", 1995, "alpha"),
			match: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			sub := tt.sub
			sub.ID = 7
			sub.Kind = models.MediaKindMovie
			m := NewMatcher([]*models.Subscription{&sub}, nil)

			got, trace := m.Match(tt.cand)
			if tt.match {
				require.NotNil(t, got)
				assert.Equal(t, int64(7), got.ID)
				return
			}
			assert.Nil(t, got)
			assert.Contains(t, trace, "is not within subscription scope")
		})
	}
}

func TestMatcherFuzzy(t *testing.T) {
	tests := []struct {
		name  string
		sub   models.Subscription
		info  media.Info
		match bool
	}{
		{
			name:  "regex_over_raw_title",
			sub:   models.Subscription{Name: "Foo.*Bar"},
			info:  media.Info{OrgString: "Foo 2023 Bar 1080p", Title: "Unrelated", Year: 2023, Type: media.TypeMovie},
			match: true,
		},
		{
			name:  "regex_is_case_insensitive",
			sub:   models.Subscription{Name: "foo.*bar"},
			info:  media.Info{OrgString: "FOO 2023 BAR 1080p", Title: "Unrelated", Type: media.TypeMovie},
			match: true,
		},
		{
			name:  "literal_substring_when_regex_invalid",
			sub:   models.Subscription{Name: "Foo (Bar"},
			info:  media.Info{OrgString: "Foo (Bar 2023 1080p", Title: "Foo Bar", Type: media.TypeMovie},
			match: true,
		},
		{
			name:  "year_from_search_string",
			sub:   models.Subscription{Name: "Heat 1995"},
			info:  media.Info{OrgString: "Heat.1995.1080p", Title: "Heat", Year: 1995, Type: media.TypeMovie},
			match: true,
		},
		{
			name: "year_requires_exact_equality",
			sub:  models.Subscription{Name: "Foo.*Bar", Year: 2023},
			info: media.Info{OrgString: "Foo 2024 Bar", Title: "Foo Bar", Year: 2024, Type: media.TypeMovie},
		},
		{
			name: "no_hit",
			sub:  models.Subscription{Name: "Baz"},
			info: media.Info{OrgString: "Foo 2023 Bar", Title: "Foo Bar", Year: 2023, Type: media.TypeMovie},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			sub := tt.sub
			sub.ID = 3
			sub.Kind = models.MediaKindMovie
			sub.FuzzyMatch = true
			m := NewMatcher([]*models.Subscription{&sub}, nil)

			info := tt.info
			got, _ := m.Match(&Candidate{Site: "alpha", Media: &info})
			if tt.match {
				require.NotNil(t, got)
				assert.Equal(t, int64(3), got.ID)
			} else {
				assert.Nil(t, got)
			}
		})
	}
}

func TestMatcherRegexAndSubstringAgreeOnSearchString(t *testing.T) {
	info := &media.Info{OrgString: "Foo 2023 Bar 1080p", Title: "Foo Bar", Year: 2023, Type: media.TypeMovie}
	search := fuzzySearchString(info)
	assert.Equal(t, "Foo 2023 Bar 1080p Foo Bar 2023", search)

	regexSub := &models.Subscription{ID: 1, Kind: models.MediaKindMovie, Name: "Foo.*Bar", FuzzyMatch: true}
	plainSub := &models.Subscription{ID: 2, Kind: models.MediaKindMovie, Name: "Bar 1080p", FuzzyMatch: true}

	for _, sub := range []*models.Subscription{regexSub, plainSub} {
		m := NewMatcher([]*models.Subscription{sub}, nil)
		got, _ := m.Match(&Candidate{Media: info})
		require.NotNil(t, got, sub.Name)
		assert.Equal(t, sub.ID, got.ID)
	}
}

func TestMatcherTVSeasons(t *testing.T) {
	tests := []struct {
		name   string
		sub    models.Subscription
		season int
		match  bool
	}{
		{name: "fuzzy_wildcard_any_season", sub: models.Subscription{Name: "Example", FuzzyMatch: true, Season: "S00"}, season: 4, match: true},
		{name: "fuzzy_exact_season", sub: models.Subscription{Name: "Example", FuzzyMatch: true, Season: "S02"}, season: 2, match: true},
		{name: "fuzzy_other_season", sub: models.Subscription{Name: "Example", FuzzyMatch: true, Season: "S02"}, season: 3},
		{name: "fuzzy_no_season", sub: models.Subscription{Name: "Example", FuzzyMatch: true}, season: 9, match: true},
		{name: "exact_same_season", sub: models.Subscription{Name: "Example Show", Season: "S01"}, season: 1, match: true},
		{name: "exact_other_season", sub: models.Subscription{Name: "Example Show", Season: "S01"}, season: 2},
		{name: "exact_no_season", sub: models.Subscription{Name: "Example Show"}, season: 5, match: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			sub := tt.sub
			sub.ID = 11
			sub.Kind = models.MediaKindTV
			m := NewMatcher(nil, []*models.Subscription{&sub})

			got, _ := m.Match(tvCandidate("Example Show", 2023, tt.season, "alpha"))
			if tt.match {
				require.NotNil(t, got)
			} else {
				assert.Nil(t, got)
			}
		})
	}
}

func TestMatcherTypeGating(t *testing.T) {
	movie := &models.Subscription{ID: 1, Kind: models.MediaKindMovie, Name: "Example Show"}
	show := &models.Subscription{ID: 2, Kind: models.MediaKindTV, Name: "Example Show"}

	t.Run("movie_candidate_ignores_tv_subscriptions", func(t *testing.T) {
		m := NewMatcher(nil, []*models.Subscription{show})
		got, _ := m.Match(movieCandidate("Example Show", 2023, "alpha"))
		assert.Nil(t, got)
	})

	t.Run("tv_candidate_ignores_movie_subscriptions", func(t *testing.T) {
		m := NewMatcher([]*models.Subscription{movie}, nil)
		got, _ := m.Match(tvCandidate("Example Show", 2023, 1, "alpha"))
		assert.Nil(t, got)
	})

	t.Run("unknown_type_prefers_movies", func(t *testing.T) {
		m := NewMatcher([]*models.Subscription{movie}, []*models.Subscription{show})
		c := movieCandidate("Example Show", 2023, "alpha")
		c.Media.Type = media.TypeUnknown
		got, _ := m.Match(c)
		require.NotNil(t, got)
		assert.Equal(t, int64(1), got.ID)
	})

	t.Run("unknown_type_falls_back_to_tv", func(t *testing.T) {
		m := NewMatcher(nil, []*models.Subscription{show})
		c := movieCandidate("Example Show", 2023, "alpha")
		c.Media.Type = media.TypeUnknown
		got, _ := m.Match(c)
		require.NotNil(t, got)
		assert.Equal(t, int64(2), got.ID)
	})
}

func TestMatcherTraceNamesClosestSubscription(t *testing.T) {
	m := NewMatcher([]*models.Subscription{
		{ID: 1, Kind: models.MediaKindMovie, Name: "Heat", Year: 1995},
		{ID: 2, Kind: models.MediaKindMovie, Name: "Alien", Year: 1979},
	}, nil)

	got, trace := m.Match(movieCandidate("Heat", 2001, "alpha"))
	assert.Nil(t, got)
	assert.Contains(t, trace, "Heat (2001)")
	assert.Contains(t, trace, "closest subscription: Heat")
}

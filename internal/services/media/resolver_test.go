// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package media

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/subrss/internal/services/tmdb"
)

type fakeSearcher struct {
	movies       map[string][]tmdb.Result
	shows        map[string][]tmdb.Result
	searchErr    error
	searchCalls  atomic.Int32
	detailCalls  atomic.Int32
	detailDelay  time.Duration
	detailResult *tmdb.Details
}

func (f *fakeSearcher) SearchMovie(_ context.Context, query string, _ int) (*tmdb.Response, error) {
	f.searchCalls.Add(1)
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return &tmdb.Response{Results: f.movies[query]}, nil
}

func (f *fakeSearcher) SearchTV(_ context.Context, query string, _ int) (*tmdb.Response, error) {
	f.searchCalls.Add(1)
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return &tmdb.Response{Results: f.shows[query]}, nil
}

func (f *fakeSearcher) MovieDetails(context.Context, int64) (*tmdb.Details, error) {
	f.detailCalls.Add(1)
	time.Sleep(f.detailDelay)
	return f.detailResult, nil
}

func (f *fakeSearcher) TVDetails(context.Context, int64) (*tmdb.Details, error) {
	f.detailCalls.Add(1)
	time.Sleep(f.detailDelay)
	return f.detailResult, nil
}

func TestParse(t *testing.T) {
	r := NewResolver(nil, time.Minute)

	tests := []struct {
		name     string
		raw      string
		title    string
		year     int
		typ      Type
		season   int
		episodes []int
	}{
		{name: "movie", raw: "Heat.1995.1080p.BluRay.x264-GROUP", title: "Heat", year: 1995, typ: TypeMovie},
		{name: "episode", raw: "Example.Show.S01E03.1080p.WEB-DL.x264-GRP", title: "Example Show", typ: TypeTV, season: 1, episodes: []int{3}},
		{name: "season_pack", raw: "Example.Show.S02.1080p.WEB-DL.x264-GRP", title: "Example Show", typ: TypeTV, season: 2},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			info := r.Parse(tt.raw)
			require.NotNil(t, info)
			assert.Equal(t, tt.raw, info.OrgString)
			assert.Equal(t, tt.title, info.Title)
			assert.Equal(t, tt.year, info.Year)
			assert.Equal(t, tt.typ, info.Type)
			assert.Equal(t, tt.season, info.Season)
			assert.Equal(t, tt.episodes, info.Episodes)
		})
	}

	assert.Nil(t, r.Parse("   "))
}

func TestResolvePopulatesCache(t *testing.T) {
	searcher := &fakeSearcher{
		movies: map[string][]tmdb.Result{
			"Heat": {
				{ID: 1, Title: "Heat Wave", ReleaseDate: "2022-01-01"},
				{ID: 949, Title: "Heat", ReleaseDate: "1995-12-15"},
			},
		},
	}
	r := NewResolver(searcher, time.Minute)
	ctx := context.Background()

	parsed := r.Parse("Heat.1995.1080p.BluRay.x264-GROUP")
	_, ok := r.CachedLookup(parsed)
	assert.False(t, ok)

	info, err := r.Resolve(ctx, "Heat.1995.1080p.BluRay.x264-GROUP")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "949", info.TMDBID)
	assert.Equal(t, TypeMovie, info.Type)
	assert.Equal(t, 1995, info.Year)

	cached, ok := r.CachedLookup(r.Parse("Heat.1995.720p.WEB-DL-OTHER"))
	require.True(t, ok)
	assert.Equal(t, "949", cached.TMDBID)
	assert.Equal(t, "Heat.1995.720p.WEB-DL-OTHER", cached.OrgString)
	assert.Equal(t, int32(1), searcher.searchCalls.Load())
}

func TestResolveDegradesToParsedInfo(t *testing.T) {
	searcher := &fakeSearcher{searchErr: errors.New("boom")}
	r := NewResolver(searcher, time.Minute)

	info, err := r.Resolve(context.Background(), "Example.Show.S01E03.1080p.WEB-DL.x264-GRP")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "Example Show", info.Title)
	assert.Empty(t, info.TMDBID)

	info, err = r.Resolve(context.Background(), "")
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestFetchDetailSharesInflightRequests(t *testing.T) {
	searcher := &fakeSearcher{
		detailDelay:  50 * time.Millisecond,
		detailResult: &tmdb.Details{ID: 1399, Seasons: []tmdb.Season{{SeasonNumber: 1, EpisodeCount: 10}}},
	}
	r := NewResolver(searcher, time.Minute)

	var wg sync.WaitGroup
	infos := make([]*Info, 5)
	for i := range infos {
		infos[i] = &Info{Title: "Example Show", Type: TypeTV, TMDBID: "1399"}
		wg.Add(1)
		go func(info *Info) {
			defer wg.Done()
			assert.NoError(t, r.FetchDetail(context.Background(), info))
		}(infos[i])
	}
	wg.Wait()

	for _, info := range infos {
		require.NotNil(t, info.Detail)
		assert.Equal(t, 10, info.Detail.EpisodeCount(1))
	}
	assert.LessOrEqual(t, searcher.detailCalls.Load(), int32(2))

	// cached afterwards
	before := searcher.detailCalls.Load()
	again := &Info{Type: TypeTV, TMDBID: "1399"}
	require.NoError(t, r.FetchDetail(context.Background(), again))
	assert.Equal(t, before, searcher.detailCalls.Load())

	require.Error(t, r.FetchDetail(context.Background(), &Info{Type: TypeTV, TMDBID: "DB:12"}))
	require.NoError(t, NewResolver(nil, 0).FetchDetail(context.Background(), &Info{Type: TypeTV, TMDBID: "1"}))
}

func TestInfoStrings(t *testing.T) {
	info := &Info{Title: "Example Show", Year: 2011, Type: TypeTV, Season: 1, Episodes: []int{3, 4, 5}}
	assert.Equal(t, "S01", info.SeasonString())
	assert.Equal(t, "S01E03-E05", info.SeasonEpisodeString())
	assert.Equal(t, "Example Show (2011)", info.TitleString())
	assert.False(t, info.IsSeasonPack())

	pack := &Info{Type: TypeTV, Season: 2}
	assert.True(t, pack.IsSeasonPack())
	assert.Equal(t, "", (&Info{}).YearString())
}

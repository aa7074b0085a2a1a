// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package media

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/autobrr/autobrr/pkg/ttlcache"
	"github.com/moistari/rls"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/cases"

	"github.com/autobrr/subrss/internal/services/tmdb"
)

// Searcher is the subset of the TMDB client used for identification.
type Searcher interface {
	SearchMovie(ctx context.Context, query string, year int) (*tmdb.Response, error)
	SearchTV(ctx context.Context, query string, year int) (*tmdb.Response, error)
	MovieDetails(ctx context.Context, id int64) (*tmdb.Details, error)
	TVDetails(ctx context.Context, id int64) (*tmdb.Details, error)
}

// identity is the cached, release-independent part of an Info.
type identity struct {
	Title  string
	Year   int
	Type   Type
	TMDBID string
}

const detailCacheTTL = 12 * time.Hour

type Resolver struct {
	searcher    Searcher
	identities  *ttlcache.Cache[string, identity]
	details     *ttlcache.Cache[string, *tmdb.Details]
	detailGroup singleflight.Group
}

// fold returns a case-folded copy of s. A Caser holds state, so one is built per call.
func fold(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

// NewResolver returns a resolver. A nil searcher yields parse-only identification.
func NewResolver(searcher Searcher, cacheTTL time.Duration) *Resolver {
	if cacheTTL <= 0 {
		cacheTTL = 6 * time.Hour
	}
	return &Resolver{
		searcher:   searcher,
		identities: ttlcache.New(ttlcache.Options[string, identity]{}.SetDefaultTTL(cacheTTL)),
		details:    ttlcache.New(ttlcache.Options[string, *tmdb.Details]{}.SetDefaultTTL(detailCacheTTL)),
	}
}

// Parse extracts identity hints from a raw release title. It returns nil when
// no title can be recovered.
func (r *Resolver) Parse(raw string) *Info {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	info := fromRelease(raw, rls.ParseString(raw))
	if info.Title == "" {
		return nil
	}
	return info
}

func (r *Resolver) cacheKey(info *Info) string {
	return fmt.Sprintf("%s|%d|%s", fold(info.Title), info.Year, info.Type)
}

// CachedLookup returns the parsed info completed with a previously resolved
// identity for the same title, if one is cached.
func (r *Resolver) CachedLookup(parsed *Info) (*Info, bool) {
	if parsed == nil {
		return nil, false
	}
	id, ok := r.identities.Get(r.cacheKey(parsed))
	if !ok {
		return nil, false
	}
	out := parsed.Clone()
	id.apply(out)
	return out, true
}

func (id identity) apply(info *Info) {
	if id.Title != "" {
		info.Title = id.Title
	}
	if id.Year > 0 {
		info.Year = id.Year
	}
	if id.Type != TypeUnknown {
		info.Type = id.Type
	}
	info.TMDBID = id.TMDBID
}

// Resolve parses raw and identifies it against TMDB. Lookup failures degrade
// to the parsed info; the result is cached for CachedLookup.
func (r *Resolver) Resolve(ctx context.Context, raw string) (*Info, error) {
	parsed := r.Parse(raw)
	if parsed == nil {
		return nil, nil
	}
	key := r.cacheKey(parsed)
	info := parsed.Clone()

	if r.searcher != nil {
		id, err := r.identify(ctx, parsed)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Debug().Err(err).Str("title", raw).Msg("[media] identification failed, using parsed title")
			return info, nil
		}
		id.apply(info)
	}

	r.identities.Set(key, identity{Title: info.Title, Year: info.Year, Type: info.Type, TMDBID: info.TMDBID}, ttlcache.DefaultTTL)
	return info, nil
}

func (r *Resolver) identify(ctx context.Context, parsed *Info) (identity, error) {
	var order []Type
	switch parsed.Type {
	case TypeMovie:
		order = []Type{TypeMovie}
	case TypeTV:
		order = []Type{TypeTV}
	default:
		order = []Type{TypeMovie, TypeTV}
	}

	var lastErr error
	for _, typ := range order {
		var resp *tmdb.Response
		var err error
		if typ == TypeMovie {
			resp, err = r.searcher.SearchMovie(ctx, parsed.Title, parsed.Year)
		} else {
			// episode releases rarely carry the first-air year
			resp, err = r.searcher.SearchTV(ctx, parsed.Title, 0)
		}
		if err != nil {
			lastErr = err
			continue
		}
		if best, ok := r.pickResult(parsed, resp); ok {
			return identity{
				Title:  best.DisplayTitle(),
				Year:   best.Year(),
				Type:   typ,
				TMDBID: strconv.FormatInt(best.ID, 10),
			}, nil
		}
	}

	if lastErr != nil {
		return identity{}, lastErr
	}
	return identity{Type: parsed.Type}, nil
}

// pickResult prefers an exact (case-folded) title hit, then the first result.
func (r *Resolver) pickResult(parsed *Info, resp *tmdb.Response) (tmdb.Result, bool) {
	if resp == nil || len(resp.Results) == 0 {
		return tmdb.Result{}, false
	}
	want := fold(parsed.Title)
	for _, res := range resp.Results {
		if fold(res.DisplayTitle()) == want || fold(res.OriginalName) == want {
			return res, true
		}
	}
	return resp.Results[0], true
}

// FetchDetail loads TMDB details for info into info.Detail. Concurrent calls
// for the same id share one request.
func (r *Resolver) FetchDetail(ctx context.Context, info *Info) error {
	if info == nil || info.Detail != nil {
		return nil
	}
	if r.searcher == nil || info.TMDBID == "" {
		return nil
	}
	id, err := strconv.ParseInt(info.TMDBID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid tmdb id %q: %w", info.TMDBID, err)
	}

	key := fmt.Sprintf("%s:%d", info.Type, id)
	if detail, ok := r.details.Get(key); ok {
		info.Detail = detail
		return nil
	}

	v, err, _ := r.detailGroup.Do(key, func() (any, error) {
		var detail *tmdb.Details
		var err error
		switch info.Type {
		case TypeMovie:
			detail, err = r.searcher.MovieDetails(ctx, id)
		case TypeTV:
			detail, err = r.searcher.TVDetails(ctx, id)
		default:
			return nil, fmt.Errorf("cannot fetch detail for unknown media type")
		}
		if err != nil {
			return nil, err
		}
		r.details.Set(key, detail, ttlcache.DefaultTTL)
		return detail, nil
	})
	if err != nil {
		return err
	}

	info.Detail = v.(*tmdb.Details)
	return nil
}

// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package media

import (
	"fmt"
	"strings"

	"github.com/moistari/rls"

	"github.com/autobrr/subrss/internal/models"
	"github.com/autobrr/subrss/internal/services/tmdb"
)

type Type string

const (
	TypeUnknown Type = ""
	TypeMovie   Type = "movie"
	TypeTV      Type = "tv"
)

// Kind maps the media type onto the subscription kind. Unknown maps to "".
func (t Type) Kind() models.MediaKind {
	switch t {
	case TypeMovie:
		return models.MediaKindMovie
	case TypeTV:
		return models.MediaKindTV
	default:
		return ""
	}
}

// Info is the identity of a release: what was parsed from its raw title plus
// what metadata lookups added.
type Info struct {
	OrgString  string        `json:"orgString"`
	Title      string        `json:"title"`
	Year       int           `json:"year,omitempty"`
	Type       Type          `json:"type"`
	TMDBID     string        `json:"tmdbId,omitempty"`
	Season     int           `json:"season,omitempty"`
	Episodes   []int         `json:"episodes,omitempty"`
	Resolution string        `json:"resolution,omitempty"`
	Source     string        `json:"source,omitempty"`
	Codec      []string      `json:"codec,omitempty"`
	HDR        []string      `json:"hdr,omitempty"`
	Group      string        `json:"group,omitempty"`
	Detail     *tmdb.Details `json:"-"`
}

// SeasonString returns the canonical season code, or "" for movies and releases without a season.
func (i *Info) SeasonString() string {
	if i.Season <= 0 {
		return ""
	}
	return models.SeasonCode(i.Season)
}

// SeasonEpisodeString renders S01E02 / S01E02-E04 / S01.
func (i *Info) SeasonEpisodeString() string {
	s := i.SeasonString()
	switch len(i.Episodes) {
	case 0:
		return s
	case 1:
		return fmt.Sprintf("%sE%02d", s, i.Episodes[0])
	default:
		return fmt.Sprintf("%sE%02d-E%02d", s, i.Episodes[0], i.Episodes[len(i.Episodes)-1])
	}
}

// YearString returns the year or "" when unset.
func (i *Info) YearString() string {
	if i.Year <= 0 {
		return ""
	}
	return fmt.Sprintf("%d", i.Year)
}

// TitleString is "Title (Year)" for logs.
func (i *Info) TitleString() string {
	if y := i.YearString(); y != "" {
		return fmt.Sprintf("%s (%s)", i.Title, y)
	}
	return i.Title
}

// IsSeasonPack reports whether the release carries a whole season.
func (i *Info) IsSeasonPack() bool {
	return i.Type == TypeTV && i.Season > 0 && len(i.Episodes) == 0
}

// Clone copies the info; Detail is shared since it is read-only.
func (i *Info) Clone() *Info {
	if i == nil {
		return nil
	}
	out := *i
	out.Episodes = append([]int(nil), i.Episodes...)
	out.Codec = append([]string(nil), i.Codec...)
	out.HDR = append([]string(nil), i.HDR...)
	return &out
}

func fromRelease(raw string, r rls.Release) *Info {
	info := &Info{
		OrgString:  raw,
		Title:      strings.TrimSpace(r.Title),
		Year:       r.Year,
		Resolution: r.Resolution,
		Source:     r.Source,
		Codec:      r.Codec,
		HDR:        r.HDR,
		Group:      r.Group,
	}

	switch r.Type {
	case rls.Movie:
		info.Type = TypeMovie
	case rls.Episode, rls.Series:
		info.Type = TypeTV
	}

	if r.Series > 0 {
		info.Type = TypeTV
		info.Season = r.Series
	}
	if r.Episode > 0 {
		info.Type = TypeTV
		if info.Season == 0 {
			info.Season = 1
		}
		info.Episodes = []int{r.Episode}
	}

	return info
}

// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package rss

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/autobrr/subrss/internal/models"
	"github.com/autobrr/subrss/internal/services/media"
)

type compiledSubscription struct {
	sub     *models.Subscription
	pattern *regexp.Regexp
}

// Matcher finds the subscription a candidate satisfies. Subscriptions are
// scanned in the order given and the first one that fits wins.
type Matcher struct {
	movies []compiledSubscription
	tvs    []compiledSubscription
}

func NewMatcher(movies, tvs []*models.Subscription) *Matcher {
	return &Matcher{
		movies: compileSubscriptions(movies),
		tvs:    compileSubscriptions(tvs),
	}
}

func compileSubscriptions(subs []*models.Subscription) []compiledSubscription {
	out := make([]compiledSubscription, 0, len(subs))
	for _, sub := range subs {
		if sub == nil {
			continue
		}
		cs := compiledSubscription{sub: sub}
		if sub.FuzzyMatch && sub.Name != "" {
			// invalid patterns fall back to the literal substring check
			if re, err := regexp.Compile("(?i)" + sub.Name); err == nil {
				cs.pattern = re
			}
		}
		out = append(out, cs)
	}
	return out
}

// Empty reports whether there is nothing to match against.
func (m *Matcher) Empty() bool {
	return len(m.movies) == 0 && len(m.tvs) == 0
}

// Match returns the first subscription satisfied by c, or nil together with a
// trace describing why the candidate is out of scope.
func (m *Matcher) Match(c *Candidate) (*models.Subscription, string) {
	if c == nil || c.Media == nil {
		return nil, "candidate has no media info"
	}

	switch c.Media.Type {
	case media.TypeMovie:
		if sub := m.scan(m.movies, c, false); sub != nil {
			return sub, ""
		}
	case media.TypeTV:
		if sub := m.scan(m.tvs, c, true); sub != nil {
			return sub, ""
		}
	default:
		if sub := m.scan(m.movies, c, false); sub != nil {
			return sub, ""
		}
		if sub := m.scan(m.tvs, c, true); sub != nil {
			return sub, ""
		}
	}

	return nil, m.trace(c)
}

func (m *Matcher) scan(subs []compiledSubscription, c *Candidate, tv bool) *models.Subscription {
	for _, cs := range subs {
		if !cs.sub.AllowsSite(c.Site) {
			continue
		}
		var ok bool
		if cs.sub.FuzzyMatch {
			ok = matchFuzzy(cs, c.Media, tv)
		} else {
			ok = matchExact(cs.sub, c.Media, tv)
		}
		if ok {
			return cs.sub
		}
	}
	return nil
}

func matchExact(sub *models.Subscription, info *media.Info, tv bool) bool {
	if sub.HasAuthoritativeID() {
		if info.TMDBID != sub.TMDBID {
			return false
		}
	} else {
		if sub.Year > 0 && (info.Year < sub.Year-1 || info.Year > sub.Year+1) {
			return false
		}
		if info.Title != sub.Name {
			return false
		}
	}
	if tv && sub.Season != "" && sub.Season != info.SeasonString() {
		return false
	}
	return true
}

func matchFuzzy(cs compiledSubscription, info *media.Info, tv bool) bool {
	sub := cs.sub
	if tv && sub.Season != "" && sub.Season != models.SeasonWildcard && sub.Season != info.SeasonString() {
		return false
	}
	if sub.Year > 0 && info.Year != sub.Year {
		return false
	}
	search := fuzzySearchString(info)
	if cs.pattern != nil && cs.pattern.MatchString(search) {
		return true
	}
	return strings.Contains(search, sub.Name)
}

// fuzzySearchString joins the raw title, resolved title and year.
func fuzzySearchString(info *media.Info) string {
	return fmt.Sprintf("%s %s %s", info.OrgString, info.Title, info.YearString())
}

func (m *Matcher) trace(c *Candidate) string {
	msg := fmt.Sprintf("%s %s is not within subscription scope", c.Media.TitleString(), c.Media.SeasonEpisodeString())
	if closest := m.closest(c.Media.Title); closest != "" {
		msg += fmt.Sprintf(" (closest subscription: %s)", closest)
	}
	return strings.Join(strings.Fields(msg), " ")
}

// closest names the subscription whose name ranks nearest to title.
func (m *Matcher) closest(title string) string {
	if title == "" {
		return ""
	}
	best, bestRank := "", -1
	for _, list := range [][]compiledSubscription{m.movies, m.tvs} {
		for _, cs := range list {
			rank := fuzzy.RankMatchNormalizedFold(cs.sub.Name, title)
			if rank < 0 {
				rank = fuzzy.RankMatchNormalizedFold(title, cs.sub.Name)
			}
			if rank >= 0 && (bestRank < 0 || rank < bestRank) {
				best, bestRank = cs.sub.Name, rank
			}
		}
	}
	return best
}

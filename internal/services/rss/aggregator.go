// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package rss

import (
	"context"
	"sort"
	"sync"

	"github.com/autobrr/subrss/internal/models"
)

type missingEntry struct {
	complete bool
	set      *models.MissingSet
}

// MissingFunc computes whether a subscription is already complete locally and
// what it still lacks.
type MissingFunc func(ctx context.Context) (bool, *models.MissingSet, error)

// Aggregator collects accepted candidates into one plan per subscription.
type Aggregator struct {
	mu      sync.Mutex
	plans   map[int64]*Plan
	missing map[int64]missingEntry
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		plans:   make(map[int64]*Plan),
		missing: make(map[int64]missingEntry),
	}
}

// Missing returns the cached missing state for id, computing it on first use.
// Failed computations are not cached.
func (a *Aggregator) Missing(ctx context.Context, id int64, compute MissingFunc) (bool, *models.MissingSet, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if entry, ok := a.missing[id]; ok {
		return entry.complete, entry.set, nil
	}

	complete, set, err := compute(ctx)
	if err != nil {
		return false, nil, err
	}
	a.missing[id] = missingEntry{complete: complete, set: set}
	return complete, set, nil
}

// Record appends c to the subscription's plan. The plan's MatchInfo follows the
// candidate with the highest sequence seen so far.
func (a *Aggregator) Record(id int64, c *Candidate, info MatchInfo, seq int64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	c.seq = seq
	plan, ok := a.plans[id]
	if !ok {
		plan = &Plan{SubscriptionID: id, MatchInfo: info, firstSeq: seq, infoSeq: seq}
		if entry, ok := a.missing[id]; ok {
			plan.Missing = entry.set.Clone()
		}
		a.plans[id] = plan
	}

	plan.Candidates = append(plan.Candidates, c)
	if seq < plan.firstSeq {
		plan.firstSeq = seq
	}
	if seq >= plan.infoSeq {
		plan.MatchInfo = info
		plan.infoSeq = seq
	}
}

// Len returns the number of plans.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.plans)
}

// Plans returns the plans ordered by their first accepted candidate, each with
// candidates in processing order.
func (a *Aggregator) Plans() []*Plan {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]*Plan, 0, len(a.plans))
	for _, plan := range a.plans {
		sort.SliceStable(plan.Candidates, func(i, j int) bool {
			return plan.Candidates[i].seq < plan.Candidates[j].seq
		})
		out = append(out, plan)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].firstSeq < out[j].firstSeq })
	return out
}

// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package rss

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/autobrr/subrss/internal/domain"
	"github.com/autobrr/subrss/internal/models"
	"github.com/autobrr/subrss/internal/services/feed"
	"github.com/autobrr/subrss/internal/services/filter"
	"github.com/autobrr/subrss/internal/services/media"
	"github.com/autobrr/subrss/internal/services/siteattr"
)

// ErrRunInProgress is returned when another run holds the run lock.
var ErrRunInProgress = errors.New("rss run already in progress")

type FeedSource interface {
	Fetch(ctx context.Context, feedURL string, useProxy bool) []feed.Item
}

type MediaResolver interface {
	Parse(raw string) *media.Info
	CachedLookup(parsed *media.Info) (*media.Info, bool)
	Resolve(ctx context.Context, raw string) (*media.Info, error)
	FetchDetail(ctx context.Context, info *media.Info) error
}

type HistoryStore interface {
	Seen(ctx context.Context, enclosure string) (bool, error)
	Record(ctx context.Context, entry *models.RSSHistoryEntry) error
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
}

type SubscriptionSource interface {
	ListActive(ctx context.Context, kind models.MediaKind) ([]*models.Subscription, error)
}

type FilterEngine interface {
	Evaluate(t filter.Torrent, args filter.Args) filter.Result
}

type AttributeChecker interface {
	Check(ctx context.Context, req siteattr.Request) siteattr.Attributes
}

// Subscriber knows the local library and receives the finished plans.
type Subscriber interface {
	GetMissing(ctx context.Context, info *media.Info, match MatchInfo, overEdition bool) (bool, *models.MissingSet, error)
	Apply(ctx context.Context, plan *Plan) error
}

type RunStore interface {
	CreateRun(ctx context.Context, run *models.RSSRun) (*models.RSSRun, error)
	UpdateRun(ctx context.Context, run *models.RSSRun) (*models.RSSRun, error)
}

// Config controls run behaviour.
type Config struct {
	SiteConcurrency  int
	HistoryRetention time.Duration
	LockPath         string
}

// Deps groups the collaborators of the service. Attributes, Runs and Metrics are optional.
type Deps struct {
	Feeds         FeedSource
	Resolver      MediaResolver
	History       HistoryStore
	Subscriptions SubscriptionSource
	Filter        FilterEngine
	Attributes    AttributeChecker
	Subscriber    Subscriber
	Runs          RunStore
	Metrics       *Metrics
}

// Result is the outcome of one run.
type Result struct {
	Run   *models.RSSRun `json:"run"`
	Plans []*Plan        `json:"plans"`
}

// Status is a snapshot for the API.
type Status struct {
	Running bool           `json:"running"`
	LastRun *models.RSSRun `json:"lastRun,omitempty"`
}

type Service struct {
	cfg  Config
	deps Deps

	sitesMu sync.RWMutex
	sites   []domain.SiteConfig

	running atomic.Bool
	lock    *flock.Flock

	statusMu sync.RWMutex
	lastRun  *models.RSSRun

	now func() time.Time
}

func NewService(cfg Config, deps Deps, sites []domain.SiteConfig) *Service {
	if cfg.SiteConcurrency <= 0 {
		cfg.SiteConcurrency = 4
	}
	s := &Service{
		cfg:  cfg,
		deps: deps,
		now:  time.Now,
	}
	if cfg.LockPath != "" {
		s.lock = flock.New(cfg.LockPath)
	}
	s.SetSites(sites)
	return s
}

// SetSites replaces the configured sites. Runs already in progress keep their snapshot.
func (s *Service) SetSites(sites []domain.SiteConfig) {
	cp := append([]domain.SiteConfig(nil), sites...)
	s.sitesMu.Lock()
	s.sites = cp
	s.sitesMu.Unlock()
}

func (s *Service) siteSnapshot() []domain.SiteConfig {
	s.sitesMu.RLock()
	defer s.sitesMu.RUnlock()
	return append([]domain.SiteConfig(nil), s.sites...)
}

// Status reports whether a run is active and the last finished run.
func (s *Service) Status() Status {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return Status{Running: s.running.Load(), LastRun: s.lastRun}
}

// Start triggers a run every interval until ctx is done. A zero interval disables the loop.
func (s *Service) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		log.Info().Msg("[rss] scheduled runs disabled")
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.Run(ctx, "scheduler"); err != nil {
					if errors.Is(err, ErrRunInProgress) {
						log.Debug().Msg("[rss] previous run still active, skipping tick")
						continue
					}
					log.Error().Err(err).Msg("[rss] scheduled run failed")
				}
			}
		}
	}()
}

func (s *Service) acquire() (func(), error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	if s.lock != nil {
		ok, err := s.lock.TryLock()
		if err != nil {
			s.running.Store(false)
			return nil, fmt.Errorf("acquire run lock: %w", err)
		}
		if !ok {
			s.running.Store(false)
			return nil, ErrRunInProgress
		}
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.RunActive.Set(1)
	}
	return func() {
		if s.lock != nil {
			if err := s.lock.Unlock(); err != nil {
				log.Warn().Err(err).Msg("[rss] failed to release run lock")
			}
		}
		if s.deps.Metrics != nil {
			s.deps.Metrics.RunActive.Set(0)
		}
		s.running.Store(false)
	}, nil
}

// runState is the shared mutable state of one run. mu serializes history
// access and aggregator writes across site workers.
type runState struct {
	mu         sync.Mutex
	matcher    *Matcher
	aggregator *Aggregator
	summary    models.RSSRunSummary
}

func (st *runState) seen(ctx context.Context, history HistoryStore, enclosure string) (bool, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return history.Seen(ctx, enclosure)
}

func (st *runState) count(o Outcome) {
	st.mu.Lock()
	defer st.mu.Unlock()
	switch o {
	case OutcomeDuplicate:
		st.summary.Duplicates++
	case OutcomeUnresolved:
		st.summary.Unresolved++
	case OutcomeNoMatch:
		st.summary.NoMatch++
	case OutcomeExists:
		st.summary.Satisfied++
	case OutcomeRejected:
		st.summary.Rejected++
	case OutcomeAccepted:
		st.summary.Accepted++
	case OutcomeFailed:
		st.summary.Failed++
	}
}

// Run executes one matching pass. It returns ErrRunInProgress without side
// effects when another run is active.
func (s *Service) Run(ctx context.Context, triggeredBy string) (*Result, error) {
	release, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	started := s.now()
	run := &models.RSSRun{TriggeredBy: triggeredBy, Status: models.RSSRunStatusRunning, StartedAt: started.UTC()}
	if s.deps.Runs != nil {
		if created, err := s.deps.Runs.CreateRun(ctx, run); err != nil {
			log.Warn().Err(err).Msg("[rss] failed to persist run start")
		} else {
			run = created
		}
	}

	plans, summary, runErr := s.execute(ctx)
	run.Summary = summary
	completed := s.now().UTC()
	run.CompletedAt = &completed

	switch {
	case runErr != nil:
		run.Status = models.RSSRunStatusFailed
		run.ErrorMessage = runErr.Error()
	case summary.Failed > 0 || summary.PlansFailed > 0:
		run.Status = models.RSSRunStatusPartial
	default:
		run.Status = models.RSSRunStatusSuccess
	}

	if s.deps.Runs != nil && run.ID != 0 {
		if updated, err := s.deps.Runs.UpdateRun(context.WithoutCancel(ctx), run); err != nil {
			log.Warn().Err(err).Msg("[rss] failed to persist run result")
		} else {
			run = updated
		}
	}
	if m := s.deps.Metrics; m != nil {
		m.RunsTotal.WithLabelValues(string(run.Status)).Inc()
		m.RunDuration.Observe(completed.Sub(started.UTC()).Seconds())
	}

	s.statusMu.Lock()
	s.lastRun = run
	s.statusMu.Unlock()

	return &Result{Run: run, Plans: plans}, runErr
}

func (s *Service) execute(ctx context.Context) ([]*Plan, models.RSSRunSummary, error) {
	var summary models.RSSRunSummary

	movies, err := s.deps.Subscriptions.ListActive(ctx, models.MediaKindMovie)
	if err != nil {
		return nil, summary, fmt.Errorf("load movie subscriptions: %w", err)
	}
	tvs, err := s.deps.Subscriptions.ListActive(ctx, models.MediaKindTV)
	if err != nil {
		return nil, summary, fmt.Errorf("load tv subscriptions: %w", err)
	}
	if len(movies) == 0 && len(tvs) == 0 {
		log.Info().Msg("[rss] no running subscriptions, nothing to do")
		return nil, summary, nil
	}

	sites := siteScope(s.siteSnapshot(), movies, tvs)
	if len(sites) == 0 {
		log.Info().Msg("[rss] no sites in subscription scope")
		return nil, summary, nil
	}

	st := &runState{
		matcher:    NewMatcher(movies, tvs),
		aggregator: NewAggregator(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.SiteConcurrency)
	for idx, site := range sites {
		if site.RSSURL == "" {
			log.Warn().Str("site", site.Name).Msg("[rss] site has no rss url configured, skipping")
			continue
		}
		st.mu.Lock()
		st.summary.Sites++
		st.mu.Unlock()

		g.Go(func() error {
			s.processSite(gctx, st, idx, site)
			return nil
		})
	}
	_ = g.Wait()

	// Accepted items are already in history and will be skipped by later runs,
	// so their plans are applied even when the run was cancelled.
	applyCtx := context.WithoutCancel(ctx)
	plans := st.aggregator.Plans()
	st.summary.Plans = len(plans)
	for _, plan := range plans {
		if err := s.deps.Subscriber.Apply(applyCtx, plan); err != nil {
			st.summary.PlansFailed++
			log.Error().Err(err).Int64("subscription", plan.SubscriptionID).Msg("[rss] failed to apply subscription plan")
			s.observePlan("failed")
			continue
		}
		s.observePlan("applied")
	}

	if err := ctx.Err(); err != nil {
		log.Warn().Err(err).Int("plans", st.summary.Plans).Msg("[rss] run cancelled, applied plans collected so far")
		return plans, st.summary, err
	}

	s.pruneHistory(ctx)

	log.Info().
		Int("sites", st.summary.Sites).
		Int("items", st.summary.FeedItems).
		Int("accepted", st.summary.Accepted).
		Int("plans", st.summary.Plans).
		Msg("[rss] run finished")

	return plans, st.summary, nil
}

func (s *Service) observePlan(result string) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.PlansTotal.WithLabelValues(result).Inc()
	}
}

func (s *Service) pruneHistory(ctx context.Context) {
	if s.cfg.HistoryRetention <= 0 {
		return
	}
	n, err := s.deps.History.Prune(ctx, s.now().Add(-s.cfg.HistoryRetention))
	if err != nil {
		log.Warn().Err(err).Msg("[rss] failed to prune history")
		return
	}
	if n > 0 {
		log.Debug().Int64("removed", n).Msg("[rss] pruned history")
	}
}

// siteScope returns the sites to scan. A single subscription without site
// restrictions widens the scope to every enabled site.
func siteScope(sites []domain.SiteConfig, movies, tvs []*models.Subscription) []domain.SiteConfig {
	all := false
	wanted := make(map[string]struct{})
	for _, list := range [][]*models.Subscription{movies, tvs} {
		for _, sub := range list {
			if len(sub.Sites) == 0 {
				all = true
				continue
			}
			for _, name := range sub.Sites {
				wanted[name] = struct{}{}
			}
		}
	}

	var out []domain.SiteConfig
	for _, site := range sites {
		if site.Disabled {
			continue
		}
		if !all {
			if _, ok := wanted[site.Name]; !ok {
				continue
			}
			delete(wanted, site.Name)
		}
		out = append(out, site)
	}
	if !all {
		for name := range wanted {
			log.Warn().Str("site", name).Msg("[rss] subscription references unknown or disabled site")
		}
	}
	return out
}

func (s *Service) processSite(ctx context.Context, st *runState, siteIdx int, site domain.SiteConfig) {
	items := s.deps.Feeds.Fetch(ctx, site.RSSURL, site.UseProxy)
	if m := s.deps.Metrics; m != nil {
		m.SiteFetchSize.WithLabelValues(site.Name).Set(float64(len(items)))
	}

	st.mu.Lock()
	st.summary.FeedItems += len(items)
	st.mu.Unlock()

	accepted := 0
	for i, item := range items {
		if ctx.Err() != nil {
			return
		}
		seq := int64(siteIdx)<<32 | int64(i)
		outcome := s.processItem(ctx, st, site, item, seq)
		if outcome == OutcomeAccepted {
			accepted++
		}
		if m := s.deps.Metrics; m != nil {
			m.ItemsTotal.WithLabelValues(string(outcome)).Inc()
		}
	}

	log.Info().Str("site", site.Name).Int("items", len(items)).Int("accepted", accepted).
		Msgf("[rss] %s: %d valid resources", site.Name, accepted)
}

// processItem runs one feed item through dedup, resolution, matching and
// filtering. Failures, including panics, stay confined to the item.
func (s *Service) processItem(ctx context.Context, st *runState, site domain.SiteConfig, item feed.Item, seq int64) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("site", site.Name).
				Str("title", item.Title).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("[rss] panic while processing feed item")
			outcome = OutcomeFailed
		}
		st.count(outcome)
	}()

	logger := log.With().Str("site", site.Name).Str("title", item.Title).Logger()

	seen, err := st.seen(ctx, s.deps.History, item.Enclosure)
	if err != nil {
		logger.Error().Err(err).Msg("[rss] history lookup failed")
		return OutcomeFailed
	}
	if seen {
		logger.Trace().Msg("[rss] already processed")
		return OutcomeDuplicate
	}

	info, err := s.resolve(ctx, item.Title)
	if err != nil {
		logger.Warn().Err(err).Msg("[rss] failed to resolve media")
		return OutcomeFailed
	}
	if info == nil {
		logger.Debug().Msg("[rss] could not identify media")
		return OutcomeUnresolved
	}

	c := &Candidate{
		Media:       info,
		Site:        site.Name,
		SiteOrder:   site.Order(),
		Size:        item.Size,
		Enclosure:   item.Enclosure,
		PageURL:     item.Link,
		Description: item.Description,
		PublishedAt: item.PublishedAt,
	}

	sub, trace := st.matcher.Match(c)
	if sub == nil {
		logger.Debug().Msg("[rss] " + trace)
		return OutcomeNoMatch
	}

	match := newMatchInfo(sub)
	logger = logger.With().Int64("subscription", sub.ID).Str("subscriptionName", sub.Name).Logger()

	if !sub.FuzzyMatch {
		if info.Detail == nil {
			if err := s.deps.Resolver.FetchDetail(ctx, info); err != nil {
				logger.Warn().Err(err).Msg("[rss] failed to fetch media detail")
			}
		}
		if info.Detail == nil {
			logger.Debug().Msg("[rss] no media detail available, skipping")
			return OutcomeUnresolved
		}

		complete, _, err := st.aggregator.Missing(ctx, sub.ID, func(ctx context.Context) (bool, *models.MissingSet, error) {
			return s.deps.Subscriber.GetMissing(ctx, info, match, sub.OverEdition)
		})
		if err != nil {
			logger.Error().Err(err).Msg("[rss] failed to compute missing media")
			return OutcomeFailed
		}
		if complete && !sub.OverEdition {
			logger.Debug().Msg("[rss] subscription already satisfied locally")
			return OutcomeExists
		}
	}

	if site.Parse && s.deps.Attributes != nil && c.PageURL != "" {
		attrs := s.deps.Attributes.Check(ctx, siteattr.Request{
			PageURL:   c.PageURL,
			Cookie:    site.Cookie,
			UserAgent: site.UserAgent,
			UseProxy:  site.UseProxy,
		})
		down, up := attrs.Factors()
		c.DownloadFactor, c.UploadFactor = &down, &up
		c.HitAndRun = attrs.HitAndRun
		match.DownloadFactor, match.UploadFactor = c.DownloadFactor, c.UploadFactor
	}

	rule := sub.FilterRule
	if rule == "" {
		rule = site.FilterRule
	}
	result := s.deps.Filter.Evaluate(torrentFromCandidate(c), filter.Args{
		RuleGroup: rule,
		ResType:   sub.FilterResType,
		Pix:       sub.FilterPix,
		Team:      sub.FilterTeam,
	})
	if !result.Passed {
		logger.Info().Str("reason", result.Message).Msg("[rss] rejected by filter")
		return OutcomeRejected
	}

	match.ResOrder = result.Order
	match.FilterRule = rule
	c.SubscriptionID = sub.ID
	c.ResOrder = result.Order
	c.FilterRule = rule
	c.OverEdition = sub.OverEdition
	c.DownloadSetting = sub.DownloadSetting
	c.SavePath = sub.SavePath

	st.mu.Lock()
	defer st.mu.Unlock()

	// another site may have recorded the same enclosure meanwhile
	if seen, err := s.deps.History.Seen(ctx, c.Enclosure); err == nil && seen {
		return OutcomeDuplicate
	}
	if err := s.deps.History.Record(ctx, &models.RSSHistoryEntry{
		Enclosure:      c.Enclosure,
		Title:          item.Title,
		Site:           site.Name,
		SubscriptionID: sub.ID,
		CreatedAt:      s.now(),
	}); err != nil {
		logger.Error().Err(err).Msg("[rss] failed to record history")
		return OutcomeFailed
	}
	st.aggregator.Record(sub.ID, c, match, seq)

	logger.Info().Int("order", result.Order).Msg("[rss] accepted " + info.TitleString() + " " + info.SeasonEpisodeString())
	return OutcomeAccepted
}

func (s *Service) resolve(ctx context.Context, title string) (*media.Info, error) {
	if parsed := s.deps.Resolver.Parse(title); parsed != nil {
		if info, ok := s.deps.Resolver.CachedLookup(parsed); ok {
			return info, nil
		}
	}
	return s.deps.Resolver.Resolve(ctx, title)
}

func torrentFromCandidate(c *Candidate) filter.Torrent {
	t := filter.Torrent{
		Title:       c.Title(),
		Description: c.Description,
		Site:        c.Site,
		Size:        c.Size,
		Resolution:  c.Media.Resolution,
		Source:      c.Media.Source,
		Codec:       c.Media.Codec,
		Group:       c.Media.Group,
		Year:        c.Media.Year,
		Season:      c.Media.Season,
		Episodes:    c.Media.Episodes,
		HitAndRun:   c.HitAndRun,
	}
	if c.DownloadFactor != nil && *c.DownloadFactor == 0 {
		t.Free = true
		if c.UploadFactor != nil && *c.UploadFactor >= 2 {
			t.DoubleFree = true
		}
	}
	return t
}

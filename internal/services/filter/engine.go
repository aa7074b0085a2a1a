// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package filter

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/autobrr/autobrr/pkg/ttlcache"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/cases"

	"github.com/autobrr/subrss/internal/domain"
)

const gib = 1 << 30

// Torrent is the view of a candidate that rules evaluate against. Its exported
// fields form the environment of custom expressions.
type Torrent struct {
	Title       string
	Description string
	Site        string
	Size        int64
	SizeGB      float64
	Resolution  string
	Source      string
	Codec       []string
	Group       string
	Year        int
	Season      int
	Episodes    []int
	Free        bool
	DoubleFree  bool
	HitAndRun   bool
}

// Args carries the per-subscription restrictions and the effective rule group.
type Args struct {
	RuleGroup string
	ResType   string
	Pix       string
	Team      string
}

// Result is the filter verdict. Order ranks passing candidates; lower wins.
type Result struct {
	Passed  bool
	Order   int
	Message string
}

type rule struct {
	name     string
	order    int
	include  []term
	exclude  []term
	sizeMin  float64
	sizeMax  float64
	freeOnly bool
	expr     string
}

type Engine struct {
	mu        sync.RWMutex
	groups    map[string][]rule
	exprCache *ttlcache.Cache[string, *vm.Program]
}

func NewEngine(groups []domain.FilterGroupConfig) *Engine {
	e := &Engine{
		exprCache: ttlcache.New(ttlcache.Options[string, *vm.Program]{}.SetDefaultTTL(30 * time.Minute)),
	}
	e.Reload(groups)
	return e
}

// Reload replaces the rule groups, e.g. after a config file change.
func (e *Engine) Reload(groups []domain.FilterGroupConfig) {
	compiled := make(map[string][]rule, len(groups))
	for _, g := range groups {
		name := strings.TrimSpace(g.Name)
		if name == "" {
			continue
		}
		rules := make([]rule, 0, len(g.Rules))
		for i, rc := range g.Rules {
			order := rc.Priority
			if order <= 0 {
				order = i + 1
			}
			rules = append(rules, rule{
				name:     rc.Name,
				order:    order,
				include:  compileTerms(rc.Include),
				exclude:  compileTerms(rc.Exclude),
				sizeMin:  rc.SizeMin,
				sizeMax:  rc.SizeMax,
				freeOnly: rc.FreeOnly,
				expr:     strings.TrimSpace(rc.Expr),
			})
		}
		sort.SliceStable(rules, func(i, j int) bool { return rules[i].order < rules[j].order })
		compiled[name] = rules
	}

	e.mu.Lock()
	e.groups = compiled
	e.mu.Unlock()
}

// Evaluate checks the subscription restrictions first, then the rule group.
// An empty or unknown group passes with order 0.
func (e *Engine) Evaluate(t Torrent, args Args) Result {
	if t.SizeGB == 0 && t.Size > 0 {
		t.SizeGB = float64(t.Size) / gib
	}

	if msg, ok := checkRestrictions(t, args); !ok {
		return Result{Passed: false, Message: msg}
	}

	group := strings.TrimSpace(args.RuleGroup)
	if group == "" {
		return Result{Passed: true}
	}

	e.mu.RLock()
	rules, ok := e.groups[group]
	e.mu.RUnlock()
	if !ok {
		log.Warn().Str("group", group).Msg("[filter] unknown rule group, skipping rule checks")
		return Result{Passed: true}
	}
	if len(rules) == 0 {
		return Result{Passed: true}
	}

	text := t.Title + " " + t.Description
	var reasons []string
	for _, r := range rules {
		reason, ok := e.evaluateRule(r, t, text)
		if ok {
			return Result{Passed: true, Order: r.order, Message: fmt.Sprintf("matched rule %q", r.name)}
		}
		reasons = append(reasons, fmt.Sprintf("%s: %s", r.name, reason))
	}

	return Result{Passed: false, Message: "no rule in group " + group + " passed (" + strings.Join(reasons, "; ") + ")"}
}

func (e *Engine) evaluateRule(r rule, t Torrent, text string) (string, bool) {
	if missing, ok := matchesAll(text, r.include); !ok {
		return fmt.Sprintf("missing %q", missing.raw), false
	}
	if hit, ok := firstMatch(text, r.exclude); ok {
		return fmt.Sprintf("excluded by %q", hit.raw), false
	}
	if r.sizeMin > 0 && t.SizeGB < r.sizeMin {
		return fmt.Sprintf("size %.2fGB below %.2fGB", t.SizeGB, r.sizeMin), false
	}
	if r.sizeMax > 0 && t.SizeGB > r.sizeMax {
		return fmt.Sprintf("size %.2fGB above %.2fGB", t.SizeGB, r.sizeMax), false
	}
	if r.freeOnly && !t.Free && !t.DoubleFree {
		return "not free", false
	}
	if r.expr != "" {
		ok, err := e.runExpr(r.expr, t)
		if err != nil {
			return fmt.Sprintf("expression error: %v", err), false
		}
		if !ok {
			return "expression false", false
		}
	}
	return "", true
}

func (e *Engine) runExpr(src string, t Torrent) (bool, error) {
	program, ok := e.exprCache.Get(src)
	if !ok {
		var err error
		program, err = expr.Compile(src, expr.Env(Torrent{}), expr.AsBool())
		if err != nil {
			log.Error().Err(err).Str("expr", src).Msg("[filter] failed to compile expression")
			return false, err
		}
		e.exprCache.Set(src, program, ttlcache.DefaultTTL)
	}

	out, err := expr.Run(program, t)
	if err != nil {
		return false, err
	}
	result, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("expression result is not a boolean")
	}
	return result, nil
}

var resolutionAliases = map[string]string{
	"4k":    "2160p",
	"uhd":   "2160p",
	"2160p": "2160p",
	"1080p": "1080p",
	"1080i": "1080p",
	"fhd":   "1080p",
	"720p":  "720p",
	"hd":    "720p",
}

func canonicalResolution(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if alias, ok := resolutionAliases[s]; ok {
		return alias
	}
	return s
}

func foldEqual(a, b string) bool {
	caser := cases.Fold()
	return caser.String(strings.TrimSpace(a)) == caser.String(strings.TrimSpace(b))
}

// checkRestrictions applies the subscription's source/resolution/group limits.
func checkRestrictions(t Torrent, args Args) (string, bool) {
	if args.ResType != "" {
		normalize := func(s string) string {
			return strings.NewReplacer("-", "", " ", "", ".", "").Replace(strings.ToLower(s))
		}
		if t.Source == "" || !strings.Contains(normalize(t.Source), normalize(args.ResType)) {
			return fmt.Sprintf("source %q does not match %q", t.Source, args.ResType), false
		}
	}
	if args.Pix != "" && canonicalResolution(t.Resolution) != canonicalResolution(args.Pix) {
		return fmt.Sprintf("resolution %q does not match %q", t.Resolution, args.Pix), false
	}
	if args.Team != "" {
		matched := false
		for _, team := range strings.Split(args.Team, ",") {
			if team = strings.TrimSpace(team); team != "" && foldEqual(team, t.Group) {
				matched = true
				break
			}
		}
		if !matched {
			return fmt.Sprintf("group %q does not match %q", t.Group, args.Team), false
		}
	}
	return "", true
}

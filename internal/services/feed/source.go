// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package feed

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/subrss/internal/buildinfo"
)

// Item is a single normalized feed entry.
type Item struct {
	Title       string
	Enclosure   string
	Size        int64
	Description string
	Link        string
	PublishedAt time.Time
}

// titleRewriters normalize titles for sites that decorate them.
var titleRewriters = map[string]func(string) string{
	"pt.keepfrds.com": stripBracketed,
}

const DefaultTimeout = 30 * time.Second

type Source struct {
	client      *http.Client
	proxyClient *http.Client
	timeout     time.Duration
}

type Option func(*Source)

// WithHTTPClient overrides the client used for direct fetches.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Source) {
		if client != nil {
			s.client = client
		}
	}
}

// WithProxy routes fetches of proxied sites through proxyURL.
func WithProxy(proxyURL string) Option {
	return func(s *Source) {
		proxyURL = strings.TrimSpace(proxyURL)
		if proxyURL == "" {
			return
		}
		parsed, err := url.Parse(proxyURL)
		if err != nil {
			log.Warn().Err(err).Str("proxy", proxyURL).Msg("[feed] invalid proxy url, proxied sites will connect directly")
			return
		}
		s.proxyClient = &http.Client{Transport: &http.Transport{Proxy: http.ProxyURL(parsed)}}
	}
}

func NewSource(timeout time.Duration, opts ...Option) *Source {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	s := &Source{
		client:  &http.Client{},
		timeout: timeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Fetch downloads and parses the feed at feedURL. Failures are logged and
// yield an empty slice; items without a title or without any link are dropped.
func (s *Source) Fetch(ctx context.Context, feedURL string, useProxy bool) []Item {
	if strings.TrimSpace(feedURL) == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	parsed, err := s.download(ctx, feedURL, useProxy)
	if err != nil {
		log.Warn().Err(err).Str("url", redactURL(feedURL)).Msg("[feed] fetch failed")
		return nil
	}

	var rewrite func(string) string
	if u, err := url.Parse(feedURL); err == nil {
		rewrite = titleRewriters[strings.ToLower(u.Hostname())]
	}

	items := make([]Item, 0, len(parsed.Items))
	for _, entry := range parsed.Items {
		if entry == nil {
			continue
		}
		if item, ok := normalize(entry, rewrite); ok {
			items = append(items, item)
		}
	}
	return items
}

func (s *Source) download(ctx context.Context, feedURL string, useProxy bool) (*gofeed.Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", buildinfo.UserAgent)

	client := s.client
	if useProxy && s.proxyClient != nil {
		client = s.proxyClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	// gofeed parsers keep per-document state
	feed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	return feed, nil
}

func normalize(entry *gofeed.Item, rewrite func(string) string) (Item, bool) {
	title := strings.TrimSpace(entry.Title)
	if title == "" {
		return Item{}, false
	}
	if rewrite != nil {
		title = rewrite(title)
	}

	item := Item{
		Title:       title,
		Description: entry.Description,
		Link:        strings.TrimSpace(entry.Link),
	}

	for _, enc := range entry.Enclosures {
		if enc == nil || strings.TrimSpace(enc.URL) == "" {
			continue
		}
		item.Enclosure = strings.TrimSpace(enc.URL)
		item.Size = parseSize(enc.Length)
		break
	}

	if item.Enclosure == "" {
		if item.Link == "" {
			return Item{}, false
		}
		// link-only feeds: the link is the download
		item.Enclosure = item.Link
		item.Link = ""
	}

	if entry.PublishedParsed != nil {
		item.PublishedAt = entry.PublishedParsed.UTC()
	}

	return item, true
}

func parseSize(length string) int64 {
	length = strings.TrimSpace(length)
	if length == "" {
		return 0
	}
	for _, r := range length {
		if r < '0' || r > '9' {
			return 0
		}
	}
	n, err := strconv.ParseInt(length, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// stripBracketed removes [..] annotations, keeping the release name.
func stripBracketed(title string) string {
	var b strings.Builder
	depth := 0
	for _, r := range title {
		switch {
		case r == '[':
			depth++
		case r == ']' && depth > 0:
			depth--
		case depth == 0:
			b.WriteRune(r)
		}
	}
	out := strings.Join(strings.Fields(b.String()), " ")
	if out == "" {
		return title
	}
	return out
}

// redactURL drops the query string, which usually carries a passkey.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	u.RawQuery = ""
	u.User = nil
	return u.String()
}

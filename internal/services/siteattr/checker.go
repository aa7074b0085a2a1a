// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package siteattr

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/html"

	"github.com/autobrr/subrss/internal/buildinfo"
)

// Attributes are the promotion flags shown on a torrent's detail page.
type Attributes struct {
	Free       bool
	DoubleFree bool
	HitAndRun  bool
}

// Factors maps the attributes to download and upload ratio factors.
func (a Attributes) Factors() (download, upload float64) {
	switch {
	case a.DoubleFree:
		return 0, 2
	case a.Free:
		return 0, 1
	default:
		return 1, 1
	}
}

// Request describes the page to inspect.
type Request struct {
	PageURL   string
	Cookie    string
	UserAgent string
	UseProxy  bool
}

const maxPageBytes = 4 << 20

type Checker struct {
	client      *http.Client
	proxyClient *http.Client
}

func NewChecker(timeout time.Duration, proxyURL string) *Checker {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	c := &Checker{client: &http.Client{Timeout: timeout}}
	if proxyURL = strings.TrimSpace(proxyURL); proxyURL != "" {
		if parsed, err := url.Parse(proxyURL); err == nil {
			c.proxyClient = &http.Client{Timeout: timeout, Transport: &http.Transport{Proxy: http.ProxyURL(parsed)}}
		} else {
			log.Warn().Err(err).Msg("[siteattr] invalid proxy url")
		}
	}
	return c
}

// Check fetches the page and reports its promotion attributes. Errors yield
// zero attributes.
func (c *Checker) Check(ctx context.Context, req Request) Attributes {
	if strings.TrimSpace(req.PageURL) == "" {
		return Attributes{}
	}
	attrs, err := c.fetch(ctx, req)
	if err != nil {
		log.Debug().Err(err).Str("page", req.PageURL).Msg("[siteattr] could not read promotion attributes")
		return Attributes{}
	}
	return attrs
}

func (c *Checker) fetch(ctx context.Context, req Request) (Attributes, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.PageURL, nil)
	if err != nil {
		return Attributes{}, fmt.Errorf("build request: %w", err)
	}
	if req.Cookie != "" {
		httpReq.Header.Set("Cookie", req.Cookie)
	}
	ua := req.UserAgent
	if ua == "" {
		ua = buildinfo.UserAgent
	}
	httpReq.Header.Set("User-Agent", ua)

	client := c.client
	if req.UseProxy && c.proxyClient != nil {
		client = c.proxyClient
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return Attributes{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Attributes{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return Parse(io.LimitReader(resp.Body, maxPageBytes))
}

// Parse scans an HTML document for promotion markers in class, alt and title attributes.
func Parse(r io.Reader) (Attributes, error) {
	var attrs Attributes
	z := html.NewTokenizer(r)
	for {
		switch z.Next() {
		case html.ErrorToken:
			if err := z.Err(); err != nil && err != io.EOF {
				return attrs, err
			}
			return attrs, nil
		case html.StartTagToken, html.SelfClosingTagToken:
			for {
				key, val, more := z.TagAttr()
				switch string(key) {
				case "class", "alt", "title":
					classify(strings.ToLower(string(val)), &attrs)
				}
				if !more {
					break
				}
			}
		}
	}
}

func classify(v string, attrs *Attributes) {
	compact := strings.NewReplacer(" ", "", "_", "", "-", "").Replace(v)
	switch {
	case strings.Contains(compact, "free2up"), strings.Contains(compact, "2xfree"), strings.Contains(compact, "twoupfree"):
		attrs.DoubleFree = true
	case strings.Contains(compact, "profree"), compact == "free", strings.Contains(compact, "freeleech"):
		attrs.Free = true
	}
	if strings.Contains(compact, "hitandrun") || strings.Contains(v, "h&r") {
		attrs.HitAndRun = true
	}
}

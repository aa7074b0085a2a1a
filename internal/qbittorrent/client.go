// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package qbittorrent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/rs/zerolog/log"
)

// qBittorrent 5 (WebAPI 2.11) renamed the paused add option to stopped.
var stoppedMinVersion = semver.MustParse("2.11.0")

type Config struct {
	Host        string
	Username    string
	Password    string
	Tags        []string
	StartPaused bool
	Timeout     time.Duration
}

// Request is a single torrent to hand over.
type Request struct {
	URL      string
	SavePath string
	Category string
	Tags     []string
	Paused   bool
}

// Client adds torrents to a qBittorrent instance. It logs in lazily and
// again after a failed add.
type Client struct {
	cfg    Config
	client *qbt.Client

	mu              sync.Mutex
	loggedIn        bool
	webAPIVersion   string
	supportsStopped bool
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Client{
		cfg: cfg,
		client: qbt.NewClient(qbt.Config{
			Host:     cfg.Host,
			Username: cfg.Username,
			Password: cfg.Password,
			Timeout:  int(cfg.Timeout.Seconds()),
		}),
	}
}

func (c *Client) login(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loggedIn {
		return nil
	}

	if err := c.client.LoginCtx(ctx); err != nil {
		return fmt.Errorf("failed to connect to qBittorrent instance: %w", err)
	}
	c.loggedIn = true

	version, err := c.client.GetWebAPIVersionCtx(ctx)
	if err != nil {
		log.Warn().Err(err).Str("host", c.cfg.Host).Msg("[qbittorrent] failed to read WebAPI version")
		return nil
	}
	c.applyVersionLocked(strings.TrimSpace(version))
	return nil
}

func (c *Client) applyVersionLocked(version string) {
	c.webAPIVersion = version
	v, err := semver.NewVersion(version)
	if err != nil {
		log.Warn().Str("webAPIVersion", version).Err(err).Msg("[qbittorrent] failed to parse WebAPI version")
		return
	}
	c.supportsStopped = !v.LessThan(stoppedMinVersion)
}

// WebAPIVersion logs in if needed and returns the reported WebAPI version.
func (c *Client) WebAPIVersion(ctx context.Context) (string, error) {
	if err := c.login(ctx); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.webAPIVersion, nil
}

func (c *Client) options(req Request) map[string]string {
	options := map[string]string{}

	paused := req.Paused || c.cfg.StartPaused
	c.mu.Lock()
	stopped := c.supportsStopped
	c.mu.Unlock()
	if stopped {
		options["stopped"] = fmt.Sprintf("%t", paused)
	} else {
		options["paused"] = fmt.Sprintf("%t", paused)
	}

	if req.Category != "" {
		options["category"] = req.Category
	}
	if req.SavePath != "" {
		options["autoTMM"] = "false"
		options["savepath"] = req.SavePath
	}

	tags := append(append([]string(nil), c.cfg.Tags...), req.Tags...)
	if len(tags) > 0 {
		options["tags"] = strings.Join(tags, ",")
	}
	return options
}

// Add hands the torrent URL to qBittorrent.
func (c *Client) Add(ctx context.Context, req Request) error {
	url := strings.TrimSpace(req.URL)
	if url == "" {
		return fmt.Errorf("torrent url is required")
	}
	if err := c.login(ctx); err != nil {
		return err
	}

	err := c.client.AddTorrentFromUrlCtx(ctx, url, c.options(req))
	if err == nil {
		return nil
	}

	// the session may have expired
	c.mu.Lock()
	c.loggedIn = false
	c.mu.Unlock()
	if loginErr := c.login(ctx); loginErr != nil {
		return fmt.Errorf("add torrent: %w", err)
	}
	if err := c.client.AddTorrentFromUrlCtx(ctx, url, c.options(req)); err != nil {
		return fmt.Errorf("add torrent: %w", err)
	}
	return nil
}

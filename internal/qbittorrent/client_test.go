// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package qbittorrent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptions(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		version string
		req     Request
		want    map[string]string
	}{
		{
			name:    "legacy_paused_flag",
			cfg:     Config{Tags: []string{"subrss"}},
			version: "2.9.3",
			req:     Request{URL: "https://x/dl/1", Category: "tv"},
			want:    map[string]string{"paused": "false", "category": "tv", "tags": "subrss"},
		},
		{
			name:    "stopped_flag_on_v5",
			cfg:     Config{StartPaused: true},
			version: "2.11.2",
			req:     Request{URL: "https://x/dl/1", SavePath: "/data/tv", Tags: []string{"extra"}},
			want:    map[string]string{"stopped": "true", "autoTMM": "false", "savepath": "/data/tv", "tags": "extra"},
		},
		{
			name:    "unparseable_version_keeps_paused",
			version: "garbage",
			req:     Request{URL: "https://x/dl/1", Paused: true},
			want:    map[string]string{"paused": "true"},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			c := NewClient(tt.cfg)
			c.applyVersionLocked(tt.version)
			assert.Equal(t, tt.want, c.options(tt.req))
		})
	}
}

func TestAddRequiresURL(t *testing.T) {
	c := NewClient(Config{Host: "http://127.0.0.1:1"})
	err := c.Add(context.Background(), Request{URL: "  "})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "url is required")
}

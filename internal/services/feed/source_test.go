// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>alpha</title>
  <item>
    <title>Heat.1995.1080p.BluRay.x264-GROUP</title>
    <link>https://alpha.example/details/1</link>
    <description>crime</description>
    <enclosure url="https://alpha.example/dl/1" length="123456" type="application/x-bittorrent"/>
    <pubDate>Mon, 02 Jan 2006 15:04:05 GMT</pubDate>
  </item>
  <item>
    <title>Link.Only.2020.1080p-GRP</title>
    <link>https://alpha.example/dl/2</link>
  </item>
  <item>
    <title></title>
    <enclosure url="https://alpha.example/dl/3" length="1"/>
  </item>
  <item>
    <title>No.Links.Anywhere</title>
  </item>
  <item>
    <title>Bad.Size.2021</title>
    <enclosure url="https://alpha.example/dl/5" length="12 MB"/>
  </item>
</channel>
</rss>`

func TestFetchNormalizesItems(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("User-Agent"), "subrss/")
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(sampleFeed))
	}))
	t.Cleanup(server.Close)

	src := NewSource(time.Second)
	items := src.Fetch(context.Background(), server.URL+"/rss?passkey=secret", false)
	require.Len(t, items, 3)

	assert.Equal(t, "Heat.1995.1080p.BluRay.x264-GROUP", items[0].Title)
	assert.Equal(t, "https://alpha.example/dl/1", items[0].Enclosure)
	assert.Equal(t, "https://alpha.example/details/1", items[0].Link)
	assert.Equal(t, int64(123456), items[0].Size)
	assert.Equal(t, 2006, items[0].PublishedAt.Year())

	assert.Equal(t, "https://alpha.example/dl/2", items[1].Enclosure)
	assert.Empty(t, items[1].Link)
	assert.Zero(t, items[1].Size)

	assert.Equal(t, "Bad.Size.2021", items[2].Title)
	assert.Zero(t, items[2].Size)
}

func TestFetchFailuresYieldEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/slow":
			time.Sleep(200 * time.Millisecond)
			_, _ = w.Write([]byte(sampleFeed))
		case "/broken":
			_, _ = w.Write([]byte("<html>not a feed"))
		default:
			w.WriteHeader(http.StatusForbidden)
		}
	}))
	t.Cleanup(server.Close)

	src := NewSource(50 * time.Millisecond)
	ctx := context.Background()

	assert.Empty(t, src.Fetch(ctx, server.URL+"/slow", false))
	assert.Empty(t, src.Fetch(ctx, server.URL+"/broken", false))
	assert.Empty(t, src.Fetch(ctx, server.URL+"/forbidden", false))
	assert.Empty(t, src.Fetch(ctx, "", false))
}

func TestStripBracketed(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "Heat.1995.1080p.BluRay-GRP [Crime][Remux]", want: "Heat.1995.1080p.BluRay-GRP"},
		{in: "[Pack] Example.Show.S01", want: "Example.Show.S01"},
		{in: "[only]", want: "[only]"},
		{in: "Plain.Title", want: "Plain.Title"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, stripBracketed(tt.in))
	}
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "https://alpha.example/rss", redactURL("https://alpha.example/rss?passkey=abc"))
}

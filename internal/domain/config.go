// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import "strings"

// Config is the viper-unmarshalled application configuration.
type Config struct {
	Version       string
	Host          string `toml:"host" mapstructure:"host"`
	Port          int    `toml:"port" mapstructure:"port"`
	LogLevel      string `toml:"logLevel" mapstructure:"logLevel"`
	LogPath       string `toml:"logPath" mapstructure:"logPath"`
	LogMaxSize    int    `toml:"logMaxSize" mapstructure:"logMaxSize"`
	LogMaxBackups int    `toml:"logMaxBackups" mapstructure:"logMaxBackups"`
	DataDir       string `toml:"dataDir" mapstructure:"dataDir"`

	MetricsEnabled bool `toml:"metricsEnabled" mapstructure:"metricsEnabled"`

	// RSS run scheduling, in minutes. Zero disables the periodic trigger.
	RSSInterval             int `toml:"rssInterval" mapstructure:"rssInterval"`
	RSSSiteConcurrency      int `toml:"rssSiteConcurrency" mapstructure:"rssSiteConcurrency"`
	RSSFetchTimeout         int `toml:"rssFetchTimeout" mapstructure:"rssFetchTimeout"`
	RSSHistoryRetentionDays int `toml:"rssHistoryRetentionDays" mapstructure:"rssHistoryRetentionDays"`

	ProxyURL string `toml:"proxyUrl" mapstructure:"proxyUrl"`

	TMDBAPIKey       string `toml:"tmdbApiKey" mapstructure:"tmdbApiKey"`
	TMDBBaseURL      string `toml:"tmdbBaseUrl" mapstructure:"tmdbBaseUrl"`
	TMDBLanguage     string `toml:"tmdbLanguage" mapstructure:"tmdbLanguage"`
	ResolverCacheTTL int    `toml:"resolverCacheTtl" mapstructure:"resolverCacheTtl"`

	QBittorrentHost        string `toml:"qbittorrentHost" mapstructure:"qbittorrentHost"`
	QBittorrentUsername    string `toml:"qbittorrentUsername" mapstructure:"qbittorrentUsername"`
	QBittorrentPassword    string `toml:"qbittorrentPassword" mapstructure:"qbittorrentPassword"`
	QBittorrentTags        string `toml:"qbittorrentTags" mapstructure:"qbittorrentTags"`
	QBittorrentStartPaused bool   `toml:"qbittorrentStartPaused" mapstructure:"qbittorrentStartPaused"`

	Sites        []SiteConfig        `toml:"sites" mapstructure:"sites"`
	FilterGroups []FilterGroupConfig `toml:"filterGroups" mapstructure:"filterGroups"`
}

// SiteConfig describes one indexer site with an RSS feed.
type SiteConfig struct {
	Name       string `toml:"name" mapstructure:"name" json:"name"`
	RSSURL     string `toml:"rssUrl" mapstructure:"rssUrl" json:"rssUrl"`
	Cookie     string `toml:"cookie" mapstructure:"cookie" json:"cookie"`
	UserAgent  string `toml:"userAgent" mapstructure:"userAgent" json:"userAgent"`
	Parse      bool   `toml:"parse" mapstructure:"parse" json:"parse"`
	UseProxy   bool   `toml:"useProxy" mapstructure:"useProxy" json:"useProxy"`
	FilterRule string `toml:"filterRule" mapstructure:"filterRule" json:"filterRule"`
	Priority   int    `toml:"priority" mapstructure:"priority" json:"priority"`
	Disabled   bool   `toml:"disabled" mapstructure:"disabled" json:"disabled"`
}

// Order is the ranking weight of the site when several sites offer the same
// release. Higher is preferred; sites without a priority rank last.
func (s SiteConfig) Order() int {
	if s.Priority <= 0 {
		return 0
	}
	return 100 - s.Priority
}

// FilterGroupConfig is a named, ordered group of filter rules.
type FilterGroupConfig struct {
	Name  string             `toml:"name" mapstructure:"name"`
	Rules []FilterRuleConfig `toml:"rules" mapstructure:"rules"`
}

type FilterRuleConfig struct {
	Name     string   `toml:"name" mapstructure:"name"`
	Priority int      `toml:"priority" mapstructure:"priority"`
	Include  []string `toml:"include" mapstructure:"include"`
	Exclude  []string `toml:"exclude" mapstructure:"exclude"`
	SizeMin  float64  `toml:"sizeMin" mapstructure:"sizeMin"`
	SizeMax  float64  `toml:"sizeMax" mapstructure:"sizeMax"`
	FreeOnly bool     `toml:"freeOnly" mapstructure:"freeOnly"`
	Expr     string   `toml:"expr" mapstructure:"expr"`
}

// SiteByName returns the configured site with the given name (case-insensitive).
func (c *Config) SiteByName(name string) (SiteConfig, bool) {
	for _, s := range c.Sites {
		if strings.EqualFold(s.Name, name) {
			return s, true
		}
	}
	return SiteConfig{}, false
}

// RedactString masks secret values for API output.
func RedactString(s string) string {
	if s == "" {
		return ""
	}
	return "<redacted>"
}

func IsRedactedString(s string) bool {
	return s == "<redacted>"
}

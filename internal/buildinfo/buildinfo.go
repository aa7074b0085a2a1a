// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package buildinfo

import (
	"fmt"
	"runtime"
)

// Set via ldflags: -X github.com/autobrr/subrss/internal/buildinfo.Version=...
var (
	Version = "dev"
	Commit  = ""
	Date    = ""
)

var UserAgent = fmt.Sprintf("subrss/%s (%s %s)", Version, runtime.GOOS, runtime.GOARCH)

// String renders version, commit and build date for the version command.
func String() string {
	s := fmt.Sprintf("subrss %s", Version)
	if Commit != "" {
		s += fmt.Sprintf(" (%s)", Commit)
	}
	if Date != "" {
		s += fmt.Sprintf(" built %s", Date)
	}
	return s
}

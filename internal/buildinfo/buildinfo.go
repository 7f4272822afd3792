// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package buildinfo

import (
	"fmt"
	"runtime"
)

// Set during build via ldflags.
var (
	Version = "dev"
	Commit  = ""
	Date    = ""
)

// UserAgent is sent with every request to a target.
var UserAgent = fmt.Sprintf("trawl/%s (%s %s)", Version, runtime.GOOS, runtime.GOARCH)

// String renders the build metadata for the version command.
func String() string {
	s := "trawl " + Version
	if Commit != "" {
		s += " (" + Commit + ")"
	}
	if Date != "" {
		s += " built " + Date
	}
	return s
}

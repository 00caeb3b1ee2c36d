/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version carries the build-time identity of the voxegress
// binary, set via ldflags.
package version

// Version is the current version of voxegress.
//
//	-X github.com/example/voxegress/internal/version.Version=X.Y.Z
var Version = "0.1.0"

// GitCommit is the commit the binary was built from.
//
//	-X github.com/example/voxegress/internal/version.GitCommit=<sha>
var GitCommit = "unknown"

// BuildTime is the UTC build timestamp.
//
//	-X github.com/example/voxegress/internal/version.BuildTime=<rfc3339>
var BuildTime = "unknown"

// String formats the three build identifiers for a single log line or
// --version flag.
func String() string {
	return Version + " (commit " + GitCommit + ", built " + BuildTime + ")"
}

// Package version carries build metadata stamped in with -ldflags -X.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
	GoVersion = runtime.Version()
)

func init() {
	// go install builds carry VCS settings even without ldflags.
	if GitCommit != "unknown" {
		return
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			if s.Key == "vcs.revision" && s.Value != "" {
				GitCommit = s.Value
			}
		}
	}
}

// Info returns the build metadata keyed for JSON output.
func Info() map[string]string {
	return map[string]string{
		"version":   Version,
		"gitCommit": GitCommit,
		"buildTime": BuildTime,
		"goVersion": GoVersion,
	}
}

// String formats the metadata on one line for `flowwatch version`.
func String() string {
	return fmt.Sprintf("%s (commit %s, built %s, %s)", Version, shortCommit(GitCommit), BuildTime, GoVersion)
}

func shortCommit(c string) string {
	if len(c) > 7 {
		return c[:7]
	}
	return c
}

// Package version reports the build identity used in startup logs and
// user-agent strings.
package version

import "runtime/debug"

// AppName identifies this service in version strings.
const AppName = "memobase"

// commitOverride can be injected with -ldflags for builds without VCS
// metadata (container builds from exported sources).
var commitOverride string

// Commit is the short VCS revision, or "dev" when unknown.
var Commit = resolveCommit()

func resolveCommit() string {
	if commitOverride != "" {
		return short(commitOverride)
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && s.Value != "" {
				return short(s.Value)
			}
		}
	}
	return "dev"
}

func short(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}

// Full returns "memobase/<commit>".
func Full() string {
	return AppName + "/" + Commit
}

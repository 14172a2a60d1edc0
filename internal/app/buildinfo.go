package app

import (
	"runtime/debug"
	"strings"
	"time"
)

var (
	// Version and BuildDate are set with -ldflags -X in release builds.
	Version   = "dev"
	BuildDate = ""
)

// readBuildInfo is replaced in tests.
var readBuildInfo = debug.ReadBuildInfo

// BuildInfo identifies the running binary.
type BuildInfo struct {
	Version  string
	// Date is YYYY-MM-DD when it could be parsed, the raw value otherwise.
	Date     string
	Revision string
	Modified bool
}

// CurrentBuild merges the ldflags values with what the toolchain embedded.
// ldflags win; the module version and VCS stamps fill the gaps.
func CurrentBuild() BuildInfo {
	b := BuildInfo{
		Version: strings.TrimSpace(Version),
		Date:    buildDay(BuildDate),
	}
	if b.Version == "dev" {
		b.Version = ""
	}

	if info, ok := readBuildInfo(); ok && info != nil {
		if mv := strings.TrimSpace(info.Main.Version); b.Version == "" && mv != "(devel)" {
			b.Version = mv
		}
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				b.Revision = shortRevision(s.Value)
			case "vcs.time":
				if b.Date == "" {
					b.Date = buildDay(s.Value)
				}
			case "vcs.modified":
				b.Modified = s.Value == "true"
			}
		}
	}
	if b.Version == "" {
		b.Version = "dev"
	}
	return b
}

// BuildVersion is the version compared against the release feed.
func BuildVersion() string {
	return CurrentBuild().Version
}

// String renders e.g. "1.2.0 (2026-01-30, 3f2a9c1-dirty)".
func (b BuildInfo) String() string {
	var extra []string
	if b.Date != "" {
		extra = append(extra, b.Date)
	}
	if b.Revision != "" {
		rev := b.Revision
		if b.Modified {
			rev += "-dirty"
		}
		extra = append(extra, rev)
	}
	if len(extra) == 0 {
		return b.Version
	}
	return b.Version + " (" + strings.Join(extra, ", ") + ")"
}

func buildDay(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC().Format(time.DateOnly)
	}
	if len(raw) >= len(time.DateOnly) {
		if _, err := time.Parse(time.DateOnly, raw[:len(time.DateOnly)]); err == nil {
			return raw[:len(time.DateOnly)]
		}
	}
	return raw
}

func shortRevision(rev string) string {
	rev = strings.TrimSpace(rev)
	if len(rev) > 7 {
		return rev[:7]
	}
	return rev
}

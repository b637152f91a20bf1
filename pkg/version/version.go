// pkg/version/version.go - build information stamped into the up2date binaries.

package version

import (
	"fmt"
	"io"
	"runtime"
	"runtime/debug"
)

// Set with -ldflags "-X github.com/rtsoft/up2date/pkg/version.version=...".
var (
	version   = "dev"
	branch    = "unknown"
	revision  = "unknown"
	buildDate = "unknown"
)

// Info describes the running binary.
type Info struct {
	Version   string `json:"version" yaml:"version"`
	Branch    string `json:"branch" yaml:"branch"`
	Revision  string `json:"revision" yaml:"revision"`
	GoVersion string `json:"go_version" yaml:"go_version"`
	BuildDate string `json:"build_date" yaml:"build_date"`
	Modified  bool   `json:"modified,omitempty" yaml:"modified,omitempty"`
}

// Version returns the stamped values, completed from the embedded VCS
// settings when the binary was built without ldflags.
func Version() Info {
	info := Info{
		Version:   version,
		Branch:    branch,
		Revision:  revision,
		GoVersion: runtime.Version(),
		BuildDate: buildDate,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		fillFromBuildInfo(&info, bi)
	}
	return info
}

func fillFromBuildInfo(info *Info, bi *debug.BuildInfo) {
	if info.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.Revision == "unknown" {
				info.Revision = s.Value
			}
		case "vcs.time":
			if info.BuildDate == "unknown" {
				info.BuildDate = s.Value
			}
		case "vcs.modified":
			info.Modified = s.Value == "true"
		}
	}
}

// Fprint writes "<appName> <version>".
func Fprint(w io.Writer, appName string) {
	fmt.Fprintf(w, "%s %s\n", appName, Version().Version)
}

// FprintFull writes the application name and detailed version information.
func FprintFull(w io.Writer, appName string) {
	v := Version()
	fmt.Fprintf(w, "%s %s\n", appName, v.Version)
	fmt.Fprintf(w, "  branch: \t%s\n", v.Branch)
	fmt.Fprintf(w, "  revision: \t%s\n", v.Revision)
	if v.Modified {
		fmt.Fprintf(w, "  modified: \ttrue\n")
	}
	fmt.Fprintf(w, "  build date: \t%s\n", v.BuildDate)
	fmt.Fprintf(w, "  go version: \t%s\n", v.GoVersion)
}

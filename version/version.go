package version

// Core version of the prism projection engine.
const Core = "0.4.0"

// GitVersion is set at build time via -ldflags.
var GitVersion string

func String() string {
	if GitVersion == "" {
		return Core
	}
	return Core + "+git." + GitVersion
}

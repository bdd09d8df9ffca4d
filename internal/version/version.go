package version

import "runtime/debug"

// Version is the medsentry release string reported by the version command and
// the gateway. Release builds set it with -ldflags; otherwise the module
// version embedded by go install is used.
var Version = "dev"

func init() {
	if Version != "dev" {
		return
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		Version = info.Main.Version
	}
}

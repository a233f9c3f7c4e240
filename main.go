package main

import (
	"runtime"

	"dumpkeep/cmd"
)

// Version information (set by build flags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	cmd.SetVersionInfo(Version, BuildTime, GitCommit, runtime.Version())
	cmd.Execute()
}

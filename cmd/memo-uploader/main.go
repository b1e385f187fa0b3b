// Command memo-uploader tracks encounter progress from a stream of combat events and uploads a
// fight record for every finished attempt.
package main

import (
	"os"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev" //nolint:gochecknoglobals // set by the linker

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

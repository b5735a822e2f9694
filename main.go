package main

import (
	"os"

	"github.com/awnumar/memguard"

	"archivist/cmd"
)

// Version can be set during build with -ldflags
var version = "dev"

func main() {
	cmd.SetVersion(version)
	code := cmd.Execute()
	// Wipe key material before exiting; os.Exit skips deferred calls.
	memguard.Purge()
	os.Exit(code)
}

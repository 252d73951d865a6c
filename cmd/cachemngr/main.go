// Command cachemngr inspects and prunes the WMTS tile cache from a shell.
package main

import (
	"os"
)

var Version = "dev"

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}

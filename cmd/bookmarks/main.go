// Command bookmarks serves hybrid bookmark search over MCP (stdio) and HTTP,
// and imports or queries bookmarks from the command line.
package main

import (
	"fmt"
	"os"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Command conduit runs and administers the agent control plane.
package main

import (
	"fmt"
	"os"

	"conduit/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

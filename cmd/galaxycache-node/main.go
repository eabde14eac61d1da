// Command galaxycache-node runs a single node of a galaxycache cluster.
package main

import (
	"fmt"
	"os"

	"github.com/marmos91/galaxycache/cmd/galaxycache-node/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

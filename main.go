// ./main.go
package main

import (
	"github.com/klynelabs/uirunner/cmd"
)

// main is the entry point for the uirunner agent.
func main() {
	// Execute the root command defined in the cmd package.
	// This handles all command-line parsing, configuration, and execution.
	cmd.Execute()
}

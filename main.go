// The main package for the reelwatch executable.
package main

import (
	"github.com/reelwatch/reelwatch/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}

// The main package for the keywatch executable.
package main

import (
	"github.com/andr-235/keywatch/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}

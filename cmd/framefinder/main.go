// framefinder serves the eyewear shopping flow and virtual try-on.
package main

import (
	"os"

	"github.com/teslashibe/go-tryon/cmd/framefinder/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}

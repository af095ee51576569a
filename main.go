// The main package for the aggregator executable.
package main

import (
	"github.com/fedjobs/aggregator/cmd"
)

func main() {
	cmd.Execute()
}

// Command recall serves an interview candidate's experiences, technical
// notes, and previously given answers to an interview assistant over HTTP,
// MCP, or the command line.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/recall-go/cmd/recall/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

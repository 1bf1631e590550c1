// Package main is the dice command itself.
package main

import (
	"fmt"
	"os"

	dicecli "go.viam.com/dice/cli"
)

func main() {
	app := dicecli.NewApp(os.Stdout, os.Stderr)
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

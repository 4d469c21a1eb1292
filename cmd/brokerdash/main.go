// Command brokerdash runs the brokerage portfolio dashboard and its CLI.
package main

import (
	"fmt"
	"os"

	"brokerdash/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// Package main provides the leapmap CLI.
package main

import (
	"os"

	"github.com/leapstack-labs/leapmap/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}

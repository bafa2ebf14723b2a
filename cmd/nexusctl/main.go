// Package main is the nexusctl command line client.
package main

import (
	"os"

	"github.com/aristath/nexus/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

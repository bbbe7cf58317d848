// Package main is the entry point for convo, the HTTP conversation viewer.
package main

import (
	"fmt"
	"os"

	"firestige.xyz/convo/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

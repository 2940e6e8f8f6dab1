// Package main is the entry point for the vitalsyncd daemon CLI.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "vitalsyncd: %v\n", err)
		os.Exit(1)
	}
}

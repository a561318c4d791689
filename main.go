package main

import (
	"fmt"
	"os"

	"github.com/kilianp07/connopt/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "connopt:", err)
		os.Exit(1)
	}
}

package main

import (
	"fmt"
	"os"

	"github.com/joeydtaylor/hermes/pkg/config"
)

func main() {
	config.LoadEnvFiles()
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

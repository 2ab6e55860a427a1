package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// vim: ai:ts=8:sw=8:noet:syntax=go

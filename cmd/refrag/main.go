package main

import (
	"fmt"
	"os"
	"path/filepath"
)

var (
	version   = "dev"
	gitCommit string
	buildTime string
)

const appName = "refrag"

func formatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

func printVersion() {
	fmt.Printf("%s %s\n", appName, formatVersion())
	if buildTime != "" {
		fmt.Printf("built: %s\n", buildTime)
	}
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "refrag.json"
	}
	return filepath.Join(home, ".refrag", "config.json")
}

func main() {
	if err := executeCLI(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

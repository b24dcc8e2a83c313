package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

func binaryName() string {
	if len(os.Args) == 0 {
		return "agentdeck"
	}
	name := strings.TrimSpace(filepath.Base(os.Args[0]))
	if name == "" {
		return "agentdeck"
	}
	return name
}

func isHelpArg(arg string) bool {
	switch strings.ToLower(strings.TrimSpace(arg)) {
	case "-h", "--help", "-help", "help":
		return true
	default:
		return false
	}
}

func printRootUsage(w io.Writer) {
	bin := binaryName()
	fmt.Fprintf(w, `%s - agent run control panel

Usage:
  %s [command] [options]

Commands:
  panel       Interactive control panel (default)
  start       Launch an agent run
  stop        Kill a running agent
  runs        List runs
  export      Dump a run's raw events or a transcript
  serve       Expose the push feed over WebSocket
  agents      List the agent catalog
  prune       Remove old terminal runs now
  version     Print the version

Config:
  - --config is optional; by default we look for config.json in the
    current directory.

Help:
  %s -h
  %s <command> -h
`, bin, bin, bin, bin)
}

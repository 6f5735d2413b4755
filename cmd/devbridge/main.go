package main

import (
	"fmt"
	"io"
	"os"
)

// Version is set at build time via -ldflags.
// Example: go build -ldflags="-X main.Version=v0.1.0" ./cmd/devbridge
var Version = "dev"

const usage = `devbridge - remote-control bridge agent

Usage:
  devbridge <command> [options]

Commands:
  run              Start the agent and connect to a control server
  sessions list    List stored recording sessions
  sessions show <id>    Print one stored session as JSON
  sessions delete <id>  Delete a stored session

Run 'devbridge <command> --help' for more information on a command.
`

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		fmt.Fprint(stdout, usage)
		return 0
	}

	switch args[1] {
	case "run":
		return runAgent(args[2:], stdout, stderr)
	case "sessions":
		if len(args) < 3 {
			fmt.Fprintln(stdout, "Usage: devbridge sessions <list|show|delete>")
			return 1
		}
		switch args[2] {
		case "list":
			return runSessionsList(args[3:], stdout, stderr)
		case "show":
			return runSessionsShow(args[3:], stdout, stderr)
		case "delete":
			return runSessionsDelete(args[3:], stdout, stderr)
		default:
			fmt.Fprintf(stdout, "Unknown sessions command: %s\n", args[2])
			return 1
		}
	case "--help", "-h", "help":
		fmt.Fprint(stdout, usage)
		return 0
	case "--version", "-v", "version":
		fmt.Fprintf(stdout, "devbridge %s\n", Version)
		return 0
	default:
		fmt.Fprintf(stdout, "Unknown command: %s\n", args[1])
		fmt.Fprint(stdout, usage)
		return 1
	}
}

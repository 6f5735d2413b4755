package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/devbridge/agent/internal/config"
	"github.com/devbridge/agent/internal/storage"
)

// openStoreFromFlags resolves the recording database from --store or
// the config file. Returns nil and a printed error when no store is
// configured.
func openStoreFromFlags(name string, args []string, stderr io.Writer) (*storage.Store, []string, int) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to config file (default ~/.devbridge/config.toml)")
	storePath := fs.String("store", "", "Path to the recording database")
	if err := fs.Parse(args); err != nil {
		return nil, nil, 1
	}

	path := *storePath
	if path == "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return nil, nil, 1
		}
		path = cfg.Store
	}
	if path == "" {
		fmt.Fprintln(stderr, "Error: no recording store configured (use --store or set store in the config file)")
		return nil, nil, 1
	}

	store, err := storage.Open(path)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return nil, nil, 1
	}
	return store, fs.Args(), 0
}

func runSessionsList(args []string, stdout, stderr io.Writer) int {
	store, _, code := openStoreFromFlags("sessions list", args, stderr)
	if store == nil {
		return code
	}
	defer store.Close()

	infos, err := store.ListRecordings()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if len(infos) == 0 {
		fmt.Fprintln(stdout, "No stored recordings.")
		return 0
	}

	fmt.Fprintf(stdout, "%-36s  %-20s  %-24s  %8s\n", "ID", "NAME", "STARTED", "EVENTS")
	for _, info := range infos {
		started := time.UnixMilli(info.StartTime).Format(time.RFC3339)
		fmt.Fprintf(stdout, "%-36s  %-20s  %-24s  %8d\n", info.ID, info.Name, started, info.EventCount)
	}
	return 0
}

func runSessionsShow(args []string, stdout, stderr io.Writer) int {
	store, rest, code := openStoreFromFlags("sessions show", args, stderr)
	if store == nil {
		return code
	}
	defer store.Close()

	if len(rest) < 1 {
		fmt.Fprintln(stderr, "Usage: devbridge sessions show <id>")
		return 1
	}
	session, err := store.GetRecording(rest[0])
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	out, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, string(out))
	return 0
}

func runSessionsDelete(args []string, stdout, stderr io.Writer) int {
	store, rest, code := openStoreFromFlags("sessions delete", args, stderr)
	if store == nil {
		return code
	}
	defer store.Close()

	if len(rest) < 1 {
		fmt.Fprintln(stderr, "Usage: devbridge sessions delete <id>")
		return 1
	}
	if err := store.DeleteRecording(rest[0]); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Deleted recording %s\n", rest[0])
	return 0
}

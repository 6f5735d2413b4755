package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/devbridge/agent/internal/bridge"
	"github.com/devbridge/agent/internal/config"
	"github.com/devbridge/agent/internal/console"
	"github.com/devbridge/agent/internal/discovery"
	"github.com/devbridge/agent/internal/protocol"
	"github.com/devbridge/agent/internal/storage"
	"github.com/devbridge/agent/internal/tree/memtree"
)

// logWidget is the headless widget: state transitions and forced
// visibility go to the log instead of a screen.
type logWidget struct{}

func (logWidget) ForceVisible() {
	log.Printf("widget: forced visible by remote command")
}

func (logWidget) StateChanged(s bridge.State) {
	log.Printf("widget: state is now %s", s)
}

// runAgent starts the bridge over a simulated host tree and keeps it
// running until interrupted or killed through arbitration.
func runAgent(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to config file (default ~/.devbridge/config.toml)")
	endpoint := fs.String("endpoint", "", "Control server WebSocket URL")
	store := fs.String("store", "", "Path to the recording database")
	reconnectMs := fs.Int("reconnect-delay-ms", 0, "Fixed delay between reconnect attempts")
	allowEval := fs.Bool("allow-eval", false, "Enable the eval channel (read-only selector evaluator)")
	discover := fs.Bool("discover", false, "Browse mDNS for a control server instead of using --endpoint")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	// CLI flags take precedence over file values.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "endpoint":
			cfg.Endpoint = *endpoint
		case "store":
			cfg.Store = *store
		case "reconnect-delay-ms":
			cfg.ReconnectDelayMs = *reconnectMs
		case "allow-eval":
			cfg.AllowEval = *allowEval
		case "discover":
			cfg.Discover = *discover
		}
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	cfg.ApplyDefaults()

	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			fmt.Fprintf(stderr, "Error: open log file: %v\n", err)
			return 1
		}
		defer f.Close()
		log.SetOutput(f)
	}

	if cfg.Discover {
		discovered, err := discoverEndpoint(time.Duration(cfg.DiscoverTimeoutMs) * time.Millisecond)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		cfg.Endpoint = discovered
	}

	var recordings *storage.Store
	if cfg.Store != "" {
		recordings, err = storage.Open(cfg.Store)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		defer recordings.Close()
	}

	scene := buildScene()
	opts := bridge.Options{
		Endpoint:        cfg.Endpoint,
		ReconnectDelay:  time.Duration(cfg.ReconnectDelayMs) * time.Millisecond,
		ConsoleCapacity: cfg.ConsoleCapacity,
		Tree:            scene,
		Navigator:       scene,
		Surface:         console.NewSurface(),
		Widget:          logWidget{},
		Store:           recordings,
		AllowEval:       cfg.AllowEval,
	}
	if cfg.AllowEval {
		opts.Evaluator = bridge.NewSelectorEvaluator(scene)
	}

	b := bridge.New(opts)
	fmt.Fprintf(stdout, "devbridge instance %s connecting to %s\n", b.InstanceID(), cfg.Endpoint)
	if err := b.Connect(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		log.Printf("devbridge: received %s, shutting down", s)
		b.Kill()
	case <-b.Done():
		log.Printf("devbridge: instance killed")
	}
	return 0
}

// discoverEndpoint browses the local network and returns the first
// advertised control server.
func discoverEndpoint(timeout time.Duration) (string, error) {
	log.Printf("devbridge: browsing mDNS for a control server (%s)", timeout)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	servers, err := discovery.Discover(ctx)
	if err != nil {
		return "", fmt.Errorf("discovery failed: %w", err)
	}
	if len(servers) == 0 {
		return "", fmt.Errorf("no control server found on the local network")
	}
	server := servers[0]
	log.Printf("devbridge: discovered %s at %s", server.Name, server.Endpoint())
	return server.Endpoint(), nil
}

func rect(x, y, w, h float64) protocol.Rect {
	return protocol.Rect{X: x, Y: y, Width: w, Height: h}
}

// buildScene assembles the simulated host tree the agent controls: a
// small login form plus a sidebar, enough surface for queries, watches
// and synthetic events.
func buildScene() *memtree.Tree {
	scene := memtree.New("document", "app://playground", "Playground")

	header := scene.Append(nil, memtree.Spec{
		Kind: "header", ID: "top",
		Bounds: rect(0, 0, 800, 60),
	})
	scene.Append(header, memtree.Spec{
		Kind: "heading", Text: "Playground",
		Bounds: rect(10, 10, 200, 40),
	})

	form := scene.Append(nil, memtree.Spec{
		Kind: "form", Attrs: map[string]string{"name": "login"},
		Bounds: rect(100, 100, 400, 220),
	})
	scene.Append(form, memtree.Spec{
		Kind: "input", ID: "email",
		Attrs:  map[string]string{"name": "email", "type": "text"},
		Bounds: rect(120, 120, 360, 32),
	})
	scene.Append(form, memtree.Spec{
		Kind: "input", ID: "password",
		Attrs:  map[string]string{"name": "password", "type": "password"},
		Bounds: rect(120, 170, 360, 32),
	})
	scene.Append(form, memtree.Spec{
		Kind: "button", ID: "submit", Text: "Sign in",
		Attrs:  map[string]string{"type": "submit"},
		Bounds: rect(120, 230, 120, 40),
	})

	sidebar := scene.Append(nil, memtree.Spec{
		Kind: "nav", ID: "sidebar",
		Bounds: rect(600, 100, 180, 400),
	})
	for _, label := range []string{"Home", "Reports", "Settings"} {
		scene.Append(sidebar, memtree.Spec{
			Kind: "item", Text: label,
			Attrs: map[string]string{"role": "link"},
		})
	}
	return scene
}

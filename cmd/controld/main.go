// Command controld is a development control-server harness. It accepts
// bridge agents over WebSocket, prints every frame they send, and
// forwards operator-typed JSON lines to the most recently connected
// agent. It exists to exercise an agent end to end without a full
// control plane.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/devbridge/agent/internal/discovery"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// A dev harness accepts any origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// hub tracks the connected agents. Operator input goes to the most
// recent one.
type hub struct {
	mu     sync.Mutex
	agents []*websocket.Conn
}

func (h *hub) add(conn *websocket.Conn) {
	h.mu.Lock()
	h.agents = append(h.agents, conn)
	h.mu.Unlock()
}

func (h *hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	for i, c := range h.agents {
		if c == conn {
			h.agents = append(h.agents[:i], h.agents[i+1:]...)
			break
		}
	}
	h.mu.Unlock()
}

func (h *hub) latest() *websocket.Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.agents) == 0 {
		return nil
	}
	return h.agents[len(h.agents)-1]
}

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("controld", flag.ContinueOnError)
	fs.SetOutput(stderr)
	addr := fs.String("addr", "127.0.0.1:8420", "Listen address")
	path := fs.String("path", "/bridge", "WebSocket endpoint path")
	mdns := fs.Bool("mdns", false, "Advertise the server via mDNS")
	name := fs.String("name", "", "mDNS instance name (default hostname)")
	if err := fs.Parse(args[1:]); err != nil {
		return 1
	}

	h := &hub{}
	mux := http.NewServeMux()
	mux.HandleFunc(*path, func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("controld: upgrade failed: %v", err)
			return
		}
		log.Printf("controld: agent connected from %s", conn.RemoteAddr())
		h.add(conn)
		go readAgent(h, conn, stdout)
	})

	if *mdns {
		port := portOf(*addr)
		adv := discovery.NewAdvertiser(discovery.AdvertiseConfig{
			Port: port,
			Path: *path,
			Name: *name,
		})
		if err := adv.Start(); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		defer adv.Stop()
		log.Printf("controld: advertising %s on port %d", discovery.ServiceType, port)
	}

	go forwardStdin(h, os.Stdin, stderr)

	fmt.Fprintf(stdout, "controld listening on ws://%s%s\n", *addr, *path)
	if err := http.ListenAndServe(*addr, mux); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// readAgent prints every frame an agent sends, pretty-printed when it
// is valid JSON.
func readAgent(h *hub, conn *websocket.Conn, stdout io.Writer) {
	defer func() {
		h.remove(conn)
		conn.Close()
		log.Printf("controld: agent %s disconnected", conn.RemoteAddr())
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var pretty map[string]any
		if json.Unmarshal(data, &pretty) == nil {
			out, _ := json.MarshalIndent(pretty, "", "  ")
			fmt.Fprintf(stdout, "<< %s\n", out)
		} else {
			fmt.Fprintf(stdout, "<< %s\n", data)
		}
	}
}

// forwardStdin sends each operator-typed JSON line to the most recently
// connected agent.
func forwardStdin(h *hub, in io.Reader, stderr io.Writer) {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !json.Valid([]byte(line)) {
			fmt.Fprintf(stderr, "controld: not JSON, ignored: %s\n", line)
			continue
		}
		conn := h.latest()
		if conn == nil {
			fmt.Fprintln(stderr, "controld: no agent connected")
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
			fmt.Fprintf(stderr, "controld: send failed: %v\n", err)
		}
	}
}

// portOf extracts the numeric port of a listen address.
func portOf(addr string) int {
	idx := strings.LastIndex(addr, ":")
	if idx < 0 {
		return 0
	}
	port, err := strconv.Atoi(addr[idx+1:])
	if err != nil {
		return 0
	}
	return port
}

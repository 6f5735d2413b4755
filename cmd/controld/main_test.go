package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestRunInvalidFlag(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"controld", "--addr"}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if stderr.Len() == 0 {
		t.Fatal("expected error output for invalid flag")
	}
}

func TestPortOf(t *testing.T) {
	tests := []struct {
		addr string
		want int
	}{
		{"127.0.0.1:8420", 8420},
		{":9000", 9000},
		{"no-port", 0},
		{"host:bad", 0},
	}
	for _, tt := range tests {
		if got := portOf(tt.addr); got != tt.want {
			t.Errorf("portOf(%q) = %d, want %d", tt.addr, got, tt.want)
		}
	}
}

func TestHubLatest(t *testing.T) {
	h := &hub{}
	if h.latest() != nil {
		t.Fatal("empty hub returned a connection")
	}
}

func TestForwardStdinRejectsGarbage(t *testing.T) {
	h := &hub{}
	var stderr bytes.Buffer
	forwardStdin(h, strings.NewReader("not json\n{\"id\":\"1\",\"channel\":\"dom\"}\n"), &stderr)

	out := stderr.String()
	if !strings.Contains(out, "not JSON") {
		t.Fatalf("garbage line not rejected: %q", out)
	}
	if !strings.Contains(out, "no agent connected") {
		t.Fatalf("valid line with no agent not reported: %q", out)
	}
}

package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/devbridge/agent/internal/console"
	"github.com/devbridge/agent/internal/errors"
	"github.com/devbridge/agent/internal/protocol"
	"github.com/devbridge/agent/internal/tree"
	"github.com/devbridge/agent/internal/tree/memtree"
)

// fakeTransport is an in-process Transport that records outbound frames
// and lets tests inject inbound traffic and connection loss.
type fakeTransport struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool

	onFrame   func([]byte)
	onClose   func(error)
	closeOnce sync.Once
}

func (f *fakeTransport) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New(errors.CodeTransportSendFailed, "transport is closed")
	}
	f.frames = append(f.frames, append([]byte(nil), data...))
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.closeOnce.Do(func() {
		if f.onClose != nil {
			f.onClose(errors.New(errors.CodeTransportClosed, "closed locally"))
		}
	})
	return nil
}

// deliver injects one inbound frame, as if the server sent it.
func (f *fakeTransport) deliver(data []byte) {
	f.onFrame(data)
}

// drop simulates the connection dying underneath the bridge.
func (f *fakeTransport) drop() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.closeOnce.Do(func() {
		f.onClose(errors.New(errors.CodeTransportClosed, "connection reset"))
	})
}

func (f *fakeTransport) sent() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.frames...)
}

// fakeNetwork hands out fakeTransports to the bridge's dial loop and
// can be told to fail the first N attempts.
type fakeNetwork struct {
	mu       sync.Mutex
	failures int
	dials    int
	current  *fakeTransport
}

func (n *fakeNetwork) dialer() Dialer {
	return func(ctx context.Context, endpoint string, onFrame func([]byte), onClose func(error)) (Transport, error) {
		n.mu.Lock()
		defer n.mu.Unlock()
		n.dials++
		if n.failures > 0 {
			n.failures--
			return nil, errors.New(errors.CodeTransportDialFailed, "dial refused")
		}
		ft := &fakeTransport{onFrame: onFrame, onClose: onClose}
		n.current = ft
		return ft, nil
	}
}

func (n *fakeNetwork) transport() *fakeTransport {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current
}

func (n *fakeNetwork) dialCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dials
}

type fakeWidget struct {
	mu      sync.Mutex
	visible int
	states  []State
}

func (w *fakeWidget) ForceVisible() {
	w.mu.Lock()
	w.visible++
	w.mu.Unlock()
}

func (w *fakeWidget) StateChanged(s State) {
	w.mu.Lock()
	w.states = append(w.states, s)
	w.mu.Unlock()
}

func (w *fakeWidget) visibleCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.visible
}

func (w *fakeWidget) stateHistory() []State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]State(nil), w.states...)
}

type harness struct {
	tree    *memtree.Tree
	surface *console.Surface
	widget  *fakeWidget
	network *fakeNetwork
	bridge  *Bridge
}

func silentSurface() *console.Surface {
	return &console.Surface{
		Debug: func(...any) {}, Log: func(...any) {}, Info: func(...any) {},
		Warn: func(...any) {}, Error: func(...any) {},
	}
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()

	mt := memtree.New("document", "app://main", "Main")
	form := mt.Append(nil, memtree.Spec{Kind: "form", Attrs: map[string]string{"name": "login"}})
	mt.Append(form, memtree.Spec{Kind: "button", ID: "submit", Text: "Submit"})
	mt.Append(form, memtree.Spec{Kind: "input", ID: "email", Value: "a@b.c"})

	network := &fakeNetwork{}
	widget := &fakeWidget{}
	surface := silentSurface()

	opts := Options{
		Endpoint:       "ws://test.invalid/bridge",
		ReconnectDelay: 10 * time.Millisecond,
		Tree:           mt,
		Navigator:      mt,
		Surface:        surface,
		Widget:         widget,
		Dialer:         network.dialer(),
	}
	if mutate != nil {
		mutate(&opts)
	}

	b := New(opts)
	t.Cleanup(b.Kill)
	return &harness{tree: mt, surface: surface, widget: widget, network: network, bridge: b}
}

// waitFor polls until cond is true or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// connect starts the bridge and waits until the transport is live.
func (h *harness) connect(t *testing.T) *fakeTransport {
	t.Helper()
	if err := h.bridge.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitFor(t, "connected state", func() bool { return h.bridge.State() == StateConnected })

	var ft *fakeTransport
	waitFor(t, "live transport", func() bool {
		ft = h.network.transport()
		return ft != nil
	})
	// The announcement is the last step of transport-open; once it is on
	// the wire the interceptor is installed and the bridge is fully live.
	waitFor(t, "announcement", func() bool {
		return len(notificationsFor(ft, protocol.ChannelSystem, protocol.ActionConnected)) >= 1
	})
	return ft
}

func mustFrame(t *testing.T, id, channel, action string, payload any, source protocol.Source) []byte {
	t.Helper()
	msg, err := protocol.NewMessage(id, channel, action, payload, source)
	if err != nil {
		t.Fatalf("build message: %v", err)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal message: %v", err)
	}
	return data
}

// responseFor scans the sent frames for the Response settling id.
func responseFor(ft *fakeTransport, id string) *protocol.Response {
	for _, frame := range ft.sent() {
		if protocol.ClassifyFrame(frame) != protocol.FrameResponse {
			continue
		}
		var resp protocol.Response
		if json.Unmarshal(frame, &resp) == nil && resp.ID == id {
			return &resp
		}
	}
	return nil
}

// notificationsFor scans the sent frames for Messages on channel.action.
func notificationsFor(ft *fakeTransport, channel, action string) []protocol.Message {
	var out []protocol.Message
	for _, frame := range ft.sent() {
		if protocol.ClassifyFrame(frame) != protocol.FrameMessage {
			continue
		}
		var msg protocol.Message
		if json.Unmarshal(frame, &msg) == nil && msg.Channel == channel && msg.Action == action {
			out = append(out, msg)
		}
	}
	return out
}

func awaitResponse(t *testing.T, ft *fakeTransport, id string) *protocol.Response {
	t.Helper()
	var resp *protocol.Response
	waitFor(t, "response for "+id, func() bool {
		resp = responseFor(ft, id)
		return resp != nil
	})
	return resp
}

func TestConnectAnnouncesInstance(t *testing.T) {
	h := newHarness(t, nil)
	ft := h.connect(t)

	var announce []protocol.Message
	waitFor(t, "system.connected announcement", func() bool {
		announce = notificationsFor(ft, protocol.ChannelSystem, protocol.ActionConnected)
		return len(announce) == 1
	})

	var payload protocol.ConnectedPayload
	if err := json.Unmarshal(announce[0].Payload, &payload); err != nil {
		t.Fatalf("decode announcement: %v", err)
	}
	if payload.InstanceID != h.bridge.InstanceID() {
		t.Fatalf("announced %q, want instance %q", payload.InstanceID, h.bridge.InstanceID())
	}
	if payload.Location != "app://main" || payload.Title != "Main" {
		t.Fatalf("announcement location/title wrong: %+v", payload)
	}
	if announce[0].Source != protocol.SourceAgent {
		t.Fatalf("announcement source = %q, want agent", announce[0].Source)
	}
	if !h.bridge.interceptor.Installed() {
		t.Fatal("interceptor not installed on connect")
	}
}

func TestConnectRetriesWithFixedDelay(t *testing.T) {
	h := newHarness(t, nil)
	h.network.failures = 2

	if err := h.bridge.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitFor(t, "connected after retries", func() bool { return h.bridge.State() == StateConnected })

	if got := h.network.dialCount(); got != 3 {
		t.Fatalf("expected 3 dial attempts, got %d", got)
	}
}

func TestQueryCommandProducesOneResponse(t *testing.T) {
	h := newHarness(t, nil)
	ft := h.connect(t)

	ft.deliver(mustFrame(t, "m1", protocol.ChannelDOM, protocol.ActionQuery,
		protocol.QueryPayload{Selector: "#submit"}, protocol.SourceClient))

	resp := awaitResponse(t, ft, "m1")
	if !resp.Success {
		t.Fatalf("query failed: %s", resp.Error)
	}

	data, _ := json.Marshal(resp.Data)
	var descriptors []protocol.Descriptor
	if err := json.Unmarshal(data, &descriptors); err != nil {
		t.Fatalf("decode descriptors: %v", err)
	}
	if len(descriptors) != 1 || descriptors[0].ID != "submit" {
		t.Fatalf("unexpected query result: %+v", descriptors)
	}
}

func TestCommandErrorsCarryStableCodes(t *testing.T) {
	h := newHarness(t, nil)
	ft := h.connect(t)

	tests := []struct {
		name     string
		frame    []byte
		wantCode string
	}{
		{
			"unknown_channel",
			mustFrame(t, "e1", "telemetry", "push", nil, protocol.SourceClient),
			errors.CodeProtocolUnknownChannel,
		},
		{
			"unknown_action",
			mustFrame(t, "e2", protocol.ChannelDOM, "mutate", nil, protocol.SourceClient),
			errors.CodeProtocolUnknownAction,
		},
		{
			"malformed_selector",
			mustFrame(t, "e3", protocol.ChannelDOM, protocol.ActionQuery,
				protocol.QueryPayload{Selector: "button[name"}, protocol.SourceClient),
			errors.CodeQueryMalformedSelector,
		},
		{
			"no_match",
			mustFrame(t, "e4", protocol.ChannelDOM, protocol.ActionQuery,
				protocol.QueryPayload{Selector: "#vanished"}, protocol.SourceClient),
			errors.CodeQueryNoMatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ft.deliver(tt.frame)
			var msg protocol.Message
			json.Unmarshal(tt.frame, &msg)
			resp := awaitResponse(t, ft, msg.ID)
			if resp.Success {
				t.Fatal("expected a failure response")
			}
			if got := resp.Error; len(got) < len(tt.wantCode) || got[:len(tt.wantCode)] != tt.wantCode {
				t.Fatalf("error %q does not carry code %q", got, tt.wantCode)
			}
		})
	}
}

func TestMalformedFramesSilentlyDropped(t *testing.T) {
	h := newHarness(t, nil)
	ft := h.connect(t)

	before := len(ft.sent())
	ft.deliver([]byte(`{not json`))
	ft.deliver([]byte(`{"neither":"channel","nor":"success"}`))

	// A valid command afterwards still works and is the only response.
	ft.deliver(mustFrame(t, "m1", protocol.ChannelDOM, protocol.ActionQuery,
		protocol.QueryPayload{Selector: "#email"}, protocol.SourceClient))
	awaitResponse(t, ft, "m1")

	responses := 0
	for _, frame := range ft.sent()[before:] {
		if protocol.ClassifyFrame(frame) == protocol.FrameResponse {
			responses++
		}
	}
	if responses != 1 {
		t.Fatalf("expected exactly 1 response after malformed frames, got %d", responses)
	}
}

func TestPausedDropsCommandsButSettlesResponses(t *testing.T) {
	h := newHarness(t, nil)
	ft := h.connect(t)

	if err := h.bridge.Pause(); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}

	// Commands are dropped without a response.
	ft.deliver(mustFrame(t, "p1", protocol.ChannelDOM, protocol.ActionQuery,
		protocol.QueryPayload{Selector: "#submit"}, protocol.SourceClient))
	time.Sleep(50 * time.Millisecond)
	if responseFor(ft, "p1") != nil {
		t.Fatal("paused bridge responded to a command")
	}

	// Inbound responses still settle pending requests.
	done := make(chan error, 1)
	go func() {
		resp, err := h.bridge.Request(context.Background(), protocol.ChannelSystem, "status", nil)
		if err == nil && !resp.Success {
			err = errors.New(errors.CodeUnknown, resp.Error)
		}
		done <- err
	}()

	var reqID string
	waitFor(t, "outbound request", func() bool {
		for _, frame := range ft.sent() {
			var msg protocol.Message
			if protocol.ClassifyFrame(frame) == protocol.FrameMessage &&
				json.Unmarshal(frame, &msg) == nil && msg.Action == "status" {
				reqID = msg.ID
				return true
			}
		}
		return false
	})
	settle, _ := json.Marshal(protocol.OK(reqID, nil))
	ft.deliver(settle)
	if err := <-done; err != nil {
		t.Fatalf("pending request not settled while paused: %v", err)
	}

	// Resume and the dropped command can be reissued.
	if err := h.bridge.Resume(); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	ft.deliver(mustFrame(t, "p2", protocol.ChannelDOM, protocol.ActionQuery,
		protocol.QueryPayload{Selector: "#submit"}, protocol.SourceClient))
	awaitResponse(t, ft, "p2")
}

func TestForeignAnnouncementKillsInstance(t *testing.T) {
	h := newHarness(t, nil)
	ft := h.connect(t)

	// Arbitration applies even while paused.
	if err := h.bridge.Pause(); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}

	ft.deliver(mustFrame(t, "a1", protocol.ChannelSystem, protocol.ActionConnected,
		protocol.ConnectedPayload{InstanceID: "other-instance"}, protocol.SourceAgent))

	waitFor(t, "self-kill", func() bool { return h.bridge.State() == StateKilled })
	if h.bridge.interceptor.Installed() {
		t.Fatal("interceptor not restored on kill")
	}
	if h.bridge.watcher.ActiveCount() != 0 {
		t.Fatal("watchers survived kill")
	}
	// Announcements never get a Response.
	if responseFor(ft, "a1") != nil {
		t.Fatal("announcement was answered with a response")
	}
}

func TestOwnAnnouncementIgnored(t *testing.T) {
	h := newHarness(t, nil)
	ft := h.connect(t)

	ft.deliver(mustFrame(t, "a1", protocol.ChannelSystem, protocol.ActionConnected,
		protocol.ConnectedPayload{InstanceID: h.bridge.InstanceID()}, protocol.SourceAgent))

	time.Sleep(50 * time.Millisecond)
	if h.bridge.State() != StateConnected {
		t.Fatalf("own announcement changed state to %s", h.bridge.State())
	}
}

func TestKillSettlesPendingExactlyOnce(t *testing.T) {
	h := newHarness(t, nil)
	ft := h.connect(t)

	done := make(chan error, 1)
	go func() {
		_, err := h.bridge.Request(context.Background(), protocol.ChannelSystem, "status", nil)
		done <- err
	}()

	var reqID string
	waitFor(t, "outbound request", func() bool {
		for _, frame := range ft.sent() {
			var msg protocol.Message
			if protocol.ClassifyFrame(frame) == protocol.FrameMessage &&
				json.Unmarshal(frame, &msg) == nil && msg.Action == "status" {
				reqID = msg.ID
				return true
			}
		}
		return false
	})

	h.bridge.Kill()

	err := <-done
	if !errors.IsCode(err, errors.CodeTransportKilled) {
		t.Fatalf("expected transport.killed, got %v", err)
	}

	// A late response for the already-settled request is discarded.
	late, _ := json.Marshal(protocol.OK(reqID, nil))
	ft.deliver(late)

	select {
	case err := <-done:
		t.Fatalf("request settled twice: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTransportLossRejectsPendingAndReconnects(t *testing.T) {
	h := newHarness(t, nil)
	ft := h.connect(t)

	done := make(chan error, 1)
	go func() {
		_, err := h.bridge.Request(context.Background(), protocol.ChannelSystem, "status", nil)
		done <- err
	}()
	waitFor(t, "outbound request", func() bool { return len(ft.sent()) >= 2 })

	ft.drop()

	if err := <-done; !errors.IsCode(err, errors.CodeTransportClosed) {
		t.Fatalf("expected transport.closed, got %v", err)
	}

	// The bridge reconnects after the fixed delay and re-announces.
	waitFor(t, "reconnect", func() bool {
		return h.network.dialCount() >= 2 && h.bridge.State() == StateConnected
	})
	ft2 := h.network.transport()
	if ft2 == ft {
		t.Fatal("bridge did not dial a new transport")
	}
	waitFor(t, "re-announcement", func() bool {
		return len(notificationsFor(ft2, protocol.ChannelSystem, protocol.ActionConnected)) == 1
	})
}

func TestCommandsProcessedInDeliveryOrder(t *testing.T) {
	h := newHarness(t, nil)
	ft := h.connect(t)

	// A watch followed immediately by a dispatch must observe the
	// dispatched event: commands are processed strictly in the order the
	// transport delivered them.
	const rounds = 20
	for i := 0; i < rounds; i++ {
		watchID := fmt.Sprintf("w%d", i)
		dispatchID := fmt.Sprintf("d%d", i)
		ft.deliver(mustFrame(t, watchID, protocol.ChannelEvents, protocol.ActionWatch,
			protocol.WatchPayload{Selector: "#submit", Events: []string{"pointerdown"}}, protocol.SourceClient))
		ft.deliver(mustFrame(t, dispatchID, protocol.ChannelEvents, protocol.ActionDispatch,
			protocol.DispatchPayload{Selector: "#submit", Type: "pointerdown"}, protocol.SourceClient))

		if resp := awaitResponse(t, ft, dispatchID); !resp.Success {
			t.Fatalf("round %d: dispatch failed: %s", i, resp.Error)
		}
		captured := notificationsFor(ft, protocol.ChannelEvents, protocol.ActionCaptured)
		if len(captured) != i+1 {
			t.Fatalf("round %d: %d captures, want %d (dispatch ran before its watch)",
				i, len(captured), i+1)
		}

		// Remove the watch so every round observes exactly one capture.
		watchResp := awaitResponse(t, ft, watchID)
		var result protocol.WatchResult
		data, _ := json.Marshal(watchResp.Data)
		if err := json.Unmarshal(data, &result); err != nil || result.WatchID == "" {
			t.Fatalf("round %d: no watch id in %v", i, watchResp.Data)
		}
		unwatchID := fmt.Sprintf("u%d", i)
		ft.deliver(mustFrame(t, unwatchID, protocol.ChannelEvents, protocol.ActionUnwatch,
			protocol.UnwatchPayload{WatchID: result.WatchID}, protocol.SourceClient))
		awaitResponse(t, ft, unwatchID)
	}
}

func TestTransportLossEntersDisconnectedFirst(t *testing.T) {
	h := newHarness(t, nil)
	ft := h.connect(t)

	ft.drop()
	waitFor(t, "reconnect", func() bool { return h.bridge.State() == StateConnected })

	want := []State{StateConnecting, StateConnected, StateDisconnected, StateConnecting, StateConnected}
	got := h.widget.stateHistory()
	if len(got) != len(want) {
		t.Fatalf("state history %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("state history %v, want %v", got, want)
		}
	}
}

func TestResponseCorrelationOutOfOrder(t *testing.T) {
	h := newHarness(t, nil)
	ft := h.connect(t)

	type result struct {
		resp *protocol.Response
		err  error
	}
	run := func(action string, out chan result) {
		resp, err := h.bridge.Request(context.Background(), protocol.ChannelSystem, action, nil)
		out <- result{resp, err}
	}
	first := make(chan result, 1)
	second := make(chan result, 1)
	go run("first", first)
	go run("second", second)

	ids := map[string]string{} // action -> message id
	waitFor(t, "both requests on the wire", func() bool {
		for _, frame := range ft.sent() {
			var msg protocol.Message
			if protocol.ClassifyFrame(frame) == protocol.FrameMessage &&
				json.Unmarshal(frame, &msg) == nil && msg.Channel == protocol.ChannelSystem &&
				msg.Action != protocol.ActionConnected {
				ids[msg.Action] = msg.ID
			}
		}
		return len(ids) == 2
	})

	// Settle in reverse order with distinguishable data.
	settle := func(action string) {
		data, _ := json.Marshal(protocol.OK(ids[action], action))
		ft.deliver(data)
	}
	settle("second")
	settle("first")

	r1 := <-first
	r2 := <-second
	if r1.err != nil || r2.err != nil {
		t.Fatalf("requests failed: %v / %v", r1.err, r2.err)
	}
	if r1.resp.Data != "first" || r2.resp.Data != "second" {
		t.Fatalf("responses crossed: %v / %v", r1.resp.Data, r2.resp.Data)
	}
}

func TestForeignSourceForcesWidgetVisible(t *testing.T) {
	h := newHarness(t, nil)
	ft := h.connect(t)

	// Connecting already surfaced the widget once.
	base := h.widget.visibleCount()

	ft.deliver(mustFrame(t, "c1", protocol.ChannelDOM, protocol.ActionQuery,
		protocol.QueryPayload{Selector: "#submit"}, protocol.SourceClient))
	awaitResponse(t, ft, "c1")
	if h.widget.visibleCount() != base {
		t.Fatal("client-sourced command forced the widget visible")
	}

	ft.deliver(mustFrame(t, "c2", protocol.ChannelDOM, protocol.ActionQuery,
		protocol.QueryPayload{Selector: "#submit"}, protocol.SourceServer))
	awaitResponse(t, ft, "c2")
	if h.widget.visibleCount() != base+1 {
		t.Fatalf("server-sourced command did not force visibility (count %d)", h.widget.visibleCount())
	}
}

func TestErrorEntriesPushedOverTransport(t *testing.T) {
	h := newHarness(t, nil)
	ft := h.connect(t)

	h.surface.Error("boom")

	waitFor(t, "console.entry push", func() bool {
		return len(notificationsFor(ft, protocol.ChannelConsole, protocol.ActionEntry)) >= 1
	})

	// Warnings stay pull-only.
	h.surface.Warn("just a warning")
	time.Sleep(50 * time.Millisecond)
	entries := notificationsFor(ft, protocol.ChannelConsole, protocol.ActionEntry)
	for _, msg := range entries {
		var entry protocol.ConsoleEntry
		if err := json.Unmarshal(msg.Payload, &entry); err != nil {
			t.Fatalf("decode pushed entry: %v", err)
		}
		if entry.Level != console.LevelError {
			t.Fatalf("pushed a %s-level entry", entry.Level)
		}
	}
}

func TestEvalGating(t *testing.T) {
	// Disabled by default.
	h := newHarness(t, nil)
	ft := h.connect(t)

	ft.deliver(mustFrame(t, "v1", protocol.ChannelEval, protocol.ActionRun,
		protocol.EvalPayload{Expression: "#email.value"}, protocol.SourceClient))
	resp := awaitResponse(t, ft, "v1")
	if resp.Success {
		t.Fatal("eval succeeded without opt-in")
	}
	if want := errors.CodeEvalDisabled; resp.Error[:len(want)] != want {
		t.Fatalf("error %q does not carry %q", resp.Error, want)
	}
}

func TestEvalEnabledEvaluatesExpression(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.AllowEval = true
		o.Evaluator = NewSelectorEvaluator(o.Tree)
	})
	ft := h.connect(t)

	ft.deliver(mustFrame(t, "v1", protocol.ChannelEval, protocol.ActionRun,
		protocol.EvalPayload{Expression: "#email.value"}, protocol.SourceClient))
	resp := awaitResponse(t, ft, "v1")
	if !resp.Success {
		t.Fatalf("eval failed: %s", resp.Error)
	}
	if resp.Data != "a@b.c" {
		t.Fatalf("eval result = %v, want a@b.c", resp.Data)
	}
}

func TestRecordingLifecycleOverBridge(t *testing.T) {
	h := newHarness(t, nil)
	ft := h.connect(t)

	ft.deliver(mustFrame(t, "r1", protocol.ChannelRecording, protocol.ActionStart,
		protocol.RecordingStartPayload{Name: "demo"}, protocol.SourceClient))
	start := awaitResponse(t, ft, "r1")
	if !start.Success {
		t.Fatalf("recording.start failed: %s", start.Error)
	}

	// One interaction while recording.
	button, err := h.tree.Resolve("#submit")
	if err != nil || len(button) == 0 {
		t.Fatalf("resolve #submit: %v", err)
	}
	h.tree.Emit(button[0], tree.Event{Type: "pointerdown", Target: button[0]})

	ft.deliver(mustFrame(t, "r2", protocol.ChannelRecording, protocol.ActionStop,
		nil, protocol.SourceClient))
	stop := awaitResponse(t, ft, "r2")
	if !stop.Success {
		t.Fatalf("recording.stop failed: %s", stop.Error)
	}

	data, _ := json.Marshal(stop.Data)
	var session protocol.SessionData
	if err := json.Unmarshal(data, &session); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if session.EndTime == 0 || len(session.Events) != 1 || session.Events[0].Type != "pointerdown" {
		t.Fatalf("unexpected finalized session: %+v", session)
	}
}

func TestStateTransitionGuards(t *testing.T) {
	h := newHarness(t, nil)

	if err := h.bridge.Pause(); err == nil {
		t.Fatal("Pause succeeded while disconnected")
	}
	if err := h.bridge.Resume(); err == nil {
		t.Fatal("Resume succeeded while disconnected")
	}

	h.connect(t)
	if err := h.bridge.Connect(); err == nil {
		t.Fatal("Connect succeeded while already connected")
	}

	h.bridge.Kill()
	h.bridge.Kill() // idempotent
	if err := h.bridge.Connect(); err == nil {
		t.Fatal("Connect succeeded after kill")
	}
	if got := h.network.dialCount(); got != 1 {
		t.Fatalf("killed bridge kept dialing (%d attempts)", got)
	}
}

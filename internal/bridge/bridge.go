// Package bridge implements the connection state machine at the core of
// the agent: a persistent bidirectional channel to the control server,
// request/response correlation, command dispatch by channel, fixed-delay
// reconnection, and single-active-instance arbitration.
//
// One Bridge owns one instance identity and at most one live transport.
// Kill is terminal: it tears down watchers, restores the console
// surface, closes the transport, rejects every pending request exactly
// once, and cancels the bridge context so an in-flight replay stops.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/devbridge/agent/internal/console"
	"github.com/devbridge/agent/internal/errors"
	"github.com/devbridge/agent/internal/events"
	"github.com/devbridge/agent/internal/protocol"
	"github.com/devbridge/agent/internal/recording"
	"github.com/devbridge/agent/internal/storage"
	"github.com/devbridge/agent/internal/tree"
)

// State is the connection state of the bridge.
type State int

const (
	// StateDisconnected is the initial state, before Connect.
	StateDisconnected State = iota

	// StateConnecting covers dialing and the fixed-delay waits between
	// reconnection attempts.
	StateConnecting

	// StateConnected is the live state: commands are dispatched and
	// spontaneous notifications flow.
	StateConnected

	// StatePaused drops inbound command messages. Responses still settle
	// pending requests, and arbitration is still honored.
	StatePaused

	// StateKilled is terminal. A killed bridge never reconnects.
	StateKilled
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StatePaused:
		return "paused"
	case StateKilled:
		return "killed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Widget is the visible affordance of the agent in the host. Commands
// originated by another agent or the server force it visible before
// dispatch, so the bridge can never act invisibly.
type Widget interface {
	// ForceVisible makes the widget visible to the operator.
	ForceVisible()

	// StateChanged reports every bridge state transition.
	StateChanged(s State)
}

// Evaluator evaluates a restricted expression on behalf of eval.run.
// Wired by the embedder; nil disables the eval channel regardless of
// configuration.
type Evaluator func(expression string) (any, error)

// Options configures a Bridge.
type Options struct {
	// Endpoint is the control-server WebSocket URL.
	Endpoint string

	// ReconnectDelay is the fixed pause between reconnection attempts.
	// The delay is constant; there is no exponential growth.
	// Defaults to 3 seconds.
	ReconnectDelay time.Duration

	// ConsoleCapacity is the diagnostic ring capacity.
	// Defaults to console.DefaultCapacity.
	ConsoleCapacity int

	// Tree is the live object tree capability. Required.
	Tree tree.Tree

	// Navigator is the host location capability. Required.
	Navigator tree.Navigator

	// Surface is the leveled logging surface to intercept.
	// Defaults to a surface writing through the standard logger.
	Surface *console.Surface

	// Widget receives visibility and state callbacks. Optional.
	Widget Widget

	// Store persists finalized recording sessions. Optional; without it
	// sessions exist only for the lifetime of the process and replay
	// accepts inline session data only.
	Store *storage.Store

	// AllowEval enables the eval channel. Both this flag and Evaluator
	// must be set for eval.run to work.
	AllowEval bool

	// Evaluator handles eval.run expressions.
	Evaluator Evaluator

	// Dialer establishes the transport. Defaults to DialWebSocket.
	// Tests substitute an in-process fake.
	Dialer Dialer
}

// pendingOutcome settles one outstanding request: either the correlated
// response or the rejection error, never both.
type pendingOutcome struct {
	resp protocol.Response
	err  error
}

// Bridge is the connection state machine.
type Bridge struct {
	opts       Options
	instanceID string
	dial       Dialer

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	state     State
	transport Transport
	pending   map[string]chan pendingOutcome

	// inbound feeds command messages to the single dispatch goroutine,
	// preserving transport delivery order.
	inbound chan protocol.Message

	watcher     *events.Watcher
	dispatcher  *events.Dispatcher
	interceptor *console.Interceptor
	manager     *recording.Manager
	replayer    *recording.Replayer

	reconnect  backoff.BackOff
	errLimiter *rate.Limiter
}

// New creates a Bridge in the Disconnected state. Call Connect to start.
func New(opts Options) *Bridge {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 3 * time.Second
	}
	if opts.ConsoleCapacity <= 0 {
		opts.ConsoleCapacity = console.DefaultCapacity
	}
	if opts.Surface == nil {
		opts.Surface = console.NewSurface()
	}
	if opts.Dialer == nil {
		opts.Dialer = DialWebSocket
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		opts:       opts,
		instanceID: uuid.NewString(),
		dial:       opts.Dialer,
		ctx:        ctx,
		cancel:     cancel,
		state:      StateDisconnected,
		pending:    make(map[string]chan pendingOutcome),
		inbound:    make(chan protocol.Message, 64),
		reconnect:  backoff.NewConstantBackOff(opts.ReconnectDelay),
		// Error-level entries are pushed proactively but must not flood
		// the channel when the host logs errors in a tight loop.
		errLimiter: rate.NewLimiter(rate.Limit(5), 10),
	}

	b.watcher = events.NewWatcher(opts.Tree, b.forwardCaptured)
	b.dispatcher = events.NewDispatcher(opts.Tree)
	b.interceptor = console.NewInterceptor(opts.Surface, opts.ConsoleCapacity)
	b.manager = recording.NewManager(b.watcher, b.interceptor)
	b.watcher.SetRecorder(b.manager)
	b.replayer = recording.NewReplayer(b.dispatcher)
	b.interceptor.SetErrorSink(b.pushError)

	go b.dispatchLoop()
	return b
}

// dispatchLoop is the single goroutine that processes inbound command
// messages, strictly in the order the transport delivered them. Every
// handler completes before the next message is taken; replay is the one
// command with timed waits and it runs its loop off this goroutine
// after synchronous validation.
func (b *Bridge) dispatchLoop() {
	for {
		select {
		case <-b.ctx.Done():
			return
		case msg := <-b.inbound:
			b.handleMessage(msg)
		}
	}
}

// Done is closed when the bridge has been killed, whether locally or
// through arbitration.
func (b *Bridge) Done() <-chan struct{} {
	return b.ctx.Done()
}

// InstanceID returns the identity generated for this bridge instance.
func (b *Bridge) InstanceID() string {
	return b.instanceID
}

// State returns the current connection state.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Connect transitions Disconnected to Connecting and starts the dial
// loop. Dial failures schedule a retry after the fixed reconnect delay
// until the bridge is killed.
func (b *Bridge) Connect() error {
	b.mu.Lock()
	if b.state != StateDisconnected {
		state := b.state
		b.mu.Unlock()
		return errors.New(errors.CodeTransportNotConnected,
			fmt.Sprintf("cannot connect from state %s", state))
	}
	b.setStateLocked(StateConnecting)
	b.mu.Unlock()

	go b.connectLoop()
	return nil
}

// Pause transitions Connected to Paused. While paused, inbound command
// messages are dropped; responses still settle pending requests.
func (b *Bridge) Pause() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateConnected {
		return errors.New(errors.CodeTransportNotConnected,
			fmt.Sprintf("cannot pause from state %s", b.state))
	}
	b.setStateLocked(StatePaused)
	return nil
}

// Resume transitions Paused back to Connected.
func (b *Bridge) Resume() error {
	b.mu.Lock()
	if b.state != StatePaused {
		b.mu.Unlock()
		return errors.New(errors.CodeTransportNotConnected,
			fmt.Sprintf("cannot resume from state %s", b.state))
	}
	b.setStateLocked(StateConnected)
	b.mu.Unlock()

	// Resuming brings the widget back in front of the operator.
	if b.opts.Widget != nil {
		b.opts.Widget.ForceVisible()
	}
	return nil
}

// Kill terminates the bridge. Teardown order: watchers, active
// recording, console surface restoration, transport, pending request
// rejection, context cancellation. Idempotent.
func (b *Bridge) Kill() {
	b.mu.Lock()
	if b.state == StateKilled {
		b.mu.Unlock()
		return
	}
	b.setStateLocked(StateKilled)
	transport := b.transport
	b.transport = nil
	pending := b.pending
	b.pending = make(map[string]chan pendingOutcome)
	b.mu.Unlock()

	log.Printf("bridge: killing instance %s", b.instanceID)

	b.watcher.Teardown()
	b.manager.Abort()
	b.interceptor.Restore()
	if transport != nil {
		transport.Close()
	}
	for _, ch := range pending {
		ch <- pendingOutcome{err: errors.Killed()}
	}
	b.cancel()
}

// setStateLocked updates the state and notifies the widget.
// Caller holds b.mu.
func (b *Bridge) setStateLocked(s State) {
	if b.state == s {
		return
	}
	b.state = s
	if b.opts.Widget != nil {
		// Callback without the lock would be safer for reentrancy, but
		// widgets only render; they never call back into the bridge.
		b.opts.Widget.StateChanged(s)
	}
}

// connectLoop dials until a transport is established or the bridge is
// killed, pausing the fixed reconnect delay between attempts.
func (b *Bridge) connectLoop() {
	for {
		if b.State() == StateKilled {
			return
		}

		transport, err := b.dial(b.ctx, b.opts.Endpoint, b.onFrame, b.onTransportClosed)
		if err == nil {
			b.onTransportOpen(transport)
			return
		}

		delay := b.reconnect.NextBackOff()
		log.Printf("bridge: dial %s failed (%v), retrying in %s", b.opts.Endpoint, err, delay)
		select {
		case <-b.ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// onTransportOpen installs the live transport, installs the console
// interceptor, and announces this instance on the system channel.
func (b *Bridge) onTransportOpen(t Transport) {
	b.mu.Lock()
	if b.state == StateKilled {
		b.mu.Unlock()
		t.Close()
		return
	}
	b.transport = t
	b.setStateLocked(StateConnected)
	b.mu.Unlock()

	log.Printf("bridge: connected to %s as instance %s", b.opts.Endpoint, b.instanceID)

	if b.opts.Widget != nil {
		b.opts.Widget.ForceVisible()
	}
	b.interceptor.Install()
	b.announce()
}

// onTransportClosed handles a dead transport: enter Disconnected,
// reject every pending request, then re-enter the dial loop after the
// fixed delay. A killed bridge stays killed.
func (b *Bridge) onTransportClosed(cause error) {
	b.mu.Lock()
	if b.state == StateKilled {
		b.mu.Unlock()
		return
	}
	b.transport = nil
	pending := b.pending
	b.pending = make(map[string]chan pendingOutcome)
	b.setStateLocked(StateDisconnected)
	b.mu.Unlock()

	log.Printf("bridge: connection lost (%v), %d pending rejected", cause, len(pending))
	for _, ch := range pending {
		ch <- pendingOutcome{err: errors.Disconnected()}
	}

	go func() {
		select {
		case <-b.ctx.Done():
			return
		case <-time.After(b.reconnect.NextBackOff()):
		}
		// Connecting begins when the scheduled dial does, not before.
		b.mu.Lock()
		if b.state != StateDisconnected {
			b.mu.Unlock()
			return
		}
		b.setStateLocked(StateConnecting)
		b.mu.Unlock()
		b.connectLoop()
	}()
}

// announce broadcasts system.connected with this instance's identity.
// Announcements are notifications; they get no Response.
func (b *Bridge) announce() {
	location, title := b.opts.Navigator.Location()
	b.notify(protocol.ChannelSystem, protocol.ActionConnected, protocol.ConnectedPayload{
		InstanceID: b.instanceID,
		Location:   location,
		Title:      title,
	})
}

// Request sends a command to the control server and waits for the
// correlated response. The request is rejected with transport.closed if
// the connection drops, or transport.killed if the bridge is killed,
// while it is in flight.
func (b *Bridge) Request(ctx context.Context, channel, action string, payload any) (*protocol.Response, error) {
	id := uuid.NewString()
	msg, err := protocol.NewMessage(id, channel, action, payload, protocol.SourceAgent)
	if err != nil {
		return nil, errors.Wrap(errors.CodeProtocolInvalidMessage, "encode payload", err)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, errors.Wrap(errors.CodeProtocolInvalidMessage, "encode message", err)
	}

	b.mu.Lock()
	if b.state != StateConnected && b.state != StatePaused {
		state := b.state
		b.mu.Unlock()
		return nil, errors.New(errors.CodeTransportNotConnected,
			fmt.Sprintf("cannot send in state %s", state))
	}
	transport := b.transport
	ch := make(chan pendingOutcome, 1)
	b.pending[id] = ch
	b.mu.Unlock()

	if err := transport.Send(data); err != nil {
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
		return nil, err
	}

	select {
	case out := <-ch:
		if out.err != nil {
			return nil, out.err
		}
		return &out.resp, nil
	case <-ctx.Done():
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
		return nil, errors.Wrap(errors.CodeTransportClosed, "request abandoned", ctx.Err())
	}
}

// notify sends a fire-and-forget message. Spontaneous traffic
// (events.captured, console.entry) only flows in the Connected state;
// a paused or disconnected bridge stays quiet.
func (b *Bridge) notify(channel, action string, payload any) {
	b.mu.Lock()
	transport := b.transport
	connected := b.state == StateConnected
	b.mu.Unlock()
	if !connected || transport == nil {
		return
	}

	msg, err := protocol.NewMessage(uuid.NewString(), channel, action, payload, protocol.SourceAgent)
	if err != nil {
		log.Printf("bridge: encode %s.%s notification: %v", channel, action, err)
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("bridge: encode %s.%s notification: %v", channel, action, err)
		return
	}
	if err := transport.Send(data); err != nil {
		log.Printf("bridge: send %s.%s notification: %v", channel, action, err)
	}
}

// forwardCaptured is the watcher sink: every captured occurrence is
// forwarded as an events.captured notification.
func (b *Bridge) forwardCaptured(ev protocol.RecordedEvent) {
	b.notify(protocol.ChannelEvents, protocol.ActionCaptured, ev)
}

// pushError proactively forwards an error-level console entry, subject
// to the rate limit. Dropped entries remain available through
// console.get.
func (b *Bridge) pushError(entry protocol.ConsoleEntry) {
	if !b.errLimiter.Allow() {
		return
	}
	b.notify(protocol.ChannelConsole, protocol.ActionEntry, entry)
}

// onFrame classifies and routes one inbound frame. Malformed frames
// carry no usable id to correlate against, so they are dropped without
// a response.
func (b *Bridge) onFrame(data []byte) {
	switch protocol.ClassifyFrame(data) {
	case protocol.FrameResponse:
		var resp protocol.Response
		if err := json.Unmarshal(data, &resp); err != nil {
			return
		}
		b.settle(resp)

	case protocol.FrameMessage:
		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		// Commands are queued for the dispatch goroutine so they are
		// processed in delivery order, one at a time.
		select {
		case b.inbound <- msg:
		case <-b.ctx.Done():
		}
	}
}

// settle delivers a response to its pending request. Responses with an
// unknown id are discarded.
func (b *Bridge) settle(resp protocol.Response) {
	b.mu.Lock()
	ch, ok := b.pending[resp.ID]
	if ok {
		delete(b.pending, resp.ID)
	}
	b.mu.Unlock()

	if !ok {
		log.Printf("bridge: discarding response for unknown id %s", resp.ID)
		return
	}
	ch <- pendingOutcome{resp: resp}
}

// handleMessage routes one inbound command or announcement.
func (b *Bridge) handleMessage(msg protocol.Message) {
	// Arbitration is a state-machine input, not a command: honored even
	// when paused, and it produces no Response.
	if msg.Channel == protocol.ChannelSystem && msg.Action == protocol.ActionConnected {
		b.handleAnnouncement(msg)
		return
	}

	switch b.State() {
	case StateKilled:
		return
	case StatePaused:
		log.Printf("bridge: paused, dropping %s.%s", msg.Channel, msg.Action)
		return
	}

	// Commands originated by another agent or by the server force the
	// widget visible before anything is dispatched.
	if msg.Source == protocol.SourceAgent || msg.Source == protocol.SourceServer {
		if b.opts.Widget != nil {
			b.opts.Widget.ForceVisible()
		}
	}

	data, err := b.dispatchCommand(msg)
	if err != nil {
		code, message := errors.ToCodeAndMessage(err)
		b.sendResponse(protocol.Fail(msg.ID, fmt.Sprintf("%s: %s", code, message)))
		return
	}
	b.sendResponse(protocol.OK(msg.ID, data))
}

// handleAnnouncement enforces single-active-instance arbitration: a
// system.connected carrying a foreign instance id means another agent
// went live, and this one yields by killing itself.
func (b *Bridge) handleAnnouncement(msg protocol.Message) {
	var payload protocol.ConnectedPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return
	}
	if payload.InstanceID == "" || payload.InstanceID == b.instanceID {
		return
	}
	log.Printf("bridge: instance %s announced, yielding", payload.InstanceID)
	b.Kill()
}

// sendResponse writes one Response. Exactly one is produced per
// dispatched command.
func (b *Bridge) sendResponse(resp protocol.Response) {
	b.mu.Lock()
	transport := b.transport
	b.mu.Unlock()
	if transport == nil {
		return
	}

	data, err := json.Marshal(resp)
	if err != nil {
		log.Printf("bridge: encode response %s: %v", resp.ID, err)
		return
	}
	if err := transport.Send(data); err != nil {
		log.Printf("bridge: send response %s: %v", resp.ID, err)
	}
}

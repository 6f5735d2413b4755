package bridge

// handlers.go routes inbound commands to their subsystems. Every
// command produces either a result (wrapped in a success Response) or a
// coded error (wrapped in a failure Response), never both and never
// neither.

import (
	"encoding/json"
	"log"

	"github.com/devbridge/agent/internal/console"
	"github.com/devbridge/agent/internal/errors"
	"github.com/devbridge/agent/internal/protocol"
	"github.com/devbridge/agent/internal/recording"
	"github.com/devbridge/agent/internal/tree"
)

// dispatchCommand routes one command message by channel and action.
func (b *Bridge) dispatchCommand(msg protocol.Message) (any, error) {
	switch msg.Channel {
	case protocol.ChannelDOM:
		return b.handleDOM(msg)
	case protocol.ChannelEvents:
		return b.handleEvents(msg)
	case protocol.ChannelConsole:
		return b.handleConsole(msg)
	case protocol.ChannelEval:
		return b.handleEval(msg)
	case protocol.ChannelRecording:
		return b.handleRecording(msg)
	case protocol.ChannelNavigation:
		return b.handleNavigation(msg)
	default:
		return nil, errors.New(errors.CodeProtocolUnknownChannel,
			"no handler for channel "+msg.Channel)
	}
}

// decode unmarshals a command payload into its typed form.
func decode(msg protocol.Message, v any) error {
	if len(msg.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(msg.Payload, v); err != nil {
		return errors.Wrap(errors.CodeProtocolInvalidMessage,
			"malformed "+msg.Channel+"."+msg.Action+" payload", err)
	}
	return nil
}

func unknownAction(msg protocol.Message) error {
	return errors.New(errors.CodeProtocolUnknownAction,
		"channel "+msg.Channel+" has no action "+msg.Action)
}

func (b *Bridge) handleDOM(msg protocol.Message) (any, error) {
	switch msg.Action {
	case protocol.ActionQuery:
		var payload protocol.QueryPayload
		if err := decode(msg, &payload); err != nil {
			return nil, err
		}
		return tree.Query(b.opts.Tree, payload.Selector, payload.Multiple)
	default:
		return nil, unknownAction(msg)
	}
}

func (b *Bridge) handleEvents(msg protocol.Message) (any, error) {
	switch msg.Action {
	case protocol.ActionWatch:
		var payload protocol.WatchPayload
		if err := decode(msg, &payload); err != nil {
			return nil, err
		}
		watchID, err := b.watcher.Watch(payload.Selector, payload.Events, payload.Capture, payload.Passive)
		if err != nil {
			return nil, err
		}
		return protocol.WatchResult{WatchID: watchID}, nil

	case protocol.ActionUnwatch:
		var payload protocol.UnwatchPayload
		if err := decode(msg, &payload); err != nil {
			return nil, err
		}
		// Idempotent: unknown ids succeed.
		b.watcher.Unwatch(payload.WatchID)
		return nil, nil

	case protocol.ActionDispatch:
		var payload protocol.DispatchPayload
		if err := decode(msg, &payload); err != nil {
			return nil, err
		}
		if err := b.dispatcher.Dispatch(payload.Selector, payload.Type, payload.Options); err != nil {
			return nil, err
		}
		return nil, nil

	default:
		return nil, unknownAction(msg)
	}
}

func (b *Bridge) handleConsole(msg protocol.Message) (any, error) {
	switch msg.Action {
	case protocol.ActionGet:
		var payload protocol.ConsoleGetPayload
		if err := decode(msg, &payload); err != nil {
			return nil, err
		}
		if payload.Level != "" && !console.ValidLevel(payload.Level) {
			return nil, errors.New(errors.CodeConsoleInvalidLevel,
				"unknown console level "+payload.Level)
		}
		return b.interceptor.Entries(payload.Level), nil

	case protocol.ActionClear:
		b.interceptor.Clear()
		return nil, nil

	default:
		return nil, unknownAction(msg)
	}
}

func (b *Bridge) handleEval(msg protocol.Message) (any, error) {
	if msg.Action != protocol.ActionRun {
		return nil, unknownAction(msg)
	}
	// Doubly gated: the operator must opt in through configuration and
	// the embedder must wire an evaluator.
	if !b.opts.AllowEval || b.opts.Evaluator == nil {
		return nil, errors.EvalDisabled()
	}

	var payload protocol.EvalPayload
	if err := decode(msg, &payload); err != nil {
		return nil, err
	}
	result, err := b.opts.Evaluator(payload.Expression)
	if err != nil {
		if errors.GetCode(err) != errors.CodeUnknown {
			return nil, err
		}
		return nil, errors.Wrap(errors.CodeEvalFailed, "evaluation failed", err)
	}
	return result, nil
}

func (b *Bridge) handleRecording(msg protocol.Message) (any, error) {
	switch msg.Action {
	case protocol.ActionStart:
		var payload protocol.RecordingStartPayload
		if err := decode(msg, &payload); err != nil {
			return nil, err
		}
		session, err := b.manager.Start(payload.Name)
		if err != nil {
			return nil, err
		}
		return protocol.RecordingStartResult{
			SessionID: session.ID,
			Name:      session.Name,
			StartTime: session.StartTime,
		}, nil

	case protocol.ActionStop:
		session, err := b.manager.Stop()
		if err != nil {
			return nil, err
		}
		if b.opts.Store != nil {
			if err := b.opts.Store.SaveRecording(session); err != nil {
				// Persistence failure does not lose the session: the
				// finalized data still goes back in the response.
				log.Printf("bridge: failed to persist recording %s: %v", session.ID, err)
			}
		}
		return session.Data(), nil

	case protocol.ActionReplay:
		var payload protocol.RecordingReplayPayload
		if err := decode(msg, &payload); err != nil {
			return nil, err
		}
		session, err := b.resolveReplaySession(payload)
		if err != nil {
			return nil, err
		}
		speed := payload.Speed
		if speed == 0 {
			speed = 1
		}
		// Validation is synchronous; the timed dispatch loop runs off the
		// command dispatcher so later commands are not held up.
		if err := b.replayer.Start(b.ctx, session, speed); err != nil {
			return nil, err
		}
		return nil, nil

	default:
		return nil, unknownAction(msg)
	}
}

// resolveReplaySession picks the session to replay: inline data wins,
// else the id is looked up in the store.
func (b *Bridge) resolveReplaySession(payload protocol.RecordingReplayPayload) (*recording.Session, error) {
	if payload.Session != nil {
		return recording.FromData(*payload.Session), nil
	}
	if payload.SessionID == "" {
		return nil, errors.New(errors.CodeRecordingEmpty, "no session data or id given")
	}
	if b.opts.Store == nil {
		return nil, errors.New(errors.CodeRecordingNotFound,
			"no store configured, stored session "+payload.SessionID+" unavailable")
	}
	return b.opts.Store.GetRecording(payload.SessionID)
}

func (b *Bridge) handleNavigation(msg protocol.Message) (any, error) {
	switch msg.Action {
	case protocol.ActionRefresh:
		if err := b.opts.Navigator.Refresh(); err != nil {
			return nil, errors.Wrap(errors.CodeNavigationFailed, "refresh rejected", err)
		}
		return nil, nil

	case protocol.ActionGoto:
		var payload protocol.GotoPayload
		if err := decode(msg, &payload); err != nil {
			return nil, err
		}
		if err := b.opts.Navigator.Goto(payload.URL); err != nil {
			return nil, errors.Wrap(errors.CodeNavigationFailed, "goto rejected", err)
		}
		return nil, nil

	case protocol.ActionLocation:
		location, title := b.opts.Navigator.Location()
		return protocol.LocationResult{Location: location, Title: title}, nil

	default:
		return nil, unknownAction(msg)
	}
}

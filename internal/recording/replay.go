package recording

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/devbridge/agent/internal/errors"
	"github.com/devbridge/agent/internal/events"
)

// Replayer re-issues a finalized session's events through the synthetic
// event dispatcher at scaled relative timing. Replays are strictly
// sequential: a second replay request while one is running is rejected.
type Replayer struct {
	dispatcher *events.Dispatcher

	mu      sync.Mutex
	running bool
}

// NewReplayer creates a replayer over the given dispatcher.
func NewReplayer(d *events.Dispatcher) *Replayer {
	return &Replayer{dispatcher: d}
}

// Running reports whether a replay is in progress.
func (r *Replayer) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Replay dispatches every event of session in order. The delay before
// each event is the recorded gap to its predecessor divided by speed;
// the first event fires immediately. The waits are cancellable through
// ctx - kill() cancels the bridge context and the replay stops at the
// next wait with a replay.cancelled error.
//
// Individual dispatch failures are logged and skipped rather than
// aborting the replay: a target that disappeared since recording should
// not strand the rest of the sequence.
func (r *Replayer) Replay(ctx context.Context, session *Session, speed float64) error {
	if err := r.reserve(session, speed); err != nil {
		return err
	}
	return r.run(ctx, session, speed)
}

// Start validates the request and reserves the replayer exactly like
// Replay, then runs the replay loop on its own goroutine. Validation
// errors are returned synchronously; the loop's outcome is only logged.
func (r *Replayer) Start(ctx context.Context, session *Session, speed float64) error {
	if err := r.reserve(session, speed); err != nil {
		return err
	}
	go func() {
		if err := r.run(ctx, session, speed); err != nil {
			log.Printf("recording: replay of session %s stopped: %v", session.ID, err)
		}
	}()
	return nil
}

// reserve validates a replay request and marks the replayer running.
func (r *Replayer) reserve(session *Session, speed float64) error {
	if session == nil || len(session.Events) == 0 {
		return errors.New(errors.CodeRecordingEmpty, "session has no events to replay")
	}
	if speed <= 0 {
		return errors.New(errors.CodeReplayInvalidSpeed, "replay speed must be > 0")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return errors.ReplayInProgress()
	}
	r.running = true
	return nil
}

// run executes one reserved replay and releases the replayer when done.
func (r *Replayer) run(ctx context.Context, session *Session, speed float64) error {
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	log.Printf("recording: replaying session %s (%d events at %gx)", session.ID, len(session.Events), speed)

	previous := int64(0)
	for i, ev := range session.Events {
		if i > 0 {
			gap := time.Duration(ev.Timestamp-previous) * time.Millisecond
			if gap < 0 {
				gap = 0
			}
			delay := time.Duration(float64(gap) / speed)

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return errors.New(errors.CodeReplayCancelled, "replay interrupted")
			case <-timer.C:
			}
		}
		previous = ev.Timestamp

		if err := r.dispatcher.Dispatch(ev.Target.Path, ev.Type, ev.Options()); err != nil {
			log.Printf("recording: replay skipping event %d (%s): %v", i, ev.Type, err)
		}
	}
	return nil
}

// File: internal/recording/recorder.go

// Package recording implements the capture side of the local automation
// surface: a single in-process recording session that collects interaction
// steps in order, plus an event bus that streams capture and replay progress
// to subscribers.
package recording

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/klynelabs/uirunner/api/schemas"
)

// EventKind names one category of bridge event.
type EventKind string

const (
	EventStepAdded         EventKind = "step-added"
	EventReplayStarted     EventKind = "replay-started"
	EventReplayStepStarted EventKind = "replay-step-started"
	EventReplayStepDone    EventKind = "replay-step-completed"
	EventReplayError       EventKind = "replay-error"
	EventReplayCompleted   EventKind = "replay-completed"

	// EventAny subscribes to every event kind.
	EventAny EventKind = "*"
)

// Event is one bridge notification. Only the fields relevant to the kind are
// populated.
type Event struct {
	Kind      EventKind                `json:"kind"`
	SessionID string                   `json:"session_id,omitempty"`
	StepIndex int                      `json:"step_index,omitempty"`
	Step      *schemas.Step            `json:"step,omitempty"`
	Result    *schemas.StepResult      `json:"result,omitempty"`
	Report    *schemas.ExecutionReport `json:"report,omitempty"`
	Error     string                   `json:"error,omitempty"`
	Timestamp time.Time                `json:"timestamp"`
}

// ErrSessionActive is returned when a start request arrives while another
// session is recording.
var ErrSessionActive = errors.New("a recording session is already active")

// ErrNoSession is returned by session controls when nothing is recording.
var ErrNoSession = errors.New("no active recording session")

// subscriberBuffer is the per-subscriber channel depth. A subscriber that
// stops draining loses events rather than blocking capture.
const subscriberBuffer = 64

type subscriber struct {
	kind EventKind
	ch   chan Event
}

// Recorder is the recording and replay bridge. At most one session records at
// a time; its step log is append-only and survives Stop for later retrieval.
// All methods are safe for concurrent use.
type Recorder struct {
	logger *zap.Logger

	mu        sync.Mutex
	active    bool
	paused    bool
	sessionID string
	steps     []schemas.Step

	subMu     sync.Mutex
	nextSubID int
	subs      map[int]subscriber
}

// NewRecorder creates an idle recorder.
func NewRecorder(logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		logger: logger.With(zap.String("component", "recorder")),
		subs:   make(map[int]subscriber),
	}
}

// Start opens a new recording session and returns its id. The previous
// session's step log is discarded.
func (r *Recorder) Start() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active {
		return "", ErrSessionActive
	}
	r.active = true
	r.paused = false
	r.sessionID = uuid.NewString()
	r.steps = nil
	r.logger.Info("Recording session started", zap.String("session_id", r.sessionID))
	return r.sessionID, nil
}

// Stop finalizes the active session. The captured step log remains readable
// through Steps until the next Start.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return ErrNoSession
	}
	r.active = false
	r.paused = false
	r.logger.Info("Recording session stopped",
		zap.String("session_id", r.sessionID),
		zap.Int("steps", len(r.steps)))
	return nil
}

// Pause suspends capture without ending the session.
func (r *Recorder) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return ErrNoSession
	}
	r.paused = true
	return nil
}

// Resume re-enables capture on a paused session.
func (r *Recorder) Resume() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return ErrNoSession
	}
	r.paused = false
	return nil
}

// Capture appends one step to the active session's log and emits a
// step-added event. It reports whether the step was recorded; an idle or
// paused recorder ignores the step, which lets the local surface keep
// executing interactions whether or not a session is open.
func (r *Recorder) Capture(step schemas.Step) bool {
	r.mu.Lock()
	if !r.active || r.paused {
		r.mu.Unlock()
		return false
	}
	idx := len(r.steps)
	r.steps = append(r.steps, step)
	sessionID := r.sessionID
	r.mu.Unlock()

	r.publish(Event{
		Kind:      EventStepAdded,
		SessionID: sessionID,
		StepIndex: idx,
		Step:      &step,
	})
	return true
}

// Steps returns a copy of the most recent session's step log in capture
// order.
func (r *Recorder) Steps() []schemas.Step {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]schemas.Step, len(r.steps))
	copy(out, r.steps)
	return out
}

// SessionID returns the id of the current or most recent session, or "".
func (r *Recorder) SessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionID
}

// Active reports whether a session is recording.
func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Paused reports whether the active session is paused.
func (r *Recorder) Paused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active && r.paused
}

// Subscribe registers for events of the given kind (or EventAny for all) and
// returns a receive channel plus an unsubscribe function. The channel is
// closed on unsubscribe.
func (r *Recorder) Subscribe(kind EventKind) (<-chan Event, func()) {
	r.subMu.Lock()
	defer r.subMu.Unlock()

	id := r.nextSubID
	r.nextSubID++
	sub := subscriber{kind: kind, ch: make(chan Event, subscriberBuffer)}
	r.subs[id] = sub

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			r.subMu.Lock()
			defer r.subMu.Unlock()
			if s, ok := r.subs[id]; ok {
				delete(r.subs, id)
				close(s.ch)
			}
		})
	}
	return sub.ch, unsubscribe
}

// publish fans an event out to every matching subscriber. Slow subscribers
// drop events instead of blocking the publisher.
func (r *Recorder) publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	r.subMu.Lock()
	defer r.subMu.Unlock()
	for _, sub := range r.subs {
		if sub.kind != EventAny && sub.kind != ev.Kind {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			r.logger.Debug("Dropping event for slow subscriber",
				zap.String("kind", string(ev.Kind)))
		}
	}
}

// ReplayStarted announces that a replay of total steps is beginning.
func (r *Recorder) ReplayStarted(sessionID string, total int) {
	r.publish(Event{Kind: EventReplayStarted, SessionID: sessionID, StepIndex: total})
}

// ReplayStepStarted announces that the step at index is about to run.
func (r *Recorder) ReplayStepStarted(sessionID string, index int, step schemas.Step) {
	r.publish(Event{Kind: EventReplayStepStarted, SessionID: sessionID, StepIndex: index, Step: &step})
}

// ReplayStepCompleted announces one finished step with its result.
func (r *Recorder) ReplayStepCompleted(sessionID string, result schemas.StepResult) {
	r.publish(Event{Kind: EventReplayStepDone, SessionID: sessionID, StepIndex: result.StepIndex, Result: &result})
}

// ReplayCompleted announces a finished replay. A failed report is announced
// as a replay-error carrying the report's error message.
func (r *Recorder) ReplayCompleted(sessionID string, report *schemas.ExecutionReport) {
	if report != nil && (report.FailedSteps > 0 || report.ErrorMessage != "") {
		r.publish(Event{
			Kind:      EventReplayError,
			SessionID: sessionID,
			Report:    report,
			Error:     report.ErrorMessage,
		})
		return
	}
	r.publish(Event{Kind: EventReplayCompleted, SessionID: sessionID, Report: report})
}

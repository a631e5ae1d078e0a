// File: internal/recording/recorder_test.go
package recording

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/klynelabs/uirunner/api/schemas"
)

func TestRecorder_SingleActiveSession(t *testing.T) {
	r := NewRecorder(zap.NewNop())

	id, err := r.Start()
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.True(t, r.Active())

	_, err = r.Start()
	assert.ErrorIs(t, err, ErrSessionActive)

	require.NoError(t, r.Stop())
	assert.False(t, r.Active())

	// A fresh session gets a fresh id.
	id2, err := r.Start()
	require.NoError(t, err)
	assert.NotEqual(t, id, id2)
}

func TestRecorder_ControlsRequireActiveSession(t *testing.T) {
	r := NewRecorder(zap.NewNop())
	assert.ErrorIs(t, r.Stop(), ErrNoSession)
	assert.ErrorIs(t, r.Pause(), ErrNoSession)
	assert.ErrorIs(t, r.Resume(), ErrNoSession)
}

func TestRecorder_CaptureAppendsInOrder(t *testing.T) {
	r := NewRecorder(zap.NewNop())
	_, err := r.Start()
	require.NoError(t, err)

	assert.True(t, r.Capture(schemas.Step{Type: schemas.StepTap, Point: &schemas.Point{X: 1, Y: 2}}))
	assert.True(t, r.Capture(schemas.Step{Type: schemas.StepInputText, Text: "hello"}))
	assert.True(t, r.Capture(schemas.Step{Type: schemas.StepPressKey, KeyCode: 4}))

	steps := r.Steps()
	require.Len(t, steps, 3)
	assert.Equal(t, schemas.StepTap, steps[0].Type)
	assert.Equal(t, schemas.StepInputText, steps[1].Type)
	assert.Equal(t, schemas.StepPressKey, steps[2].Type)
}

func TestRecorder_CaptureIgnoredWhenIdleOrPaused(t *testing.T) {
	r := NewRecorder(zap.NewNop())

	// Idle: nothing is recorded.
	assert.False(t, r.Capture(schemas.Step{Type: schemas.StepTap}))
	assert.Empty(t, r.Steps())

	_, err := r.Start()
	require.NoError(t, err)
	assert.True(t, r.Capture(schemas.Step{Type: schemas.StepTap}))

	// Paused: the session stays open but steps are dropped.
	require.NoError(t, r.Pause())
	assert.True(t, r.Paused())
	assert.False(t, r.Capture(schemas.Step{Type: schemas.StepInputText, Text: "lost"}))

	require.NoError(t, r.Resume())
	assert.False(t, r.Paused())
	assert.True(t, r.Capture(schemas.Step{Type: schemas.StepPressKey, KeyCode: 3}))

	steps := r.Steps()
	require.Len(t, steps, 2)
	assert.Equal(t, schemas.StepTap, steps[0].Type)
	assert.Equal(t, schemas.StepPressKey, steps[1].Type)
}

func TestRecorder_StepsSurviveStop(t *testing.T) {
	r := NewRecorder(zap.NewNop())
	_, err := r.Start()
	require.NoError(t, err)
	r.Capture(schemas.Step{Type: schemas.StepTap})
	require.NoError(t, r.Stop())

	assert.Len(t, r.Steps(), 1)

	// Starting again resets the log.
	_, err = r.Start()
	require.NoError(t, err)
	assert.Empty(t, r.Steps())
}

func TestRecorder_StepsReturnsCopy(t *testing.T) {
	r := NewRecorder(zap.NewNop())
	_, err := r.Start()
	require.NoError(t, err)
	r.Capture(schemas.Step{Type: schemas.StepInputText, Text: "original"})

	steps := r.Steps()
	steps[0].Text = "mutated"
	assert.Equal(t, "original", r.Steps()[0].Text)
}

func TestRecorder_SubscribeStepAdded(t *testing.T) {
	r := NewRecorder(zap.NewNop())
	ch, unsubscribe := r.Subscribe(EventStepAdded)
	defer unsubscribe()

	id, err := r.Start()
	require.NoError(t, err)
	r.Capture(schemas.Step{Type: schemas.StepTap, Point: &schemas.Point{X: 9, Y: 9}})
	r.Capture(schemas.Step{Type: schemas.StepPressKey, KeyCode: 4})

	ev := <-ch
	assert.Equal(t, EventStepAdded, ev.Kind)
	assert.Equal(t, id, ev.SessionID)
	assert.Equal(t, 0, ev.StepIndex)
	require.NotNil(t, ev.Step)
	assert.Equal(t, schemas.StepTap, ev.Step.Type)

	ev = <-ch
	assert.Equal(t, 1, ev.StepIndex)
	assert.False(t, ev.Timestamp.IsZero())
}

func TestRecorder_SubscribeFiltersByKind(t *testing.T) {
	r := NewRecorder(zap.NewNop())
	errCh, cancelErr := r.Subscribe(EventReplayError)
	defer cancelErr()
	allCh, cancelAll := r.Subscribe(EventAny)
	defer cancelAll()

	_, err := r.Start()
	require.NoError(t, err)
	r.Capture(schemas.Step{Type: schemas.StepTap})

	// The step-added event reaches the wildcard subscriber only.
	ev := <-allCh
	assert.Equal(t, EventStepAdded, ev.Kind)
	select {
	case ev := <-errCh:
		t.Fatalf("filtered subscriber received %s", ev.Kind)
	default:
	}
}

func TestRecorder_UnsubscribeClosesChannel(t *testing.T) {
	r := NewRecorder(zap.NewNop())
	ch, unsubscribe := r.Subscribe(EventAny)
	unsubscribe()
	unsubscribe() // idempotent

	_, ok := <-ch
	assert.False(t, ok)

	// Publishing after unsubscribe must not panic.
	_, err := r.Start()
	require.NoError(t, err)
	r.Capture(schemas.Step{Type: schemas.StepTap})
}

func TestRecorder_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	r := NewRecorder(zap.NewNop())
	ch, unsubscribe := r.Subscribe(EventStepAdded)
	defer unsubscribe()

	_, err := r.Start()
	require.NoError(t, err)

	// Overfill the subscriber buffer without draining; Capture must return.
	for i := 0; i < subscriberBuffer+10; i++ {
		r.Capture(schemas.Step{Type: schemas.StepPressKey, KeyCode: i})
	}
	assert.Len(t, r.Steps(), subscriberBuffer+10)
	assert.Len(t, ch, subscriberBuffer)
}

func TestRecorder_ReplayEventSequence(t *testing.T) {
	r := NewRecorder(zap.NewNop())
	ch, unsubscribe := r.Subscribe(EventAny)
	defer unsubscribe()

	step := schemas.Step{Type: schemas.StepTap, Point: &schemas.Point{X: 5, Y: 5}}
	result := schemas.StepResult{StepIndex: 0, StepType: schemas.StepTap, Status: schemas.StepPassed}
	report := &schemas.ExecutionReport{TotalSteps: 1, PassedSteps: 1, StepResults: []schemas.StepResult{result}}

	r.ReplayStarted("sess-1", 1)
	r.ReplayStepStarted("sess-1", 0, step)
	r.ReplayStepCompleted("sess-1", result)
	r.ReplayCompleted("sess-1", report)

	kinds := make([]EventKind, 0, 4)
	for i := 0; i < 4; i++ {
		kinds = append(kinds, (<-ch).Kind)
	}
	assert.Equal(t, []EventKind{
		EventReplayStarted,
		EventReplayStepStarted,
		EventReplayStepDone,
		EventReplayCompleted,
	}, kinds)
}

func TestRecorder_FailedReplayEmitsReplayError(t *testing.T) {
	r := NewRecorder(zap.NewNop())
	ch, unsubscribe := r.Subscribe(EventReplayError)
	defer unsubscribe()

	r.ReplayCompleted("sess-2", &schemas.ExecutionReport{
		TotalSteps:   2,
		FailedSteps:  1,
		ErrorMessage: "tap: unresolved locator",
	})

	ev := <-ch
	assert.Equal(t, EventReplayError, ev.Kind)
	assert.Equal(t, "tap: unresolved locator", ev.Error)
	require.NotNil(t, ev.Report)
	assert.Equal(t, 1, ev.Report.FailedSteps)
}

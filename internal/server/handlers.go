// File: internal/server/handlers.go
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/klynelabs/uirunner/api/schemas"
	"github.com/klynelabs/uirunner/internal/interpreter"
	"github.com/klynelabs/uirunner/internal/recording"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Handlers implements the local surface endpoints. Interaction passthroughs
// execute against a live driver and, when a recording session is open, append
// the equivalent step to the session log.
type Handlers struct {
	log      *zap.Logger
	recorder *recording.Recorder
	drivers  schemas.DriverProvider
	interp   *interpreter.Interpreter

	mu      sync.Mutex
	devices map[string]schemas.DeviceDriver
	page    schemas.PageDriver

	replayMu sync.Mutex
}

// NewHandlers creates the handler set.
func NewHandlers(logger *zap.Logger, recorder *recording.Recorder, drivers schemas.DriverProvider, interp *interpreter.Interpreter) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		log:      logger.With(zap.String("component", "local_handlers")),
		recorder: recorder,
		drivers:  drivers,
		interp:   interp,
		devices:  make(map[string]schemas.DeviceDriver),
	}
}

// RegisterRoutes mounts everything except the event stream, which the server
// wires outside the request-timeout group.
func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.HandleHealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/recording", func(r chi.Router) {
			r.Post("/start", h.HandleRecordingStart)
			r.Post("/stop", h.HandleRecordingStop)
			r.Post("/pause", h.HandleRecordingPause)
			r.Post("/resume", h.HandleRecordingResume)
			r.Get("/steps", h.HandleRecordingSteps)
			r.Post("/replay", h.HandleReplay)
		})
		r.Route("/device", func(r chi.Router) {
			r.Post("/tap", h.HandleDeviceTap)
			r.Post("/input", h.HandleDeviceInput)
			r.Post("/swipe", h.HandleDeviceSwipe)
			r.Post("/key", h.HandleDeviceKey)
		})
		r.Post("/page/navigate", h.HandlePageNavigate)
	})
}

// HandleHealthCheck confirms the surface is responsive.
func (h *Handlers) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// --- recording session controls ---

func (h *Handlers) HandleRecordingStart(w http.ResponseWriter, r *http.Request) {
	id, err := h.recorder.Start()
	if err != nil {
		h.respondWithError(w, http.StatusConflict, err.Error())
		return
	}
	h.respondWithSuccess(w, http.StatusCreated, map[string]string{"session_id": id})
}

func (h *Handlers) HandleRecordingStop(w http.ResponseWriter, r *http.Request) {
	if err := h.recorder.Stop(); err != nil {
		h.respondWithError(w, http.StatusConflict, err.Error())
		return
	}
	h.respondWithSuccess(w, http.StatusOK, map[string]any{
		"session_id": h.recorder.SessionID(),
		"steps":      len(h.recorder.Steps()),
	})
}

func (h *Handlers) HandleRecordingPause(w http.ResponseWriter, r *http.Request) {
	if err := h.recorder.Pause(); err != nil {
		h.respondWithError(w, http.StatusConflict, err.Error())
		return
	}
	h.respondWithSuccess(w, http.StatusOK, map[string]bool{"paused": true})
}

func (h *Handlers) HandleRecordingResume(w http.ResponseWriter, r *http.Request) {
	if err := h.recorder.Resume(); err != nil {
		h.respondWithError(w, http.StatusConflict, err.Error())
		return
	}
	h.respondWithSuccess(w, http.StatusOK, map[string]bool{"paused": false})
}

func (h *Handlers) HandleRecordingSteps(w http.ResponseWriter, r *http.Request) {
	steps := h.recorder.Steps()
	h.respondWithSuccess(w, http.StatusOK, map[string]any{
		"session_id": h.recorder.SessionID(),
		"count":      len(steps),
		"steps":      steps,
	})
}

// --- interaction passthrough ---

type tapRequest struct {
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Serial string `json:"serial,omitempty"`
}

func (h *Handlers) HandleDeviceTap(w http.ResponseWriter, r *http.Request) {
	var req tapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	driver, err := h.deviceFor(r.Context(), req.Serial)
	if err != nil {
		h.respondWithError(w, http.StatusBadGateway, err.Error())
		return
	}
	point := schemas.Point{X: req.X, Y: req.Y}
	if err := driver.Tap(r.Context(), point); err != nil {
		h.respondWithError(w, http.StatusBadGateway, err.Error())
		return
	}

	step := schemas.Step{Type: schemas.StepTap, Point: &point}
	h.enrichTap(r.Context(), driver, &step, point)
	recorded := h.recorder.Capture(step)
	h.respondWithSuccess(w, http.StatusOK, map[string]any{"recorded": recorded})
}

// enrichTap attaches the strongest locator the current UI offers to a
// captured tap, so replay survives layout drift. Failure leaves the raw
// coordinates in place.
func (h *Handlers) enrichTap(ctx context.Context, driver schemas.DeviceDriver, step *schemas.Step, point schemas.Point) {
	if !h.recorder.Active() {
		return
	}
	snap, err := driver.DumpHierarchy(ctx)
	if err != nil {
		h.log.Debug("Hierarchy capture for tap enrichment failed", zap.Error(err))
		return
	}
	_, bundle := h.interp.Resolver().ResolvePoint(snap, point)
	if best := bundle.Best(); best != nil && best.Strategy != schemas.StrategyPoint {
		step.Locator = &schemas.Locator{Strategy: best.Strategy, Value: best.Value, Point: &point}
	}
}

type inputRequest struct {
	Text   string `json:"text"`
	Serial string `json:"serial,omitempty"`
}

func (h *Handlers) HandleDeviceInput(w http.ResponseWriter, r *http.Request) {
	var req inputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	driver, err := h.deviceFor(r.Context(), req.Serial)
	if err != nil {
		h.respondWithError(w, http.StatusBadGateway, err.Error())
		return
	}
	if err := driver.InputText(r.Context(), req.Text); err != nil {
		h.respondWithError(w, http.StatusBadGateway, err.Error())
		return
	}

	recorded := h.recorder.Capture(schemas.Step{Type: schemas.StepInputText, Text: req.Text})
	h.respondWithSuccess(w, http.StatusOK, map[string]any{"recorded": recorded})
}

type swipeRequest struct {
	FromX      int    `json:"from_x"`
	FromY      int    `json:"from_y"`
	ToX        int    `json:"to_x"`
	ToY        int    `json:"to_y"`
	DurationMs int64  `json:"duration_ms"`
	Serial     string `json:"serial,omitempty"`
}

func (h *Handlers) HandleDeviceSwipe(w http.ResponseWriter, r *http.Request) {
	var req swipeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	driver, err := h.deviceFor(r.Context(), req.Serial)
	if err != nil {
		h.respondWithError(w, http.StatusBadGateway, err.Error())
		return
	}
	from := schemas.Point{X: req.FromX, Y: req.FromY}
	to := schemas.Point{X: req.ToX, Y: req.ToY}
	if err := driver.Swipe(r.Context(), from, to, time.Duration(req.DurationMs)*time.Millisecond); err != nil {
		h.respondWithError(w, http.StatusBadGateway, err.Error())
		return
	}

	recorded := h.recorder.Capture(schemas.Step{
		Type:       schemas.StepSwipe,
		From:       &from,
		To:         &to,
		DurationMs: req.DurationMs,
	})
	h.respondWithSuccess(w, http.StatusOK, map[string]any{"recorded": recorded})
}

type keyRequest struct {
	KeyCode int    `json:"keycode"`
	Serial  string `json:"serial,omitempty"`
}

func (h *Handlers) HandleDeviceKey(w http.ResponseWriter, r *http.Request) {
	var req keyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	driver, err := h.deviceFor(r.Context(), req.Serial)
	if err != nil {
		h.respondWithError(w, http.StatusBadGateway, err.Error())
		return
	}
	if err := driver.PressKey(r.Context(), req.KeyCode); err != nil {
		h.respondWithError(w, http.StatusBadGateway, err.Error())
		return
	}

	recorded := h.recorder.Capture(schemas.Step{Type: schemas.StepPressKey, KeyCode: req.KeyCode})
	h.respondWithSuccess(w, http.StatusOK, map[string]any{"recorded": recorded})
}

type navigateRequest struct {
	URL string `json:"url"`
}

func (h *Handlers) HandlePageNavigate(w http.ResponseWriter, r *http.Request) {
	var req navigateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if req.URL == "" {
		h.respondWithError(w, http.StatusBadRequest, "url is required")
		return
	}

	driver, err := h.pageDriver(r.Context())
	if err != nil {
		h.respondWithError(w, http.StatusBadGateway, err.Error())
		return
	}
	if err := driver.Navigate(r.Context(), req.URL); err != nil {
		h.respondWithError(w, http.StatusBadGateway, err.Error())
		return
	}

	recorded := h.recorder.Capture(schemas.Step{Type: schemas.StepNavigate, URL: req.URL})
	h.respondWithSuccess(w, http.StatusOK, map[string]any{"recorded": recorded})
}

// --- replay ---

type replayRequest struct {
	Kind          schemas.JobKind `json:"kind"`
	TargetContext string          `json:"target_context,omitempty"`
}

// HandleReplay runs the captured step log against a fresh driver and streams
// progress through the event bus. One replay at a time; replaying while a
// session is still recording is refused.
func (h *Handlers) HandleReplay(w http.ResponseWriter, r *http.Request) {
	if h.recorder.Active() {
		h.respondWithError(w, http.StatusConflict, "stop the recording session before replaying")
		return
	}
	if !h.replayMu.TryLock() {
		h.respondWithError(w, http.StatusConflict, "a replay is already running")
		return
	}
	defer h.replayMu.Unlock()

	var req replayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if req.Kind == "" {
		req.Kind = schemas.JobKindDevice
	}

	steps := h.recorder.Steps()
	if len(steps) == 0 {
		h.respondWithError(w, http.StatusBadRequest, "no recorded steps to replay")
		return
	}

	sessionID := h.recorder.SessionID()
	hooks := &interpreter.Hooks{
		OnStepStarted: func(index int, step schemas.Step) {
			h.recorder.ReplayStepStarted(sessionID, index, step)
		},
		OnStepCompleted: func(result schemas.StepResult) {
			h.recorder.ReplayStepCompleted(sessionID, result)
		},
	}

	h.recorder.ReplayStarted(sessionID, len(steps))

	var report *schemas.ExecutionReport
	switch req.Kind {
	case schemas.JobKindDevice:
		driver, err := h.drivers.AcquireDevice(r.Context(), req.TargetContext)
		if err != nil {
			h.failReplay(w, sessionID, len(steps), err)
			return
		}
		defer driver.Close(r.Context())
		report = h.interp.RunDevice(r.Context(), steps, driver, nil, hooks)

	case schemas.JobKindPage:
		driver, err := h.drivers.AcquirePage(r.Context(), req.TargetContext)
		if err != nil {
			h.failReplay(w, sessionID, len(steps), err)
			return
		}
		defer driver.Close(r.Context())
		report = h.interp.RunPage(r.Context(), steps, driver, nil, hooks)

	default:
		h.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("unknown replay kind %q", req.Kind))
		return
	}

	h.recorder.ReplayCompleted(sessionID, report)
	h.respondWithSuccess(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"status":     interpreter.StatusFor(report),
		"report":     report,
	})
}

func (h *Handlers) failReplay(w http.ResponseWriter, sessionID string, total int, err error) {
	h.log.Error("Replay could not acquire a driver", zap.Error(err))
	h.recorder.ReplayCompleted(sessionID, &schemas.ExecutionReport{
		TotalSteps:   total,
		StepResults:  []schemas.StepResult{},
		ErrorMessage: err.Error(),
	})
	h.respondWithError(w, http.StatusBadGateway, err.Error())
}

// --- event stream ---

// HandleEvents streams bridge events as server-sent events. The optional
// "kind" query parameter narrows the stream to one event kind.
func (h *Handlers) HandleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.respondWithError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	kind := recording.EventKind(r.URL.Query().Get("kind"))
	if kind == "" {
		kind = recording.EventAny
	}
	events, unsubscribe := h.recorder.Subscribe(kind)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-events:
			if !open {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				h.log.Warn("Failed to encode event", zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data)
			flusher.Flush()
		}
	}
}

// --- driver caching ---

// deviceFor returns a cached driver for the serial, acquiring on first use.
// Passthrough calls share drivers so interactive sessions do not re-handshake
// the bridge per tap.
func (h *Handlers) deviceFor(ctx context.Context, serial string) (schemas.DeviceDriver, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if d, ok := h.devices[serial]; ok {
		return d, nil
	}
	d, err := h.drivers.AcquireDevice(ctx, serial)
	if err != nil {
		return nil, err
	}
	h.devices[serial] = d
	return d, nil
}

func (h *Handlers) pageDriver(ctx context.Context) (schemas.PageDriver, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.page != nil {
		return h.page, nil
	}
	d, err := h.drivers.AcquirePage(ctx, "")
	if err != nil {
		return nil, err
	}
	h.page = d
	return d, nil
}

// Close releases any cached drivers.
func (h *Handlers) Close(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for serial, d := range h.devices {
		if err := d.Close(ctx); err != nil {
			h.log.Debug("Device driver close failed", zap.String("serial", serial), zap.Error(err))
		}
	}
	h.devices = make(map[string]schemas.DeviceDriver)
	if h.page != nil {
		if err := h.page.Close(ctx); err != nil {
			h.log.Debug("Page driver close failed", zap.Error(err))
		}
		h.page = nil
	}
}

// --- response helpers ---

func (h *Handlers) respondWithError(w http.ResponseWriter, code int, message string) {
	h.respondWithJSON(w, code, map[string]string{"error": message})
}

func (h *Handlers) respondWithSuccess(w http.ResponseWriter, code int, payload any) {
	h.respondWithJSON(w, code, payload)
}

func (h *Handlers) respondWithJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.log.Warn("Failed to encode response", zap.Error(err))
	}
}

// File: internal/server/handlers_test.go
package server

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/klynelabs/uirunner/api/schemas"
	"github.com/klynelabs/uirunner/internal/config"
	"github.com/klynelabs/uirunner/internal/interpreter"
	"github.com/klynelabs/uirunner/internal/locator"
	"github.com/klynelabs/uirunner/internal/recording"
)

const surfaceHierarchy = `<hierarchy>
  <node class="android.widget.FrameLayout" bounds="[0,0][1080,1920]">
    <node class="android.widget.Button" resource-id="com.example:id/go" bounds="[100,200][300,260]"/>
  </node>
</hierarchy>`

// stubDevice records primitives and serves a canned hierarchy.
type stubDevice struct {
	mu    sync.Mutex
	calls []string
	taps  []schemas.Point
}

func (d *stubDevice) record(op string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, op)
}

func (d *stubDevice) Tap(ctx context.Context, p schemas.Point) error {
	d.mu.Lock()
	d.taps = append(d.taps, p)
	d.mu.Unlock()
	d.record("tap")
	return nil
}
func (d *stubDevice) LongPress(ctx context.Context, p schemas.Point, hold time.Duration) error {
	d.record("longPress")
	return nil
}
func (d *stubDevice) InputText(ctx context.Context, text string) error {
	d.record("input:" + text)
	return nil
}
func (d *stubDevice) Swipe(ctx context.Context, from, to schemas.Point, over time.Duration) error {
	d.record("swipe")
	return nil
}
func (d *stubDevice) PressKey(ctx context.Context, code int) error {
	d.record("key")
	return nil
}
func (d *stubDevice) LaunchApp(ctx context.Context, id string) error    { d.record("launch"); return nil }
func (d *stubDevice) StopApp(ctx context.Context, id string) error     { d.record("stop"); return nil }
func (d *stubDevice) ClearAppData(ctx context.Context, id string) error { d.record("clear"); return nil }
func (d *stubDevice) UninstallApp(ctx context.Context, id string) error {
	d.record("uninstall")
	return nil
}
func (d *stubDevice) DumpHierarchy(ctx context.Context) (*schemas.UIHierarchySnapshot, error) {
	return locator.ParseHierarchyXML([]byte(surfaceHierarchy))
}
func (d *stubDevice) CaptureScreenshot(ctx context.Context) ([]byte, error) {
	return []byte{1}, nil
}
func (d *stubDevice) Close(ctx context.Context) error { return nil }

func (d *stubDevice) callList() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.calls))
	copy(out, d.calls)
	return out
}

// stubPage is a no-op page driver that records navigations.
type stubPage struct {
	mu   sync.Mutex
	urls []string
}

func (d *stubPage) Navigate(ctx context.Context, url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, url)
	return nil
}
func (d *stubPage) Click(ctx context.Context, sel string) error       { return nil }
func (d *stubPage) Fill(ctx context.Context, sel, text string) error  { return nil }
func (d *stubPage) WaitVisible(ctx context.Context, sel string) error { return nil }
func (d *stubPage) Select(ctx context.Context, sel, v string) error   { return nil }
func (d *stubPage) Text(ctx context.Context, sel string) (string, error) {
	return "", nil
}
func (d *stubPage) Visible(ctx context.Context, sel string) (bool, error) { return true, nil }
func (d *stubPage) CaptureScreenshot(ctx context.Context) ([]byte, error) { return []byte{1}, nil }
func (d *stubPage) Close(ctx context.Context) error                       { return nil }

type stubSurfaceProvider struct {
	device    *stubDevice
	page      *stubPage
	deviceErr error
}

func (p *stubSurfaceProvider) AcquirePage(ctx context.Context, baseURL string) (schemas.PageDriver, error) {
	return p.page, nil
}
func (p *stubSurfaceProvider) AcquireDevice(ctx context.Context, sel string) (schemas.DeviceDriver, error) {
	if p.deviceErr != nil {
		return nil, p.deviceErr
	}
	return p.device, nil
}

type fixture struct {
	recorder *recording.Recorder
	device   *stubDevice
	page     *stubPage
	provider *stubSurfaceProvider
	server   *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	rec := recording.NewRecorder(zap.NewNop())
	device := &stubDevice{}
	pageDrv := &stubPage{}
	provider := &stubSurfaceProvider{device: device, page: pageDrv}
	interp := interpreter.New(config.InterpreterConfig{StepTimeout: time.Second}, zap.NewNop())

	handlers := NewHandlers(zap.NewNop(), rec, provider, interp)
	srv := NewServer(config.ServerConfig{ListenAddr: "127.0.0.1:0"}, zap.NewNop(), handlers)
	ts := httptest.NewServer(srv.router())
	t.Cleanup(ts.Close)

	return &fixture{recorder: rec, device: device, page: pageDrv, provider: provider, server: ts}
}

func (f *fixture) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(f.server.URL+path, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func (f *fixture) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(f.server.URL + path)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	resp := f.get(t, "/healthz")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRecordingLifecycleOverHTTP(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/api/v1/recording/start", nil)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.NotEmpty(t, body["session_id"])

	// Second start is refused while the session is open.
	resp = f.post(t, "/api/v1/recording/start", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	// A tap is executed and captured.
	resp = f.post(t, "/api/v1/device/tap", map[string]int{"x": 150, "y": 230})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decodeBody(t, resp)["recorded"])

	// Paused: the interaction still executes but is not captured.
	resp = f.post(t, "/api/v1/recording/pause", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = f.post(t, "/api/v1/device/input", map[string]string{"text": "lost"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, decodeBody(t, resp)["recorded"])

	resp = f.post(t, "/api/v1/recording/resume", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = f.post(t, "/api/v1/device/input", map[string]string{"text": "kept"})
	assert.Equal(t, true, decodeBody(t, resp)["recorded"])

	resp = f.post(t, "/api/v1/recording/stop", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// Both interactions reached the device, only two were captured.
	calls := f.device.callList()
	assert.Contains(t, calls, "input:lost")
	assert.Contains(t, calls, "input:kept")

	resp = f.get(t, "/api/v1/recording/steps")
	stepsBody := decodeBody(t, resp)
	assert.Equal(t, float64(2), stepsBody["count"])
}

func TestTapEnrichmentAttachesLocator(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/api/v1/recording/start", nil)
	resp.Body.Close()

	// The tap lands inside the button node, so capture upgrades it to a
	// resource-id locator with the raw point kept as fallback.
	resp = f.post(t, "/api/v1/device/tap", map[string]int{"x": 150, "y": 230})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	steps := f.recorder.Steps()
	require.Len(t, steps, 1)
	require.NotNil(t, steps[0].Locator)
	assert.Equal(t, schemas.StrategyResourceID, steps[0].Locator.Strategy)
	assert.Equal(t, "com.example:id/go", steps[0].Locator.Value)
	require.NotNil(t, steps[0].Locator.Point)
	assert.Equal(t, schemas.Point{X: 150, Y: 230}, *steps[0].Locator.Point)
}

func TestPassthroughWithoutSessionStillExecutes(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/api/v1/device/tap", map[string]int{"x": 5, "y": 5})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, decodeBody(t, resp)["recorded"])
	assert.Contains(t, f.device.callList(), "tap")
}

func TestPageNavigatePassthrough(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/api/v1/recording/start", nil)
	resp.Body.Close()

	resp = f.post(t, "/api/v1/page/navigate", map[string]string{"url": "https://example.com"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	f.page.mu.Lock()
	urls := append([]string(nil), f.page.urls...)
	f.page.mu.Unlock()
	assert.Equal(t, []string{"https://example.com"}, urls)

	steps := f.recorder.Steps()
	require.Len(t, steps, 1)
	assert.Equal(t, schemas.StepNavigate, steps[0].Type)

	resp = f.post(t, "/api/v1/page/navigate", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestReplayRunsRecordedSteps(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/api/v1/recording/start", nil)
	resp.Body.Close()
	resp = f.post(t, "/api/v1/device/tap", map[string]int{"x": 150, "y": 230})
	resp.Body.Close()
	resp = f.post(t, "/api/v1/device/input", map[string]string{"text": "hello"})
	resp.Body.Close()

	// Replay while recording is refused.
	resp = f.post(t, "/api/v1/recording/replay", map[string]string{"kind": "device"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	resp = f.post(t, "/api/v1/recording/stop", nil)
	resp.Body.Close()

	before := len(f.device.callList())
	resp = f.post(t, "/api/v1/recording/replay", map[string]string{"kind": "device"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "completed", body["status"])

	report := body["report"].(map[string]any)
	assert.Equal(t, float64(2), report["passed_steps"])
	assert.Greater(t, len(f.device.callList()), before, "replay re-executed the interactions")
}

func TestReplayWithNoStepsIsRejected(t *testing.T) {
	f := newFixture(t)
	resp := f.post(t, "/api/v1/recording/replay", map[string]string{"kind": "device"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestReplayDriverFailureEmitsError(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/api/v1/recording/start", nil)
	resp.Body.Close()
	resp = f.post(t, "/api/v1/device/tap", map[string]int{"x": 1, "y": 1})
	resp.Body.Close()
	resp = f.post(t, "/api/v1/recording/stop", nil)
	resp.Body.Close()

	events, unsubscribe := f.recorder.Subscribe(recording.EventReplayError)
	defer unsubscribe()

	f.provider.deviceErr = errors.New("bridge offline")
	resp = f.post(t, "/api/v1/recording/replay", map[string]string{"kind": "device"})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	resp.Body.Close()

	select {
	case ev := <-events:
		assert.Equal(t, recording.EventReplayError, ev.Kind)
		assert.Contains(t, ev.Error, "bridge offline")
	case <-time.After(time.Second):
		t.Fatal("no replay-error event")
	}
}

func TestEventStream(t *testing.T) {
	f := newFixture(t)

	req, err := http.NewRequest(http.MethodGet, f.server.URL+"/api/v1/events?kind=step-added", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Give the subscription a moment to register before producing events.
	time.Sleep(50 * time.Millisecond)

	startResp := f.post(t, "/api/v1/recording/start", nil)
	startResp.Body.Close()
	tapResp := f.post(t, "/api/v1/device/tap", map[string]int{"x": 150, "y": 230})
	tapResp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	var eventLine, dataLine string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			eventLine = line
		}
		if strings.HasPrefix(line, "data: ") {
			dataLine = line
			break
		}
	}
	require.Equal(t, "event: step-added", eventLine)

	var ev recording.Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(dataLine, "data: ")), &ev))
	assert.Equal(t, recording.EventStepAdded, ev.Kind)
	require.NotNil(t, ev.Step)
	assert.Equal(t, schemas.StepTap, ev.Step.Type)
}

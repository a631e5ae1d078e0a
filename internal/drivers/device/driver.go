// File: internal/drivers/device/driver.go

// Package device provides the mobile capability driver. It speaks JSON over
// HTTP to a local automation bridge running on (or tethered to) the device;
// the bridge translates primitives into platform input events and serves UI
// hierarchy dumps as XML.
package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/klynelabs/uirunner/api/schemas"
	"github.com/klynelabs/uirunner/internal/config"
	"github.com/klynelabs/uirunner/internal/locator"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// serialHeader carries the target device serial so one bridge can multiplex
// several attached devices.
const serialHeader = "X-Device-Serial"

// Provider hands out drivers bound to a device serial.
type Provider struct {
	cfg    config.DeviceConfig
	logger *zap.Logger
}

// NewProvider creates a provider for the configured bridge endpoint.
func NewProvider(cfg config.DeviceConfig, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "device_provider")),
	}
}

// Acquire returns a driver for the device identified by serial and verifies
// the bridge is reachable. An empty serial targets the bridge's default
// device.
func (p *Provider) Acquire(ctx context.Context, serial string) (schemas.DeviceDriver, error) {
	if p.cfg.BridgeURL == "" {
		return nil, errors.New("device bridge URL is not configured")
	}
	d := &Driver{
		baseURL:    strings.TrimRight(p.cfg.BridgeURL, "/"),
		serial:     serial,
		httpClient: &http.Client{Timeout: p.cfg.RequestTimeout},
		logger:     p.logger.With(zap.String("component", "device_driver"), zap.String("serial", serial)),
	}
	if err := d.ping(ctx); err != nil {
		return nil, fmt.Errorf("device bridge unreachable: %w", err)
	}
	return d, nil
}

// Driver executes primitives against one device through the bridge.
type Driver struct {
	baseURL    string
	serial     string
	httpClient *http.Client
	logger     *zap.Logger
}

var _ schemas.DeviceDriver = (*Driver)(nil)

type pointPayload struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type swipePayload struct {
	FromX      int   `json:"from_x"`
	FromY      int   `json:"from_y"`
	ToX        int   `json:"to_x"`
	ToY        int   `json:"to_y"`
	DurationMs int64 `json:"duration_ms"`
}

func (d *Driver) ping(ctx context.Context) error {
	_, err := d.get(ctx, "/health")
	return err
}

// Tap sends a single touch at the point.
func (d *Driver) Tap(ctx context.Context, p schemas.Point) error {
	return d.post(ctx, "/input/tap", pointPayload{X: p.X, Y: p.Y})
}

// LongPress holds a touch at the point for the given duration.
func (d *Driver) LongPress(ctx context.Context, p schemas.Point, hold time.Duration) error {
	return d.post(ctx, "/input/longpress", struct {
		pointPayload
		DurationMs int64 `json:"duration_ms"`
	}{pointPayload{X: p.X, Y: p.Y}, hold.Milliseconds()})
}

// InputText types into the currently focused element.
func (d *Driver) InputText(ctx context.Context, text string) error {
	return d.post(ctx, "/input/text", struct {
		Text string `json:"text"`
	}{text})
}

// Swipe drags from one point to another over the given duration.
func (d *Driver) Swipe(ctx context.Context, from, to schemas.Point, over time.Duration) error {
	return d.post(ctx, "/input/swipe", swipePayload{
		FromX:      from.X,
		FromY:      from.Y,
		ToX:        to.X,
		ToY:        to.Y,
		DurationMs: over.Milliseconds(),
	})
}

// PressKey sends a hardware key event by platform keycode.
func (d *Driver) PressKey(ctx context.Context, code int) error {
	return d.post(ctx, "/input/key", struct {
		KeyCode int `json:"keycode"`
	}{code})
}

// LaunchApp starts the app's main activity.
func (d *Driver) LaunchApp(ctx context.Context, appID string) error {
	return d.appOp(ctx, "launch", appID)
}

// StopApp force-stops the app.
func (d *Driver) StopApp(ctx context.Context, appID string) error {
	return d.appOp(ctx, "stop", appID)
}

// ClearAppData clears the app's storage, resetting it to first-run state.
func (d *Driver) ClearAppData(ctx context.Context, appID string) error {
	return d.appOp(ctx, "clear", appID)
}

// UninstallApp removes the app from the device.
func (d *Driver) UninstallApp(ctx context.Context, appID string) error {
	return d.appOp(ctx, "uninstall", appID)
}

func (d *Driver) appOp(ctx context.Context, op, appID string) error {
	return d.post(ctx, "/app/"+op, struct {
		AppID string `json:"app_id"`
	}{appID})
}

// DumpHierarchy captures the current UI tree as a parsed snapshot.
func (d *Driver) DumpHierarchy(ctx context.Context) (*schemas.UIHierarchySnapshot, error) {
	raw, err := d.get(ctx, "/hierarchy")
	if err != nil {
		return nil, err
	}
	snap, err := locator.ParseHierarchyXML(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse hierarchy dump: %w", err)
	}
	return snap, nil
}

// CaptureScreenshot returns the device screen as PNG bytes.
func (d *Driver) CaptureScreenshot(ctx context.Context) ([]byte, error) {
	raw, err := d.get(ctx, "/screenshot")
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, errors.New("screenshot capture returned no data")
	}
	return raw, nil
}

// Close releases the driver. The bridge itself is a long-lived external
// process, so there is nothing to tear down besides idle connections.
func (d *Driver) Close(ctx context.Context) error {
	d.httpClient.CloseIdleConnections()
	return nil
}

func (d *Driver) post(ctx context.Context, path string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode bridge request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	_, err = d.send(req)
	return err
}

func (d *Driver) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return d.send(req)
}

func (d *Driver) send(req *http.Request) ([]byte, error) {
	if d.serial != "" {
		req.Header.Set(serialHeader, d.serial)
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read bridge response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s %s: bridge returned %d: %s",
			req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

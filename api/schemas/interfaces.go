// Package schemas holds the shared wire types and capability interfaces of
// the agent. Interfaces live here, next to the types they exchange, so that
// the interpreter, the drivers and the local server all depend on one
// contract without import cycles.
package schemas

import (
	"context"
	"time"
)

// PageDriver performs one primitive action against a browser page. The
// interpreter never talks to an automation engine directly; it only calls
// through this interface. Every call is a suspension point and must respect
// the supplied context.
type PageDriver interface {
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, selector string) error
	Fill(ctx context.Context, selector, text string) error
	WaitVisible(ctx context.Context, selector string) error
	Select(ctx context.Context, selector, value string) error
	Text(ctx context.Context, selector string) (string, error)
	Visible(ctx context.Context, selector string) (bool, error)
	CaptureScreenshot(ctx context.Context) ([]byte, error)

	// Close tears down the page. It is called unconditionally when the
	// owning job finishes; a driver instance is never reused across jobs.
	Close(ctx context.Context) error
}

// DeviceDriver performs one primitive action against a mobile device.
type DeviceDriver interface {
	Tap(ctx context.Context, p Point) error
	LongPress(ctx context.Context, p Point, hold time.Duration) error
	InputText(ctx context.Context, text string) error
	Swipe(ctx context.Context, from, to Point, over time.Duration) error
	PressKey(ctx context.Context, code int) error
	LaunchApp(ctx context.Context, appID string) error
	StopApp(ctx context.Context, appID string) error
	ClearAppData(ctx context.Context, appID string) error
	UninstallApp(ctx context.Context, appID string) error

	// DumpHierarchy captures a fresh UI hierarchy snapshot. Capture happens
	// once per interaction, not once per frame; callers must not re-capture
	// mid-interaction.
	DumpHierarchy(ctx context.Context) (*UIHierarchySnapshot, error)
	CaptureScreenshot(ctx context.Context) ([]byte, error)

	Close(ctx context.Context) error
}

// DriverProvider acquires the capability driver implied by a job's kind.
// Acquisition failure fails the whole job immediately with no step results.
type DriverProvider interface {
	AcquirePage(ctx context.Context, baseURL string) (PageDriver, error)
	AcquireDevice(ctx context.Context, deviceSelector string) (DeviceDriver, error)
}

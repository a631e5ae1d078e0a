// File: internal/drivers/provider.go

// Package drivers composes the page and device capability providers behind
// the single acquisition interface the agent consumes.
package drivers

import (
	"context"

	"go.uber.org/zap"

	"github.com/klynelabs/uirunner/api/schemas"
	"github.com/klynelabs/uirunner/internal/config"
	"github.com/klynelabs/uirunner/internal/drivers/device"
	"github.com/klynelabs/uirunner/internal/drivers/page"
)

// Provider implements schemas.DriverProvider over a shared browser process
// and a device bridge endpoint.
type Provider struct {
	pages   *page.Provider
	devices *device.Provider
}

var _ schemas.DriverProvider = (*Provider)(nil)

// NewProvider builds the composite provider from configuration.
func NewProvider(cfg config.Interface, logger *zap.Logger) *Provider {
	return &Provider{
		pages:   page.NewProvider(cfg.Browser(), logger),
		devices: device.NewProvider(cfg.Device(), logger),
	}
}

// AcquirePage opens a browser tab positioned at baseURL.
func (p *Provider) AcquirePage(ctx context.Context, baseURL string) (schemas.PageDriver, error) {
	return p.pages.Acquire(ctx, baseURL)
}

// AcquireDevice binds a driver to the device named by the selector.
func (p *Provider) AcquireDevice(ctx context.Context, deviceSelector string) (schemas.DeviceDriver, error) {
	return p.devices.Acquire(ctx, deviceSelector)
}

// Shutdown releases long-lived backend resources.
func (p *Provider) Shutdown() {
	p.pages.Shutdown()
}

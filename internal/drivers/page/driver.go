// File: internal/drivers/page/driver.go

// Package page provides the browser capability driver. A Provider owns one
// headless Chrome process shared by all jobs; each acquired driver is an
// isolated tab with its own CDP session.
package page

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/klynelabs/uirunner/api/schemas"
	"github.com/klynelabs/uirunner/internal/config"
)

// Provider launches the browser lazily on first acquire and hands out tabs.
type Provider struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	initOnce    sync.Once
	initErr     error
	allocCtx    context.Context
	allocCancel context.CancelFunc
}

// NewProvider creates a provider. The browser process is not started until
// the first page is acquired.
func NewProvider(cfg config.BrowserConfig, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "page_provider")),
	}
}

func (p *Provider) initialize() error {
	p.initOnce.Do(func() {
		opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
		opts = append(opts,
			chromedp.Flag("headless", p.cfg.Headless),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-first-run", true),
			chromedp.Flag("disable-dev-shm-usage", true),
		)
		if p.cfg.IgnoreTLSErrors {
			opts = append(opts, chromedp.Flag("ignore-certificate-errors", true))
		}
		for _, arg := range p.cfg.Args {
			opts = append(opts, chromedp.Flag(arg, true))
		}

		p.allocCtx, p.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
		p.logger.Info("Browser allocator initialized", zap.Bool("headless", p.cfg.Headless))
	})
	return p.initErr
}

// Acquire opens a fresh tab. When baseURL is non-empty the tab navigates
// there before the driver is returned, so the first script step starts from
// the job's target context.
func (p *Provider) Acquire(ctx context.Context, baseURL string) (schemas.PageDriver, error) {
	if err := p.initialize(); err != nil {
		return nil, err
	}

	tabCtx, tabCancel := chromedp.NewContext(p.allocCtx)

	d := &Driver{
		ctx:    tabCtx,
		cancel: tabCancel,
		cfg:    p.cfg,
		logger: p.logger.With(zap.String("component", "page_driver")),
	}

	// Enabling the network domain forces the browser process and target to
	// come up now, so launch failures surface at acquire time instead of
	// mid-script.
	if err := d.run(ctx, network.Enable()); err != nil {
		tabCancel()
		return nil, fmt.Errorf("failed to open browser tab: %w", err)
	}

	if baseURL != "" {
		if err := d.Navigate(ctx, baseURL); err != nil {
			_ = d.Close(ctx)
			return nil, fmt.Errorf("failed to open target context %q: %w", baseURL, err)
		}
	}
	return d, nil
}

// Shutdown tears the browser process down. Outstanding drivers become
// unusable.
func (p *Provider) Shutdown() {
	if p.allocCancel != nil {
		p.allocCancel()
		p.logger.Info("Browser allocator shut down")
	}
}

// Driver drives one browser tab over CDP.
type Driver struct {
	ctx    context.Context
	cancel context.CancelFunc
	cfg    config.BrowserConfig
	logger *zap.Logger
}

var _ schemas.PageDriver = (*Driver)(nil)

// run executes chromedp actions on the tab context while honoring the
// caller's deadline and cancellation. chromedp actions must run on the tab's
// own context chain, so the caller context is bridged instead of passed
// through.
func (d *Driver) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(d.ctx)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var dcancel context.CancelFunc
		runCtx, dcancel = context.WithDeadline(runCtx, deadline)
		defer dcancel()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}

// Navigate loads the URL and waits for the document to become ready.
func (d *Driver) Navigate(ctx context.Context, url string) error {
	navCtx := ctx
	if d.cfg.NavigationTimeout > 0 {
		var cancel context.CancelFunc
		navCtx, cancel = context.WithTimeout(ctx, d.cfg.NavigationTimeout)
		defer cancel()
	}
	return d.run(navCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

// Click clicks the first element matching the CSS selector.
func (d *Driver) Click(ctx context.Context, selector string) error {
	return d.run(ctx, chromedp.Click(selector, chromedp.ByQuery))
}

// Fill replaces the value of the matching input element.
func (d *Driver) Fill(ctx context.Context, selector, text string) error {
	return d.run(ctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.SetValue(selector, text, chromedp.ByQuery),
	)
}

// WaitVisible blocks until the element is rendered and visible.
func (d *Driver) WaitVisible(ctx context.Context, selector string) error {
	return d.run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

// Select picks the option with the given value on a select element.
func (d *Driver) Select(ctx context.Context, selector, value string) error {
	return d.run(ctx,
		chromedp.SetValue(selector, value, chromedp.ByQuery),
		chromedp.Evaluate(fmt.Sprintf(
			`document.querySelector(%q).dispatchEvent(new Event("change", {bubbles: true}))`,
			selector), nil),
	)
}

// Text returns the visible text content of the matching element.
func (d *Driver) Text(ctx context.Context, selector string) (string, error) {
	var out string
	if err := d.run(ctx, chromedp.Text(selector, &out, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return out, nil
}

// Visible reports whether the matching element exists and occupies layout.
func (d *Driver) Visible(ctx context.Context, selector string) (bool, error) {
	var visible bool
	expr := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		if (!el) return false;
		const style = window.getComputedStyle(el);
		if (style.display === "none" || style.visibility === "hidden") return false;
		const rect = el.getBoundingClientRect();
		return rect.width > 0 && rect.height > 0;
	})()`, selector)
	if err := d.run(ctx, chromedp.Evaluate(expr, &visible)); err != nil {
		return false, err
	}
	return visible, nil
}

// CaptureScreenshot returns a PNG of the current viewport.
func (d *Driver) CaptureScreenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := d.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	if len(buf) == 0 {
		return nil, errors.New("screenshot capture returned no data")
	}
	return buf, nil
}

// Close releases the tab. The shared browser process stays up for the next
// job.
func (d *Driver) Close(ctx context.Context) error {
	err := chromedp.Cancel(d.ctx)
	d.cancel()
	if err != nil {
		d.logger.Debug("Tab close reported error", zap.Error(err))
	}
	return err
}

// File: internal/interpreter/page_runner.go
package interpreter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/klynelabs/uirunner/api/schemas"
	"github.com/klynelabs/uirunner/internal/config"
)

// pageRunner dispatches page-backend steps onto a PageDriver.
type pageRunner struct {
	driver schemas.PageDriver
	cfg    config.InterpreterConfig
}

func (r *pageRunner) runStep(ctx context.Context, step schemas.Step) (bool, error) {
	switch step.Type {
	case schemas.StepNavigate:
		if step.URL == "" {
			return true, fmt.Errorf("navigate step requires a url")
		}
		return true, r.driver.Navigate(ctx, step.URL)

	case schemas.StepClick:
		sel, err := selectorOf(step)
		if err != nil {
			return true, err
		}
		return true, r.driver.Click(ctx, sel)

	case schemas.StepFill:
		sel, err := selectorOf(step)
		if err != nil {
			return true, err
		}
		return true, r.driver.Fill(ctx, sel, step.Text)

	case schemas.StepWait:
		return true, sleepCtx(ctx, time.Duration(step.DurationMs)*time.Millisecond)

	case schemas.StepWaitForVisible:
		sel, err := selectorOf(step)
		if err != nil {
			return true, err
		}
		waitCtx := ctx
		if r.cfg.WaitVisibleTimeout > 0 {
			var cancel context.CancelFunc
			waitCtx, cancel = context.WithTimeout(ctx, r.cfg.WaitVisibleTimeout)
			defer cancel()
		}
		return true, r.driver.WaitVisible(waitCtx, sel)

	case schemas.StepCaptureScreenshot:
		_, err := r.driver.CaptureScreenshot(ctx)
		return true, err

	case schemas.StepSelect:
		sel, err := selectorOf(step)
		if err != nil {
			return true, err
		}
		return true, r.driver.Select(ctx, sel, step.Value)

	case schemas.StepAssertTextContains:
		sel, err := selectorOf(step)
		if err != nil {
			return true, err
		}
		text, err := r.driver.Text(ctx, sel)
		if err != nil {
			return true, err
		}
		if !strings.Contains(text, step.Expected) {
			return true, fmt.Errorf("text of %q does not contain %q (got %q)", sel, step.Expected, text)
		}
		return true, nil

	case schemas.StepAssertVisible:
		sel, err := selectorOf(step)
		if err != nil {
			return true, err
		}
		visible, err := r.driver.Visible(ctx, sel)
		if err != nil {
			return true, err
		}
		if !visible {
			return true, fmt.Errorf("element %q is not visible", sel)
		}
		return true, nil
	}

	return false, nil
}

func selectorOf(step schemas.Step) (string, error) {
	if step.Locator == nil || step.Locator.Selector == "" {
		return "", fmt.Errorf("%s step requires a locator selector", step.Type)
	}
	return step.Locator.Selector, nil
}

// sleepCtx waits for d or until the context ends, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

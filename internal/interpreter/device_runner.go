// File: internal/interpreter/device_runner.go
package interpreter

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/klynelabs/uirunner/api/schemas"
	"github.com/klynelabs/uirunner/internal/locator"
)

// deviceRunner dispatches device-backend steps onto a DeviceDriver. Locator
// based steps capture one hierarchy snapshot per interaction and resolve
// through the locator engine; coordinate steps always use the literal point.
type deviceRunner struct {
	driver   schemas.DeviceDriver
	resolver *locator.Resolver
	logger   *zap.Logger
}

func (r *deviceRunner) runStep(ctx context.Context, step schemas.Step) (bool, error) {
	switch step.Type {
	case schemas.StepTap:
		p, err := r.interactionPoint(ctx, step)
		if err != nil {
			return true, err
		}
		return true, r.driver.Tap(ctx, p)

	case schemas.StepLongPress:
		p, err := r.interactionPoint(ctx, step)
		if err != nil {
			return true, err
		}
		return true, r.driver.LongPress(ctx, p, time.Duration(step.DurationMs)*time.Millisecond)

	case schemas.StepInputText:
		return true, r.driver.InputText(ctx, step.Text)

	case schemas.StepSwipe:
		if step.From == nil || step.To == nil {
			return true, fmt.Errorf("swipe step requires from and to points")
		}
		return true, r.driver.Swipe(ctx, *step.From, *step.To, time.Duration(step.DurationMs)*time.Millisecond)

	case schemas.StepPressKey:
		return true, r.driver.PressKey(ctx, step.KeyCode)

	case schemas.StepLaunchApp:
		return true, r.withAppID(ctx, step, r.driver.LaunchApp)

	case schemas.StepStopApp:
		return true, r.withAppID(ctx, step, r.driver.StopApp)

	case schemas.StepClearAppData:
		return true, r.withAppID(ctx, step, r.driver.ClearAppData)

	case schemas.StepUninstallApp:
		return true, r.withAppID(ctx, step, r.driver.UninstallApp)

	case schemas.StepCaptureScreenshot:
		_, err := r.driver.CaptureScreenshot(ctx)
		return true, err
	}

	return false, nil
}

// interactionPoint resolves where a tap or long press should land.
//
// A literal point is used as-is; deriving a locator bundle from the enclosing
// node is best-effort replay metadata and never changes the action. A
// locator-based step captures one fresh snapshot for this interaction and
// resolves through the engine.
func (r *deviceRunner) interactionPoint(ctx context.Context, step schemas.Step) (schemas.Point, error) {
	point := step.Point
	if point == nil && step.Locator != nil && step.Locator.Point != nil && step.Locator.Value == "" {
		point = step.Locator.Point
	}

	if point != nil {
		if snap, err := r.driver.DumpHierarchy(ctx); err == nil {
			if node, bundle := r.resolver.ResolvePoint(snap, *point); node != nil {
				if best := bundle.Best(); best != nil {
					r.logger.Debug("Derived locator for coordinate interaction",
						zap.String("strategy", string(best.Strategy)),
						zap.String("value", best.Value))
				}
			}
		} else {
			// Opportunistic capture only; a failed dump never fails the tap.
			r.logger.Debug("Hierarchy capture for point derivation failed", zap.Error(err))
		}
		return *point, nil
	}

	if step.Locator == nil {
		return schemas.Point{}, fmt.Errorf("%s step requires a locator or a point", step.Type)
	}

	snap, err := r.driver.DumpHierarchy(ctx)
	if err != nil {
		return schemas.Point{}, fmt.Errorf("failed to capture hierarchy for %s: %w", step.Locator.Describe(), err)
	}
	return r.resolver.Resolve(snap, step.Locator)
}

func (r *deviceRunner) withAppID(ctx context.Context, step schemas.Step, fn func(context.Context, string) error) error {
	if step.AppID == "" {
		return fmt.Errorf("%s step requires an app id", step.Type)
	}
	return fn(ctx, step.AppID)
}

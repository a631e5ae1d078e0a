// File: internal/locator/bounds.go
package locator

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/klynelabs/uirunner/api/schemas"
)

// ErrUnresolved is returned whenever a locator or a bounds string cannot be
// mapped to a concrete interaction target. Snapshots legitimately contain
// stale or degenerate nodes, so resolution failures are ordinary errors,
// never panics.
var ErrUnresolved = errors.New("locator unresolved")

// boundsPattern matches the bridge's rectangle encoding "[x1,y1][x2,y2]".
var boundsPattern = regexp.MustCompile(`^\[(-?\d+),(-?\d+)\]\[(-?\d+),(-?\d+)\]$`)

// ParseBounds parses a node's interactable region. Malformed input (missing
// brackets, non-numeric coordinates) and degenerate rectangles (x1 >= x2 or
// y1 >= y2) resolve to ErrUnresolved.
func ParseBounds(s string) (schemas.Rect, error) {
	m := boundsPattern.FindStringSubmatch(s)
	if m == nil {
		return schemas.Rect{}, fmt.Errorf("%w: malformed bounds %q", ErrUnresolved, s)
	}

	coords := make([]int, 4)
	for i, raw := range m[1:] {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return schemas.Rect{}, fmt.Errorf("%w: bounds %q: %v", ErrUnresolved, s, err)
		}
		coords[i] = n
	}

	r := schemas.Rect{X1: coords[0], Y1: coords[1], X2: coords[2], Y2: coords[3]}
	if r.X1 >= r.X2 || r.Y1 >= r.Y2 {
		return schemas.Rect{}, fmt.Errorf("%w: degenerate bounds %q", ErrUnresolved, s)
	}
	return r, nil
}

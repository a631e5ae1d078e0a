package schemas

// -- Locator Schemas --

// LocatorStrategy names one way of identifying a UI element. The resolution
// engine consults strategies in a fixed priority order; identifiers and
// accessibility labels survive app rebuilds far better than coordinates do.
type LocatorStrategy string

const (
	StrategyResourceID    LocatorStrategy = "resource_id"
	StrategyAccessibility LocatorStrategy = "accessibility"
	StrategyText          LocatorStrategy = "text"
	StrategyPath          LocatorStrategy = "path"
	StrategyPoint         LocatorStrategy = "point"
)

// Locator describes a UI element to find at execution time.
//
// Page steps use Selector (a CSS selector handed to the page driver
// verbatim). Device steps use Strategy+Value, or Point for coordinate-only
// interactions.
type Locator struct {
	Selector string          `json:"selector,omitempty"`
	Strategy LocatorStrategy `json:"strategy,omitempty"`
	Value    string          `json:"value,omitempty"`
	Point    *Point          `json:"point,omitempty"`
}

// Describe returns a short human-readable form for error messages.
func (l *Locator) Describe() string {
	switch {
	case l == nil:
		return "<nil locator>"
	case l.Selector != "":
		return l.Selector
	case l.Value != "":
		return string(l.Strategy) + "=" + l.Value
	case l.Point != nil:
		return "point"
	default:
		return string(l.Strategy)
	}
}

// LocatorCandidate is one ranked identification strategy for a node.
type LocatorCandidate struct {
	Strategy LocatorStrategy `json:"strategy"`
	Value    string          `json:"value,omitempty"`
	Point    *Point          `json:"point,omitempty"`
}

// LocatorBundle is the ranked set of candidate strategies computed for one
// node at the moment an interaction occurs. It is consumed immediately (as
// replay metadata); it is never a source of truth beyond one interaction.
type LocatorBundle struct {
	Candidates []LocatorCandidate `json:"candidates"`
}

// Best returns the highest-priority candidate, or nil for an empty bundle.
func (b *LocatorBundle) Best() *LocatorCandidate {
	if b == nil || len(b.Candidates) == 0 {
		return nil
	}
	return &b.Candidates[0]
}

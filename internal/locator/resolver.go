// File: internal/locator/resolver.go
package locator

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/klynelabs/uirunner/api/schemas"
)

// strategyOrder is the explicit resolution priority, highest first. Stable
// identifiers and accessibility labels are the least likely to change between
// app builds; raw coordinates are the most brittle. The ranking lives in one
// slice rather than inlined as chained fallbacks.
var strategyOrder = []schemas.LocatorStrategy{
	schemas.StrategyResourceID,
	schemas.StrategyAccessibility,
	schemas.StrategyText,
	schemas.StrategyPath,
	schemas.StrategyPoint,
}

// Resolver maps locators and screen points onto concrete interaction targets
// within one UI hierarchy snapshot. Snapshots are read-only after capture, so
// the resolver holds no mutable state of its own.
type Resolver struct {
	logger *zap.Logger
}

// NewResolver creates a resolution engine.
func NewResolver(logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{logger: logger.With(zap.String("component", "locator_resolver"))}
}

// Resolve maps a locator to the interaction point of the best matching node
// in the snapshot. A locator carrying only a raw point resolves to that
// literal point. Returns ErrUnresolved when no node matches or the matched
// node has no usable bounds.
func (r *Resolver) Resolve(snap *schemas.UIHierarchySnapshot, loc *schemas.Locator) (schemas.Point, error) {
	if loc == nil {
		return schemas.Point{}, fmt.Errorf("%w: nil locator", ErrUnresolved)
	}
	if loc.Point != nil && (loc.Strategy == "" || loc.Strategy == schemas.StrategyPoint) && loc.Value == "" {
		return *loc.Point, nil
	}
	if snap == nil || snap.Root == nil {
		return schemas.Point{}, fmt.Errorf("%w: no hierarchy snapshot", ErrUnresolved)
	}

	node := r.match(snap, loc)
	if node == nil {
		return schemas.Point{}, fmt.Errorf("%w: no node matches %s", ErrUnresolved, loc.Describe())
	}
	if node.Bounds == nil {
		return schemas.Point{}, fmt.Errorf("%w: node for %s has no usable bounds", ErrUnresolved, loc.Describe())
	}
	return node.Bounds.Center(), nil
}

// match finds the first node satisfying the locator. An explicit strategy is
// honored as-is; a bare value is tried against each strategy in priority
// order so that an identifier match always beats a text match.
func (r *Resolver) match(snap *schemas.UIHierarchySnapshot, loc *schemas.Locator) *schemas.UINode {
	strategies := strategyOrder
	if loc.Strategy != "" {
		strategies = []schemas.LocatorStrategy{loc.Strategy}
	}

	for _, strategy := range strategies {
		if strategy == schemas.StrategyPoint {
			continue
		}
		if node := findByStrategy(snap, strategy, loc.Value); node != nil {
			r.logger.Debug("Locator matched",
				zap.String("strategy", string(strategy)),
				zap.String("value", loc.Value))
			return node
		}
	}
	return nil
}

func findByStrategy(snap *schemas.UIHierarchySnapshot, strategy schemas.LocatorStrategy, value string) *schemas.UINode {
	if value == "" {
		return nil
	}
	var found *schemas.UINode
	snap.Walk(func(n *schemas.UINode) bool {
		if matchesStrategy(n, strategy, value) {
			found = n
			return false
		}
		return true
	})
	return found
}

func matchesStrategy(n *schemas.UINode, strategy schemas.LocatorStrategy, value string) bool {
	switch strategy {
	case schemas.StrategyResourceID:
		return n.Attr(schemas.AttrResourceID) == value
	case schemas.StrategyAccessibility:
		return n.Attr(schemas.AttrContentDesc) == value
	case schemas.StrategyText:
		return n.Attr(schemas.AttrText) == value
	case schemas.StrategyPath:
		return StructuralPath(n) == value
	default:
		return false
	}
}

// ResolvePoint performs point-only resolution: it finds the smallest
// enclosing node whose bounds contain p and derives a locator bundle from it
// for replay robustness. The immediate action must always use the literal
// point; the returned bundle is best-effort metadata only. The node result is
// nil when no node encloses the point.
func (r *Resolver) ResolvePoint(snap *schemas.UIHierarchySnapshot, p schemas.Point) (*schemas.UINode, *schemas.LocatorBundle) {
	var smallest *schemas.UINode
	if snap != nil {
		snap.Walk(func(n *schemas.UINode) bool {
			if n.Bounds != nil && n.Bounds.Contains(p) {
				if smallest == nil || n.Bounds.Area() < smallest.Bounds.Area() {
					smallest = n
				}
			}
			return true
		})
	}

	bundle := r.BundleFor(smallest)
	// The literal point is always a candidate of last resort.
	bundle.Candidates = append(bundle.Candidates, schemas.LocatorCandidate{
		Strategy: schemas.StrategyPoint,
		Point:    &schemas.Point{X: p.X, Y: p.Y},
	})
	return smallest, bundle
}

// BundleFor computes the ranked candidate strategies exposed by one node,
// ordered by strategyOrder. A nil node yields an empty bundle.
func (r *Resolver) BundleFor(node *schemas.UINode) *schemas.LocatorBundle {
	bundle := &schemas.LocatorBundle{}
	if node == nil {
		return bundle
	}

	for _, strategy := range strategyOrder {
		switch strategy {
		case schemas.StrategyResourceID:
			if v := node.Attr(schemas.AttrResourceID); v != "" {
				bundle.Candidates = append(bundle.Candidates, schemas.LocatorCandidate{Strategy: strategy, Value: v})
			}
		case schemas.StrategyAccessibility:
			if v := node.Attr(schemas.AttrContentDesc); v != "" {
				bundle.Candidates = append(bundle.Candidates, schemas.LocatorCandidate{Strategy: strategy, Value: v})
			}
		case schemas.StrategyText:
			if v := node.Attr(schemas.AttrText); v != "" {
				bundle.Candidates = append(bundle.Candidates, schemas.LocatorCandidate{Strategy: strategy, Value: v})
			}
		case schemas.StrategyPath:
			bundle.Candidates = append(bundle.Candidates, schemas.LocatorCandidate{Strategy: strategy, Value: StructuralPath(node)})
		case schemas.StrategyPoint:
			if node.Bounds != nil {
				c := node.Bounds.Center()
				bundle.Candidates = append(bundle.Candidates, schemas.LocatorCandidate{Strategy: strategy, Point: &c})
			}
		}
	}
	return bundle
}

// StructuralPath derives an XPath-like expression for a node from its class
// and sibling position, e.g. "/hierarchy/android.widget.FrameLayout[0]/android.widget.Button[2]".
func StructuralPath(n *schemas.UINode) string {
	if n == nil {
		return ""
	}
	var segments []string
	for cur := n; cur != nil; cur = cur.Parent {
		class := cur.Attr(schemas.AttrClass)
		if class == "" {
			class = "node"
		}
		if cur.Parent == nil {
			segments = append(segments, class)
		} else {
			segments = append(segments, fmt.Sprintf("%s[%d]", class, cur.SiblingIndex))
		}
	}
	// segments were collected leaf-first.
	for i, j := 0, len(segments)-1; i < j; i, j = i+1, j-1 {
		segments[i], segments[j] = segments[j], segments[i]
	}
	return "/" + strings.Join(segments, "/")
}

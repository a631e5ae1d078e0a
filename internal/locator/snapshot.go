// File: internal/locator/snapshot.go
package locator

import (
	"fmt"
	"time"

	"github.com/beevik/etree"

	"github.com/klynelabs/uirunner/api/schemas"
)

// ParseHierarchyXML builds an immutable UIHierarchySnapshot from the device
// bridge's XML dump. Nodes with missing or degenerate bounds are kept in the
// tree (their subtrees may still match a locator) but carry nil bounds and
// therefore never resolve to an interaction point themselves.
func ParseHierarchyXML(data []byte) (*schemas.UIHierarchySnapshot, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("failed to parse hierarchy dump: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("hierarchy dump has no root element")
	}

	return &schemas.UIHierarchySnapshot{
		Root:       buildNode(root, nil, 0),
		CapturedAt: time.Now().UTC(),
	}, nil
}

func buildNode(el *etree.Element, parent *schemas.UINode, siblingIndex int) *schemas.UINode {
	node := &schemas.UINode{
		Attributes:   make(map[string]string, len(el.Attr)),
		Parent:       parent,
		SiblingIndex: siblingIndex,
	}
	for _, a := range el.Attr {
		node.Attributes[a.Key] = a.Value
	}
	// The wrapping element of a dump (e.g. <hierarchy>) carries no class
	// attribute; fall back to the tag so structural paths stay meaningful.
	if node.Attr(schemas.AttrClass) == "" {
		node.Attributes[schemas.AttrClass] = el.Tag
	}

	if raw := node.Attr(schemas.AttrBounds); raw != "" {
		if r, err := ParseBounds(raw); err == nil {
			node.Bounds = &r
		}
	}

	for i, child := range el.ChildElements() {
		node.Children = append(node.Children, buildNode(child, node, i))
	}
	return node
}

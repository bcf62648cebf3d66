// Package hierarchy converts uiautomator window dumps into the flat node
// list stored as the .vh artifact.
package hierarchy

import (
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Node is one view in the flattened hierarchy. Index 0 is the synthetic
// root for the <hierarchy> element; its string fields are null.
type Node struct {
	TempID             int       `json:"temp_id"`
	Parent             int       `json:"parent"`
	Children           []int     `json:"children"`
	ChildCount         int       `json:"child_count"`
	Bounds             [2][2]int `json:"bounds"`
	Size               string    `json:"size"`
	Class              *string   `json:"class"`
	Package            string    `json:"package"`
	Text               *string   `json:"text"`
	ResourceID         *string   `json:"resource_id"`
	ContentDescription *string   `json:"content_description"`
	Checkable          bool      `json:"checkable"`
	Checked            bool      `json:"checked"`
	Clickable          bool      `json:"clickable"`
	Editable           bool      `json:"editable"`
	Enabled            bool      `json:"enabled"`
	Focusable          bool      `json:"focusable"`
	Focused            bool      `json:"focused"`
	IsPassword         bool      `json:"is_password"`
	LongClickable      bool      `json:"long_clickable"`
	Scrollable         bool      `json:"scrollable"`
	Selected           bool      `json:"selected"`
	Visible            bool      `json:"visible"`
}

// Width returns the horizontal extent of the node's bounds.
func (n Node) Width() int { return n.Bounds[1][0] - n.Bounds[0][0] }

// Height returns the vertical extent of the node's bounds.
func (n Node) Height() int { return n.Bounds[1][1] - n.Bounds[0][1] }

// Center returns the midpoint of the node's bounds.
func (n Node) Center() (int, int) {
	return (n.Bounds[0][0] + n.Bounds[1][0]) / 2, (n.Bounds[0][1] + n.Bounds[1][1]) / 2
}

// Parse flattens a window dump in document order. screenW and screenH
// label the root's size.
func Parse(xmlData string, screenW, screenH int) ([]Node, error) {
	decoder := xml.NewDecoder(strings.NewReader(xmlData))

	var nodes []Node
	var stack []int
	foundHierarchy := false

	for {
		token, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse hierarchy: %w", err)
		}

		switch t := token.(type) {
		case xml.StartElement:
			if t.Name.Local == "hierarchy" && !foundHierarchy {
				foundHierarchy = true
				nodes = append(nodes, Node{
					TempID:   0,
					Parent:   -1,
					Children: []int{},
					Size:     fmt.Sprintf("%d*%d", screenW, screenH),
					Enabled:  true,
					Visible:  true,
				})
				stack = append(stack, 0)
				continue
			}
			if !foundHierarchy {
				return nil, fmt.Errorf("invalid window dump: <%s> before <hierarchy>", t.Name.Local)
			}
			if len(stack) == 0 {
				return nil, fmt.Errorf("invalid window dump: <%s> after </hierarchy>", t.Name.Local)
			}

			parent := stack[len(stack)-1]
			id := len(nodes)
			node := newNode(t, id, parent)
			nodes = append(nodes, node)
			nodes[parent].Children = append(nodes[parent].Children, id)
			nodes[parent].ChildCount++
			stack = append(stack, id)

		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}

	if !foundHierarchy {
		return nil, fmt.Errorf("invalid window dump: no hierarchy element found")
	}
	return nodes, nil
}

func newNode(t xml.StartElement, id, parent int) Node {
	node := Node{
		TempID:   id,
		Parent:   parent,
		Children: []int{},
		Visible:  true,
	}
	empty := ""
	node.Class, node.Text, node.ResourceID, node.ContentDescription = &empty, &empty, &empty, &empty

	for _, attr := range t.Attr {
		v := attr.Value
		switch attr.Name.Local {
		case "class":
			node.Class = &v
		case "package":
			node.Package = v
		case "text":
			node.Text = &v
		case "resource-id":
			node.ResourceID = &v
		case "content-desc":
			node.ContentDescription = &v
		case "bounds":
			node.Bounds = parseBounds(v)
		case "checkable":
			node.Checkable = v == "true"
		case "checked":
			node.Checked = v == "true"
		case "clickable":
			node.Clickable = v == "true"
		case "enabled":
			node.Enabled = v == "true"
		case "focusable":
			node.Focusable = v == "true"
		case "focused":
			node.Focused = v == "true"
		case "password":
			node.IsPassword = v == "true"
		case "long-clickable":
			node.LongClickable = v == "true"
		case "scrollable":
			node.Scrollable = v == "true"
		case "selected":
			node.Selected = v == "true"
		case "visible-to-user":
			node.Visible = v != "false"
		}
	}

	node.Editable = strings.Contains(*node.Class, "EditText")
	node.Size = fmt.Sprintf("%d*%d", node.Width(), node.Height())
	return node
}

// parseBounds parses Android bounds string "[x1,y1][x2,y2]".
func parseBounds(s string) [2][2]int {
	s = strings.ReplaceAll(s, "][", ",")
	s = strings.Trim(s, "[]")
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return [2][2]int{}
	}

	var v [4]int
	for i, p := range parts {
		v[i], _ = strconv.Atoi(strings.TrimSpace(p))
	}
	return [2][2]int{{v[0], v[1]}, {v[2], v[3]}}
}

// Marshal renders nodes in the indented .vh layout.
func Marshal(nodes []Node) ([]byte, error) {
	return json.MarshalIndent(nodes, "", "    ")
}

// Find returns the first node matching pred, or false.
func Find(nodes []Node, pred func(Node) bool) (Node, bool) {
	for _, n := range nodes {
		if pred(n) {
			return n, true
		}
	}
	return Node{}, false
}

// WithText matches nodes whose text or content description equals s.
func WithText(s string) func(Node) bool {
	return func(n Node) bool {
		return (n.Text != nil && *n.Text == s) ||
			(n.ContentDescription != nil && *n.ContentDescription == s)
	}
}

// WithResourceID matches nodes by resource id, with or without the
// package prefix.
func WithResourceID(id string) func(Node) bool {
	return func(n Node) bool {
		if n.ResourceID == nil || *n.ResourceID == "" {
			return false
		}
		rid := *n.ResourceID
		return rid == id || strings.HasSuffix(rid, ":id/"+id)
	}
}

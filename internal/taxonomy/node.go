// Package taxonomy reconstructs labeled hierarchies from indentation-encoded
// characteristic listings and supports walking them level by level.
package taxonomy

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrNoSuchChild is returned when a label does not name a child of a node
var ErrNoSuchChild = errors.New("no such child")

// PathCode locates a node by its per-level sibling indices, read top-down.
type PathCode []int

// String renders the code with dot separators, e.g. "1.2.1"
func (p PathCode) String() string {
	parts := make([]string, len(p))
	for i, seg := range p {
		parts[i] = strconv.Itoa(seg)
	}
	return strings.Join(parts, ".")
}

// Node is one characteristic in the taxonomy. The root has an empty label,
// an empty path and depth 0. Nodes are not modified after Build returns.
type Node struct {
	Label    string
	Path     PathCode
	Depth    int
	Children []*Node
}

func newRoot() *Node {
	return &Node{Path: PathCode{}}
}

// attach appends a child with the next sibling index
func (n *Node) attach(label string) *Node {
	path := make(PathCode, len(n.Path), len(n.Path)+1)
	copy(path, n.Path)
	path = append(path, len(n.Children)+1)

	child := &Node{
		Label: label,
		Path:  path,
		Depth: n.Depth + 1,
	}
	n.Children = append(n.Children, child)
	return child
}

// IsLeaf reports whether the node has no children
func (n *Node) IsLeaf() bool {
	return len(n.Children) == 0
}

// ChildLabels returns the labels of the direct children in input order
func (n *Node) ChildLabels() []string {
	labels := make([]string, len(n.Children))
	for i, child := range n.Children {
		labels[i] = child.Label
	}
	return labels
}

// Child returns the first direct child whose label equals label exactly.
func (n *Node) Child(label string) (*Node, error) {
	for _, child := range n.Children {
		if child.Label == label {
			return child, nil
		}
	}
	return nil, fmt.Errorf("%w: %q under %q", ErrNoSuchChild, label, n.describe())
}

// Resolve walks down from n following one label per level
func (n *Node) Resolve(labels ...string) (*Node, error) {
	current := n
	for _, label := range labels {
		next, err := current.Child(label)
		if err != nil {
			return nil, err
		}
		current = next
	}
	return current, nil
}

// Walk visits n and its descendants in pre-order. Returning false from fn
// skips the node's subtree.
func (n *Node) Walk(fn func(*Node) bool) {
	if !fn(n) {
		return
	}
	for _, child := range n.Children {
		child.Walk(fn)
	}
}

// Labels returns every label below n in pre-order
func (n *Node) Labels() []string {
	labels := make([]string, 0)
	n.Walk(func(node *Node) bool {
		if node != n {
			labels = append(labels, node.Label)
		}
		return true
	})
	return labels
}

// Size returns the number of nodes below n
func (n *Node) Size() int {
	count := 0
	n.Walk(func(*Node) bool {
		count++
		return true
	})
	return count - 1
}

func (n *Node) describe() string {
	if len(n.Path) == 0 {
		return "root"
	}
	return n.Path.String() + " " + n.Label
}

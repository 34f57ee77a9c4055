package taxonomy

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ErrAscentPastRoot is returned when an indentation decrease climbs above the root
var ErrAscentPastRoot = errors.New("indentation ascends past the taxonomy root")

const nonBreakingSpace = '\u00a0'

// Builder turns an ordered listing of indented labels into a tree
type Builder struct {
	// IndentUnit is the number of leading spaces per level (2 or 3 depending on vintage)
	IndentUnit int
}

// NewBuilder creates a builder for the given indent unit
func NewBuilder(indentUnit int) (*Builder, error) {
	if indentUnit <= 0 {
		return nil, fmt.Errorf("invalid indent unit %d: must be positive", indentUnit)
	}
	return &Builder{IndentUnit: indentUnit}, nil
}

// frame is one ancestor on the stack. indent is the indentation depth the
// node was read at; the root uses -1.
type frame struct {
	node   *Node
	indent int
}

// Build parses the listing in a single pass.
//
// The stack holds the chain from the root to the most recently attached node.
// A deeper line becomes a child of the top (jumps of several levels count as
// one), a line at the same depth replaces the top with a sibling, and a
// shallower line pops one frame per level climbed before attaching as a
// sibling. Depth 0 always attaches directly under the root.
func (b *Builder) Build(lines []string) (*Node, error) {
	if b.IndentUnit <= 0 {
		return nil, fmt.Errorf("invalid indent unit %d: must be positive", b.IndentUnit)
	}

	root := newRoot()
	stack := []frame{{node: root, indent: -1}}

	for i, line := range lines {
		label, depth := b.measure(line)

		top := stack[len(stack)-1]

		switch {
		case i == 0 || depth == 0:
			stack = stack[:1]

		case depth == top.indent:
			stack = stack[:len(stack)-1]

		case depth > top.indent:
			// child of the previous node

		default:
			climb := top.indent - depth
			// pop the previous node and climb-1 ancestors to reach the
			// sibling being followed, then that sibling itself
			if climb+1 > len(stack)-1 {
				return nil, fmt.Errorf("%w: line %d %q climbs %d levels from depth %d",
					ErrAscentPastRoot, i+1, label, climb, top.indent)
			}
			stack = stack[:len(stack)-climb-1]
		}

		parent := stack[len(stack)-1].node
		stack = append(stack, frame{node: parent.attach(label), indent: depth})
	}

	return root, nil
}

// measure normalizes non-breaking spaces, strips the indentation and returns
// the label with its depth in indent units.
func (b *Builder) measure(line string) (string, int) {
	normalized := strings.ReplaceAll(line, string(nonBreakingSpace), " ")
	stripped := strings.TrimLeftFunc(normalized, unicode.IsSpace)
	leading := utf8.RuneCountInString(normalized) - utf8.RuneCountInString(stripped)
	return strings.TrimRightFunc(stripped, unicode.IsSpace), leading / b.IndentUnit
}

// NormalizeLabel returns the label a listing line is stored under in the tree
func NormalizeLabel(line string) string {
	normalized := strings.ReplaceAll(line, string(nonBreakingSpace), " ")
	return strings.TrimSpace(normalized)
}

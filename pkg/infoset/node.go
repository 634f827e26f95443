// Package infoset provides the ordered tree used to exchange parsed data with
// the processing engine. A tree is built fresh for every record and is never
// shared between records.
package infoset

import (
	"errors"
	"fmt"
	"iter"
	"strings"
)

// ErrValueAlreadySet is returned by SetValue when the node already carries a value.
var ErrValueAlreadySet = errors.New("value already set")

// Node is a single element of an infoset tree. A node carries either a scalar
// value or an ordered list of children. Children keep document order and are
// not unique by name.
type Node struct {
	name     string
	value    *string
	isArray  bool
	children []*Node
}

// NewNode creates a node. An empty name is used for anonymous wrapper nodes.
func NewNode(name string) *Node {
	return &Node{name: name}
}

// NewArrayNode creates a node marked as an array container.
func NewArrayNode(name string) *Node {
	return &Node{name: name, isArray: true}
}

// NewLeaf creates a named node carrying a scalar value.
func NewLeaf(name, value string) *Node {
	v := value
	return &Node{name: name, value: &v}
}

// Name returns the node name.
func (n *Node) Name() string {
	return n.name
}

// SetName names an anonymous node. It is a no-op when the node already has a
// name or when newName is empty.
func (n *Node) SetName(newName string) {
	if n.name == "" && newName != "" {
		n.name = newName
	}
}

// Value returns the scalar value and whether one was set.
func (n *Node) Value() (string, bool) {
	if n.value == nil {
		return "", false
	}
	return *n.value, true
}

// SetValue sets the scalar value. A value can only be set once.
func (n *Node) SetValue(v string) error {
	if n.value != nil {
		return fmt.Errorf("%w to %q", ErrValueAlreadySet, *n.value)
	}
	n.value = &v
	return nil
}

// IsArray reports whether the node is an array container.
func (n *Node) IsArray() bool {
	return n.isArray
}

// AddChild appends a child in document order.
func (n *Node) AddChild(child *Node) {
	n.children = append(n.children, child)
}

// Child returns the first child with the given name in document order.
func (n *Node) Child(name string) (*Node, bool) {
	for _, c := range n.children {
		if c.name == name {
			return c, true
		}
	}
	return nil, false
}

// HasChild reports whether a child with the given name exists.
func (n *Node) HasChild(name string) bool {
	_, ok := n.Child(name)
	return ok
}

// Children returns a restartable sequence over the children in document order.
func (n *Node) Children() iter.Seq[*Node] {
	return func(yield func(*Node) bool) {
		for _, c := range n.children {
			if !yield(c) {
				return
			}
		}
	}
}

// Len returns the number of children.
func (n *Node) Len() int {
	return len(n.children)
}

// ChildNames returns the names of the children in document order.
func (n *Node) ChildNames() []string {
	names := make([]string, 0, len(n.children))
	for _, c := range n.children {
		names = append(names, c.name)
	}
	return names
}

// String renders the tree with one node per line, tab indented. Array nodes
// are enclosed in brackets, other nodes in braces.
func (n *Node) String() string {
	var b strings.Builder
	n.write(&b, "")
	return b.String()
}

func (n *Node) write(b *strings.Builder, indent string) {
	open, closing := "{", "}"
	if n.isArray {
		open, closing = "[", "]"
	}
	b.WriteString(indent)
	b.WriteString(n.name)
	b.WriteString(open)
	b.WriteString("\n")
	if n.value != nil {
		b.WriteString(indent)
		b.WriteString("\t")
		b.WriteString(*n.value)
		if len(n.children) > 0 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	for _, c := range n.children {
		c.write(b, indent+"\t")
	}
	b.WriteString(indent)
	b.WriteString(closing)
	b.WriteString("\n")
}

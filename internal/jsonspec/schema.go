// Package jsonspec flattens framework-shaped JSON documents into leaf values
// keyed by schema path and rebuilds documents from such leaves.
//
// A framework schema is a JSON template. An object carrying a string "id"
// member is a leaf and the id names the data point type stored there. A
// one-element array declares a list whose elements follow that element
// schema. Any other object is a container, and scalars are anonymous leaves.
package jsonspec

import (
	"bytes"
	"encoding/json"

	"github.com/rotisserie/eris"
)

// ReferencedReportsID is the leaf id reserved for the dataset-level map of
// referenced reports.
const ReferencedReportsID = "referencedReports"

// Kind discriminates schema nodes.
type Kind int

const (
	KindLeaf Kind = iota
	KindObject
	KindArray
)

// Node is one node of a parsed schema. Nodes are immutable once parsed.
type Node struct {
	Kind   Kind
	ID     string  // leaf: declared data point type, empty for anonymous leaves
	Ref    string  // leaf: optional reference to the type definition
	Fields []Field // object: children in template order
	Elem   *Node   // array: element schema
}

// Field is a named child of an object node.
type Field struct {
	Name string
	Node *Node
}

// NewLeaf returns a leaf node for the given data point type.
func NewLeaf(id, ref string) *Node {
	return &Node{Kind: KindLeaf, ID: id, Ref: ref}
}

// Parse parses a framework schema template.
func Parse(raw []byte) (*Node, error) {
	n, err := parseNode(raw, "")
	if err != nil {
		return nil, eris.Wrap(err, "jsonspec: parse schema")
	}
	if n.Kind != KindObject {
		return nil, eris.New("jsonspec: parse schema: root must be an object")
	}
	return n, nil
}

func parseNode(raw json.RawMessage, path string) (*Node, error) {
	switch firstByte(raw) {
	case '{':
		members, err := decodeObject(raw)
		if err != nil {
			return nil, eris.Wrapf(err, "at %q", path)
		}
		if id, ok := leafID(members); ok {
			n := &Node{Kind: KindLeaf, ID: id}
			for _, m := range members {
				if m.name == "ref" {
					_ = json.Unmarshal(m.value, &n.Ref)
				}
			}
			return n, nil
		}
		n := &Node{Kind: KindObject, Fields: make([]Field, 0, len(members))}
		for _, m := range members {
			child, err := parseNode(m.value, joinPath(path, m.name))
			if err != nil {
				return nil, err
			}
			n.Fields = append(n.Fields, Field{Name: m.name, Node: child})
		}
		return n, nil
	case '[':
		var elems []json.RawMessage
		if err := json.Unmarshal(raw, &elems); err != nil {
			return nil, eris.Wrapf(err, "at %q", path)
		}
		switch len(elems) {
		case 0:
			return &Node{Kind: KindLeaf}, nil
		case 1:
			elem, err := parseNode(elems[0], path+"[]")
			if err != nil {
				return nil, err
			}
			return &Node{Kind: KindArray, Elem: elem}, nil
		default:
			return nil, eris.Errorf("at %q: array template must have exactly one element, got %d", path, len(elems))
		}
	case 0:
		return nil, eris.Errorf("at %q: empty template value", path)
	default:
		return &Node{Kind: KindLeaf}, nil
	}
}

func leafID(members []member) (string, bool) {
	for _, m := range members {
		if m.name != "id" {
			continue
		}
		var id string
		if err := json.Unmarshal(m.value, &id); err != nil || id == "" {
			return "", false
		}
		return id, true
	}
	return "", false
}

// Field returns the child named name, or nil.
func (n *Node) Field(name string) *Node {
	for _, f := range n.Fields {
		if f.Name == name {
			return f.Node
		}
	}
	return nil
}

// InsertAt returns a copy of root with child placed at the dot separated
// path. Intermediate objects are created as needed and nodes along the path
// are copied, so root itself is never modified.
func InsertAt(root *Node, path string, child *Node) (*Node, error) {
	segments := splitDotted(path)
	if len(segments) == 0 {
		return nil, eris.New("jsonspec: insert: empty path")
	}
	return insertAt(root, segments, child, "")
}

func insertAt(n *Node, segments []string, child *Node, at string) (*Node, error) {
	if n == nil {
		n = &Node{Kind: KindObject}
	}
	if n.Kind != KindObject {
		return nil, eris.Errorf("jsonspec: insert: %q is not an object", at)
	}
	name := segments[0]
	cp := &Node{Kind: KindObject, Fields: make([]Field, 0, len(n.Fields)+1)}
	replaced := false
	for _, f := range n.Fields {
		if f.Name != name {
			cp.Fields = append(cp.Fields, f)
			continue
		}
		next := child
		if len(segments) > 1 {
			var err error
			if next, err = insertAt(f.Node, segments[1:], child, joinPath(at, name)); err != nil {
				return nil, err
			}
		}
		cp.Fields = append(cp.Fields, Field{Name: name, Node: next})
		replaced = true
	}
	if !replaced {
		next := child
		if len(segments) > 1 {
			var err error
			if next, err = insertAt(nil, segments[1:], child, joinPath(at, name)); err != nil {
				return nil, err
			}
		}
		cp.Fields = append(cp.Fields, Field{Name: name, Node: next})
	}
	return cp, nil
}

// LeafRef locates a leaf declared outside of any array.
type LeafRef struct {
	ID   string
	Path string
}

// Leaves lists the leaves reachable without crossing an array, in template
// order. Anonymous leaves use their path as id.
func Leaves(root *Node) []LeafRef {
	var out []LeafRef
	var walk func(n *Node, path string)
	walk = func(n *Node, path string) {
		switch n.Kind {
		case KindLeaf:
			out = append(out, LeafRef{ID: leafKey(n, path, false), Path: path})
		case KindObject:
			for _, f := range n.Fields {
				walk(f.Node, joinPath(path, f.Name))
			}
		}
	}
	walk(root, "")
	return out
}

// ArrayPaths lists the arrays reachable without crossing another array.
// Leaves below them are keyed by their concrete element paths.
func ArrayPaths(root *Node) []string {
	var out []string
	var walk func(n *Node, path string)
	walk = func(n *Node, path string) {
		switch n.Kind {
		case KindArray:
			out = append(out, path)
		case KindObject:
			for _, f := range n.Fields {
				walk(f.Node, joinPath(path, f.Name))
			}
		}
	}
	walk(root, "")
	return out
}

// leafKey is the data point type a leaf is stored under. Leaves inside
// arrays repeat per element, so they are keyed by their concrete path.
func leafKey(n *Node, path string, inArray bool) string {
	if n.ID == "" || inArray {
		return path
	}
	return n.ID
}

type member struct {
	name  string
	value json.RawMessage
}

// decodeObject decodes a JSON object preserving member order.
func decodeObject(raw json.RawMessage) ([]member, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, eris.New("expected object")
	}
	var out []member
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		name, _ := tok.(string)
		var v json.RawMessage
		if err := dec.Decode(&v); err != nil {
			return nil, err
		}
		out = append(out, member{name: name, value: v})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return out, nil
}

func firstByte(raw []byte) byte {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	if len(trimmed) == 0 {
		return 0
	}
	return trimmed[0]
}

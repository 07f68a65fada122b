package jsonspec

import (
	"bytes"
	"encoding/json"

	"github.com/rotisserie/eris"
)

var jsonNull = json.RawMessage("null")

// Leaf is one extracted leaf value.
type Leaf struct {
	// ID is the data point type the value is stored under.
	ID string
	// Type is the declared data point type, used for content validation.
	Type string
	// Path is the location of the leaf in the document.
	Path string
	// Content is the compacted JSON value, null when absent.
	Content json.RawMessage
}

// Dehydrate walks the schema and extracts every leaf value from doc, keyed
// by leaf path. Leaves missing from doc are present with null content.
// Elements of arrays yield one leaf set per element.
func Dehydrate(root *Node, doc []byte) (map[string]Leaf, error) {
	out := make(map[string]Leaf)
	if err := dehydrate(root, doc, "", false, out); err != nil {
		return nil, err
	}
	return out, nil
}

func dehydrate(n *Node, value json.RawMessage, path string, inArray bool, out map[string]Leaf) error {
	switch n.Kind {
	case KindLeaf:
		content, err := compact(value)
		if err != nil {
			return eris.Wrapf(err, "jsonspec: leaf %q", path)
		}
		out[path] = Leaf{ID: leafKey(n, path, inArray), Type: n.ID, Path: path, Content: content}
		return nil

	case KindObject:
		var members map[string]json.RawMessage
		if !isNull(value) {
			if firstByte(value) != '{' {
				return eris.Errorf("jsonspec: %q: expected object", displayPath(path))
			}
			if err := json.Unmarshal(value, &members); err != nil {
				return eris.Wrapf(err, "jsonspec: %q", displayPath(path))
			}
		}
		for _, f := range n.Fields {
			if err := dehydrate(f.Node, members[f.Name], joinPath(path, f.Name), inArray, out); err != nil {
				return err
			}
		}
		return nil

	case KindArray:
		if isNull(value) {
			return nil
		}
		if firstByte(value) != '[' {
			return eris.Errorf("jsonspec: %q: expected array", displayPath(path))
		}
		var elems []json.RawMessage
		if err := json.Unmarshal(value, &elems); err != nil {
			return eris.Wrapf(err, "jsonspec: %q", displayPath(path))
		}
		if len(elems) > maxArrayElements {
			return eris.Errorf("jsonspec: %q: %d elements exceed the limit of %d", displayPath(path), len(elems), maxArrayElements)
		}
		for i, e := range elems {
			if err := dehydrate(n.Elem, e, indexPath(path, i), true, out); err != nil {
				return err
			}
		}
		return nil
	}
	return eris.Errorf("jsonspec: unknown node kind %d", n.Kind)
}

func isNull(v json.RawMessage) bool {
	t := bytes.TrimSpace(v)
	return len(t) == 0 || bytes.Equal(t, jsonNull)
}

func compact(v json.RawMessage) (json.RawMessage, error) {
	if isNull(v) {
		return jsonNull, nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func displayPath(p string) string {
	if p == "" {
		return "$"
	}
	return p
}

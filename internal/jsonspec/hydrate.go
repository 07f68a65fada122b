package jsonspec

import (
	"bytes"
	"encoding/json"

	"github.com/rotisserie/eris"
)

// maxArrayElements bounds array reconstruction.
const maxArrayElements = 10000

// Source supplies stored leaf values to Hydrate.
type Source interface {
	// Value resolves a leaf path to its stored value.
	Value(path string) (json.RawMessage, bool)
	// Len is one past the highest element index stored below the array at
	// arrayPath, zero when nothing is stored below it.
	Len(arrayPath string) int
}

// Hydrate rebuilds a document with the shape of the schema. Leaf values
// come from src and misses become null. Arrays are rebuilt with src.Len
// elements; an element without stored leaves keeps its shape with null
// leaves, and an array without elements is written as null.
func Hydrate(root *Node, src Source) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := hydrate(root, "", src, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// FromMap serves a path keyed map as a Source.
func FromMap(m map[string]json.RawMessage) Source {
	return mapSource(m)
}

type mapSource map[string]json.RawMessage

func (m mapSource) Value(path string) (json.RawMessage, bool) {
	v, ok := m[path]
	return v, ok
}

func (m mapSource) Len(arrayPath string) int {
	n := 0
	for key := range m {
		if i, ok := ElementIndex(key, arrayPath); ok && i >= n {
			n = i + 1
		}
	}
	return n
}

func hydrate(n *Node, path string, src Source, buf *bytes.Buffer) (bool, error) {
	switch n.Kind {
	case KindLeaf:
		v, ok := src.Value(path)
		if !ok || isNull(v) {
			buf.Write(jsonNull)
			return ok, nil
		}
		if err := json.Compact(buf, v); err != nil {
			return false, eris.Wrapf(err, "jsonspec: hydrate %q", path)
		}
		return true, nil

	case KindObject:
		found := false
		buf.WriteByte('{')
		for i, f := range n.Fields {
			if i > 0 {
				buf.WriteByte(',')
			}
			name, err := json.Marshal(f.Name)
			if err != nil {
				return false, eris.Wrapf(err, "jsonspec: encode member of %q", displayPath(path))
			}
			buf.Write(name)
			buf.WriteByte(':')
			ok, err := hydrate(f.Node, joinPath(path, f.Name), src, buf)
			if err != nil {
				return false, err
			}
			found = found || ok
		}
		buf.WriteByte('}')
		return found, nil

	case KindArray:
		size := src.Len(path)
		if size > maxArrayElements {
			return false, eris.Errorf("jsonspec: %q: %d elements exceed the limit of %d", displayPath(path), size, maxArrayElements)
		}
		if size <= 0 {
			buf.Write(jsonNull)
			return false, nil
		}
		buf.WriteByte('[')
		for i := 0; i < size; i++ {
			if i > 0 {
				buf.WriteByte(',')
			}
			if _, err := hydrate(n.Elem, indexPath(path, i), src, buf); err != nil {
				return false, err
			}
		}
		buf.WriteByte(']')
		return true, nil
	}
	return false, eris.Errorf("jsonspec: unknown node kind %d", n.Kind)
}

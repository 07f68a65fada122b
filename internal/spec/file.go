package spec

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Bundle is the on-disk layout of specification files.
type Bundle struct {
	Frameworks     []Framework     `yaml:"frameworks"`
	DataPointTypes []DataPointType `yaml:"dataPointTypes"`
	BaseTypes      []BaseType      `yaml:"baseTypes"`
}

// bundleFile mirrors Bundle but keeps framework schemas as yaml nodes so
// member order survives the conversion to JSON.
type bundleFile struct {
	Frameworks []struct {
		Framework `yaml:",inline"`
		Schema    yaml.Node `yaml:"schema"`
	} `yaml:"frameworks"`
	DataPointTypes []DataPointType `yaml:"dataPointTypes"`
	BaseTypes      []BaseType      `yaml:"baseTypes"`
}

// LoadBundle reads every .yaml, .yml and .json file in dir into one bundle.
func LoadBundle(dir string) (*Bundle, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "spec: read dir %s", dir)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml", ".json":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var out Bundle
	for _, name := range names {
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, eris.Wrapf(err, "spec: read %s", name)
		}
		b, err := ParseBundle(raw)
		if err != nil {
			return nil, eris.Wrapf(err, "spec: parse %s", name)
		}
		out.Frameworks = append(out.Frameworks, b.Frameworks...)
		out.DataPointTypes = append(out.DataPointTypes, b.DataPointTypes...)
		out.BaseTypes = append(out.BaseTypes, b.BaseTypes...)
	}
	return &out, nil
}

// ParseBundle decodes one specification file. JSON is valid YAML, so both
// formats go through the same decoder.
func ParseBundle(raw []byte) (*Bundle, error) {
	var f bundleFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, eris.Wrap(err, "spec: decode bundle")
	}
	out := &Bundle{DataPointTypes: f.DataPointTypes, BaseTypes: f.BaseTypes}
	for _, fw := range f.Frameworks {
		if fw.ID == "" {
			return nil, eris.New("spec: framework without id")
		}
		schema, err := yamlToJSON(&fw.Schema)
		if err != nil {
			return nil, eris.Wrapf(err, "spec: framework %s schema", fw.ID)
		}
		spec := fw.Framework
		spec.Schema = schema
		out.Frameworks = append(out.Frameworks, spec)
	}
	return out, nil
}

// yamlToJSON converts a yaml node to JSON preserving mapping order.
func yamlToJSON(n *yaml.Node) (json.RawMessage, error) {
	var buf bytes.Buffer
	if err := writeJSON(&buf, n); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeJSON(buf *bytes.Buffer, n *yaml.Node) error {
	switch n.Kind {
	case 0:
		buf.WriteString("null")
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			buf.WriteString("null")
			return nil
		}
		return writeJSON(buf, n.Content[0])
	case yaml.AliasNode:
		return writeJSON(buf, n.Alias)
	case yaml.MappingNode:
		buf.WriteByte('{')
		for i := 0; i+1 < len(n.Content); i += 2 {
			if i > 0 {
				buf.WriteByte(',')
			}
			buf.WriteString(strconv.Quote(n.Content[i].Value))
			buf.WriteByte(':')
			if err := writeJSON(buf, n.Content[i+1]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case yaml.SequenceNode:
		buf.WriteByte('[')
		for i, c := range n.Content {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeJSON(buf, c); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case yaml.ScalarNode:
		var v any
		if err := n.Decode(&v); err != nil {
			return eris.Wrapf(err, "line %d", n.Line)
		}
		b, err := json.Marshal(v)
		if err != nil {
			return eris.Wrapf(err, "line %d", n.Line)
		}
		buf.Write(b)
	default:
		return eris.Errorf("unsupported yaml node kind %d at line %d", n.Kind, n.Line)
	}
	return nil
}

// MemorySource serves specifications from a bundle.
type MemorySource struct {
	frameworks map[string]*Framework
	types      map[string]*DataPointType
	baseTypes  map[string]*BaseType
}

// NewMemorySource indexes a bundle. Later duplicates replace earlier ones.
func NewMemorySource(b *Bundle) *MemorySource {
	s := &MemorySource{
		frameworks: make(map[string]*Framework, len(b.Frameworks)),
		types:      make(map[string]*DataPointType, len(b.DataPointTypes)),
		baseTypes:  make(map[string]*BaseType, len(b.BaseTypes)),
	}
	for i := range b.Frameworks {
		s.frameworks[b.Frameworks[i].ID] = &b.Frameworks[i]
	}
	for i := range b.DataPointTypes {
		s.types[b.DataPointTypes[i].ID] = &b.DataPointTypes[i]
	}
	for i := range b.BaseTypes {
		s.baseTypes[b.BaseTypes[i].ID] = &b.BaseTypes[i]
	}
	return s
}

func (s *MemorySource) Framework(_ context.Context, id string) (*Framework, error) {
	return s.frameworks[id], nil
}

func (s *MemorySource) DataPointType(_ context.Context, id string) (*DataPointType, error) {
	return s.types[id], nil
}

func (s *MemorySource) BaseType(_ context.Context, id string) (*BaseType, error) {
	return s.baseTypes[id], nil
}

// Package spec resolves framework, data point type and base type
// specifications and caches them for the lifetime of the process.
package spec

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dataland/internal/apperr"
	"github.com/sells-group/dataland/internal/jsonspec"
	"github.com/sells-group/dataland/internal/reports"
)

// Framework is a framework specification: the dataset template and the
// optional location of its referenced reports.
type Framework struct {
	ID                       string          `json:"id" yaml:"id"`
	Name                     string          `json:"name" yaml:"name"`
	Schema                   json.RawMessage `json:"schema" yaml:"-"`
	ReferencedReportJSONPath string          `json:"referencedReportJsonPath,omitempty" yaml:"referencedReportJsonPath"`
}

// DataPointType specifies one kind of data point and its base type.
// SumOf lists constituent types when the value is derived as their sum.
type DataPointType struct {
	ID         string   `json:"id" yaml:"id"`
	Name       string   `json:"name" yaml:"name"`
	BaseTypeID string   `json:"dataPointBaseTypeId" yaml:"dataPointBaseTypeId"`
	SumOf      []string `json:"sumOf,omitempty" yaml:"sumOf"`
}

// BaseType describes the content shape shared by many data point types.
type BaseType struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description"`
}

// Source looks up specifications. Implementations return nil, nil for
// unknown ids.
type Source interface {
	Framework(ctx context.Context, id string) (*Framework, error)
	DataPointType(ctx context.Context, id string) (*DataPointType, error)
	BaseType(ctx context.Context, id string) (*BaseType, error)
}

// Template is a parsed framework schema. Full includes the referenced
// reports leaf when the framework declares one.
type Template struct {
	Framework *Framework
	Schema    *jsonspec.Node
	Full      *jsonspec.Node
}

// Registry caches a Source. Specifications are versioned externally and
// never change under an id, so entries are not invalidated.
type Registry struct {
	src       Source
	templates *Cache[*Template]
	types     *Cache[*DataPointType]
	baseTypes *Cache[*BaseType]
}

// NewRegistry wraps src with caches holding up to size entries each.
func NewRegistry(src Source, size int) *Registry {
	if size <= 0 {
		size = 512
	}
	return &Registry{
		src:       src,
		templates: NewCache[*Template](size),
		types:     NewCache[*DataPointType](size * 8),
		baseTypes: NewCache[*BaseType](size),
	}
}

// Template returns the parsed template of a framework.
func (r *Registry) Template(ctx context.Context, frameworkID string) (*Template, error) {
	if t, ok := r.templates.Get(frameworkID); ok {
		return t, nil
	}
	fw, err := r.src.Framework(ctx, frameworkID)
	if err != nil {
		return nil, eris.Wrapf(err, "spec: get framework %s", frameworkID)
	}
	if fw == nil {
		return nil, apperr.NotFound("Framework not found", "no framework specification with id %s", frameworkID)
	}
	schema, err := jsonspec.Parse(fw.Schema)
	if err != nil {
		return nil, eris.Wrapf(err, "spec: framework %s", frameworkID)
	}
	full, err := reports.InsertIntoSchema(schema, fw.ReferencedReportJSONPath)
	if err != nil {
		return nil, eris.Wrapf(err, "spec: framework %s", frameworkID)
	}
	t := &Template{Framework: fw, Schema: schema, Full: full}
	r.templates.Put(frameworkID, t)
	return t, nil
}

// DataPointType returns a data point type specification.
func (r *Registry) DataPointType(ctx context.Context, id string) (*DataPointType, error) {
	if t, ok := r.types.Get(id); ok {
		return t, nil
	}
	t, err := r.src.DataPointType(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "spec: get data point type %s", id)
	}
	if t == nil {
		return nil, apperr.NotFound("Data point type not found", "no data point type specification with id %s", id)
	}
	r.types.Put(id, t)
	return t, nil
}

// BaseType returns the base type of a data point type.
func (r *Registry) BaseType(ctx context.Context, dataPointTypeID string) (*BaseType, error) {
	t, err := r.DataPointType(ctx, dataPointTypeID)
	if err != nil {
		return nil, err
	}
	if b, ok := r.baseTypes.Get(t.BaseTypeID); ok {
		return b, nil
	}
	b, err := r.src.BaseType(ctx, t.BaseTypeID)
	if err != nil {
		return nil, eris.Wrapf(err, "spec: get base type %s", t.BaseTypeID)
	}
	if b == nil {
		return nil, apperr.NotFound("Base type not found", "no data point base type with id %s", t.BaseTypeID)
	}
	r.baseTypes.Put(t.BaseTypeID, b)
	return b, nil
}

// Stats reports hit rates of the template cache.
func (r *Registry) Stats() CacheStats {
	return r.templates.Stats()
}

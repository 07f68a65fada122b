package spec

import (
	"context"

	"github.com/sells-group/dataland/pkg/specclient"
)

// HTTPSource adapts a specification service client to Source.
type HTTPSource struct {
	client specclient.Client
}

// NewHTTPSource creates an HTTPSource.
func NewHTTPSource(client specclient.Client) *HTTPSource {
	return &HTTPSource{client: client}
}

func (s *HTTPSource) Framework(ctx context.Context, id string) (*Framework, error) {
	f, err := s.client.Framework(ctx, id)
	if err != nil || f == nil {
		return nil, err
	}
	return &Framework{
		ID:                       f.ID,
		Name:                     f.Name,
		Schema:                   f.Schema,
		ReferencedReportJSONPath: f.ReferencedReportJSONPath,
	}, nil
}

func (s *HTTPSource) DataPointType(ctx context.Context, id string) (*DataPointType, error) {
	t, err := s.client.DataPointType(ctx, id)
	if err != nil || t == nil {
		return nil, err
	}
	return &DataPointType{ID: t.ID, Name: t.Name, BaseTypeID: t.BaseTypeID, SumOf: t.SumOf}, nil
}

func (s *HTTPSource) BaseType(ctx context.Context, id string) (*BaseType, error) {
	b, err := s.client.BaseType(ctx, id)
	if err != nil || b == nil {
		return nil, err
	}
	return &BaseType{ID: b.ID, Name: b.Name, Description: b.Description}, nil
}

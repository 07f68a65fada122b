package pointtype

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dataland/internal/apperr"
	"github.com/sells-group/dataland/internal/spec"
)

func TestRegistry_Validate(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	tests := []struct {
		name     string
		baseType string
		content  string
		wantErr  string
	}{
		{name: "decimal", baseType: ExtendedDecimal, content: `{"value": 12.5, "quality": "Estimated", "comment": "guess", "dataSource": null}`},
		{name: "decimal exponent", baseType: ExtendedDecimal, content: `{"value": 1.5e3}`},
		{name: "decimal with source", baseType: ExtendedDecimal, content: `{"value": 3, "quality": "Reported", "dataSource": {"fileReference": "abc", "page": "4", "publicationDate": "2023-04-01"}}`},
		{name: "reported without source", baseType: ExtendedDecimal, content: `{"value": 3, "quality": "Reported"}`, wantErr: "data source is required"},
		{name: "no data found with value", baseType: ExtendedDecimal, content: `{"value": 3, "quality": "NoDataFound"}`, wantErr: "must not be given"},
		{name: "no data found without value", baseType: ExtendedDecimal, content: `{"value": null, "quality": "NoDataFound"}`},
		{name: "unknown quality", baseType: ExtendedDecimal, content: `{"value": 3, "quality": "Guessed"}`, wantErr: "quality failed on quality"},
		{name: "unknown field", baseType: ExtendedDecimal, content: `{"value": 3, "unit": "t"}`, wantErr: "unknown field"},
		{name: "string for integer", baseType: ExtendedInteger, content: `{"value": "three"}`, wantErr: "does not match"},
		{name: "bad date", baseType: ExtendedDate, content: `{"value": "01.02.2023"}`, wantErr: "value failed on datetime"},
		{name: "date", baseType: ExtendedDate, content: `{"value": "2023-02-01"}`},
		{name: "yes no", baseType: ExtendedYesNo, content: `{"value": "Yes"}`},
		{name: "yes no invalid", baseType: ExtendedYesNo, content: `{"value": "Maybe"}`, wantErr: "oneof"},
		{name: "currency", baseType: ExtendedCurrency, content: `{"value": 100, "currency": "EUR"}`},
		{name: "currency invalid", baseType: ExtendedCurrency, content: `{"value": 100, "currency": "EURO"}`, wantErr: "iso4217"},
		{name: "source without reference", baseType: ExtendedString, content: `{"value": "x", "dataSource": {"page": "1"}}`, wantErr: "fileReference failed on required"},
		{name: "bad publication date", baseType: ExtendedString, content: `{"value": "x", "dataSource": {"fileReference": "a", "publicationDate": "yesterday"}}`, wantErr: "publicationDate"},
		{name: "plain string", baseType: PlainString, content: `{"value": "x"}`},
		{name: "plain string rejects quality", baseType: PlainString, content: `{"value": "x", "quality": "Reported"}`, wantErr: "unknown field"},
		{name: "plain decimal", baseType: PlainDecimal, content: `{"value": -0.25}`},
		{name: "plain date", baseType: PlainDate, content: `{"value": null}`},
		{name: "unregistered", baseType: "customMatrix", content: `{}`, wantErr: "no registered validator"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := r.Validate(tt.baseType, json.RawMessage(tt.content))
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, apperr.Is(err, apperr.KindValidation))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

type stubBaseTypes map[string]string

func (s stubBaseTypes) BaseType(_ context.Context, id string) (*spec.BaseType, error) {
	base, ok := s[id]
	if !ok {
		return nil, apperr.NotFound("Data point type not found", "no data point type %s", id)
	}
	return &spec.BaseType{ID: base}, nil
}

func TestChecker_Check(t *testing.T) {
	t.Parallel()

	c := NewChecker(stubBaseTypes{"extendedDecimalScope1": ExtendedDecimal}, NewRegistry())
	ctx := context.Background()

	assert.NoError(t, c.Check(ctx, "extendedDecimalScope1", json.RawMessage(`{"value": 1}`), "corr"))

	err := c.Check(ctx, "extendedDecimalScope1", json.RawMessage(`{"value": "x"}`), "corr")
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	err = c.Check(ctx, "unknownType", json.RawMessage(`{"value": 1}`), "corr")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.Contains(t, err.Error(), "unknownType")
}

func q(v Quality) *Quality { return &v }

func TestMergeQuality(t *testing.T) {
	t.Parallel()

	assert.Nil(t, MergeQuality(nil))
	assert.Nil(t, MergeQuality([]*Quality{nil, nil}))
	assert.Equal(t, QualityReported, *MergeQuality([]*Quality{q(QualityAudited), q(QualityReported), nil}))
	assert.Equal(t, QualityNoDataFound, *MergeQuality([]*Quality{q(QualityNoDataFound), q(QualityAudited)}))
	assert.Equal(t, QualityIncomplete, *MergeQuality([]*Quality{q(QualityEstimated), q(QualityIncomplete)}))
}

func TestSumDataPoints(t *testing.T) {
	t.Parallel()

	got, err := SumDataPoints([]json.RawMessage{
		json.RawMessage(`{"value": 1.25, "quality": "Audited", "dataSource": {"fileReference": "a"}}`),
		json.RawMessage(`{"value": 2, "quality": "Estimated"}`),
		json.RawMessage(`{"value": null, "quality": "Reported"}`),
		nil,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"value": 3.25, "quality": "Estimated", "comment": null, "dataSource": null}`, string(got))

	got, err = SumDataPoints([]json.RawMessage{json.RawMessage(`{"value": null}`)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"value": null, "quality": null, "comment": null, "dataSource": null}`, string(got))

	_, err = SumDataPoints([]json.RawMessage{json.RawMessage(`[1]`)})
	assert.Error(t, err)
}

func TestDecimalPlaces(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, decimalPlaces("12"))
	assert.Equal(t, 3, decimalPlaces("1.250"))
	assert.Equal(t, 1, decimalPlaces("1.5E3"))
}

package reports

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dataland/internal/apperr"
	"github.com/sells-group/dataland/internal/jsonspec"
)

func TestInsertIntoSchema(t *testing.T) {
	t.Parallel()

	schema, err := jsonspec.Parse([]byte(`{"general": {"a": {"id": "a"}}}`))
	require.NoError(t, err)

	same, err := InsertIntoSchema(schema, "")
	require.NoError(t, err)
	assert.Same(t, schema, same)

	withReports, err := InsertIntoSchema(schema, "general.referencedReports")
	require.NoError(t, err)
	leaf := withReports.Field("general").Field("referencedReports")
	require.NotNil(t, leaf)
	assert.Equal(t, jsonspec.ReferencedReportsID, leaf.ID)
}

func TestParseFromLeaf(t *testing.T) {
	t.Parallel()

	got, err := ParseFromLeaf(json.RawMessage(`{
		"AnnualReport": {"fileReference": "hash1", "publicationDate": "2023-03-01"},
		"Sustainability": {"fileReference": "hash2", "fileName": "Sustainability 2023"}
	}`))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "AnnualReport", got["AnnualReport"].FileName)
	assert.Equal(t, "2023-03-01", got["AnnualReport"].PublicationDate)
	assert.Equal(t, "Sustainability 2023", got["Sustainability"].FileName)

	empty, err := ParseFromLeaf(json.RawMessage(`null`))
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestParseFromLeaf_Malformed(t *testing.T) {
	t.Parallel()

	_, err := ParseFromLeaf(json.RawMessage(`{"AnnualReport": "not-an-object"}`))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = ParseFromLeaf(json.RawMessage(`{"AnnualReport": {"fileName": "x"}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no fileReference")
}

func TestValidateConsistency_DuplicateReference(t *testing.T) {
	t.Parallel()

	err := ValidateConsistency(map[string]ReferencedReport{
		"A": {FileReference: "same"},
		"B": {FileReference: "same"},
	})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.Contains(t, err.Error(), `"A" and "B"`)
}

func TestLookupMaps(t *testing.T) {
	t.Parallel()

	pub, names := LookupMaps(map[string]ReferencedReport{
		"A": {FileReference: "h1", FileName: "A", PublicationDate: "2023-01-01"},
		"B": {FileReference: "h2", FileName: "B"},
	})
	assert.Equal(t, map[string]string{"h1": "2023-01-01"}, pub)
	assert.Equal(t, map[string]string{"h1": "A", "h2": "B"}, names)
}

func TestUpdateDataSource_Backfills(t *testing.T) {
	t.Parallel()

	content := json.RawMessage(`{"value": 12.50, "dataSource": {"fileReference": "h1", "page": "4"}}`)
	out, err := UpdateDataSource(content, map[string]string{"h1": "2023-01-01"}, map[string]string{"h1": "AnnualReport"}, DataSourceField)
	require.NoError(t, err)
	assert.JSONEq(t, `{"value": 12.50, "dataSource": {"fileReference": "h1", "page": "4", "fileName": "AnnualReport", "publicationDate": "2023-01-01"}}`, string(out))
	assert.Contains(t, string(out), "12.50", "numbers keep their literal form")
}

func TestUpdateDataSource_KeepsExistingNameAndOverridesDate(t *testing.T) {
	t.Parallel()

	content := json.RawMessage(`{"dataSource": {"fileReference": "h1", "fileName": "Own", "publicationDate": "2020-01-01"}}`)
	out, err := UpdateDataSource(content, map[string]string{"h1": "2023-01-01"}, map[string]string{"h1": "AnnualReport"}, DataSourceField)
	require.NoError(t, err)
	assert.JSONEq(t, `{"dataSource": {"fileReference": "h1", "fileName": "Own", "publicationDate": "2023-01-01"}}`, string(out))
}

func TestUpdateDataSource_NestedAndUnchanged(t *testing.T) {
	t.Parallel()

	nested := json.RawMessage(`{"value": [{"name": "x", "dataSource": {"fileReference": "h2"}}]}`)
	out, err := UpdateDataSource(nested, nil, map[string]string{"h2": "Report2"}, DataSourceField)
	require.NoError(t, err)
	assert.JSONEq(t, `{"value": [{"name": "x", "dataSource": {"fileReference": "h2", "fileName": "Report2"}}]}`, string(out))

	plain := json.RawMessage(`{"value": 1}`)
	out, err = UpdateDataSource(plain, nil, nil, DataSourceField)
	require.NoError(t, err)
	assert.Equal(t, string(plain), string(out))
}

func TestCollectAll(t *testing.T) {
	t.Parallel()

	acc := map[string]ReferencedReport{}
	require.NoError(t, CollectAll(json.RawMessage(`{"dataSource": {"fileReference": "h1", "fileName": "A", "publicationDate": "2023-01-01"}}`), acc, DataSourceField))
	require.NoError(t, CollectAll(json.RawMessage(`{"dataSource": {"fileReference": "h1", "fileName": "A"}}`), acc, DataSourceField))
	require.NoError(t, CollectAll(json.RawMessage(`{"value": {"nested": {"dataSource": {"fileReference": "h2"}}}}`), acc, DataSourceField))
	require.NoError(t, CollectAll(json.RawMessage(`{"value": 3}`), acc, DataSourceField))

	assert.Equal(t, map[string]ReferencedReport{
		"A":  {FileReference: "h1", FileName: "A", PublicationDate: "2023-01-01"},
		"h2": {FileReference: "h2"},
	}, acc)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	registry := map[string]ReferencedReport{
		"A": {FileReference: "h1", FileName: "A", PublicationDate: "2023-01-01"},
	}

	t.Run("valid", func(t *testing.T) {
		t.Parallel()
		err := Validate(map[string]json.RawMessage{
			"general.x": json.RawMessage(`{"value": 1, "dataSource": {"fileReference": "h1", "publicationDate": "2022-12-31"}}`),
			"general.y": json.RawMessage(`{"value": 2}`),
		}, registry, DataSourceField)
		assert.NoError(t, err)
	})

	t.Run("unknown reference", func(t *testing.T) {
		t.Parallel()
		err := Validate(map[string]json.RawMessage{
			"general.x": json.RawMessage(`{"dataSource": {"fileReference": "h1"}}`),
			"general.y": json.RawMessage(`{"dataSource": {"fileReference": "nope"}}`),
		}, registry, DataSourceField)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "nope")
		assert.Contains(t, err.Error(), "general.y")
	})

	t.Run("unused report", func(t *testing.T) {
		t.Parallel()
		err := Validate(map[string]json.RawMessage{
			"general.x": json.RawMessage(`{"value": 1}`),
		}, registry, DataSourceField)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Mismatching document references")
	})
}

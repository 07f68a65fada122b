package company

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dataland/internal/apperr"
)

func newTestDirectory(t *testing.T) *MemoryDirectory {
	t.Helper()
	d, err := NewMemoryDirectory(
		Company{ID: "c1", Name: "Acme Holding AG", CountryCode: "DE", Identifiers: map[string][]string{
			SystemLei: {"LEI-1"}, SystemTicker: {"SHARED"},
		}},
		Company{ID: "c2", Name: "Acme Corp", CountryCode: "US", Identifiers: map[string][]string{
			SystemTicker: {"SHARED"},
		}},
		Company{ID: "c3", Name: "Globex GmbH"},
	)
	require.NoError(t, err)
	return d
}

func TestMemoryDirectory_ValidateIdentifier(t *testing.T) {
	d := newTestDirectory(t)
	ctx := context.Background()

	id, err := d.ValidateIdentifier(ctx, "c3")
	require.NoError(t, err)
	assert.Equal(t, "c3", id)

	id, err = d.ValidateIdentifier(ctx, " LEI-1 ")
	require.NoError(t, err)
	assert.Equal(t, "c1", id)

	_, err = d.ValidateIdentifier(ctx, "SHARED")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.Contains(t, err.Error(), "Multiple companies found")

	_, err = d.ValidateIdentifier(ctx, "nope")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = d.ValidateIdentifier(ctx, "   ")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestMemoryDirectory_GetCompanyAndExists(t *testing.T) {
	d := newTestDirectory(t)
	ctx := context.Background()

	c, err := d.GetCompany(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "Acme Holding AG", c.Name)
	assert.Equal(t, []string{"LEI-1"}, c.Identifiers[SystemLei])

	c.Identifiers[SystemLei] = nil
	again, err := d.GetCompany(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"LEI-1"}, again.Identifiers[SystemLei])

	_, err = d.GetCompany(ctx, "missing")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	ok, err := d.Exists(ctx, "c2")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = d.Exists(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryDirectory_ImportMergesIdentifiers(t *testing.T) {
	d := newTestDirectory(t)
	ctx := context.Background()

	n, err := d.Import(ctx, []Company{{ID: "c3", Name: "Globex GmbH", Identifiers: map[string][]string{
		SystemIsin: {"DE0001"},
	}}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_, err = d.Import(ctx, []Company{{ID: "c3", Name: "Globex GmbH", Identifiers: map[string][]string{
		SystemIsin: {"DE0002", "DE0001"},
	}}})
	require.NoError(t, err)

	c, err := d.GetCompany(ctx, "c3")
	require.NoError(t, err)
	assert.Equal(t, []string{"DE0001", "DE0002"}, c.Identifiers[SystemIsin])

	_, err = d.Import(ctx, []Company{{ID: "c4"}})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestMemoryDirectory_Search(t *testing.T) {
	d := newTestDirectory(t)
	ctx := context.Background()

	got, err := d.Search(ctx, "acme", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	// "Acme Corp" normalizes to exactly "acme".
	assert.Equal(t, "c2", got[0].ID)
	assert.Equal(t, "c1", got[1].ID)
	assert.Greater(t, got[0].Score, got[1].Score)

	got, err = d.Search(ctx, "LEI-1", 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c1", got[0].ID)
	assert.InDelta(t, 1.0, got[0].Score, 0.0001)

	got, err = d.Search(ctx, "acme", 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = d.Search(ctx, "initech", 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

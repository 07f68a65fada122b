package apperr

import (
	"errors"
	"net/http"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", NotFound("Framework not found", "no framework %q", "sfdr"), http.StatusNotFound},
		{"validation", Validation("Invalid input", "bad"), http.StatusBadRequest},
		{"access denied", AccessDenied("Access denied", "qa status Pending"), http.StatusForbidden},
		{"quota", QuotaExceeded("Quota exceeded", "limit 10"), http.StatusTooManyRequests},
		{"conflict", Conflict("Invalid transition", "x"), http.StatusConflict},
		{"plain", errors.New("db down"), http.StatusInternalServerError},
		{"wrapped", eris.Wrap(NotFound("Request not found", "id"), "sourcing: get request"), http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestAs_ThroughErisWrap(t *testing.T) {
	base := Validation("Invalid input", "report %q unknown", "AnnualReport")
	err := eris.Wrapf(base, "dataset: validate %s", "lksg")

	got, ok := As(err)
	require.True(t, ok)
	assert.Equal(t, KindValidation, got.Kind)
	assert.Equal(t, `report "AnnualReport" unknown`, got.Detail)
	assert.True(t, Is(err, KindValidation))
	assert.False(t, Is(err, KindNotFound))
}

func TestError_Message(t *testing.T) {
	assert.Equal(t, "Not found", (&Error{Summary: "Not found"}).Error())
	assert.Equal(t, "Not found: company x", NotFound("Not found", "company %s", "x").Error())
}

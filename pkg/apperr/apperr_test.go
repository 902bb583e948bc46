package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindConflict, KindOf(Conflict("window %d is full", 1)))
	assert.Equal(t, KindNotFound, KindOf(fmt.Errorf("lookup: %w", NotFound("doctor"))))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
}

func TestErrorsIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("book: %w", Conflict("capacity exhausted"))
	assert.True(t, errors.Is(err, ErrConflict))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, Conflict("capacity exhausted")))
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		KindValidation:        http.StatusBadRequest,
		KindNotFound:          http.StatusNotFound,
		KindConflict:          http.StatusConflict,
		KindForbidden:         http.StatusForbidden,
		KindInvalidTransition: http.StatusUnprocessableEntity,
		KindInternal:          http.StatusInternalServerError,
	}
	for k, want := range cases {
		assert.Equal(t, want, HTTPStatus(k), k)
	}
}

func TestMessageHidesInternal(t *testing.T) {
	assert.Equal(t, "reason is required", Message(Validation("reason is required")))
	assert.Equal(t, "internal server error", Message(Internal("insert appointment", errors.New("pq: oops"))))
	assert.Equal(t, "internal server error", Message(errors.New("raw")))
}

func TestErrorString(t *testing.T) {
	err := Internal("insert", errors.New("conn reset"))
	assert.Equal(t, "INTERNAL: insert: conn reset", err.Error())
	assert.ErrorIs(t, err, ErrInternal)
}

package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("join: %w", New(CodeCapacityFull, "full, 4 of 4"))
	require.True(t, errors.Is(err, ErrCapacityFull))
	require.False(t, errors.Is(err, ErrAlreadyMember))
}

func TestAsUnwrapsChain(t *testing.T) {
	cause := errors.New("boom")
	err := fmt.Errorf("outer: %w", Wrap(CodeNotFound, "missing", cause))

	e, ok := As(err)
	require.True(t, ok)
	assert.Equal(t, CodeNotFound, e.Code)
	assert.ErrorIs(t, err, cause)

	_, ok = As(cause)
	assert.False(t, ok)
}

func TestKindHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		CodeInvalidInput:            http.StatusBadRequest,
		CodeCapacityFull:            http.StatusConflict,
		CodeDuplicateTypeMembership: http.StatusConflict,
		CodeKicked:                  http.StatusForbidden,
		CodeNotCreator:              http.StatusForbidden,
		CodeNotFound:                http.StatusNotFound,
		CodeExpired:                 http.StatusGone,
		CodeDeleted:                 http.StatusGone,
	}
	for code, status := range cases {
		assert.Equal(t, status, code.Kind().HTTPStatus(), string(code))
	}
}

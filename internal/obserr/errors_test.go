package obserr

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		kind   Kind
		status int
	}{
		{Validation, http.StatusBadRequest},
		{NotFoundKind, http.StatusNotFound},
		{Conflict, http.StatusConflict},
		{Unauthorized, http.StatusUnauthorized},
		{Forbidden, http.StatusForbidden},
		{Timeout, http.StatusGatewayTimeout},
		{TransientIO, http.StatusInternalServerError},
		{ParseFailure, http.StatusInternalServerError},
		{Internal, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			e := New(tc.kind, "boom")
			assert.Equal(t, tc.status, e.HTTPStatus())
		})
	}
}

func TestNotFound(t *testing.T) {
	err := NotFound("alarm", "abc-123")
	require.Equal(t, NotFoundKind, err.Kind)
	assert.Equal(t, "alarm", err.Details["resource"])
	assert.Equal(t, "abc-123", err.Details["id"])
	assert.Contains(t, err.Error(), "abc-123")
}

func TestTransientIOErrWrapsCause(t *testing.T) {
	cause := errors.New("disk full")
	err := TransientIOErr("index.write", cause)
	require.Equal(t, TransientIO, err.Kind)
	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "disk full")
}

func TestGetKindDefaultsToInternal(t *testing.T) {
	assert.Equal(t, Internal, GetKind(errors.New("plain")))
	assert.Equal(t, Validation, GetKind(ValidationErr("name", "required")))
}

func TestGetHTTPStatusForPlainError(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, GetHTTPStatus(errors.New("plain")))
	assert.Equal(t, http.StatusConflict, GetHTTPStatus(ConflictErr("alarm", "name", "duplicate")))
}

func TestWithDetailsChains(t *testing.T) {
	err := ValidationErr("port", "out of range").WithDetails("value", 70000)
	assert.Equal(t, "port", err.Details["field"])
	assert.Equal(t, 70000, err.Details["value"])
}

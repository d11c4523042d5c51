package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHTTPStatusMapping(t *testing.T) {
	cases := map[Kind]int{
		UnknownField:       http.StatusBadRequest,
		InvalidPagination:  http.StatusBadRequest,
		BadRequest:         http.StatusBadRequest,
		NotFound:           http.StatusNotFound,
		Forbidden:          http.StatusForbidden,
		Unsupported:        http.StatusNotImplemented,
		UpstreamError:      http.StatusBadGateway,
		Timeout:            http.StatusGatewayTimeout,
		Conflict:           http.StatusConflict,
		ConfigurationError: http.StatusInternalServerError,
	}
	for kind, want := range cases {
		require.Equal(t, want, HTTPStatus(New(kind, "x")), "kind %s", kind)
	}
}

func TestUnclassifiedErrorsAreUpstream(t *testing.T) {
	err := errors.New("driver exploded")
	require.Equal(t, UpstreamError, KindOf(err))
	require.Equal(t, http.StatusBadGateway, HTTPStatus(err))
	require.Equal(t, "upstream failure", Message(err))
}

func TestWrapKeepsChain(t *testing.T) {
	inner := errors.New("socket closed")
	err := Wrap(Timeout, inner, "upstream %s", "drs")
	require.True(t, Is(err, Timeout))
	require.ErrorIs(t, err, inner)
	require.Equal(t, "upstream drs", Message(err))
}

func TestClassificationSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("context: %w", New(NotFound, "file missing"))
	require.True(t, Is(err, NotFound))
	require.Equal(t, http.StatusNotFound, HTTPStatus(err))
	require.Equal(t, "file missing", Message(err))
}

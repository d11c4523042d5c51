package handler

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"cfdb/internal/apperr"
	"cfdb/internal/service"
)

// fakeStreamService records the open call and returns a canned upstream.
type fakeStreamService struct {
	gotDCC     string
	gotLocalID string
	gotRange   string
	gotToken   string
	upstream   *service.Upstream
	err        error
}

func (f *fakeStreamService) Open(ctx context.Context, dccName, localID, rangeHeader, grantToken string) (*service.Upstream, error) {
	f.gotDCC = dccName
	f.gotLocalID = localID
	f.gotRange = rangeHeader
	f.gotToken = grantToken
	if f.err != nil {
		return nil, f.err
	}
	return f.upstream, nil
}

func newDataRouter(svc *fakeStreamService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/data/:dcc/:local_id", NewDataHandler(svc).Download)
	return r
}

func TestDownloadRelaysPartialContent(t *testing.T) {
	svc := &fakeStreamService{upstream: &service.Upstream{
		Status:        http.StatusPartialContent,
		ContentType:   "application/octet-stream",
		ContentLength: "4",
		ContentRange:  "bytes 0-3/100",
		Body:          io.NopCloser(strings.NewReader("data")),
	}}
	r := newDataRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/data/hubmap/f1", nil)
	req.Header.Set("Range", "bytes=0-3")
	req.Header.Set("Authorization", "Bearer tok-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusPartialContent, w.Code)
	require.Equal(t, "bytes 0-3/100", w.Header().Get("Content-Range"))
	require.Equal(t, "bytes", w.Header().Get("Accept-Ranges"))
	require.Equal(t, "data", w.Body.String())

	require.Equal(t, "hubmap", svc.gotDCC)
	require.Equal(t, "f1", svc.gotLocalID)
	require.Equal(t, "bytes=0-3", svc.gotRange)
	require.Equal(t, "tok-123", svc.gotToken)
}

func TestDownloadErrorStatusCodes(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{apperr.New(apperr.NotFound, "missing"), http.StatusNotFound},
		{apperr.New(apperr.Forbidden, "restricted"), http.StatusForbidden},
		{apperr.New(apperr.Unsupported, "globus only"), http.StatusNotImplemented},
		{apperr.New(apperr.BadRequest, "bad range"), http.StatusBadRequest},
		{apperr.New(apperr.UpstreamError, "upstream 500"), http.StatusBadGateway},
		{apperr.New(apperr.Timeout, "upstream hung"), http.StatusGatewayTimeout},
	}
	for _, tc := range cases {
		r := newDataRouter(&fakeStreamService{err: tc.err})
		req := httptest.NewRequest(http.MethodGet, "/data/hubmap/f1", nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		require.Equalf(t, tc.code, w.Code, "error %v", tc.err)
	}
}

package service

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"cfdb/internal/apperr"
	"cfdb/internal/model"
	"cfdb/internal/registry"
	"cfdb/pkg/drs"
	"cfdb/pkg/token"
)

// fakeFileRepo serves a fixed DCC record and file set.
type fakeFileRepo struct {
	dccRec *model.DCC
	files  map[string]*model.File // keyed by local_id
}

func (f *fakeFileRepo) Aggregate(ctx context.Context, pipeline []bson.D) ([]bson.M, error) {
	return nil, nil
}

func (f *fakeFileRepo) FindFileByKey(ctx context.Context, idNamespace, localID string) (*model.File, error) {
	if file, ok := f.files[localID]; ok {
		return file, nil
	}
	return nil, apperr.New(apperr.NotFound, "file %s/%s not found", idNamespace, localID)
}

func (f *fakeFileRepo) FindDCCByAbbreviation(ctx context.Context, abbreviation string) (*model.DCC, error) {
	if f.dccRec == nil {
		return nil, apperr.New(apperr.NotFound, "DCC %q has no metadata record", abbreviation)
	}
	return f.dccRec, nil
}

func (f *fakeFileRepo) ParseID(id string) (bson.D, error) {
	return bson.D{{Key: "_id", Value: id}}, nil
}

func newTestStreamService(files map[string]*model.File, secret string) StreamService {
	repo := &fakeFileRepo{
		dccRec: &model.DCC{ProjectIDNamespace: "tag:hubmapconsortium.org,2023:"},
		files:  files,
	}
	return NewStreamService(repo, registry.New(nil), drs.NewClient(2), token.NewGrantVerifier(secret), 2)
}

func TestOpenRejectsMalformedRange(t *testing.T) {
	svc := newTestStreamService(nil, "")
	for _, bad := range []string{"bytes=abc", "0-100", "bytes=10-5x", "items=0-1", "bytes=10-5"} {
		_, err := svc.Open(context.Background(), "hubmap", "f1", bad, "")
		require.Truef(t, apperr.Is(err, apperr.BadRequest), "range %q: got %v", bad, err)
	}
}

func TestOpenAcceptsValidRangeForms(t *testing.T) {
	for _, valid := range []string{"bytes=0-1023", "bytes=100-", "bytes=-500", "bytes=5-5"} {
		require.Truef(t, validRange(valid), "range %q", valid)
	}
}

func TestOpenUnknownDCC(t *testing.T) {
	svc := newTestStreamService(nil, "")
	_, err := svc.Open(context.Background(), "nosuch", "f1", "", "")
	require.True(t, apperr.Is(err, apperr.BadRequest))
}

func TestOpenMissingFile(t *testing.T) {
	svc := newTestStreamService(map[string]*model.File{}, "")
	_, err := svc.Open(context.Background(), "hubmap", "nope", "", "")
	require.True(t, apperr.Is(err, apperr.NotFound))
}

func TestOpenRestrictedWithoutGrant(t *testing.T) {
	svc := newTestStreamService(map[string]*model.File{
		"f1": {LocalID: "f1", DbgapStudyID: "phs000123", AccessURL: "https://up.example.org/f1"},
	}, "secret")
	_, err := svc.Open(context.Background(), "hubmap", "f1", "", "")
	require.True(t, apperr.Is(err, apperr.Forbidden))
}

func TestOpenProtectedTierWithoutGrant(t *testing.T) {
	svc := newTestStreamService(map[string]*model.File{
		"f1": {LocalID: "f1", DataAccessLevel: "protected", AccessURL: "https://up.example.org/f1"},
	}, "secret")
	_, err := svc.Open(context.Background(), "hubmap", "f1", "", "")
	require.True(t, apperr.Is(err, apperr.Forbidden))
}

func TestOpenGrantScopeEnforced(t *testing.T) {
	verifier := token.NewGrantVerifier("secret")
	wrongStudy, err := verifier.Sign("user", []string{"phs000999"}, time.Minute)
	require.NoError(t, err)

	svc := newTestStreamService(map[string]*model.File{
		"f1": {LocalID: "f1", DbgapStudyID: "phs000123", AccessURL: "https://up.example.org/f1"},
	}, "secret")
	_, err = svc.Open(context.Background(), "hubmap", "f1", "", wrongStudy)
	require.True(t, apperr.Is(err, apperr.Forbidden))
}

func TestOpenNoAccessURL(t *testing.T) {
	svc := newTestStreamService(map[string]*model.File{
		"f1": {LocalID: "f1"},
	}, "")
	_, err := svc.Open(context.Background(), "hubmap", "f1", "", "")
	require.True(t, apperr.Is(err, apperr.Unsupported))
}

func TestOpenGlobusOnlyUnsupported(t *testing.T) {
	svc := newTestStreamService(map[string]*model.File{
		"f1": {LocalID: "f1", AccessURL: "globus://endpoint/path/f1"},
	}, "")
	_, err := svc.Open(context.Background(), "hubmap", "f1", "", "")
	require.True(t, apperr.Is(err, apperr.Unsupported))
}

func TestOpenStreamsPartialContent(t *testing.T) {
	payload := make([]byte, 2048)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "bytes=0-1023", r.Header.Get("Range"))
		w.Header().Set("Content-Range", "bytes 0-1023/2048")
		w.Header().Set("Content-Length", "1024")
		w.WriteHeader(http.StatusPartialContent)
		w.Write(payload[:1024])
	}))
	defer upstream.Close()

	svc := newTestStreamService(map[string]*model.File{
		"f1": {LocalID: "f1", AccessURL: upstream.URL + "/f1"},
	}, "")
	out, err := svc.Open(context.Background(), "hubmap", "f1", "bytes=0-1023", "")
	require.NoError(t, err)
	defer out.Body.Close()

	require.Equal(t, http.StatusPartialContent, out.Status)
	require.Equal(t, "bytes 0-1023/2048", out.ContentRange)
	require.Equal(t, "1024", out.ContentLength)

	body, err := io.ReadAll(out.Body)
	require.NoError(t, err)
	require.Equal(t, payload[:1024], body)
}

func TestOpenFullContent(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Empty(t, r.Header.Get("Range"))
		w.Write([]byte("whole file"))
	}))
	defer upstream.Close()

	svc := newTestStreamService(map[string]*model.File{
		"f1": {LocalID: "f1", AccessURL: upstream.URL + "/f1"},
	}, "")
	out, err := svc.Open(context.Background(), "hubmap", "f1", "", "")
	require.NoError(t, err)
	defer out.Body.Close()
	require.Equal(t, http.StatusOK, out.Status)
}

func TestOpenUpstreamErrorMapped(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer upstream.Close()

	svc := newTestStreamService(map[string]*model.File{
		"f1": {LocalID: "f1", AccessURL: upstream.URL + "/f1"},
	}, "")
	_, err := svc.Open(context.Background(), "hubmap", "f1", "", "")
	require.True(t, apperr.Is(err, apperr.UpstreamError))
}

func TestOpenClientDisconnectCancelsUpstream(t *testing.T) {
	// The upstream handler drips bytes until it sees its request context
	// cancelled; a client going away must propagate there, not drain the file.
	handlerDone := make(chan error, 1)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		for {
			select {
			case <-r.Context().Done():
				handlerDone <- r.Context().Err()
				return
			case <-time.After(10 * time.Millisecond):
				if _, err := w.Write([]byte("chunk")); err != nil {
					handlerDone <- err
					return
				}
				w.(http.Flusher).Flush()
			}
		}
	}))
	defer upstream.Close()

	svc := newTestStreamService(map[string]*model.File{
		"f1": {LocalID: "f1", AccessURL: upstream.URL + "/f1"},
	}, "")

	ctx, cancel := context.WithCancel(context.Background())
	out, err := svc.Open(ctx, "hubmap", "f1", "", "")
	require.NoError(t, err)
	defer out.Body.Close()

	// Read one chunk to prove the stream is live, then drop the client.
	buf := make([]byte, 5)
	_, err = io.ReadFull(out.Body, buf)
	require.NoError(t, err)
	cancel()

	select {
	case <-handlerDone:
	case <-time.After(2 * time.Second):
		t.Fatal("upstream never observed the disconnect")
	}
	_, err = io.ReadAll(out.Body)
	require.Error(t, err)
}

func TestOpenUpstreamTimeoutMapped(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(5 * time.Second)
	}))
	defer upstream.Close()

	svc := newTestStreamService(map[string]*model.File{
		"f1": {LocalID: "f1", AccessURL: upstream.URL + "/f1"},
	}, "")
	_, err := svc.Open(context.Background(), "hubmap", "f1", "", "")
	require.True(t, apperr.Is(err, apperr.Timeout))
}

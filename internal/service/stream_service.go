package service

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"cfdb/internal/apperr"
	"cfdb/internal/model"
	"cfdb/internal/registry"
	"cfdb/internal/repository"
	"cfdb/pkg/drs"
	"cfdb/pkg/log"
	"cfdb/pkg/token"
)

// rangePattern accepts the byte-range forms this gateway forwards:
// bytes=N-M, bytes=N- and bytes=-N.
var rangePattern = regexp.MustCompile(`^bytes=(?:(\d+)-(\d*)|-(\d+))$`)

// validRange reports whether h is a single well-formed byte range with
// start <= end.
func validRange(h string) bool {
	m := rangePattern.FindStringSubmatch(h)
	if m == nil {
		return false
	}
	if m[1] != "" && m[2] != "" {
		start, err1 := strconv.ParseInt(m[1], 10, 64)
		end, err2 := strconv.ParseInt(m[2], 10, 64)
		if err1 != nil || err2 != nil || start > end {
			return false
		}
	}
	return true
}

// Upstream is an opened upstream file response ready to relay. The caller
// owns Body and must close it on every exit path.
type Upstream struct {
	Status        int
	ContentType   string
	ContentLength string
	ContentRange  string
	Body          io.ReadCloser
}

// StreamService proxies file bytes from the hosting DCC.
type StreamService interface {
	// Open resolves, authorizes and dispatches a download request, returning
	// the upstream response to relay. rangeHeader and grantToken may be empty.
	Open(ctx context.Context, dccName, localID, rangeHeader, grantToken string) (*Upstream, error)
}

type streamService struct {
	files    repository.FileRepository
	registry *registry.Registry
	drs      *drs.Client
	verifier *token.GrantVerifier
	client   *http.Client
}

// NewStreamService creates a StreamService. upstreamTimeoutSeconds bounds the
// wait for upstream response headers, not the body transfer.
func NewStreamService(files repository.FileRepository, reg *registry.Registry, drsClient *drs.Client, verifier *token.GrantVerifier, upstreamTimeoutSeconds int) StreamService {
	if upstreamTimeoutSeconds <= 0 {
		upstreamTimeoutSeconds = 30
	}
	return &streamService{
		files:    files,
		registry: reg,
		drs:      drsClient,
		verifier: verifier,
		client: &http.Client{
			Transport: &http.Transport{
				ResponseHeaderTimeout: time.Duration(upstreamTimeoutSeconds) * time.Second,
			},
		},
	}
}

func (s *streamService) Open(ctx context.Context, dccName, localID, rangeHeader, grantToken string) (*Upstream, error) {
	// 1. Validate the Range header up front; a malformed header fails the
	// request instead of being dropped.
	if rangeHeader != "" && !validRange(rangeHeader) {
		return nil, apperr.New(apperr.BadRequest, "invalid Range header %q", rangeHeader)
	}

	// 2. Resolve the DCC and the file.
	dcc, err := s.registry.Get(dccName)
	if err != nil {
		return nil, err
	}
	file, err := s.resolveFile(ctx, dcc, localID)
	if err != nil {
		return nil, err
	}

	// 3. Authorize restricted-access files.
	if err := s.authorize(dcc, file, grantToken); err != nil {
		return nil, err
	}

	// 4. Dispatch: turn the stored access reference into a fetchable URL.
	downloadURL, err := s.dispatch(ctx, file)
	if err != nil {
		return nil, err
	}

	// 5. Stream.
	return s.fetch(ctx, downloadURL, rangeHeader)
}

// resolveFile finds the file record by its DCC-scoped identifier. The DCC's
// metadata record supplies the id namespace its files live under.
func (s *streamService) resolveFile(ctx context.Context, dcc registry.DCC, localID string) (*model.File, error) {
	dccRec, err := s.files.FindDCCByAbbreviation(ctx, dcc.Name)
	if err != nil {
		return nil, err
	}
	if dccRec.ProjectIDNamespace == "" {
		return nil, apperr.New(apperr.NotFound, "DCC %s has no id namespace on record", dcc.Name)
	}
	return s.files.FindFileByKey(ctx, dccRec.ProjectIDNamespace, localID)
}

// authorize applies the access policy: a dbGaP study id marks a file
// controlled-access everywhere, and HuBMAP additionally restricts its
// consortium and protected tiers. Everything else is public.
func (s *streamService) authorize(dcc registry.DCC, file *model.File, grantToken string) error {
	restricted := file.DbgapStudyID != ""
	if dcc.Name == "hubmap" && (file.DataAccessLevel == "consortium" || file.DataAccessLevel == "protected") {
		restricted = true
	}
	if !restricted {
		return nil
	}

	if grantToken == "" {
		return apperr.New(apperr.Forbidden, "file requires an access grant")
	}
	claims, err := s.verifier.Verify(grantToken)
	if err != nil {
		return apperr.Wrap(apperr.Forbidden, err, "invalid access grant")
	}
	if file.DbgapStudyID != "" && !claims.Grants(file.DbgapStudyID) {
		return apperr.New(apperr.Forbidden, "access grant does not cover study %s", file.DbgapStudyID)
	}
	return nil
}

// dispatch selects the transfer strategy for the file's access reference.
// Direct https URLs pass through; drs:// URIs resolve to a download URL;
// globus references have no bridge here.
func (s *streamService) dispatch(ctx context.Context, file *model.File) (string, error) {
	accessURL := file.AccessURL
	if accessURL == "" {
		return "", apperr.New(apperr.Unsupported, "file has no access URL on record")
	}

	switch {
	case strings.HasPrefix(accessURL, "https://") || strings.HasPrefix(accessURL, "http://"):
		return accessURL, nil

	case strings.HasPrefix(accessURL, "drs://"):
		obj, err := s.drs.Resolve(ctx, accessURL)
		if err != nil {
			return "", err
		}
		if !obj.HasMethod(drs.MethodHTTPS, drs.MethodS3) {
			if obj.HasMethod(drs.MethodGlobus) {
				return "", apperr.New(apperr.Unsupported, "file is only available via Globus transfer")
			}
			return "", apperr.New(apperr.Unsupported, "no streamable access method for DRS object %s", obj.ID)
		}
		return obj.DownloadURL()

	case strings.HasPrefix(accessURL, "globus://"):
		return "", apperr.New(apperr.Unsupported, "file is only available via Globus transfer")

	default:
		return "", apperr.New(apperr.Unsupported, "unrecognized access URL scheme in %q", accessURL)
	}
}

// fetch issues the upstream request and hands back the response to relay.
func (s *streamService) fetch(ctx context.Context, url, rangeHeader string) (*Upstream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.UpstreamError, err, "building upstream request")
	}
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return nil, apperr.Wrap(apperr.Timeout, err, "upstream did not respond in time")
		}
		return nil, apperr.Wrap(apperr.UpstreamError, err, "upstream request failed")
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		resp.Body.Close()
		log.Warnf("[StreamService] upstream returned HTTP %d for %s", resp.StatusCode, url)
		return nil, apperr.New(apperr.UpstreamError, "upstream returned HTTP %d", resp.StatusCode)
	}

	return &Upstream{
		Status:        resp.StatusCode,
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: resp.Header.Get("Content-Length"),
		ContentRange:  resp.Header.Get("Content-Range"),
		Body:          resp.Body,
	}, nil
}

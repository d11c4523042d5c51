// Package materialize is the interface to the external materializer, the
// offline collaborator that turns a DCC's C2M2 datapackage into normalized
// flat per-entity tables. The core never parses datapackages itself.
package materialize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"cfdb/internal/apperr"
	"cfdb/internal/registry"
)

// Datapackage is one DCC's normalized table set. Table names match the store
// collection names (file, dcc, collection, ...); rows are loaded as-is after
// being tagged with the submission.
type Datapackage struct {
	Submission string                              `json:"submission"`
	Tables     map[string][]map[string]interface{} `json:"tables"`
	// Raw is the fetched payload, kept for archival.
	Raw []byte `json:"-"`
}

// Records counts the rows across all tables.
func (p *Datapackage) Records() int64 {
	var n int64
	for _, rows := range p.Tables {
		n += int64(len(rows))
	}
	return n
}

// Client fetches a DCC's normalized datapackage.
type Client interface {
	Fetch(ctx context.Context, dcc registry.DCC) (*Datapackage, error)
}

// HTTPClient fetches datapackages from the materializer service over HTTP
// with a bounded deadline.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

// NewHTTPClient creates a materializer client. timeoutSeconds <= 0 falls back
// to 300s; datapackages run to millions of rows.
func NewHTTPClient(baseURL string, timeoutSeconds int) *HTTPClient {
	if timeoutSeconds <= 0 {
		timeoutSeconds = 300
	}
	return &HTTPClient{
		baseURL:    baseURL,
		httpClient: &http.Client{},
		timeout:    time.Duration(timeoutSeconds) * time.Second,
	}
}

// Fetch retrieves the DCC's datapackage, using its configured package URL
// when present and the materializer's canonical path otherwise.
func (c *HTTPClient) Fetch(ctx context.Context, dcc registry.DCC) (*Datapackage, error) {
	target := dcc.PackageURL
	if target == "" {
		target = fmt.Sprintf("%s/datapackages/%s", c.baseURL, dcc.Name)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.UpstreamError, err, "building datapackage request for %s", dcc.Name)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, apperr.Wrap(apperr.Timeout, err, "datapackage fetch for %s timed out", dcc.Name)
		}
		return nil, apperr.Wrap(apperr.UpstreamError, err, "datapackage fetch for %s failed", dcc.Name)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperr.New(apperr.UpstreamError, "materializer returned HTTP %d for %s", resp.StatusCode, dcc.Name)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, apperr.Wrap(apperr.Timeout, err, "datapackage fetch for %s timed out", dcc.Name)
		}
		return nil, apperr.Wrap(apperr.UpstreamError, err, "reading datapackage for %s", dcc.Name)
	}

	var pkg Datapackage
	if err := json.Unmarshal(raw, &pkg); err != nil {
		return nil, apperr.Wrap(apperr.UpstreamError, err, "decoding datapackage for %s", dcc.Name)
	}
	if pkg.Submission == "" {
		pkg.Submission = dcc.Name
	}
	pkg.Raw = raw
	return &pkg, nil
}

// Package drs is a client for GA4GH Data Repository Service endpoints. It
// resolves drs:// URIs to object metadata and access methods.
package drs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cfdb/internal/apperr"
)

// Access method types reported by DRS servers.
const (
	MethodHTTPS  = "https"
	MethodS3     = "s3"
	MethodGlobus = "globus"
)

// AccessMethod is one way of retrieving an object's bytes.
type AccessMethod struct {
	Type      string `json:"type"`
	AccessURL string `json:"access_url"`
	AccessID  string `json:"access_id,omitempty"`
	Region    string `json:"region,omitempty"`
}

// Object is a resolved DRS object.
type Object struct {
	ID            string         `json:"id"`
	Name          string         `json:"name,omitempty"`
	Size          int64          `json:"size,omitempty"`
	MimeType      string         `json:"mime_type,omitempty"`
	AccessMethods []AccessMethod `json:"access_methods"`
}

// HasMethod reports whether the object offers any of the given method types.
func (o *Object) HasMethod(types ...string) bool {
	for _, m := range o.AccessMethods {
		for _, t := range types {
			if m.Type == t {
				return true
			}
		}
	}
	return false
}

// DownloadURL returns the first https/s3 access URL, or an error when the
// object has none.
func (o *Object) DownloadURL() (string, error) {
	for _, m := range o.AccessMethods {
		if (m.Type == MethodHTTPS || m.Type == MethodS3) && m.AccessURL != "" {
			return m.AccessURL, nil
		}
	}
	return "", apperr.New(apperr.Unsupported, "no HTTPS or S3 access method available")
}

// Client resolves DRS objects with a bounded deadline.
type Client struct {
	httpClient *http.Client
	timeout    time.Duration
	// baseOverride replaces the https://{host} prefix in tests.
	baseOverride string
}

// NewClient creates a DRS client. timeoutSeconds <= 0 falls back to 10s.
func NewClient(timeoutSeconds int) *Client {
	if timeoutSeconds <= 0 {
		timeoutSeconds = 10
	}
	return &Client{
		httpClient: &http.Client{},
		timeout:    time.Duration(timeoutSeconds) * time.Second,
	}
}

// ParseURI splits a drs://hostname/object-id URI.
func ParseURI(uri string) (host, objectID string, err error) {
	parsed, err := url.Parse(uri)
	if err != nil || parsed.Scheme != "drs" {
		return "", "", apperr.New(apperr.BadRequest, "invalid DRS URI %q: scheme must be drs", uri)
	}
	host = parsed.Host
	objectID = strings.TrimPrefix(parsed.Path, "/")
	if host == "" || objectID == "" {
		return "", "", apperr.New(apperr.BadRequest, "invalid DRS URI format: %q", uri)
	}
	return host, objectID, nil
}

// Resolve fetches object metadata for a drs:// URI from the standard GA4GH
// endpoint. Failures map to the error taxonomy: unreachable or erroring
// servers are upstream errors, deadline expiry is a timeout.
func (c *Client) Resolve(ctx context.Context, uri string) (*Object, error) {
	host, objectID, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}

	base := "https://" + host
	if c.baseOverride != "" {
		base = c.baseOverride
	}
	endpoint := fmt.Sprintf("%s/ga4gh/drs/v1/objects/%s", base, url.PathEscape(objectID))

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.UpstreamError, err, "building DRS request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, apperr.Wrap(apperr.Timeout, err, "DRS resolution timed out for %s", host)
		}
		return nil, apperr.Wrap(apperr.UpstreamError, err, "DRS request to %s failed", host)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decode
	case resp.StatusCode == http.StatusNotFound:
		return nil, apperr.New(apperr.NotFound, "DRS object %s not found", objectID)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, apperr.New(apperr.Forbidden, "DRS object %s requires authorization", objectID)
	default:
		return nil, apperr.New(apperr.UpstreamError, "DRS server returned HTTP %d", resp.StatusCode)
	}

	var raw struct {
		ID            string `json:"id"`
		Name          string `json:"name"`
		Size          int64  `json:"size"`
		MimeType      string `json:"mime_type"`
		AccessMethods []struct {
			Type      string          `json:"type"`
			AccessURL json.RawMessage `json:"access_url"`
			AccessID  string          `json:"access_id"`
			Region    string          `json:"region"`
		} `json:"access_methods"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, apperr.Wrap(apperr.UpstreamError, err, "decoding DRS response")
	}

	obj := &Object{ID: raw.ID, Name: raw.Name, Size: raw.Size, MimeType: raw.MimeType}
	if obj.ID == "" {
		obj.ID = objectID
	}
	for _, m := range raw.AccessMethods {
		obj.AccessMethods = append(obj.AccessMethods, AccessMethod{
			Type:      m.Type,
			AccessURL: decodeAccessURL(m.AccessURL),
			AccessID:  m.AccessID,
			Region:    m.Region,
		})
	}
	return obj, nil
}

// decodeAccessURL accepts both spellings seen in the wild: a plain string or
// an object with a "url" key.
func decodeAccessURL(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.URL
	}
	return ""
}

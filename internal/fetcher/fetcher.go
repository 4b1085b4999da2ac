// Package fetcher downloads remote lead files over HTTP(S) or FTP so they can
// be loaded the same way as a local upload.
package fetcher

import (
	"context"
	"errors"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-ingest/internal/model"
)

// DefaultMaxBytes caps a single download.
const DefaultMaxBytes = 50 << 20

// ErrTooLarge is returned when a download exceeds the configured size cap.
var ErrTooLarge = errors.New("fetcher: remote file exceeds size limit")

// Fetcher downloads a URL. Callers close the returned body.
type Fetcher interface {
	Download(ctx context.Context, rawURL string) (io.ReadCloser, error)
}

// Options configures a Router.
type Options struct {
	HTTP     HTTPOptions
	FTP      FTPOptions
	MaxBytes int64 // default DefaultMaxBytes
}

// Router picks a Fetcher by URL scheme.
type Router struct {
	http     Fetcher
	ftp      Fetcher
	maxBytes int64
}

// New creates a Router backed by an HTTPFetcher and an FTPFetcher.
func New(opts Options) *Router {
	return NewRouter(NewHTTPFetcher(opts.HTTP), NewFTPFetcher(opts.FTP), opts.MaxBytes)
}

// NewRouter creates a Router from explicit fetchers. A nil fetcher disables
// its schemes.
func NewRouter(httpFetcher, ftpFetcher Fetcher, maxBytes int64) *Router {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Router{http: httpFetcher, ftp: ftpFetcher, maxBytes: maxBytes}
}

// For returns the fetcher that serves rawURL's scheme.
func (r *Router) For(rawURL string) (Fetcher, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: parse url")
	}
	var f Fetcher
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		f = r.http
	case "ftp":
		f = r.ftp
	}
	if f == nil {
		return nil, eris.Errorf("fetcher: unsupported scheme %q", u.Scheme)
	}
	return f, nil
}

// Fetch downloads rawURL into an upload named after the last path segment.
func (r *Router) Fetch(ctx context.Context, rawURL string) (model.RawUpload, error) {
	name, err := FileName(rawURL)
	if err != nil {
		return model.RawUpload{}, err
	}
	f, err := r.For(rawURL)
	if err != nil {
		return model.RawUpload{}, err
	}

	body, err := f.Download(ctx, rawURL)
	if err != nil {
		return model.RawUpload{}, err
	}
	defer body.Close() //nolint:errcheck

	data, err := io.ReadAll(io.LimitReader(body, r.maxBytes+1))
	if err != nil {
		return model.RawUpload{}, eris.Wrapf(err, "fetcher: read %s", rawURL)
	}
	if int64(len(data)) > r.maxBytes {
		return model.RawUpload{}, ErrTooLarge
	}
	return model.RawUpload{Filename: name, Body: data}, nil
}

// FileName derives the upload filename from a URL path.
func FileName(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", eris.Wrap(err, "fetcher: parse url")
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		return "", eris.Errorf("fetcher: no file name in %q", rawURL)
	}
	return name, nil
}

// Package blob persists uploaded files in object storage. Every write returns
// the key the object actually landed under, which callers must use instead of
// the key they asked for.
package blob

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"path"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-ingest/internal/model"
)

// UploadPrefix is the key prefix for raw client uploads.
const UploadPrefix = "raw/"

// ErrNotFound is returned by Get for a missing object.
var ErrNotFound = eris.New("blob: object not found")

// Store is the object storage capability.
type Store interface {
	Put(ctx context.Context, key string, body []byte) (model.ResolvedKey, error)
	Exists(ctx context.Context, key string) (bool, error)
	Get(ctx context.Context, key string) ([]byte, error)
	EnsureContainer(ctx context.Context) error
	PresignPut(ctx context.Context, key, contentType string, ttl time.Duration) (string, error)
}

// UploadKey returns the key a client file is stored under.
func UploadKey(filename string) string {
	return UploadPrefix + SanitizeName(filename)
}

// SanitizeName reduces a client-supplied filename to a safe base name.
func SanitizeName(filename string) string {
	name := path.Base(strings.ReplaceAll(strings.TrimSpace(filename), `\`, "/"))
	if name == "." || name == "/" || name == ".." || name == "" {
		return "upload"
	}
	return name
}

// CleanKey strips leading slashes and any "s3://bucket/" prefix.
func CleanKey(key string) string {
	key = strings.TrimSpace(key)
	if rest, ok := strings.CutPrefix(key, "s3://"); ok {
		if i := strings.Index(rest, "/"); i >= 0 {
			key = rest[i+1:]
		} else {
			key = ""
		}
	}
	return strings.TrimLeft(key, "/")
}

func gzipBody(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(b); err != nil {
		return nil, eris.Wrap(err, "blob: gzip")
	}
	if err := zw.Close(); err != nil {
		return nil, eris.Wrap(err, "blob: gzip close")
	}
	return buf.Bytes(), nil
}

func gunzipBody(b []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, eris.Wrap(err, "blob: gunzip")
	}
	defer zr.Close() //nolint:errcheck
	out, err := io.ReadAll(zr)
	return out, eris.Wrap(err, "blob: gunzip read")
}

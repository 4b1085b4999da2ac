package warehouse

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// newStageName returns a unique stage name for base. Compressed names carry
// the ".gz_<hex>" form that loaders check for.
func newStageName(base string, compress bool) string {
	base = path.Base(strings.TrimSpace(base))
	if base == "." || base == "/" {
		base = "upload"
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")
	if compress {
		return base + ".gz_" + suffix
	}
	return base + "_" + suffix
}

func gzipBytes(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(b); err != nil {
		return nil, eris.Wrap(err, "warehouse: gzip write")
	}
	if err := zw.Close(); err != nil {
		return nil, eris.Wrap(err, "warehouse: gzip close")
	}
	return buf.Bytes(), nil
}

func gunzipBytes(b []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, eris.Wrap(err, "warehouse: gzip open")
	}
	defer zr.Close() //nolint:errcheck
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, eris.Wrap(err, "warehouse: gzip read")
	}
	return out, nil
}

// parsePayload splits a JSON-lines payload into loadable rows. Each row is
// (filename, data). Blank lines are ignored; a line that is not a JSON object
// is an error, which either aborts the statement or is counted and skipped.
func parsePayload(file string, payload []byte, onError OnError) (*CopyResult, [][]any, error) {
	res := &CopyResult{File: file}
	var rows [][]any

	sc := bufio.NewScanner(bytes.NewReader(payload))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var line int64
	for sc.Scan() {
		line++
		text := bytes.TrimSpace(sc.Bytes())
		if len(text) == 0 {
			continue
		}
		res.RowsParsed++

		if msg := checkObject(text); msg != "" {
			if onError == OnErrorAbort {
				return nil, nil, eris.Errorf("warehouse: copy %s aborted on line %d: %s", file, line, msg)
			}
			res.ErrorsSeen++
			if res.FirstError == "" {
				res.FirstError = msg
				res.FirstErrorLine = line
			}
			continue
		}
		rows = append(rows, []any{file, string(text)})
	}
	if err := sc.Err(); err != nil {
		return nil, nil, eris.Wrapf(err, "warehouse: scan %s", file)
	}

	return res, rows, nil
}

// checkObject returns why line cannot be loaded as a jsonb row, or "".
// Postgres jsonb rejects the NUL character anywhere in a key or string.
func checkObject(line []byte) string {
	var obj map[string]any
	if err := json.Unmarshal(line, &obj); err != nil {
		return fmt.Sprintf("invalid JSON object: %v", err)
	}
	if obj == nil {
		return "invalid JSON object: null"
	}
	if hasNUL(obj) {
		return "unsupported Unicode escape sequence: \\u0000"
	}
	return ""
}

func hasNUL(v any) bool {
	switch t := v.(type) {
	case string:
		return strings.IndexByte(t, 0) >= 0
	case map[string]any:
		for k, e := range t {
			if strings.IndexByte(k, 0) >= 0 || hasNUL(e) {
				return true
			}
		}
	case []any:
		for _, e := range t {
			if hasNUL(e) {
				return true
			}
		}
	}
	return false
}

func copyStatus(res *CopyResult) string {
	switch {
	case res.ErrorsSeen == 0:
		return CopyStatusLoaded
	case res.RowsLoaded > 0:
		return CopyStatusPartial
	default:
		return CopyStatusFailed
	}
}

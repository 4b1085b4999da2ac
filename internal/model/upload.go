// Package model holds the upload, record set and load types shared by the
// ingestion and query paths.
package model

import "strings"

// RawUpload is an uploaded file as received by the API, before normalization.
type RawUpload struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"-"`
}

// Record is one normalized row keyed by column name. Missing values are
// represented as the empty string, never omitted.
type Record map[string]string

// RecordSet is the canonical tabular form of an upload.
type RecordSet struct {
	Columns  []string `json:"columns"`
	Records  []Record `json:"records"`
	Skipped  int      `json:"skipped"`
	Encoding string   `json:"encoding"`
}

// Len returns the number of records.
func (rs *RecordSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.Records)
}

// ResolvedKey is the key an object actually ended up under in a blob store.
// It can differ from the key that was requested (compression suffix, renames),
// so callers thread it forward instead of reusing the requested key.
type ResolvedKey string

func (k ResolvedKey) String() string { return string(k) }

// StagedArtifact is a persisted payload addressed by its resolved key.
type StagedArtifact struct {
	Key  ResolvedKey `json:"key"`
	Size int64       `json:"size"`
}

// IsXLSX reports whether a filename or key refers to a spreadsheet upload.
func IsXLSX(name string) bool {
	lower := strings.ToLower(name)
	lower = strings.TrimSuffix(lower, ".gz")
	return strings.HasSuffix(lower, ".xlsx")
}

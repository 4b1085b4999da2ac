// Package normalize turns uploaded lead files into a canonical record set:
// it detects the text encoding, parses delimited rows, repairs column names
// and replaces missing values with empty strings.
package normalize

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-ingest/internal/model"
)

// DefaultFallbackEncoding is used when detection is unavailable or unsure.
const DefaultFallbackEncoding = "latin1"

// nullMarkers are cell values treated as missing, as a dataframe loader would.
var nullMarkers = map[string]struct{}{
	"#N/A": {}, "#N/A N/A": {}, "#NA": {}, "-1.#IND": {}, "-1.#QNAN": {},
	"-NaN": {}, "-nan": {}, "1.#IND": {}, "1.#QNAN": {}, "<NA>": {},
	"N/A": {}, "NA": {}, "NULL": {}, "NaN": {}, "None": {}, "n/a": {},
	"nan": {}, "null": {},
}

// Options configures Normalize.
type Options struct {
	Delimiter        rune     // default ','
	BestEffort       bool     // skip and count malformed rows instead of failing
	FallbackEncoding string   // default DefaultFallbackEncoding
	MinConfidence    int      // detector confidence (0-100) required to trust it; default 50
	TreatNullMarkers bool     // map NaN/NULL/N/A style markers to ""
	Detector         Detector // nil skips detection and uses FallbackEncoding
}

// DefaultOptions returns the options used by the HTTP and CLI entrypoints.
func DefaultOptions() Options {
	return Options{
		Delimiter:        ',',
		FallbackEncoding: DefaultFallbackEncoding,
		MinConfidence:    50,
		TreatNullMarkers: true,
		Detector:         ChardetDetector{},
	}
}

func (o Options) withDefaults() Options {
	if o.Delimiter == 0 {
		o.Delimiter = ','
	}
	if o.FallbackEncoding == "" {
		o.FallbackEncoding = DefaultFallbackEncoding
	}
	if o.MinConfidence <= 0 {
		o.MinConfidence = 50
	}
	return o
}

// Normalize decodes and parses a delimited upload. Row order is preserved.
func Normalize(raw []byte, opts Options) (*model.RecordSet, error) {
	opts = opts.withDefaults()

	text, enc, err := decode(raw, opts.Detector, opts.MinConfidence, opts.FallbackEncoding)
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(bytes.NewReader(text))
	reader.Comma = opts.Delimiter
	reader.FieldsPerRecord = -1 // counts are checked below so they can be reported or skipped

	header, err := reader.Read()
	if err == io.EOF {
		return nil, &ParseError{Line: 1, Msg: "missing header row"}
	}
	if err != nil {
		return nil, csvParseError(err, 1)
	}

	columns, err := CleanColumns(header)
	if err != nil {
		return nil, err
	}

	rs := &model.RecordSet{Columns: columns, Encoding: enc}
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			if opts.BestEffort {
				rs.Skipped++
				continue
			}
			return nil, csvParseError(err, 0)
		}
		line, _ := reader.FieldPos(0)

		if len(row) != len(columns) {
			if opts.BestEffort {
				rs.Skipped++
				continue
			}
			return nil, &ParseError{
				Line: line,
				Msg:  fmt.Sprintf("expected %d fields, got %d", len(columns), len(row)),
			}
		}

		rs.Records = append(rs.Records, buildRecord(columns, row, opts.TreatNullMarkers))
	}

	return rs, nil
}

// NormalizeRows applies the header and cell rules to already-split rows.
// The first row is the header.
func NormalizeRows(rows [][]string, opts Options) (*model.RecordSet, error) {
	if len(rows) == 0 {
		return nil, &ParseError{Line: 1, Msg: "missing header row"}
	}

	columns, err := CleanColumns(rows[0])
	if err != nil {
		return nil, err
	}

	rs := &model.RecordSet{Columns: columns, Encoding: "utf-8"}
	for i, row := range rows[1:] {
		if isBlankRow(row) {
			continue
		}
		if len(row) > len(columns) {
			if opts.BestEffort {
				rs.Skipped++
				continue
			}
			return nil, &ParseError{
				Line: i + 2,
				Msg:  fmt.Sprintf("expected %d fields, got %d", len(columns), len(row)),
			}
		}
		// Spreadsheet rows drop trailing empty cells.
		for len(row) < len(columns) {
			row = append(row, "")
		}
		rs.Records = append(rs.Records, buildRecord(columns, row, opts.TreatNullMarkers))
	}

	return rs, nil
}

// CleanColumn trims a column name and replaces each internal whitespace
// character with an underscore.
func CleanColumn(name string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return '_'
		}
		return r
	}, strings.TrimSpace(name))
}

// CleanColumns cleans every header name and rejects empty or duplicate results.
func CleanColumns(header []string) ([]string, error) {
	columns := make([]string, len(header))
	origins := make(map[string][]string, len(header))
	var empty []int

	for i, name := range header {
		cleaned := CleanColumn(name)
		if cleaned == "" {
			empty = append(empty, i+1)
		}
		columns[i] = cleaned
		origins[cleaned] = append(origins[cleaned], name)
	}

	collisions := make(map[string][]string)
	for cleaned, names := range origins {
		if cleaned != "" && len(names) > 1 {
			collisions[cleaned] = names
		}
	}

	if len(collisions) > 0 || len(empty) > 0 {
		return nil, &SchemaError{Collisions: collisions, Empty: empty}
	}
	return columns, nil
}

func buildRecord(columns, row []string, treatNull bool) model.Record {
	rec := make(model.Record, len(columns))
	for i, col := range columns {
		v := row[i]
		if treatNull {
			if _, ok := nullMarkers[v]; ok {
				v = ""
			}
		}
		rec[col] = v
	}
	return rec
}

func isBlankRow(row []string) bool {
	for _, v := range row {
		if v != "" {
			return false
		}
	}
	return true
}

func csvParseError(err error, line int) error {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return &ParseError{Line: pe.StartLine, Msg: pe.Err.Error(), Err: err}
	}
	return &ParseError{Line: line, Msg: "read row", Err: eris.Wrap(err, "normalize: read csv")}
}

package normalize

import (
	"fmt"
	"sort"
	"strings"
)

// EncodingError reports that the upload could not be decoded to UTF-8.
type EncodingError struct {
	Encoding string
	Err      error
}

func (e *EncodingError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("normalize: cannot decode as %q", e.Encoding)
	}
	return fmt.Sprintf("normalize: cannot decode as %q: %v", e.Encoding, e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }

// ParseError reports a malformed row. Line is 1-based and counts the header.
type ParseError struct {
	Line int
	Msg  string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("normalize: parse error on line %d: %s", e.Line, e.Msg)
}

func (e *ParseError) Unwrap() error { return e.Err }

// SchemaError reports column names that are unusable after cleanup.
type SchemaError struct {
	// Collisions maps a cleaned column name to the original names that
	// produced it. Only names with more than one origin are listed.
	Collisions map[string][]string
	// Empty lists 1-based positions of columns whose name is blank.
	Empty []int
}

func (e *SchemaError) Error() string {
	names := make([]string, 0, len(e.Collisions))
	for name := range e.Collisions {
		names = append(names, name)
	}
	sort.Strings(names)

	var parts []string
	for _, name := range names {
		originals := e.Collisions[name]
		quoted := make([]string, len(originals))
		for i, o := range originals {
			quoted[i] = fmt.Sprintf("%q", o)
		}
		parts = append(parts, fmt.Sprintf("%s <- %s", name, strings.Join(quoted, ", ")))
	}
	if len(e.Empty) > 0 {
		parts = append(parts, fmt.Sprintf("empty column name at position %v", e.Empty))
	}
	return "normalize: schema error: " + strings.Join(parts, "; ")
}

package normalize

import (
	"bytes"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/saintfish/chardet"
	"go.uber.org/zap"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Detector guesses the character set of raw bytes. Confidence is 0-100.
type Detector interface {
	Detect(raw []byte) (charset string, confidence int, err error)
}

// ChardetDetector wraps saintfish/chardet's text detector.
type ChardetDetector struct{}

// Detect returns the best guess from chardet.
func (ChardetDetector) Detect(raw []byte) (string, int, error) {
	res, err := chardet.NewTextDetector().DetectBest(raw)
	if err != nil {
		return "", 0, eris.Wrap(err, "normalize: detect charset")
	}
	return res.Charset, res.Confidence, nil
}

// decode converts raw bytes to UTF-8 and reports the encoding that was used.
// The detector's answer is trusted only at or above minConfidence and only
// when the charset is known; otherwise the fallback encoding applies.
func decode(raw []byte, det Detector, minConfidence int, fallback string) ([]byte, string, error) {
	if bytes.HasPrefix(raw, utf8BOM) {
		return raw[len(utf8BOM):], "utf-8", nil
	}

	name := ""
	var enc encoding.Encoding
	if det != nil {
		charset, confidence, err := det.Detect(raw)
		switch {
		case err != nil:
			zap.L().Debug("charset detection failed, using fallback",
				zap.String("fallback", fallback),
				zap.Error(err),
			)
		case confidence < minConfidence:
			zap.L().Debug("charset detection below confidence threshold",
				zap.String("charset", charset),
				zap.Int("confidence", confidence),
				zap.String("fallback", fallback),
			)
		default:
			if e, lookupErr := htmlindex.Get(charset); lookupErr == nil {
				enc, name = e, strings.ToLower(charset)
			}
		}
	}

	if enc == nil {
		e, err := htmlindex.Get(fallback)
		if err != nil {
			return nil, fallback, &EncodingError{Encoding: fallback, Err: err}
		}
		enc, name = e, strings.ToLower(fallback)
	}

	if enc == unicode.UTF8 {
		return raw, name, nil
	}

	out, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return nil, name, &EncodingError{Encoding: name, Err: err}
	}
	return out, name, nil
}

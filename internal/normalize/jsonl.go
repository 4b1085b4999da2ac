package normalize

import (
	"bytes"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-ingest/internal/model"
)

// EncodeJSONL renders a record set as newline-delimited JSON objects, one per
// record, with keys in column order. This is the payload that gets staged.
func EncodeJSONL(rs *model.RecordSet) ([]byte, error) {
	if rs == nil {
		return nil, eris.New("normalize: encode nil record set")
	}

	keys := make([][]byte, len(rs.Columns))
	for i, col := range rs.Columns {
		k, err := json.Marshal(col)
		if err != nil {
			return nil, eris.Wrapf(err, "normalize: encode column %q", col)
		}
		keys[i] = k
	}

	var buf bytes.Buffer
	for _, rec := range rs.Records {
		buf.WriteByte('{')
		for i, col := range rs.Columns {
			if i > 0 {
				buf.WriteByte(',')
			}
			v, err := json.Marshal(rec[col])
			if err != nil {
				return nil, eris.Wrapf(err, "normalize: encode value for %q", col)
			}
			buf.Write(keys[i])
			buf.WriteByte(':')
			buf.Write(v)
		}
		buf.WriteString("}\n")
	}
	return buf.Bytes(), nil
}

package trigger

import (
	"encoding/json"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
)

// s3Notification is the subset of an S3 event notification document we read.
type s3Notification struct {
	Records []struct {
		EventSource string `json:"eventSource"`
		EventName   string `json:"eventName"`
		S3          struct {
			Bucket struct {
				Name string `json:"name"`
			} `json:"bucket"`
			Object struct {
				Key       string `json:"key"`
				Sequencer string `json:"sequencer"`
			} `json:"object"`
		} `json:"s3"`
	} `json:"Records"`
	Event string `json:"Event"` // "s3:TestEvent" on subscription setup
}

// ParseS3Event extracts object-created events from an S3 notification body.
// Keys arrive URL-encoded and are decoded. A test event yields no events.
func ParseS3Event(body []byte) ([]Event, error) {
	var n s3Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, eris.Wrap(err, "trigger: decode s3 event")
	}
	if n.Event == "s3:TestEvent" {
		return nil, nil
	}

	events := make([]Event, 0, len(n.Records))
	for _, r := range n.Records {
		if r.EventName != "" && !strings.HasPrefix(r.EventName, "ObjectCreated:") {
			continue
		}
		key, err := url.QueryUnescape(r.S3.Object.Key)
		if err != nil {
			return nil, eris.Wrapf(err, "trigger: decode key %q", r.S3.Object.Key)
		}
		if key == "" {
			continue
		}
		events = append(events, Event{
			ID:  r.S3.Bucket.Name + "/" + key + "/" + r.S3.Object.Sequencer,
			Key: key,
		})
	}
	return events, nil
}

package trigger

import "fmt"

// MissingKeyError is returned for a notification without an object key.
// No storage or warehouse call is made.
type MissingKeyError struct{}

func (*MissingKeyError) Error() string {
	return "trigger: notification payload has no s3_key"
}

// ArtifactNotFoundError is returned when a notification names a key that is
// not in the blob store.
type ArtifactNotFoundError struct {
	Key string
	Err error
}

func (e *ArtifactNotFoundError) Error() string {
	return fmt.Sprintf("trigger: artifact %s not found", e.Key)
}

func (e *ArtifactNotFoundError) Unwrap() error { return e.Err }

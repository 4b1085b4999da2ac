package loader

import "fmt"

// StageUploadError means the stage put failed. Nothing was loaded.
type StageUploadError struct {
	Name string
	Err  error
}

func (e *StageUploadError) Error() string {
	return fmt.Sprintf("loader: stage upload of %s failed: %v", e.Name, e.Err)
}

func (e *StageUploadError) Unwrap() error { return e.Err }

// StageResolutionError means the stage put returned no usable name. The
// loader never guesses a name in that case.
type StageResolutionError struct {
	Name   string
	Target string
	Reason string
}

func (e *StageResolutionError) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("loader: cannot resolve staged name for %s: %s", e.Name, e.Reason)
	}
	return fmt.Sprintf("loader: cannot resolve staged name for %s from %q: %s", e.Name, e.Target, e.Reason)
}

// LoadError means the copy statement itself failed. The copy runs in one
// transaction, so no rows of the staged file were committed. Row-level
// failures are not a LoadError; they are counted on a loaded result.
type LoadError struct {
	ResolvedName string
	Err          error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("loader: load of %s failed: %v", e.ResolvedName, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

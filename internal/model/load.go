package model

import (
	"encoding/json"
	"time"
)

// LoadState is a step of the staged load state machine.
type LoadState string

const (
	LoadStateSubmitted    LoadState = "submitted"
	LoadStateStaged       LoadState = "staged"
	LoadStateNameResolved LoadState = "name_resolved"
	LoadStateLoaded       LoadState = "loaded"
	LoadStateFailed       LoadState = "load_failed"
)

// Terminal reports whether no further transition is possible from s.
func (s LoadState) Terminal() bool {
	return s == LoadStateLoaded || s == LoadStateFailed
}

// TriggerKind tags which ingestion path requested a load.
type TriggerKind string

const (
	TriggerDirect       TriggerKind = "direct"       // caller sent the bytes with the request
	TriggerNotification TriggerKind = "notification" // file already landed in the blob store
)

// LoadTrigger is a request to load one artifact into the warehouse. Both kinds
// converge on the same load action for a given key.
type LoadTrigger struct {
	Kind        TriggerKind `json:"kind"`
	ArtifactKey ResolvedKey `json:"artifact_key"`
}

// LoadRecord is one row of the raw ingestion table. SourceFilename is the
// resolved staged name, never the client-supplied filename.
type LoadRecord struct {
	SourceFilename string          `json:"filename"`
	Payload        json.RawMessage `json:"data"`
}

// LoadResult describes the outcome of one staged load attempt.
type LoadResult struct {
	Trigger       LoadTrigger `json:"trigger"`
	State         LoadState   `json:"state"`
	LastState     LoadState   `json:"last_state,omitempty"` // state reached before a failure
	RequestedName string      `json:"requested_name"`
	ResolvedName  string      `json:"resolved_name,omitempty"`
	RowsParsed    int64       `json:"rows_parsed"`
	RowsLoaded    int64       `json:"rows_loaded"`
	RowsSkipped   int64       `json:"rows_skipped"`
	FirstError    string      `json:"first_error,omitempty"`
	Error         string      `json:"error,omitempty"`
	ContentSHA256 string      `json:"content_sha256"`
	LoadedAt      time.Time   `json:"loaded_at,omitzero"`
}

// Partial reports whether some rows were skipped by a continue-on-error load.
func (r *LoadResult) Partial() bool {
	return r != nil && r.RowsSkipped > 0
}

package types

import "time"

// StreamState is the position of a stream inside a sync pass
type StreamState string

const (
	StreamStateIdle        StreamState = "idle"
	StreamStateSchemaCheck StreamState = "schema_check"
	StreamStateExtracting  StreamState = "extracting"
	StreamStateLoading     StreamState = "loading"
	StreamStateCommitting  StreamState = "committing"
	StreamStateFailed      StreamState = "failed"
)

// StreamStatus is the last known outcome of passes over one stream
type StreamStatus struct {
	Stream    string      `json:"stream"`
	State     StreamState `json:"state"`
	Watermark time.Time   `json:"watermark"`
	LastPass  time.Time   `json:"last_pass"`
	LastError string      `json:"last_error,omitempty"`
	PassCount int         `json:"pass_count"`
	Documents int         `json:"documents"`
}

// PassResult summarizes a single pass over a stream
type PassResult struct {
	Stream    string        `json:"stream"`
	Batches   int           `json:"batches"`
	Documents int           `json:"documents"`
	Since     time.Time     `json:"since"`
	Watermark time.Time     `json:"watermark"`
	Recreated bool          `json:"recreated"`
	Duration  time.Duration `json:"duration"`
}

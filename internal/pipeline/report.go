package pipeline

import "time"

// Status is the outcome of one record.
type Status string

const (
	StatusIngested Status = "ingested"
	StatusSkipped  Status = "skipped"
	StatusFailed   Status = "failed"
)

// Stage is the last stage a record completed.
type Stage string

const (
	StageNone         Stage = ""
	StageFetched      Stage = "fetched"
	StageDecompressed Stage = "decompressed"
	StageParsed       Stage = "parsed"
	StageReconciled   Stage = "reconciled"
	StagePersisted    Stage = "persisted"
)

// Durations holds the time spent in each stage.
type Durations struct {
	Fetch      time.Duration `json:"fetch"`
	Decompress time.Duration `json:"decompress"`
	Parse      time.Duration `json:"parse"`
	Transform  time.Duration `json:"transform"`
	Persist    time.Duration `json:"persist"`
	Total      time.Duration `json:"total"`
}

// Report describes what happened to one record.
type Report struct {
	Bucket  string `json:"bucket"`
	Key     string `json:"key"`
	Status  Status `json:"status"`
	Stage   Stage  `json:"stage,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Rows    int    `json:"rows"`
	Dropped int    `json:"dropped"`
	Invalid int    `json:"invalid"`
	Events  int    `json:"events"`
	Batches int    `json:"batches"`

	Durations Durations `json:"durations"`

	Err error `json:"-"`
}

func (r *Report) skip(reason string) {
	r.Status = StatusSkipped
	r.Reason = reason
}

func (r *Report) fail(err error) {
	r.Status = StatusFailed
	r.Err = err
	r.Reason = err.Error()
}

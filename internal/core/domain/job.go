package domain

import "time"

type IngestionMode string

const (
	ModeFull        IngestionMode = "full"
	ModeIncremental IngestionMode = "incremental"
)

// IngestionJob is the queue envelope. Target is the corpus subtree to scan;
// empty means the whole corpus root.
type IngestionJob struct {
	Mode   IngestionMode `json:"mode"`
	Model  string        `json:"model"`
	Target string        `json:"target,omitempty"`
}

func (j IngestionJob) Validate() error {
	if j.Mode != ModeFull && j.Mode != ModeIncremental {
		return WrapError(ErrInvalidInput, "validate job", errUnknownMode(j.Mode))
	}
	return nil
}

type errUnknownMode IngestionMode

func (e errUnknownMode) Error() string { return "unknown mode: " + string(e) }

// Progress is the externally observable snapshot of the current or most
// recent ingestion run. It is committed alongside every stage transition.
type Progress struct {
	Running   bool          `json:"running"`
	Stage     string        `json:"stage"`
	Mode      IngestionMode `json:"mode,omitempty"`
	Model     string        `json:"model,omitempty"`
	Done      int           `json:"done"`
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Chunks    int           `json:"chunks"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// FailureEntry is one record in the bounded most-recent-N failure log.
type FailureEntry struct {
	Path       string    `json:"path"`
	Stage      string    `json:"stage"`
	Kind       string    `json:"kind"`
	Detail     string    `json:"detail"`
	OccurredAt time.Time `json:"occurred_at"`
}

package usecase

import "time"

// IngestionObserver receives pipeline events for metrics export. The
// pipeline never depends on the observer succeeding; implementations must
// not block.
type IngestionObserver interface {
	DocumentStarted()
	DocumentFinished(outcome string)
	StageObserved(stage string, duration time.Duration)
	ChunksIndexed(model string, count int)
	RunFinished(stage string)
}

// Document outcomes as reported to the observer.
const (
	outcomeSucceeded = "succeeded"
	outcomeFailed    = "failed"
	outcomeSkipped   = "skipped"
)

type noopObserver struct{}

func (noopObserver) DocumentStarted()                    {}
func (noopObserver) DocumentFinished(string)             {}
func (noopObserver) StageObserved(string, time.Duration) {}
func (noopObserver) ChunksIndexed(string, int)           {}
func (noopObserver) RunFinished(string)                  {}

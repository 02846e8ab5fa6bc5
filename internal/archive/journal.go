package archive

import "time"

// Pass statuses recorded in the journal.
const (
	PassRunning = "running"
	PassSuccess = "success"
	PassError   = "error"

	// PassAbandoned marks a pass that was still running when a later pass
	// on the same conversation started.
	PassAbandoned = "abandoned"
)

// PassRecord is one sync pass as recorded in the journal.
type PassRecord struct {
	ID           int64
	PassID       string
	Conversation string
	Parameters   string
	Status       string
	StartedAt    time.Time
	FinishedAt   *time.Time
	Messages     int
	StaleThreads int
	ArchiveSize  int
	Error        string
}

// PassSummary holds the counters stored when a pass completes.
type PassSummary struct {
	Messages     int
	StaleThreads int
	ArchiveSize  int
}

// Journal records the history of sync passes.
type Journal interface {
	// StartPass records a pass as running and returns its row id.
	StartPass(passID, conversation, parameters string, startedAt time.Time) (int64, error)

	// FinishPass marks a pass as successful.
	FinishPass(id int64, summary PassSummary, finishedAt time.Time) error

	// FailPass marks a pass as failed with the given cause.
	FailPass(id int64, cause error, finishedAt time.Time) error

	// ListPasses returns the most recent passes, newest first.
	ListPasses(limit int) ([]*PassRecord, error)

	// AbandonPass marks a running pass as abandoned.
	AbandonPass(id int64, finishedAt time.Time) error

	// RunningPasses returns passes on conversation that never finished.
	RunningPasses(conversation string) ([]*PassRecord, error)

	// Close closes the journal.
	Close() error
}

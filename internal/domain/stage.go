package domain

import "fmt"

// Stage represents a processing phase of a single request
type Stage string

const (
	StageNew        Stage = "new"
	StageIntent     Stage = "intent"
	StageSQL        Stage = "sql"
	StageRetry      Stage = "retry"
	StageDataFetch  Stage = "data"
	StageFinalizing Stage = "finalizing"
	StageDone       Stage = "done"
	StageCancelled  Stage = "cancelled"
	StageError      Stage = "error"
)

// ParseStage converts a wire value into a Stage
func ParseStage(s string) (Stage, error) {
	switch Stage(s) {
	case StageNew, StageIntent, StageSQL, StageRetry, StageDataFetch,
		StageFinalizing, StageDone, StageCancelled, StageError:
		return Stage(s), nil
	}
	return "", fmt.Errorf("unknown stage %q", s)
}

// Terminal reports whether no further status mutation is allowed
func (s Stage) Terminal() bool {
	return s == StageDone || s == StageCancelled || s == StageError
}

// VisibleIndex returns the position of the stage in the staged progress
// indicator (intent, sql, finalizing), or -1 for stages that have no
// position of their own. Retry is lateral: it refines the SQL stage
// without advancing or regressing the indicator.
func (s Stage) VisibleIndex() int {
	switch s {
	case StageIntent:
		return 0
	case StageSQL, StageRetry, StageDataFetch:
		return 1
	case StageFinalizing:
		return 2
	}
	return -1
}

package pipeline

// Stage is a state of the question pipeline.
type Stage string

const (
	StageReceivingQuery     Stage = "receiving_query"
	StageExtractingIntent   Stage = "extracting_intent"
	StageNeedsClarification Stage = "needs_clarification"
	StageOutOfScope         Stage = "out_of_scope"
	StageGeneratingSQL      Stage = "generating_sql"
	StageValidatingSQL      Stage = "validating_sql"
	StageRejected           Stage = "rejected"
	StageExecuting          Stage = "executing"
	StageFormatting         Stage = "formatting_response"
	StageDone               Stage = "done"
	StageFailed             Stage = "failed"
)

// IsTerminal reports whether a turn ends in s.
func (s Stage) IsTerminal() bool {
	switch s {
	case StageNeedsClarification, StageOutOfScope, StageDone, StageFailed:
		return true
	}
	return false
}

package types

// StepStatus classifies the result of one orchestration step. Control flow in
// the pipeline branches on this kind rather than on error types: fatal
// outcomes abort the current alarm, recoverable ones degrade it.
type StepStatus int

const (
	// StepOk means the step succeeded and processing continues.
	StepOk StepStatus = iota
	// StepFatal aborts processing of the current alarm and surfaces the
	// error to the caller (sync path) or the batch loop (async path).
	StepFatal
	// StepRecoverable records a failure that degrades the result without
	// failing the alarm (video retrieval and upload only).
	StepRecoverable
)

// StepOutcome is the explicit per-step result used by the orchestrator.
type StepOutcome struct {
	Status StepStatus
	Err    *AppError
}

// Ok returns a successful step outcome.
func Ok() StepOutcome {
	return StepOutcome{Status: StepOk}
}

// Fatal returns a step outcome that aborts the current alarm.
func Fatal(err *AppError) StepOutcome {
	return StepOutcome{Status: StepFatal, Err: err}
}

// Recoverable returns a step outcome that degrades but does not abort.
func Recoverable(err *AppError) StepOutcome {
	return StepOutcome{Status: StepRecoverable, Err: err}
}

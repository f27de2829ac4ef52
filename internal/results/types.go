package results

import "time"

// #region run-record
// RunRecord identifies one evaluation session and its configuration.
type RunRecord struct {
	RunID        string
	ModelKind    string
	Checkpoint   string
	Dataset      string
	AttackFamily string
	AttackName   string
	ParamsJSON   string
	Targeted     bool
	StartedAt    time.Time
	FinishedAt   *time.Time
}

// #endregion run-record

// #region rejection-entry
// RejectionEntry is one threshold set's outcome within a report.
// Rate is nil when undefined (no successful adversarial examples).
type RejectionEntry struct {
	Set   string   `json:"set"`
	Count int      `json:"count"`
	Rate  *float64 `json:"rate"`
}

// #endregion rejection-entry

// #region report-record
// ReportRecord is the persisted aggregate of one evaluation session.
// Nil rate/distortion fields persist as SQL NULL: undefined is stored as
// undefined, never as zero.
type ReportRecord struct {
	RunID            string
	NSeen            int
	NCorrect         int
	NTotalAttempted  int
	NSuccessfulAdv   int
	SkippedBatches   int
	MeanL2Distortion *float64
	SuccessRate      *float64
	Rejections       []RejectionEntry
}

// #endregion report-record

// #region run-with-report
// RunWithReport pairs a run row with its report, when one was saved.
type RunWithReport struct {
	RunRecord
	Report *ReportRecord
}

// #endregion run-with-report

// #region event-record
// EventRecord is a single row in the run_log table.
type EventRecord struct {
	RunID     string
	Stage     string // "calibrate" | "evaluate" | "persist"
	Message   string
	CreatedAt time.Time
}

// #endregion event-record

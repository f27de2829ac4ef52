// Package results persists evaluation runs, calibrated thresholds, and
// rejection reports in SQLite.
package results

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/wangxin0716/robust-generative-classifier/internal/reject"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id        TEXT PRIMARY KEY,
	model_kind    TEXT NOT NULL,
	checkpoint    TEXT NOT NULL,
	dataset       TEXT NOT NULL,
	attack_family TEXT NOT NULL,
	attack_name   TEXT NOT NULL,
	params_json   TEXT,
	targeted      INTEGER NOT NULL,
	started_at    TEXT NOT NULL,
	finished_at   TEXT
);

CREATE TABLE IF NOT EXISTS threshold_sets (
	run_id     TEXT NOT NULL,
	set_index  INTEGER NOT NULL,
	set_name   TEXT NOT NULL,
	class_id   INTEGER NOT NULL,
	threshold  REAL NOT NULL,
	PRIMARY KEY (run_id, set_index, class_id),
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

CREATE TABLE IF NOT EXISTS reports (
	run_id             TEXT PRIMARY KEY,
	n_seen             INTEGER NOT NULL,
	n_correct          INTEGER NOT NULL,
	n_total_attempted  INTEGER NOT NULL,
	n_successful_adv   INTEGER NOT NULL,
	skipped_batches    INTEGER NOT NULL,
	mean_l2_distortion REAL,
	success_rate       REAL,
	rejection_json     TEXT NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

CREATE TABLE IF NOT EXISTS run_log (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id     TEXT NOT NULL,
	stage      TEXT NOT NULL,
	message    TEXT,
	created_at TEXT NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);
`
// #endregion schema

// #region store-struct
// Store manages evaluation results in SQLite.
type Store struct {
	db *sql.DB
}
// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}
// #endregion constructor

// #region close
// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
// #endregion close

// #region db-accessor
// DB returns the underlying *sql.DB for ad-hoc queries by CLIs.
func (s *Store) DB() *sql.DB {
	return s.db
}
// #endregion db-accessor

// #region create-run
// CreateRun inserts a run row. A missing RunID is generated; the final id
// is returned.
func (s *Store) CreateRun(rec RunRecord) (string, error) {
	if rec.RunID == "" {
		rec.RunID = uuid.New().String()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now().UTC()
	}

	_, err := s.db.Exec(
		`INSERT INTO runs (run_id, model_kind, checkpoint, dataset, attack_family, attack_name, params_json, targeted, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.ModelKind, rec.Checkpoint, rec.Dataset,
		rec.AttackFamily, rec.AttackName, nullIfEmpty(rec.ParamsJSON),
		boolToInt(rec.Targeted), rec.StartedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return rec.RunID, nil
}
// #endregion create-run

// #region finish-run
// FinishRun stamps the run's completion time.
func (s *Store) FinishRun(runID string) error {
	res, err := s.db.Exec(
		`UPDATE runs SET finished_at = ? WHERE run_id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), runID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("finish run: no run %s", runID)
	}
	return nil
}
// #endregion finish-run

// #region save-thresholds
// SaveThresholds persists the calibrated threshold sets for a run.
func (s *Store) SaveThresholds(runID string, sets []reject.ThresholdSet) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("save thresholds: begin tx: %w", err)
	}
	defer tx.Rollback()

	for i, set := range sets {
		for class, threshold := range set.Thresholds {
			_, err := tx.Exec(
				`INSERT INTO threshold_sets (run_id, set_index, set_name, class_id, threshold)
				 VALUES (?, ?, ?, ?, ?)`,
				runID, i, set.Name, class, threshold,
			)
			if err != nil {
				return fmt.Errorf("save thresholds: insert: %w", err)
			}
		}
	}
	return tx.Commit()
}
// #endregion save-thresholds

// #region load-thresholds
// LoadThresholds reads a run's threshold sets back in calibration order,
// allowing a later session to reuse them without recalibrating.
func (s *Store) LoadThresholds(runID string) ([]reject.ThresholdSet, error) {
	rows, err := s.db.Query(
		`SELECT set_index, set_name, class_id, threshold
		 FROM threshold_sets WHERE run_id = ?
		 ORDER BY set_index, class_id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("load thresholds: %w", err)
	}
	defer rows.Close()

	var sets []reject.ThresholdSet
	for rows.Next() {
		var setIndex, classID int
		var setName string
		var threshold float64
		if err := rows.Scan(&setIndex, &setName, &classID, &threshold); err != nil {
			return nil, fmt.Errorf("load thresholds: scan: %w", err)
		}
		for setIndex >= len(sets) {
			sets = append(sets, reject.ThresholdSet{})
		}
		if sets[setIndex].Name == "" {
			sets[setIndex].Name = setName
		}
		if classID != len(sets[setIndex].Thresholds) {
			return nil, fmt.Errorf("load thresholds: set %d class gap at %d", setIndex, classID)
		}
		sets[setIndex].Thresholds = append(sets[setIndex].Thresholds, threshold)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load thresholds: %w", err)
	}
	if len(sets) == 0 {
		return nil, fmt.Errorf("load thresholds: no thresholds for run %s", runID)
	}
	return sets, nil
}
// #endregion load-thresholds

// #region save-report
// SaveReport persists the final aggregate of a run.
func (s *Store) SaveReport(rec ReportRecord) error {
	rejectionJSON, err := json.Marshal(rec.Rejections)
	if err != nil {
		return fmt.Errorf("save report: marshal rejections: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO reports (run_id, n_seen, n_correct, n_total_attempted, n_successful_adv, skipped_batches, mean_l2_distortion, success_rate, rejection_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.NSeen, rec.NCorrect, rec.NTotalAttempted,
		rec.NSuccessfulAdv, rec.SkippedBatches,
		nullableFloat(rec.MeanL2Distortion), nullableFloat(rec.SuccessRate),
		string(rejectionJSON),
	)
	if err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	return nil
}
// #endregion save-report

// #region report-from-session
// NewReportRecord converts an evaluator report into its persisted form.
// NaN distortion (no attacked batches) becomes NULL.
func NewReportRecord(runID string, report *reject.Report) ReportRecord {
	rec := ReportRecord{
		RunID:           runID,
		NSeen:           report.NSeen,
		NCorrect:        report.NCorrect,
		NTotalAttempted: report.NTotalAttempted,
		NSuccessfulAdv:  report.NSuccessfulAdv,
		SkippedBatches:  report.SkippedBatches,
		SuccessRate:     report.SuccessRate(),
	}
	if d := report.MeanL2Distortion(); !math.IsNaN(d) {
		rec.MeanL2Distortion = &d
	}
	for i, name := range report.SetNames {
		rec.Rejections = append(rec.Rejections, RejectionEntry{
			Set:   name,
			Count: report.NRejected[i],
			Rate:  report.RejectRate(i),
		})
	}
	return rec
}
// #endregion report-from-session

// #region log-event
// LogEvent appends a row to the run_log table.
func (s *Store) LogEvent(entry EventRecord) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT INTO run_log (run_id, stage, message, created_at)
		 VALUES (?, ?, ?, ?)`,
		entry.RunID, entry.Stage, nullIfEmpty(entry.Message),
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log event: %w", err)
	}
	return nil
}
// #endregion log-event

// #region list-runs
// ListRuns returns the most recent runs with their reports, newest first.
func (s *Store) ListRuns(limit int) ([]RunWithReport, error) {
	rows, err := s.db.Query(
		`SELECT r.run_id, r.model_kind, r.checkpoint, r.dataset, r.attack_family, r.attack_name,
		        r.params_json, r.targeted, r.started_at, r.finished_at,
		        p.n_seen, p.n_correct, p.n_total_attempted, p.n_successful_adv, p.skipped_batches,
		        p.mean_l2_distortion, p.success_rate, p.rejection_json
		 FROM runs r LEFT JOIN reports p ON p.run_id = r.run_id
		 ORDER BY r.started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunWithReport
	for rows.Next() {
		rec, err := scanRunWithReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return out, nil
}
// #endregion list-runs

// #region get-run
// GetRun returns one run with its report.
func (s *Store) GetRun(runID string) (RunWithReport, error) {
	rows, err := s.db.Query(
		`SELECT r.run_id, r.model_kind, r.checkpoint, r.dataset, r.attack_family, r.attack_name,
		        r.params_json, r.targeted, r.started_at, r.finished_at,
		        p.n_seen, p.n_correct, p.n_total_attempted, p.n_successful_adv, p.skipped_batches,
		        p.mean_l2_distortion, p.success_rate, p.rejection_json
		 FROM runs r LEFT JOIN reports p ON p.run_id = r.run_id
		 WHERE r.run_id = ?`,
		runID,
	)
	if err != nil {
		return RunWithReport{}, fmt.Errorf("get run: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return RunWithReport{}, fmt.Errorf("get run: %w", err)
		}
		return RunWithReport{}, fmt.Errorf("get run: no run %s", runID)
	}
	return scanRunWithReport(rows)
}
// #endregion get-run

// #region scan
func scanRunWithReport(rows *sql.Rows) (RunWithReport, error) {
	var rec RunWithReport
	var paramsJSON, finishedAt sql.NullString
	var startedAt string
	var targeted int

	var nSeen, nCorrect, nAttempted, nSuccessful, skipped sql.NullInt64
	var distortion, successRate sql.NullFloat64
	var rejectionJSON sql.NullString

	err := rows.Scan(
		&rec.RunID, &rec.ModelKind, &rec.Checkpoint, &rec.Dataset,
		&rec.AttackFamily, &rec.AttackName, &paramsJSON, &targeted,
		&startedAt, &finishedAt,
		&nSeen, &nCorrect, &nAttempted, &nSuccessful, &skipped,
		&distortion, &successRate, &rejectionJSON,
	)
	if err != nil {
		return RunWithReport{}, fmt.Errorf("scan run: %w", err)
	}

	rec.ParamsJSON = paramsJSON.String
	rec.Targeted = targeted != 0
	rec.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
	if finishedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, finishedAt.String)
		if err == nil {
			rec.FinishedAt = &t
		}
	}

	if rejectionJSON.Valid {
		report := ReportRecord{
			RunID:           rec.RunID,
			NSeen:           int(nSeen.Int64),
			NCorrect:        int(nCorrect.Int64),
			NTotalAttempted: int(nAttempted.Int64),
			NSuccessfulAdv:  int(nSuccessful.Int64),
			SkippedBatches:  int(skipped.Int64),
		}
		if distortion.Valid {
			report.MeanL2Distortion = &distortion.Float64
		}
		if successRate.Valid {
			report.SuccessRate = &successRate.Float64
		}
		if err := json.Unmarshal([]byte(rejectionJSON.String), &report.Rejections); err != nil {
			return RunWithReport{}, fmt.Errorf("scan run: rejections: %w", err)
		}
		rec.Report = &report
	}
	return rec, nil
}
// #endregion scan

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableFloat(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
// #endregion helpers

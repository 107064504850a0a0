// Package stats owns the running counters. Every counter moves incrementally
// inside the transaction of the operation that caused it; nothing here ever
// recomputes by scanning report rows.
package stats

import (
	"context"
	"database/sql"
	"fmt"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"foodsafety/confidential"
	"foodsafety/models"
)

type Aggregator struct {
	db     *sql.DB
	cipher confidential.Cipher
}

// NewAggregator wires the aggregator. cipher may be nil, in which case the
// encrypted running sums are not maintained.
func NewAggregator(db *sql.DB, cipher confidential.Cipher) *Aggregator {
	return &Aggregator{db: db, cipher: cipher}
}

// txlike is what the increment methods need from the caller's transaction.
type txlike interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

// RecordSubmission applies the counter increments of one accepted report
// submission.
func (a *Aggregator) RecordSubmission(tx txlike, r *models.Report) error {
	if _, err := tx.Exec(`UPDATE total_stats
	  SET total = total + 1, submitted = submitted + 1
	  WHERE id = 1`); err != nil {
		return fmt.Errorf("updating total stats: %w", err)
	}

	levelSum := int64(r.SafetyLevel)
	if _, err := tx.Exec(`INSERT
	  INTO location_stats (location_code, total_reports, safety_level_sum, last_report_time)
	  VALUES (?, 1, ?, ?)
	  ON DUPLICATE KEY UPDATE
	    total_reports = total_reports + 1,
	    safety_level_sum = safety_level_sum + ?,
	    last_report_time = ?`,
		r.LocationCode, levelSum, r.CreatedAt, levelSum, r.CreatedAt); err != nil {
		return fmt.Errorf("updating location stats: %w", err)
	}

	if _, err := tx.Exec(`INSERT
	  INTO reporter_stats (submitter, report_count)
	  VALUES (?, 1)
	  ON DUPLICATE KEY UPDATE report_count = report_count + 1`,
		r.Submitter.Hex()); err != nil {
		return fmt.Errorf("updating reporter stats: %w", err)
	}

	if a.cipher != nil {
		if err := a.addEncryptedSum(tx, r.LocationCode, uint64(r.SafetyLevel)); err != nil {
			return err
		}
	}
	return nil
}

// RecordStatusChange moves the status bucket counters for one report and, on
// resolution, bumps the location's resolved count. A no-move change is a
// no-op.
func (a *Aggregator) RecordStatusChange(tx txlike, r *models.Report, old, next models.ReportStatus) error {
	if old == next {
		return nil
	}

	oldCol, err := bucketColumn(old)
	if err != nil {
		return err
	}
	nextCol, err := bucketColumn(next)
	if err != nil {
		return err
	}

	q := fmt.Sprintf(`UPDATE total_stats SET %s = %s - 1, %s = %s + 1 WHERE id = 1`,
		oldCol, oldCol, nextCol, nextCol)
	if _, err := tx.Exec(q); err != nil {
		return fmt.Errorf("moving status bucket %s -> %s: %w", old, next, err)
	}

	if next == models.StatusResolved {
		if _, err := tx.Exec(`UPDATE location_stats
		  SET resolved_reports = resolved_reports + 1
		  WHERE location_code = ?`, r.LocationCode); err != nil {
			return fmt.Errorf("updating resolved count for location %d: %w", r.LocationCode, err)
		}
	}
	return nil
}

func bucketColumn(s models.ReportStatus) (string, error) {
	switch s {
	case models.StatusSubmitted:
		return "submitted", nil
	case models.StatusUnderReview:
		return "under_review", nil
	case models.StatusInvestigating:
		return "investigating", nil
	case models.StatusResolved:
		return "resolved", nil
	case models.StatusClosed:
		return "closed", nil
	}
	return "", fmt.Errorf("no stats bucket for status %d", uint8(s))
}

func (a *Aggregator) addEncryptedSum(tx txlike, locationCode uint32, level uint64) error {
	ct, err := a.cipher.Encrypt(level)
	if err != nil {
		return fmt.Errorf("encrypting safety level: %w", err)
	}

	var existing []byte
	row := tx.QueryRow(`SELECT safety_level_sum_ct FROM location_stats WHERE location_code = ? FOR UPDATE`, locationCode)
	if err := row.Scan(&existing); err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("reading encrypted sum: %w", err)
	}

	sum := ct
	if len(existing) > 0 {
		if sum, err = a.cipher.Add(existing, ct); err != nil {
			return fmt.Errorf("accumulating encrypted sum: %w", err)
		}
	}

	if _, err := tx.Exec(`UPDATE location_stats SET safety_level_sum_ct = ? WHERE location_code = ?`,
		[]byte(sum), locationCode); err != nil {
		return fmt.Errorf("storing encrypted sum: %w", err)
	}
	return nil
}

func (a *Aggregator) GetTotalStats(ctx context.Context) (models.TotalStats, error) {
	var t models.TotalStats
	row := a.db.QueryRowContext(ctx, `SELECT total, submitted, under_review, investigating, resolved, closed
	  FROM total_stats WHERE id = 1`)
	err := row.Scan(&t.Total, &t.Submitted, &t.UnderReview, &t.Investigating, &t.Resolved, &t.Closed)
	if err == sql.ErrNoRows {
		return models.TotalStats{}, nil
	}
	if err != nil {
		return models.TotalStats{}, fmt.Errorf("reading total stats: %w", err)
	}
	return t, nil
}

// GetLocationStats returns the per-location counters; unseen codes yield
// all-zero defaults rather than an error.
func (a *Aggregator) GetLocationStats(ctx context.Context, code uint32) (models.LocationStats, error) {
	s := models.LocationStats{LocationCode: code, AverageSafetyLevel: "0"}
	row := a.db.QueryRowContext(ctx, `SELECT total_reports, resolved_reports, safety_level_sum, last_report_time
	  FROM location_stats WHERE location_code = ?`, code)
	err := row.Scan(&s.TotalReports, &s.ResolvedReports, &s.SafetyLevelSum, &s.LastReportTime)
	if err == sql.ErrNoRows {
		return s, nil
	}
	if err != nil {
		return models.LocationStats{}, fmt.Errorf("reading location stats: %w", err)
	}
	s.AverageSafetyLevel = AverageLevel(s.SafetyLevelSum, s.TotalReports)
	return s, nil
}

// AverageLevel divides the running sum by the report count without float
// drift.
func AverageLevel(sum, count int64) string {
	if count == 0 {
		return "0"
	}
	return decimal.NewFromInt(sum).Div(decimal.NewFromInt(count)).StringFixed(2)
}

func (a *Aggregator) GetReporterStats(ctx context.Context, submitter ethcommon.Address) (models.ReporterStats, error) {
	s := models.ReporterStats{Submitter: submitter}
	row := a.db.QueryRowContext(ctx, `SELECT report_count FROM reporter_stats WHERE submitter = ?`, submitter.Hex())
	err := row.Scan(&s.ReportCount)
	if err == sql.ErrNoRows {
		return s, nil
	}
	if err != nil {
		return models.ReporterStats{}, fmt.Errorf("reading reporter stats: %w", err)
	}
	return s, nil
}

// GetLocationCipherSum returns the encrypted running safety-level sum for a
// location, or nil when none has been accumulated.
func (a *Aggregator) GetLocationCipherSum(ctx context.Context, code uint32) (confidential.Ciphertext, error) {
	var ct []byte
	row := a.db.QueryRowContext(ctx, `SELECT safety_level_sum_ct FROM location_stats WHERE location_code = ?`, code)
	err := row.Scan(&ct)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading encrypted sum: %w", err)
	}
	return ct, nil
}

// Package investigation owns the investigation records, one per report,
// created lazily when an investigation starts and immutable once complete.
package investigation

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/apex/log"
	ethcommon "github.com/ethereum/go-ethereum/common"

	"foodsafety/access"
	"foodsafety/events"
	"foodsafety/ledger"
	"foodsafety/models"
	"foodsafety/stats"
)

type Tracker struct {
	db     *sql.DB
	access *access.Registry
	stats  *stats.Aggregator
	events *events.Log
	mu     *sync.Mutex
}

func NewTracker(db *sql.DB, reg *access.Registry, agg *stats.Aggregator, evs *events.Log, mu *sync.Mutex) *Tracker {
	return &Tracker{db: db, access: reg, stats: agg, events: evs, mu: mu}
}

// StartInvestigation opens the investigation for a report and forces the
// report into Investigating, with no need for a prior UnderReview update.
// Caller must be an authorized investigator or the regulator.
func (t *Tracker) StartInvestigation(ctx context.Context, caller ethcommon.Address, id int64) error {
	authorized, err := t.access.IsAuthorizedInvestigator(ctx, caller)
	if err != nil {
		return err
	}
	if !authorized {
		isRegulator, err := t.access.IsRegulator(ctx, caller)
		if err != nil {
			return err
		}
		if !isRegulator {
			return models.NewAuthorizationError(fmt.Sprintf("%s is not an authorized investigator", caller.Hex()))
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now().Unix()
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	report, err := ledger.SelectReportForUpdate(tx, id)
	if err != nil {
		return err
	}
	switch report.Status {
	case models.StatusInvestigating, models.StatusResolved, models.StatusClosed:
		return models.NewStateError(fmt.Sprintf("report %d is %s, cannot start an investigation", id, report.Status))
	}

	if _, err := tx.Exec(`INSERT
	  INTO investigations (report_id, investigator, start_time, is_complete)
	  VALUES (?, ?, ?, FALSE)`,
		id, caller.Hex(), now); err != nil {
		return fmt.Errorf("creating investigation for report %d: %w", id, err)
	}

	if _, err := tx.Exec(`UPDATE reports SET status = ?, last_updated = ? WHERE id = ?`,
		models.StatusInvestigating.String(), now, id); err != nil {
		return fmt.Errorf("moving report %d to investigating: %w", id, err)
	}

	if err := t.stats.RecordStatusChange(tx, report, report.Status, models.StatusInvestigating); err != nil {
		return err
	}

	if err := t.events.Append(tx, &events.Event{
		Kind:      events.KindInvestigationStarted,
		ReportID:  id,
		Actor:     caller,
		Payload:   fmt.Sprintf(`{"report_id":%d,"investigator":%q}`, id, caller.Hex()),
		CreatedAt: now,
	}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	log.Infof("Investigation started on report %d by %s", id, caller.Hex())
	return nil
}

// CompleteInvestigation records the outcome and forces the report to
// Resolved. Caller must be the assigned investigator or the regulator.
func (t *Tracker) CompleteInvestigation(ctx context.Context, caller ethcommon.Address,
	id int64, rawFinalLevel uint8, findings string) error {

	finalLevel, err := models.SafetyLevelFrom(rawFinalLevel)
	if err != nil {
		return err
	}
	if len(findings) > ledger.MaxDescriptionLen {
		return models.NewValidationError(fmt.Sprintf("findings exceed %d bytes", ledger.MaxDescriptionLen))
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now().Unix()
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	inv, err := selectInvestigationForUpdate(tx, id)
	if err != nil {
		return err
	}

	if inv.Investigator != caller {
		isRegulator, err := t.access.IsRegulator(ctx, caller)
		if err != nil {
			return err
		}
		if !isRegulator {
			return models.NewAuthorizationError(
				fmt.Sprintf("%s is neither the assigned investigator nor the regulator", caller.Hex()))
		}
	}
	if inv.IsComplete {
		return models.NewStateError("investigation already complete")
	}

	report, err := ledger.SelectReportForUpdate(tx, id)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(`UPDATE investigations
	  SET is_complete = TRUE, final_safety_level = ?, findings = ?, end_time = ?
	  WHERE report_id = ?`,
		uint8(finalLevel), findings, now, id); err != nil {
		return fmt.Errorf("completing investigation for report %d: %w", id, err)
	}

	if _, err := tx.Exec(`UPDATE reports SET status = ?, is_processed = TRUE, last_updated = ? WHERE id = ?`,
		models.StatusResolved.String(), now, id); err != nil {
		return fmt.Errorf("resolving report %d: %w", id, err)
	}

	if err := t.stats.RecordStatusChange(tx, report, report.Status, models.StatusResolved); err != nil {
		return err
	}

	if err := t.events.Append(tx, &events.Event{
		Kind:      events.KindInvestigationCompleted,
		ReportID:  id,
		Actor:     caller,
		Payload:   fmt.Sprintf(`{"report_id":%d,"final_safety_level":%d}`, id, uint8(finalLevel)),
		CreatedAt: now,
	}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	log.Infof("Investigation on report %d completed by %s: final level %s", id, caller.Hex(), finalLevel)
	return nil
}

// GetInvestigationInfo reads one investigation. A report with no
// investigation yields the empty sentinel, not an error.
func (t *Tracker) GetInvestigationInfo(ctx context.Context, id int64) (models.Investigation, error) {
	row := t.db.QueryRowContext(ctx, `SELECT report_id, investigator, start_time, end_time,
	    is_complete, final_safety_level, findings
	  FROM investigations WHERE report_id = ?`, id)

	inv, err := scanInvestigation(row)
	if err == sql.ErrNoRows {
		return models.EmptyInvestigation(id), nil
	}
	if err != nil {
		return models.Investigation{}, fmt.Errorf("reading investigation for report %d: %w", id, err)
	}
	return *inv, nil
}

func selectInvestigationForUpdate(tx *sql.Tx, id int64) (*models.Investigation, error) {
	row := tx.QueryRow(`SELECT report_id, investigator, start_time, end_time,
	    is_complete, final_safety_level, findings
	  FROM investigations WHERE report_id = ? FOR UPDATE`, id)

	inv, err := scanInvestigation(row)
	if err == sql.ErrNoRows {
		return nil, models.NewValidationError(fmt.Sprintf("no investigation exists for report %d", id))
	}
	if err != nil {
		return nil, fmt.Errorf("reading investigation for report %d: %w", id, err)
	}
	return inv, nil
}

func scanInvestigation(row *sql.Row) (*models.Investigation, error) {
	var inv models.Investigation
	var investigator string
	var level uint8
	if err := row.Scan(&inv.ReportID, &investigator, &inv.StartTime, &inv.EndTime,
		&inv.IsComplete, &level, &inv.Findings); err != nil {
		return nil, err
	}
	inv.Investigator = ethcommon.HexToAddress(investigator)
	inv.FinalSafetyLevel = models.SafetyLevel(level)
	return &inv, nil
}

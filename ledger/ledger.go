// Package ledger owns the report records and their lifecycle state machine.
// Every mutating operation runs in one transaction together with its counter
// increments and its audit event, so the whole operation commits or rolls
// back as a unit.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/apex/log"
	ethcommon "github.com/ethereum/go-ethereum/common"

	"foodsafety/access"
	"foodsafety/common"
	"foodsafety/confidential"
	"foodsafety/events"
	"foodsafety/models"
	"foodsafety/stats"
)

// MaxDescriptionLen bounds the free-text fields stored with a report.
const MaxDescriptionLen = 2048

type Service struct {
	db     *sql.DB
	access *access.Registry
	stats  *stats.Aggregator
	events *events.Log
	cipher confidential.Cipher
	mu     *sync.Mutex
}

// NewService wires the ledger. cipher may be nil when confidentiality is
// disabled.
func NewService(db *sql.DB, reg *access.Registry, agg *stats.Aggregator, evs *events.Log,
	cipher confidential.Cipher, mu *sync.Mutex) *Service {
	return &Service{db: db, access: reg, stats: agg, events: evs, cipher: cipher, mu: mu}
}

// SubmitReport accepts a report from any caller and returns the assigned id.
// Ids are dense and strictly increasing, starting at 1.
func (s *Service) SubmitReport(ctx context.Context, caller ethcommon.Address,
	rawLevel uint8, locationCode, foodTypeCode uint32, description string) (int64, error) {

	level, err := models.SafetyLevelFrom(rawLevel)
	if err != nil {
		return 0, err
	}
	if len(description) > MaxDescriptionLen {
		return 0, models.NewValidationError(fmt.Sprintf("description exceeds %d bytes", MaxDescriptionLen))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()

	var levelCT []byte
	if s.cipher != nil {
		ct, err := s.cipher.Encrypt(uint64(level))
		if err != nil {
			return 0, fmt.Errorf("encrypting safety level: %w", err)
		}
		levelCT = ct
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`INSERT
	  INTO reports (submitter, safety_level, safety_level_ct, location_code, food_type_code, description,
	                status, created_at, last_updated, is_processed, is_valid)
	  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, FALSE, TRUE)`,
		caller.Hex(), uint8(level), levelCT, locationCode, foodTypeCode, description,
		models.StatusSubmitted.String(), now, now)
	if err != nil {
		return 0, fmt.Errorf("inserting report: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	report := &models.Report{
		ID:           id,
		Submitter:    caller,
		SafetyLevel:  level,
		LocationCode: locationCode,
		FoodTypeCode: foodTypeCode,
		Description:  description,
		Status:       models.StatusSubmitted,
		CreatedAt:    now,
		LastUpdated:  now,
		IsValid:      true,
	}
	if err := s.stats.RecordSubmission(tx, report); err != nil {
		return 0, err
	}

	if err := s.events.Append(tx, &events.Event{
		Kind:      events.KindReportSubmitted,
		ReportID:  id,
		Actor:     caller,
		Payload:   fmt.Sprintf(`{"report_id":%d,"submitter":%q,"timestamp":%d}`, id, caller.Hex(), now),
		CreatedAt: now,
	}); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	log.Infof("Report %d submitted by %s: level=%s location=%d", id, caller.Hex(), level, locationCode)
	return id, nil
}

// UpdateStatus is the regulator's manual transition. Only strictly forward
// moves along Submitted -> UnderReview -> Investigating -> Resolved are
// accepted; Closed is reserved for EmergencyClose.
func (s *Service) UpdateStatus(ctx context.Context, caller ethcommon.Address,
	id int64, newStatus models.ReportStatus) error {

	if err := s.access.RequireRegulator(ctx, caller); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := s.updateStatusInTx(tx, caller, id, newStatus, time.Now().Unix()); err != nil {
		return err
	}
	return tx.Commit()
}

// BatchUpdateStatus applies UpdateStatus semantics to every id as one atomic
// unit: the first failure aborts the whole batch. An empty batch succeeds.
func (s *Service) BatchUpdateStatus(ctx context.Context, caller ethcommon.Address,
	ids []int64, newStatus models.ReportStatus) error {

	if err := s.access.RequireRegulator(ctx, caller); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, id := range ids {
		if err := s.updateStatusInTx(tx, caller, id, newStatus, now); err != nil {
			return fmt.Errorf("batch aborted at report %d: %w", id, err)
		}
	}
	return tx.Commit()
}

func (s *Service) updateStatusInTx(tx *sql.Tx, caller ethcommon.Address,
	id int64, newStatus models.ReportStatus, now int64) error {

	report, err := SelectReportForUpdate(tx, id)
	if err != nil {
		return err
	}
	if !report.Status.CanAdvanceTo(newStatus) {
		return models.NewStateError(fmt.Sprintf("report %d cannot move from %s to %s", id, report.Status, newStatus))
	}

	res, err := tx.Exec(`UPDATE reports SET status = ?, last_updated = ? WHERE id = ?`,
		newStatus.String(), now, id)
	common.LogResult(fmt.Sprintf("UpdateStatus(%d)", id), res, err, true)
	if err != nil {
		return fmt.Errorf("updating report %d status: %w", id, err)
	}

	if err := s.stats.RecordStatusChange(tx, report, report.Status, newStatus); err != nil {
		return err
	}

	return s.events.Append(tx, &events.Event{
		Kind:      events.KindReportStatusChanged,
		ReportID:  id,
		Actor:     caller,
		Payload:   fmt.Sprintf(`{"report_id":%d,"status":%q}`, id, newStatus.String()),
		CreatedAt: now,
	})
}

// EmergencyClose unconditionally forces a report to Closed and invalidates
// it, regardless of its current state, even when already Closed. Owner only.
func (s *Service) EmergencyClose(ctx context.Context, caller ethcommon.Address, id int64, reason string) error {
	if err := s.access.RequireOwner(ctx, caller); err != nil {
		return err
	}
	if len(reason) > MaxDescriptionLen {
		return models.NewValidationError(fmt.Sprintf("reason exceeds %d bytes", MaxDescriptionLen))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	report, err := SelectReportForUpdate(tx, id)
	if err != nil {
		return err
	}

	// Re-closing an already-closed report can leave the row byte-identical,
	// in which case MySQL reports zero affected rows. The row itself is
	// guaranteed by the FOR UPDATE read above, so a zero count is only worth
	// a warning.
	res, err := tx.Exec(`UPDATE reports SET status = ?, is_valid = FALSE, last_updated = ? WHERE id = ?`,
		models.StatusClosed.String(), now, id)
	common.LogResult(fmt.Sprintf("EmergencyClose(%d)", id), res, err, true)
	if err != nil {
		return fmt.Errorf("closing report %d: %w", id, err)
	}

	if err := s.stats.RecordStatusChange(tx, report, report.Status, models.StatusClosed); err != nil {
		return err
	}

	if err := s.events.Append(tx, &events.Event{
		Kind:      events.KindReportStatusChanged,
		ReportID:  id,
		Actor:     caller,
		Payload:   fmt.Sprintf(`{"report_id":%d,"status":%q,"reason":%q}`, id, models.StatusClosed.String(), reason),
		CreatedAt: now,
	}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	log.Warnf("Report %d emergency-closed by %s: %s", id, caller.Hex(), reason)
	return nil
}

// GetReportInfo reads one report. An unknown id yields the empty-record
// sentinel, not an error.
func (s *Service) GetReportInfo(ctx context.Context, id int64) (models.Report, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, submitter, safety_level, location_code, food_type_code,
	    description, status, created_at, last_updated, is_processed, is_valid
	  FROM reports WHERE id = ?`, id)

	report, err := scanReport(row)
	if err == sql.ErrNoRows {
		return models.EmptyReport(id), nil
	}
	if err != nil {
		return models.Report{}, fmt.Errorf("reading report %d: %w", id, err)
	}
	return *report, nil
}

// SelectReportForUpdate loads a report row under a row lock inside tx. An
// unknown id is a ValidationError.
func SelectReportForUpdate(tx *sql.Tx, id int64) (*models.Report, error) {
	row := tx.QueryRow(`SELECT id, submitter, safety_level, location_code, food_type_code,
	    description, status, created_at, last_updated, is_processed, is_valid
	  FROM reports WHERE id = ? FOR UPDATE`, id)

	report, err := scanReport(row)
	if err == sql.ErrNoRows {
		return nil, models.NewValidationError(fmt.Sprintf("report %d does not exist", id))
	}
	if err != nil {
		return nil, fmt.Errorf("reading report %d: %w", id, err)
	}
	return report, nil
}

func scanReport(row *sql.Row) (*models.Report, error) {
	var r models.Report
	var submitter string
	var level uint8
	if err := row.Scan(&r.ID, &submitter, &level, &r.LocationCode, &r.FoodTypeCode,
		&r.Description, &r.Status, &r.CreatedAt, &r.LastUpdated, &r.IsProcessed, &r.IsValid); err != nil {
		return nil, err
	}
	r.Submitter = ethcommon.HexToAddress(submitter)
	r.SafetyLevel = models.SafetyLevel(level)
	return &r, nil
}

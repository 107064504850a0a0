package ledger

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/jknair0/beforeeach"

	"foodsafety/access"
	"foodsafety/events"
	"foodsafety/models"
	"foodsafety/stats"
)

var (
	db      *sql.DB
	mock    sqlmock.Sqlmock
	service *Service
)

var (
	owner     = ethcommon.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	regulator = ethcommon.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	reporter  = ethcommon.HexToAddress("0x1234567812345678123456781234567812345678")
)

func setUp() {
	db, mock, _ = sqlmock.New()
	var mu sync.Mutex
	evs := events.NewLog(db)
	reg := access.NewRegistry(db, evs, &mu)
	agg := stats.NewAggregator(db, nil)
	service = NewService(db, reg, agg, evs, nil, &mu)
}

func tearDown() {
	db.Close()
}

var it = beforeeach.Create(setUp, tearDown)

func expectOwnerQuery(addr ethcommon.Address) {
	mock.ExpectQuery(`SELECT owner FROM access_state WHERE id = 1`).
		WillReturnRows(sqlmock.NewRows([]string{"owner"}).AddRow(addr.Hex()))
}

func expectRegulatorQuery(addr ethcommon.Address) {
	mock.ExpectQuery(`SELECT regulator FROM access_state WHERE id = 1`).
		WillReturnRows(sqlmock.NewRows([]string{"regulator"}).AddRow(addr.Hex()))
}

var reportColumns = []string{"id", "submitter", "safety_level", "location_code", "food_type_code",
	"description", "status", "created_at", "last_updated", "is_processed", "is_valid"}

func expectReportForUpdate(id int64, status models.ReportStatus) {
	mock.ExpectQuery(`SELECT id, submitter, safety_level, location_code, food_type_code,\s+description, status, created_at, last_updated, is_processed, is_valid\s+FROM reports WHERE id = \? FOR UPDATE`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(reportColumns).
			AddRow(id, reporter.Hex(), 2, 1001, 5001, "leak", status.String(), 100, 100, false, true))
}

func expectEventAppend() {
	mock.ExpectQuery(`SELECT hash FROM events ORDER BY seq DESC LIMIT 1 FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"hash"}))
	mock.ExpectExec(`INSERT\s+INTO events`).
		WillReturnResult(sqlmock.NewResult(1, 1))
}

func TestSubmitReport(t *testing.T) {
	it(func() {
		mock.ExpectBegin()
		mock.ExpectExec(`INSERT\s+INTO reports`).
			WithArgs(reporter.Hex(), uint8(2), sqlmock.AnyArg(), uint32(1001), uint32(5001), "leak",
				"submitted", sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec(`UPDATE total_stats\s+SET total = total \+ 1, submitted = submitted \+ 1`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT\s+INTO location_stats`).
			WithArgs(uint32(1001), int64(2), sqlmock.AnyArg(), int64(2), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT\s+INTO reporter_stats`).
			WithArgs(reporter.Hex()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		expectEventAppend()
		mock.ExpectCommit()

		id, err := service.SubmitReport(context.Background(), reporter, 2, 1001, 5001, "leak")
		if err != nil {
			t.Fatalf("SubmitReport: %v", err)
		}
		if id != 1 {
			t.Errorf("first report id = %d, want 1", id)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})
}

func TestSubmitReportRejectsBadLevel(t *testing.T) {
	it(func() {
		_, err := service.SubmitReport(context.Background(), reporter, 5, 1001, 5001, "")
		var validationErr *models.ValidationError
		if !errors.As(err, &validationErr) {
			t.Errorf("SubmitReport(level=5) = %v, want ValidationError", err)
		}
		// Nothing may touch the database on a rejected submission.
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("state changed on rejected submission: %v", err)
		}
	})
}

func TestUpdateStatusForward(t *testing.T) {
	it(func() {
		expectRegulatorQuery(regulator)
		mock.ExpectBegin()
		expectReportForUpdate(1, models.StatusSubmitted)
		mock.ExpectExec(`UPDATE reports SET status = \?, last_updated = \? WHERE id = \?`).
			WithArgs("under_review", sqlmock.AnyArg(), int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE total_stats SET submitted = submitted - 1, under_review = under_review \+ 1 WHERE id = 1`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		expectEventAppend()
		mock.ExpectCommit()

		if err := service.UpdateStatus(context.Background(), regulator, 1, models.StatusUnderReview); err != nil {
			t.Fatalf("UpdateStatus: %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})
}

func TestUpdateStatusRejectsBackwardMove(t *testing.T) {
	it(func() {
		expectRegulatorQuery(regulator)
		mock.ExpectBegin()
		expectReportForUpdate(1, models.StatusUnderReview)
		mock.ExpectRollback()

		err := service.UpdateStatus(context.Background(), regulator, 1, models.StatusSubmitted)
		var stateErr *models.StateError
		if !errors.As(err, &stateErr) {
			t.Errorf("backward UpdateStatus = %v, want StateError", err)
		}
	})
}

func TestUpdateStatusRejectsNonRegulator(t *testing.T) {
	it(func() {
		expectRegulatorQuery(regulator)

		err := service.UpdateStatus(context.Background(), reporter, 1, models.StatusUnderReview)
		var authzErr *models.AuthorizationError
		if !errors.As(err, &authzErr) {
			t.Errorf("UpdateStatus by non-regulator = %v, want AuthorizationError", err)
		}
	})
}

func TestUpdateStatusUnknownReport(t *testing.T) {
	it(func() {
		expectRegulatorQuery(regulator)
		mock.ExpectBegin()
		mock.ExpectQuery(`FROM reports WHERE id = \? FOR UPDATE`).
			WithArgs(int64(404)).
			WillReturnRows(sqlmock.NewRows(reportColumns))
		mock.ExpectRollback()

		err := service.UpdateStatus(context.Background(), regulator, 404, models.StatusUnderReview)
		var validationErr *models.ValidationError
		if !errors.As(err, &validationErr) {
			t.Errorf("UpdateStatus on unknown id = %v, want ValidationError", err)
		}
	})
}

func TestBatchUpdateStatusEmptyIsNoOp(t *testing.T) {
	it(func() {
		expectRegulatorQuery(regulator)

		if err := service.BatchUpdateStatus(context.Background(), regulator, nil, models.StatusUnderReview); err != nil {
			t.Errorf("empty batch = %v, want success", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("empty batch touched the database: %v", err)
		}
	})
}

func TestBatchUpdateStatusAllValid(t *testing.T) {
	it(func() {
		expectRegulatorQuery(regulator)
		mock.ExpectBegin()
		for _, id := range []int64{1, 2, 3} {
			expectReportForUpdate(id, models.StatusSubmitted)
			mock.ExpectExec(`UPDATE reports SET status = \?, last_updated = \? WHERE id = \?`).
				WithArgs("under_review", sqlmock.AnyArg(), id).
				WillReturnResult(sqlmock.NewResult(0, 1))
			mock.ExpectExec(`UPDATE total_stats SET submitted = submitted - 1, under_review = under_review \+ 1 WHERE id = 1`).
				WillReturnResult(sqlmock.NewResult(0, 1))
			expectEventAppend()
		}
		mock.ExpectCommit()

		if err := service.BatchUpdateStatus(context.Background(), regulator, []int64{1, 2, 3}, models.StatusUnderReview); err != nil {
			t.Fatalf("BatchUpdateStatus: %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})
}

func TestBatchUpdateStatusAllOrNothing(t *testing.T) {
	it(func() {
		expectRegulatorQuery(regulator)
		mock.ExpectBegin()
		// First id succeeds.
		expectReportForUpdate(1, models.StatusSubmitted)
		mock.ExpectExec(`UPDATE reports SET status = \?, last_updated = \? WHERE id = \?`).
			WithArgs("under_review", sqlmock.AnyArg(), int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE total_stats`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		expectEventAppend()
		// Second id is unknown: the whole batch aborts.
		mock.ExpectQuery(`FROM reports WHERE id = \? FOR UPDATE`).
			WithArgs(int64(2)).
			WillReturnRows(sqlmock.NewRows(reportColumns))
		mock.ExpectRollback()

		err := service.BatchUpdateStatus(context.Background(), regulator, []int64{1, 2}, models.StatusUnderReview)
		var validationErr *models.ValidationError
		if !errors.As(err, &validationErr) {
			t.Errorf("batch with unknown id = %v, want ValidationError", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})
}

func TestEmergencyClose(t *testing.T) {
	it(func() {
		expectOwnerQuery(owner)
		mock.ExpectBegin()
		expectReportForUpdate(1, models.StatusUnderReview)
		mock.ExpectExec(`UPDATE reports SET status = \?, is_valid = FALSE, last_updated = \? WHERE id = \?`).
			WithArgs("closed", sqlmock.AnyArg(), int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE total_stats SET under_review = under_review - 1, closed = closed \+ 1 WHERE id = 1`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		expectEventAppend()
		mock.ExpectCommit()

		if err := service.EmergencyClose(context.Background(), owner, 1, "tampered sample"); err != nil {
			t.Fatalf("EmergencyClose: %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})
}

func TestEmergencyCloseRequiresOwner(t *testing.T) {
	it(func() {
		expectOwnerQuery(owner)

		err := service.EmergencyClose(context.Background(), regulator, 1, "nope")
		var authzErr *models.AuthorizationError
		if !errors.As(err, &authzErr) {
			t.Errorf("EmergencyClose by regulator = %v, want AuthorizationError", err)
		}
	})
}

func TestEmergencyCloseOnAlreadyClosed(t *testing.T) {
	it(func() {
		expectOwnerQuery(owner)
		mock.ExpectBegin()
		expectReportForUpdate(1, models.StatusClosed)
		// The row is already closed and invalid, so MySQL may report zero
		// affected rows. The close must still succeed.
		mock.ExpectExec(`UPDATE reports SET status = \?, is_valid = FALSE, last_updated = \? WHERE id = \?`).
			WithArgs("closed", sqlmock.AnyArg(), int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 0))
		// Closed -> Closed moves no bucket.
		expectEventAppend()
		mock.ExpectCommit()

		if err := service.EmergencyClose(context.Background(), owner, 1, "again"); err != nil {
			t.Fatalf("EmergencyClose on closed report: %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})
}

func TestGetReportInfoUnknownIdReturnsSentinel(t *testing.T) {
	it(func() {
		mock.ExpectQuery(`FROM reports WHERE id = \?`).
			WithArgs(int64(404)).
			WillReturnRows(sqlmock.NewRows(reportColumns))

		report, err := service.GetReportInfo(context.Background(), 404)
		if err != nil {
			t.Fatalf("GetReportInfo: %v", err)
		}
		if report.IsValid || report.IsProcessed || report.CreatedAt != 0 {
			t.Errorf("sentinel report wrong: %+v", report)
		}
		if report.Status != models.StatusSubmitted {
			t.Errorf("sentinel status = %s, want default", report.Status)
		}
	})
}

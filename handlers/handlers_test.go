package handlers

import (
	"database/sql"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/jknair0/beforeeach"

	"foodsafety/stats"
)

var (
	db   *sql.DB
	mock sqlmock.Sqlmock
	h    *Handlers
)

func setUp() {
	gin.SetMode(gin.TestMode)
	db, mock, _ = sqlmock.New()
	h = NewHandlers(nil, nil, nil, stats.NewAggregator(db, nil), nil, nil)
}

func tearDown() {
	db.Close()
}

var it = beforeeach.Create(setUp, tearDown)

func TestGetLocationStatsRejectsBadCode(t *testing.T) {
	testCases := []struct {
		name string
		code string
	}{
		{"overflow", "4294967296"},
		{"negative", "-1"},
		{"not a number", "abc"},
		{"missing", ""},
	}
	for _, tc := range testCases {
		it(func() {
			router := gin.New()
			router.GET("/get_location_stats", h.GetLocationStats)

			req := httptest.NewRequest("GET", "/get_location_stats?code="+tc.code, nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("%s: status = %d, want 400", tc.name, w.Code)
			}
			// A rejected code never reaches the database.
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("%s: touched the database: %v", tc.name, err)
			}
		})
	}
}

func TestGetLocationStatsAcceptsMaxCode(t *testing.T) {
	it(func() {
		mock.ExpectQuery(`FROM location_stats WHERE location_code = \?`).
			WithArgs(uint32(4294967295)).
			WillReturnRows(sqlmock.NewRows([]string{"total_reports", "resolved_reports", "safety_level_sum", "last_report_time"}))

		router := gin.New()
		router.GET("/get_location_stats", h.GetLocationStats)

		req := httptest.NewRequest("GET", "/get_location_stats?code=4294967295", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("status = %d, body = %s, want 200", w.Code, w.Body.String())
		}
	})
}

// Mutating handlers mounted without the signature middleware have no caller
// identity and must answer 401 before touching any service.
func TestMutatingHandlersRequireCaller(t *testing.T) {
	testCases := []struct {
		path    string
		handler gin.HandlerFunc
		body    string
	}{
		{"/submit_report", func(c *gin.Context) { h.SubmitReport(c) }, `{"version":"2.0","safety_level":2,"location_code":1001}`},
		{"/update_status", func(c *gin.Context) { h.UpdateStatus(c) }, `{"version":"2.0","id":1,"status":"under_review"}`},
		{"/batch_update_status", func(c *gin.Context) { h.BatchUpdateStatus(c) }, `{"version":"2.0","ids":[1],"status":"under_review"}`},
		{"/emergency_close", func(c *gin.Context) { h.EmergencyClose(c) }, `{"version":"2.0","id":1,"reason":"x"}`},
		{"/set_regulator", func(c *gin.Context) { h.SetRegulator(c) }, `{"version":"2.0","regulator":"0x01"}`},
		{"/authorize_investigator", func(c *gin.Context) { h.AuthorizeInvestigator(c) }, `{"version":"2.0","investigator":"0x01"}`},
		{"/revoke_investigator", func(c *gin.Context) { h.RevokeInvestigator(c) }, `{"version":"2.0","investigator":"0x01"}`},
		{"/start_investigation", func(c *gin.Context) { h.StartInvestigation(c) }, `{"version":"2.0","id":1}`},
		{"/complete_investigation", func(c *gin.Context) { h.CompleteInvestigation(c) }, `{"version":"2.0","id":1,"final_safety_level":2}`},
	}
	for _, tc := range testCases {
		it(func() {
			router := gin.New()
			router.POST(tc.path, tc.handler)

			req := httptest.NewRequest("POST", tc.path, strings.NewReader(tc.body))
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Errorf("%s: status = %d, want 401", tc.path, w.Code)
			}
		})
	}
}

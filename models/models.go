package models

import (
	ethcommon "github.com/ethereum/go-ethereum/common"
)

// NullAddress is the null identity sentinel (the zero address).
var NullAddress = ethcommon.Address{}

// Report is a single food-safety concern record. Reports are never deleted;
// an emergency close flips IsValid to false instead.
type Report struct {
	ID           int64             `json:"id"`
	Submitter    ethcommon.Address `json:"submitter"`
	SafetyLevel  SafetyLevel       `json:"safety_level"`
	LocationCode uint32            `json:"location_code"`
	FoodTypeCode uint32            `json:"food_type_code"`
	Description  string            `json:"description"`
	Status       ReportStatus      `json:"status"`
	CreatedAt    int64             `json:"created_at"`
	LastUpdated  int64             `json:"last_updated"`
	IsProcessed  bool              `json:"is_processed"`
	IsValid      bool              `json:"is_valid"`
}

// EmptyReport is the defined sentinel returned for an unknown report id.
func EmptyReport(id int64) Report {
	return Report{ID: id, Submitter: NullAddress, Status: StatusSubmitted}
}

// Investigation tracks one report's review, exactly one per report, created
// when the investigation starts. Once complete it is immutable.
type Investigation struct {
	ReportID         int64             `json:"report_id"`
	Investigator     ethcommon.Address `json:"investigator"`
	StartTime        int64             `json:"start_time"`
	EndTime          int64             `json:"end_time"`
	IsComplete       bool              `json:"is_complete"`
	FinalSafetyLevel SafetyLevel       `json:"final_safety_level"`
	Findings         string            `json:"findings"`
}

// EmptyInvestigation is the sentinel for a report with no investigation.
func EmptyInvestigation(reportID int64) Investigation {
	return Investigation{ReportID: reportID, Investigator: NullAddress}
}

// TotalStats are the global counters. The five status buckets always sum to
// Total.
type TotalStats struct {
	Total         int64 `json:"total"`
	Submitted     int64 `json:"submitted"`
	UnderReview   int64 `json:"under_review"`
	Investigating int64 `json:"investigating"`
	Resolved      int64 `json:"resolved"`
	Closed        int64 `json:"closed"`
}

// LocationStats are the per-location counters. AverageSafetyLevel is derived
// from the running sum, never by scanning reports.
type LocationStats struct {
	LocationCode       uint32 `json:"location_code"`
	TotalReports       int64  `json:"total_reports"`
	ResolvedReports    int64  `json:"resolved_reports"`
	SafetyLevelSum     int64  `json:"safety_level_sum"`
	AverageSafetyLevel string `json:"average_safety_level"`
	LastReportTime     int64  `json:"last_report_time"`
}

// ReporterStats is the per-submitter counter.
type ReporterStats struct {
	Submitter   ethcommon.Address `json:"submitter"`
	ReportCount int64             `json:"report_count"`
}

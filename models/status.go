package models

import (
	"database/sql/driver"
	"fmt"
)

// ReportStatus is the lifecycle state of a report. The forward path is
// Submitted -> UnderReview -> Investigating -> Resolved; Closed is reachable
// from any non-terminal state through the emergency path only.
type ReportStatus uint8

const (
	StatusSubmitted ReportStatus = iota
	StatusUnderReview
	StatusInvestigating
	StatusResolved
	StatusClosed
)

var statusNames = map[ReportStatus]string{
	StatusSubmitted:     "submitted",
	StatusUnderReview:   "under_review",
	StatusInvestigating: "investigating",
	StatusResolved:      "resolved",
	StatusClosed:        "closed",
}

func (s ReportStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", uint8(s))
}

func ParseReportStatus(s string) (ReportStatus, error) {
	for status, name := range statusNames {
		if name == s {
			return status, nil
		}
	}
	return StatusSubmitted, NewValidationError(fmt.Sprintf("unknown report status %q", s))
}

func (s ReportStatus) IsTerminal() bool {
	return s == StatusResolved || s == StatusClosed
}

// CanAdvanceTo reports whether a regulator-driven status update from s to
// next is legal: strictly forward along the lifecycle and never into Closed,
// which is reserved for the emergency path.
func (s ReportStatus) CanAdvanceTo(next ReportStatus) bool {
	if next == StatusClosed || next > StatusResolved {
		return false
	}
	return next > s
}

func (s ReportStatus) Value() (driver.Value, error) {
	name, ok := statusNames[s]
	if !ok {
		return nil, fmt.Errorf("cannot store unknown report status %d", uint8(s))
	}
	return name, nil
}

func (s *ReportStatus) Scan(src interface{}) error {
	var name string
	switch v := src.(type) {
	case string:
		name = v
	case []byte:
		name = string(v)
	default:
		return fmt.Errorf("cannot scan report status from %T", src)
	}
	parsed, err := ParseReportStatus(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// SafetyLevel is the ordinal severity classification of a report.
type SafetyLevel uint8

const (
	LevelUnknown SafetyLevel = iota
	LevelSafe
	LevelWarning
	LevelDanger
	LevelCritical

	MaxSafetyLevel = LevelCritical
)

var levelNames = map[SafetyLevel]string{
	LevelUnknown:  "unknown",
	LevelSafe:     "safe",
	LevelWarning:  "warning",
	LevelDanger:   "danger",
	LevelCritical: "critical",
}

func (l SafetyLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("invalid(%d)", uint8(l))
}

func (l SafetyLevel) Valid() bool {
	return l <= MaxSafetyLevel
}

// SafetyLevelFrom validates a raw wire value into a SafetyLevel.
func SafetyLevelFrom(raw uint8) (SafetyLevel, error) {
	l := SafetyLevel(raw)
	if !l.Valid() {
		return LevelUnknown, NewValidationError(fmt.Sprintf("safety level %d out of range [0,%d]", raw, uint8(MaxSafetyLevel)))
	}
	return l, nil
}

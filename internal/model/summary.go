package model

import (
	"database/sql/driver"
	"fmt"
)

// SummaryState tracks the summarization lifecycle separately from the text,
// so an empty summary is never mistaken for a pending one.
type SummaryState string

const (
	SummaryUnrequested SummaryState = "unrequested"
	SummaryPending     SummaryState = "pending"
	SummaryCompleted   SummaryState = "completed"
)

func (s SummaryState) Valid() bool {
	switch s {
	case SummaryUnrequested, SummaryPending, SummaryCompleted:
		return true
	}
	return false
}

func (s SummaryState) Value() (driver.Value, error) {
	if s == "" {
		return string(SummaryUnrequested), nil
	}
	if !s.Valid() {
		return nil, fmt.Errorf("invalid summary state %q", string(s))
	}
	return string(s), nil
}

func (s *SummaryState) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*s = SummaryUnrequested
	case string:
		*s = SummaryState(v)
	case []byte:
		*s = SummaryState(v)
	default:
		return fmt.Errorf("cannot scan %T into SummaryState", value)
	}
	if !s.Valid() {
		return fmt.Errorf("invalid summary state %q", string(*s))
	}
	return nil
}

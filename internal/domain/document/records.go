package document

import (
	"time"
)

// ProcedureRecord is a normalized procedure as it appears in one document
type ProcedureRecord struct {
	Code string
	Name string
}

// MaxAllowedDaysRecord is tagged with the code of the procedure it belongs to
type MaxAllowedDaysRecord struct {
	ProcedureCode string
	Regular       int
	Fast          int
	VeryFast      int
}

// WaitingPeriodRecord merges every urgency bucket a facility/procedure pair
// appeared under. Buckets it never appeared under stay nil.
type WaitingPeriodRecord struct {
	Facility      string
	ProcedureCode string
	Regular       *int
	Fast          *int
	VeryFast      *int
}

// Key returns the composite key of the record
func (r *WaitingPeriodRecord) Key() string {
	return WaitingPeriodKey(r.Facility, r.ProcedureCode)
}

func (r *WaitingPeriodRecord) set(urgency string, days int) {
	v := days
	switch urgency {
	case bucketRegular:
		r.Regular = &v
	case bucketFast:
		r.Fast = &v
	case bucketVeryFast:
		r.VeryFast = &v
	}
}

// RecordSet is the canonical, deduplicated content of one scrape document.
type RecordSet struct {
	Start time.Time
	End   time.Time

	// Procedures in first-seen order; codes are unique.
	Procedures []ProcedureRecord

	// Institutions holds unique facility names in first-seen order.
	Institutions []string

	MaxAllowedDays []MaxAllowedDaysRecord

	// WaitingPeriods is keyed by WaitingPeriodKey.
	WaitingPeriods map[string]*WaitingPeriodRecord

	waitingPeriodOrder []string
}

// WaitingPeriodList returns the waiting periods in first-seen order
func (s *RecordSet) WaitingPeriodList() []WaitingPeriodRecord {
	list := make([]WaitingPeriodRecord, 0, len(s.waitingPeriodOrder))
	for _, key := range s.waitingPeriodOrder {
		list = append(list, *s.WaitingPeriods[key])
	}
	return list
}

// ProcedureCodes returns the codes of every procedure in the set
func (s *RecordSet) ProcedureCodes() []string {
	codes := make([]string, len(s.Procedures))
	for i, p := range s.Procedures {
		codes[i] = p.Code
	}
	return codes
}

func (s *RecordSet) addWaitingPeriod(facility, code, urgency string, days int) {
	key := WaitingPeriodKey(facility, code)
	record, ok := s.WaitingPeriods[key]
	if !ok {
		record = &WaitingPeriodRecord{Facility: facility, ProcedureCode: code}
		s.WaitingPeriods[key] = record
		s.waitingPeriodOrder = append(s.waitingPeriodOrder, key)
	}
	record.set(urgency, days)
}

package audit

import "time"

// ReplayFilter selects entries for a replay. Zero fields match everything.
type ReplayFilter struct {
	ServiceID string
	Action    Action
	From      time.Time
	To        time.Time
}

// ReplaySummary holds per-action counts for a replayed range.
type ReplaySummary struct {
	Total          int            `json:"total"`
	ByAction       map[Action]int `json:"byAction"`
	FirstTimestamp string         `json:"firstTimestamp"`
	LastTimestamp  string         `json:"lastTimestamp"`
}

// ReplayResult holds the filtered entries and their summary.
type ReplayResult struct {
	Filter  ReplayFilter  `json:"-"`
	Entries []Entry       `json:"entries"`
	Summary ReplaySummary `json:"summary"`
}

// Replay reads the audit log at path and returns entries matching filter.
// Malformed lines and unparseable timestamps are skipped.
func Replay(path string, filter ReplayFilter) (*ReplayResult, error) {
	entries, err := readEntries(path)
	if err != nil {
		return nil, err
	}

	result := &ReplayResult{
		Filter:  filter,
		Summary: ReplaySummary{ByAction: make(map[Action]int)},
	}
	for _, e := range entries {
		if !filter.matches(e) {
			continue
		}
		result.Entries = append(result.Entries, e)
		updateSummary(&result.Summary, e)
	}
	return result, nil
}

func (f ReplayFilter) matches(e Entry) bool {
	if f.ServiceID != "" && e.ServiceID != f.ServiceID {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.From.IsZero() && f.To.IsZero() {
		return true
	}
	ts, err := time.Parse(TimestampFormat, e.Timestamp)
	if err != nil {
		return false
	}
	if !f.From.IsZero() && ts.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && ts.After(f.To) {
		return false
	}
	return true
}

func updateSummary(s *ReplaySummary, e Entry) {
	s.Total++
	s.ByAction[e.Action]++
	if s.FirstTimestamp == "" {
		s.FirstTimestamp = e.Timestamp
	}
	s.LastTimestamp = e.Timestamp
}

package events

import (
	"sort"
	"time"

	"github.com/quantfold/marketetl/internal/contracts"
)

// Curated release dates. Event flags mark that a release happens on the
// date, never its outcome, so they are known in advance and leak nothing.
// Sources: Federal Reserve FOMC calendar and the BLS release schedule.

var fomcDates = []string{
	"2024-01-31", "2024-03-20", "2024-05-01", "2024-06-12",
	"2024-07-31", "2024-09-18", "2024-11-07", "2024-12-18",
	"2025-01-29", "2025-03-19", "2025-05-07", "2025-06-18",
	"2025-07-30", "2025-09-17", "2025-11-05", "2025-12-17",
}

var cpiDates = []string{
	"2024-01-11", "2024-02-13", "2024-03-12", "2024-04-10",
	"2024-05-15", "2024-06-12", "2024-07-11", "2024-08-14",
	"2024-09-11", "2024-10-10", "2024-11-13", "2024-12-11",
	"2025-01-15", "2025-02-12", "2025-03-12", "2025-04-10",
	"2025-05-13", "2025-06-11", "2025-07-11", "2025-08-13",
	"2025-09-10", "2025-10-10", "2025-11-12", "2025-12-10",
}

var nfpDates = []string{
	"2024-01-05", "2024-02-02", "2024-03-08", "2024-04-05",
	"2024-05-03", "2024-06-07", "2024-07-05", "2024-08-02",
	"2024-09-06", "2024-10-04", "2024-11-01", "2024-12-06",
	"2025-01-10", "2025-02-07", "2025-03-07", "2025-04-04",
	"2025-05-02", "2025-06-06", "2025-07-03", "2025-08-01",
	"2025-09-05", "2025-10-03", "2025-11-07", "2025-12-05",
}

type catalogEntry struct {
	eventType contracts.EventType
	eventName string
	source    string
	dates     []string
}

var catalog = []catalogEntry{
	{contracts.EventFOMC, "FOMC Meeting", "Federal Reserve", fomcDates},
	{contracts.EventCPI, "CPI Release", "BLS", cpiDates},
	{contracts.EventNFP, "NFP Release", "BLS", nfpDates},
}

// Build returns the curated macro release events inside [start, end],
// inclusive on both ends, sorted by date then type. Unique per (date, type).
func Build(start, end time.Time) []contracts.EventRecord {
	var out []contracts.EventRecord
	for _, entry := range catalog {
		for _, ds := range entry.dates {
			d, err := time.ParseInLocation("2006-01-02", ds, time.UTC)
			if err != nil {
				continue
			}
			if d.Before(start) || d.After(end) {
				continue
			}
			out = append(out, contracts.EventRecord{
				Date:      d,
				EventType: entry.eventType,
				EventName: entry.eventName,
				Source:    entry.source,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].EventType < out[j].EventType
	})
	return out
}

// ByDate indexes records as date-key -> set of event types, the shape the
// context merger consumes.
func ByDate(records []contracts.EventRecord) map[string]map[contracts.EventType]bool {
	out := make(map[string]map[contracts.EventType]bool, len(records))
	for _, r := range records {
		key := r.Date.Format("2006-01-02")
		if out[key] == nil {
			out[key] = make(map[contracts.EventType]bool)
		}
		out[key][r.EventType] = true
	}
	return out
}

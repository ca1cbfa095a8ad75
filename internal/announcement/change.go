package announcement

import "time"

// Change is one field that differs between a stored record and a fresh crawl.
type Change struct {
	Field string `json:"field"`
	Label string `json:"label"`
	Old   string `json:"old,omitempty"`
	New   string `json:"new"`
}

// Location is the zone portal timestamps are written in (UTC+8).
var Location = time.FixedZone("CST", 8*60*60)

// TimeLayout is how timestamps are rendered in messages and diffs.
const TimeLayout = "2006-01-02 15:04"

// FormatTime renders t in the portal zone, or "" for nil.
func FormatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.In(Location).Format(TimeLayout)
}

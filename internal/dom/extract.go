package dom

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/alqutdigital/tender-watch/internal/announcement"
)

// Location is the zone portal timestamps are written in.
var Location = announcement.Location

// Text returns the trimmed text of el, or "" if it cannot be read.
func Text(ctx context.Context, el Element) string {
	if el == nil {
		return ""
	}
	s, err := el.Text(ctx)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

// Attr returns the trimmed attribute value, or "" if absent or unreadable.
func Attr(ctx context.Context, el Element, name string) string {
	if el == nil {
		return ""
	}
	v, ok, err := el.Attr(ctx, name)
	if err != nil || !ok {
		return ""
	}
	return strings.TrimSpace(v)
}

// ChildText returns the text of the first element under el matched by q.
func ChildText(ctx context.Context, el Element, q Query) string {
	if el == nil {
		return ""
	}
	els, err := el.Find(ctx, q)
	if err != nil || len(els) == 0 {
		return ""
	}
	return Text(ctx, els[0])
}

var (
	dateReplacer = strings.NewReplacer("年", "-", "月", "-", "日", " ", "/", "-", ".", "-")
	spaces       = regexp.MustCompile(`\s+`)
)

var dateLayouts = []string{
	"2006-1-2 15:4:5",
	"2006-1-2",
}

// ParseDateTime normalizes the date formats used across the portal
// (2024-03-05, 2024-03-05 09:30[:00], 2024年03月05日[ 09:30], 2024/03/05,
// 2024.03.05) and parses them in Location. It returns nil when nothing parses.
func ParseDateTime(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	s := dateReplacer.Replace(raw)
	s = strings.TrimSpace(spaces.ReplaceAllString(s, " "))
	s = strings.TrimSpace(strings.TrimSuffix(s, "-"))

	if strings.Contains(s, " ") && strings.Count(s, ":") == 1 {
		s += ":00"
	}

	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, Location); err == nil {
			return &t
		}
	}

	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t
	}
	if t, err := time.ParseInLocation("2006-01-02T15:04:05", raw, Location); err == nil {
		return &t
	}
	return nil
}

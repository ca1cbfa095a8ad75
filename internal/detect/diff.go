// Package detect decides whether a crawled announcement is new, updated or
// unchanged, persists it accordingly and triggers notifications.
package detect

import (
	"time"

	"github.com/alqutdigital/tender-watch/internal/announcement"
)

type compared struct {
	key   string
	label string
	get   func(d *announcement.Details) (string, bool)
}

func text(p func(d *announcement.Details) *string) func(d *announcement.Details) (string, bool) {
	return func(d *announcement.Details) (string, bool) {
		v := p(d)
		return announcement.Value(v), v != nil
	}
}

func stamp(p func(d *announcement.Details) *time.Time) func(d *announcement.Details) (string, bool) {
	return func(d *announcement.Details) (string, bool) {
		v := p(d)
		if v == nil {
			return "", false
		}
		return v.In(announcement.Location).Format("2006-01-02 15:04:05"), true
	}
}

// comparedFields are the fields whose change makes a record "updated".
var comparedFields = []compared{
	{"status", "项目状态", text(func(d *announcement.Details) *string { return d.Status })},
	{"bid_open_time", "开标时间", stamp(func(d *announcement.Details) *time.Time { return d.BidOpenTime })},
	{"file_deadline", "文件截止时间", stamp(func(d *announcement.Details) *time.Time { return d.FileDeadline })},
	{"detail_url", "详情链接", text(func(d *announcement.Details) *string { return d.DetailURL })},
	{"tenderer", "招标人", text(func(d *announcement.Details) *string { return d.Tenderer })},
	{"contact_person", "联系人", text(func(d *announcement.Details) *string { return d.ContactPerson })},
	{"procurement_type", "采购类型", text(func(d *announcement.Details) *string { return d.ProcurementType })},
	{"bid_open_location", "开标地点", text(func(d *announcement.Details) *string { return d.BidOpenLocation })},
}

// ComparedFields returns the keys of the fields Diff looks at, in order.
func ComparedFields() []string {
	keys := make([]string, len(comparedFields))
	for i, f := range comparedFields {
		keys[i] = f.key
	}
	return keys
}

// Diff lists the compared fields whose incoming value is present and differs
// from the stored one. A field missing from incoming is never a change, since
// Merge would not apply it either.
func Diff(existing, incoming *announcement.Record) []announcement.Change {
	var changes []announcement.Change
	for _, f := range comparedFields {
		next, ok := f.get(&incoming.Details)
		if !ok {
			continue
		}
		prev, had := f.get(&existing.Details)
		if had && prev == next {
			continue
		}
		changes = append(changes, announcement.Change{Field: f.key, Label: f.label, Old: prev, New: next})
	}
	return changes
}

// Merge returns existing with every present incoming detail applied. Absent
// incoming values never erase stored ones.
func Merge(existing, incoming *announcement.Record) *announcement.Record {
	out := existing.Clone()
	dst, src := &out.Details, &incoming.Details

	for _, p := range []struct{ to, from **string }{
		{&dst.ProcurementName, &src.ProcurementName},
		{&dst.Status, &src.Status},
		{&dst.ProcurementType, &src.ProcurementType},
		{&dst.DetailURL, &src.DetailURL},
		{&dst.BidOpenLocation, &src.BidOpenLocation},
		{&dst.Tenderer, &src.Tenderer},
		{&dst.ContactPerson, &src.ContactPerson},
		{&dst.ContactPhone, &src.ContactPhone},
		{&dst.BackupContact, &src.BackupContact},
		{&dst.BackupPhone, &src.BackupPhone},
		{&dst.Fax, &src.Fax},
		{&dst.Email, &src.Email},
		{&dst.Introduction, &src.Introduction},
		{&dst.FileDownload, &src.FileDownload},
		{&dst.BiddingFileDownload, &src.BiddingFileDownload},
		{&dst.ChangeFileDownload, &src.ChangeFileDownload},
		{&dst.ChangeContent, &src.ChangeContent},
	} {
		if *p.from != nil {
			*p.to = *p.from
		}
	}

	for _, p := range []struct{ to, from **time.Time }{
		{&dst.FileDeadline, &src.FileDeadline},
		{&dst.BidOpenTime, &src.BidOpenTime},
		{&dst.PublishTime, &src.PublishTime},
	} {
		if *p.from != nil {
			*p.to = *p.from
		}
	}

	if incoming.ProjectName != "" {
		out.ProjectName = incoming.ProjectName
	}
	return out
}

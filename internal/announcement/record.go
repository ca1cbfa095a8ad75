package announcement

import (
	"strings"
	"time"
)

// TriggeredDownload marks a download field whose file was fetched by clicking a
// control, so no URL could be captured.
const TriggeredDownload = "TRIGGERED_DOWNLOAD"

// RowRef points at the list row a record was parsed from. It is only meaningful
// inside the browser session identified by SessionID.
type RowRef struct {
	SessionID string
	Index     int
}

// Details holds the fields filled from the list row and the detail page. Every
// field is optional; nil means the source did not provide a value.
type Details struct {
	ProcurementName     *string    `json:"procurement_name,omitempty" db:"procurement_name"`
	Status              *string    `json:"status,omitempty" db:"status"`
	ProcurementType     *string    `json:"procurement_type,omitempty" db:"procurement_type"`
	DetailURL           *string    `json:"detail_url,omitempty" db:"detail_url"`
	FileDeadline        *time.Time `json:"file_deadline,omitempty" db:"file_deadline"`
	BidOpenTime         *time.Time `json:"bid_open_time,omitempty" db:"bid_open_time"`
	BidOpenLocation     *string    `json:"bid_open_location,omitempty" db:"bid_open_location"`
	Tenderer            *string    `json:"tenderer,omitempty" db:"tenderer"`
	ContactPerson       *string    `json:"contact_person,omitempty" db:"contact_person"`
	ContactPhone        *string    `json:"contact_phone,omitempty" db:"contact_phone"`
	BackupContact       *string    `json:"backup_contact,omitempty" db:"backup_contact"`
	BackupPhone         *string    `json:"backup_phone,omitempty" db:"backup_phone"`
	Fax                 *string    `json:"fax,omitempty" db:"fax"`
	Email               *string    `json:"email,omitempty" db:"email"`
	Introduction        *string    `json:"introduction,omitempty" db:"introduction"`
	FileDownload        *string    `json:"file_download,omitempty" db:"file_download"`
	BiddingFileDownload *string    `json:"bidding_file_download,omitempty" db:"bidding_file_download"`
	ChangeFileDownload  *string    `json:"change_file_download,omitempty" db:"change_file_download"`
	ChangeContent       *string    `json:"change_content,omitempty" db:"change_content"`
	PublishTime         *time.Time `json:"publish_time,omitempty" db:"publish_time"`
}

// Record is one procurement announcement.
type Record struct {
	ID          int64     `json:"id" db:"id"`
	Category    Category  `json:"category" db:"category"`
	ProjectCode string    `json:"project_code" db:"project_code"`
	ProjectName string    `json:"project_name" db:"project_name"`
	Fingerprint string    `json:"fingerprint" db:"fingerprint"`
	Notified    bool      `json:"notified" db:"notified"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
	Details

	// Row is set while the record is being crawled and is never persisted.
	Row *RowRef `json:"-" db:"-"`
	// RawHTML is the detail page markup captured for debugging.
	RawHTML string `json:"-" db:"-"`
}

// Clone returns a copy of r that shares no mutable state with it.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.Row != nil {
		row := *r.Row
		c.Row = &row
	}
	return &c
}

// HasCode reports whether the record carries a usable project code.
func (r *Record) HasCode() bool {
	return strings.TrimSpace(r.ProjectCode) != ""
}

// Str returns a pointer to the trimmed s, or nil when s is blank.
func Str(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// Value dereferences p, returning "" for nil.
func Value(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

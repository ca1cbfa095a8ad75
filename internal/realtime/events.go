package realtime

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/alqutdigital/tender-watch/internal/announcement"
)

// Kind names what happened to an announcement.
type Kind string

const (
	KindNew            Kind = "new"
	KindUpdated        Kind = "updated"
	KindCrawlCompleted Kind = "crawl.completed"
)

// Subject returns the subject events of this kind are published on.
func (k Kind) Subject() string {
	switch k {
	case KindNew:
		return SubjectNew
	case KindUpdated:
		return SubjectUpdated
	case KindCrawlCompleted:
		return SubjectCrawlCompleted
	}
	return SubjectPrefix + "." + string(k)
}

// RunSummary carries the counts of a finished crawl run.
type RunSummary struct {
	RunID         string `json:"run_id"`
	Outcome       string `json:"outcome"`
	FailedStage   string `json:"failed_stage,omitempty"`
	Listed        int    `json:"listed"`
	Inserted      int    `json:"inserted"`
	Updated       int    `json:"updated"`
	Unchanged     int    `json:"unchanged"`
	SkippedNoCode int    `json:"skipped_no_code"`
	Failed        int    `json:"failed"`
}

// Event is the payload of every message on the announcements stream.
type Event struct {
	EventID     string      `json:"event_id"`
	Kind        Kind        `json:"kind"`
	Category    string      `json:"category"`
	Fingerprint string      `json:"fingerprint,omitempty"`
	ProjectCode string      `json:"project_code,omitempty"`
	ProjectName string      `json:"project_name,omitempty"`
	Status      string      `json:"status,omitempty"`
	Changed     []string    `json:"changed,omitempty"`
	DetailURL   string      `json:"detail_url,omitempty"`
	Run         *RunSummary `json:"run,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}

// NewRecordEvent describes a new or updated record. changed lists the diffed
// fields of an update.
func NewRecordEvent(kind Kind, rec *announcement.Record, changed []string) Event {
	return Event{
		EventID:     uuid.New().String(),
		Kind:        kind,
		Category:    string(rec.Category),
		Fingerprint: rec.Fingerprint,
		ProjectCode: rec.ProjectCode,
		ProjectName: rec.ProjectName,
		Status:      announcement.Value(rec.Status),
		Changed:     changed,
		DetailURL:   announcement.Value(rec.DetailURL),
		Timestamp:   time.Now().UTC(),
	}
}

// NewCrawlCompletedEvent describes the end of a crawl run.
func NewCrawlCompletedEvent(category announcement.Category, summary RunSummary) Event {
	return Event{
		EventID:   uuid.New().String(),
		Kind:      KindCrawlCompleted,
		Category:  string(category),
		Run:       &summary,
		Timestamp: time.Now().UTC(),
	}
}

// Validate checks if the event has required fields.
func (e *Event) Validate() error {
	if e.EventID == "" {
		return errors.New("event_id is required")
	}
	if e.Category == "" {
		return errors.New("category is required")
	}
	if e.Kind != KindCrawlCompleted && e.Fingerprint == "" {
		return errors.New("fingerprint is required")
	}
	return nil
}

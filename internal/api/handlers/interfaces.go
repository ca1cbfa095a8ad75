// Package handlers provides HTTP request handlers for the API.
package handlers

import (
	"context"

	"github.com/alqutdigital/tender-watch/internal/announcement"
	"github.com/alqutdigital/tender-watch/internal/crawler"
	"github.com/alqutdigital/tender-watch/internal/detect"
	"github.com/alqutdigital/tender-watch/internal/storage"
)

// AnnouncementStore reads stored announcements.
// *storage.AnnouncementRepository implements it.
type AnnouncementStore interface {
	Get(ctx context.Context, id int64) (*announcement.Record, error)
	List(ctx context.Context, f storage.ListFilter, p storage.Page) ([]*announcement.Record, int, error)
}

// Crawler runs crawls. *crawler.Service implements it.
type Crawler interface {
	RunCrawl(ctx context.Context, category announcement.Category, opts crawler.RunOptions) (crawler.RunResult, error)
	Categories() []announcement.Category
}

// Renotifier retries notifications of unnotified records.
// *detect.Engine implements it.
type Renotifier interface {
	Renotify(ctx context.Context) (detect.RenotifyResult, error)
}

// Sender delivers a markdown message. *notify.DingTalk implements it.
type Sender interface {
	Send(ctx context.Context, title, markdown string) error
}

// RunStore reads crawl run status. *storage.RunStatusStore implements it.
type RunStore interface {
	Get(ctx context.Context, id string) (*storage.Run, error)
	Latest(ctx context.Context, category string) (*storage.Run, error)
	Recent(ctx context.Context, n int) ([]storage.Run, error)
}

// HealthChecker defines an interface for components that can report health.
type HealthChecker interface {
	Health(ctx context.Context) error
}

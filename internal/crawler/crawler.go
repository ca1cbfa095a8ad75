// Package crawler drives one browser session through the portal: it reaches
// a category's announcement list, parses its rows and opens every row's
// detail page, then hands the records to change detection.
package crawler

import (
	"context"
	"errors"
	"time"

	"github.com/alqutdigital/tender-watch/internal/browser"
	"github.com/alqutdigital/tender-watch/internal/dom"
)

// ErrUnsupportedCategory is returned for categories without a parser.
var ErrUnsupportedCategory = errors.New("unsupported announcement category")

// Session is the browser surface the crawler drives. *browser.Session
// implements it.
type Session interface {
	dom.View
	dom.Clicker

	ID() string
	Navigate(ctx context.Context, url string) error
	GoBack(ctx context.Context) error
	CurrentURL(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)

	ScrollIntoView(ctx context.Context, el dom.Element) error
	ScriptClick(ctx context.Context, el dom.Element) error

	// Current returns the id of the context commands run against.
	Current() string
	OpenContexts(ctx context.Context) ([]string, error)
	SwitchTo(ctx context.Context, id string) error
	Close(ctx context.Context, id string) error

	Release()
}

// Launcher acquires browser sessions.
type Launcher interface {
	Acquire(ctx context.Context) (Session, error)
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(ctx context.Context) (Session, error)

// Acquire implements Launcher.
func (f LauncherFunc) Acquire(ctx context.Context) (Session, error) { return f(ctx) }

// BrowserLauncher adapts a chromedp launcher.
func BrowserLauncher(l *browser.Launcher) Launcher {
	return LauncherFunc(func(ctx context.Context) (Session, error) {
		s, err := l.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
}

// Range is a closed interval of delays.
type Range struct {
	Min time.Duration
	Max time.Duration
}

// Config holds crawl pacing and navigation settings.
type Config struct {
	TargetURL string
	// NavLabel is the text of the top navigation entry leading to the
	// announcement tabs.
	NavLabel string

	ElementTimeout time.Duration
	PollInterval   time.Duration

	// Interval separates navigation transitions.
	Interval     Range
	ScrollSettle Range
	ListSettle   Range
	ClickSettle  Range
	BackSettle   Range
	RecordGap    Range

	// DetailSnapshot parses detail pages from a captured HTML snapshot
	// instead of the live tab. Downloads without a readable URL are then
	// not clicked.
	DetailSnapshot bool
	// ArchiveSnapshots keeps the raw detail HTML on every record so it can be
	// archived.
	ArchiveSnapshots bool
}

// DefaultConfig returns default crawler configuration.
func DefaultConfig() Config {
	return Config{
		TargetURL:      "https://ecp.sgcc.com.cn/ecp2.0/portal/#/",
		NavLabel:       "招标采购",
		ElementTimeout: 10 * time.Second,
		PollInterval:   250 * time.Millisecond,
		Interval:       Range{Min: 3 * time.Second, Max: 8 * time.Second},
		ScrollSettle:   Range{Min: 300 * time.Millisecond, Max: 500 * time.Millisecond},
		ListSettle:     Range{Min: time.Second, Max: 2 * time.Second},
		ClickSettle:    Range{Min: 1500 * time.Millisecond, Max: 2500 * time.Millisecond},
		BackSettle:     Range{Min: 2 * time.Second, Max: 3 * time.Second},
		RecordGap:      Range{Min: 800 * time.Millisecond, Max: 1500 * time.Millisecond},
	}
}

package browser

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/alqutdigital/tender-watch/pkg/logger"
)

type tab struct {
	ctx    context.Context
	cancel context.CancelFunc // nil for the first tab, which lives as long as the browser
	gen    uint64
}

// Session is one browser lifetime. It is not safe for concurrent DOM work;
// the mutex only guards the tab bookkeeping.
type Session struct {
	id         string
	config     Config
	log        *logger.Logger
	browserCtx context.Context
	release    func()

	mu       sync.Mutex
	tabs     map[string]*tab
	current  string
	origin   string
	released bool
}

// ID identifies the session in logs and row references.
func (s *Session) ID() string { return s.id }

// Release closes the browser. It is safe to call more than once.
func (s *Session) Release() {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	s.released = true
	tabs := s.tabs
	s.tabs = map[string]*tab{}
	s.mu.Unlock()

	for _, t := range tabs {
		if t.cancel != nil {
			t.cancel()
		}
	}
	s.release()
	s.log.Info("browser session released", "session_id", s.id)
}

// Current returns the id of the tab commands run against.
func (s *Session) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Session) currentTab() (string, *tab, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return "", nil, errors.New("session released")
	}
	t, ok := s.tabs[s.current]
	if !ok {
		return "", nil, fmt.Errorf("tab %s is not attached", s.current)
	}
	return s.current, t, nil
}

// invalidate marks every handle issued for tab id as stale.
func (s *Session) invalidate(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tabs[id]; ok {
		t.gen++
	}
}

func (s *Session) generation(id string) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tabs[id]
	if !ok {
		return 0, false
	}
	return t.gen, true
}

// run executes fn against the current tab, bounded by timeout and by ctx.
func (s *Session) run(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	_, t, err := s.currentTab()
	if err != nil {
		return err
	}
	return runOn(ctx, t.ctx, timeout, fn)
}

func runOn(ctx, tabCtx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	runCtx, cancel := context.WithTimeout(tabCtx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(runCtx, chromedp.ActionFunc(fn))
}

// Navigate loads url in the current tab.
func (s *Session) Navigate(ctx context.Context, url string) error {
	id, _, err := s.currentTab()
	if err != nil {
		return err
	}
	s.invalidate(id)

	err = s.run(ctx, s.config.PageLoadTimeout, func(ctx context.Context) error {
		return chromedp.Tasks{
			chromedp.Navigate(url),
			chromedp.WaitReady("body", chromedp.ByQuery),
		}.Do(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

// GoBack steps the current tab back in history.
func (s *Session) GoBack(ctx context.Context) error {
	id, _, err := s.currentTab()
	if err != nil {
		return err
	}
	s.invalidate(id)

	var ok bool
	err = s.run(ctx, s.config.PageLoadTimeout, func(ctx context.Context) error {
		return chromedp.Tasks{
			chromedp.Evaluate(`history.back(); true`, &ok),
			chromedp.WaitReady("body", chromedp.ByQuery),
		}.Do(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to navigate back: %w", err)
	}
	return nil
}

// CurrentURL returns the address of the current tab.
func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	var url string
	err := s.run(ctx, s.config.ElementTimeout, func(ctx context.Context) error {
		return chromedp.Location(&url).Do(ctx)
	})
	if err != nil {
		return "", fmt.Errorf("failed to read location: %w", err)
	}
	return url, nil
}

// HTML returns the outer markup of the current document.
func (s *Session) HTML(ctx context.Context) (string, error) {
	var markup string
	err := s.run(ctx, s.config.ElementTimeout, func(ctx context.Context) error {
		return chromedp.Evaluate(`document.documentElement.outerHTML`, &markup).Do(ctx)
	})
	if err != nil {
		return "", fmt.Errorf("failed to read document: %w", err)
	}
	return markup, nil
}

// OpenContexts lists the ids of all open page targets.
func (s *Session) OpenContexts(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	infos, err := chromedp.Targets(s.browserCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to list targets: %w", err)
	}
	ids := make([]string, 0, len(infos))
	for _, info := range infos {
		if info.Type == "page" {
			ids = append(ids, string(info.TargetID))
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// SwitchTo makes id the current tab, attaching to it if needed.
func (s *Session) SwitchTo(ctx context.Context, id string) error {
	if _, err := s.attach(ctx, id); err != nil {
		return err
	}
	s.mu.Lock()
	s.current = id
	s.mu.Unlock()
	return nil
}

func (s *Session) attach(ctx context.Context, id string) (*tab, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	if t, ok := s.tabs[id]; ok {
		s.mu.Unlock()
		return t, nil
	}
	s.mu.Unlock()

	tabCtx, cancel := chromedp.NewContext(s.browserCtx, chromedp.WithTargetID(target.ID(id)))
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to attach to tab %s: %w", id, err)
	}

	t := &tab{ctx: tabCtx, cancel: cancel}
	s.mu.Lock()
	s.tabs[id] = t
	s.mu.Unlock()
	return t, nil
}

// Close closes tab id. Closing the first tab is refused because it owns the
// browser. If id was current, the first tab becomes current.
func (s *Session) Close(ctx context.Context, id string) error {
	if id == s.origin {
		return errors.New("refusing to close the session's first tab")
	}
	t, err := s.attach(ctx, id)
	if err != nil {
		return err
	}

	err = runOn(ctx, t.ctx, s.config.ElementTimeout, func(ctx context.Context) error {
		return page.Close().Do(ctx)
	})
	t.cancel()

	s.mu.Lock()
	delete(s.tabs, id)
	if s.current == id {
		s.current = s.origin
	}
	s.mu.Unlock()

	if err != nil && !errors.Is(err, context.Canceled) && !strings.Contains(err.Error(), "context canceled") {
		return fmt.Errorf("failed to close tab %s: %w", id, err)
	}
	s.log.Debug("tab closed", "session_id", s.id, "tab", id)
	return nil
}

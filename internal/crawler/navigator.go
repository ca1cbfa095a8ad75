package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alqutdigital/tender-watch/internal/dom"
	"github.com/alqutdigital/tender-watch/internal/parser"
	"github.com/alqutdigital/tender-watch/pkg/logger"
)

// Stage is a state of the navigation machine.
type Stage string

const (
	StageHome        Stage = "home"
	StageNavClicked  Stage = "nav_clicked"
	StageTabSelected Stage = "tab_selected"
	StageListReady   Stage = "list_ready"
	StageListParsed  Stage = "list_parsed"
	StageFailed      Stage = "failed"
)

var errNotFound = errors.New("no pattern matched")

// NavigationError reports the stage the machine could not reach.
type NavigationError struct {
	Stage Stage
	Err   error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigation failed reaching %s: %v", e.Stage, e.Err)
}

func (e *NavigationError) Unwrap() error { return e.Err }

// navigator walks HOME → NAV_CLICKED → TAB_SELECTED → LIST_READY once.
type navigator struct {
	session  Session
	strategy parser.Strategy
	config   Config
	pacer    *Pacer
	log      *logger.Logger

	stage Stage
}

func newNavigator(s Session, strategy parser.Strategy, cfg Config, pacer *Pacer, log *logger.Logger) *navigator {
	return &navigator{session: s, strategy: strategy, config: cfg, pacer: pacer, log: log}
}

// run drives the machine to LIST_READY. A failure leaves the machine in
// StageFailed and returns a *NavigationError naming the target stage.
func (n *navigator) run(ctx context.Context) error {
	steps := []struct {
		target Stage
		do     func(ctx context.Context) error
	}{
		{StageHome, n.home},
		{StageNavClicked, n.openNav},
		{StageTabSelected, n.selectTab},
		{StageListReady, n.waitList},
	}

	for i, step := range steps {
		if err := step.do(ctx); err != nil {
			n.stage = StageFailed
			if ctx.Err() != nil {
				return ctx.Err()
			}
			n.log.Warn("navigation stage failed", "stage", step.target, "error", err)
			return &NavigationError{Stage: step.target, Err: err}
		}
		n.stage = step.target
		n.log.Debug("navigation stage reached", "stage", step.target)

		if i < len(steps)-1 {
			if err := n.pacer.Pause(ctx, n.config.Interval); err != nil {
				return err
			}
		}
	}
	return n.pacer.Pause(ctx, n.config.ListSettle)
}

func (n *navigator) home(ctx context.Context) error {
	if err := n.session.Navigate(ctx, n.config.TargetURL); err != nil {
		return err
	}
	_, _, err := n.waitAny(ctx, []dom.Query{dom.ByCSS("body")})
	return err
}

func (n *navigator) openNav(ctx context.Context) error {
	return n.clickFirst(ctx, dom.TextPatterns(n.config.NavLabel, "a", "span", "div"))
}

func (n *navigator) selectTab(ctx context.Context) error {
	label := n.strategy.Category().Label()
	queries := append(append([]dom.Query(nil), n.strategy.TabLocator()...),
		dom.TextPatterns(label, "a", "span", "div", "li")...)
	return n.clickFirst(ctx, queries)
}

func (n *navigator) waitList(ctx context.Context) error {
	_, _, err := n.waitAny(ctx, parser.ListReadyQueries())
	return err
}

// clickFirst waits for any query to match and clicks its first element,
// moving on to later queries when a click fails.
func (n *navigator) clickFirst(ctx context.Context, queries []dom.Query) error {
	_, q, err := n.waitAny(ctx, queries)
	if err != nil {
		return err
	}

	start := 0
	for i := range queries {
		if queries[i] == q {
			start = i
			break
		}
	}

	var lastErr error = errNotFound
	for _, q := range queries[start:] {
		els, err := n.session.FindAll(ctx, q)
		if err != nil || len(els) == 0 {
			continue
		}
		if lastErr = clickElement(ctx, n.session, n.pacer, n.config, els[0]); lastErr == nil {
			n.log.Debug("clicked", "query", q.String())
			return nil
		}
		n.log.Debug("click failed, trying next pattern", "query", q.String(), "error", lastErr)
	}
	return lastErr
}

// waitAny polls until one of queries resolves or the element timeout passes.
func (n *navigator) waitAny(ctx context.Context, queries []dom.Query) ([]dom.Element, dom.Query, error) {
	return waitAny(ctx, n.session, n.pacer, n.config, queries)
}

func waitAny(ctx context.Context, view dom.View, pacer *Pacer, cfg Config, queries []dom.Query) ([]dom.Element, dom.Query, error) {
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}
	attempts := int(cfg.ElementTimeout/poll) + 1

	for i := 0; i < attempts; i++ {
		if els, q := dom.Resolve(ctx, view, queries); len(els) > 0 {
			return els, q, nil
		}
		if i == attempts-1 {
			break
		}
		if err := pacer.Wait(ctx, poll); err != nil {
			return nil, dom.Query{}, err
		}
	}
	return nil, dom.Query{}, fmt.Errorf("%w after %s: %v", errNotFound, cfg.ElementTimeout, queries)
}

// clickElement scrolls el into view and clicks it natively, falling back to a
// script click when the native click is refused.
func clickElement(ctx context.Context, s Session, pacer *Pacer, cfg Config, el dom.Element) error {
	if err := s.ScrollIntoView(ctx, el); err != nil {
		if errors.Is(err, dom.ErrStaleElement) {
			return err
		}
	}
	if err := pacer.Pause(ctx, cfg.ScrollSettle); err != nil {
		return err
	}

	err := s.Click(ctx, el)
	if err == nil {
		return nil
	}
	if errors.Is(err, dom.ErrStaleElement) || ctx.Err() != nil {
		return err
	}
	if serr := s.ScriptClick(ctx, el); serr != nil {
		return fmt.Errorf("native click: %v; script click: %w", err, serr)
	}
	return nil
}

package browser

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"

	"github.com/alqutdigital/tender-watch/pkg/logger"
)

// hideWebdriver runs before any page script so navigator.webdriver reads as
// undefined.
const hideWebdriver = `Object.defineProperty(navigator, 'webdriver', {get: () => undefined});`

// Launcher starts browser sessions.
type Launcher struct {
	config Config
	log    *logger.Logger

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewLauncher creates a launcher. rnd picks the user agent of each session; a
// nil rnd uses a randomly seeded source.
func NewLauncher(cfg Config, rnd *rand.Rand, log *logger.Logger) *Launcher {
	if log == nil {
		log = logger.Default()
	}
	if rnd == nil {
		rnd = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if len(cfg.UserAgents) == 0 {
		cfg.UserAgents = DefaultUserAgents
	}
	return &Launcher{config: cfg, rnd: rnd, log: log.WithComponent("browser")}
}

// pickUserAgent returns a random entry of the configured pool.
func (l *Launcher) pickUserAgent() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.config.UserAgents[l.rnd.IntN(len(l.config.UserAgents))]
}

func (l *Launcher) allocatorOptions(userAgent string) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", l.config.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("ignore-certificate-errors", true),
		chromedp.UserAgent(userAgent),
		chromedp.WindowSize(l.config.WindowWidth, l.config.WindowHeight),
	)
	if proxy := l.config.ProxyURL(); proxy != "" {
		opts = append(opts, chromedp.ProxyServer(proxy))
	}
	if l.config.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.config.ExecPath))
	}
	return opts
}

// Acquire starts a browser and returns a session attached to its first tab.
// The caller must Release the session on every path.
func (l *Launcher) Acquire(ctx context.Context) (*Session, error) {
	userAgent := l.pickUserAgent()

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, l.allocatorOptions(userAgent)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithErrorf(func(format string, args ...any) {
			l.log.Debug("chromedp error", "detail", fmt.Sprintf(format, args...))
		}),
	)

	release := func() {
		browserCancel()
		allocCancel()
	}

	setup := []chromedp.Action{
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(hideWebdriver).Do(ctx)
			return err
		}),
	}
	if l.config.DownloadDir != "" {
		dir, err := filepath.Abs(l.config.DownloadDir)
		if err == nil {
			err = os.MkdirAll(dir, 0o755)
		}
		if err != nil {
			release()
			return nil, fmt.Errorf("failed to prepare download dir: %w", err)
		}
		setup = append(setup, cdpbrowser.SetDownloadBehavior(cdpbrowser.SetDownloadBehaviorBehaviorAllow).
			WithDownloadPath(dir))
	}

	// The first Run starts the browser, so it must use the un-timed context.
	if err := chromedp.Run(browserCtx, setup...); err != nil {
		release()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	c := chromedp.FromContext(browserCtx)
	origin := string(c.Target.TargetID)

	s := &Session{
		id:         uuid.New().String(),
		config:     l.config,
		log:        l.log,
		browserCtx: browserCtx,
		release:    release,
		tabs:       map[string]*tab{origin: {ctx: browserCtx}},
		current:    origin,
		origin:     origin,
	}

	l.log.Info("browser session started",
		"session_id", s.id,
		"user_agent", userAgent,
		"headless", l.config.Headless,
		"proxy", l.config.ProxyURL(),
	)
	return s, nil
}

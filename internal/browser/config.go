// Package browser drives a Chrome instance through chromedp and exposes it as a
// tab-aware session the crawler can navigate and query.
package browser

import (
	"fmt"
	"time"
)

// DefaultUserAgents are desktop browsers the session impersonates. One is
// picked at random for every session.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:123.0) Gecko/20100101 Firefox/123.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.3 Safari/605.1.15",
}

// Config holds browser session configuration.
type Config struct {
	Headless        bool
	ExecPath        string
	ProxyHost       string
	ProxyPort       int
	UserAgents      []string
	PageLoadTimeout time.Duration
	ElementTimeout  time.Duration
	DownloadDir     string
	WindowWidth     int
	WindowHeight    int
}

// DefaultConfig returns default browser configuration.
func DefaultConfig() Config {
	return Config{
		Headless:        true,
		UserAgents:      DefaultUserAgents,
		PageLoadTimeout: 30 * time.Second,
		ElementTimeout:  10 * time.Second,
		DownloadDir:     "./downloads",
		WindowWidth:     1920,
		WindowHeight:    1080,
	}
}

// ProxyURL returns the proxy server address, or "" when no proxy is set.
func (c Config) ProxyURL() string {
	if c.ProxyHost == "" || c.ProxyPort == 0 {
		return ""
	}
	return fmt.Sprintf("http://%s:%d", c.ProxyHost, c.ProxyPort)
}

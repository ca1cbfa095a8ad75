package dom

import (
	"context"
	"net/url"
	"strings"
)

// Locator is implemented by views that know the address of their document.
type Locator interface {
	CurrentURL(ctx context.Context) (string, error)
}

// BaseURL returns the address of view's document, or "" when it has none.
func BaseURL(ctx context.Context, view View) string {
	loc, ok := view.(Locator)
	if !ok {
		return ""
	}
	u, err := loc.CurrentURL(ctx)
	if err != nil {
		return ""
	}
	return u
}

// IsLink reports whether href points somewhere. Empty, fragment-only "#" and
// javascript: hrefs do not.
func IsLink(href string) bool {
	href = strings.TrimSpace(href)
	return href != "" && href != "#" && !strings.HasPrefix(strings.ToLower(href), "javascript:")
}

// ResolveURL resolves href against base. href is returned unchanged when base
// is empty or either side does not parse.
func ResolveURL(base, href string) string {
	href = strings.TrimSpace(href)
	if base == "" || href == "" {
		return href
	}
	b, err := url.Parse(base)
	if err != nil || !b.IsAbs() {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil || ref.IsAbs() {
		return href
	}
	return b.ResolveReference(ref).String()
}

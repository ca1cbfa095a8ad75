package parser

import (
	"context"
	"regexp"
	"strings"

	"github.com/alqutdigital/tender-watch/internal/announcement"
	"github.com/alqutdigital/tender-watch/internal/dom"
)

// fileURLPattern pulls a document or handler URL out of inline script attributes.
var fileURLPattern = regexp.MustCompile(`['"]([^'"]*?\.(?:jsp|do|pdf|zip|doc|docx|rar|xls|xlsx)[^'"]*?)['"]`)

var handlerAttrs = []string{"onclick", "data-url", "data-href", "url"}

// captureDownload looks for a control whose text contains one of keywords and
// returns its target URL, resolved against the view's address when it has
// one. Controls without a readable URL are clicked when the view allows it,
// yielding announcement.TriggeredDownload. Nil means no control was found.
func captureDownload(ctx context.Context, view dom.View, keywords ...string) *string {
	base := dom.BaseURL(ctx, view)
	for _, kw := range keywords {
		els, q := dom.Resolve(ctx, view, dom.TextPatterns(kw, "a", "button", "span"))
		if len(els) == 0 {
			continue
		}

		for _, el := range els {
			if u := downloadURL(ctx, el); u != "" {
				u = dom.ResolveURL(base, u)
				return &u
			}
		}

		clicker, ok := view.(dom.Clicker)
		if !ok {
			continue
		}
		for _, el := range els {
			if !clickable(ctx, q, el) {
				continue
			}
			if err := clicker.Click(ctx, el); err == nil {
				v := announcement.TriggeredDownload
				return &v
			}
			break
		}
	}
	return nil
}

// clickable rejects plain text spans that merely mention the keyword.
func clickable(ctx context.Context, q dom.Query, el dom.Element) bool {
	if !strings.HasPrefix(q.Expr, "//span[") {
		return true
	}
	_, ok, err := el.Attr(ctx, "onclick")
	return err == nil && ok
}

// downloadURL prefers a real href, then a file URL embedded in a handler
// attribute.
func downloadURL(ctx context.Context, el dom.Element) string {
	if href := dom.Attr(ctx, el, "href"); dom.IsLink(href) {
		return href
	}
	for _, attr := range handlerAttrs {
		if m := fileURLPattern.FindStringSubmatch(dom.Attr(ctx, el, attr)); m != nil {
			return m[1]
		}
	}
	return ""
}

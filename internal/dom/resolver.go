package dom

import (
	"context"
	"fmt"
	"strings"
)

// Resolve evaluates queries in order against view and returns the first
// non-empty match set together with the query that produced it. Errors from
// individual queries are treated as misses.
func Resolve(ctx context.Context, view View, queries []Query) ([]Element, Query) {
	for _, q := range queries {
		if ctx.Err() != nil {
			break
		}
		els, err := view.FindAll(ctx, q)
		if err == nil && len(els) > 0 {
			return els, q
		}
	}
	return nil, Query{}
}

// ResolveIn is Resolve scoped to the subtree of el.
func ResolveIn(ctx context.Context, el Element, queries []Query) []Element {
	for _, q := range queries {
		if ctx.Err() != nil {
			break
		}
		els, err := el.Find(ctx, q)
		if err == nil && len(els) > 0 {
			return els
		}
	}
	return nil
}

// Exists reports whether q matches anything in view.
func Exists(ctx context.Context, view View, q Query) bool {
	els, err := view.FindAll(ctx, q)
	return err == nil && len(els) > 0
}

// LabelPatterns returns the structural patterns that locate the value cell
// next to a label, most specific placement first.
func LabelPatterns(label string) []Query {
	lit := xpathLiteral(label)
	return []Query{
		ByXPath(fmt.Sprintf("//*[contains(text(),%s)]/following-sibling::*[1]", lit)),
		ByXPath(fmt.Sprintf("//*[contains(text(),%s)]/../following-sibling::*[1]", lit)),
		ByXPath(fmt.Sprintf("//td[contains(text(),%s)]/following-sibling::td[1]", lit)),
		ByXPath(fmt.Sprintf("//th[contains(text(),%s)]/following-sibling::td[1]", lit)),
		ByXPath(fmt.Sprintf("//span[contains(text(),%s)]/following-sibling::span[1]", lit)),
		ByXPath(fmt.Sprintf("//div[contains(text(),%s)]/following-sibling::div[1]", lit)),
	}
}

// LabelValue returns the trimmed text of the first non-empty value found next
// to label, or "".
func LabelValue(ctx context.Context, view View, label string) string {
	for _, q := range LabelPatterns(label) {
		els, err := view.FindAll(ctx, q)
		if err != nil {
			continue
		}
		for _, el := range els {
			if v := Text(ctx, el); v != "" {
				return v
			}
		}
	}
	return ""
}

// LabelValueAny tries each label in turn and returns the first value found.
func LabelValueAny(ctx context.Context, view View, labels ...string) string {
	for _, label := range labels {
		if v := LabelValue(ctx, view, label); v != "" {
			return v
		}
	}
	return ""
}

// TextPatterns matches elements of the given tags whose own text contains text.
func TextPatterns(text string, tags ...string) []Query {
	lit := xpathLiteral(text)
	qs := make([]Query, 0, len(tags))
	for _, tag := range tags {
		qs = append(qs, ByXPath(fmt.Sprintf("//%s[contains(text(),%s)]", tag, lit)))
	}
	return qs
}

// xpathLiteral quotes s for use inside an XPath expression.
func xpathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	return "concat('" + strings.Join(parts, `', "'", '`) + "')"
}

// Package dom holds the page abstraction the parsers work against: queries,
// views and elements, the first-match selector resolver, and the value
// extractors built on it. A live browser tab and a parsed HTML snapshot both
// satisfy View.
package dom

import (
	"context"
	"errors"
	"fmt"
)

// ErrStaleElement is returned when an element handle no longer belongs to the
// current document, typically because the page navigated.
var ErrStaleElement = errors.New("stale element reference")

// Kind selects the query language of a Query.
type Kind int

const (
	CSS Kind = iota
	XPath
)

// Query is a single selector expression.
type Query struct {
	Kind Kind
	Expr string
}

// ByCSS builds a CSS query.
func ByCSS(expr string) Query { return Query{Kind: CSS, Expr: expr} }

// ByXPath builds an XPath query.
func ByXPath(expr string) Query { return Query{Kind: XPath, Expr: expr} }

func (q Query) String() string {
	if q.Kind == XPath {
		return "xpath:" + q.Expr
	}
	return "css:" + q.Expr
}

// Element is a handle to a node of a View.
type Element interface {
	// Text returns the rendered text of the element.
	Text(ctx context.Context) (string, error)
	// Attr returns the attribute value and whether it is present.
	Attr(ctx context.Context, name string) (string, bool, error)
	// Find runs q against the element's subtree.
	Find(ctx context.Context, q Query) ([]Element, error)
}

// View is a queryable document.
type View interface {
	FindAll(ctx context.Context, q Query) ([]Element, error)
}

// Clicker is implemented by views that can interact with their elements.
type Clicker interface {
	Click(ctx context.Context, el Element) error
}

// UnsupportedQueryError reports a query kind a view cannot evaluate.
type UnsupportedQueryError struct {
	Query Query
	Scope string
}

func (e *UnsupportedQueryError) Error() string {
	return fmt.Sprintf("%s does not support %s", e.Scope, e.Query)
}

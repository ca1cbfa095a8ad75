package dom

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// Snapshot is a static View over captured page markup. CSS queries run through
// goquery and XPath queries through htmlquery against the same node tree.
type Snapshot struct {
	root *html.Node
	doc  *goquery.Document
	url  string
}

// ParseSnapshot parses markup into a Snapshot.
func ParseSnapshot(markup string) (*Snapshot, error) {
	root, err := htmlquery.Parse(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("failed to parse snapshot: %w", err)
	}
	return &Snapshot{root: root, doc: goquery.NewDocumentFromNode(root)}, nil
}

// WithURL records the address the markup was captured from, making the
// snapshot a Locator.
func (s *Snapshot) WithURL(u string) *Snapshot {
	s.url = u
	return s
}

// CurrentURL implements Locator.
func (s *Snapshot) CurrentURL(ctx context.Context) (string, error) {
	return s.url, nil
}

// HTML renders the snapshot back to markup.
func (s *Snapshot) HTML() string {
	return htmlquery.OutputHTML(s.root, true)
}

// FindAll implements View.
func (s *Snapshot) FindAll(ctx context.Context, q Query) ([]Element, error) {
	return findNodes(s.root, s.doc.Selection, q)
}

// Node is an element of a Snapshot.
type Node struct {
	n *html.Node
}

// NewNode wraps an html.Node as an Element.
func NewNode(n *html.Node) *Node { return &Node{n: n} }

// HTMLNode exposes the underlying node.
func (e *Node) HTMLNode() *html.Node { return e.n }

// Text implements Element. Whitespace runs are collapsed to single spaces.
func (e *Node) Text(ctx context.Context) (string, error) {
	text := goquery.NewDocumentFromNode(e.n).Text()
	return strings.TrimSpace(spaces.ReplaceAllString(text, " ")), nil
}

// Attr implements Element.
func (e *Node) Attr(ctx context.Context, name string) (string, bool, error) {
	for _, a := range e.n.Attr {
		if a.Key == name {
			return a.Val, true, nil
		}
	}
	return "", false, nil
}

// Find implements Element.
func (e *Node) Find(ctx context.Context, q Query) ([]Element, error) {
	return findNodes(e.n, goquery.NewDocumentFromNode(e.n).Selection, q)
}

func findNodes(root *html.Node, sel *goquery.Selection, q Query) ([]Element, error) {
	var nodes []*html.Node
	switch q.Kind {
	case CSS:
		nodes = sel.Find(q.Expr).Nodes
	case XPath:
		found, err := htmlquery.QueryAll(root, q.Expr)
		if err != nil {
			return nil, fmt.Errorf("invalid xpath %q: %w", q.Expr, err)
		}
		nodes = found
	default:
		return nil, &UnsupportedQueryError{Query: q, Scope: "snapshot"}
	}

	els := make([]Element, 0, len(nodes))
	for _, n := range nodes {
		if n.Type != html.ElementNode {
			continue
		}
		els = append(els, &Node{n: n})
	}
	return els, nil
}

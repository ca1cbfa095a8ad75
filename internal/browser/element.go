package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/runtime"

	"github.com/alqutdigital/tender-watch/internal/dom"
)

// element is a handle to a live DOM node held as a remote object. Handles
// belong to one tab and one document generation; navigation makes them stale.
type element struct {
	s   *Session
	tab string
	gen uint64
	obj runtime.RemoteObjectID
}

// staleMarkers are CDP error fragments raised for objects of a torn down
// document.
var staleMarkers = []string{
	"Could not find object with given id",
	"Cannot find context with specified id",
	"Execution context was destroyed",
	"Node is detached from document",
}

func mapStale(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	for _, m := range staleMarkers {
		if strings.Contains(msg, m) {
			return fmt.Errorf("%w: %s", dom.ErrStaleElement, msg)
		}
	}
	return err
}

func exception(exp *runtime.ExceptionDetails) error {
	if exp == nil {
		return nil
	}
	msg := exp.Text
	if exp.Exception != nil && exp.Exception.Description != "" {
		msg = exp.Exception.Description
	}
	return mapStale(errors.New(msg))
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// findScript builds an expression evaluating to an array of the elements
// under root matching q. root is itself a JS expression.
func findScript(root string, q dom.Query) string {
	if q.Kind == dom.XPath {
		return fmt.Sprintf(`(function(root){
  const r = document.evaluate(%s, root, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
  const out = [];
  for (let i = 0; i < r.snapshotLength; i++) {
    const n = r.snapshotItem(i);
    if (n.nodeType === Node.ELEMENT_NODE) out.push(n);
  }
  return out;
})(%s)`, quote(q.Expr), root)
	}
	return fmt.Sprintf(`Array.from(%s.querySelectorAll(%s))`, root, quote(q.Expr))
}

// FindAll implements dom.View against the current tab.
func (s *Session) FindAll(ctx context.Context, q dom.Query) ([]dom.Element, error) {
	id, _, err := s.currentTab()
	if err != nil {
		return nil, err
	}
	gen, _ := s.generation(id)

	var out []dom.Element
	err = s.run(ctx, s.config.ElementTimeout, func(ctx context.Context) error {
		arr, exp, err := runtime.Evaluate(findScript("document", q)).Do(ctx)
		if err != nil {
			return mapStale(err)
		}
		if err := exception(exp); err != nil {
			return err
		}
		out, err = s.unpack(ctx, id, gen, arr)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q, err)
	}
	return out, nil
}

// unpack splits a remote array into element handles and releases the array.
func (s *Session) unpack(ctx context.Context, tabID string, gen uint64, arr *runtime.RemoteObject) ([]dom.Element, error) {
	if arr == nil || arr.ObjectID == "" {
		return nil, nil
	}
	defer func() { _ = runtime.ReleaseObject(arr.ObjectID).Do(ctx) }()

	var n int
	if err := callValue(ctx, arr.ObjectID, `function(){ return this.length; }`, &n); err != nil {
		return nil, err
	}

	out := make([]dom.Element, 0, n)
	for i := range n {
		obj, exp, err := runtime.CallFunctionOn(fmt.Sprintf(`function(){ return this[%d]; }`, i)).
			WithObjectID(arr.ObjectID).
			Do(ctx)
		if err != nil {
			return nil, mapStale(err)
		}
		if err := exception(exp); err != nil {
			return nil, err
		}
		if obj == nil || obj.ObjectID == "" {
			continue
		}
		out = append(out, &element{s: s, tab: tabID, gen: gen, obj: obj.ObjectID})
	}
	return out, nil
}

func callValue(ctx context.Context, obj runtime.RemoteObjectID, fn string, v any) error {
	res, exp, err := runtime.CallFunctionOn(fn).
		WithObjectID(obj).
		WithReturnByValue(true).
		Do(ctx)
	if err != nil {
		return mapStale(err)
	}
	if err := exception(exp); err != nil {
		return err
	}
	if res == nil || len(res.Value) == 0 || v == nil {
		return nil
	}
	return json.Unmarshal([]byte(res.Value), v)
}

// call runs fn with this bound to the element, on the element's own tab.
func (e *element) call(ctx context.Context, fn string, v any) error {
	gen, ok := e.s.generation(e.tab)
	if !ok || gen != e.gen {
		return dom.ErrStaleElement
	}
	e.s.mu.Lock()
	t := e.s.tabs[e.tab]
	e.s.mu.Unlock()
	if t == nil {
		return dom.ErrStaleElement
	}
	return runOn(ctx, t.ctx, e.s.config.ElementTimeout, func(ctx context.Context) error {
		return callValue(ctx, e.obj, fn, v)
	})
}

// Text implements dom.Element.
func (e *element) Text(ctx context.Context) (string, error) {
	var text string
	err := e.call(ctx, `function(){ return (this.innerText || this.textContent || '').trim(); }`, &text)
	return text, err
}

// Attr implements dom.Element.
func (e *element) Attr(ctx context.Context, name string) (string, bool, error) {
	var v *string
	fn := fmt.Sprintf(`function(){ return this.hasAttribute(%[1]s) ? this.getAttribute(%[1]s) : null; }`, quote(name))
	if err := e.call(ctx, fn, &v); err != nil {
		return "", false, err
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}

// Find implements dom.Element.
func (e *element) Find(ctx context.Context, q dom.Query) ([]dom.Element, error) {
	gen, ok := e.s.generation(e.tab)
	if !ok || gen != e.gen {
		return nil, dom.ErrStaleElement
	}
	e.s.mu.Lock()
	t := e.s.tabs[e.tab]
	e.s.mu.Unlock()
	if t == nil {
		return nil, dom.ErrStaleElement
	}

	var out []dom.Element
	err := runOn(ctx, t.ctx, e.s.config.ElementTimeout, func(ctx context.Context) error {
		arr, exp, err := runtime.CallFunctionOn(`function(){ return ` + findScript("this", q) + `; }`).
			WithObjectID(e.obj).
			Do(ctx)
		if err != nil {
			return mapStale(err)
		}
		if err := exception(exp); err != nil {
			return err
		}
		out, err = e.s.unpack(ctx, e.tab, e.gen, arr)
		return err
	})
	return out, err
}

func (s *Session) own(el dom.Element) (*element, error) {
	e, ok := el.(*element)
	if !ok || e.s != s {
		return nil, fmt.Errorf("element %T does not belong to session %s", el, s.id)
	}
	return e, nil
}

// ErrClickIntercepted is returned by Click when another node covers the
// element's centre.
var ErrClickIntercepted = errors.New("click intercepted by another element")

type point struct {
	X   float64 `json:"x"`
	Y   float64 `json:"y"`
	Hit bool    `json:"hit"`
}

const centreScript = `function(){
  const r = this.getBoundingClientRect();
  const x = r.left + r.width / 2, y = r.top + r.height / 2;
  const top = document.elementFromPoint(x, y);
  return {x: x, y: y, hit: r.width > 0 && r.height > 0 && !!top && (top === this || this.contains(top))};
}`

// Click dispatches a real mouse click at the element's centre. It implements
// dom.Clicker.
func (s *Session) Click(ctx context.Context, el dom.Element) error {
	e, err := s.own(el)
	if err != nil {
		return err
	}
	var p point
	if err := e.call(ctx, centreScript, &p); err != nil {
		return err
	}
	if !p.Hit {
		return ErrClickIntercepted
	}
	return s.run(ctx, s.config.ElementTimeout, func(ctx context.Context) error {
		if err := input.DispatchMouseEvent(input.MousePressed, p.X, p.Y).
			WithButton(input.Left).WithClickCount(1).Do(ctx); err != nil {
			return err
		}
		return input.DispatchMouseEvent(input.MouseReleased, p.X, p.Y).
			WithButton(input.Left).WithClickCount(1).Do(ctx)
	})
}

// ScriptClick invokes the element's click() from script, which bypasses
// overlays.
func (s *Session) ScriptClick(ctx context.Context, el dom.Element) error {
	e, err := s.own(el)
	if err != nil {
		return err
	}
	return e.call(ctx, `function(){ this.click(); }`, nil)
}

// ScrollIntoView centres the element in the viewport.
func (s *Session) ScrollIntoView(ctx context.Context, el dom.Element) error {
	e, err := s.own(el)
	if err != nil {
		return err
	}
	return e.call(ctx, `function(){ this.scrollIntoView({block: 'center'}); }`, nil)
}

// Snapshot captures the current document as a static view.
func (s *Session) Snapshot(ctx context.Context) (*dom.Snapshot, error) {
	markup, err := s.HTML(ctx)
	if err != nil {
		return nil, err
	}
	return dom.ParseSnapshot(markup)
}

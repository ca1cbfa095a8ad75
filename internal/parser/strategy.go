// Package parser turns portal list rows and detail pages into announcement
// records, one Strategy per announcement category.
package parser

import (
	"context"
	"strconv"
	"time"

	"github.com/alqutdigital/tender-watch/internal/announcement"
	"github.com/alqutdigital/tender-watch/internal/dom"
)

// Strategy extracts records for a single announcement category.
type Strategy interface {
	// Category is the announcement category this strategy handles.
	Category() announcement.Category
	// TabLocator finds the tab that switches the list to this category.
	TabLocator() []dom.Query
	// ListRowQueries finds the rows of the announcement list.
	ListRowQueries() []dom.Query
	// ParseListRow builds a partial record from a list row, or nil when the row
	// carries nothing usable.
	ParseListRow(ctx context.Context, row dom.Element) *announcement.Record
	// ParseDetail completes partial from a detail page. It never returns nil.
	ParseDetail(ctx context.Context, view dom.View, partial *announcement.Record) *announcement.Record
	// DetailURLHint returns the detail URL if the row exposes it, else "".
	DetailURLHint(ctx context.Context, row dom.Element) string
}

// listRowQueries covers the element-ui table the portal renders today and
// the looser layouts it has used before.
var listRowQueries = []dom.Query{
	dom.ByCSS(".el-table__body tbody tr"),
	dom.ByCSS("table tbody tr"),
	dom.ByCSS(".list-item"),
	dom.ByCSS(".data-row"),
	dom.ByCSS("[class*='row']"),
}

var cellQueries = []dom.Query{
	dom.ByCSS("td"),
	dom.ByCSS(".cell, .el-table__cell, [class*='col']"),
}

// ListReadyQueries signal that the announcement list has rendered.
func ListReadyQueries() []dom.Query {
	qs := make([]dom.Query, 0, len(listRowQueries)+1)
	qs = append(qs, listRowQueries...)
	return append(qs, dom.ByCSS("[class*='list']"))
}

// base carries the behaviour shared by all categories.
type base struct {
	category announcement.Category
}

func (b base) Category() announcement.Category { return b.category }

func (b base) ListRowQueries() []dom.Query { return listRowQueries }

// TabLocator matches the tab by its label text, then by its position.
func (b base) TabLocator() []dom.Query {
	qs := dom.TextPatterns(b.category.Label(), "div", "span", "a", "li")
	return append(qs,
		dom.ByCSS(".el-tabs__item:nth-child("+strconv.Itoa(b.category.TabIndex())+")"),
	)
}

// parseColumns reads the name | code | status | publish time layout. Rows with
// fewer cells degrade to capturing the first cell as the name.
func (b base) parseColumns(ctx context.Context, row dom.Element) *announcement.Record {
	cells := dom.ResolveIn(ctx, row, cellQueries)

	rec := &announcement.Record{Category: b.category}
	switch {
	case len(cells) >= 4:
		rec.ProjectName = dom.Text(ctx, cells[0])
		rec.ProjectCode = dom.Text(ctx, cells[1])
		rec.Status = announcement.Str(dom.Text(ctx, cells[2]))
		rec.PublishTime = dom.ParseDateTime(dom.Text(ctx, cells[3]))
	case len(cells) > 0:
		rec.ProjectName = dom.Text(ctx, cells[0])
	default:
		rec.ProjectName = dom.Text(ctx, row)
	}

	if rec.ProjectName == "" && rec.ProjectCode == "" {
		return nil
	}
	return rec
}

// anchorHref returns the href of the row's first link as written, possibly
// relative. The crawler resolves it against the list address.
func anchorHref(ctx context.Context, row dom.Element) string {
	links, err := row.Find(ctx, dom.ByCSS("a[href]"))
	if err != nil || len(links) == 0 {
		return ""
	}
	href := dom.Attr(ctx, links[0], "href")
	if !dom.IsLink(href) {
		return ""
	}
	return href
}

// parseChangeSection fills the change-announcement text when the page has one.
func parseChangeSection(ctx context.Context, view dom.View, rec *announcement.Record) {
	if !dom.Exists(ctx, view, dom.ByXPath("//*[contains(text(),'变更公告')]")) {
		return
	}
	if v := announcement.Str(dom.LabelValue(ctx, view, "变更公告内容")); v != nil {
		rec.ChangeContent = v
	}
}

// parseContacts reads the contact block common to every detail page.
func parseContacts(ctx context.Context, view dom.View, rec *announcement.Record) {
	setText(&rec.Tenderer, dom.LabelValue(ctx, view, "招标人"))
	setText(&rec.ContactPerson, dom.LabelValue(ctx, view, "联系人"))
	setText(&rec.ContactPhone, dom.LabelValue(ctx, view, "联系电话"))
	setText(&rec.Email, dom.LabelValue(ctx, view, "电子邮箱"))
}

// setText stores v in dst when v is not blank.
func setText(dst **string, v string) {
	if p := announcement.Str(v); p != nil {
		*dst = p
	}
}

// setTime stores the parsed timestamp in dst when v parses.
func setTime(dst **time.Time, v string) {
	if t := dom.ParseDateTime(v); t != nil {
		*dst = t
	}
}

// fillCode sets the project code from the detail page when the list row lacked it.
func fillCode(ctx context.Context, view dom.View, rec *announcement.Record) {
	if rec.HasCode() {
		return
	}
	rec.ProjectCode = dom.LabelValue(ctx, view, "采购项目编号")
}

// fillStatus overwrites the status only with a non-empty detail value.
func fillStatus(ctx context.Context, view dom.View, rec *announcement.Record) {
	setText(&rec.Status, dom.LabelValue(ctx, view, "采购项目状态"))
}

// start copies partial so ParseDetail never mutates its argument.
func start(category announcement.Category, partial *announcement.Record) *announcement.Record {
	if partial == nil {
		return &announcement.Record{Category: category}
	}
	return partial.Clone()
}

package parser

import (
	"context"

	"github.com/alqutdigital/tender-watch/internal/announcement"
	"github.com/alqutdigital/tender-watch/internal/dom"
)

type prequalification struct{ base }

// NewPrequalification handles 资格预审公告. Its rows link straight to the detail page.
func NewPrequalification() Strategy {
	return prequalification{base{category: announcement.Prequalification}}
}

func (p prequalification) ParseListRow(ctx context.Context, row dom.Element) *announcement.Record {
	rec := p.parseColumns(ctx, row)
	if rec != nil {
		setText(&rec.DetailURL, anchorHref(ctx, row))
	}
	return rec
}

func (p prequalification) DetailURLHint(ctx context.Context, row dom.Element) string {
	return anchorHref(ctx, row)
}

func (p prequalification) ParseDetail(ctx context.Context, view dom.View, partial *announcement.Record) *announcement.Record {
	rec := start(p.category, partial)

	setText(&rec.ProcurementName, dom.LabelValue(ctx, view, "采购项目名称"))
	fillCode(ctx, view, rec)
	fillStatus(ctx, view, rec)
	setTime(&rec.FileDeadline, dom.LabelValueAny(ctx, view, "资格预审文件获取截止时间", "招标文件获取截止时间"))
	setTime(&rec.BidOpenTime, dom.LabelValueAny(ctx, view, "资格预审截止时间", "开标时间"))
	parseContacts(ctx, view, rec)

	setDownload(&rec.FileDownload, captureDownload(ctx, view, "下载公告文件", "公告下载", "下载资格预审文件"))
	parseChangeSection(ctx, view, rec)
	return rec
}

// setDownload keeps the existing value when nothing was captured.
func setDownload(dst **string, v *string) {
	if v != nil {
		*dst = v
	}
}

package parser

import (
	"context"

	"github.com/alqutdigital/tender-watch/internal/announcement"
	"github.com/alqutdigital/tender-watch/internal/dom"
)

type resultAnnouncement struct{ base }

// NewResultAnnouncement handles 中标（成交）结果公告.
func NewResultAnnouncement() Strategy {
	return resultAnnouncement{base{category: announcement.ResultAnnouncement}}
}

func (r resultAnnouncement) ParseListRow(ctx context.Context, row dom.Element) *announcement.Record {
	return r.parseColumns(ctx, row)
}

func (r resultAnnouncement) DetailURLHint(ctx context.Context, row dom.Element) string {
	return anchorHref(ctx, row)
}

func (r resultAnnouncement) ParseDetail(ctx context.Context, view dom.View, partial *announcement.Record) *announcement.Record {
	rec := start(r.category, partial)

	fillCode(ctx, view, rec)
	fillStatus(ctx, view, rec)
	setTime(&rec.BidOpenTime, dom.LabelValue(ctx, view, "开标时间"))
	parseContacts(ctx, view, rec)
	setText(&rec.Introduction, dom.LabelValueAny(ctx, view, "中标结果", "成交结果"))

	setDownload(&rec.FileDownload, captureDownload(ctx, view, "结果公告文件", "下载公告文件"))
	parseChangeSection(ctx, view, rec)
	return rec
}

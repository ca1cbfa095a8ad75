package parser

import (
	"context"

	"github.com/alqutdigital/tender-watch/internal/announcement"
	"github.com/alqutdigital/tender-watch/internal/dom"
)

type procurement struct{ base }

// NewProcurement handles 采购公告, which uses procurement wording for the
// labels the bidding page calls 招标.
func NewProcurement() Strategy {
	return procurement{base{category: announcement.Procurement}}
}

func (p procurement) ParseListRow(ctx context.Context, row dom.Element) *announcement.Record {
	return p.parseColumns(ctx, row)
}

func (p procurement) DetailURLHint(ctx context.Context, row dom.Element) string {
	return anchorHref(ctx, row)
}

func (p procurement) ParseDetail(ctx context.Context, view dom.View, partial *announcement.Record) *announcement.Record {
	rec := start(p.category, partial)

	setText(&rec.ProcurementName, dom.LabelValue(ctx, view, "采购项目名称"))
	fillCode(ctx, view, rec)
	fillStatus(ctx, view, rec)
	setText(&rec.ProcurementType, dom.LabelValueAny(ctx, view, "采购方式", "采购类型"))
	setTime(&rec.FileDeadline, dom.LabelValueAny(ctx, view, "采购文件获取截止时间", "招标文件获取截止时间"))
	setTime(&rec.BidOpenTime, dom.LabelValueAny(ctx, view, "响应文件提交截止时间", "开标时间"))
	setText(&rec.BidOpenLocation, dom.LabelValueAny(ctx, view, "响应文件提交地点", "开标地点"))

	parseContacts(ctx, view, rec)
	setText(&rec.Fax, dom.LabelValue(ctx, view, "传真"))
	setText(&rec.Introduction, dom.LabelValueAny(ctx, view, "项目介绍", "采购内容"))

	setDownload(&rec.FileDownload, captureDownload(ctx, view, "下载公告文件", "公告下载"))
	setDownload(&rec.BiddingFileDownload, captureDownload(ctx, view, "获取采购文件", "下载采购文件"))

	parseChangeSection(ctx, view, rec)
	return rec
}

package parser

import (
	"context"

	"github.com/alqutdigital/tender-watch/internal/announcement"
	"github.com/alqutdigital/tender-watch/internal/dom"
)

type bidding struct{ base }

// NewBidding handles 招标公告及投标邀请书. Rows open the detail page through a
// script handler, so the URL is only known after the click.
func NewBidding() Strategy {
	return bidding{base{category: announcement.BiddingAnnouncement}}
}

func (b bidding) ParseListRow(ctx context.Context, row dom.Element) *announcement.Record {
	return b.parseColumns(ctx, row)
}

func (b bidding) DetailURLHint(ctx context.Context, row dom.Element) string {
	return ""
}

func (b bidding) ParseDetail(ctx context.Context, view dom.View, partial *announcement.Record) *announcement.Record {
	rec := start(b.category, partial)

	setText(&rec.ProcurementName, dom.LabelValue(ctx, view, "采购项目名称"))
	fillCode(ctx, view, rec)
	fillStatus(ctx, view, rec)
	setText(&rec.ProcurementType, dom.LabelValue(ctx, view, "采购类型"))
	setTime(&rec.FileDeadline, dom.LabelValue(ctx, view, "招标文件获取截止时间"))
	setTime(&rec.BidOpenTime, dom.LabelValueAny(ctx, view, "开标（截标）时间", "开标时间"))
	setText(&rec.BidOpenLocation, dom.LabelValue(ctx, view, "开标地点"))

	parseContacts(ctx, view, rec)
	setText(&rec.BackupContact, dom.LabelValue(ctx, view, "备用联系人"))
	setText(&rec.BackupPhone, dom.LabelValue(ctx, view, "备用联系电话"))
	setText(&rec.Fax, dom.LabelValue(ctx, view, "传真"))
	setText(&rec.Introduction, dom.LabelValue(ctx, view, "项目介绍"))

	setDownload(&rec.FileDownload, captureDownload(ctx, view, "下载公告文件", "公告下载", "下载公告"))
	setDownload(&rec.BiddingFileDownload, captureDownload(ctx, view, "获取招标文件", "下载招标文件", "招标文件"))

	parseChangeSection(ctx, view, rec)
	if rec.ChangeContent != nil {
		setDownload(&rec.ChangeFileDownload, captureDownload(ctx, view, "下载变更公告文件", "下载变更公告", "变更公告文件"))
	}
	return rec
}

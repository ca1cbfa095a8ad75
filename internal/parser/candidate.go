package parser

import (
	"context"

	"github.com/alqutdigital/tender-watch/internal/announcement"
	"github.com/alqutdigital/tender-watch/internal/dom"
)

type candidatePublicity struct{ base }

// NewCandidatePublicity handles 推荐中标候选人公示. The publicity text is kept as
// the introduction.
func NewCandidatePublicity() Strategy {
	return candidatePublicity{base{category: announcement.CandidatePublicity}}
}

func (c candidatePublicity) ParseListRow(ctx context.Context, row dom.Element) *announcement.Record {
	return c.parseColumns(ctx, row)
}

func (c candidatePublicity) DetailURLHint(ctx context.Context, row dom.Element) string {
	return anchorHref(ctx, row)
}

func (c candidatePublicity) ParseDetail(ctx context.Context, view dom.View, partial *announcement.Record) *announcement.Record {
	rec := start(c.category, partial)

	fillCode(ctx, view, rec)
	fillStatus(ctx, view, rec)
	setTime(&rec.BidOpenTime, dom.LabelValue(ctx, view, "开标时间"))
	parseContacts(ctx, view, rec)
	setText(&rec.Introduction, dom.LabelValueAny(ctx, view, "公示内容", "推荐中标候选人"))

	setDownload(&rec.FileDownload, captureDownload(ctx, view, "公示文件", "下载公告文件"))
	parseChangeSection(ctx, view, rec)
	return rec
}

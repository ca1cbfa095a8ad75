package notify

import (
	"fmt"
	"strings"

	"github.com/alqutdigital/tender-watch/internal/announcement"
)

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func line(b *strings.Builder, label, value string) {
	fmt.Fprintf(b, "**%s**: %s\n\n", label, orDash(value))
}

func typeName(c announcement.Category) string {
	if label := c.Label(); label != "" {
		return label
	}
	return string(c)
}

// NewMessage renders the notification of a newly seen record.
func NewMessage(rec *announcement.Record) (title, body string) {
	var b strings.Builder
	name := typeName(rec.Category)

	b.WriteString("### 新招标公告\n\n")
	line(&b, "公告类型", name)
	line(&b, "项目名称", rec.ProjectName)
	line(&b, "项目编号", rec.ProjectCode)
	line(&b, "项目状态", announcement.Value(rec.Status))
	if rec.BidOpenTime != nil {
		line(&b, "开标时间", announcement.FormatTime(rec.BidOpenTime))
	}
	if rec.FileDeadline != nil {
		line(&b, "文件截止", announcement.FormatTime(rec.FileDeadline))
	}
	if rec.DetailURL != nil {
		fmt.Fprintf(&b, "[查看详情](%s)", *rec.DetailURL)
	}
	return "新公告: " + name, b.String()
}

// UpdateMessage renders the notification of a record whose tracked fields
// changed.
func UpdateMessage(rec *announcement.Record, changes []announcement.Change) (title, body string) {
	var b strings.Builder
	name := typeName(rec.Category)

	labels := make([]string, len(changes))
	for i, c := range changes {
		labels[i] = c.Label
	}

	b.WriteString("### 招标公告变更\n\n")
	line(&b, "公告类型", name)
	line(&b, "项目名称", rec.ProjectName)
	line(&b, "项目编号", rec.ProjectCode)
	line(&b, "变更内容", strings.Join(labels, "、"))
	for _, c := range changes {
		fmt.Fprintf(&b, "- %s: %s → %s\n", c.Label, orDash(c.Old), orDash(c.New))
	}
	if len(changes) > 0 {
		b.WriteString("\n")
	}
	if rec.BidOpenTime != nil {
		line(&b, "开标时间", announcement.FormatTime(rec.BidOpenTime))
	}
	if rec.DetailURL != nil {
		fmt.Fprintf(&b, "[查看详情](%s)", *rec.DetailURL)
	}
	return "公告变更: " + name, b.String()
}

// TestMessage is sent by the notify-test command.
func TestMessage() (title, body string) {
	return "测试消息", "### 测试消息\n\n公告监控通知通道工作正常"
}

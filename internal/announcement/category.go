// Package announcement defines the procurement announcement model shared by the
// crawler, the change detector and the storage layer.
package announcement

import (
	"fmt"
	"strings"
)

// Category is one of the announcement tabs published by the portal.
type Category string

const (
	Prequalification    Category = "PREQUALIFICATION"
	BiddingAnnouncement Category = "BIDDING_ANNOUNCEMENT"
	Procurement         Category = "PROCUREMENT"
	CandidatePublicity  Category = "CANDIDATE_PUBLICITY"
	ResultAnnouncement  Category = "RESULT_ANNOUNCEMENT"
)

type categoryInfo struct {
	label string
	key   string
	tab   int
}

var categories = map[Category]categoryInfo{
	Prequalification:    {label: "资格预审公告", key: "zgysgg", tab: 1},
	BiddingAnnouncement: {label: "招标公告及投标邀请书", key: "zbgg", tab: 2},
	Procurement:         {label: "采购公告", key: "cggg", tab: 3},
	CandidatePublicity:  {label: "推荐中标候选人公示", key: "tjzbhxrgs", tab: 4},
	ResultAnnouncement:  {label: "中标（成交）结果公告", key: "zbjggg", tab: 5},
}

// All returns every category in tab order.
func All() []Category {
	return []Category{
		Prequalification,
		BiddingAnnouncement,
		Procurement,
		CandidatePublicity,
		ResultAnnouncement,
	}
}

// Label is the text shown on the portal tab.
func (c Category) Label() string { return categories[c].label }

// Key is the short key used in portal URLs.
func (c Category) Key() string { return categories[c].key }

// TabIndex is the 1-based position of the category tab.
func (c Category) TabIndex() int { return categories[c].tab }

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	_, ok := categories[c]
	return ok
}

func (c Category) String() string { return string(c) }

// ParseCategory accepts a category code or URL key, case-insensitively.
func ParseCategory(s string) (Category, error) {
	s = strings.TrimSpace(s)
	for _, c := range All() {
		if strings.EqualFold(s, string(c)) || strings.EqualFold(s, c.Key()) {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown announcement category %q", s)
}

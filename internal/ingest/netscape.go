package ingest

import (
	"bytes"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/dshills/bookmarks-mcp/pkg/types"
)

// parseNetscape reads the Netscape bookmark file format exported by
// browsers and Delicious: <DT><A HREF ADD_DATE TAGS>title</A> followed by
// an optional <DD> description. Folders are ignored.
//
// Entries without HREF are kept with an empty URL so the import reports
// them as failed instead of dropping them silently.
func parseNetscape(data []byte) ([]types.BookmarkInput, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	list := []types.BookmarkInput{}
	var current *types.BookmarkInput
	doc.Find("dt a, dd").Each(func(_ int, s *goquery.Selection) {
		switch goquery.NodeName(s) {
		case "a":
			if current != nil {
				list = append(list, *current)
			}
			href, _ := s.Attr("href")
			current = &types.BookmarkInput{
				URL:       strings.TrimSpace(href),
				Title:     strings.TrimSpace(s.Text()),
				Tags:      splitAttrTags(s),
				CreatedAt: addDate(s),
			}
		case "dd":
			if current != nil {
				current.Summary = strings.TrimSpace(s.Text())
				list = append(list, *current)
				current = nil
			}
		}
	})
	if current != nil {
		list = append(list, *current)
	}
	return list, nil
}

func splitAttrTags(s *goquery.Selection) []string {
	raw, ok := s.Attr("tags")
	if !ok || strings.TrimSpace(raw) == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

// addDate reads ADD_DATE as unix seconds; missing or malformed means now
func addDate(s *goquery.Selection) time.Time {
	raw, ok := s.Attr("add_date")
	if !ok {
		return time.Time{}
	}
	secs, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || secs <= 0 {
		return time.Time{}
	}
	return time.Unix(secs, 0).UTC()
}

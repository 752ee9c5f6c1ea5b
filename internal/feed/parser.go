package feed

import (
	"bytes"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed/atom"
	"github.com/mmcdole/gofeed/json"
	"github.com/mmcdole/gofeed/rss"

	"github.com/hitoshi/feedsync/internal/model"
)

// Parse は判別済みの形式タグに応じたアダプタでボディをパースし、
// 正規モデルの(Feed, []ParsedItem)へ変換する。
// requestURLには実際にフェッチしたURL（リダイレクト後）を渡す。
// 形式ごとの特例ルール:
//   - RSS2: ドキュメント内の自己参照リンクは信頼できないため、
//     フィードURLは常にリクエストURLで上書きする
//   - Atom/RSS1: ドキュメントが提供しなかった場合のみフィードURLを
//     リクエストURLで補完し、siteUrlはscheme://hostから導出する
//   - JSONFeed: home_page_url/feed_urlを信頼し上書きしない
func Parse(format Format, body []byte, requestURL string) (*model.Feed, []model.ParsedItem, error) {
	var (
		feed  *model.Feed
		items []model.ParsedItem
		err   error
	)

	switch format {
	case FormatRSS1, FormatRSS2:
		feed, items, err = parseRSS(body, requestURL)
	case FormatAtom:
		feed, items, err = parseAtom(body, requestURL)
	case FormatJSONFeed:
		feed, items, err = parseJSONFeed(body, requestURL)
	default:
		return nil, nil, &model.UnknownFormatError{URL: requestURL}
	}
	if err != nil {
		return nil, nil, &model.ParseError{URL: requestURL, Err: err}
	}

	applySpecialCases(feed, format, requestURL)

	return feed, items, nil
}

// parseRSS はRSS 0.9x/1.0/2.0ドキュメントをパースする。
// gofeedのrssパーサーはRDFルートのRSS1系も扱う。
func parseRSS(body []byte, requestURL string) (*model.Feed, []model.ParsedItem, error) {
	parsed, err := (&rss.Parser{}).Parse(bytes.NewReader(body))
	if err != nil {
		return nil, nil, err
	}

	feed := &model.Feed{
		Name:    parsed.Title,
		SiteURL: parsed.Link,
	}
	if parsed.Image != nil {
		feed.IconURL = parsed.Image.URL
	}

	items := make([]model.ParsedItem, 0, len(parsed.Items))
	for _, it := range parsed.Items {
		if it == nil {
			continue
		}

		item := model.ParsedItem{
			Title:   it.Title,
			Link:    it.Link,
			Author:  it.Author,
			Content: it.Content,
		}
		if item.Content == "" {
			item.Content = it.Description
		}
		if it.GUID != nil {
			item.RemoteID = it.GUID.Value
		}
		// RSS1系はauthor要素を持たないことが多く、dc:creatorを代用する
		if item.Author == "" && it.DublinCoreExt != nil && len(it.DublinCoreExt.Creator) > 0 {
			item.Author = it.DublinCoreExt.Creator[0]
		}
		if it.PubDateParsed != nil {
			t := *it.PubDateParsed
			item.PubDate = &t
		}
		if it.Enclosure != nil && strings.HasPrefix(it.Enclosure.Type, "image/") {
			item.ImageURL = it.Enclosure.URL
		}

		items = append(items, item)
	}

	return feed, items, nil
}

// parseAtom はAtom 1.0ドキュメントをパースする。
func parseAtom(body []byte, requestURL string) (*model.Feed, []model.ParsedItem, error) {
	parsed, err := (&atom.Parser{}).Parse(bytes.NewReader(body))
	if err != nil {
		return nil, nil, err
	}

	feed := &model.Feed{
		Name:    parsed.Title,
		IconURL: parsed.Icon,
	}
	for _, link := range parsed.Links {
		if link == nil {
			continue
		}
		switch link.Rel {
		case "self":
			feed.URL = link.Href
		case "", "alternate":
			if feed.SiteURL == "" {
				feed.SiteURL = link.Href
			}
		}
	}

	items := make([]model.ParsedItem, 0, len(parsed.Entries))
	for _, entry := range parsed.Entries {
		if entry == nil {
			continue
		}

		item := model.ParsedItem{
			RemoteID: entry.ID,
			Title:    entry.Title,
		}
		for _, link := range entry.Links {
			if link == nil {
				continue
			}
			switch link.Rel {
			case "", "alternate":
				if item.Link == "" {
					item.Link = link.Href
				}
			case "enclosure":
				if strings.HasPrefix(link.Type, "image/") && item.ImageURL == "" {
					item.ImageURL = link.Href
				}
			}
		}
		if len(entry.Authors) > 0 && entry.Authors[0] != nil {
			item.Author = entry.Authors[0].Name
		}
		if entry.Content != nil {
			item.Content = entry.Content.Value
		}
		if item.Content == "" {
			item.Content = entry.Summary
		}
		if entry.PublishedParsed != nil {
			t := *entry.PublishedParsed
			item.PubDate = &t
		} else if entry.UpdatedParsed != nil {
			t := *entry.UpdatedParsed
			item.PubDate = &t
		}

		items = append(items, item)
	}

	return feed, items, nil
}

// parseJSONFeed はJSON Feedドキュメントをパースする。
func parseJSONFeed(body []byte, requestURL string) (*model.Feed, []model.ParsedItem, error) {
	parsed, err := (&json.Parser{}).Parse(bytes.NewReader(body))
	if err != nil {
		return nil, nil, err
	}

	feed := &model.Feed{
		Name:    parsed.Title,
		URL:     parsed.FeedURL,
		SiteURL: parsed.HomePageURL,
		IconURL: parsed.Icon,
	}
	if feed.IconURL == "" {
		feed.IconURL = parsed.Favicon
	}

	items := make([]model.ParsedItem, 0, len(parsed.Items))
	for _, it := range parsed.Items {
		if it == nil {
			continue
		}

		item := model.ParsedItem{
			RemoteID: it.ID,
			Title:    it.Title,
			Link:     it.URL,
			Content:  it.ContentHTML,
			ImageURL: it.Image,
		}
		if item.Content == "" {
			item.Content = it.ContentText
		}
		if item.Content == "" {
			item.Content = it.Summary
		}
		if it.Author != nil {
			item.Author = it.Author.Name
		}
		if it.DatePublished != "" {
			if t, perr := time.Parse(time.RFC3339, it.DatePublished); perr == nil {
				item.PubDate = &t
			}
		}

		items = append(items, item)
	}

	return feed, items, nil
}

// applySpecialCases はソースドキュメントの信頼できない箇所を
// リクエストURLから補正する。
func applySpecialCases(feed *model.Feed, format Format, requestURL string) {
	switch format {
	case FormatRSS2:
		// RSS2のatom:link自己参照は誤っていることが多く、常に上書きする
		feed.URL = requestURL
	case FormatRSS1, FormatAtom:
		if feed.URL == "" {
			feed.URL = requestURL
		}
		if feed.SiteURL == "" {
			feed.SiteURL = schemeAndHost(requestURL)
		}
	case FormatJSONFeed:
		// feed_url/home_page_urlは信頼する。ただしURL非空の不変条件は守る
		if feed.URL == "" {
			feed.URL = requestURL
		}
	}
}

// schemeAndHost はURLのscheme://host部分を返す。
func schemeAndHost(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

package feed

import (
	"testing"
	"time"
)

const rss2Doc = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
	<title>テストブログ</title>
	<link>https://blog.example.com</link>
	<item>
		<guid>post-1</guid>
		<title>最初の記事</title>
		<link>https://blog.example.com/1</link>
		<description>概要テキスト</description>
		<pubDate>Mon, 02 Jan 2006 15:04:05 GMT</pubDate>
	</item>
	<item>
		<title>GUIDなしの記事</title>
		<link>https://blog.example.com/2</link>
	</item>
</channel>
</rss>`

const atomDoc = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
	<title>Atomテスト</title>
	<link rel="self" href="https://example.com/declared-feed.xml"/>
	<link rel="alternate" href="https://example.com/"/>
	<entry>
		<id>urn:uuid:entry-1</id>
		<title>エントリ1</title>
		<link rel="alternate" href="https://example.com/entry1"/>
		<author><name>著者A</name></author>
		<content type="html">&lt;p&gt;本文&lt;/p&gt;</content>
		<published>2006-01-02T15:04:05Z</published>
		<updated>2006-01-03T00:00:00Z</updated>
	</entry>
</feed>`

const atomDocNoSelf = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
	<title>selfリンクなし</title>
	<entry>
		<id>e1</id>
		<title>エントリ</title>
	</entry>
</feed>`

const jsonFeedDoc = `{
	"version": "https://jsonfeed.org/version/1.1",
	"title": "JSONフィード",
	"home_page_url": "https://json.example.com/",
	"feed_url": "https://json.example.com/feed.json",
	"items": [
		{
			"id": "jf-1",
			"url": "https://json.example.com/1",
			"title": "記事1",
			"content_html": "<p>本文</p>",
			"date_published": "2006-01-02T15:04:05Z"
		}
	]
}`

const rss1Doc = `<?xml version="1.0" encoding="UTF-8"?>
<rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#"
	xmlns="http://purl.org/rss/1.0/"
	xmlns:dc="http://purl.org/dc/elements/1.1/">
	<channel rdf:about="https://rdf.example.com/rss">
		<title>RDFチャンネル</title>
		<link>https://rdf.example.com/</link>
	</channel>
	<item rdf:about="https://rdf.example.com/item1">
		<title>RDF記事</title>
		<link>https://rdf.example.com/item1</link>
		<dc:creator>著者B</dc:creator>
	</item>
</rdf:RDF>`

// TestParse_RSS2OverwritesFeedURL はRSS2のフィードURLが常に
// リクエストURLで上書きされることをテストする。
func TestParse_RSS2OverwritesFeedURL(t *testing.T) {
	requestURL := "https://cdn.example.com/actual-feed.xml"
	feed, items, err := Parse(FormatRSS2, []byte(rss2Doc), requestURL)
	if err != nil {
		t.Fatalf("パースエラー: %v", err)
	}

	if feed.URL != requestURL {
		t.Errorf("期待URL: %s, 結果: %s", requestURL, feed.URL)
	}
	if feed.Name != "テストブログ" {
		t.Errorf("期待タイトル: テストブログ, 結果: %s", feed.Name)
	}
	if feed.SiteURL != "https://blog.example.com" {
		t.Errorf("期待サイトURL: https://blog.example.com, 結果: %s", feed.SiteURL)
	}
	if len(items) != 2 {
		t.Fatalf("期待: 2記事, 結果: %d記事", len(items))
	}
	if items[0].RemoteID != "post-1" {
		t.Errorf("期待RemoteID: post-1, 結果: %s", items[0].RemoteID)
	}
	if items[0].Content != "概要テキスト" {
		t.Errorf("descriptionがContentへフォールバックされるべき: %s", items[0].Content)
	}
	want := time.Date(2006, 1, 2, 15, 4, 5, 0, time.UTC)
	if items[0].PubDate == nil || !items[0].PubDate.Equal(want) {
		t.Errorf("期待pubDate: %v, 結果: %v", want, items[0].PubDate)
	}
}

// TestParse_AtomKeepsDeclaredSelfLink はAtomがself宣言を持つ場合に
// そのURLを維持することをテストする。
func TestParse_AtomKeepsDeclaredSelfLink(t *testing.T) {
	feed, items, err := Parse(FormatAtom, []byte(atomDoc), "https://mirror.example.org/feed")
	if err != nil {
		t.Fatalf("パースエラー: %v", err)
	}

	if feed.URL != "https://example.com/declared-feed.xml" {
		t.Errorf("selfリンクは維持されるべき, 結果: %s", feed.URL)
	}
	if feed.SiteURL != "https://example.com/" {
		t.Errorf("期待サイトURL: https://example.com/, 結果: %s", feed.SiteURL)
	}
	if len(items) != 1 {
		t.Fatalf("期待: 1記事, 結果: %d記事", len(items))
	}
	if items[0].RemoteID != "urn:uuid:entry-1" {
		t.Errorf("期待RemoteID: urn:uuid:entry-1, 結果: %s", items[0].RemoteID)
	}
	if items[0].Author != "著者A" {
		t.Errorf("期待著者: 著者A, 結果: %s", items[0].Author)
	}
	// publishedがupdatedより優先される
	want := time.Date(2006, 1, 2, 15, 4, 5, 0, time.UTC)
	if items[0].PubDate == nil || !items[0].PubDate.Equal(want) {
		t.Errorf("期待pubDate: %v, 結果: %v", want, items[0].PubDate)
	}
}

// TestParse_AtomFallsBackToRequestURL はAtomがURLを宣言しない場合に
// リクエストURLとscheme://hostで補完されることをテストする。
func TestParse_AtomFallsBackToRequestURL(t *testing.T) {
	requestURL := "https://example.net/feeds/main.atom"
	feed, _, err := Parse(FormatAtom, []byte(atomDocNoSelf), requestURL)
	if err != nil {
		t.Fatalf("パースエラー: %v", err)
	}

	if feed.URL != requestURL {
		t.Errorf("期待URL: %s, 結果: %s", requestURL, feed.URL)
	}
	if feed.SiteURL != "https://example.net" {
		t.Errorf("期待サイトURL: https://example.net, 結果: %s", feed.SiteURL)
	}
}

// TestParse_RSS1FallsBackToRequestURL はRSS1のURL・サイトURL補完をテストする。
func TestParse_RSS1FallsBackToRequestURL(t *testing.T) {
	requestURL := "https://rdf.example.com/rss"
	feed, items, err := Parse(FormatRSS1, []byte(rss1Doc), requestURL)
	if err != nil {
		t.Fatalf("パースエラー: %v", err)
	}

	if feed.URL != requestURL {
		t.Errorf("期待URL: %s, 結果: %s", requestURL, feed.URL)
	}
	if len(items) != 1 {
		t.Fatalf("期待: 1記事, 結果: %d記事", len(items))
	}
	if items[0].Author != "著者B" {
		t.Errorf("dc:creatorが著者へフォールバックされるべき, 結果: %s", items[0].Author)
	}
}

// TestParse_JSONFeedTrustsDeclaredURLs はJSON Feedの
// feed_url/home_page_urlが上書きされないことをテストする。
func TestParse_JSONFeedTrustsDeclaredURLs(t *testing.T) {
	feed, items, err := Parse(FormatJSONFeed, []byte(jsonFeedDoc), "https://other.example.org/feed.json")
	if err != nil {
		t.Fatalf("パースエラー: %v", err)
	}

	if feed.URL != "https://json.example.com/feed.json" {
		t.Errorf("feed_urlは信頼されるべき, 結果: %s", feed.URL)
	}
	if feed.SiteURL != "https://json.example.com/" {
		t.Errorf("home_page_urlは信頼されるべき, 結果: %s", feed.SiteURL)
	}
	if len(items) != 1 {
		t.Fatalf("期待: 1記事, 結果: %d記事", len(items))
	}
	if items[0].RemoteID != "jf-1" {
		t.Errorf("期待RemoteID: jf-1, 結果: %s", items[0].RemoteID)
	}
	if items[0].Content != "<p>本文</p>" {
		t.Errorf("期待Content: <p>本文</p>, 結果: %s", items[0].Content)
	}
}

// TestParse_BrokenDocumentReturnsParseError は既知の形式の壊れた
// ドキュメントがParseErrorになることをテストする。
func TestParse_BrokenDocumentReturnsParseError(t *testing.T) {
	_, _, err := Parse(FormatRSS2, []byte(`<rss version="2.0"><channel><unclosed`), "https://example.com/feed")
	if err == nil {
		t.Fatal("壊れたドキュメントはエラーになるべき")
	}
}

// Package feed はフィードの取得・形式判別・正規化のドメインロジックを提供する。
package feed

import (
	"bytes"
	"encoding/xml"
	"io"
	"mime"
	"strings"
)

// Format は判別されたフィード形式を表すタグ。
// アダプタのディスパッチはこのタグに対するswitchで行う。
type Format int

const (
	// FormatUnknown は形式を判別できなかったことを示す。
	// 呼び出し側はこれをハードなパース失敗として扱う。
	FormatUnknown Format = iota
	// FormatRSS1 はRSS 0.9x / RSS 1.0 (RDF)。
	FormatRSS1
	// FormatRSS2 はRSS 2.0。
	FormatRSS2
	// FormatAtom はAtom 1.0。
	FormatAtom
	// FormatJSONFeed はJSON Feed。
	FormatJSONFeed
)

// String はログ出力用の形式名を返す。
func (f Format) String() string {
	switch f {
	case FormatRSS1:
		return "rss1"
	case FormatRSS2:
		return "rss2"
	case FormatAtom:
		return "atom"
	case FormatJSONFeed:
		return "jsonfeed"
	default:
		return "unknown"
	}
}

// sniffLimit はルート要素の判別に読むドキュメント先頭のバイト数。
// XMLプロローグとルート要素を含むのに十分なサイズ。
const sniffLimit = 4096

// feedRootNames は「そもそもフィードドキュメントか」を判断するための
// ルート要素名のホワイトリスト。大文字小文字を区別しない。
var feedRootNames = map[string]struct{}{
	"rss":  {},
	"feed": {},
	"rdf":  {},
}

// Classify はContent-Typeヘッダーとドキュメント先頭からフィード形式を分類する。
// 判定手順:
//  1. Content-TypeのメディアタイプをMIMEとしてパース（charset等は無視）
//  2. 曖昧でないMIMEタイプ（rss+xml, atom+xml, json系）ならそのまま確定
//  3. 汎用XML・未知のタイプはルート要素名と属性から判定する
//  4. どちらでも判別できなければFormatUnknownを返す
func Classify(contentType string, peek []byte) Format {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.TrimSpace(strings.Split(contentType, ";")[0])
	}
	mediaType = strings.ToLower(mediaType)

	switch mediaType {
	case "application/rss+xml":
		return FormatRSS2
	case "application/atom+xml":
		return FormatAtom
	case "application/json", "application/feed+json":
		return FormatJSONFeed
	}

	// 汎用XMLまたは未知のContent-Type: ドキュメント内容の検査が必要
	return classifyRoot(peek)
}

// classifyRoot はドキュメント先頭のルート要素からフィード形式を判定する。
// rss(version=2.x) → RSS2、rss(0.9x/version欠落) → RSS1系、
// feed → Atom、RDF → RSS1。ホワイトリスト外のルート要素はUnknown。
func classifyRoot(peek []byte) Format {
	if len(peek) > sniffLimit {
		peek = peek[:sniffLimit]
	}

	dec := xml.NewDecoder(bytes.NewReader(peek))
	dec.Strict = false
	// 判別に使うのはASCIIの要素名と属性だけなので、ISO-8859-1等の
	// 非UTF-8エンコーディング宣言があってもそのまま読み進める
	dec.CharsetReader = func(charset string, r io.Reader) (io.Reader, error) {
		return r, nil
	}

	for {
		tok, err := dec.Token()
		if err == io.EOF || err != nil {
			return FormatUnknown
		}

		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		root := strings.ToLower(start.Name.Local)
		if _, ok := feedRootNames[root]; !ok {
			return FormatUnknown
		}

		switch root {
		case "feed":
			return FormatAtom
		case "rdf":
			return FormatRSS1
		case "rss":
			if strings.HasPrefix(rootVersion(start), "2") {
				return FormatRSS2
			}
			// version=0.9x または version欠落はRSS1系として扱う
			return FormatRSS1
		}
		return FormatUnknown
	}
}

// rootVersion はルート要素のversion属性値を返す。
func rootVersion(start xml.StartElement) string {
	for _, attr := range start.Attr {
		if strings.EqualFold(attr.Name.Local, "version") {
			return strings.TrimSpace(attr.Value)
		}
	}
	return ""
}

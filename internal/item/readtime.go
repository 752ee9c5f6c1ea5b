// Package item は記事の管理機能を提供する。
package item

import (
	"strings"
	"unicode"

	"golang.org/x/net/html"
)

// wordsPerMinute は平均的な読書速度（英語系テキスト、語/分）。
const wordsPerMinute = 250

// cjkCharsPerMinute はCJKテキストの平均読書速度（文字/分）。
// CJK文字は空白区切りされないため語数ではなく文字数で数える。
const cjkCharsPerMinute = 500

// EstimateReadTime は記事本文HTMLから推定読了時間（分）を計算する。
// タグを除いたテキストについて、空白区切りの語数とCJK文字数を
// それぞれの読書速度で換算して合計する。本文が空なら0を返す。
func EstimateReadTime(contentHTML string) float64 {
	text := extractText(contentHTML)
	if text == "" {
		return 0
	}

	var words, cjkChars int
	for _, field := range strings.Fields(text) {
		hasWord := false
		for _, r := range field {
			if isCJK(r) {
				cjkChars++
			} else if unicode.IsLetter(r) || unicode.IsDigit(r) {
				hasWord = true
			}
		}
		if hasWord {
			words++
		}
	}

	return float64(words)/wordsPerMinute + float64(cjkChars)/cjkCharsPerMinute
}

// extractText はHTMLからテキストノードのみを取り出して連結する。
// パースに失敗した断片はそのままテキストとして扱う。
func extractText(contentHTML string) string {
	tokenizer := html.NewTokenizer(strings.NewReader(contentHTML))

	var b strings.Builder
	for {
		tt := tokenizer.Next()
		if tt == html.ErrorToken {
			break
		}
		if tt == html.TextToken {
			b.WriteString(tokenizer.Token().Data)
			b.WriteByte(' ')
		}
	}

	return strings.TrimSpace(b.String())
}

// isCJK は文字がCJK系スクリプトに属するかを判定する。
func isCJK(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}

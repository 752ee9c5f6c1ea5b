package feed

import (
	"bytes"
	"context"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/hitoshi/feedsync/internal/model"
)

// Candidate はHTMLページから検出されたフィード候補を表す。
type Candidate struct {
	URL    string
	Format Format
	Title  string
}

// Detector はユーザーが入力したURLからフィードURLを特定する。
// URL自体がフィードならそのまま返し、HTMLページなら
// headタグの<link rel="alternate">からフィード候補を検出する。
type Detector struct {
	ssrfGuard SSRFValidator
	timeout   time.Duration
}

// NewDetector はDetectorの新しいインスタンスを生成する。
func NewDetector(ssrfGuard SSRFValidator, timeout time.Duration) *Detector {
	return &Detector{ssrfGuard: ssrfGuard, timeout: timeout}
}

// DetectFeedURL は入力URLからフィードURLを特定する。
//  1. SSRF検証
//  2. URLをフェッチして形式判別（フィードならそのURLを返す）
//  3. HTMLならheadタグからフィードリンクを検出し、優先順位で選択
//  4. 検出できなければUnknownFormatError
func (d *Detector) DetectFeedURL(ctx context.Context, inputURL string) (string, error) {
	if inputURL == "" {
		return "", &model.ValidationError{Message: "URLが入力されていません"}
	}

	if err := d.ssrfGuard.ValidateURL(inputURL); err != nil {
		return "", &model.ValidationError{Message: "このURLへのアクセスは許可されていません"}
	}

	const maxBodySize = 5 * 1024 * 1024
	client := d.ssrfGuard.NewSafeClient(d.timeout, maxBodySize)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, inputURL, nil)
	if err != nil {
		return "", &model.ValidationError{Message: "無効なURLです: " + err.Error()}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/feed+json, application/xml, text/xml, text/html, */*")

	resp, err := client.Do(req)
	if err != nil {
		return "", &model.TransportError{URL: inputURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &model.NetworkError{URL: inputURL, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return "", &model.TransportError{URL: inputURL, Err: err}
	}

	contentType := resp.Header.Get("Content-Type")

	// URL自体がフィードの場合
	if Classify(contentType, body) != FormatUnknown {
		return inputURL, nil
	}

	// HTML以外でフィードでもない場合はこれ以上調べようがない
	mediaType, _, _ := mime.ParseMediaType(contentType)
	if !strings.Contains(strings.ToLower(mediaType), "html") {
		return "", &model.UnknownFormatError{URL: inputURL}
	}

	candidates := parseFeedLinks(body, inputURL)
	best := selectBestCandidate(candidates, inputURL)
	if best == nil {
		return "", &model.UnknownFormatError{URL: inputURL}
	}

	return best.URL, nil
}

// parseFeedLinks はHTMLのheadタグからフィードリンクを検出する。
// 相対URLはbaseURLを基準に絶対URLへ解決される。
func parseFeedLinks(htmlBody []byte, baseURL string) []Candidate {
	var candidates []Candidate

	baseU, err := url.Parse(baseURL)
	if err != nil {
		return candidates
	}

	tokenizer := html.NewTokenizer(bytes.NewReader(htmlBody))
	inHead := false

	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return candidates

		case html.StartTagToken, html.SelfClosingTagToken:
			tn, hasAttr := tokenizer.TagName()
			tagName := string(tn)

			if tagName == "head" {
				inHead = true
				continue
			}
			if tagName == "body" {
				return candidates
			}
			if !inHead || tagName != "link" || !hasAttr {
				continue
			}

			var rel, linkType, href, title string
			for {
				key, val, more := tokenizer.TagAttr()
				switch strings.ToLower(string(key)) {
				case "rel":
					rel = strings.ToLower(string(val))
				case "type":
					linkType = strings.ToLower(string(val))
				case "href":
					href = string(val)
				case "title":
					title = string(val)
				}
				if !more {
					break
				}
			}

			if rel != "alternate" || href == "" {
				continue
			}

			var format Format
			switch linkType {
			case "application/rss+xml":
				format = FormatRSS2
			case "application/atom+xml":
				format = FormatAtom
			case "application/json", "application/feed+json":
				format = FormatJSONFeed
			default:
				continue
			}

			ref, err := url.Parse(href)
			if err != nil {
				continue
			}

			candidates = append(candidates, Candidate{
				URL:    baseU.ResolveReference(ref).String(),
				Format: format,
				Title:  title,
			})

		case html.EndTagToken:
			tn, _ := tokenizer.TagName()
			if string(tn) == "head" {
				return candidates
			}
		}
	}
}

// selectBestCandidate は複数のフィード候補から最適なものを選択する。
// 優先順位: 同一ホスト > Atom > 先頭。
func selectBestCandidate(candidates []Candidate, inputURL string) *Candidate {
	if len(candidates) == 0 {
		return nil
	}

	inputHost := hostOf(inputURL)

	bestIdx := 0
	bestScore := -1
	for i, c := range candidates {
		score := 0
		if hostOf(c.URL) == inputHost {
			score += 100
		}
		if c.Format == FormatAtom {
			score += 10
		}
		if score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}

	return &candidates[bestIdx]
}

// hostOf はURLからホスト名を抽出する。
func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

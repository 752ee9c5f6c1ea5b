package feed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/feedsync/internal/model"
)

// userAgent は外部フィードへのリクエストで名乗るUser-Agent。
const userAgent = "Feedsync/1.0 RSS Reader"

// SSRFValidator はSSRF検証のインターフェース。
// security.SSRFGuardServiceを抽象化してテスタビリティを向上させる。
type SSRFValidator interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client
}

// FetchOptions はフェッチ1回分のオプションを保持する。
// ETag/LastModifiedは前回フェッチで保存した値をそのまま渡す。
// Headersの内容は加工せずにリクエストへ透過される。
type FetchOptions struct {
	ETag         string
	LastModified string
	Headers      http.Header
}

// Fetcher は個別フィードの条件付きHTTP GETと形式判別・パースを行う。
// 304はmodel.ErrNotModifiedとして返し、エラーとは区別される。
type Fetcher struct {
	ssrfGuard   SSRFValidator
	logger      *slog.Logger
	timeout     time.Duration
	maxBodySize int64
}

// NewFetcher はFetcherの新しいインスタンスを生成する。
func NewFetcher(ssrfGuard SSRFValidator, logger *slog.Logger, timeout time.Duration, maxBodySize int64) *Fetcher {
	return &Fetcher{
		ssrfGuard:   ssrfGuard,
		logger:      logger,
		timeout:     timeout,
		maxBodySize: maxBodySize,
	}
}

// FetchFeed は指定URLをフェッチし、正規モデルへパースして返す。
// 戻り値の分類:
//   - 2xx: パース結果の(Feed, []ParsedItem)
//   - 304: model.ErrNotModified（ストレージ更新なし・エラーなし）
//   - その他のステータス: model.NetworkError
//   - 接続レベルの失敗: model.TransportError
//
// レスポンスボディはすべての経路でクローズされる。
func (f *Fetcher) FetchFeed(ctx context.Context, rawURL string, opts FetchOptions) (*model.Feed, []model.ParsedItem, error) {
	resp, err := f.get(ctx, rawURL, opts)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		// 変更なし: パースにも進まず即座に合図を返す
		return nil, nil, model.ErrNotModified
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, nil, &model.NetworkError{
			URL:        rawURL,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodySize))
	if err != nil {
		return nil, nil, &model.TransportError{URL: rawURL, Err: fmt.Errorf("レスポンスの読み取りに失敗: %w", err)}
	}

	format := Classify(resp.Header.Get("Content-Type"), body)
	if format == FormatUnknown {
		return nil, nil, &model.UnknownFormatError{URL: rawURL}
	}

	// リダイレクト後の実URLを特例ルールの基準にする
	requestURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		requestURL = resp.Request.URL.String()
	}

	feed, items, err := Parse(format, body, requestURL)
	if err != nil {
		return nil, nil, err
	}

	// HTTPキャッシュトークンは受信文字列のまま添付する（形式を問わず）
	feed.ETag = resp.Header.Get("ETag")
	feed.LastModified = resp.Header.Get("Last-Modified")

	f.logger.Info("フィードをフェッチしました",
		slog.String("feed_url", rawURL),
		slog.String("format", format.String()),
		slog.Int("item_count", len(items)),
	)

	return feed, items, nil
}

// ProbeIsFeed は指定URLがフィードかどうかを判定する。
// フェッチと形式判別のみを行い、フルパースはしない。
// 判別不能・取得失敗はエラーにせずfalseを返す。
func (f *Fetcher) ProbeIsFeed(ctx context.Context, rawURL string) bool {
	resp, err := f.get(ctx, rawURL, FetchOptions{})
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false
	}

	peek, err := io.ReadAll(io.LimitReader(resp.Body, sniffLimit))
	if err != nil {
		return false
	}

	return Classify(resp.Header.Get("Content-Type"), peek) != FormatUnknown
}

// get はSSRF検証付きでGETリクエストを実行する。
// 認証情報は一切付与しない。フィードフェッチは常に無認証リクエストであり、
// サービスアカウントの認証情報がこの経路へ混入することはない。
func (f *Fetcher) get(ctx context.Context, rawURL string, opts FetchOptions) (*http.Response, error) {
	if err := f.ssrfGuard.ValidateURL(rawURL); err != nil {
		return nil, &model.TransportError{URL: rawURL, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &model.TransportError{URL: rawURL, Err: err}
	}

	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/feed+json, application/xml, text/xml, application/json, */*")

	// 呼び出し側が指定したカスタムヘッダーは加工せず透過する
	for key, values := range opts.Headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	if opts.ETag != "" {
		req.Header.Set("If-None-Match", opts.ETag)
	}
	if opts.LastModified != "" {
		req.Header.Set("If-Modified-Since", opts.LastModified)
	}

	client := f.ssrfGuard.NewSafeClient(f.timeout, f.maxBodySize)
	resp, err := client.Do(req)
	if err != nil {
		return nil, &model.TransportError{URL: rawURL, Err: err}
	}

	return resp, nil
}

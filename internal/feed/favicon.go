package feed

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxIconSize はアイコン検証時に読むレスポンスの最大サイズ（2MB）。
const maxIconSize = 2 * 1024 * 1024

// iconTimeout はアイコン検証のタイムアウト。
const iconTimeout = 5 * time.Second

// IconResolverService はフィードアイコンURL解決のインターフェース。
type IconResolverService interface {
	// ResolveIconURL はフィードが宣言したアイコンURLを検証し、
	// 無効ならサイトURLから/favicon.icoを推測して検証する。
	// どちらも画像として取得できなければ空文字を返す（エラーは返さない）。
	ResolveIconURL(ctx context.Context, declaredIconURL, siteURL string) string
}

// IconResolver はアイコンURL解決機能の実装。
// アイコン自体はデータベースに保存せず、検証済みのURLのみを保持する。
type IconResolver struct {
	ssrfGuard SSRFValidator
	logger    *slog.Logger
}

// NewIconResolver はIconResolverの新しいインスタンスを生成する。
func NewIconResolver(ssrfGuard SSRFValidator, logger *slog.Logger) *IconResolver {
	return &IconResolver{
		ssrfGuard: ssrfGuard,
		logger:    logger,
	}
}

// ResolveIconURL はフィードのアイコンURLを解決する。
// 宣言されたURLを優先し、だめならsiteURL/favicon.icoを試す。
func (r *IconResolver) ResolveIconURL(ctx context.Context, declaredIconURL, siteURL string) string {
	if declaredIconURL != "" && r.isImageURL(ctx, declaredIconURL) {
		return declaredIconURL
	}

	guessed := guessDefaultIconURL(siteURL)
	if guessed != "" && r.isImageURL(ctx, guessed) {
		return guessed
	}

	return ""
}

// isImageURL は指定URLが画像として取得できるかを検証する。
// 取得失敗・非画像・サイズ超過はすべてfalse。エラーはログのみ。
func (r *IconResolver) isImageURL(ctx context.Context, iconURL string) bool {
	if err := r.ssrfGuard.ValidateURL(iconURL); err != nil {
		r.logger.Warn("アイコン検証: SSRFブロック", "url", iconURL, "error", err)
		return false
	}

	client := r.ssrfGuard.NewSafeClient(iconTimeout, maxIconSize)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, iconURL, nil)
	if err != nil {
		return false
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		r.logger.Warn("アイコン検証: リクエスト失敗", "url", iconURL, "error", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false
	}

	// ボディは読み捨てる。存在と型の検証だけが目的
	if _, err := io.Copy(io.Discard, io.LimitReader(resp.Body, maxIconSize)); err != nil {
		return false
	}

	return isImageMime(resp.Header.Get("Content-Type"))
}

// guessDefaultIconURL はサイトURLからデフォルトのfavicon URLを推測する。
func guessDefaultIconURL(siteURL string) string {
	if siteURL == "" {
		return ""
	}

	u, err := url.Parse(siteURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}

	u.Path = "/favicon.ico"
	u.RawQuery = ""
	u.Fragment = ""

	return u.String()
}

// isImageMime はContent-Typeが画像かどうかを判定する。
// favicon.icoはapplication/octet-streamで配信されることがあるため許容する。
func isImageMime(contentType string) bool {
	mediaType := strings.TrimSpace(strings.ToLower(strings.SplitN(contentType, ";", 2)[0]))
	if mediaType == "" {
		return false
	}
	if strings.HasPrefix(mediaType, "image/") {
		return true
	}
	return mediaType == "application/octet-stream"
}

// compile-time interface check
var _ IconResolverService = (*IconResolver)(nil)

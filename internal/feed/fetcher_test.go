package feed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/feedsync/internal/model"
)

// allowAllGuard はテスト用のSSRF検証スタブ。すべてのURLを許可する。
type allowAllGuard struct{}

func (allowAllGuard) ValidateURL(rawURL string) error { return nil }

func (allowAllGuard) NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client {
	return &http.Client{Timeout: timeout}
}

// denyAllGuard はテスト用のSSRF検証スタブ。すべてのURLを拒否する。
type denyAllGuard struct{}

func (denyAllGuard) ValidateURL(rawURL string) error { return errors.New("blocked") }

func (denyAllGuard) NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client {
	return &http.Client{Timeout: timeout}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestFetcher() *Fetcher {
	return NewFetcher(allowAllGuard{}, testLogger(), 10*time.Second, 10*1024*1024)
}

// TestFetchFeed_Success は2xxレスポンスがパース結果とキャッシュトークンを
// 返すことをテストする。
func TestFetchFeed_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Header().Set("ETag", `W/"abc123"`)
		w.Header().Set("Last-Modified", "Mon, 02 Jan 2006 15:04:05 GMT")
		io.WriteString(w, rss2Doc)
	}))
	defer srv.Close()

	feed, items, err := newTestFetcher().FetchFeed(context.Background(), srv.URL, FetchOptions{})
	if err != nil {
		t.Fatalf("フェッチエラー: %v", err)
	}

	if feed.URL != srv.URL {
		t.Errorf("RSS2のURLはリクエストURLで上書きされるべき: %s", feed.URL)
	}
	if feed.ETag != `W/"abc123"` {
		t.Errorf("ETagは受信文字列のまま保持されるべき: %s", feed.ETag)
	}
	if feed.LastModified != "Mon, 02 Jan 2006 15:04:05 GMT" {
		t.Errorf("Last-Modifiedは受信文字列のまま保持されるべき: %s", feed.LastModified)
	}
	if len(items) != 2 {
		t.Errorf("期待: 2記事, 結果: %d記事", len(items))
	}
}

// TestFetchFeed_NotModified は304がErrNotModifiedとして返ることをテストする。
func TestFetchFeed_NotModified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") != `"token"` {
			t.Errorf("If-None-Matchヘッダーが送信されるべき: %q", r.Header.Get("If-None-Match"))
		}
		if r.Header.Get("If-Modified-Since") != "Mon, 02 Jan 2006 15:04:05 GMT" {
			t.Errorf("If-Modified-Sinceヘッダーが送信されるべき: %q", r.Header.Get("If-Modified-Since"))
		}
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	_, _, err := newTestFetcher().FetchFeed(context.Background(), srv.URL, FetchOptions{
		ETag:         `"token"`,
		LastModified: "Mon, 02 Jan 2006 15:04:05 GMT",
	})

	if !errors.Is(err, model.ErrNotModified) {
		t.Errorf("期待: ErrNotModified, 結果: %v", err)
	}
}

// TestFetchFeed_HTTPErrorStatus は2xx/304以外のステータスが
// NetworkErrorになることをテストする。
func TestFetchFeed_HTTPErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	_, _, err := newTestFetcher().FetchFeed(context.Background(), srv.URL, FetchOptions{})

	var netErr *model.NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("期待: NetworkError, 結果: %v", err)
	}
	if netErr.StatusCode != http.StatusGone {
		t.Errorf("期待ステータス: 410, 結果: %d", netErr.StatusCode)
	}
}

// TestFetchFeed_TransportFailure は接続失敗がTransportErrorになることをテストする。
func TestFetchFeed_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // 即座にクローズして接続拒否にする

	_, _, err := newTestFetcher().FetchFeed(context.Background(), srv.URL, FetchOptions{})

	var transportErr *model.TransportError
	if !errors.As(err, &transportErr) {
		t.Errorf("期待: TransportError, 結果: %v", err)
	}
}

// TestFetchFeed_UnknownFormat はフィードでないドキュメントが
// UnknownFormatErrorになることをテストする。
func TestFetchFeed_UnknownFormat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, "<html><body>not a feed</body></html>")
	}))
	defer srv.Close()

	_, _, err := newTestFetcher().FetchFeed(context.Background(), srv.URL, FetchOptions{})

	var formatErr *model.UnknownFormatError
	if !errors.As(err, &formatErr) {
		t.Errorf("期待: UnknownFormatError, 結果: %v", err)
	}
}

// TestFetchFeed_SSRFBlocked はSSRF検証で拒否されたURLが
// フェッチされないことをテストする。
func TestFetchFeed_SSRFBlocked(t *testing.T) {
	f := NewFetcher(denyAllGuard{}, testLogger(), 10*time.Second, 1024)

	_, _, err := f.FetchFeed(context.Background(), "http://169.254.169.254/latest", FetchOptions{})

	var transportErr *model.TransportError
	if !errors.As(err, &transportErr) {
		t.Errorf("期待: TransportError, 結果: %v", err)
	}
}

// TestFetchFeed_RedirectUsesFinalURL はリダイレクト後の実URLが
// 特例ルールの基準になることをテストする。
func TestFetchFeed_RedirectUsesFinalURL(t *testing.T) {
	var finalURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/feed", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/moved/feed.xml", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/moved/feed.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		io.WriteString(w, rss2Doc)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	finalURL = srv.URL + "/moved/feed.xml"

	feed, _, err := newTestFetcher().FetchFeed(context.Background(), srv.URL+"/feed", FetchOptions{})
	if err != nil {
		t.Fatalf("フェッチエラー: %v", err)
	}

	if feed.URL != finalURL {
		t.Errorf("期待URL: %s, 結果: %s", finalURL, feed.URL)
	}
}

// TestProbeIsFeed_FeedAndNonFeed はフィード判定がエラーを出さずに
// bool値を返すことをテストする。
func TestProbeIsFeed_FeedAndNonFeed(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/feed.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/xml")
		io.WriteString(w, rss2Doc)
	})
	mux.HandleFunc("/page.html", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, "<html></html>")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := newTestFetcher()

	if !f.ProbeIsFeed(context.Background(), srv.URL+"/feed.xml") {
		t.Error("フィードURLはtrueになるべき")
	}
	if f.ProbeIsFeed(context.Background(), srv.URL+"/page.html") {
		t.Error("HTMLページはfalseになるべき")
	}
	if f.ProbeIsFeed(context.Background(), "http://127.0.0.1:1/unreachable") {
		t.Error("到達不能URLはfalseになるべき（エラーにしない）")
	}
}

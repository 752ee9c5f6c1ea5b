package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := NewLoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	req := httptest.NewRequest(http.MethodGet, "/feeds/missing", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("ログのパースに失敗: %v", err)
	}

	if entry["method"] != "GET" {
		t.Errorf("method = %v, 期待 GET", entry["method"])
	}
	if entry["path"] != "/feeds/missing" {
		t.Errorf("path = %v", entry["path"])
	}
	if entry["status"] != float64(404) {
		t.Errorf("status = %v, 期待 404", entry["status"])
	}
	if entry["level"] != "WARN" {
		t.Errorf("level = %v, 4xxはWARNが期待値", entry["level"])
	}
	if _, ok := entry["duration_ms"]; !ok {
		t.Error("duration_msがログに含まれていません")
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := NewRecoveryMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("想定外")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, 期待 500", rec.Code)
	}
}

func TestCORSMiddleware(t *testing.T) {
	handler := NewCORSMiddleware("http://localhost:3000")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("通常リクエストにヘッダーを付与", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
			t.Errorf("Access-Control-Allow-Origin = %q", got)
		}
	})

	t.Run("プリフライトには204", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusNoContent {
			t.Errorf("status = %d, 期待 204", rec.Code)
		}
	})
}

func TestRateLimiter(t *testing.T) {
	config := RateLimiterConfig{
		Rate:            rate.Limit(1),
		Burst:           2,
		CleanupInterval: time.Minute,
	}
	rl := NewRateLimiter(config)
	defer rl.Stop()

	handler := rl.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	doRequest := func(remoteAddr string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = remoteAddr
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	// バースト内は許可
	if code := doRequest("192.0.2.1:1234"); code != http.StatusOK {
		t.Errorf("1回目 = %d, 期待 200", code)
	}
	if code := doRequest("192.0.2.1:1234"); code != http.StatusOK {
		t.Errorf("2回目 = %d, 期待 200", code)
	}

	// バースト超過で429
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("3回目 = %d, 期待 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Retry-Afterヘッダーが設定されていません")
	}

	// 別クライアントは独立して制限される
	if code := doRequest("192.0.2.2:1234"); code != http.StatusOK {
		t.Errorf("別クライアント = %d, 期待 200", code)
	}

	if got := rl.LimiterCount(); got != 2 {
		t.Errorf("LimiterCount() = %d, 期待 2", got)
	}
}

func TestDefaultRateLimiterConfig(t *testing.T) {
	config := DefaultRateLimiterConfig(120)
	if config.Rate != rate.Limit(2) {
		t.Errorf("Rate = %v, 期待 2 req/sec", config.Rate)
	}
	if config.Burst != 120 {
		t.Errorf("Burst = %d, 期待 120", config.Burst)
	}
}

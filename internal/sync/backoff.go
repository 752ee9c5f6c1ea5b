package sync

import (
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/feedsync/internal/model"
)

// ErrorClass は同期エラーの分類。フィード状態機械の遷移を決める。
type ErrorClass int

const (
	// ErrorClassBackoff は一時的な失敗（接続失敗、429、5xx）。
	// 指数バックオフで次回同期を遅らせる。
	ErrorClassBackoff ErrorClass = iota
	// ErrorClassStop は恒久的な失敗（404/410/401/403、認証拒否）。
	// フィードの同期を停止する。
	ErrorClassStop
	// ErrorClassParseFailure はパース失敗。閾値まではバックオフなしで
	// カウントし、連続した場合に停止する。
	ErrorClassParseFailure
)

const (
	// initialBackoff は指数バックオフの初回遅延（30分）。
	initialBackoff = 30 * time.Minute
	// maxBackoff は指数バックオフの最大遅延（12時間）。
	maxBackoff = 12 * time.Hour
	// parseFailureThreshold はパース失敗による同期停止の閾値。
	parseFailureThreshold = 10
)

// ClassifyError は同期エラーをフィード状態機械の遷移に分類する。
func ClassifyError(err error) ErrorClass {
	var authErr *model.AuthError
	if errors.As(err, &authErr) {
		return ErrorClassStop
	}

	var netErr *model.NetworkError
	if errors.As(err, &netErr) {
		switch {
		case netErr.StatusCode == 404 || netErr.StatusCode == 410:
			return ErrorClassStop
		case netErr.StatusCode == 401 || netErr.StatusCode == 403:
			return ErrorClassStop
		default:
			// 429、5xx、その他の予期しないステータスはすべて一時扱い
			return ErrorClassBackoff
		}
	}

	var parseErr *model.ParseError
	if errors.As(err, &parseErr) {
		return ErrorClassParseFailure
	}
	var formatErr *model.UnknownFormatError
	if errors.As(err, &formatErr) {
		return ErrorClassParseFailure
	}

	// TransportErrorと未知のエラーは一時扱い
	return ErrorClassBackoff
}

// CalculateBackoff は連続エラー回数に基づいて指数バックオフ遅延を計算する。
// 初回30分、2倍ずつ増加、最大12時間。
func CalculateBackoff(consecutiveErrors int) time.Duration {
	delay := initialBackoff
	for i := 0; i < consecutiveErrors; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// ApplyFailure はエラー分類に応じてフィードの同期状態を遷移させる。
func ApplyFailure(feed *model.Feed, err error) {
	switch ClassifyError(err) {
	case ErrorClassStop:
		ApplyStop(feed, err.Error())
	case ErrorClassParseFailure:
		ApplyParseFailure(feed, err.Error())
	default:
		ApplyBackoff(feed, err.Error())
	}
}

// ApplyStop はフィードの同期を停止する。
// sync_statusをstoppedに設定し、エラーメッセージを記録する。
func ApplyStop(feed *model.Feed, reason string) {
	feed.SyncStatus = model.SyncStatusStopped
	feed.ErrorMessage = reason
	feed.UpdatedAt = time.Now()
}

// ApplyBackoff はフィードにバックオフ戦略を適用する。
// 連続エラー回数をインクリメントし、指数バックオフでnext_sync_atを設定する。
func ApplyBackoff(feed *model.Feed, reason string) {
	feed.ConsecutiveErrors++
	feed.ErrorMessage = reason
	delay := CalculateBackoff(feed.ConsecutiveErrors - 1)
	feed.NextSyncAt = time.Now().Add(delay)
	feed.UpdatedAt = time.Now()
}

// ApplySuccess は同期成功時にフィードの状態をリセットする。
// 連続エラー回数を0にし、intervalに基づいてnext_sync_atを設定する。
func ApplySuccess(feed *model.Feed, interval time.Duration) {
	feed.ConsecutiveErrors = 0
	feed.ErrorMessage = ""
	feed.NextSyncAt = time.Now().Add(interval)
	feed.UpdatedAt = time.Now()
}

// ApplyParseFailure はパース失敗時に連続エラー回数をインクリメントする。
// 閾値に達した場合は同期を停止する。
func ApplyParseFailure(feed *model.Feed, reason string) {
	feed.ConsecutiveErrors++
	feed.ErrorMessage = fmt.Sprintf("パース失敗 (%d回連続): %s", feed.ConsecutiveErrors, reason)
	feed.UpdatedAt = time.Now()

	if feed.ConsecutiveErrors >= parseFailureThreshold {
		feed.SyncStatus = model.SyncStatusStopped
		feed.ErrorMessage = fmt.Sprintf("パース失敗が%d回連続したため同期を停止しました: %s", feed.ConsecutiveErrors, reason)
	}
}

// Package model はドメインモデルを定義する。
package model

import "time"

// Feed は購読中のフィードを表す。
// URLはパース完了後に必ず非空となる（ドキュメントが省略した場合は
// リクエストURLから補完される）。
// ETag/LastModifiedはHTTPキャッシュトークンであり、受信した文字列を
// 加工せずそのまま保持して次回の条件付きGETに使用する。
type Feed struct {
	ID                string
	AccountID         string
	FolderID          *string
	RemoteID          string
	URL               string
	SiteURL           string
	Name              string
	IconURL           string
	ETag              string
	LastModified      string
	SyncStatus        SyncStatus
	ConsecutiveErrors int
	ErrorMessage      string
	NextSyncAt        time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// SyncStatus はフィードの同期状態を表す。
type SyncStatus string

const (
	// SyncStatusActive は同期対象のフィード。
	SyncStatusActive SyncStatus = "active"
	// SyncStatusStopped は同期が停止されたフィード。
	SyncStatusStopped SyncStatus = "stopped"
)

// SyncResult はフィード1件分の同期結果を表す。
// バッチ同期は順序付きのSyncResult列を生成し、1フィードの失敗が
// 他フィードの同期を妨げないことを保証する。
type SyncResult struct {
	FeedID    string
	Succeeded bool
	// Skipped は304 Not Modifiedにより同期をスキップしたことを示す。
	// エラーでも更新でもない静かな成功として扱う。
	Skipped  bool
	Inserted int
	Updated  int
	Err      error
}

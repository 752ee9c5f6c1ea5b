// Package model はドメインモデルを定義する。
package model

import "time"

// Item はフィードから取得した記事を表す。
// RemoteIDはフィード内で一意な自然キーであり、繰り返しの同期で
// 重複登録を防ぐために使用される。ソースが安定したIDを提供しない
// 場合はリンクまたはコンテンツハッシュから決定的に合成される。
type Item struct {
	ID        string
	FeedID    string
	RemoteID  string
	Title     string
	Link      string
	Author    string
	Content   string // サニタイズ済みHTML
	ImageURL  string
	PubDate   *time.Time
	ReadTime  float64 // 推定読了時間（分）
	IsRead    bool
	IsStarred bool
	FetchedAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ItemFilter は記事一覧のフィルタ種別を表す。
type ItemFilter string

const (
	// ItemFilterAll は全記事を表示するフィルタ。
	ItemFilterAll ItemFilter = "all"
	// ItemFilterUnread は未読記事のみを表示するフィルタ。
	ItemFilterUnread ItemFilter = "unread"
	// ItemFilterStarred はスター付き記事のみを表示するフィルタ。
	ItemFilterStarred ItemFilter = "starred"
)

// ParsedItem はフォーマットアダプタまたはサービスアダプタが生成する
// 未保存の正規化済み記事データを表す。
// IsRead/IsStarredはサービスアダプタ経由の場合のみ権威を持ち、
// ローカルフィードのパース結果では常にゼロ値となる。
type ParsedItem struct {
	RemoteID string
	// FeedRemoteID はサービスアカウントの同期時に記事を
	// フィードへ対応付けるためのバックエンド側フィードID。
	FeedRemoteID string
	Title        string
	Link         string
	Author       string
	Content      string // 未サニタイズのHTML
	ImageURL     string
	PubDate      *time.Time
	IsRead       bool
	IsStarred    bool
}

// Package service は外部フィード集約サービス（FreshRSS / Nextcloud News /
// Fever互換API）との通信インターフェースを定義する。
//
// すべてのメソッドは認証情報を引数として受け取る。アダプタは認証状態を
// 一切保持せず、同一アダプタを複数アカウントで安全に共有できる。
// 「ログアウト」に相当する処理は存在しない。認証情報を渡すのをやめるだけである。
package service

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/feedsync/internal/model"
)

// RemoteFeed はサービスから取得したフィードとフォルダ所属の組。
// FolderRemoteIDはバックエンド側のフォルダ識別子で、同期時に
// ローカルのFolderへ対応付けられる。
type RemoteFeed struct {
	model.Feed
	FolderRemoteID string
}

// Adapter は集約サービスAPIの共通インターフェース。
// プロトコル差（Google Reader API / Nextcloud News API / Fever API）は
// 実装内部に閉じ、呼び出し側は正規モデルだけを扱う。
//
// 認証情報が拒否された場合（HTTP 401/403、Feverのauth=0）は
// *model.AuthErrorを返す。
type Adapter interface {
	// VerifyCredentials は認証情報の有効性を確認する。
	VerifyCredentials(ctx context.Context, creds model.Credentials) error

	// ListFolders はサービス上のフォルダ（カテゴリ/グループ）一覧を返す。
	// 返されるFolderはRemoteIDとNameのみ設定される。
	ListFolders(ctx context.Context, creds model.Credentials) ([]model.Folder, error)

	// ListFeeds はサービス上の購読フィード一覧を返す。
	ListFeeds(ctx context.Context, creds model.Credentials) ([]RemoteFeed, error)

	// ListItems はサービス上の記事を返す。
	// IsRead/IsStarredはサービス側の状態をそのまま反映し、
	// ローカルの状態より優先される。
	ListItems(ctx context.Context, creds model.Credentials) ([]model.ParsedItem, error)

	// SetItemReadState は記事の既読状態をサービスへ送信する。
	SetItemReadState(ctx context.Context, creds model.Credentials, itemRemoteID string, read bool) error

	// SetItemStarState は記事のスター状態をサービスへ送信する。
	SetItemStarState(ctx context.Context, creds model.Credentials, itemRemoteID string, starred bool) error
}

// HTTPDoer はHTTPリクエスト実行の抽象。テストではhttptestの
// クライアントを、本番ではSSRFガード付きクライアントを注入する。
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// DefaultTimeout はサービスAPI呼び出しのデフォルトタイムアウト。
const DefaultTimeout = 30 * time.Second

// UserAgent はサービスAPIリクエストで名乗るUser-Agent。
const UserAgent = "Feedsync/1.0 RSS Reader"

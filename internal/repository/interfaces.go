// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hitoshi/feedsync/internal/model"
)

// DBTX は*sql.DBと*sql.Txの共通部分を抽象化する。
// リポジトリ実装はこのインターフェース上に構築され、同じ実装が
// コネクションプール経由でもトランザクション内でも動作する。
// フィード単位のトランザクション同期はこの仕組みに依存している。
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// AccountRepository はアカウントデータの永続化インターフェース。
type AccountRepository interface {
	// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Account, error)

	// List は全アカウントを作成日時昇順で返す。
	List(ctx context.Context) ([]*model.Account, error)

	// Create はアカウントを作成する。
	Create(ctx context.Context, account *model.Account) error

	// Update はアカウント情報（名前・サービスURL・認証情報）を更新する。
	Update(ctx context.Context, account *model.Account) error

	// DeleteByID は指定IDのアカウントを削除する。
	// 関連するfolders、feeds、itemsはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
}

// FolderRepository はフォルダデータの永続化インターフェース。
type FolderRepository interface {
	// FindByID は指定IDのフォルダを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Folder, error)

	// FindByAccountAndRemoteID はアカウント内のリモートIDでフォルダを検索する。
	// サービス同期でのフォルダ対応付けに使用する。見つからない場合はnilを返す。
	FindByAccountAndRemoteID(ctx context.Context, accountID, remoteID string) (*model.Folder, error)

	// ListByAccount はアカウントのフォルダ一覧を名前順で返す。
	ListByAccount(ctx context.Context, accountID string) ([]*model.Folder, error)

	// Create はフォルダを作成する。
	Create(ctx context.Context, folder *model.Folder) error

	// Update はフォルダ名を更新する。
	Update(ctx context.Context, folder *model.Folder) error

	// DeleteByID は指定IDのフォルダを削除する。
	// 所属フィードはフォルダなし（folder_id NULL）になる。
	DeleteByID(ctx context.Context, id string) error
}

// FeedRepository はフィードデータの永続化インターフェース。
type FeedRepository interface {
	// FindByID は指定IDのフィードを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Feed, error)

	// FindByAccountAndURL はアカウント内のフィードURLでフィードを検索する。
	// 重複購読の検出に使用する。見つからない場合はnilを返す。
	FindByAccountAndURL(ctx context.Context, accountID, url string) (*model.Feed, error)

	// FindByAccountAndRemoteID はアカウント内のリモートIDでフィードを検索する。
	// サービス同期での記事の対応付けに使用する。見つからない場合はnilを返す。
	FindByAccountAndRemoteID(ctx context.Context, accountID, remoteID string) (*model.Feed, error)

	// ListByAccount はアカウントのフィード一覧を名前順で返す。
	ListByAccount(ctx context.Context, accountID string) ([]*model.Feed, error)

	// ListDueForSync は同期対象のフィードを取得する。
	// next_sync_at <= now() かつ sync_status = 'active' のフィードを
	// FOR UPDATE SKIP LOCKEDで排他的に取得する。
	ListDueForSync(ctx context.Context, accountID string) ([]*model.Feed, error)

	// Create はフィードを作成する。
	Create(ctx context.Context, feed *model.Feed) error

	// Update はフィードのメタデータ（名前・サイトURL・フォルダ等）を更新する。
	Update(ctx context.Context, feed *model.Feed) error

	// UpdateSyncState はフィードの同期状態を更新する。
	// sync_status、consecutive_errors、error_message、next_sync_at、
	// etag、last_modifiedを更新する。
	UpdateSyncState(ctx context.Context, feed *model.Feed) error

	// UpdateIcon はフィードのアイコンURLを更新する。
	UpdateIcon(ctx context.Context, feedID, iconURL string) error

	// DeleteByID は指定IDのフィードを削除する。関連itemsはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
}

// ItemRepository は記事データの永続化インターフェース。
// 記事の同一性判定はfeed_idと自然キー（remote_id）の組で行う。
type ItemRepository interface {
	// FindByID は指定IDの記事を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Item, error)

	// FindByFeedAndRemoteID はfeed_idとremote_idで記事を検索する。
	// 同期時の重複判定に使用する。見つからない場合はnilを返す。
	FindByFeedAndRemoteID(ctx context.Context, feedID, remoteID string) (*model.Item, error)

	// ListByFeed はフィードの記事一覧を取得する。
	// pub_date降順でカーソルベースページネーションを使用する。
	// cursorがゼロ値の場合は先頭から取得する。
	ListByFeed(ctx context.Context, feedID string, filter model.ItemFilter, cursor time.Time, limit int) ([]*model.Item, error)

	// ListByFolder はフォルダ配下のフィード横断の記事一覧を取得する。
	ListByFolder(ctx context.Context, folderID string, filter model.ItemFilter, cursor time.Time, limit int) ([]*model.Item, error)

	// ListByAccount はアカウント横断の記事一覧を取得する。
	ListByAccount(ctx context.Context, accountID string, filter model.ItemFilter, cursor time.Time, limit int) ([]*model.Item, error)

	// CountUnreadByFeed はフィードの未読記事数を返す。
	CountUnreadByFeed(ctx context.Context, feedID string) (int, error)

	// Create は新規記事を作成する。
	Create(ctx context.Context, item *model.Item) error

	// Update は既存記事のコンテンツフィールドを上書き更新する。
	// is_read/is_starredは変更しない。履歴は保持しない。
	Update(ctx context.Context, item *model.Item) error

	// UpdateReadState は記事の既読状態を更新する。
	UpdateReadState(ctx context.Context, itemID string, isRead bool) error

	// UpdateStarState は記事のスター状態を更新する。
	UpdateStarState(ctx context.Context, itemID string, isStarred bool) error

	// DeleteOlderThan はフィードの保持期限より古い記事を削除する。
	// スター付き記事は削除対象から除外する。削除件数を返す。
	DeleteOlderThan(ctx context.Context, feedID string, horizon time.Time) (int64, error)
}

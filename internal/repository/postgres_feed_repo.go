package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/feedsync/internal/model"
)

// PostgresFeedRepo はPostgreSQLを使用したフィードリポジトリ。
type PostgresFeedRepo struct {
	db DBTX
}

// NewPostgresFeedRepo はPostgresFeedRepoを生成する。
func NewPostgresFeedRepo(db DBTX) *PostgresFeedRepo {
	return &PostgresFeedRepo{db: db}
}

const feedColumns = `id, account_id, folder_id, remote_id, url, site_url, name, icon_url,
	        etag, last_modified, sync_status, consecutive_errors,
	        error_message, next_sync_at, created_at, updated_at`

// FindByID は指定IDのフィードを取得する。見つからない場合はnilを返す。
func (r *PostgresFeedRepo) FindByID(ctx context.Context, id string) (*model.Feed, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+feedColumns+` FROM feeds WHERE id = $1`,
		id,
	)

	feed, err := scanFeed(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("フィードの取得に失敗しました: %w", err)
	}
	return feed, nil
}

// FindByAccountAndURL はアカウント内のフィードURLでフィードを検索する。
// 見つからない場合はnilを返す。
func (r *PostgresFeedRepo) FindByAccountAndURL(ctx context.Context, accountID, url string) (*model.Feed, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+feedColumns+` FROM feeds WHERE account_id = $1 AND url = $2`,
		accountID, url,
	)

	feed, err := scanFeed(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("URLによるフィードの検索に失敗しました: %w", err)
	}
	return feed, nil
}

// FindByAccountAndRemoteID はアカウント内のリモートIDでフィードを検索する。
// 見つからない場合はnilを返す。
func (r *PostgresFeedRepo) FindByAccountAndRemoteID(ctx context.Context, accountID, remoteID string) (*model.Feed, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+feedColumns+` FROM feeds WHERE account_id = $1 AND remote_id = $2`,
		accountID, remoteID,
	)

	feed, err := scanFeed(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("リモートIDによるフィードの検索に失敗しました: %w", err)
	}
	return feed, nil
}

// ListByAccount はアカウントのフィード一覧を名前順で返す。
func (r *PostgresFeedRepo) ListByAccount(ctx context.Context, accountID string) ([]*model.Feed, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+feedColumns+` FROM feeds WHERE account_id = $1 ORDER BY name ASC`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("フィード一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return collectFeeds(rows)
}

// ListDueForSync は同期対象のフィードを取得する。
// next_sync_at <= now() かつ sync_status = 'active' のフィードを
// FOR UPDATE SKIP LOCKEDで排他的に取得する。複数プロセスが同時に
// 実行されても同じフィードを二重に同期しない。
func (r *PostgresFeedRepo) ListDueForSync(ctx context.Context, accountID string) ([]*model.Feed, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+feedColumns+`
		 FROM feeds
		 WHERE account_id = $1
		   AND next_sync_at <= now()
		   AND sync_status = 'active'
		 ORDER BY next_sync_at ASC
		 FOR UPDATE SKIP LOCKED`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("同期対象フィードの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return collectFeeds(rows)
}

// Create はフィードを作成する。
func (r *PostgresFeedRepo) Create(ctx context.Context, feed *model.Feed) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO feeds (id, account_id, folder_id, remote_id, url, site_url, name, icon_url,
		                    etag, last_modified, sync_status, consecutive_errors,
		                    error_message, next_sync_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		feed.ID, feed.AccountID, feed.FolderID, nullString(feed.RemoteID),
		feed.URL, nullString(feed.SiteURL), feed.Name, nullString(feed.IconURL),
		nullString(feed.ETag), nullString(feed.LastModified),
		feed.SyncStatus, feed.ConsecutiveErrors,
		nullString(feed.ErrorMessage), feed.NextSyncAt,
		feed.CreatedAt, feed.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("フィードの作成に失敗しました: %w", err)
	}
	return nil
}

// Update はフィードのメタデータを更新する。
func (r *PostgresFeedRepo) Update(ctx context.Context, feed *model.Feed) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE feeds SET
		    folder_id = $2, url = $3, site_url = $4, name = $5,
		    icon_url = $6, updated_at = $7
		 WHERE id = $1`,
		feed.ID, feed.FolderID, feed.URL, nullString(feed.SiteURL), feed.Name,
		nullString(feed.IconURL), feed.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("フィードの更新に失敗しました: %w", err)
	}
	return nil
}

// UpdateSyncState はフィードの同期状態を更新する。
func (r *PostgresFeedRepo) UpdateSyncState(ctx context.Context, feed *model.Feed) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE feeds SET
		    sync_status = $2,
		    consecutive_errors = $3,
		    error_message = $4,
		    next_sync_at = $5,
		    etag = $6,
		    last_modified = $7,
		    updated_at = now()
		 WHERE id = $1`,
		feed.ID,
		feed.SyncStatus,
		feed.ConsecutiveErrors,
		nullString(feed.ErrorMessage),
		feed.NextSyncAt,
		nullString(feed.ETag),
		nullString(feed.LastModified),
	)
	if err != nil {
		return fmt.Errorf("同期状態の更新に失敗しました: %w", err)
	}
	return nil
}

// UpdateIcon はフィードのアイコンURLを更新する。
func (r *PostgresFeedRepo) UpdateIcon(ctx context.Context, feedID, iconURL string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE feeds SET icon_url = $2, updated_at = now() WHERE id = $1`,
		feedID, nullString(iconURL),
	)
	if err != nil {
		return fmt.Errorf("アイコンの更新に失敗しました: %w", err)
	}
	return nil
}

// DeleteByID は指定IDのフィードを削除する。関連itemsはCASCADE削除される。
func (r *PostgresFeedRepo) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM feeds WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("フィードの削除に失敗しました: %w", err)
	}
	return nil
}

func scanFeed(s scanner) (*model.Feed, error) {
	feed := &model.Feed{}
	var folderID, remoteID, siteURL, iconURL, etag, lastModified, errorMessage sql.NullString

	if err := s.Scan(
		&feed.ID, &feed.AccountID, &folderID, &remoteID,
		&feed.URL, &siteURL, &feed.Name, &iconURL,
		&etag, &lastModified, &feed.SyncStatus, &feed.ConsecutiveErrors,
		&errorMessage, &feed.NextSyncAt, &feed.CreatedAt, &feed.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if folderID.Valid {
		feed.FolderID = &folderID.String
	}
	feed.RemoteID = nullStringValue(remoteID)
	feed.SiteURL = nullStringValue(siteURL)
	feed.IconURL = nullStringValue(iconURL)
	feed.ETag = nullStringValue(etag)
	feed.LastModified = nullStringValue(lastModified)
	feed.ErrorMessage = nullStringValue(errorMessage)
	return feed, nil
}

func collectFeeds(rows *sql.Rows) ([]*model.Feed, error) {
	var feeds []*model.Feed
	for rows.Next() {
		feed, err := scanFeed(rows)
		if err != nil {
			return nil, fmt.Errorf("フィードの読み取りに失敗しました: %w", err)
		}
		feeds = append(feeds, feed)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("フィード一覧の走査に失敗しました: %w", err)
	}

	return feeds, nil
}

// compile-time interface check
var _ FeedRepository = (*PostgresFeedRepo)(nil)

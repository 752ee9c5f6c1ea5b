package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/feedsync/internal/model"
)

// PostgresItemRepo はPostgreSQLを使用した記事リポジトリ。
// DBTX上に構築されるため、コネクションプール経由でも
// フィード単位のトランザクション内でも同じ実装が動作する。
type PostgresItemRepo struct {
	db DBTX
}

// NewPostgresItemRepo はPostgresItemRepoを生成する。
func NewPostgresItemRepo(db DBTX) *PostgresItemRepo {
	return &PostgresItemRepo{db: db}
}

const itemColumns = `id, feed_id, remote_id, title, link, author, content, image_url,
	        pub_date, read_time, is_read, is_starred, fetched_at, created_at, updated_at`

// FindByID は指定IDの記事を取得する。見つからない場合はnilを返す。
func (r *PostgresItemRepo) FindByID(ctx context.Context, id string) (*model.Item, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = $1`,
		id,
	)

	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("記事の取得に失敗しました: %w", err)
	}
	return item, nil
}

// FindByFeedAndRemoteID はfeed_idとremote_idで記事を検索する。
// 同期時の重複判定に使用する。見つからない場合はnilを返す。
func (r *PostgresItemRepo) FindByFeedAndRemoteID(ctx context.Context, feedID, remoteID string) (*model.Item, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE feed_id = $1 AND remote_id = $2`,
		feedID, remoteID,
	)

	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("リモートIDによる記事の検索に失敗しました: %w", err)
	}
	return item, nil
}

// ListByFeed はフィードの記事一覧を取得する。
// pub_date降順でカーソルベースページネーションを使用する。
func (r *PostgresItemRepo) ListByFeed(ctx context.Context, feedID string, filter model.ItemFilter, cursor time.Time, limit int) ([]*model.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE feed_id = $1`
	args := []any{feedID}

	query, args = applyItemFilter(query, args, filter)

	if !cursor.IsZero() {
		args = append(args, cursor)
		query += fmt.Sprintf(" AND pub_date < $%d", len(args))
	}

	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY pub_date DESC LIMIT $%d", len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("記事一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return collectItems(rows)
}

// ListByFolder はフォルダ配下のフィード横断の記事一覧を取得する。
func (r *PostgresItemRepo) ListByFolder(ctx context.Context, folderID string, filter model.ItemFilter, cursor time.Time, limit int) ([]*model.Item, error) {
	query := `SELECT i.id, i.feed_id, i.remote_id, i.title, i.link, i.author, i.content, i.image_url,
	        i.pub_date, i.read_time, i.is_read, i.is_starred, i.fetched_at, i.created_at, i.updated_at
	 FROM items i
	 INNER JOIN feeds f ON i.feed_id = f.id
	 WHERE f.folder_id = $1`
	args := []any{folderID}

	switch filter {
	case model.ItemFilterUnread:
		query += " AND i.is_read = false"
	case model.ItemFilterStarred:
		query += " AND i.is_starred = true"
	}

	if !cursor.IsZero() {
		args = append(args, cursor)
		query += fmt.Sprintf(" AND i.pub_date < $%d", len(args))
	}

	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY i.pub_date DESC LIMIT $%d", len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("フォルダ横断の記事一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return collectItems(rows)
}

// ListByAccount はアカウント横断の記事一覧を取得する。
func (r *PostgresItemRepo) ListByAccount(ctx context.Context, accountID string, filter model.ItemFilter, cursor time.Time, limit int) ([]*model.Item, error) {
	query := `SELECT i.id, i.feed_id, i.remote_id, i.title, i.link, i.author, i.content, i.image_url,
	        i.pub_date, i.read_time, i.is_read, i.is_starred, i.fetched_at, i.created_at, i.updated_at
	 FROM items i
	 INNER JOIN feeds f ON i.feed_id = f.id
	 WHERE f.account_id = $1`
	args := []any{accountID}

	switch filter {
	case model.ItemFilterUnread:
		query += " AND i.is_read = false"
	case model.ItemFilterStarred:
		query += " AND i.is_starred = true"
	}

	if !cursor.IsZero() {
		args = append(args, cursor)
		query += fmt.Sprintf(" AND i.pub_date < $%d", len(args))
	}

	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY i.pub_date DESC LIMIT $%d", len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("アカウント横断の記事一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return collectItems(rows)
}

// CountUnreadByFeed はフィードの未読記事数を返す。
func (r *PostgresItemRepo) CountUnreadByFeed(ctx context.Context, feedID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM items WHERE feed_id = $1 AND is_read = false`,
		feedID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("未読数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// Create は新規記事を作成する。
func (r *PostgresItemRepo) Create(ctx context.Context, item *model.Item) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO items (id, feed_id, remote_id, title, link, author, content, image_url,
		                    pub_date, read_time, is_read, is_starred, fetched_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		item.ID, item.FeedID, item.RemoteID, item.Title,
		nullString(item.Link), nullString(item.Author), item.Content, nullString(item.ImageURL),
		item.PubDate, item.ReadTime, item.IsRead, item.IsStarred,
		item.FetchedAt, item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("記事の作成に失敗しました: %w", err)
	}
	return nil
}

// Update は既存記事のコンテンツフィールドを上書き更新する。
// is_read/is_starredは変更しない。
func (r *PostgresItemRepo) Update(ctx context.Context, item *model.Item) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE items SET
		    title = $2, link = $3, author = $4, content = $5,
		    image_url = $6, pub_date = $7, read_time = $8, updated_at = $9
		 WHERE id = $1`,
		item.ID, item.Title, nullString(item.Link), nullString(item.Author), item.Content,
		nullString(item.ImageURL), item.PubDate, item.ReadTime, item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("記事の更新に失敗しました: %w", err)
	}
	return nil
}

// UpdateReadState は記事の既読状態を更新する。
func (r *PostgresItemRepo) UpdateReadState(ctx context.Context, itemID string, isRead bool) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE items SET is_read = $2, updated_at = now() WHERE id = $1`,
		itemID, isRead,
	)
	if err != nil {
		return fmt.Errorf("既読状態の更新に失敗しました: %w", err)
	}
	return nil
}

// UpdateStarState は記事のスター状態を更新する。
func (r *PostgresItemRepo) UpdateStarState(ctx context.Context, itemID string, isStarred bool) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE items SET is_starred = $2, updated_at = now() WHERE id = $1`,
		itemID, isStarred,
	)
	if err != nil {
		return fmt.Errorf("スター状態の更新に失敗しました: %w", err)
	}
	return nil
}

// DeleteOlderThan はフィードの保持期限より古い記事を削除する。
// スター付き記事は削除対象から除外する。削除件数を返す。
func (r *PostgresItemRepo) DeleteOlderThan(ctx context.Context, feedID string, horizon time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM items
		 WHERE feed_id = $1
		   AND pub_date < $2
		   AND is_starred = false`,
		feedID, horizon,
	)
	if err != nil {
		return 0, fmt.Errorf("古い記事の削除に失敗しました: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	return deleted, nil
}

// applyItemFilter はフィルタ条件をクエリに追加する。
func applyItemFilter(query string, args []any, filter model.ItemFilter) (string, []any) {
	switch filter {
	case model.ItemFilterUnread:
		query += " AND is_read = false"
	case model.ItemFilterStarred:
		query += " AND is_starred = true"
	}
	return query, args
}

func scanItem(s scanner) (*model.Item, error) {
	item := &model.Item{}
	var link, author, imageURL sql.NullString
	var pubDate sql.NullTime

	if err := s.Scan(
		&item.ID, &item.FeedID, &item.RemoteID, &item.Title,
		&link, &author, &item.Content, &imageURL,
		&pubDate, &item.ReadTime, &item.IsRead, &item.IsStarred,
		&item.FetchedAt, &item.CreatedAt, &item.UpdatedAt,
	); err != nil {
		return nil, err
	}

	item.Link = nullStringValue(link)
	item.Author = nullStringValue(author)
	item.ImageURL = nullStringValue(imageURL)
	if pubDate.Valid {
		t := pubDate.Time
		item.PubDate = &t
	}
	return item, nil
}

func collectItems(rows *sql.Rows) ([]*model.Item, error) {
	var items []*model.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("記事の読み取りに失敗しました: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("記事一覧の走査に失敗しました: %w", err)
	}

	return items, nil
}

// compile-time interface check
var _ ItemRepository = (*PostgresItemRepo)(nil)

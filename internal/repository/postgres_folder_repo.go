package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/feedsync/internal/model"
)

// PostgresFolderRepo はPostgreSQLを使用したフォルダリポジトリ。
type PostgresFolderRepo struct {
	db DBTX
}

// NewPostgresFolderRepo はPostgresFolderRepoを生成する。
func NewPostgresFolderRepo(db DBTX) *PostgresFolderRepo {
	return &PostgresFolderRepo{db: db}
}

const folderColumns = `id, account_id, remote_id, name, created_at, updated_at`

// FindByID は指定IDのフォルダを取得する。見つからない場合はnilを返す。
func (r *PostgresFolderRepo) FindByID(ctx context.Context, id string) (*model.Folder, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+folderColumns+` FROM folders WHERE id = $1`,
		id,
	)

	folder, err := scanFolder(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("フォルダの取得に失敗しました: %w", err)
	}
	return folder, nil
}

// FindByAccountAndRemoteID はアカウント内のリモートIDでフォルダを検索する。
// 見つからない場合はnilを返す。
func (r *PostgresFolderRepo) FindByAccountAndRemoteID(ctx context.Context, accountID, remoteID string) (*model.Folder, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+folderColumns+` FROM folders WHERE account_id = $1 AND remote_id = $2`,
		accountID, remoteID,
	)

	folder, err := scanFolder(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("リモートIDによるフォルダの検索に失敗しました: %w", err)
	}
	return folder, nil
}

// ListByAccount はアカウントのフォルダ一覧を名前順で返す。
func (r *PostgresFolderRepo) ListByAccount(ctx context.Context, accountID string) ([]*model.Folder, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+folderColumns+` FROM folders WHERE account_id = $1 ORDER BY name ASC`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("フォルダ一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var folders []*model.Folder
	for rows.Next() {
		folder, err := scanFolder(rows)
		if err != nil {
			return nil, fmt.Errorf("フォルダの読み取りに失敗しました: %w", err)
		}
		folders = append(folders, folder)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("フォルダ一覧の走査に失敗しました: %w", err)
	}

	return folders, nil
}

// Create はフォルダを作成する。
func (r *PostgresFolderRepo) Create(ctx context.Context, folder *model.Folder) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO folders (id, account_id, remote_id, name, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		folder.ID, folder.AccountID, nullString(folder.RemoteID), folder.Name,
		folder.CreatedAt, folder.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("フォルダの作成に失敗しました: %w", err)
	}
	return nil
}

// Update はフォルダ名を更新する。
func (r *PostgresFolderRepo) Update(ctx context.Context, folder *model.Folder) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE folders SET name = $2, updated_at = $3 WHERE id = $1`,
		folder.ID, folder.Name, folder.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("フォルダの更新に失敗しました: %w", err)
	}
	return nil
}

// DeleteByID は指定IDのフォルダを削除する。
// 所属フィードはfolder_idがNULLになる（ON DELETE SET NULL）。
func (r *PostgresFolderRepo) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM folders WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("フォルダの削除に失敗しました: %w", err)
	}
	return nil
}

func scanFolder(s scanner) (*model.Folder, error) {
	folder := &model.Folder{}
	var remoteID sql.NullString

	if err := s.Scan(
		&folder.ID, &folder.AccountID, &remoteID, &folder.Name,
		&folder.CreatedAt, &folder.UpdatedAt,
	); err != nil {
		return nil, err
	}

	folder.RemoteID = nullStringValue(remoteID)
	return folder, nil
}

// compile-time interface check
var _ FolderRepository = (*PostgresFolderRepo)(nil)

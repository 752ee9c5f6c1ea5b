package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/feedsync/internal/model"
)

// PostgresAccountRepo はPostgreSQLを使用したアカウントリポジトリ。
type PostgresAccountRepo struct {
	db DBTX
}

// NewPostgresAccountRepo はPostgresAccountRepoを生成する。
func NewPostgresAccountRepo(db DBTX) *PostgresAccountRepo {
	return &PostgresAccountRepo{db: db}
}

const accountColumns = `id, type, name, service_url, login, password, created_at, updated_at`

// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
func (r *PostgresAccountRepo) FindByID(ctx context.Context, id string) (*model.Account, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`,
		id,
	)

	account, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("アカウントの取得に失敗しました: %w", err)
	}
	return account, nil
}

// List は全アカウントを作成日時昇順で返す。
func (r *PostgresAccountRepo) List(ctx context.Context) ([]*model.Account, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM accounts ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("アカウント一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var accounts []*model.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("アカウントの読み取りに失敗しました: %w", err)
		}
		accounts = append(accounts, account)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("アカウント一覧の走査に失敗しました: %w", err)
	}

	return accounts, nil
}

// Create はアカウントを作成する。
func (r *PostgresAccountRepo) Create(ctx context.Context, account *model.Account) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO accounts (id, type, name, service_url, login, password, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		account.ID, account.Type, account.Name,
		nullString(account.ServiceURL), nullString(account.Login), nullString(account.Password),
		account.CreatedAt, account.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("アカウントの作成に失敗しました: %w", err)
	}
	return nil
}

// Update はアカウント情報（名前・サービスURL・認証情報）を更新する。
func (r *PostgresAccountRepo) Update(ctx context.Context, account *model.Account) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET
		    name = $2, service_url = $3, login = $4, password = $5, updated_at = $6
		 WHERE id = $1`,
		account.ID, account.Name,
		nullString(account.ServiceURL), nullString(account.Login), nullString(account.Password),
		account.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("アカウントの更新に失敗しました: %w", err)
	}
	return nil
}

// DeleteByID は指定IDのアカウントを削除する。
// 関連するfolders、feeds、itemsはCASCADE削除される。
func (r *PostgresAccountRepo) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("アカウントの削除に失敗しました: %w", err)
	}
	return nil
}

// scanner は*sql.Rowと*sql.Rowsの共通Scanインターフェース。
type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(s scanner) (*model.Account, error) {
	account := &model.Account{}
	var serviceURL, login, password sql.NullString

	if err := s.Scan(
		&account.ID, &account.Type, &account.Name,
		&serviceURL, &login, &password,
		&account.CreatedAt, &account.UpdatedAt,
	); err != nil {
		return nil, err
	}

	account.ServiceURL = nullStringValue(serviceURL)
	account.Login = nullStringValue(login)
	account.Password = nullStringValue(password)
	return account, nil
}

// nullString は空文字列をsql.NullStringに変換する。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// compile-time interface check
var _ AccountRepository = (*PostgresAccountRepo)(nil)

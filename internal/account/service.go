// Package account はフィード取得元アカウントの管理機能を提供する。
package account

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/feedsync/internal/model"
	"github.com/hitoshi/feedsync/internal/repository"
	"github.com/hitoshi/feedsync/internal/service"
)

// Service はアカウントのCRUDと認証情報検証のサービス。
type Service struct {
	accountRepo repository.AccountRepository
	adapters    map[model.AccountType]service.Adapter
	logger      *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	accountRepo repository.AccountRepository,
	adapters map[model.AccountType]service.Adapter,
	logger *slog.Logger,
) *Service {
	return &Service{
		accountRepo: accountRepo,
		adapters:    adapters,
		logger:      logger,
	}
}

// CreateAccount はアカウントを作成する。
// サービスアカウントの場合は作成前に認証情報を検証し、
// 拒否された場合はAuthErrorを返して作成しない。
func (s *Service) CreateAccount(ctx context.Context, accountType model.AccountType, name, serviceURL, login, password string) (*model.Account, error) {
	if name == "" {
		return nil, &model.ValidationError{Message: "アカウント名は必須です"}
	}

	account := &model.Account{
		ID:         uuid.New().String(),
		Type:       accountType,
		Name:       name,
		ServiceURL: serviceURL,
		Login:      login,
		Password:   password,
	}

	if account.IsService() {
		if serviceURL == "" {
			return nil, &model.ValidationError{Message: "サービスアカウントにはサービスURLが必要です"}
		}
		adapter, ok := s.adapters[accountType]
		if !ok {
			return nil, &model.ValidationError{Message: "未対応のアカウント種別です: " + string(accountType)}
		}
		if err := adapter.VerifyCredentials(ctx, account.Credentials()); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	account.CreatedAt = now
	account.UpdatedAt = now

	if err := s.accountRepo.Create(ctx, account); err != nil {
		return nil, err
	}

	s.logger.Info("アカウントを作成しました",
		slog.String("account_id", account.ID),
		slog.String("account_type", string(account.Type)),
	)

	return account, nil
}

// GetAccount は指定IDのアカウントを取得する。
func (s *Service) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	account, err := s.accountRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, &model.NotFoundError{Kind: "account", ID: id}
	}
	return account, nil
}

// ListAccounts は全アカウントを返す。
func (s *Service) ListAccounts(ctx context.Context) ([]*model.Account, error) {
	return s.accountRepo.List(ctx)
}

// UpdateAccount はアカウントの名前・サービスURL・認証情報を更新する。
// サービスアカウントで認証情報が変更された場合は再検証する。
func (s *Service) UpdateAccount(ctx context.Context, id, name, serviceURL, login, password string) (*model.Account, error) {
	account, err := s.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}

	if name != "" {
		account.Name = name
	}
	if serviceURL != "" {
		account.ServiceURL = serviceURL
	}
	if login != "" {
		account.Login = login
	}
	if password != "" {
		account.Password = password
	}

	if account.IsService() && (serviceURL != "" || login != "" || password != "") {
		adapter, ok := s.adapters[account.Type]
		if !ok {
			return nil, &model.ValidationError{Message: "未対応のアカウント種別です: " + string(account.Type)}
		}
		if err := adapter.VerifyCredentials(ctx, account.Credentials()); err != nil {
			return nil, err
		}
	}

	account.UpdatedAt = time.Now()
	if err := s.accountRepo.Update(ctx, account); err != nil {
		return nil, err
	}

	return account, nil
}

// DeleteAccount は指定IDのアカウントを削除する。
// 関連するフォルダ・フィード・記事はCASCADE削除される。
func (s *Service) DeleteAccount(ctx context.Context, id string) error {
	if _, err := s.GetAccount(ctx, id); err != nil {
		return err
	}

	if err := s.accountRepo.DeleteByID(ctx, id); err != nil {
		return err
	}

	s.logger.Info("アカウントを削除しました", slog.String("account_id", id))
	return nil
}

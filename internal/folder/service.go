// Package folder はフォルダ（フィードのグループ分け）の管理機能を提供する。
package folder

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/feedsync/internal/model"
	"github.com/hitoshi/feedsync/internal/repository"
)

// Service はフォルダのCRUDサービス。
// サービスアカウントのフォルダはリモート側で管理され同期で到着するため、
// 作成はローカルアカウントに対してのみ許可する。
type Service struct {
	folderRepo  repository.FolderRepository
	accountRepo repository.AccountRepository
	logger      *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	folderRepo repository.FolderRepository,
	accountRepo repository.AccountRepository,
	logger *slog.Logger,
) *Service {
	return &Service{
		folderRepo:  folderRepo,
		accountRepo: accountRepo,
		logger:      logger,
	}
}

// ListFolders はアカウントのフォルダ一覧を名前順で返す。
func (s *Service) ListFolders(ctx context.Context, accountID string) ([]*model.Folder, error) {
	account, err := s.accountRepo.FindByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, &model.NotFoundError{Kind: "account", ID: accountID}
	}

	return s.folderRepo.ListByAccount(ctx, accountID)
}

// CreateFolder はローカルアカウントにフォルダを作成する。
// サービスアカウントのフォルダはリモート側で作成し、同期で取り込む。
func (s *Service) CreateFolder(ctx context.Context, accountID, name string) (*model.Folder, error) {
	if name == "" {
		return nil, &model.ValidationError{Message: "フォルダ名は必須です"}
	}

	account, err := s.accountRepo.FindByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, &model.NotFoundError{Kind: "account", ID: accountID}
	}
	if account.IsService() {
		return nil, &model.ValidationError{Message: "サービスアカウントのフォルダはリモート側で管理されます"}
	}

	now := time.Now()
	folder := &model.Folder{
		ID:        uuid.New().String(),
		AccountID: accountID,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.folderRepo.Create(ctx, folder); err != nil {
		return nil, err
	}

	s.logger.Info("フォルダを作成しました",
		slog.String("folder_id", folder.ID),
		slog.String("account_id", accountID),
	)

	return folder, nil
}

// RenameFolder はフォルダ名を変更する。
func (s *Service) RenameFolder(ctx context.Context, folderID, name string) (*model.Folder, error) {
	if name == "" {
		return nil, &model.ValidationError{Message: "フォルダ名は必須です"}
	}

	folder, err := s.folderRepo.FindByID(ctx, folderID)
	if err != nil {
		return nil, err
	}
	if folder == nil {
		return nil, &model.NotFoundError{Kind: "folder", ID: folderID}
	}

	folder.Name = name
	folder.UpdatedAt = time.Now()

	if err := s.folderRepo.Update(ctx, folder); err != nil {
		return nil, err
	}

	return folder, nil
}

// DeleteFolder はフォルダを削除する。
// 所属フィードは削除されずフォルダなしになる。
func (s *Service) DeleteFolder(ctx context.Context, folderID string) error {
	folder, err := s.folderRepo.FindByID(ctx, folderID)
	if err != nil {
		return err
	}
	if folder == nil {
		return &model.NotFoundError{Kind: "folder", ID: folderID}
	}

	if err := s.folderRepo.DeleteByID(ctx, folderID); err != nil {
		return err
	}

	s.logger.Info("フォルダを削除しました", slog.String("folder_id", folderID))
	return nil
}

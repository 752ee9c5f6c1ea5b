package item

import (
	"context"
	"log/slog"

	"github.com/hitoshi/feedsync/internal/model"
	"github.com/hitoshi/feedsync/internal/repository"
	"github.com/hitoshi/feedsync/internal/service"
)

// ItemStateService は記事の既読・スター状態の管理サービス。
// 冪等な明示的更新（トグルではない）で状態を変更する。
//
// サービスアカウントの記事ではローカル更新後にリモートへも状態を
// 送信する。送信に失敗した場合はエラーを返すが、ローカルの変更は
// 取り消さない。リモート側が権威を持つため、次回の同期で状態は
// リモートの値に収束する。
type ItemStateService struct {
	itemRepo    repository.ItemRepository
	feedRepo    repository.FeedRepository
	accountRepo repository.AccountRepository
	adapters    map[model.AccountType]service.Adapter
	logger      *slog.Logger
}

// NewItemStateService はItemStateServiceの新しいインスタンスを生成する。
func NewItemStateService(
	itemRepo repository.ItemRepository,
	feedRepo repository.FeedRepository,
	accountRepo repository.AccountRepository,
	adapters map[model.AccountType]service.Adapter,
	logger *slog.Logger,
) *ItemStateService {
	return &ItemStateService{
		itemRepo:    itemRepo,
		feedRepo:    feedRepo,
		accountRepo: accountRepo,
		adapters:    adapters,
		logger:      logger,
	}
}

// SetReadState は記事の既読状態を冪等に更新する。
// 記事が存在しない場合はNotFoundErrorを返す。
func (s *ItemStateService) SetReadState(ctx context.Context, itemID string, read bool) error {
	item, account, err := s.resolve(ctx, itemID)
	if err != nil {
		return err
	}

	if err := s.itemRepo.UpdateReadState(ctx, itemID, read); err != nil {
		return err
	}

	if account.IsService() {
		adapter, ok := s.adapters[account.Type]
		if !ok {
			return &model.ValidationError{Message: "このアカウント種別のアダプタが登録されていません: " + string(account.Type)}
		}
		if err := adapter.SetItemReadState(ctx, account.Credentials(), item.RemoteID, read); err != nil {
			s.logger.Warn("既読状態のリモート送信に失敗しました",
				slog.String("item_id", itemID),
				slog.String("account_type", string(account.Type)),
				slog.String("error", err.Error()),
			)
			return err
		}
	}

	return nil
}

// SetStarState は記事のスター状態を冪等に更新する。
// 記事が存在しない場合はNotFoundErrorを返す。
func (s *ItemStateService) SetStarState(ctx context.Context, itemID string, starred bool) error {
	item, account, err := s.resolve(ctx, itemID)
	if err != nil {
		return err
	}

	if err := s.itemRepo.UpdateStarState(ctx, itemID, starred); err != nil {
		return err
	}

	if account.IsService() {
		adapter, ok := s.adapters[account.Type]
		if !ok {
			return &model.ValidationError{Message: "このアカウント種別のアダプタが登録されていません: " + string(account.Type)}
		}
		if err := adapter.SetItemStarState(ctx, account.Credentials(), item.RemoteID, starred); err != nil {
			s.logger.Warn("スター状態のリモート送信に失敗しました",
				slog.String("item_id", itemID),
				slog.String("account_type", string(account.Type)),
				slog.String("error", err.Error()),
			)
			return err
		}
	}

	return nil
}

// resolve は記事とその所属アカウントを取得する。
func (s *ItemStateService) resolve(ctx context.Context, itemID string) (*model.Item, *model.Account, error) {
	item, err := s.itemRepo.FindByID(ctx, itemID)
	if err != nil {
		return nil, nil, err
	}
	if item == nil {
		return nil, nil, &model.NotFoundError{Kind: "item", ID: itemID}
	}

	feed, err := s.feedRepo.FindByID(ctx, item.FeedID)
	if err != nil {
		return nil, nil, err
	}
	if feed == nil {
		return nil, nil, &model.NotFoundError{Kind: "feed", ID: item.FeedID}
	}

	account, err := s.accountRepo.FindByID(ctx, feed.AccountID)
	if err != nil {
		return nil, nil, err
	}
	if account == nil {
		return nil, nil, &model.NotFoundError{Kind: "account", ID: feed.AccountID}
	}

	return item, account, nil
}

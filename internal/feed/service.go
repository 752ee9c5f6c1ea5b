package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/feedsync/internal/model"
	"github.com/hitoshi/feedsync/internal/repository"
)

// URLDetector はフィードURL検出のインターフェース。
// テスタビリティのためDetectorを抽象化する。
type URLDetector interface {
	DetectFeedURL(ctx context.Context, inputURL string) (string, error)
}

// FetcherService はフィード取得のインターフェース。
type FetcherService interface {
	FetchFeed(ctx context.Context, rawURL string, opts FetchOptions) (*model.Feed, []model.ParsedItem, error)
	ProbeIsFeed(ctx context.Context, rawURL string) bool
}

// Merger は取得済み記事をストレージへマージするインターフェース。
// 実装は同期層が提供する。
type Merger interface {
	MergeFeed(ctx context.Context, account *model.Account, feed *model.Feed, incoming []model.ParsedItem) (inserted, updated int, err error)
}

// Service はフィード登録・管理のサービス層。
// 検出 → 初回フェッチ → フィード保存 → 初回マージ → アイコン解決の
// フローを統括する。
type Service struct {
	accountRepo  repository.AccountRepository
	feedRepo     repository.FeedRepository
	detector     URLDetector
	fetcher      FetcherService
	iconResolver IconResolverService
	merger       Merger
	logger       *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	accountRepo repository.AccountRepository,
	feedRepo repository.FeedRepository,
	detector URLDetector,
	fetcher FetcherService,
	iconResolver IconResolverService,
	merger Merger,
	logger *slog.Logger,
) *Service {
	return &Service{
		accountRepo:  accountRepo,
		feedRepo:     feedRepo,
		detector:     detector,
		fetcher:      fetcher,
		iconResolver: iconResolver,
		merger:       merger,
		logger:       logger,
	}
}

// AddFeedByURL はURLからフィードを検出してローカルアカウントへ登録する。
// 入力URLはフィードでもHTMLページでもよい。
// フロー: アカウント確認 → フィードURL検出 → 重複チェック →
// 初回フェッチ＆パース → 保存 → 初回マージ → アイコン解決
func (s *Service) AddFeedByURL(ctx context.Context, accountID, inputURL string) (*model.Feed, error) {
	account, err := s.accountRepo.FindByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("アカウントの取得に失敗しました: %w", err)
	}
	if account == nil {
		return nil, &model.NotFoundError{Kind: "account", ID: accountID}
	}
	// サービスアカウントのフィードはリモート側で管理され、同期で到着する
	if account.IsService() {
		return nil, &model.ValidationError{Message: "サービスアカウントへのフィード追加はサービス側で行ってください"}
	}

	feedURL, err := s.detector.DetectFeedURL(ctx, inputURL)
	if err != nil {
		return nil, err
	}

	if err := s.checkDuplicate(ctx, accountID, feedURL); err != nil {
		return nil, err
	}

	parsed, items, err := s.fetcher.FetchFeed(ctx, feedURL, FetchOptions{})
	if err != nil {
		return nil, err
	}

	// リダイレクトで正規URLが変わった場合はそちらでも重複を確認する
	if parsed.URL != feedURL {
		if err := s.checkDuplicate(ctx, accountID, parsed.URL); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	feed := &model.Feed{
		ID:           uuid.New().String(),
		AccountID:    accountID,
		URL:          parsed.URL,
		SiteURL:      parsed.SiteURL,
		Name:         parsed.Name,
		ETag:         parsed.ETag,
		LastModified: parsed.LastModified,
		SyncStatus:   model.SyncStatusActive,
		NextSyncAt:   now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if feed.Name == "" {
		feed.Name = parsed.URL
	}

	if err := s.feedRepo.Create(ctx, feed); err != nil {
		return nil, fmt.Errorf("フィードの保存に失敗しました: %w", err)
	}

	inserted, _, err := s.merger.MergeFeed(ctx, account, feed, items)
	if err != nil {
		return nil, fmt.Errorf("初回同期に失敗しました: %w", err)
	}

	s.resolveAndSaveIcon(ctx, feed, parsed.IconURL)

	s.logger.Info("フィードを登録しました",
		slog.String("feed_id", feed.ID),
		slog.String("feed_url", feed.URL),
		slog.Int("item_count", inserted),
	)

	return feed, nil
}

// ProbeIsFeed は指定URLがフィードかどうかを判定する。判定不能はfalse。
func (s *Service) ProbeIsFeed(ctx context.Context, rawURL string) bool {
	return s.fetcher.ProbeIsFeed(ctx, rawURL)
}

// GetFeed はフィード情報を取得する。
func (s *Service) GetFeed(ctx context.Context, feedID string) (*model.Feed, error) {
	feed, err := s.feedRepo.FindByID(ctx, feedID)
	if err != nil {
		return nil, fmt.Errorf("フィードの取得に失敗しました: %w", err)
	}
	if feed == nil {
		return nil, &model.NotFoundError{Kind: "feed", ID: feedID}
	}
	return feed, nil
}

// ListFeeds はアカウントのフィード一覧を返す。
func (s *Service) ListFeeds(ctx context.Context, accountID string) ([]*model.Feed, error) {
	feeds, err := s.feedRepo.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("フィード一覧の取得に失敗しました: %w", err)
	}
	return feeds, nil
}

// UpdateFeed はフィードの名前とフォルダを更新する。
func (s *Service) UpdateFeed(ctx context.Context, feedID, name string, folderID *string) (*model.Feed, error) {
	feed, err := s.GetFeed(ctx, feedID)
	if err != nil {
		return nil, err
	}

	if name != "" {
		feed.Name = name
	}
	feed.FolderID = folderID
	feed.UpdatedAt = time.Now()

	if err := s.feedRepo.Update(ctx, feed); err != nil {
		return nil, fmt.Errorf("フィードの更新に失敗しました: %w", err)
	}

	return feed, nil
}

// ResumeSync は停止中フィードの同期を再開する。
// エラーカウントをリセットし、次回同期を即時に設定する。
func (s *Service) ResumeSync(ctx context.Context, feedID string) (*model.Feed, error) {
	feed, err := s.GetFeed(ctx, feedID)
	if err != nil {
		return nil, err
	}
	if feed.SyncStatus != model.SyncStatusStopped {
		return nil, &model.ValidationError{Message: "このフィードは停止していません"}
	}

	feed.SyncStatus = model.SyncStatusActive
	feed.ConsecutiveErrors = 0
	feed.ErrorMessage = ""
	feed.NextSyncAt = time.Now()

	if err := s.feedRepo.UpdateSyncState(ctx, feed); err != nil {
		return nil, fmt.Errorf("フィード状態の更新に失敗しました: %w", err)
	}

	return feed, nil
}

// Unsubscribe はフィードの購読を解除する。
// 関連する記事はデータベースのCASCADE制約で同一トランザクション内で
// 削除される。
func (s *Service) Unsubscribe(ctx context.Context, feedID string) error {
	feed, err := s.GetFeed(ctx, feedID)
	if err != nil {
		return err
	}

	if err := s.feedRepo.DeleteByID(ctx, feed.ID); err != nil {
		return fmt.Errorf("フィードの削除に失敗しました: %w", err)
	}

	s.logger.Info("フィードを削除しました",
		slog.String("feed_id", feed.ID),
		slog.String("feed_url", feed.URL),
	)

	return nil
}

// checkDuplicate はアカウント内で同一URLのフィードが既に存在しないか確認する。
func (s *Service) checkDuplicate(ctx context.Context, accountID, feedURL string) error {
	existing, err := s.feedRepo.FindByAccountAndURL(ctx, accountID, feedURL)
	if err != nil {
		return fmt.Errorf("フィードの検索に失敗しました: %w", err)
	}
	if existing != nil {
		return &model.DuplicateFeedError{URL: feedURL}
	}
	return nil
}

// resolveAndSaveIcon はフィードのアイコンURLを解決して保存する。
// 失敗してもエラーを返さない。
func (s *Service) resolveAndSaveIcon(ctx context.Context, feed *model.Feed, declaredIconURL string) {
	if s.iconResolver == nil {
		return
	}

	siteURL := feed.SiteURL
	if siteURL == "" {
		siteURL = feed.URL
	}

	iconURL := s.iconResolver.ResolveIconURL(ctx, declaredIconURL, siteURL)
	if iconURL == "" {
		return
	}

	if err := s.feedRepo.UpdateIcon(ctx, feed.ID, iconURL); err != nil {
		s.logger.Warn("アイコンの保存に失敗", "feed_id", feed.ID, "error", err)
		return
	}
	feed.IconURL = iconURL
}

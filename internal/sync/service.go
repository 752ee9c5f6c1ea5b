package sync

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/feedsync/internal/feed"
	"github.com/hitoshi/feedsync/internal/metrics"
	"github.com/hitoshi/feedsync/internal/model"
	"github.com/hitoshi/feedsync/internal/repository"
	"github.com/hitoshi/feedsync/internal/service"
)

// defaultConcurrency はローカルフィード同期のデフォルト並列数。
const defaultConcurrency = 10

// FeedFetcher はフィード取得のインターフェース。
type FeedFetcher interface {
	FetchFeed(ctx context.Context, rawURL string, opts feed.FetchOptions) (*model.Feed, []model.ParsedItem, error)
}

// Service はアカウント単位のバッチ同期を統括する。
//
// SyncAccountはフィードごとに1件のSyncResultを入力順で流すチャネルを
// 返す。1フィードの失敗は他フィードの同期を妨げない。
// コンテキストのキャンセルは新しいフィードの開始のみを止める。
// 開始済みのフィードはフェッチ・マージまで完了し、中途半端な
// 状態をストレージに残さない。
type Service struct {
	accountRepo repository.AccountRepository
	folderRepo  repository.FolderRepository
	feedRepo    repository.FeedRepository
	fetcher     FeedFetcher
	adapters    map[model.AccountType]service.Adapter
	reconciler  *Reconciler
	collector   metrics.MetricsCollector
	logger      *slog.Logger

	concurrency  int
	syncInterval time.Duration
}

// NewService はServiceの新しいインスタンスを生成する。
// concurrencyが0以下の場合はデフォルト値10を使用する。
func NewService(
	accountRepo repository.AccountRepository,
	folderRepo repository.FolderRepository,
	feedRepo repository.FeedRepository,
	fetcher FeedFetcher,
	adapters map[model.AccountType]service.Adapter,
	reconciler *Reconciler,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	concurrency int,
	syncInterval time.Duration,
) *Service {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Service{
		accountRepo:  accountRepo,
		folderRepo:   folderRepo,
		feedRepo:     feedRepo,
		fetcher:      fetcher,
		adapters:     adapters,
		reconciler:   reconciler,
		collector:    collector,
		logger:       logger,
		concurrency:  concurrency,
		syncInterval: syncInterval,
	}
}

// SyncAccount はアカウントの全フィードを同期し、結果ストリームを返す。
// チャネルは全フィードの処理後にクローズされる。
func (s *Service) SyncAccount(ctx context.Context, accountID string) (<-chan model.SyncResult, error) {
	account, err := s.accountRepo.FindByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, &model.NotFoundError{Kind: "account", ID: accountID}
	}

	if account.IsService() {
		return s.syncServiceAccount(ctx, account)
	}
	return s.syncLocalAccount(ctx, account)
}

// syncLocalAccount は同期対象のローカルフィードをワーカープールで
// 並列に同期する。結果は並列実行にかかわらず入力順で流す。
func (s *Service) syncLocalAccount(ctx context.Context, account *model.Account) (<-chan model.SyncResult, error) {
	feeds, err := s.feedRepo.ListDueForSync(ctx, account.ID)
	if err != nil {
		return nil, err
	}

	out := make(chan model.SyncResult)
	slots := make([]chan model.SyncResult, len(feeds))
	for i := range slots {
		slots[i] = make(chan model.SyncResult, 1)
	}

	// ワーカー起動。キャンセル後は新しいフィードを開始しない
	go func() {
		sem := make(chan struct{}, s.concurrency)
		for i, f := range feeds {
			if ctx.Err() != nil {
				slots[i] <- model.SyncResult{FeedID: f.ID, Err: ctx.Err()}
				continue
			}

			sem <- struct{}{}
			go func(i int, f *model.Feed) {
				defer func() { <-sem }()
				slots[i] <- s.syncLocalFeed(ctx, account, f)
			}(i, f)
		}
	}()

	// 入力順に結果を転送する
	go func() {
		defer close(out)
		for i := range slots {
			out <- <-slots[i]
		}
	}()

	return out, nil
}

// syncLocalFeed は1フィードの条件付きフェッチとマージを実行する。
// 開始済みの処理はキャンセルの影響を受けずに完了する。
// マージが途中で切られて部分的な状態が残ることを防ぐため。
func (s *Service) syncLocalFeed(ctx context.Context, account *model.Account, f *model.Feed) model.SyncResult {
	runCtx := context.WithoutCancel(ctx)
	start := time.Now()

	fetched, items, err := s.fetcher.FetchFeed(runCtx, f.URL, feed.FetchOptions{
		ETag:         f.ETag,
		LastModified: f.LastModified,
	})

	if errors.Is(err, model.ErrNotModified) {
		ApplySuccess(f, s.syncInterval)
		if stateErr := s.feedRepo.UpdateSyncState(runCtx, f); stateErr != nil {
			return model.SyncResult{FeedID: f.ID, Err: stateErr}
		}
		s.collector.RecordSyncSkipped(string(account.Type))
		return model.SyncResult{FeedID: f.ID, Succeeded: true, Skipped: true}
	}

	if err != nil {
		return s.failFeed(runCtx, account, f, err)
	}

	inserted, updated, err := s.reconciler.MergeFeed(runCtx, account, f, items)
	if err != nil {
		return s.failFeed(runCtx, account, f, err)
	}

	// フィードメタデータとキャッシュトークンを取り込む
	if fetched.Name != "" {
		f.Name = fetched.Name
	}
	if fetched.SiteURL != "" {
		f.SiteURL = fetched.SiteURL
	}
	f.ETag = fetched.ETag
	f.LastModified = fetched.LastModified

	if err := s.feedRepo.Update(runCtx, f); err != nil {
		return model.SyncResult{FeedID: f.ID, Err: err}
	}
	ApplySuccess(f, s.syncInterval)
	if err := s.feedRepo.UpdateSyncState(runCtx, f); err != nil {
		return model.SyncResult{FeedID: f.ID, Err: err}
	}

	s.collector.RecordSyncSuccess(string(account.Type))
	s.collector.RecordSyncLatency(time.Since(start))
	s.collector.RecordItemsInserted(inserted)
	s.collector.RecordItemsUpdated(updated)

	s.logger.Info("フィードを同期しました",
		slog.String("feed_id", f.ID),
		slog.String("feed_url", f.URL),
		slog.Int("inserted", inserted),
		slog.Int("updated", updated),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return model.SyncResult{FeedID: f.ID, Succeeded: true, Inserted: inserted, Updated: updated}
}

// failFeed は同期失敗をフィード状態機械へ反映し、失敗結果を返す。
func (s *Service) failFeed(ctx context.Context, account *model.Account, f *model.Feed, err error) model.SyncResult {
	ApplyFailure(f, err)

	var netErr *model.NetworkError
	if errors.As(err, &netErr) {
		s.collector.RecordHTTPStatus(netErr.StatusCode)
	}
	var authErr *model.AuthError
	if errors.As(err, &authErr) {
		s.collector.RecordAuthFailure(authErr.Service)
	}
	if ClassifyError(err) == ErrorClassParseFailure {
		s.collector.RecordParseFailure()
	}
	s.collector.RecordSyncFailure(string(account.Type), errorReason(err))

	if stateErr := s.feedRepo.UpdateSyncState(ctx, f); stateErr != nil {
		s.logger.Error("フィード状態の保存に失敗しました",
			slog.String("feed_id", f.ID),
			slog.String("error", stateErr.Error()),
		)
	}

	s.logger.Warn("フィードの同期に失敗しました",
		slog.String("feed_id", f.ID),
		slog.String("feed_url", f.URL),
		slog.String("sync_status", string(f.SyncStatus)),
		slog.Int("consecutive_errors", f.ConsecutiveErrors),
		slog.String("error", err.Error()),
	)

	return model.SyncResult{FeedID: f.ID, Err: err}
}

// syncServiceAccount はサービスアカウントを同期する。
// フォルダ → フィード → 記事の順でリモート状態を取り込む。
// 認証情報はこの関数のスコープでのみ取り回され、保持されない。
func (s *Service) syncServiceAccount(ctx context.Context, account *model.Account) (<-chan model.SyncResult, error) {
	adapter, ok := s.adapters[account.Type]
	if !ok {
		return nil, &model.ValidationError{Message: "このアカウント種別のアダプタが登録されていません: " + string(account.Type)}
	}

	out := make(chan model.SyncResult)

	go func() {
		defer close(out)

		creds := account.Credentials()

		if err := s.syncFolders(ctx, adapter, account, creds); err != nil {
			s.collector.RecordSyncFailure(string(account.Type), errorReason(err))
			out <- model.SyncResult{Err: err}
			return
		}

		localFeeds, remoteOrder, err := s.syncServiceFeeds(ctx, adapter, account, creds)
		if err != nil {
			s.collector.RecordSyncFailure(string(account.Type), errorReason(err))
			out <- model.SyncResult{Err: err}
			return
		}

		items, err := adapter.ListItems(ctx, creds)
		if err != nil {
			s.collector.RecordSyncFailure(string(account.Type), errorReason(err))
			out <- model.SyncResult{Err: err}
			return
		}

		// 記事をバックエンド側フィードIDでグループ化する
		grouped := make(map[string][]model.ParsedItem)
		for _, it := range items {
			grouped[it.FeedRemoteID] = append(grouped[it.FeedRemoteID], it)
		}

		for _, remoteID := range remoteOrder {
			f := localFeeds[remoteID]

			if ctx.Err() != nil {
				out <- model.SyncResult{FeedID: f.ID, Err: ctx.Err()}
				continue
			}

			start := time.Now()
			mergeCtx := context.WithoutCancel(ctx)
			inserted, updated, mergeErr := s.reconciler.MergeFeed(mergeCtx, account, f, grouped[remoteID])
			if mergeErr != nil {
				out <- s.failFeed(mergeCtx, account, f, mergeErr)
				continue
			}

			s.collector.RecordSyncSuccess(string(account.Type))
			s.collector.RecordSyncLatency(time.Since(start))
			s.collector.RecordItemsInserted(inserted)
			s.collector.RecordItemsUpdated(updated)

			out <- model.SyncResult{FeedID: f.ID, Succeeded: true, Inserted: inserted, Updated: updated}
		}
	}()

	return out, nil
}

// syncFolders はリモートのフォルダ一覧をローカルへ取り込む。
func (s *Service) syncFolders(ctx context.Context, adapter service.Adapter, account *model.Account, creds model.Credentials) error {
	folders, err := adapter.ListFolders(ctx, creds)
	if err != nil {
		return err
	}

	now := time.Now()
	for _, remote := range folders {
		existing, err := s.folderRepo.FindByAccountAndRemoteID(ctx, account.ID, remote.RemoteID)
		if err != nil {
			return err
		}
		if existing == nil {
			folder := &model.Folder{
				ID:        uuid.New().String(),
				AccountID: account.ID,
				RemoteID:  remote.RemoteID,
				Name:      remote.Name,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := s.folderRepo.Create(ctx, folder); err != nil {
				return err
			}
			continue
		}
		if existing.Name != remote.Name {
			existing.Name = remote.Name
			existing.UpdatedAt = now
			if err := s.folderRepo.Update(ctx, existing); err != nil {
				return err
			}
		}
	}

	return nil
}

// syncServiceFeeds はリモートの購読一覧をローカルへ取り込む。
// 戻り値はリモートID→ローカルフィードの対応表と、リモート側の並び順。
func (s *Service) syncServiceFeeds(ctx context.Context, adapter service.Adapter, account *model.Account, creds model.Credentials) (map[string]*model.Feed, []string, error) {
	remoteFeeds, err := adapter.ListFeeds(ctx, creds)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now()
	localFeeds := make(map[string]*model.Feed, len(remoteFeeds))
	remoteOrder := make([]string, 0, len(remoteFeeds))

	for _, remote := range remoteFeeds {
		var folderID *string
		if remote.FolderRemoteID != "" {
			folder, err := s.folderRepo.FindByAccountAndRemoteID(ctx, account.ID, remote.FolderRemoteID)
			if err != nil {
				return nil, nil, err
			}
			if folder != nil {
				folderID = &folder.ID
			}
		}

		existing, err := s.feedRepo.FindByAccountAndRemoteID(ctx, account.ID, remote.RemoteID)
		if err != nil {
			return nil, nil, err
		}

		if existing == nil {
			f := &model.Feed{
				ID:         uuid.New().String(),
				AccountID:  account.ID,
				FolderID:   folderID,
				RemoteID:   remote.RemoteID,
				URL:        remote.URL,
				SiteURL:    remote.SiteURL,
				Name:       remote.Name,
				IconURL:    remote.IconURL,
				SyncStatus: model.SyncStatusActive,
				NextSyncAt: now,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			if err := s.feedRepo.Create(ctx, f); err != nil {
				return nil, nil, err
			}
			existing = f
		} else {
			existing.FolderID = folderID
			existing.URL = remote.URL
			existing.SiteURL = remote.SiteURL
			existing.Name = remote.Name
			if remote.IconURL != "" {
				existing.IconURL = remote.IconURL
			}
			existing.UpdatedAt = now
			if err := s.feedRepo.Update(ctx, existing); err != nil {
				return nil, nil, err
			}
		}

		localFeeds[remote.RemoteID] = existing
		remoteOrder = append(remoteOrder, remote.RemoteID)
	}

	return localFeeds, remoteOrder, nil
}

// errorReason はメトリクスのラベル用にエラー種別名を返す。
func errorReason(err error) string {
	var authErr *model.AuthError
	if errors.As(err, &authErr) {
		return "auth"
	}
	var netErr *model.NetworkError
	if errors.As(err, &netErr) {
		return "http"
	}
	var parseErr *model.ParseError
	if errors.As(err, &parseErr) {
		return "parse"
	}
	var formatErr *model.UnknownFormatError
	if errors.As(err, &formatErr) {
		return "unknown_format"
	}
	var transportErr *model.TransportError
	if errors.As(err, &transportErr) {
		return "transport"
	}
	return "other"
}

package sync

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/feedsync/internal/model"
	"github.com/hitoshi/feedsync/internal/repository"
)

// AccountSyncer はアカウント単位の同期実行インターフェース。
type AccountSyncer interface {
	// SyncAccount はアカウントの全フィードを同期し、結果ストリームを返す。
	SyncAccount(ctx context.Context, accountID string) (<-chan model.SyncResult, error)
}

// Scheduler は全アカウントの定期同期を行う。
// 指定間隔のティッカーで全アカウントを順に同期し、フィード単位の
// 並列制御は同期サービス側に委ねる。
type Scheduler struct {
	accountRepo repository.AccountRepository
	syncer      AccountSyncer
	logger      *slog.Logger
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
func NewScheduler(
	accountRepo repository.AccountRepository,
	syncer AccountSyncer,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		accountRepo: accountRepo,
		syncer:      syncer,
		logger:      logger,
	}
}

// Start は指定間隔のティッカーでスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("同期スケジューラを開始しました",
		slog.Duration("interval", interval),
	)

	// 起動直後に1回実行
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("同期サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("同期スケジューラを停止しました")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error("同期サイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce は全アカウントを1回ずつ同期する。
// 1アカウントの失敗は他アカウントの同期を妨げない。
func (s *Scheduler) RunOnce(ctx context.Context) error {
	start := time.Now()

	accounts, err := s.accountRepo.List(ctx)
	if err != nil {
		return err
	}

	var succeeded, skipped, failed int
	for _, account := range accounts {
		if ctx.Err() != nil {
			break
		}

		results, err := s.syncer.SyncAccount(ctx, account.ID)
		if err != nil {
			failed++
			s.logger.Error("アカウント同期の開始に失敗しました",
				slog.String("account_id", account.ID),
				slog.String("account_type", string(account.Type)),
				slog.String("error", err.Error()),
			)
			continue
		}

		for result := range results {
			switch {
			case result.Err != nil:
				failed++
			case result.Skipped:
				skipped++
			default:
				succeeded++
			}
		}
	}

	duration := time.Since(start)
	s.logger.Info("同期サイクルが完了しました",
		slog.Int("account_count", len(accounts)),
		slog.Int("succeeded", succeeded),
		slog.Int("skipped", skipped),
		slog.Int("failed", failed),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// Package prune は保持期間を超過した記事の自動削除ジョブを提供する。
// 日次バッチとしてフィードごとに古い記事を削除する。スター付き記事は
// 削除対象から除外される。
package prune

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/feedsync/internal/metrics"
	"github.com/hitoshi/feedsync/internal/repository"
)

// DefaultRetention は記事のデフォルト保持期間（180日）。
const DefaultRetention = 180 * 24 * time.Hour

// PruneJob は保持期間を超過した記事の自動削除ジョブ。
// 冪等: 削除対象がない場合でもエラーにならない。
type PruneJob struct {
	accountRepo repository.AccountRepository
	feedRepo    repository.FeedRepository
	itemRepo    repository.ItemRepository
	collector   metrics.MetricsCollector
	logger      *slog.Logger

	// Retention は記事の保持期間。0以下の場合は削除を行わない。
	Retention time.Duration
}

// NewPruneJob は新しいPruneJobを生成する。
// デフォルトの保持期間は180日。
func NewPruneJob(
	accountRepo repository.AccountRepository,
	feedRepo repository.FeedRepository,
	itemRepo repository.ItemRepository,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *PruneJob {
	return &PruneJob{
		accountRepo: accountRepo,
		feedRepo:    feedRepo,
		itemRepo:    itemRepo,
		collector:   collector,
		logger:      logger,
		Retention:   DefaultRetention,
	}
}

// Run は全フィードについて保持期限より古い記事を削除する。
// pub_dateが期限より古く、かつスターの付いていない記事をDELETEする。
func (j *PruneJob) Run(ctx context.Context) error {
	if j.Retention <= 0 {
		return nil
	}

	start := time.Now()
	horizon := start.Add(-j.Retention)

	accounts, err := j.accountRepo.List(ctx)
	if err != nil {
		return err
	}

	var totalDeleted int64
	for _, account := range accounts {
		feeds, err := j.feedRepo.ListByAccount(ctx, account.ID)
		if err != nil {
			return err
		}

		for _, feed := range feeds {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			deleted, err := j.itemRepo.DeleteOlderThan(ctx, feed.ID, horizon)
			if err != nil {
				j.logger.Error("記事の削除に失敗しました",
					slog.String("feed_id", feed.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			totalDeleted += deleted
		}
	}

	j.collector.RecordItemsPruned(int(totalDeleted))

	duration := time.Since(start)
	j.logger.Info("記事の削除ジョブが完了しました",
		slog.Int64("deleted_count", totalDeleted),
		slog.Time("horizon", horizon),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// Start は指定間隔のティッカーで削除ジョブを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *PruneJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("記事の削除ジョブを開始しました",
		slog.Duration("interval", interval),
		slog.Duration("retention", j.Retention),
	)

	if err := j.Run(ctx); err != nil {
		j.logger.Error("記事の削除ジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("記事の削除ジョブを停止しました")
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Error("記事の削除ジョブの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// Package sync はフィード同期のドメインロジックを提供する。
// リコンサイラ、バックオフ戦略、アカウント同期サービス、スケジューラを含む。
package sync

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/feedsync/internal/item"
	"github.com/hitoshi/feedsync/internal/model"
	"github.com/hitoshi/feedsync/internal/repository"
	"github.com/hitoshi/feedsync/internal/security"
)

// TxRunner は関数をデータベーストランザクション内で実行する。
// fnがエラーを返した場合はロールバック、nilならコミットされる。
// 実装はdatabaseパッケージが提供する。
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(tx repository.DBTX) error) error
}

// ItemRepoFactory はDBTX（プールまたはトランザクション）上に
// ItemRepositoryを構築するファクトリ。
// リコンサイラはこれを使ってフィード単位のトランザクションに
// スコープされたリポジトリを得る。
type ItemRepoFactory func(db repository.DBTX) repository.ItemRepository

// Reconciler は取得済み記事の集合をストレージへマージする。
//
// 保証:
//   - フィード単位の直列化: 同一フィードへの並行マージはミューテックスで
//     直列化され、後着は先行の完了を待つ
//   - フィード単位のトランザクション: 1回のマージは1つのsql.Txで行われ、
//     途中失敗時は全体がロールバックされる
//   - 自然キーによる重複排除: 同じ記事の再マージは挿入ではなく更新になる
type Reconciler struct {
	db          TxRunner
	newItemRepo ItemRepoFactory
	sanitizer   security.ContentSanitizerService
	logger      *slog.Logger

	// retention は記事の保持期間。0なら無期限。
	// 期限より古い新規記事はマージされない（削除済み記事の復活防止）。
	retention time.Duration

	mu        sync.Mutex
	feedLocks map[string]*sync.Mutex
}

// NewReconciler はReconcilerの新しいインスタンスを生成する。
func NewReconciler(
	db TxRunner,
	newItemRepo ItemRepoFactory,
	sanitizer security.ContentSanitizerService,
	logger *slog.Logger,
	retention time.Duration,
) *Reconciler {
	return &Reconciler{
		db:          db,
		newItemRepo: newItemRepo,
		sanitizer:   sanitizer,
		logger:      logger,
		retention:   retention,
		feedLocks:   make(map[string]*sync.Mutex),
	}
}

// MergeFeed は1フィード分の取得済み記事をマージする。
// マージ規則:
//   - 新規記事は挿入。既読・スターはローカルアカウントでは常にfalse、
//     サービスアカウントではリモートの値を採用する
//   - 既存記事（自然キー一致）はコンテンツフィールドのみ上書き更新。
//     ローカルアカウントでは既読・スターを変更しない
//   - サービスアカウントではリモートの既読・スターが権威を持ち、
//     ローカルの状態を上書きする
//   - 保持期限より古い新規記事はスキップされる（復活防止）
//
// 戻り値は挿入数、更新数、エラー。
func (r *Reconciler) MergeFeed(ctx context.Context, account *model.Account, feed *model.Feed, incoming []model.ParsedItem) (inserted, updated int, err error) {
	if len(incoming) == 0 {
		return 0, 0, nil
	}

	lock := r.lockFor(feed.ID)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now()
	horizon := time.Time{}
	if r.retention > 0 {
		horizon = now.Add(-r.retention)
	}

	isService := account != nil && account.IsService()

	err = r.db.RunInTx(ctx, func(tx repository.DBTX) error {
		itemRepo := r.newItemRepo(tx)

		// バッチ内の重複キーは先勝ち。同一マージでの二重挿入を防ぐ
		seen := make(map[string]struct{}, len(incoming))

		for _, parsed := range incoming {
			key := naturalKey(parsed)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}

			existing, findErr := itemRepo.FindByFeedAndRemoteID(ctx, feed.ID, key)
			if findErr != nil {
				return fmt.Errorf("記事の同一性判定に失敗: %w", findErr)
			}

			if existing == nil {
				// 保持期限より古い記事は挿入しない。一度削除された記事が
				// フィードに残り続けても復活させないため
				if !horizon.IsZero() && parsed.PubDate != nil && parsed.PubDate.Before(horizon) {
					continue
				}
				if createErr := r.createItem(ctx, itemRepo, feed.ID, key, parsed, isService, now); createErr != nil {
					return fmt.Errorf("記事の挿入に失敗: %w", createErr)
				}
				inserted++
				continue
			}

			if updateErr := r.updateItem(ctx, itemRepo, existing, parsed, isService, now); updateErr != nil {
				return fmt.Errorf("記事の更新に失敗: %w", updateErr)
			}
			updated++
		}

		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	r.logger.Info("記事をマージしました",
		slog.String("feed_id", feed.ID),
		slog.Int("inserted", inserted),
		slog.Int("updated", updated),
	)

	return inserted, updated, nil
}

// createItem は新規記事を挿入する。
func (r *Reconciler) createItem(ctx context.Context, itemRepo repository.ItemRepository, feedID, key string, parsed model.ParsedItem, isService bool, now time.Time) error {
	content := r.sanitizer.Sanitize(parsed.Content)

	newItem := &model.Item{
		ID:        uuid.New().String(),
		FeedID:    feedID,
		RemoteID:  key,
		Title:     parsed.Title,
		Link:      parsed.Link,
		Author:    parsed.Author,
		Content:   content,
		ImageURL:  parsed.ImageURL,
		ReadTime:  item.EstimateReadTime(content),
		FetchedAt: now,
		CreatedAt: now,
		UpdatedAt: now,
	}

	// 公開日時未提供の場合は取得時刻を代用する
	if parsed.PubDate != nil {
		newItem.PubDate = parsed.PubDate
	} else {
		t := now
		newItem.PubDate = &t
	}

	// 既読・スターの初期値はローカルでは常にfalse。
	// サービスアカウントではリモートの状態が権威を持つ
	if isService {
		newItem.IsRead = parsed.IsRead
		newItem.IsStarred = parsed.IsStarred
	}

	return itemRepo.Create(ctx, newItem)
}

// updateItem は既存記事のコンテンツフィールドを上書き更新する。
// 自然キー（RemoteID）は変更しない。
func (r *Reconciler) updateItem(ctx context.Context, itemRepo repository.ItemRepository, existing *model.Item, parsed model.ParsedItem, isService bool, now time.Time) error {
	content := r.sanitizer.Sanitize(parsed.Content)

	existing.Title = parsed.Title
	existing.Link = parsed.Link
	existing.Author = parsed.Author
	existing.Content = content
	existing.ImageURL = parsed.ImageURL
	existing.ReadTime = item.EstimateReadTime(content)
	existing.UpdatedAt = now
	if parsed.PubDate != nil {
		existing.PubDate = parsed.PubDate
	}

	if err := itemRepo.Update(ctx, existing); err != nil {
		return err
	}

	// ローカルアカウントではユーザーの既読・スターを維持する。
	// サービスアカウントではリモートの状態で上書きする
	if isService {
		if existing.IsRead != parsed.IsRead {
			if err := itemRepo.UpdateReadState(ctx, existing.ID, parsed.IsRead); err != nil {
				return err
			}
			existing.IsRead = parsed.IsRead
		}
		if existing.IsStarred != parsed.IsStarred {
			if err := itemRepo.UpdateStarState(ctx, existing.ID, parsed.IsStarred); err != nil {
				return err
			}
			existing.IsStarred = parsed.IsStarred
		}
	}

	return nil
}

// lockFor はフィードIDに対応するミューテックスを返す。
func (r *Reconciler) lockFor(feedID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	lock, ok := r.feedLocks[feedID]
	if !ok {
		lock = &sync.Mutex{}
		r.feedLocks[feedID] = lock
	}
	return lock
}

// naturalKey は記事の自然キーを合成する。
// 優先順位: リモートID > リンク > コンテンツフィンガープリント。
// 同じ入力からは常に同じキーが決定的に得られる。
func naturalKey(parsed model.ParsedItem) string {
	if parsed.RemoteID != "" {
		return parsed.RemoteID
	}
	if parsed.Link != "" {
		return parsed.Link
	}
	return contentFingerprint(parsed)
}

// contentFingerprint はtitle|published|contentのSHA-256から
// 決定的なキーを合成する。
func contentFingerprint(parsed model.ParsedItem) string {
	pubStr := ""
	if parsed.PubDate != nil {
		pubStr = parsed.PubDate.UTC().Format(time.RFC3339)
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s", parsed.Title, pubStr, parsed.Content)))
	return fmt.Sprintf("sha256:%x", sum)
}

// compile-time interface check
var _ repository.DBTX = (*sql.Tx)(nil)

package item

import (
	"context"
	"time"

	"github.com/hitoshi/feedsync/internal/model"
	"github.com/hitoshi/feedsync/internal/repository"
)

// ItemService は記事取得・フィルタリングのサービス。
type ItemService struct {
	itemRepo   repository.ItemRepository
	feedRepo   repository.FeedRepository
	folderRepo repository.FolderRepository
}

// NewItemService はItemServiceの新しいインスタンスを生成する。
func NewItemService(
	itemRepo repository.ItemRepository,
	feedRepo repository.FeedRepository,
	folderRepo repository.FolderRepository,
) *ItemService {
	return &ItemService{
		itemRepo:   itemRepo,
		feedRepo:   feedRepo,
		folderRepo: folderRepo,
	}
}

// ItemListResult はListItemsの戻り値。
type ItemListResult struct {
	Items      []ItemSummary
	NextCursor string
	HasMore    bool
}

// ItemSummary は記事一覧のサマリー情報。
type ItemSummary struct {
	ID        string
	FeedID    string
	Title     string
	Link      string
	Author    string
	ImageURL  string
	PubDate   time.Time
	ReadTime  float64
	IsRead    bool
	IsStarred bool
}

// ItemDetail は記事詳細情報。
type ItemDetail struct {
	ItemSummary
	Content string
}

// validFilters は有効なフィルタ値のセット。
var validFilters = map[model.ItemFilter]bool{
	model.ItemFilterAll:     true,
	model.ItemFilterUnread:  true,
	model.ItemFilterStarred: true,
}

// ListByFeed はフィードの記事一覧をフィルタ・ページネーション付きで返す。
// pub_date降順のカーソルベースページネーションを使用する。
// limit+1件を取得してHasMoreを判定する。
func (s *ItemService) ListByFeed(
	ctx context.Context,
	feedID string,
	filter model.ItemFilter,
	cursorStr string,
	limit int,
) (*ItemListResult, error) {
	cursor, err := parseListParams(filter, cursorStr)
	if err != nil {
		return nil, err
	}

	feed, err := s.feedRepo.FindByID(ctx, feedID)
	if err != nil {
		return nil, err
	}
	if feed == nil {
		return nil, &model.NotFoundError{Kind: "feed", ID: feedID}
	}

	items, err := s.itemRepo.ListByFeed(ctx, feedID, filter, cursor, limit+1)
	if err != nil {
		return nil, err
	}

	return buildListResult(items, limit), nil
}

// ListByFolder はフォルダ配下のフィード横断の記事一覧を返す。
func (s *ItemService) ListByFolder(
	ctx context.Context,
	folderID string,
	filter model.ItemFilter,
	cursorStr string,
	limit int,
) (*ItemListResult, error) {
	cursor, err := parseListParams(filter, cursorStr)
	if err != nil {
		return nil, err
	}

	folder, err := s.folderRepo.FindByID(ctx, folderID)
	if err != nil {
		return nil, err
	}
	if folder == nil {
		return nil, &model.NotFoundError{Kind: "folder", ID: folderID}
	}

	items, err := s.itemRepo.ListByFolder(ctx, folderID, filter, cursor, limit+1)
	if err != nil {
		return nil, err
	}

	return buildListResult(items, limit), nil
}

// ListByAccount はアカウント横断の記事一覧を返す。
func (s *ItemService) ListByAccount(
	ctx context.Context,
	accountID string,
	filter model.ItemFilter,
	cursorStr string,
	limit int,
) (*ItemListResult, error) {
	cursor, err := parseListParams(filter, cursorStr)
	if err != nil {
		return nil, err
	}

	items, err := s.itemRepo.ListByAccount(ctx, accountID, filter, cursor, limit+1)
	if err != nil {
		return nil, err
	}

	return buildListResult(items, limit), nil
}

// GetItem は記事詳細を返す。
func (s *ItemService) GetItem(ctx context.Context, itemID string) (*ItemDetail, error) {
	item, err := s.itemRepo.FindByID(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, &model.NotFoundError{Kind: "item", ID: itemID}
	}

	return &ItemDetail{
		ItemSummary: toSummary(item),
		Content:     item.Content,
	}, nil
}

// CountUnread はフィードの未読記事数を返す。
func (s *ItemService) CountUnread(ctx context.Context, feedID string) (int, error) {
	return s.itemRepo.CountUnreadByFeed(ctx, feedID)
}

// parseListParams はフィルタとカーソルを検証する。
func parseListParams(filter model.ItemFilter, cursorStr string) (time.Time, error) {
	if !validFilters[filter] {
		return time.Time{}, &model.ValidationError{Message: "無効なフィルタ値: " + string(filter)}
	}

	var cursor time.Time
	if cursorStr != "" {
		var err error
		cursor, err = time.Parse(time.RFC3339Nano, cursorStr)
		if err != nil {
			// RFC3339でもパースを試みる
			cursor, err = time.Parse(time.RFC3339, cursorStr)
			if err != nil {
				return time.Time{}, &model.ValidationError{Message: "無効なカーソル値: " + cursorStr}
			}
		}
	}

	return cursor, nil
}

// buildListResult はlimit+1件の取得結果からページングレスポンスを組み立てる。
func buildListResult(items []*model.Item, limit int) *ItemListResult {
	hasMore := len(items) > limit
	if hasMore {
		items = items[:limit] // 余分な1件を除外
	}

	summaries := make([]ItemSummary, len(items))
	for i, item := range items {
		summaries[i] = toSummary(item)
	}

	// HasMoreの場合、最後の記事のpub_dateをNextCursorに設定
	var nextCursor string
	if hasMore && len(summaries) > 0 {
		nextCursor = summaries[len(summaries)-1].PubDate.Format(time.RFC3339Nano)
	}

	return &ItemListResult{
		Items:      summaries,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}
}

func toSummary(item *model.Item) ItemSummary {
	pubAt := time.Time{}
	if item.PubDate != nil {
		pubAt = *item.PubDate
	}
	return ItemSummary{
		ID:        item.ID,
		FeedID:    item.FeedID,
		Title:     item.Title,
		Link:      item.Link,
		Author:    item.Author,
		ImageURL:  item.ImageURL,
		PubDate:   pubAt,
		ReadTime:  item.ReadTime,
		IsRead:    item.IsRead,
		IsStarred: item.IsStarred,
	}
}

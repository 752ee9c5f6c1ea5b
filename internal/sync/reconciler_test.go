package sync

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/feedsync/internal/model"
	"github.com/hitoshi/feedsync/internal/repository"
	"github.com/hitoshi/feedsync/internal/security"
)

// --- モック ---

// fakeTxRunner はトランザクションを模倣する。fnのエラーをそのまま返す。
type fakeTxRunner struct{}

func (fakeTxRunner) RunInTx(ctx context.Context, fn func(tx repository.DBTX) error) error {
	return fn(nil)
}

// mockItemRepo はfeed_id|remote_idをキーとするインメモリ記事ストア。
type mockItemRepo struct {
	items     map[string]*model.Item
	createErr error
	findDelay time.Duration

	// inFlight は同時実行検出用。lookupからcreate/updateまでの間に
	// 他のマージが割り込むと直列化違反としてカウントされる
	inFlight  atomic.Int32
	conflicts atomic.Int32

	readStateCalls []string
	starStateCalls []string
}

func newMockItemRepo() *mockItemRepo {
	return &mockItemRepo{items: make(map[string]*model.Item)}
}

func itemKey(feedID, remoteID string) string { return feedID + "|" + remoteID }

func (m *mockItemRepo) FindByID(ctx context.Context, id string) (*model.Item, error) {
	for _, it := range m.items {
		if it.ID == id {
			return it, nil
		}
	}
	return nil, nil
}

func (m *mockItemRepo) FindByFeedAndRemoteID(ctx context.Context, feedID, remoteID string) (*model.Item, error) {
	if m.inFlight.Add(1) > 1 {
		m.conflicts.Add(1)
	}
	if m.findDelay > 0 {
		time.Sleep(m.findDelay)
	}
	m.inFlight.Add(-1)
	return m.items[itemKey(feedID, remoteID)], nil
}

func (m *mockItemRepo) ListByFeed(ctx context.Context, feedID string, filter model.ItemFilter, cursor time.Time, limit int) ([]*model.Item, error) {
	return nil, nil
}

func (m *mockItemRepo) ListByFolder(ctx context.Context, folderID string, filter model.ItemFilter, cursor time.Time, limit int) ([]*model.Item, error) {
	return nil, nil
}

func (m *mockItemRepo) ListByAccount(ctx context.Context, accountID string, filter model.ItemFilter, cursor time.Time, limit int) ([]*model.Item, error) {
	return nil, nil
}

func (m *mockItemRepo) CountUnreadByFeed(ctx context.Context, feedID string) (int, error) {
	return 0, nil
}

func (m *mockItemRepo) Create(ctx context.Context, item *model.Item) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.items[itemKey(item.FeedID, item.RemoteID)] = item
	return nil
}

func (m *mockItemRepo) Update(ctx context.Context, item *model.Item) error {
	m.items[itemKey(item.FeedID, item.RemoteID)] = item
	return nil
}

func (m *mockItemRepo) UpdateReadState(ctx context.Context, itemID string, isRead bool) error {
	m.readStateCalls = append(m.readStateCalls, itemID)
	return nil
}

func (m *mockItemRepo) UpdateStarState(ctx context.Context, itemID string, isStarred bool) error {
	m.starStateCalls = append(m.starStateCalls, itemID)
	return nil
}

func (m *mockItemRepo) DeleteOlderThan(ctx context.Context, feedID string, horizon time.Time) (int64, error) {
	return 0, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestReconciler(repo *mockItemRepo, retention time.Duration) *Reconciler {
	return NewReconciler(
		fakeTxRunner{},
		func(db repository.DBTX) repository.ItemRepository { return repo },
		security.NewContentSanitizer(),
		testLogger(),
		retention,
	)
}

func localTestAccount() *model.Account {
	return &model.Account{ID: "acc-1", Type: model.AccountTypeLocal}
}

func serviceTestAccount() *model.Account {
	return &model.Account{ID: "acc-2", Type: model.AccountTypeFreshRSS}
}

func testFeed() *model.Feed {
	return &model.Feed{ID: "feed-1", AccountID: "acc-1", URL: "https://example.com/feed"}
}

// --- テスト ---

func TestMergeFeed_InsertsNewItems(t *testing.T) {
	repo := newMockItemRepo()
	r := newTestReconciler(repo, 0)

	pub := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	incoming := []model.ParsedItem{
		{RemoteID: "guid-1", Title: "記事1", Link: "https://example.com/1", Content: "<p>本文1</p>", PubDate: &pub},
		{RemoteID: "guid-2", Title: "記事2", Link: "https://example.com/2", Content: "<p>本文2</p><script>alert(1)</script>", PubDate: &pub},
	}

	inserted, updated, err := r.MergeFeed(context.Background(), localTestAccount(), testFeed(), incoming)
	if err != nil {
		t.Fatalf("MergeFeed() error = %v", err)
	}
	if inserted != 2 || updated != 0 {
		t.Errorf("inserted=%d updated=%d, 期待 2/0", inserted, updated)
	}

	item := repo.items[itemKey("feed-1", "guid-2")]
	if item == nil {
		t.Fatal("guid-2の記事が保存されていません")
	}
	if strings.Contains(item.Content, "script") {
		t.Errorf("コンテンツがサニタイズされていません: %q", item.Content)
	}
	if item.ReadTime <= 0 {
		t.Errorf("ReadTime = %f, 正の値が期待値", item.ReadTime)
	}
	if item.PubDate == nil || !item.PubDate.Equal(pub) {
		t.Errorf("PubDate = %v, 期待 %v", item.PubDate, pub)
	}
}

func TestMergeFeed_LocalAccountIgnoresRemoteReadState(t *testing.T) {
	repo := newMockItemRepo()
	r := newTestReconciler(repo, 0)

	incoming := []model.ParsedItem{
		{RemoteID: "guid-1", Title: "記事", IsRead: true, IsStarred: true},
	}

	if _, _, err := r.MergeFeed(context.Background(), localTestAccount(), testFeed(), incoming); err != nil {
		t.Fatalf("MergeFeed() error = %v", err)
	}

	item := repo.items[itemKey("feed-1", "guid-1")]
	if item.IsRead || item.IsStarred {
		t.Errorf("ローカルアカウントの新規記事は未読・スターなしが期待値: read=%v starred=%v", item.IsRead, item.IsStarred)
	}
}

func TestMergeFeed_RemergeUpdatesInsteadOfInserting(t *testing.T) {
	repo := newMockItemRepo()
	r := newTestReconciler(repo, 0)
	account := localTestAccount()
	feed := testFeed()

	incoming := []model.ParsedItem{
		{RemoteID: "guid-1", Title: "初版", Content: "<p>旧本文</p>"},
	}
	if _, _, err := r.MergeFeed(context.Background(), account, feed, incoming); err != nil {
		t.Fatalf("MergeFeed() error = %v", err)
	}

	// ユーザーが既読とスターを付けた状態を作る
	stored := repo.items[itemKey("feed-1", "guid-1")]
	stored.IsRead = true
	stored.IsStarred = true

	incoming[0].Title = "改訂版"
	incoming[0].Content = "<p>新本文</p>"
	inserted, updated, err := r.MergeFeed(context.Background(), account, feed, incoming)
	if err != nil {
		t.Fatalf("MergeFeed() error = %v", err)
	}
	if inserted != 0 || updated != 1 {
		t.Errorf("inserted=%d updated=%d, 期待 0/1", inserted, updated)
	}

	got := repo.items[itemKey("feed-1", "guid-1")]
	if got.Title != "改訂版" {
		t.Errorf("Title = %q, コンテンツは上書きされるべき", got.Title)
	}
	if !got.IsRead || !got.IsStarred {
		t.Errorf("ローカルアカウントでは既読・スターが維持されるべき: read=%v starred=%v", got.IsRead, got.IsStarred)
	}
	if len(repo.readStateCalls) != 0 || len(repo.starStateCalls) != 0 {
		t.Error("ローカルアカウントでは既読・スター更新を呼び出してはならない")
	}
}

func TestMergeFeed_ServiceAccountOverridesReadState(t *testing.T) {
	repo := newMockItemRepo()
	r := newTestReconciler(repo, 0)
	account := serviceTestAccount()
	feed := testFeed()

	// リモートで未読の記事を挿入
	incoming := []model.ParsedItem{
		{RemoteID: "item/1", Title: "記事", IsRead: false, IsStarred: true},
	}
	if _, _, err := r.MergeFeed(context.Background(), account, feed, incoming); err != nil {
		t.Fatalf("MergeFeed() error = %v", err)
	}

	stored := repo.items[itemKey("feed-1", "item/1")]
	if stored.IsRead {
		t.Error("挿入時のIsReadはリモートの値falseが期待値")
	}
	if !stored.IsStarred {
		t.Error("挿入時のIsStarredはリモートの値trueが期待値")
	}

	// リモート側で既読化・スター解除された
	incoming[0].IsRead = true
	incoming[0].IsStarred = false
	if _, _, err := r.MergeFeed(context.Background(), account, feed, incoming); err != nil {
		t.Fatalf("MergeFeed() error = %v", err)
	}

	if len(repo.readStateCalls) != 1 {
		t.Errorf("readStateCalls = %d, 期待 1 (リモートの状態が権威を持つ)", len(repo.readStateCalls))
	}
	if len(repo.starStateCalls) != 1 {
		t.Errorf("starStateCalls = %d, 期待 1", len(repo.starStateCalls))
	}
}

func TestMergeFeed_DeduplicatesWithinBatch(t *testing.T) {
	repo := newMockItemRepo()
	r := newTestReconciler(repo, 0)

	incoming := []model.ParsedItem{
		{RemoteID: "guid-1", Title: "先勝ち"},
		{RemoteID: "guid-1", Title: "後着は無視"},
	}

	inserted, updated, err := r.MergeFeed(context.Background(), localTestAccount(), testFeed(), incoming)
	if err != nil {
		t.Fatalf("MergeFeed() error = %v", err)
	}
	if inserted != 1 || updated != 0 {
		t.Errorf("inserted=%d updated=%d, 期待 1/0 (バッチ内重複は先勝ち)", inserted, updated)
	}
	if got := repo.items[itemKey("feed-1", "guid-1")].Title; got != "先勝ち" {
		t.Errorf("Title = %q, 期待 %q", got, "先勝ち")
	}
}

func TestMergeFeed_NaturalKeyFallback(t *testing.T) {
	repo := newMockItemRepo()
	r := newTestReconciler(repo, 0)

	incoming := []model.ParsedItem{
		{Title: "リンクのみ", Link: "https://example.com/no-guid"},
		{Title: "識別子なし", Content: "<p>本文だけの記事</p>"},
	}

	inserted, _, err := r.MergeFeed(context.Background(), localTestAccount(), testFeed(), incoming)
	if err != nil {
		t.Fatalf("MergeFeed() error = %v", err)
	}
	if inserted != 2 {
		t.Fatalf("inserted = %d, 期待 2", inserted)
	}

	if _, ok := repo.items[itemKey("feed-1", "https://example.com/no-guid")]; !ok {
		t.Error("GUIDなしの記事はリンクが自然キーになるべき")
	}

	var fingerprinted bool
	for key := range repo.items {
		if strings.Contains(key, "sha256:") {
			fingerprinted = true
		}
	}
	if !fingerprinted {
		t.Error("識別子なしの記事はコンテンツフィンガープリントが自然キーになるべき")
	}

	// 同じ入力の再マージは更新になる（キーの決定性）
	inserted, updated, err := r.MergeFeed(context.Background(), localTestAccount(), testFeed(), incoming)
	if err != nil {
		t.Fatalf("MergeFeed() error = %v", err)
	}
	if inserted != 0 || updated != 2 {
		t.Errorf("再マージ: inserted=%d updated=%d, 期待 0/2", inserted, updated)
	}
}

func TestMergeFeed_SkipsItemsOlderThanRetention(t *testing.T) {
	repo := newMockItemRepo()
	r := newTestReconciler(repo, 30*24*time.Hour)

	old := time.Now().Add(-60 * 24 * time.Hour)
	recent := time.Now().Add(-1 * time.Hour)
	incoming := []model.ParsedItem{
		{RemoteID: "old-1", Title: "期限切れ", PubDate: &old},
		{RemoteID: "new-1", Title: "新着", PubDate: &recent},
	}

	inserted, _, err := r.MergeFeed(context.Background(), localTestAccount(), testFeed(), incoming)
	if err != nil {
		t.Fatalf("MergeFeed() error = %v", err)
	}
	if inserted != 1 {
		t.Errorf("inserted = %d, 期待 1 (期限より古い新規記事は復活させない)", inserted)
	}
	if _, ok := repo.items[itemKey("feed-1", "old-1")]; ok {
		t.Error("保持期限より古い記事が挿入されました")
	}

	// 既存記事なら期限より古くても更新される
	repo.items[itemKey("feed-1", "old-1")] = &model.Item{ID: "i-old", FeedID: "feed-1", RemoteID: "old-1"}
	_, updated, err := r.MergeFeed(context.Background(), localTestAccount(), testFeed(), incoming)
	if err != nil {
		t.Fatalf("MergeFeed() error = %v", err)
	}
	if updated != 2 {
		t.Errorf("updated = %d, 期待 2 (既存記事は期限に関係なく更新)", updated)
	}
}

func TestMergeFeed_TxFailureReturnsZeroCounts(t *testing.T) {
	repo := newMockItemRepo()
	repo.createErr = errors.New("ディスクフル")
	r := newTestReconciler(repo, 0)

	incoming := []model.ParsedItem{{RemoteID: "guid-1", Title: "記事"}}

	inserted, updated, err := r.MergeFeed(context.Background(), localTestAccount(), testFeed(), incoming)
	if err == nil {
		t.Fatal("エラーが期待されましたがnilでした")
	}
	if inserted != 0 || updated != 0 {
		t.Errorf("inserted=%d updated=%d, トランザクション失敗時は0/0が期待値", inserted, updated)
	}
}

func TestMergeFeed_EmptyBatchIsNoop(t *testing.T) {
	repo := newMockItemRepo()
	r := newTestReconciler(repo, 0)

	inserted, updated, err := r.MergeFeed(context.Background(), localTestAccount(), testFeed(), nil)
	if err != nil {
		t.Fatalf("MergeFeed() error = %v", err)
	}
	if inserted != 0 || updated != 0 {
		t.Errorf("inserted=%d updated=%d, 期待 0/0", inserted, updated)
	}
}

func TestMergeFeed_SerializesConcurrentMergesPerFeed(t *testing.T) {
	repo := newMockItemRepo()
	repo.findDelay = 5 * time.Millisecond
	r := newTestReconciler(repo, 0)
	account := localTestAccount()
	feed := testFeed()

	incoming := []model.ParsedItem{
		{RemoteID: "guid-1", Title: "記事1"},
		{RemoteID: "guid-2", Title: "記事2"},
	}

	done := make(chan struct{})
	for i := 0; i < 4; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			if _, _, err := r.MergeFeed(context.Background(), account, feed, incoming); err != nil {
				t.Errorf("MergeFeed() error = %v", err)
			}
		}()
	}
	for i := 0; i < 4; i++ {
		<-done
	}

	if got := repo.conflicts.Load(); got != 0 {
		t.Errorf("同一フィードへの並行マージが直列化されていません (違反検出 %d 回)", got)
	}
	if len(repo.items) != 2 {
		t.Errorf("記事数 = %d, 期待 2 (再マージは更新になる)", len(repo.items))
	}
}

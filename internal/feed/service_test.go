package feed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/feedsync/internal/model"
)

// --- モック ---

type mockAccountRepo struct {
	accounts map[string]*model.Account
}

func (m *mockAccountRepo) FindByID(ctx context.Context, id string) (*model.Account, error) {
	return m.accounts[id], nil
}
func (m *mockAccountRepo) List(ctx context.Context) ([]*model.Account, error) { return nil, nil }
func (m *mockAccountRepo) Create(ctx context.Context, a *model.Account) error { return nil }
func (m *mockAccountRepo) Update(ctx context.Context, a *model.Account) error { return nil }
func (m *mockAccountRepo) DeleteByID(ctx context.Context, id string) error    { return nil }

type mockFeedRepo struct {
	feedsByURL map[string]*model.Feed
	created    []*model.Feed
	deleted    []string
	iconSaved  map[string]string
}

func newMockFeedRepo() *mockFeedRepo {
	return &mockFeedRepo{
		feedsByURL: make(map[string]*model.Feed),
		iconSaved:  make(map[string]string),
	}
}

func (m *mockFeedRepo) FindByID(ctx context.Context, id string) (*model.Feed, error) {
	for _, f := range m.created {
		if f.ID == id {
			return f, nil
		}
	}
	return nil, nil
}

func (m *mockFeedRepo) FindByAccountAndURL(ctx context.Context, accountID, url string) (*model.Feed, error) {
	return m.feedsByURL[url], nil
}

func (m *mockFeedRepo) FindByAccountAndRemoteID(ctx context.Context, accountID, remoteID string) (*model.Feed, error) {
	return nil, nil
}

func (m *mockFeedRepo) ListByAccount(ctx context.Context, accountID string) ([]*model.Feed, error) {
	return m.created, nil
}

func (m *mockFeedRepo) ListDueForSync(ctx context.Context, accountID string) ([]*model.Feed, error) {
	return nil, nil
}

func (m *mockFeedRepo) Create(ctx context.Context, feed *model.Feed) error {
	m.created = append(m.created, feed)
	m.feedsByURL[feed.URL] = feed
	return nil
}

func (m *mockFeedRepo) Update(ctx context.Context, feed *model.Feed) error { return nil }

func (m *mockFeedRepo) UpdateSyncState(ctx context.Context, feed *model.Feed) error { return nil }

func (m *mockFeedRepo) UpdateIcon(ctx context.Context, feedID, iconURL string) error {
	m.iconSaved[feedID] = iconURL
	return nil
}

func (m *mockFeedRepo) DeleteByID(ctx context.Context, id string) error {
	m.deleted = append(m.deleted, id)
	return nil
}

type stubDetector struct {
	url string
	err error
}

func (s *stubDetector) DetectFeedURL(ctx context.Context, inputURL string) (string, error) {
	return s.url, s.err
}

type stubFetcher struct {
	feed  *model.Feed
	items []model.ParsedItem
	err   error
}

func (s *stubFetcher) FetchFeed(ctx context.Context, rawURL string, opts FetchOptions) (*model.Feed, []model.ParsedItem, error) {
	return s.feed, s.items, s.err
}

func (s *stubFetcher) ProbeIsFeed(ctx context.Context, rawURL string) bool { return s.err == nil }

type stubMerger struct {
	inserted int
	err      error
	called   bool
}

func (s *stubMerger) MergeFeed(ctx context.Context, account *model.Account, feed *model.Feed, incoming []model.ParsedItem) (int, int, error) {
	s.called = true
	return s.inserted, 0, s.err
}

type stubIconResolver struct {
	iconURL string
}

func (s *stubIconResolver) ResolveIconURL(ctx context.Context, declaredIconURL, siteURL string) string {
	return s.iconURL
}

func localAccount() *model.Account {
	return &model.Account{ID: "acc-1", Type: model.AccountTypeLocal, Name: "ローカル"}
}

// --- AddFeedByURL のテスト ---

// TestAddFeedByURL_Success は検出→フェッチ→保存→マージ→アイコン解決の
// 一連のフローをテストする。
func TestAddFeedByURL_Success(t *testing.T) {
	accountRepo := &mockAccountRepo{accounts: map[string]*model.Account{"acc-1": localAccount()}}
	feedRepo := newMockFeedRepo()
	merger := &stubMerger{inserted: 3}

	svc := NewService(
		accountRepo,
		feedRepo,
		&stubDetector{url: "https://example.com/feed.xml"},
		&stubFetcher{
			feed: &model.Feed{
				URL:     "https://example.com/feed.xml",
				SiteURL: "https://example.com",
				Name:    "テストフィード",
				ETag:    `"v1"`,
			},
			items: []model.ParsedItem{{RemoteID: "1"}, {RemoteID: "2"}, {RemoteID: "3"}},
		},
		&stubIconResolver{iconURL: "https://example.com/favicon.ico"},
		merger,
		testLogger(),
	)

	feed, err := svc.AddFeedByURL(context.Background(), "acc-1", "https://example.com")
	if err != nil {
		t.Fatalf("登録エラー: %v", err)
	}

	if feed.Name != "テストフィード" {
		t.Errorf("期待名: テストフィード, 結果: %s", feed.Name)
	}
	if feed.AccountID != "acc-1" {
		t.Errorf("期待アカウント: acc-1, 結果: %s", feed.AccountID)
	}
	if feed.ETag != `"v1"` {
		t.Errorf("ETagが引き継がれるべき: %s", feed.ETag)
	}
	if feed.SyncStatus != model.SyncStatusActive {
		t.Errorf("新規フィードはactiveであるべき: %s", feed.SyncStatus)
	}
	if !merger.called {
		t.Error("初回マージが呼ばれるべき")
	}
	if len(feedRepo.created) != 1 {
		t.Fatalf("期待: 1フィード作成, 結果: %d", len(feedRepo.created))
	}
	if feedRepo.iconSaved[feed.ID] != "https://example.com/favicon.ico" {
		t.Errorf("アイコンURLが保存されるべき: %s", feedRepo.iconSaved[feed.ID])
	}
}

// TestAddFeedByURL_Duplicate は同一アカウント内の重複URLが
// DuplicateFeedErrorになることをテストする。
func TestAddFeedByURL_Duplicate(t *testing.T) {
	accountRepo := &mockAccountRepo{accounts: map[string]*model.Account{"acc-1": localAccount()}}
	feedRepo := newMockFeedRepo()
	feedRepo.feedsByURL["https://example.com/feed.xml"] = &model.Feed{ID: "existing"}

	svc := NewService(
		accountRepo, feedRepo,
		&stubDetector{url: "https://example.com/feed.xml"},
		&stubFetcher{}, nil, &stubMerger{}, testLogger(),
	)

	_, err := svc.AddFeedByURL(context.Background(), "acc-1", "https://example.com/feed.xml")

	var dupErr *model.DuplicateFeedError
	if !errors.As(err, &dupErr) {
		t.Errorf("期待: DuplicateFeedError, 結果: %v", err)
	}
}

// TestAddFeedByURL_ServiceAccountRejected はサービスアカウントへの
// フィード追加が拒否されることをテストする。
func TestAddFeedByURL_ServiceAccountRejected(t *testing.T) {
	accountRepo := &mockAccountRepo{accounts: map[string]*model.Account{
		"acc-2": {ID: "acc-2", Type: model.AccountTypeFreshRSS},
	}}

	svc := NewService(
		accountRepo, newMockFeedRepo(),
		&stubDetector{url: "https://example.com/feed.xml"},
		&stubFetcher{}, nil, &stubMerger{}, testLogger(),
	)

	_, err := svc.AddFeedByURL(context.Background(), "acc-2", "https://example.com/feed.xml")

	var valErr *model.ValidationError
	if !errors.As(err, &valErr) {
		t.Errorf("期待: ValidationError, 結果: %v", err)
	}
}

// TestAddFeedByURL_AccountNotFound は存在しないアカウントが
// NotFoundErrorになることをテストする。
func TestAddFeedByURL_AccountNotFound(t *testing.T) {
	svc := NewService(
		&mockAccountRepo{accounts: map[string]*model.Account{}}, newMockFeedRepo(),
		&stubDetector{url: "https://example.com/feed.xml"},
		&stubFetcher{}, nil, &stubMerger{}, testLogger(),
	)

	_, err := svc.AddFeedByURL(context.Background(), "missing", "https://example.com")

	var nfErr *model.NotFoundError
	if !errors.As(err, &nfErr) {
		t.Errorf("期待: NotFoundError, 結果: %v", err)
	}
}

// TestAddFeedByURL_FetchErrorPropagates はフェッチの型付きエラーが
// そのまま伝播することをテストする。
func TestAddFeedByURL_FetchErrorPropagates(t *testing.T) {
	accountRepo := &mockAccountRepo{accounts: map[string]*model.Account{"acc-1": localAccount()}}
	fetchErr := &model.NetworkError{URL: "https://example.com/feed.xml", StatusCode: 500}

	svc := NewService(
		accountRepo, newMockFeedRepo(),
		&stubDetector{url: "https://example.com/feed.xml"},
		&stubFetcher{err: fetchErr}, nil, &stubMerger{}, testLogger(),
	)

	_, err := svc.AddFeedByURL(context.Background(), "acc-1", "https://example.com")

	var netErr *model.NetworkError
	if !errors.As(err, &netErr) {
		t.Errorf("期待: NetworkError, 結果: %v", err)
	}
}

// TestUnsubscribe_DeletesFeed は購読解除がフィードを削除することをテストする。
func TestUnsubscribe_DeletesFeed(t *testing.T) {
	feedRepo := newMockFeedRepo()
	feedRepo.created = append(feedRepo.created, &model.Feed{ID: "feed-1", URL: "https://example.com/feed"})

	svc := NewService(
		&mockAccountRepo{}, feedRepo,
		&stubDetector{}, &stubFetcher{}, nil, &stubMerger{}, testLogger(),
	)

	if err := svc.Unsubscribe(context.Background(), "feed-1"); err != nil {
		t.Fatalf("解除エラー: %v", err)
	}

	if len(feedRepo.deleted) != 1 || feedRepo.deleted[0] != "feed-1" {
		t.Errorf("feed-1が削除されるべき: %v", feedRepo.deleted)
	}
}

// TestResumeSync_ResetsErrorState は同期再開がエラー状態をリセットする
// ことをテストする。
func TestResumeSync_ResetsErrorState(t *testing.T) {
	feedRepo := newMockFeedRepo()
	feedRepo.created = append(feedRepo.created, &model.Feed{
		ID:                "feed-1",
		SyncStatus:        model.SyncStatusStopped,
		ConsecutiveErrors: 9,
		ErrorMessage:      "410 Gone",
		NextSyncAt:        time.Now().Add(24 * time.Hour),
	})

	svc := NewService(
		&mockAccountRepo{}, feedRepo,
		&stubDetector{}, &stubFetcher{}, nil, &stubMerger{}, testLogger(),
	)

	feed, err := svc.ResumeSync(context.Background(), "feed-1")
	if err != nil {
		t.Fatalf("再開エラー: %v", err)
	}

	if feed.SyncStatus != model.SyncStatusActive {
		t.Errorf("再開後はactiveであるべき: %s", feed.SyncStatus)
	}
	if feed.ConsecutiveErrors != 0 || feed.ErrorMessage != "" {
		t.Error("エラー状態がリセットされるべき")
	}
	if feed.NextSyncAt.After(time.Now().Add(time.Minute)) {
		t.Error("次回同期は即時に設定されるべき")
	}
}

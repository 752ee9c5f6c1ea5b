package fever

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/hitoshi/feedsync/internal/model"
)

// md5("carol:hunter2")
const validAPIKey = "3c8afb9ecfbc353a37dc6e7e3dde088e"

type markRequest struct {
	As string
	ID string
}

// newFeverServer はFever互換APIを模したテストサーバーを返す。
// 認証失敗はHTTP 200 + auth:0で表現する（プロトコル準拠）。
func newFeverServer(t *testing.T, marks *[]markRequest) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		if r.FormValue("api_key") != validAPIKey {
			io.WriteString(w, `{"api_version":3,"auth":0}`)
			return
		}

		q := r.URL.Query()
		switch {
		case q.Has("groups"):
			io.WriteString(w, `{"api_version":3,"auth":1,
				"groups":[{"id":1,"title":"ニュース"},{"id":2,"title":"Tech"}],
				"feeds_groups":[{"group_id":2,"feed_ids":"4,5"}]}`)

		case q.Has("feeds"):
			io.WriteString(w, `{"api_version":3,"auth":1,
				"feeds":[
					{"id":4,"title":"テック","url":"https://tech.example.com/feed","site_url":"https://tech.example.com"},
					{"id":9,"title":"未分類","url":"https://solo.example.com/rss","site_url":"https://solo.example.com"}
				],
				"feeds_groups":[{"group_id":2,"feed_ids":"4,5"}]}`)

		case q.Has("items"):
			if q.Get("since_id") != "" {
				io.WriteString(w, `{"api_version":3,"auth":1,"total_items":2,"items":[]}`)
				return
			}
			io.WriteString(w, `{"api_version":3,"auth":1,"total_items":2,"items":[
				{"id":101,"feed_id":4,"title":"記事1","author":"著者","html":"<p>本文</p>",
				 "url":"https://tech.example.com/p1","is_saved":1,"is_read":0,"created_on_time":1136214245},
				{"id":102,"feed_id":9,"title":"記事2","html":"x",
				 "url":"https://solo.example.com/p2","is_saved":0,"is_read":1,"created_on_time":1136300645}
			]}`)

		case r.FormValue("mark") == "item":
			*marks = append(*marks, markRequest{As: r.FormValue("as"), ID: r.FormValue("id")})
			io.WriteString(w, `{"api_version":3,"auth":1}`)

		default:
			io.WriteString(w, `{"api_version":3,"auth":1}`)
		}
	}))
}

func newTestClient() *Client {
	return NewClient(&http.Client{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testCreds(serverURL string) model.Credentials {
	return model.Credentials{URL: serverURL, Login: "carol", Password: "hunter2"}
}

// TestAPIKeyDerivation はAPIキーがmd5(login:password)であることをテストする。
func TestAPIKeyDerivation(t *testing.T) {
	got := apiKey(model.Credentials{Login: "carol", Password: "hunter2"})
	if got != validAPIKey {
		t.Errorf("期待: %s, 結果: %s", validAPIKey, got)
	}
}

// TestVerifyCredentials_AuthZeroIsAuthError はauth:0がAuthErrorに
// なることをテストする。HTTPステータスは200のまま。
func TestVerifyCredentials_AuthZeroIsAuthError(t *testing.T) {
	var marks []markRequest
	srv := newFeverServer(t, &marks)
	defer srv.Close()

	c := newTestClient()

	if err := c.VerifyCredentials(context.Background(), testCreds(srv.URL)); err != nil {
		t.Errorf("正しい認証情報は成功するべき: %v", err)
	}

	badCreds := model.Credentials{URL: srv.URL, Login: "carol", Password: "wrong"}
	err := c.VerifyCredentials(context.Background(), badCreds)

	var authErr *model.AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("期待: AuthError, 結果: %v", err)
	}
	if authErr.Service != "fever" {
		t.Errorf("期待サービス名: fever, 結果: %s", authErr.Service)
	}
}

// TestListFolders はグループがフォルダとして返ることをテストする。
func TestListFolders(t *testing.T) {
	var marks []markRequest
	srv := newFeverServer(t, &marks)
	defer srv.Close()

	folders, err := newTestClient().ListFolders(context.Background(), testCreds(srv.URL))
	if err != nil {
		t.Fatalf("取得エラー: %v", err)
	}

	if len(folders) != 2 {
		t.Fatalf("期待: 2フォルダ, 結果: %d", len(folders))
	}
	if folders[0].RemoteID != "1" || folders[0].Name != "ニュース" {
		t.Errorf("期待: {1 ニュース}, 結果: %+v", folders[0])
	}
}

// TestListFeeds はfeeds_groupsからのグループ所属復元をテストする。
func TestListFeeds(t *testing.T) {
	var marks []markRequest
	srv := newFeverServer(t, &marks)
	defer srv.Close()

	feeds, err := newTestClient().ListFeeds(context.Background(), testCreds(srv.URL))
	if err != nil {
		t.Fatalf("取得エラー: %v", err)
	}

	if len(feeds) != 2 {
		t.Fatalf("期待: 2フィード, 結果: %d", len(feeds))
	}
	if feeds[0].RemoteID != "4" || feeds[0].FolderRemoteID != "2" {
		t.Errorf("feed 4はグループ2所属であるべき: %s / %s", feeds[0].RemoteID, feeds[0].FolderRemoteID)
	}
	if feeds[1].FolderRemoteID != "" {
		t.Errorf("グループ外フィードはフォルダなしであるべき: %s", feeds[1].FolderRemoteID)
	}
}

// TestListItems は0/1整数の真偽値とエポック秒の変換をテストする。
func TestListItems(t *testing.T) {
	var marks []markRequest
	srv := newFeverServer(t, &marks)
	defer srv.Close()

	items, err := newTestClient().ListItems(context.Background(), testCreds(srv.URL))
	if err != nil {
		t.Fatalf("取得エラー: %v", err)
	}

	if len(items) != 2 {
		t.Fatalf("期待: 2記事, 結果: %d", len(items))
	}

	first := items[0]
	if first.RemoteID != "101" || first.FeedRemoteID != "4" {
		t.Errorf("数値IDが文字列化されるべき: %s / %s", first.RemoteID, first.FeedRemoteID)
	}
	if first.IsRead {
		t.Error("is_read:0はIsRead=falseになるべき")
	}
	if !first.IsStarred {
		t.Error("is_saved:1はIsStarred=trueになるべき")
	}
	want := time.Date(2006, 1, 2, 15, 4, 5, 0, time.UTC)
	if first.PubDate == nil || !first.PubDate.Equal(want) {
		t.Errorf("期待pubDate: %v, 結果: %v", want, first.PubDate)
	}

	if !items[1].IsRead || items[1].IsStarred {
		t.Errorf("is_read:1/is_saved:0の記事: IsRead=%v IsStarred=%v", items[1].IsRead, items[1].IsStarred)
	}
}

// TestListItems_Pagination は50件ページをsince_idで辿ることをテストする。
func TestListItems_Pagination(t *testing.T) {
	page := func(start, count int) string {
		s := `{"api_version":3,"auth":1,"items":[`
		for i := 0; i < count; i++ {
			if i > 0 {
				s += ","
			}
			id := start + i
			s += fmt.Sprintf(`{"id":%d,"feed_id":1,"title":"t%d","is_saved":0,"is_read":0,"created_on_time":1136214245}`, id, id)
		}
		return s + `]}`
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		since, _ := strconv.Atoi(r.URL.Query().Get("since_id"))
		switch since {
		case 0:
			io.WriteString(w, page(1, 50))
		case 50:
			io.WriteString(w, page(51, 20))
		default:
			io.WriteString(w, `{"api_version":3,"auth":1,"items":[]}`)
		}
	}))
	defer srv.Close()

	items, err := newTestClient().ListItems(context.Background(), testCreds(srv.URL))
	if err != nil {
		t.Fatalf("取得エラー: %v", err)
	}

	if len(items) != 70 {
		t.Errorf("期待: 70記事（2ページ分）, 結果: %d", len(items))
	}
}

// TestSetItemStates はmark=itemのas値をテストする。
func TestSetItemStates(t *testing.T) {
	var marks []markRequest
	srv := newFeverServer(t, &marks)
	defer srv.Close()

	c := newTestClient()
	creds := testCreds(srv.URL)
	ctx := context.Background()

	if err := c.SetItemReadState(ctx, creds, "101", true); err != nil {
		t.Errorf("既読送信エラー: %v", err)
	}
	if err := c.SetItemReadState(ctx, creds, "101", false); err != nil {
		t.Errorf("未読送信エラー: %v", err)
	}
	if err := c.SetItemStarState(ctx, creds, "101", true); err != nil {
		t.Errorf("スター送信エラー: %v", err)
	}
	if err := c.SetItemStarState(ctx, creds, "101", false); err != nil {
		t.Errorf("スター解除送信エラー: %v", err)
	}

	want := []markRequest{
		{As: "read", ID: "101"},
		{As: "unread", ID: "101"},
		{As: "saved", ID: "101"},
		{As: "unsaved", ID: "101"},
	}
	if len(marks) != len(want) {
		t.Fatalf("期待: %dリクエスト, 結果: %d", len(want), len(marks))
	}
	for i, w := range want {
		if marks[i] != w {
			t.Errorf("期待: %+v, 結果: %+v", w, marks[i])
		}
	}
}

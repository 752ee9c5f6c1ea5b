// Package fever はFever互換APIクライアントを提供する。
//
// Fever APIはHTTPステータスで認証失敗を表現しない。すべての応答は
// 200で返り、ボディのauthフィールドが0のとき認証拒否を意味する。
// 真偽値は0/1の整数、日付はエポック秒で配信される。
package fever

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/feedsync/internal/model"
	"github.com/hitoshi/feedsync/internal/service"
)

// itemsPerPage はFever APIが1回の応答で返す記事数（プロトコル固定）。
const itemsPerPage = 50

// maxItems は1回の同期で取得する記事数の上限。
const maxItems = 1000

// Client はFever互換APIクライアント。
// APIキーは認証情報から呼び出しごとに導出され、保持されない。
type Client struct {
	httpClient service.HTTPDoer
	logger     *slog.Logger
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(httpClient service.HTTPDoer, logger *slog.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     logger,
	}
}

// apiKey はFever APIキー（md5("login:password")の16進表現）を導出する。
func apiKey(creds model.Credentials) string {
	sum := md5.Sum([]byte(creds.Login + ":" + creds.Password))
	return hex.EncodeToString(sum[:])
}

// feverEnvelope は全応答に共通するフィールド。
type feverEnvelope struct {
	APIVersion int `json:"api_version"`
	Auth       int `json:"auth"`
}

// VerifyCredentials はAPIキーの有効性を確認する。
func (c *Client) VerifyCredentials(ctx context.Context, creds model.Credentials) error {
	var env feverEnvelope
	return c.call(ctx, creds, "api", nil, &env)
}

// ListFolders はグループ一覧をフォルダとして返す。
func (c *Client) ListFolders(ctx context.Context, creds model.Credentials) ([]model.Folder, error) {
	var payload struct {
		feverEnvelope
		Groups []struct {
			ID    int64  `json:"id"`
			Title string `json:"title"`
		} `json:"groups"`
	}
	if err := c.call(ctx, creds, "api&groups", nil, &payload); err != nil {
		return nil, err
	}

	folders := make([]model.Folder, 0, len(payload.Groups))
	for _, g := range payload.Groups {
		folders = append(folders, model.Folder{
			RemoteID: strconv.FormatInt(g.ID, 10),
			Name:     g.Title,
		})
	}

	return folders, nil
}

// ListFeeds は購読フィード一覧を返す。
// グループ所属はfeeds_groupsのfeed_ids（カンマ区切り）から復元する。
func (c *Client) ListFeeds(ctx context.Context, creds model.Credentials) ([]service.RemoteFeed, error) {
	var payload struct {
		feverEnvelope
		Feeds []struct {
			ID      int64  `json:"id"`
			Title   string `json:"title"`
			URL     string `json:"url"`
			SiteURL string `json:"site_url"`
		} `json:"feeds"`
		FeedsGroups []struct {
			GroupID int64  `json:"group_id"`
			FeedIDs string `json:"feed_ids"`
		} `json:"feeds_groups"`
	}
	if err := c.call(ctx, creds, "api&feeds", nil, &payload); err != nil {
		return nil, err
	}

	// feed_id → group_id の対応表を作る
	groupOf := make(map[int64]int64)
	for _, fg := range payload.FeedsGroups {
		for _, idStr := range strings.Split(fg.FeedIDs, ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(idStr), 10, 64)
			if err != nil {
				continue
			}
			groupOf[id] = fg.GroupID
		}
	}

	feeds := make([]service.RemoteFeed, 0, len(payload.Feeds))
	for _, f := range payload.Feeds {
		feed := service.RemoteFeed{
			Feed: model.Feed{
				RemoteID: strconv.FormatInt(f.ID, 10),
				URL:      f.URL,
				SiteURL:  f.SiteURL,
				Name:     f.Title,
			},
		}
		if groupID, ok := groupOf[f.ID]; ok {
			feed.FolderRemoteID = strconv.FormatInt(groupID, 10)
		}
		feeds = append(feeds, feed)
	}

	return feeds, nil
}

// ListItems は記事を返す。Feverは1応答50件固定のため、
// since_idで昇順にページングして収集する。
func (c *Client) ListItems(ctx context.Context, creds model.Credentials) ([]model.ParsedItem, error) {
	var items []model.ParsedItem
	sinceID := int64(0)

	for len(items) < maxItems {
		page, err := c.itemsPage(ctx, creds, sinceID)
		if err != nil {
			return nil, err
		}
		if len(page.Items) == 0 {
			break
		}

		for _, it := range page.Items {
			item := model.ParsedItem{
				RemoteID:     strconv.FormatInt(it.ID, 10),
				FeedRemoteID: strconv.FormatInt(it.FeedID, 10),
				Title:        it.Title,
				Link:         it.URL,
				Author:       it.Author,
				Content:      it.HTML,
				IsRead:       it.IsRead == 1,
				IsStarred:    it.IsSaved == 1,
			}
			if it.CreatedOnTime > 0 {
				t := time.Unix(it.CreatedOnTime, 0).UTC()
				item.PubDate = &t
			}
			items = append(items, item)

			if it.ID > sinceID {
				sinceID = it.ID
			}
		}

		if len(page.Items) < itemsPerPage {
			break
		}
	}

	return items, nil
}

// feverItem はFever APIの記事表現。
type feverItem struct {
	ID            int64  `json:"id"`
	FeedID        int64  `json:"feed_id"`
	Title         string `json:"title"`
	Author        string `json:"author"`
	HTML          string `json:"html"`
	URL           string `json:"url"`
	IsSaved       int    `json:"is_saved"`
	IsRead        int    `json:"is_read"`
	CreatedOnTime int64  `json:"created_on_time"`
}

// itemsResponse はitemsエンドポイントの応答。
type itemsResponse struct {
	feverEnvelope
	Items []feverItem `json:"items"`
}

// itemsPage はitemsエンドポイントの1ページ分を取得する。
func (c *Client) itemsPage(ctx context.Context, creds model.Credentials, sinceID int64) (*itemsResponse, error) {
	query := "api&items"
	if sinceID > 0 {
		query = fmt.Sprintf("api&items&since_id=%d", sinceID)
	}

	var payload itemsResponse
	if err := c.call(ctx, creds, query, nil, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// SetItemReadState は既読状態を送信する。
func (c *Client) SetItemReadState(ctx context.Context, creds model.Credentials, itemRemoteID string, read bool) error {
	as := "read"
	if !read {
		as = "unread"
	}
	return c.markItem(ctx, creds, itemRemoteID, as)
}

// SetItemStarState はスター状態を送信する。Feverでは「saved」と呼ばれる。
func (c *Client) SetItemStarState(ctx context.Context, creds model.Credentials, itemRemoteID string, starred bool) error {
	as := "saved"
	if !starred {
		as = "unsaved"
	}
	return c.markItem(ctx, creds, itemRemoteID, as)
}

// markItem はmark=itemリクエストを送信する。
func (c *Client) markItem(ctx context.Context, creds model.Credentials, itemRemoteID, as string) error {
	if _, err := strconv.ParseInt(itemRemoteID, 10, 64); err != nil {
		return &model.ValidationError{Message: "Feverの記事IDは数値である必要があります: " + itemRemoteID}
	}

	form := url.Values{}
	form.Set("mark", "item")
	form.Set("as", as)
	form.Set("id", itemRemoteID)

	var env feverEnvelope
	return c.call(ctx, creds, "api", form, &env)
}

// call はFever APIを1回呼び出す。
// すべての呼び出しはPOSTで、api_keyをフォームに含める。
// 応答のauth=0は認証拒否としてAuthErrorに変換される。
func (c *Client) call(ctx context.Context, creds model.Credentials, query string, extraForm url.Values, out interface{ authOK() bool }) error {
	endpoint := creds.URL + "?" + query

	form := url.Values{}
	form.Set("api_key", apiKey(creds))
	for key, values := range extraForm {
		for _, v := range values {
			form.Add(key, v)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return &model.TransportError{URL: endpoint, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", service.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &model.TransportError{URL: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &model.AuthError{Service: "fever", StatusCode: resp.StatusCode}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &model.NetworkError{URL: endpoint, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &model.TransportError{URL: endpoint, Err: err}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &model.ParseError{URL: endpoint, Err: err}
	}

	if !out.authOK() {
		return &model.AuthError{Service: "fever", StatusCode: resp.StatusCode}
	}

	return nil
}

// authOK はエンベロープのauthフィールドを検証する。
func (e *feverEnvelope) authOK() bool { return e.Auth == 1 }

// compile-time interface check
var _ service.Adapter = (*Client)(nil)

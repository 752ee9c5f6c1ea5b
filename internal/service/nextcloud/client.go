// Package nextcloud はNextcloud News APIクライアントを提供する。
//
// API v1-3を使用する。既読・スターの両方が数値の記事IDで操作できるため、
// 記事のリモートIDは数値IDの文字列表現で統一される。
package nextcloud

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/feedsync/internal/model"
	"github.com/hitoshi/feedsync/internal/service"
)

// apiBasePath はNextcloud News API v1-3のベースパス。
const apiBasePath = "/index.php/apps/news/api/v1-3"

// itemTypeAll はitems取得のtypeパラメータ（3 = 全記事）。
const itemTypeAll = 3

// Client はNextcloud News APIクライアント。
// 認証はリクエストごとのBasic認証のみで、状態を保持しない。
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

// VerifyCredentials はフォルダ一覧の取得で認証情報を検証する。
// Nextcloud Newsには専用のログインエンドポイントがない。
func (c *Client) VerifyCredentials(ctx context.Context, creds model.Credentials) error {
	_, err := c.ListFolders(ctx, creds)
	return err
}

// ListFolders はフォルダ一覧を返す。
func (c *Client) ListFolders(ctx context.Context, creds model.Credentials) ([]model.Folder, error) {
	var payload struct {
		Folders []struct {
			ID   int64  `json:"id"`
			Name string `json:"name"`
		} `json:"folders"`
	}
	if err := c.getJSON(ctx, creds, "/folders", &payload); err != nil {
		return nil, err
	}

	folders := make([]model.Folder, 0, len(payload.Folders))
	for _, f := range payload.Folders {
		folders = append(folders, model.Folder{
			RemoteID: strconv.FormatInt(f.ID, 10),
			Name:     f.Name,
		})
	}

	return folders, nil
}

// ListFeeds は購読フィード一覧を返す。
func (c *Client) ListFeeds(ctx context.Context, creds model.Credentials) ([]service.RemoteFeed, error) {
	var payload struct {
		Feeds []struct {
			ID          int64  `json:"id"`
			URL         string `json:"url"`
			Title       string `json:"title"`
			Link        string `json:"link"`
			FaviconLink string `json:"faviconLink"`
			FolderID    *int64 `json:"folderId"`
		} `json:"feeds"`
	}
	if err := c.getJSON(ctx, creds, "/feeds", &payload); err != nil {
		return nil, err
	}

	feeds := make([]service.RemoteFeed, 0, len(payload.Feeds))
	for _, f := range payload.Feeds {
		feed := service.RemoteFeed{
			Feed: model.Feed{
				RemoteID: strconv.FormatInt(f.ID, 10),
				URL:      f.URL,
				SiteURL:  f.Link,
				Name:     f.Title,
				IconURL:  f.FaviconLink,
			},
		}
		if f.FolderID != nil {
			feed.FolderRemoteID = strconv.FormatInt(*f.FolderID, 10)
		}
		feeds = append(feeds, feed)
	}

	return feeds, nil
}

// ListItems は全記事を返す。unreadフラグはIsReadへ反転して写し取る。
func (c *Client) ListItems(ctx context.Context, creds model.Credentials) ([]model.ParsedItem, error) {
	path := fmt.Sprintf("/items?batchSize=-1&offset=0&type=%d&id=0&getRead=true", itemTypeAll)

	var payload struct {
		Items []struct {
			ID      int64  `json:"id"`
			GUID    string `json:"guid"`
			URL     string `json:"url"`
			Title   string `json:"title"`
			Author  string `json:"author"`
			PubDate int64  `json:"pubDate"`
			Body    string `json:"body"`
			FeedID  int64  `json:"feedId"`
			Unread  bool   `json:"unread"`
			Starred bool   `json:"starred"`
		} `json:"items"`
	}
	if err := c.getJSON(ctx, creds, path, &payload); err != nil {
		return nil, err
	}

	items := make([]model.ParsedItem, 0, len(payload.Items))
	for _, it := range payload.Items {
		item := model.ParsedItem{
			RemoteID:     strconv.FormatInt(it.ID, 10),
			FeedRemoteID: strconv.FormatInt(it.FeedID, 10),
			Title:        it.Title,
			Link:         it.URL,
			Author:       it.Author,
			Content:      it.Body,
			IsRead:       !it.Unread,
			IsStarred:    it.Starred,
		}
		// pubDateはエポック秒
		if it.PubDate > 0 {
			t := timeFromEpoch(it.PubDate)
			item.PubDate = &t
		}
		items = append(items, item)
	}

	return items, nil
}

// SetItemReadState は既読状態を送信する。
func (c *Client) SetItemReadState(ctx context.Context, creds model.Credentials, itemRemoteID string, read bool) error {
	action := "read"
	if !read {
		action = "unread"
	}
	return c.putAction(ctx, creds, itemRemoteID, action)
}

// SetItemStarState はスター状態を送信する。
func (c *Client) SetItemStarState(ctx context.Context, creds model.Credentials, itemRemoteID string, starred bool) error {
	action := "star"
	if !starred {
		action = "unstar"
	}
	return c.putAction(ctx, creds, itemRemoteID, action)
}

// putAction はPUT /items/{id}/{action}を送信する。
func (c *Client) putAction(ctx context.Context, creds model.Credentials, itemRemoteID, action string) error {
	if _, err := strconv.ParseInt(itemRemoteID, 10, 64); err != nil {
		return &model.ValidationError{Message: "Nextcloud Newsの記事IDは数値である必要があります: " + itemRemoteID}
	}

	endpoint := apiURL(creds.URL, "/items/"+itemRemoteID+"/"+action)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, nil)
	if err != nil {
		return &model.TransportError{URL: endpoint, Err: err}
	}
	c.prepare(req, creds)

	_, err = c.do(req, endpoint)
	return err
}

// getJSON は認証付きGETを実行してJSONをデコードする。
func (c *Client) getJSON(ctx context.Context, creds model.Credentials, path string, out any) error {
	endpoint := apiURL(creds.URL, path)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return &model.TransportError{URL: endpoint, Err: err}
	}
	c.prepare(req, creds)

	body, err := c.do(req, endpoint)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &model.ParseError{URL: endpoint, Err: err}
	}
	return nil
}

// prepare は共通のリクエストヘッダーと認証を設定する。
func (c *Client) prepare(req *http.Request, creds model.Credentials) {
	req.SetBasicAuth(creds.Login, creds.Password)
	req.Header.Set("User-Agent", service.UserAgent)
	req.Header.Set("Accept", "application/json")
}

// do はリクエストを実行してステータスを検証し、ボディを返す。
func (c *Client) do(req *http.Request, endpoint string) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &model.TransportError{URL: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, &model.AuthError{Service: "nextcloud_news", StatusCode: resp.StatusCode}
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, &model.NotFoundError{Kind: "nextcloud item", ID: endpoint}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &model.NetworkError{URL: endpoint, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &model.TransportError{URL: endpoint, Err: err}
	}
	return body, nil
}

// timeFromEpoch はエポック秒をUTCのtime.Timeへ変換する。
func timeFromEpoch(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

// apiURL はサービスURLとAPIパスを結合する。
func apiURL(serviceURL, path string) string {
	return strings.TrimRight(serviceURL, "/") + apiBasePath + path
}

// compile-time interface check
var _ service.Adapter = (*Client)(nil)

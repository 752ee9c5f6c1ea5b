// Package freshrss はFreshRSSのGoogle Reader互換APIクライアントを提供する。
package freshrss

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/feedsync/internal/model"
	"github.com/hitoshi/feedsync/internal/service"
)

// Google Reader APIのストリーム・タグ識別子。
const (
	streamReadingList = "user/-/state/com.google/reading-list"
	stateRead         = "user/-/state/com.google/read"
	stateStarred      = "user/-/state/com.google/starred"
	labelPrefix       = "user/-/label/"
)

// maxStreamItems は1回の同期で取得する記事数の上限。
const maxStreamItems = 1000

// Client はFreshRSSのGoogle Reader互換APIクライアント。
// 認証トークンは呼び出しの中で取得して使い捨てる。フィールドには
// 認証状態を持たないため、複数アカウントで共有できる。
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

// VerifyCredentials はClientLoginを実行して認証情報を検証する。
func (c *Client) VerifyCredentials(ctx context.Context, creds model.Credentials) error {
	_, err := c.login(ctx, creds)
	return err
}

// ListFolders はタグ一覧からフォルダ（user/-/label/配下）を返す。
func (c *Client) ListFolders(ctx context.Context, creds model.Credentials) ([]model.Folder, error) {
	auth, err := c.login(ctx, creds)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Tags []struct {
			ID   string `json:"id"`
			Type string `json:"type"`
		} `json:"tags"`
	}
	if err := c.getJSON(ctx, creds, auth, "/reader/api/0/tag/list?output=json", &payload); err != nil {
		return nil, err
	}

	var folders []model.Folder
	for _, tag := range payload.Tags {
		name, ok := strings.CutPrefix(tag.ID, labelPrefix)
		if !ok {
			continue
		}
		folders = append(folders, model.Folder{
			RemoteID: tag.ID,
			Name:     name,
		})
	}

	return folders, nil
}

// ListFeeds は購読一覧を返す。フォルダ所属はcategoriesの先頭ラベルから取る。
func (c *Client) ListFeeds(ctx context.Context, creds model.Credentials) ([]service.RemoteFeed, error) {
	auth, err := c.login(ctx, creds)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Subscriptions []struct {
			ID         string `json:"id"`
			Title      string `json:"title"`
			URL        string `json:"url"`
			HTMLURL    string `json:"htmlUrl"`
			IconURL    string `json:"iconUrl"`
			Categories []struct {
				ID    string `json:"id"`
				Label string `json:"label"`
			} `json:"categories"`
		} `json:"subscriptions"`
	}
	if err := c.getJSON(ctx, creds, auth, "/reader/api/0/subscription/list?output=json", &payload); err != nil {
		return nil, err
	}

	feeds := make([]service.RemoteFeed, 0, len(payload.Subscriptions))
	for _, sub := range payload.Subscriptions {
		feed := service.RemoteFeed{
			Feed: model.Feed{
				RemoteID: sub.ID,
				URL:      sub.URL,
				SiteURL:  sub.HTMLURL,
				Name:     sub.Title,
				IconURL:  sub.IconURL,
			},
		}
		if len(sub.Categories) > 0 {
			feed.FolderRemoteID = sub.Categories[0].ID
		}
		feeds = append(feeds, feed)
	}

	return feeds, nil
}

// ListItems はreading-listストリームの記事を返す。
// 既読・スターはcategories内の状態タグから復元する。
func (c *Client) ListItems(ctx context.Context, creds model.Credentials) ([]model.ParsedItem, error) {
	auth, err := c.login(ctx, creds)
	if err != nil {
		return nil, err
	}

	path := fmt.Sprintf("/reader/api/0/stream/contents/%s?output=json&n=%d",
		streamReadingList, maxStreamItems)

	var payload struct {
		Items []struct {
			ID        string `json:"id"`
			Title     string `json:"title"`
			Author    string `json:"author"`
			Published int64  `json:"published"`
			Canonical []struct {
				Href string `json:"href"`
			} `json:"canonical"`
			Alternate []struct {
				Href string `json:"href"`
			} `json:"alternate"`
			Summary struct {
				Content string `json:"content"`
			} `json:"summary"`
			Content struct {
				Content string `json:"content"`
			} `json:"content"`
			Origin struct {
				StreamID string `json:"streamId"`
			} `json:"origin"`
			Categories []string `json:"categories"`
		} `json:"items"`
	}
	if err := c.getJSON(ctx, creds, auth, path, &payload); err != nil {
		return nil, err
	}

	items := make([]model.ParsedItem, 0, len(payload.Items))
	for _, it := range payload.Items {
		item := model.ParsedItem{
			RemoteID:     it.ID,
			FeedRemoteID: it.Origin.StreamID,
			Title:        it.Title,
			Author:       it.Author,
			Content:      it.Content.Content,
		}
		if item.Content == "" {
			item.Content = it.Summary.Content
		}
		if len(it.Canonical) > 0 {
			item.Link = it.Canonical[0].Href
		} else if len(it.Alternate) > 0 {
			item.Link = it.Alternate[0].Href
		}
		// publishedはエポック秒
		if it.Published > 0 {
			t := time.Unix(it.Published, 0).UTC()
			item.PubDate = &t
		}
		for _, cat := range it.Categories {
			switch cat {
			case stateRead:
				item.IsRead = true
			case stateStarred:
				item.IsStarred = true
			}
		}

		items = append(items, item)
	}

	return items, nil
}

// SetItemReadState は既読状態をedit-tagで送信する。
func (c *Client) SetItemReadState(ctx context.Context, creds model.Credentials, itemRemoteID string, read bool) error {
	return c.editTag(ctx, creds, itemRemoteID, stateRead, read)
}

// SetItemStarState はスター状態をedit-tagで送信する。
func (c *Client) SetItemStarState(ctx context.Context, creds model.Credentials, itemRemoteID string, starred bool) error {
	return c.editTag(ctx, creds, itemRemoteID, stateStarred, starred)
}

// editTag は状態タグの付与（add=true）または除去（add=false）を送信する。
// 書き込みにはClientLoginトークンに加えて書き込み用トークンが必要。
func (c *Client) editTag(ctx context.Context, creds model.Credentials, itemRemoteID, state string, add bool) error {
	auth, err := c.login(ctx, creds)
	if err != nil {
		return err
	}

	writeToken, err := c.writeToken(ctx, creds, auth)
	if err != nil {
		return err
	}

	form := url.Values{}
	form.Set("i", itemRemoteID)
	form.Set("T", writeToken)
	if add {
		form.Set("a", state)
	} else {
		form.Set("r", state)
	}

	body, err := c.postForm(ctx, creds, auth, "/reader/api/0/edit-tag", form)
	if err != nil {
		return err
	}
	if strings.TrimSpace(string(body)) != "OK" {
		return &model.NetworkError{URL: creds.URL, StatusCode: http.StatusOK, Status: "edit-tag応答が不正: " + string(body)}
	}

	return nil
}

// login はClientLoginを実行して認証トークンを返す。
func (c *Client) login(ctx context.Context, creds model.Credentials) (string, error) {
	endpoint := strings.TrimRight(creds.URL, "/") + "/accounts/ClientLogin"

	form := url.Values{}
	form.Set("Email", creds.Login)
	form.Set("Passwd", creds.Password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", &model.TransportError{URL: endpoint, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", service.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &model.TransportError{URL: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", &model.AuthError{Service: "freshrss", StatusCode: resp.StatusCode}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &model.NetworkError{URL: endpoint, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &model.TransportError{URL: endpoint, Err: err}
	}

	// 応答は "SID=...\nLSID=...\nAuth=..." の行形式
	for _, line := range strings.Split(string(body), "\n") {
		if token, ok := strings.CutPrefix(strings.TrimSpace(line), "Auth="); ok && token != "" {
			return token, nil
		}
	}

	return "", &model.AuthError{Service: "freshrss", StatusCode: resp.StatusCode}
}

// writeToken は書き込み操作用のトークンを取得する。
func (c *Client) writeToken(ctx context.Context, creds model.Credentials, auth string) (string, error) {
	body, err := c.get(ctx, creds, auth, "/reader/api/0/token")
	if err != nil {
		return "", err
	}
	token := strings.TrimSpace(string(body))
	if token == "" {
		return "", &model.AuthError{Service: "freshrss", StatusCode: http.StatusOK}
	}
	return token, nil
}

// getJSON は認証付きGETを実行してJSONをデコードする。
func (c *Client) getJSON(ctx context.Context, creds model.Credentials, auth, path string, out any) error {
	body, err := c.get(ctx, creds, auth, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &model.ParseError{URL: creds.URL + path, Err: err}
	}
	return nil
}

// get は認証付きGETを実行してボディを返す。
func (c *Client) get(ctx context.Context, creds model.Credentials, auth, path string) ([]byte, error) {
	endpoint := strings.TrimRight(creds.URL, "/") + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &model.TransportError{URL: endpoint, Err: err}
	}
	req.Header.Set("Authorization", "GoogleLogin auth="+auth)
	req.Header.Set("User-Agent", service.UserAgent)

	return c.do(req, endpoint)
}

// postForm は認証付きフォームPOSTを実行してボディを返す。
func (c *Client) postForm(ctx context.Context, creds model.Credentials, auth, path string, form url.Values) ([]byte, error) {
	endpoint := strings.TrimRight(creds.URL, "/") + path

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &model.TransportError{URL: endpoint, Err: err}
	}
	req.Header.Set("Authorization", "GoogleLogin auth="+auth)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", service.UserAgent)

	return c.do(req, endpoint)
}

// do はリクエストを実行してステータスを検証し、ボディを返す。
func (c *Client) do(req *http.Request, endpoint string) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &model.TransportError{URL: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, &model.AuthError{Service: "freshrss", StatusCode: resp.StatusCode}
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

// compile-time interface check
var _ service.Adapter = (*Client)(nil)

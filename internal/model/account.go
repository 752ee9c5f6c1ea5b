// Package model はドメインモデルを定義する。
package model

import "time"

// AccountType はフィードの取得元バックエンドの種類を表す。
type AccountType string

const (
	// AccountTypeLocal はローカルRSS/Atom/JSON Feedアカウント。
	AccountTypeLocal AccountType = "local"
	// AccountTypeFreshRSS はFreshRSS（Google Reader互換API）アカウント。
	AccountTypeFreshRSS AccountType = "freshrss"
	// AccountTypeNextcloudNews はNextcloud Newsアカウント。
	AccountTypeNextcloudNews AccountType = "nextcloud_news"
	// AccountTypeFever はFever互換APIアカウント。
	AccountTypeFever AccountType = "fever"
)

// Account はフィードの所有者となるアカウントを表す。
// ローカルアカウントは認証情報を持たない。
type Account struct {
	ID         string
	Type       AccountType
	Name       string
	ServiceURL string
	Login      string
	Password   string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// IsService はリモート集約サービスのアカウントかどうかを返す。
// サービスアカウントでは既読・スター状態の権威はリモート側にある。
func (a *Account) IsService() bool {
	return a.Type != AccountTypeLocal
}

// Credentials は1回のサービスAPI呼び出しのために渡す認証情報を返す。
// 認証情報は呼び出しごとに明示的に渡し、共有状態には保持しない。
func (a *Account) Credentials() Credentials {
	return Credentials{
		URL:      a.ServiceURL,
		Login:    a.Login,
		Password: a.Password,
	}
}

// Credentials はサービスAPI呼び出し1回分の認証情報。
// アダプタのメソッド引数としてのみ受け渡しされる。
type Credentials struct {
	URL      string
	Login    string
	Password string
}

// Folder はフィードのグループ分けを表す。アカウントに属する。
type Folder struct {
	ID        string
	AccountID string
	RemoteID  string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

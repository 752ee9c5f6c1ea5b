// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// ErrNotModified は304 Not Modifiedを示すセンチネルエラー。
// エラーではなく「変更なし」の合図であり、呼び出し側はパースも
// ストレージ更新も行わずに同期をスキップする。
var ErrNotModified = errors.New("feed not modified")

// UnknownFormatError はContent-Typeとドキュメント内容のどちらからも
// フィード形式を判別できなかったことを表す。
type UnknownFormatError struct {
	URL string
}

// Error はerrorインターフェースを実装する。
func (e *UnknownFormatError) Error() string {
	return fmt.Sprintf("フィード形式を判別できません: %s", e.URL)
}

// ParseError は既知の形式のドキュメントが構造的に壊れていて
// パースできなかったことを表す。
type ParseError struct {
	URL string
	Err error
}

// Error はerrorインターフェースを実装する。
func (e *ParseError) Error() string {
	return fmt.Sprintf("フィードのパースに失敗しました: %s: %v", e.URL, e.Err)
}

// Unwrap は原因エラーを返す。
func (e *ParseError) Unwrap() error { return e.Err }

// NetworkError は2xx/304以外のHTTPステータスを表す。
// この層ではリトライしない（リトライ戦略は同期スケジューラが持つ）。
type NetworkError struct {
	URL        string
	StatusCode int
	Status     string
}

// Error はerrorインターフェースを実装する。
func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s がステータス %d を返しました: %s", e.URL, e.StatusCode, e.Status)
}

// TransportError は接続レベルの失敗（タイムアウト、DNS失敗、
// コネクションリセット等）を表す。NetworkErrorと区別することで、
// 呼び出し側は該当フィードのみ失敗扱いにするかバッチ全体を中断するかを
// 判断できる。
type TransportError struct {
	URL string
	Err error
}

// Error はerrorインターフェースを実装する。
func (e *TransportError) Error() string {
	return fmt.Sprintf("%s への接続に失敗しました: %v", e.URL, e.Err)
}

// Unwrap は原因エラーを返す。
func (e *TransportError) Unwrap() error { return e.Err }

// AuthError はサービスアダプタ呼び出しでの認証情報の拒否（401/403）を表す。
// NetworkErrorと区別して伝播させることで、呼び出し側は一般的な
// 「同期失敗」ではなく再認証フローを提示できる。
type AuthError struct {
	Service    string
	StatusCode int
}

// Error はerrorインターフェースを実装する。
func (e *AuthError) Error() string {
	return fmt.Sprintf("%s の認証に失敗しました (status %d)", e.Service, e.StatusCode)
}

// NotFoundError は指定されたエンティティが存在しないことを表す。
type NotFoundError struct {
	Kind string
	ID   string
}

// Error はerrorインターフェースを実装する。
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s が見つかりません: %s", e.Kind, e.ID)
}

// ValidationError は入力値の検証エラーを表す。
type ValidationError struct {
	Message string
}

// Error はerrorインターフェースを実装する。
func (e *ValidationError) Error() string {
	return e.Message
}

// DuplicateFeedError は同一アカウント内で既に購読済みのフィードを
// 再登録しようとしたことを表す。
type DuplicateFeedError struct {
	URL string
}

// Error はerrorインターフェースを実装する。
func (e *DuplicateFeedError) Error() string {
	return fmt.Sprintf("このフィードは既に購読しています: %s", e.URL)
}

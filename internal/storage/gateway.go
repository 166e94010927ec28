// Package storage はオブジェクトストレージへの写真の保存と公開URLの解決を行う。
package storage

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/hitoshi/fitjourney/internal/model"
)

const (
	// DefaultMaxObjectBytes はコンテナの1オブジェクトあたりの上限(5MB)。
	DefaultMaxObjectBytes int64 = 5 * 1024 * 1024
	// DefaultCacheControl はアップロードするオブジェクトのキャッシュ秒数。
	DefaultCacheControl = 3600
	// ContentTypeJPEG はアップロードする写真のContent-Type。
	ContentTypeJPEG = "image/jpeg"
)

// ContainerPolicy はコンテナ作成時の設定。
type ContainerPolicy struct {
	Public              bool
	MaxObjectBytes      int64
	AllowedContentTypes []string
}

// PhotoContainerPolicy は検証用写真のコンテナ設定を返す。公開読み取り、JPEGのみ。
func PhotoContainerPolicy(maxObjectBytes int64) ContainerPolicy {
	if maxObjectBytes <= 0 {
		maxObjectBytes = DefaultMaxObjectBytes
	}
	return ContainerPolicy{
		Public:              true,
		MaxObjectBytes:      maxObjectBytes,
		AllowedContentTypes: []string{ContentTypeJPEG},
	}
}

// ObjectMetadata はアップロード時に付与するメタデータ。
// 空の項目には既定値(image/jpeg、3600秒)が使われる。
type ObjectMetadata struct {
	ContentType  string
	CacheControl int
}

// Object はコンテナ内のオブジェクトの一覧情報。
type Object struct {
	Key       string
	Size      int64
	CreatedAt time.Time
}

// Gateway はオブジェクトストレージの操作を定義する。
// 失敗はいずれもmodel.ErrStorageをラップして返す。
type Gateway interface {
	// EnsureContainer はコンテナが存在しなければ作成する。既に存在する場合も成功とする。
	EnsureContainer(ctx context.Context, name string, policy ContainerPolicy) error
	// Upload はオブジェクトを保存する。同じキーのオブジェクトは上書きされる。
	Upload(ctx context.Context, container, key string, data []byte, meta ObjectMetadata) (*model.StoredMedia, error)
	// ResolvePublicAddress はオブジェクトの公開URLを返す。
	ResolvePublicAddress(ctx context.Context, container, key string) (string, error)
	// ListObjects はprefixに一致するオブジェクトを全件返す。
	ListObjects(ctx context.Context, container, prefix string) ([]Object, error)
	// DeleteObjects はオブジェクトを削除する。存在しないキーは無視される。
	DeleteObjects(ctx context.Context, container string, keys []string) error
}

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._+-]`)

// ObjectKey は写真のオブジェクトキーを生成する。
// 形式は {メールアドレスのローカル部}_{カテゴリ}_{ミリ秒のUNIX時刻}.jpg。
// キーにそのまま使えない文字は "_" に置き換える。
func ObjectKey(email, category string, t time.Time) string {
	local := model.Identity{Email: email}.LocalPart()
	if local == "" {
		local = "anonymous"
	}
	return fmt.Sprintf("%s_%s_%d.jpg",
		unsafeKeyChars.ReplaceAllString(local, "_"),
		unsafeKeyChars.ReplaceAllString(category, "_"),
		t.UnixMilli(),
	)
}

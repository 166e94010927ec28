package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/fitjourney/internal/model"
)

const (
	defaultRequestTimeout = 30 * time.Second
	listPageSize          = 1000
)

// SupabaseConfig はSupabase Storageクライアントの設定。
type SupabaseConfig struct {
	// BaseURL はプロジェクトのURL。/storage/v1 は付けない。
	BaseURL string
	// ServiceKey はコンテナ作成が可能なサービスロールキー。
	ServiceKey string
	// RequestTimeout は1リクエストあたりの上限。0の場合は30秒。
	RequestTimeout time.Duration
}

// containerInfo はコンテナの公開設定とサイズ上限。
type containerInfo struct {
	Public         bool
	MaxObjectBytes int64
}

// SupabaseGateway はSupabase Storage REST APIを使用したGateway。
type SupabaseGateway struct {
	client  *resty.Client
	baseURL string

	// containers は作成・確認済みのコンテナ情報(string -> containerInfo)。
	containers sync.Map
	creating   singleflight.Group
}

// NewSupabaseGateway はSupabaseGatewayを生成する。
func NewSupabaseGateway(cfg SupabaseConfig) *SupabaseGateway {
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = defaultRequestTimeout
	}
	base := strings.TrimRight(cfg.BaseURL, "/")

	c := resty.New().
		SetBaseURL(base+"/storage/v1").
		SetHeader("apikey", cfg.ServiceKey).
		SetAuthToken(cfg.ServiceKey).
		SetTimeout(timeout)

	return &SupabaseGateway{client: c, baseURL: base}
}

// storageError はSupabase Storageのエラーレスポンス。
// statusCodeは文字列で返される。
type storageError struct {
	StatusCode string `json:"statusCode"`
	Error      string `json:"error"`
	Message    string `json:"message"`
}

func (e *storageError) reason() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Error != "":
		return e.Error
	default:
		return ""
	}
}

// alreadyExists は別プロセスが先にコンテナを作成していた場合のレスポンスかを判定する。
func (e *storageError) alreadyExists(status int) bool {
	if status == http.StatusConflict || e.StatusCode == "409" {
		return true
	}
	return e.Error == "Duplicate" || strings.Contains(strings.ToLower(e.Message), "already exists")
}

type bucketRequest struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Public           bool     `json:"public"`
	FileSizeLimit    int64    `json:"file_size_limit,omitempty"`
	AllowedMimeTypes []string `json:"allowed_mime_types,omitempty"`
}

type bucketResponse struct {
	ID            string `json:"id"`
	Public        bool   `json:"public"`
	FileSizeLimit *int64 `json:"file_size_limit"`
}

// EnsureContainer はコンテナが存在しなければ作成する。
// 同一プロセス内の同時呼び出しは1回のリクエストにまとめられ、
// 別プロセスが作成済みの場合("already exists")も成功として扱う。
// ctxのキャンセルはその呼び出し元の待機だけを打ち切り、まとめられた作成処理は継続する。
func (g *SupabaseGateway) EnsureContainer(ctx context.Context, name string, policy ContainerPolicy) error {
	if name == "" {
		return fmt.Errorf("%w: container name is required", model.ErrStorage)
	}
	if _, ok := g.containers.Load(name); ok {
		return nil
	}

	// 作成処理の上限はクライアントのリクエストタイムアウトで決まる
	shared := context.WithoutCancel(ctx)
	ch := g.creating.DoChan(name, func() (interface{}, error) {
		if _, ok := g.containers.Load(name); ok {
			return nil, nil
		}
		info, err := g.createContainer(shared, name, policy)
		if err != nil {
			return nil, err
		}
		g.containers.Store(name, info)
		return nil, nil
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		return res.Err
	}
}

func (g *SupabaseGateway) createContainer(ctx context.Context, name string, policy ContainerPolicy) (containerInfo, error) {
	var apiErr storageError
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(bucketRequest{
			ID:               name,
			Name:             name,
			Public:           policy.Public,
			FileSizeLimit:    policy.MaxObjectBytes,
			AllowedMimeTypes: policy.AllowedContentTypes,
		}).
		SetError(&apiErr).
		Post("/bucket")
	if err != nil {
		return containerInfo{}, transportError("create container", err)
	}
	if !resp.IsError() {
		return containerInfo{Public: policy.Public, MaxObjectBytes: policy.MaxObjectBytes}, nil
	}
	if apiErr.alreadyExists(resp.StatusCode()) {
		// 既存コンテナの設定は作成時のpolicyと異なる可能性があるため取得し直す
		return g.fetchContainer(ctx, name)
	}
	return containerInfo{}, statusError("create container", resp, &apiErr)
}

func (g *SupabaseGateway) fetchContainer(ctx context.Context, name string) (containerInfo, error) {
	var out bucketResponse
	var apiErr storageError
	resp, err := g.client.R().
		SetContext(ctx).
		SetPathParam("bucket", name).
		SetResult(&out).
		SetError(&apiErr).
		Get("/bucket/{bucket}")
	if err != nil {
		return containerInfo{}, transportError("get container", err)
	}
	if resp.IsError() {
		return containerInfo{}, statusError("get container", resp, &apiErr)
	}

	info := containerInfo{Public: out.Public}
	if out.FileSizeLimit != nil {
		info.MaxObjectBytes = *out.FileSizeLimit
	}
	return info, nil
}

// container はキャッシュ済みのコンテナ情報を返す。未確認の場合は取得する。
func (g *SupabaseGateway) container(ctx context.Context, name string) (containerInfo, error) {
	if v, ok := g.containers.Load(name); ok {
		return v.(containerInfo), nil
	}
	info, err := g.fetchContainer(ctx, name)
	if err != nil {
		return containerInfo{}, err
	}
	g.containers.Store(name, info)
	return info, nil
}

// Upload はオブジェクトを上書き許可で保存する。
// コンテナのサイズ上限を超えるデータは送信せずに拒否する。
func (g *SupabaseGateway) Upload(ctx context.Context, container, key string, data []byte, meta ObjectMetadata) (*model.StoredMedia, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: object key is required", model.ErrStorage)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", model.ErrStorage)
	}

	info, err := g.container(ctx, container)
	if err != nil {
		return nil, err
	}
	if info.MaxObjectBytes > 0 && int64(len(data)) > info.MaxObjectBytes {
		return nil, fmt.Errorf("%w: payload of %d bytes exceeds container limit of %d bytes",
			model.ErrStorage, len(data), info.MaxObjectBytes)
	}

	contentType := meta.ContentType
	if contentType == "" {
		contentType = ContentTypeJPEG
	}
	cacheControl := meta.CacheControl
	if cacheControl <= 0 {
		cacheControl = DefaultCacheControl
	}

	var apiErr storageError
	resp, err := g.client.R().
		SetContext(ctx).
		SetPathParams(map[string]string{"bucket": container, "key": key}).
		SetHeader("Content-Type", contentType).
		SetHeader("x-upsert", "true").
		SetHeader("cache-control", "max-age="+strconv.Itoa(cacheControl)).
		SetBody(data).
		SetError(&apiErr).
		Post("/object/{bucket}/{key}")
	if err != nil {
		return nil, transportError("upload photo", err)
	}
	if resp.IsError() {
		return nil, statusError("upload photo", resp, &apiErr)
	}

	return &model.StoredMedia{
		Container:   container,
		Key:         key,
		Size:        len(data),
		ContentType: contentType,
	}, nil
}

// ResolvePublicAddress はオブジェクトの公開URLを返す。
// コンテナが公開設定でない場合はErrStorageを返す。
func (g *SupabaseGateway) ResolvePublicAddress(ctx context.Context, container, key string) (string, error) {
	info, err := g.container(ctx, container)
	if err != nil {
		return "", err
	}
	if !info.Public {
		return "", fmt.Errorf("%w: container %s is not public", model.ErrStorage, container)
	}
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s",
		g.baseURL, url.PathEscape(container), url.PathEscape(key)), nil
}

type listRequest struct {
	Prefix string     `json:"prefix"`
	Limit  int        `json:"limit"`
	Offset int        `json:"offset"`
	SortBy listSortBy `json:"sortBy"`
}

type listSortBy struct {
	Column string `json:"column"`
	Order  string `json:"order"`
}

type listEntry struct {
	Name      string     `json:"name"`
	ID        *string    `json:"id"`
	CreatedAt *time.Time `json:"created_at"`
	Metadata  *struct {
		Size int64 `json:"size"`
	} `json:"metadata"`
}

// ListObjects はprefixに一致するオブジェクトを作成日時の昇順で全件返す。
// フォルダ(idを持たないエントリ)は含めない。
func (g *SupabaseGateway) ListObjects(ctx context.Context, container, prefix string) ([]Object, error) {
	var objects []Object
	for offset := 0; ; offset += listPageSize {
		var page []listEntry
		var apiErr storageError
		resp, err := g.client.R().
			SetContext(ctx).
			SetPathParam("bucket", container).
			SetBody(listRequest{
				Prefix: prefix,
				Limit:  listPageSize,
				Offset: offset,
				SortBy: listSortBy{Column: "created_at", Order: "asc"},
			}).
			SetResult(&page).
			SetError(&apiErr).
			Post("/object/list/{bucket}")
		if err != nil {
			return nil, transportError("list objects", err)
		}
		if resp.IsError() {
			return nil, statusError("list objects", resp, &apiErr)
		}

		for _, e := range page {
			if e.ID == nil {
				continue
			}
			obj := Object{Key: joinPrefix(prefix, e.Name)}
			if e.CreatedAt != nil {
				obj.CreatedAt = *e.CreatedAt
			}
			if e.Metadata != nil {
				obj.Size = e.Metadata.Size
			}
			objects = append(objects, obj)
		}
		if len(page) < listPageSize {
			return objects, nil
		}
	}
}

type deleteRequest struct {
	Prefixes []string `json:"prefixes"`
}

// DeleteObjects はオブジェクトをまとめて削除する。
func (g *SupabaseGateway) DeleteObjects(ctx context.Context, container string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	var apiErr storageError
	resp, err := g.client.R().
		SetContext(ctx).
		SetPathParam("bucket", container).
		SetHeader("Content-Type", "application/json").
		SetBody(deleteRequest{Prefixes: keys}).
		SetError(&apiErr).
		Delete("/object/{bucket}")
	if err != nil {
		return transportError("delete objects", err)
	}
	if resp.IsError() {
		return statusError("delete objects", resp, &apiErr)
	}
	return nil
}

func joinPrefix(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return strings.TrimSuffix(prefix, "/") + "/" + name
}

// transportError は通信エラーをErrStorageでラップする。キャンセルはそのまま判別できるよう残す。
func transportError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("failed to %s: %w: %w", op, model.ErrStorage, err)
	}
	return fmt.Errorf("failed to %s: %w: %v", op, model.ErrStorage, err)
}

func statusError(op string, resp *resty.Response, apiErr *storageError) error {
	reason := apiErr.reason()
	if reason == "" {
		reason = http.StatusText(resp.StatusCode())
	}
	return fmt.Errorf("failed to %s: %w: status %d: %s", op, model.ErrStorage, resp.StatusCode(), reason)
}

// compile-time interface check
var _ Gateway = (*SupabaseGateway)(nil)

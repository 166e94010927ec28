package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/hitoshi/fitjourney/internal/security"
)

// DefaultSourceMaxBytes は読み込む元画像の最大サイズ。
const DefaultSourceMaxBytes int64 = 20 * 1024 * 1024

// Loader は画像参照から元データを読み込む。
type Loader interface {
	Load(ctx context.Context, ref string) ([]byte, error)
	// MaxBytes は読み込みを許可する最大サイズを返す。
	MaxBytes() int64
}

// ErrSourceTooLarge は元画像がサイズ上限を超えた場合のエラー。
var ErrSourceTooLarge = errors.New("source image too large")

// SourceLoader はローカルファイルとリモートURLの両方を扱うLoader。
// リモートURLはPhotoFetchGuardで検証し、SSRF防止付きクライアントで取得する。
type SourceLoader struct {
	guard    security.PhotoFetchGuard
	client   *http.Client
	maxBytes int64
}

// NewSourceLoader はSourceLoaderを生成する。
// guardがnilの場合はリモートURLを扱わない。
func NewSourceLoader(guard security.PhotoFetchGuard, timeout time.Duration, maxBytes int64) *SourceLoader {
	if maxBytes <= 0 {
		maxBytes = DefaultSourceMaxBytes
	}
	l := &SourceLoader{guard: guard, maxBytes: maxBytes}
	if guard != nil {
		l.client = guard.NewSafeClient(timeout)
	}
	return l
}

// MaxBytes は読み込みを許可する最大サイズを返す。
func (l *SourceLoader) MaxBytes() int64 {
	return l.maxBytes
}

// Load は参照の種類に応じて画像データを読み込む。
func (l *SourceLoader) Load(ctx context.Context, ref string) ([]byte, error) {
	if ref == "" {
		return nil, fmt.Errorf("empty photo reference")
	}

	switch {
	case hasScheme(ref, "http"), hasScheme(ref, "https"):
		return l.fetch(ctx, ref)
	case hasScheme(ref, "file"):
		u, err := url.Parse(ref)
		if err != nil {
			return nil, fmt.Errorf("invalid file URI: %w", err)
		}
		return l.readFile(u.Path)
	case strings.Contains(ref, "://"):
		return nil, fmt.Errorf("unsupported photo reference scheme")
	default:
		return l.readFile(ref)
	}
}

func (l *SourceLoader) readFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	return readLimited(f, l.maxBytes)
}

func (l *SourceLoader) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if l.guard == nil {
		return nil, fmt.Errorf("remote photo references are disabled")
	}
	if err := l.guard.ValidateURL(rawURL); err != nil {
		return nil, fmt.Errorf("rejected photo URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "image/*")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch photo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	if resp.ContentLength > l.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrSourceTooLarge, resp.ContentLength)
	}
	return readLimited(resp.Body, l.maxBytes)
}

// readLimited はmaxBytesを超えるデータをErrSourceTooLargeとして扱う。
func readLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: limit %d bytes", ErrSourceTooLarge, maxBytes)
	}
	return data, nil
}

func hasScheme(ref, scheme string) bool {
	return len(ref) > len(scheme)+3 && strings.EqualFold(ref[:len(scheme)+3], scheme+"://")
}

// describeRef はログやエラーに出す参照の表記を返す。ローカルパスは含めない。
func describeRef(ref string) string {
	if u, err := url.Parse(ref); err == nil && u.Host != "" {
		return u.Scheme + "://" + u.Host
	}
	return "photo"
}

// compile-time interface check
var _ Loader = (*SourceLoader)(nil)

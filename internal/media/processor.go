// Package media は記録用写真の読み込み・縮小・JPEG再エンコードを行う。
package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"math"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/hitoshi/fitjourney/internal/model"
)

const (
	// ContentTypeJPEG は処理後の画像のContent-Type。
	ContentTypeJPEG = "image/jpeg"
	// DefaultMaxPixels はデコードを許可する画素数の上限(40MP)。
	DefaultMaxPixels int64 = 40_000_000
)

// Constraints は縮小後の最大幅とJPEG品質(0〜1)を表す。
// MaxWidthが0以下の場合は縮小しない。
type Constraints struct {
	MaxWidth int
	Quality  float64
}

var (
	// VerificationPhoto は活動記録に添付する写真の設定。
	VerificationPhoto = Constraints{MaxWidth: 1200, Quality: 0.7}
	// AnalysisPhoto は食事解析に送る写真の設定。
	AnalysisPhoto = Constraints{MaxWidth: 800, Quality: 0.7}
)

// JPEGQuality はimage/jpegに渡す品質値を返す。round(q*100)を1〜100に収める。
func (c Constraints) JPEGQuality() int {
	q := int(math.Round(c.Quality * 100))
	if q < 1 {
		return 1
	}
	if q > 100 {
		return 100
	}
	return q
}

// Payload は処理済みの画像。
type Payload struct {
	Data        []byte
	ContentType string
	Width       int
	Height      int
}

// Size はバイト数を返す。
func (p *Payload) Size() int64 {
	return int64(len(p.Data))
}

// Processor は画像参照を読み込み、制約に合わせて再エンコードする。
type Processor struct {
	loader    Loader
	maxPixels int64
}

// NewProcessor はProcessorを生成する。maxPixelsが0以下の場合はDefaultMaxPixelsを使う。
func NewProcessor(loader Loader, maxPixels int64) *Processor {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	return &Processor{loader: loader, maxPixels: maxPixels}
}

// Process は参照(ローカルパス、file:// URI、http(s) URL)から画像を読み込んで処理する。
// 読み込み・デコードの失敗はErrMediaを返す。
func (p *Processor) Process(ctx context.Context, ref string, c Constraints) (*Payload, error) {
	data, err := p.loader.Load(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load %s: %w", model.ErrMedia, describeRef(ref), err)
	}
	return p.ProcessBytes(ctx, data, c)
}

// ProcessBytes はデコード済みでない画像データを処理する。
// 幅がMaxWidthを超える場合のみ縦横比を保って縮小し、拡大は行わない。
// 画素数が上限を超える画像はヘッダーだけを読んでデコードせずに拒否する。
func (p *Processor) ProcessBytes(ctx context.Context, data []byte, c Constraints) (*Payload, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty image data", model.ErrMedia)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read image header: %v", model.ErrMedia, err)
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > p.maxPixels {
		return nil, fmt.Errorf("%w: image is %dx%d, exceeds %d pixels", model.ErrMedia, cfg.Width, cfg.Height, p.maxPixels)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode image: %v", model.ErrMedia, err)
	}

	resized := Fit(img, c.MaxWidth)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: c.JPEGQuality()}); err != nil {
		return nil, fmt.Errorf("%w: failed to encode %s as JPEG: %v", model.ErrMedia, format, err)
	}

	b := resized.Bounds()
	return &Payload{
		Data:        buf.Bytes(),
		ContentType: ContentTypeJPEG,
		Width:       b.Dx(),
		Height:      b.Dy(),
	}, nil
}

// Fit は幅がmaxWidthを超える画像をCatmullRomで縮小して返す。
// それ以外の画像はそのまま返す。
func Fit(img image.Image, maxWidth int) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if maxWidth <= 0 || w <= maxWidth {
		return img
	}

	newHeight := int(math.Round(float64(h) * float64(maxWidth) / float64(w)))
	if newHeight < 1 {
		newHeight = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, newHeight))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}

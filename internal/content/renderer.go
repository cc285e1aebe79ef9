// Package content はレッスンコンテンツのレンダリングと、キャッシュを介した配信・更新を提供する。
package content

import (
	"time"

	"github.com/hitoshi/learnpath/internal/model"
	"github.com/hitoshi/learnpath/internal/security"
)

// DefaultFreshness はレンダリング済みHTMLを再利用できる期間。
const DefaultFreshness = time.Hour

// RenderResult はレンダリング結果のHTMLと形式。
type RenderResult struct {
	HTML   string
	Format model.Format
}

// Renderer はコンテンツをサニタイズ済みHTMLに変換する。
// 時刻の参照を除いて副作用を持たない。
type Renderer struct {
	sanitizer security.ContentSanitizerService
	markdown  *MarkdownProcessor
	freshness time.Duration
	now       func() time.Time
}

// NewRenderer は新しいRendererを生成する。freshness が0以下の場合は DefaultFreshness を使う。
func NewRenderer(sanitizer security.ContentSanitizerService, freshness time.Duration) *Renderer {
	if freshness <= 0 {
		freshness = DefaultFreshness
	}
	return &Renderer{
		sanitizer: sanitizer,
		markdown:  NewMarkdownProcessor(sanitizer),
		freshness: freshness,
		now:       time.Now,
	}
}

// Render はコンテンツをHTMLに変換する。
// StructuredRecord が鮮度期間内のレンダリング結果を持つ場合はそれをそのまま返す。
func (r *Renderer) Render(c model.Content) (RenderResult, error) {
	if rec, ok := c.(model.StructuredRecord); ok && r.isFresh(rec) {
		return RenderResult{HTML: rec.Rendered.HTML, Format: rec.Format}, nil
	}
	return r.RenderFresh(c)
}

// RenderFresh は鮮度判定を行わず、元テキストから必ず再レンダリングする。
func (r *Renderer) RenderFresh(c model.Content) (RenderResult, error) {
	format := c.EffectiveFormat()
	if format == model.FormatHTML {
		return RenderResult{HTML: r.sanitizer.Sanitize(c.RawText()), Format: model.FormatHTML}, nil
	}

	html, err := r.markdown.ProcessMarkdown(c.RawText())
	if err != nil {
		return RenderResult{}, err
	}
	return RenderResult{HTML: html, Format: model.FormatMarkdown}, nil
}

// Now はレンダリング時刻の基準となる現在時刻を返す。
func (r *Renderer) Now() time.Time {
	return r.now()
}

func (r *Renderer) isFresh(rec model.StructuredRecord) bool {
	if rec.Rendered == nil {
		return false
	}
	return r.now().Sub(rec.Rendered.At) < r.freshness
}

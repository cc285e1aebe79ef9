package model

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
	"time"
)

// Format はレッスンコンテンツの記述形式を表す。
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
)

// Valid は既知の形式かどうかを返す。
func (f Format) Valid() bool {
	return f == FormatMarkdown || f == FormatHTML
}

var htmlTagPattern = regexp.MustCompile(`(?i)</?[a-z][\s\S]*>`)

// DetectFormat は文字列コンテンツの形式を推定する。
// 前後の空白を除いた文字列が "<" で始まり、HTMLタグを含む場合にHTMLと判定する。
func DetectFormat(text string) Format {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "<") && htmlTagPattern.MatchString(trimmed) {
		return FormatHTML
	}
	return FormatMarkdown
}

// Content はレッスンコンテンツの保存形式を表す。
// LegacyString と StructuredRecord の2種類のみが実装する。
type Content interface {
	// RawText は著者が記述した元テキストを返す。
	RawText() string
	// EffectiveFormat は明示された形式、なければ推定した形式を返す。
	EffectiveFormat() Format
	isContent()
}

// LegacyString は形式情報を持たない旧来の文字列コンテンツ。
type LegacyString string

func (s LegacyString) RawText() string         { return string(s) }
func (s LegacyString) EffectiveFormat() Format { return DetectFormat(string(s)) }
func (LegacyString) isContent()                {}

// RenderSnapshot はレンダリング済みHTMLとレンダリング時刻の組。
// 両方が揃っている場合のみ存在する。
type RenderSnapshot struct {
	HTML string
	At   time.Time
}

// StructuredRecord は形式とレンダリング結果を保持する構造化コンテンツ。
type StructuredRecord struct {
	Raw      string
	Format   Format
	Rendered *RenderSnapshot
}

func (r StructuredRecord) RawText() string         { return r.Raw }
func (r StructuredRecord) EffectiveFormat() Format { return r.Format }
func (StructuredRecord) isContent()                {}

type structuredRecordJSON struct {
	Raw            string     `json:"raw"`
	HTML           *string    `json:"html,omitempty"`
	Format         Format     `json:"format"`
	LastRenderedAt *time.Time `json:"lastRenderedAt,omitempty"`
}

// MarshalJSON は {raw, html?, format, lastRenderedAt?} 形式で出力する。
func (r StructuredRecord) MarshalJSON() ([]byte, error) {
	out := structuredRecordJSON{Raw: r.Raw, Format: r.Format}
	if r.Rendered != nil {
		html := r.Rendered.HTML
		at := r.Rendered.At.UTC()
		out.HTML = &html
		out.LastRenderedAt = &at
	}
	return json.Marshal(out)
}

// UnmarshalJSON は html と lastRenderedAt が揃っている場合のみ Rendered を設定する。
func (r *StructuredRecord) UnmarshalJSON(data []byte) error {
	var in structuredRecordJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	r.Raw = in.Raw
	r.Format = in.Format
	r.Rendered = nil
	if in.HTML != nil && in.LastRenderedAt != nil {
		r.Rendered = &RenderSnapshot{HTML: *in.HTML, At: *in.LastRenderedAt}
	}
	return nil
}

// MarshalContent はコンテンツを永続化用JSONに変換する。
// LegacyString はJSON文字列、StructuredRecord はオブジェクトになる。
func MarshalContent(c Content) ([]byte, error) {
	switch v := c.(type) {
	case LegacyString:
		return json.Marshal(string(v))
	case StructuredRecord:
		return json.Marshal(v)
	case *StructuredRecord:
		return json.Marshal(*v)
	case nil:
		return json.Marshal("")
	default:
		return json.Marshal(c.RawText())
	}
}

// DecodeStoredContent は永続化されたJSONをコンテンツに変換する。
// 認識できない値は文字列化して LegacyString として扱う。
func DecodeStoredContent(data []byte) Content {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return LegacyString("")
	}

	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return LegacyString(s)
		}
	case '{':
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &probe); err == nil {
			var rec StructuredRecord
			if _, hasRaw := probe["raw"]; hasRaw {
				if err := json.Unmarshal(trimmed, &rec); err == nil {
					if rec.Format.Valid() {
						return rec
					}
					return LegacyString(rec.Raw)
				}
			}
		}
	}
	return LegacyString(string(trimmed))
}

// DecodeContentInput は更新リクエストのcontentフィールドをコンテンツに変換する。
// 文字列は LegacyString、raw と format を持つオブジェクトは StructuredRecord、
// それ以外は文字列化した上で markdown の StructuredRecord とする。
func DecodeContentInput(data json.RawMessage) (Content, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, NewInvalidContentError("content is required")
	}

	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, NewInvalidContentError(err.Error())
		}
		return LegacyString(s), nil
	case '{':
		var in struct {
			Raw    *string `json:"raw"`
			Format Format  `json:"format"`
		}
		if err := json.Unmarshal(trimmed, &in); err == nil && in.Raw != nil && in.Format.Valid() {
			return StructuredRecord{Raw: *in.Raw, Format: in.Format}, nil
		}
	}
	return StructuredRecord{Raw: string(trimmed), Format: FormatMarkdown}, nil
}

// RenderedContent はキャッシュおよびAPIで返すレンダリング済みコンテンツ。
type RenderedContent struct {
	Content string `json:"content"`
	Format  Format `json:"format"`
}

// RawContent は保存されている未加工のコンテンツと実効形式。
type RawContent struct {
	Content Content
	Format  Format
}

// MarshalJSON は content を保存形式のまま出力する。
func (r RawContent) MarshalJSON() ([]byte, error) {
	content, err := MarshalContent(r.Content)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		Content json.RawMessage `json:"content"`
		Format  Format          `json:"format"`
	}{Content: content, Format: r.Format})
}

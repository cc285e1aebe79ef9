// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ContentSanitizerService はレッスンコンテンツのHTMLをサニタイズし、
// 著者が記述したHTMLやMarkdown内の生HTMLから実行可能な要素を取り除く。
// bluemondayライブラリを使用した許可リストベースのポリシーで、
// AllowedTags に列挙したタグと属性のみを通過させる。
package security

import (
	"regexp"
	"sort"

	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizerService はHTMLコンテンツのサニタイズ機能のインターフェースを定義する。
// レッスンのHTML形式コンテンツと、Markdownから生成したHTMLの両方に同じポリシーを適用する。
type ContentSanitizerService interface {
	// Sanitize はHTMLコンテンツをサニタイズして安全なHTMLを返す。
	// script, iframe, object, embed, style要素およびon*イベント属性は常に除去される。
	// 空文字列の入力には空文字列を返す。
	Sanitize(rawHTML string) string
}

// GlobalAttributes は全ての許可タグで使用できる属性。
var GlobalAttributes = []string{"class", "id", "style"}

// AllowedTags は許可するタグと、タグごとに追加で許可する属性の一覧。
var AllowedTags = map[string][]string{
	// 構造
	"address": nil, "article": nil, "aside": nil, "footer": nil, "header": nil,
	"hgroup": nil, "main": nil, "nav": nil, "section": nil, "div": nil,
	"p": nil, "blockquote": nil, "hr": nil, "br": nil, "wbr": nil,
	"figure": nil, "figcaption": nil,

	// 見出し
	"h1": nil, "h2": nil, "h3": nil, "h4": nil, "h5": nil, "h6": nil,

	// リスト
	"ul": nil, "ol": nil, "li": nil, "dl": nil, "dt": nil, "dd": nil,

	// インライン
	"a":    {"href", "name", "target"},
	"abbr": nil, "b": nil, "bdi": nil, "bdo": nil, "cite": nil, "data": nil,
	"dfn": nil, "em": nil, "i": nil, "mark": nil, "q": nil, "s": nil,
	"small": nil, "span": nil, "strong": nil, "sub": nil, "sup": nil,
	"time": nil, "u": nil, "del": nil, "ins": nil,

	// コード
	"pre": nil, "code": nil, "kbd": nil, "samp": nil, "var": nil,

	// テーブル
	"table": nil, "caption": nil, "colgroup": nil, "col": nil, "thead": nil,
	"tbody": nil, "tfoot": nil, "tr": nil, "th": nil, "td": nil,

	// メディア
	"img": {"src", "alt", "title", "width", "height"},
}

// allowedStyleProperties はstyle属性内で許可するCSSプロパティ。
var allowedStyleProperties = []string{
	"color", "background-color", "text-align", "font-weight", "font-style",
	"text-decoration", "width", "height", "margin", "padding",
}

var (
	targetPattern    = regexp.MustCompile(`^(_blank|_self|_parent|_top)$`)
	dimensionPattern = regexp.MustCompile(`^[0-9]+(%|px)?$`)
)

// contentSanitizer はContentSanitizerServiceの実装。
// bluemondayのポリシーを保持し、スレッドセーフにサニタイズ処理を行う。
type contentSanitizer struct {
	policy *bluemonday.Policy
}

var _ ContentSanitizerService = (*contentSanitizer)(nil)

// NewContentSanitizer はContentSanitizerServiceの新しいインスタンスを生成する。
// ポリシーは AllowedTags と GlobalAttributes から構築する。
//   - URLスキーム: http, https, mailto（相対URLも許可）
//   - aタグ: rel="nofollow noopener" を外部リンクに付与
//   - style属性: allowedStyleProperties に含まれるプロパティのみ残す
func NewContentSanitizer() *contentSanitizer {
	p := bluemonday.NewPolicy()

	tags := make([]string, 0, len(AllowedTags))
	for tag := range AllowedTags {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	p.AllowElements(tags...)

	for _, tag := range tags {
		for _, attr := range AllowedTags[tag] {
			switch attr {
			case "target":
				p.AllowAttrs(attr).Matching(targetPattern).OnElements(tag)
			case "width", "height":
				p.AllowAttrs(attr).Matching(dimensionPattern).OnElements(tag)
			default:
				p.AllowAttrs(attr).OnElements(tag)
			}
		}
	}

	p.AllowAttrs("class", "id").Globally()
	p.AllowAttrs("style").Globally()
	p.AllowStyles(allowedStyleProperties...).Globally()

	p.AllowURLSchemes("http", "https", "mailto")
	p.AllowRelativeURLs(true)
	p.RequireParseableURLs(true)
	p.RequireNoFollowOnFullyQualifiedLinks(true)
	p.AddTargetBlankToFullyQualifiedLinks(false)

	return &contentSanitizer{
		policy: p,
	}
}

// Sanitize はHTMLコンテンツをサニタイズして安全なHTMLを返す。
func (s *contentSanitizer) Sanitize(rawHTML string) string {
	if rawHTML == "" {
		return ""
	}
	return s.policy.Sanitize(rawHTML)
}

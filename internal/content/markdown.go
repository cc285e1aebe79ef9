package content

import (
	"bytes"
	"fmt"
	"regexp"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/hitoshi/learnpath/internal/security"
)

// newMarkdown はGFM拡張と改行の<br>変換を有効にしたgoldmarkを生成する。
// 生HTMLはそのまま出力し、後段のサニタイザで許可リストに絞り込む。
func newMarkdown() goldmark.Markdown {
	return goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(
			html.WithHardWraps(),
			html.WithUnsafe(),
		),
	)
}

// MarkdownProcessor はMarkdownをサニタイズ済み・装飾済みのHTMLに変換する。
type MarkdownProcessor struct {
	md        goldmark.Markdown
	sanitizer security.ContentSanitizerService
}

// NewMarkdownProcessor は新しいMarkdownProcessorを生成する。
func NewMarkdownProcessor(sanitizer security.ContentSanitizerService) *MarkdownProcessor {
	return &MarkdownProcessor{
		md:        newMarkdown(),
		sanitizer: sanitizer,
	}
}

// RenderMarkdown はMarkdownをHTMLに変換し、サニタイズして返す。
func (p *MarkdownProcessor) RenderMarkdown(src string) (string, error) {
	var buf bytes.Buffer
	if err := p.md.Convert([]byte(src), &buf); err != nil {
		return "", fmt.Errorf("markdown conversion failed: %w", err)
	}
	return p.sanitizer.Sanitize(buf.String()), nil
}

// ProcessMarkdown は RenderMarkdown の結果に EnhanceHTML を適用する。
func (p *MarkdownProcessor) ProcessMarkdown(src string) (string, error) {
	rendered, err := p.RenderMarkdown(src)
	if err != nil {
		return "", err
	}
	return EnhanceHTML(rendered), nil
}

var codeBlockPattern = regexp.MustCompile(`<pre><code class="language-(\w+)">([\s\S]*?)</code></pre>`)

const codeBlockTemplate = `<div class="code-block">` +
	`<div class="code-header"><span class="language">${1}</span><button class="copy-button">Copy</button></div>` +
	`<pre><code class="language-${1}">${2}</code></pre>` +
	`</div>`

// callout は ::: kind ... ::: 記法で囲まれた注記ブロックの種類。
type callout struct {
	kind    string
	icon    string
	pattern *regexp.Regexp
}

// calloutSeparator はマーカー前後の区切り。改行が<br>に変換された場合も許容する。
const calloutSeparator = `(?:\s|<br\s*/?>)`

func newCallout(kind, icon string) callout {
	return callout{
		kind:    kind,
		icon:    icon,
		pattern: regexp.MustCompile(`::: ` + kind + calloutSeparator + `+([\s\S]*?)` + calloutSeparator + `*:::`),
	}
}

// callouts は適用順に並ぶ。
var callouts = []callout{
	newCallout("note", "ℹ️"),
	newCallout("warning", "⚠️"),
	newCallout("tip", "💡"),
}

// EnhanceHTML はサニタイズ済みHTMLに表示用の装飾を加える。
//   - 言語指定付きコードブロックを言語ラベルとコピーボタン付きのブロックで包む
//   - ::: note / ::: warning / ::: tip で囲まれた部分を注記ブロックに置き換える
func EnhanceHTML(src string) string {
	out := codeBlockPattern.ReplaceAllString(src, codeBlockTemplate)

	for _, c := range callouts {
		out = c.pattern.ReplaceAllString(out,
			`<div class="`+c.kind+`-block">`+
				`<div class="`+c.kind+`-icon">`+c.icon+`</div>`+
				`<div class="`+c.kind+`-content">${1}</div>`+
				`</div>`)
	}

	return out
}

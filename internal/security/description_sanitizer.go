package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

// DescriptionSanitizerService は求人説明文等のHTMLを端末表示用のプレーンテキストに
// 変換する機能のインターフェースを定義する。サーバーが返すdescriptionやnotesには
// リッチテキスト編集由来のマークアップが混入することがある。
type DescriptionSanitizerService interface {
	// SanitizeText はHTMLを除去したプレーンテキストを返す。
	// p / br / li は改行に、liは行頭の "- " に変換される。
	// script等の危険なタグの内容は出力に含まれない。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	SanitizeText(raw string) string
}

// descriptionSanitizer はDescriptionSanitizerServiceの実装。
// bluemondayのポリシーで構造タグのみを残し、その後トークナイザで
// テキストへ畳み込む。スレッドセーフ。
type descriptionSanitizer struct {
	policy *bluemonday.Policy
}

// NewDescriptionSanitizer はDescriptionSanitizerServiceの新しいインスタンスを生成する。
// ポリシーの内容:
//   - 許可タグ: p, br, ul, ol, li, strong, em（テキスト構造の復元にのみ使用）
//   - script, iframe, style および全ての属性は除去される
func NewDescriptionSanitizer() *descriptionSanitizer {
	p := bluemonday.NewPolicy()
	p.AllowElements("p", "br", "ul", "ol", "li", "strong", "em")

	return &descriptionSanitizer{
		policy: p,
	}
}

// SanitizeText はHTMLを除去したプレーンテキストを返す。
func (s *descriptionSanitizer) SanitizeText(raw string) string {
	if raw == "" {
		return ""
	}

	safe := s.policy.Sanitize(raw)

	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(safe))
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			// 入力終端（またはパース不能）で畳み込みを終了する
			return collapseBlankLines(strings.TrimSpace(b.String()))
		case html.TextToken:
			b.WriteString(string(z.Text()))
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "br":
				b.WriteString("\n")
			case "li":
				b.WriteString("\n- ")
			case "p", "ul", "ol":
				b.WriteString("\n")
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "p", "ul", "ol":
				b.WriteString("\n")
			}
		}
	}
}

// collapseBlankLines は連続する空行を1つにまとめ、行末の空白を除去する。
func collapseBlankLines(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		trimmed := strings.TrimRight(line, " \t")
		if strings.TrimSpace(trimmed) == "" {
			if blank || len(out) == 0 {
				continue
			}
			blank = true
			out = append(out, "")
			continue
		}
		blank = false
		out = append(out, trimmed)
	}
	// 末尾の空行を除去
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return strings.Join(out, "\n")
}

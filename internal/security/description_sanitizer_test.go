package security

import (
	"strings"
	"testing"
)

func TestSanitizeText_StripsTags(t *testing.T) {
	s := NewDescriptionSanitizer()

	got := s.SanitizeText("<p>Goエンジニアを<strong>募集</strong>しています</p>")
	if strings.ContainsAny(got, "<>") {
		t.Errorf("SanitizeText = %q, must not contain markup", got)
	}
	if !strings.Contains(got, "Goエンジニアを募集しています") {
		t.Errorf("SanitizeText = %q, must keep the text content", got)
	}
}

func TestSanitizeText_ScriptContentDropped(t *testing.T) {
	s := NewDescriptionSanitizer()

	got := s.SanitizeText(`<p>概要</p><script>alert("xss")</script><style>p{color:red}</style>`)
	if strings.Contains(got, "alert") || strings.Contains(got, "color") {
		t.Errorf("SanitizeText = %q, dangerous tag content must be dropped", got)
	}
	if !strings.Contains(got, "概要") {
		t.Errorf("SanitizeText = %q, must keep the safe text", got)
	}
}

func TestSanitizeText_ListItemsBecomeBullets(t *testing.T) {
	s := NewDescriptionSanitizer()

	got := s.SanitizeText("<ul><li>Go</li><li>PostgreSQL</li></ul>")
	lines := strings.Split(got, "\n")

	var bullets []string
	for _, line := range lines {
		if strings.HasPrefix(line, "- ") {
			bullets = append(bullets, line)
		}
	}
	if len(bullets) != 2 || bullets[0] != "- Go" || bullets[1] != "- PostgreSQL" {
		t.Errorf("SanitizeText = %q, want two bullet lines", got)
	}
}

func TestSanitizeText_ParagraphsAndBreaksBecomeNewlines(t *testing.T) {
	s := NewDescriptionSanitizer()

	got := s.SanitizeText("<p>1行目</p><p>2行目<br>3行目</p>")
	for _, want := range []string{"1行目", "2行目", "3行目"} {
		if !strings.Contains(got, want) {
			t.Fatalf("SanitizeText = %q, missing %q", got, want)
		}
	}
	if !strings.Contains(got, "\n") {
		t.Errorf("SanitizeText = %q, want line breaks for block tags", got)
	}
	if strings.Contains(got, "\n\n\n") {
		t.Errorf("SanitizeText = %q, consecutive blank lines must be collapsed", got)
	}
}

func TestSanitizeText_Empty(t *testing.T) {
	s := NewDescriptionSanitizer()

	if got := s.SanitizeText(""); got != "" {
		t.Errorf("SanitizeText(\"\") = %q, want empty", got)
	}
}

func TestSanitizeText_PlainTextUnchanged(t *testing.T) {
	s := NewDescriptionSanitizer()

	in := "マークアップなしの説明文です"
	if got := s.SanitizeText(in); got != in {
		t.Errorf("SanitizeText = %q, want %q", got, in)
	}
}

func TestSanitizeText_Idempotent(t *testing.T) {
	s := NewDescriptionSanitizer()

	in := "<p>概要</p><ul><li>Go</li></ul>"
	once := s.SanitizeText(in)
	twice := s.SanitizeText(once)
	if once != twice {
		t.Errorf("SanitizeText is not idempotent: %q != %q", once, twice)
	}
}

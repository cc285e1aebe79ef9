package model

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Format
	}{
		{"div要素", "<div>x</div>", FormatHTML},
		{"前後空白付きHTML", "  \n<p>hello</p>\n", FormatHTML},
		{"大文字タグ", "<DIV>x</DIV>", FormatHTML},
		{"見出しマークダウン", "# Title", FormatMarkdown},
		{"山括弧で始まらない", "text <b>bold</b>", FormatMarkdown},
		{"タグでない山括弧", "<3 you", FormatMarkdown},
		{"空文字", "", FormatMarkdown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectFormat(tt.in); got != tt.want {
				t.Errorf("DetectFormat(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestLegacyString_EffectiveFormat(t *testing.T) {
	if got := LegacyString("<div>x</div>").EffectiveFormat(); got != FormatHTML {
		t.Errorf("EffectiveFormat = %q, want html", got)
	}
	if got := LegacyString("# Title").EffectiveFormat(); got != FormatMarkdown {
		t.Errorf("EffectiveFormat = %q, want markdown", got)
	}
}

func TestDecodeStoredContent_String(t *testing.T) {
	c := DecodeStoredContent([]byte(`"# Hello"`))
	s, ok := c.(LegacyString)
	if !ok {
		t.Fatalf("expected LegacyString, got %T", c)
	}
	if string(s) != "# Hello" {
		t.Errorf("content = %q, want %q", s, "# Hello")
	}
}

func TestDecodeStoredContent_StructuredWithRender(t *testing.T) {
	raw := `{"raw":"# Hi","html":"<h1>Hi</h1>","format":"markdown","lastRenderedAt":"2024-01-02T03:04:05Z"}`
	c := DecodeStoredContent([]byte(raw))
	rec, ok := c.(StructuredRecord)
	if !ok {
		t.Fatalf("expected StructuredRecord, got %T", c)
	}
	if rec.Raw != "# Hi" || rec.Format != FormatMarkdown {
		t.Errorf("record = %+v", rec)
	}
	if rec.Rendered == nil {
		t.Fatal("expected Rendered to be set")
	}
	if rec.Rendered.HTML != "<h1>Hi</h1>" {
		t.Errorf("HTML = %q", rec.Rendered.HTML)
	}
	want := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	if !rec.Rendered.At.Equal(want) {
		t.Errorf("At = %v, want %v", rec.Rendered.At, want)
	}
}

func TestDecodeStoredContent_HalfRenderedPairIsDropped(t *testing.T) {
	c := DecodeStoredContent([]byte(`{"raw":"x","html":"<p>x</p>","format":"html"}`))
	rec, ok := c.(StructuredRecord)
	if !ok {
		t.Fatalf("expected StructuredRecord, got %T", c)
	}
	if rec.Rendered != nil {
		t.Error("html without lastRenderedAt should not produce a render snapshot")
	}
}

func TestDecodeStoredContent_UnknownShapesBecomeLegacy(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"format不正", `{"raw":"abc","format":"rst"}`, "abc"},
		{"rawなし", `{"foo":1}`, `{"foo":1}`},
		{"数値", `42`, "42"},
		{"null", `null`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DecodeStoredContent([]byte(tt.in))
			s, ok := c.(LegacyString)
			if !ok {
				t.Fatalf("expected LegacyString, got %T", c)
			}
			if string(s) != tt.want {
				t.Errorf("content = %q, want %q", s, tt.want)
			}
		})
	}
}

func TestDecodeContentInput(t *testing.T) {
	t.Run("文字列はLegacyString", func(t *testing.T) {
		c, err := DecodeContentInput(json.RawMessage(`"<p>x</p>"`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, ok := c.(LegacyString); !ok {
			t.Errorf("expected LegacyString, got %T", c)
		}
	})

	t.Run("rawとformatを持つオブジェクト", func(t *testing.T) {
		c, err := DecodeContentInput(json.RawMessage(`{"raw":"<p>x</p>","format":"html"}`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		rec, ok := c.(StructuredRecord)
		if !ok {
			t.Fatalf("expected StructuredRecord, got %T", c)
		}
		if rec.Format != FormatHTML || rec.Raw != "<p>x</p>" {
			t.Errorf("record = %+v", rec)
		}
	})

	t.Run("その他は文字列化してmarkdown", func(t *testing.T) {
		c, err := DecodeContentInput(json.RawMessage(`123`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		rec, ok := c.(StructuredRecord)
		if !ok {
			t.Fatalf("expected StructuredRecord, got %T", c)
		}
		if rec.Format != FormatMarkdown || rec.Raw != "123" {
			t.Errorf("record = %+v", rec)
		}
	})

	t.Run("nullはエラー", func(t *testing.T) {
		_, err := DecodeContentInput(json.RawMessage(`null`))
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected *APIError, got %v", err)
		}
		if apiErr.Code != ErrCodeInvalidContent {
			t.Errorf("Code = %q, want %q", apiErr.Code, ErrCodeInvalidContent)
		}
	})
}

func TestMarshalContent(t *testing.T) {
	b, err := MarshalContent(LegacyString("# x"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(b) != `"# x"` {
		t.Errorf("legacy = %s", b)
	}

	at := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	b, err = MarshalContent(StructuredRecord{
		Raw:      "# x",
		Format:   FormatMarkdown,
		Rendered: &RenderSnapshot{HTML: "<h1>x</h1>", At: at},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{`"raw":"# x"`, `"format":"markdown"`, `"lastRenderedAt":"2024-05-06T07:08:09Z"`} {
		if !strings.Contains(string(b), want) {
			t.Errorf("marshalled record %s does not contain %s", b, want)
		}
	}

	b, err = MarshalContent(StructuredRecord{Raw: "y", Format: FormatHTML})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(string(b), "html\":\"") || strings.Contains(string(b), "lastRenderedAt") {
		t.Errorf("unrendered record should omit html and lastRenderedAt: %s", b)
	}
}

func TestIsNotFound(t *testing.T) {
	if !IsNotFound(NewLessonNotFoundError("x")) {
		t.Error("lesson not found should be NotFound")
	}
	if !IsNotFound(NewUserNotFoundError()) {
		t.Error("user not found should be NotFound")
	}
	if IsNotFound(NewTransactionFailedError(errors.New("boom"))) {
		t.Error("transaction failure should not be NotFound")
	}
	if IsNotFound(errors.New("plain")) {
		t.Error("plain error should not be NotFound")
	}
}

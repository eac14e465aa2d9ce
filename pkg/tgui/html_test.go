package tgui

import "testing"

func TestEscapes(t *testing.T) {
	t.Parallel()
	if got := B("<cats & dogs>"); got != "<b>&lt;cats &amp; dogs&gt;</b>" {
		t.Fatalf("B = %q", got)
	}
	if got := Pre(`a "b"`); got != "<pre>a &#34;b&#34;</pre>" {
		t.Fatalf("Pre = %q", got)
	}
}

func TestCard(t *testing.T) {
	t.Parallel()
	c := Card{
		Icon:    "❌",
		Title:   "No results",
		Body:    Concat("No images found for ", B("cats")),
		Section: "Try",
		Items:   []string{"other words"},
	}
	want := "❌ <b>No results</b>\nNo images found for <b>cats</b>\n\n<b>Try</b>\n• other words"
	if got := c.HTML(); string(got) != want {
		t.Fatalf("HTML =\n%s\nwant\n%s", got, want)
	}
}

func TestTruncRunes(t *testing.T) {
	t.Parallel()
	if got := TruncRunes("héllo", 3); got != "hél…" {
		t.Fatalf("TruncRunes = %q", got)
	}
	if got := TruncRunes("ok", 3); got != "ok" {
		t.Fatalf("TruncRunes = %q", got)
	}
}

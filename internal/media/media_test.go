package media

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	logx "pullbot/pkg/logx"
)

func write(t *testing.T, dir, name string, size int64) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if size > 0 {
		if _, err := f.Write(bytes.Repeat([]byte{0xAB}, int(min(size, 64)))); err != nil {
			t.Fatal(err)
		}
		if err := f.Truncate(size); err != nil {
			t.Fatal(err)
		}
	}
	return path
}

func TestValidateFilterRules(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	write(t, dir, "a.PNG", 100)
	write(t, dir, "b.jpeg", 100)
	write(t, dir, "c.txt", 100)
	write(t, dir, "d.gif", 0)
	write(t, dir, "e.webp", 5)
	write(t, dir, "f.jpg", MaxFileBytes)
	write(t, dir, "g.jpg", MaxFileBytes-1)
	if err := os.Mkdir(filepath.Join(dir, "h.png"), 0o755); err != nil {
		t.Fatal(err)
	}

	seq, err := NewValidator(logx.Nop()).Scan(dir)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	want := map[string]SkipReason{
		"a.PNG":  "",
		"b.jpeg": "",
		"c.txt":  SkipExtension,
		"d.gif":  SkipEmpty,
		"e.webp": SkipUnreadable,
		"f.jpg":  SkipTooLarge,
		"g.jpg":  "",
		"h.png":  SkipNotRegular,
	}
	seen := 0
	for c := range seq {
		seen++
		reason, ok := want[c.Entry.Name]
		if !ok {
			t.Fatalf("unexpected entry %q", c.Entry.Name)
		}
		if c.Reason != reason {
			t.Fatalf("%s: reason = %q, want %q", c.Entry.Name, c.Reason, reason)
		}
	}
	if seen != len(want) {
		t.Fatalf("saw %d entries, want %d", seen, len(want))
	}
}

func TestValidateCountsSkips(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	write(t, dir, "ok.png", 20)
	write(t, dir, "huge.jpg", 9<<20)

	entries, skipped, err := NewValidator(logx.Nop()).Validate(dir)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "ok.png" || entries[0].Size != 20 {
		t.Fatalf("entries = %+v", entries)
	}
	if skipped != 1 {
		t.Fatalf("skipped = %d, want 1", skipped)
	}
}

func TestValidateMissingDir(t *testing.T) {
	t.Parallel()
	if _, _, err := NewValidator(logx.Nop()).Validate(filepath.Join(t.TempDir(), "gone")); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestScanStopsEarly(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	for i := 0; i < 5; i++ {
		write(t, dir, fmt.Sprintf("%d.png", i), 20)
	}
	seq, err := NewValidator(logx.Nop()).Scan(dir)
	if err != nil {
		t.Fatal(err)
	}
	n := 0
	for range seq {
		n++
		if n == 2 {
			break
		}
	}
	if n != 2 {
		t.Fatalf("n = %d", n)
	}
}

func TestPackageLimit(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	var entries []Entry
	for i := 0; i < 12; i++ {
		name := fmt.Sprintf("%02d.png", i)
		write(t, dir, name, 32)
		entries = append(entries, Entry{Path: filepath.Join(dir, name), Name: name, Ext: ".png", Size: 32})
	}
	p := NewPackager(logx.Nop())

	tests := []struct {
		limit int
		want  int
	}{
		{limit: 3, want: 3},
		{limit: 10, want: 10},
		{limit: 15, want: 10},
		{limit: 0, want: 10},
	}
	for _, tt := range tests {
		got, skipped := p.Package(entries, tt.limit)
		if len(got) != tt.want || skipped != 0 {
			t.Fatalf("limit %d: got %d attachments, %d skipped", tt.limit, len(got), skipped)
		}
		if got[0].Filename != "00.png" {
			t.Fatalf("limit %d: first = %s", tt.limit, got[0].Filename)
		}
	}
}

func TestPackageDropsUnreadableWithoutBackfill(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	a := write(t, dir, "a.png", 32)
	c := write(t, dir, "c.png", 32)
	entries := []Entry{
		{Path: a, Name: "a.png"},
		{Path: filepath.Join(dir, "b.png"), Name: "b.png"},
		{Path: c, Name: "c.png"},
	}
	got, skipped := NewPackager(logx.Nop()).Package(entries, 2)
	if len(got) != 1 || got[0].Filename != "a.png" {
		t.Fatalf("got %+v", got)
	}
	if skipped != 1 {
		t.Fatalf("skipped = %d", skipped)
	}
}

func TestAttachmentOutlivesFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := write(t, dir, "a.gif", 40)
	got, _ := NewPackager(logx.Nop()).Package([]Entry{{Path: path, Name: "a.gif"}}, 1)
	if err := os.RemoveAll(dir); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Size() != 40 {
		t.Fatalf("attachment lost after workspace removal: %+v", got)
	}
}

func TestPackageRechecksCeiling(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := write(t, dir, "grew.png", MaxFileBytes+1)
	got, skipped := NewPackager(logx.Nop()).Package([]Entry{{Path: path, Name: "grew.png"}}, 1)
	if len(got) != 0 || skipped != 1 {
		t.Fatalf("got %d attachments, %d skipped", len(got), skipped)
	}
}

func TestSupported(t *testing.T) {
	t.Parallel()
	for name, want := range map[string]bool{"x.JPG": true, "x.webp": true, "x.bmp": false, "png": false} {
		if got := Supported(name); got != want {
			t.Fatalf("Supported(%q) = %v", name, got)
		}
	}
}

package adapter

import (
	"context"
	"errors"
	"strings"
	"testing"

	tele "gopkg.in/telebot.v4"

	kit "pullbot/internal/transport"
)

func TestSplitTextShort(t *testing.T) {
	t.Parallel()
	got := splitText("hello", 10, "")
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("got %q", got)
	}
}

func TestSplitTextPrefersNewline(t *testing.T) {
	t.Parallel()
	s := strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6)
	got := splitText(s, 10, "")
	if len(got) != 2 || got[0] != "aaaaaa" || got[1] != "bbbbbb" {
		t.Fatalf("got %q", got)
	}
}

func TestSplitTextAvoidsOpenTag(t *testing.T) {
	t.Parallel()
	s := "abcdef<b>xy</b>"
	got := splitText(s, 8, "HTML")
	if got[0] != "abcdef" || !strings.HasPrefix(got[1], "<b>") {
		t.Fatalf("got %q", got)
	}
	if strings.Join(got, "") != s {
		t.Fatalf("lost text: %q", got)
	}
}

func TestAlbumsSplitByKind(t *testing.T) {
	t.Parallel()
	photos, docs := albums([]kit.File{
		{Name: "01.png", Data: []byte("p")},
		{Name: "02.gif", Data: []byte("g")},
		{Name: "03.JPG", Data: []byte("j")},
		{Name: "04.webp", Data: []byte("w")},
	})
	if len(photos) != 2 || len(docs) != 2 {
		t.Fatalf("photos=%d docs=%d", len(photos), len(docs))
	}
	if d, ok := docs[0].(*tele.Document); !ok || d.FileName != "02.gif" {
		t.Fatalf("docs[0] = %#v", docs[0])
	}
}

func TestSendChunkedReportsPartialDelivery(t *testing.T) {
	t.Parallel()
	photos := make([]tele.Inputtable, 12)
	docs := make([]tele.Inputtable, 2)
	for i := range photos {
		photos[i] = &tele.Photo{}
	}
	for i := range docs {
		docs[i] = &tele.Document{}
	}

	cases := []struct {
		name    string
		failAt  int
		wantErr bool
		sent    int
	}{
		{name: "all chunks", failAt: -1},
		{name: "first chunk fails", failAt: 0, wantErr: true, sent: 0},
		{name: "documents fail after photos", failAt: 2, wantErr: true, sent: 12},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var sizes []int
			err := sendChunked(context.Background(), [][]tele.Inputtable{photos, docs}, func(g []tele.Inputtable) error {
				if len(sizes) == tc.failAt {
					return errors.New("upload rejected")
				}
				sizes = append(sizes, len(g))
				return nil
			})
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v", err)
			}
			if got := kit.SentCount(err); got != tc.sent {
				t.Fatalf("sent = %d, want %d (err %v)", got, tc.sent, err)
			}
			var partial *kit.PartialSendError
			if tc.sent > 0 && (!errors.As(err, &partial) || partial.Total != 14) {
				t.Fatalf("err = %#v", err)
			}
			if !tc.wantErr && (len(sizes) != 3 || sizes[0] != 10 || sizes[1] != 2 || sizes[2] != 2) {
				t.Fatalf("chunks = %v", sizes)
			}
		})
	}
}

func TestToMessage(t *testing.T) {
	t.Parallel()
	m := toMessage(&tele.Message{
		ID:       7,
		ThreadID: 3,
		Text:     "/pull cats",
		Chat:     &tele.Chat{ID: 42, Type: tele.ChatPrivate},
		Sender:   &tele.User{ID: 42, Username: "neo"},
	})
	if !m.IsPrivate || m.FromID != 42 || m.FromUsername != "neo" || m.ThreadID != 3 || m.Text != "/pull cats" {
		t.Fatalf("message = %+v", m)
	}
}

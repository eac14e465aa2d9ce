package notifier

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"pullbot/internal/media"
	"pullbot/internal/pull"
	kit "pullbot/internal/transport"
	logx "pullbot/pkg/logx"
)

type call struct {
	op     string
	chatID int64
	msgID  int
	text   string
	files  int
}

type fakeAdapter struct {
	mu          sync.Mutex
	calls       []call
	nextID      int
	unreachable map[int64]bool
	failEdit    bool
	failFiles   bool
	// partialFiles makes SendFiles fail after delivering that many files.
	partialFiles int
}

func (a *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (a *fakeAdapter) Stop(context.Context) error                     { return nil }

func (a *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.unreachable[to.ChatID] {
		a.calls = append(a.calls, call{op: "send-failed", chatID: to.ChatID})
		return kit.MessageRef{}, errors.New("forbidden: bot can't initiate conversation")
	}
	a.nextID++
	a.calls = append(a.calls, call{op: "send", chatID: to.ChatID, msgID: a.nextID, text: text})
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: a.nextID}, nil
}

func (a *fakeAdapter) EditText(_ context.Context, ref kit.MessageRef, text string, _ *kit.SendOptions) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failEdit {
		return errors.New("message to edit not found")
	}
	a.calls = append(a.calls, call{op: "edit", chatID: ref.ChatID, msgID: ref.MessageID, text: text})
	return nil
}

func (a *fakeAdapter) DeleteMessage(_ context.Context, ref kit.MessageRef) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, call{op: "delete", chatID: ref.ChatID, msgID: ref.MessageID})
	return nil
}

func (a *fakeAdapter) SendFiles(_ context.Context, to kit.ChatTarget, files []kit.File, _ *kit.SendOptions) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failFiles {
		return errors.New("request entity too large")
	}
	if a.partialFiles > 0 {
		a.calls = append(a.calls, call{op: "files", chatID: to.ChatID, files: a.partialFiles})
		return &kit.PartialSendError{Sent: a.partialFiles, Total: len(files), Err: errors.New("request entity too large")}
	}
	a.calls = append(a.calls, call{op: "files", chatID: to.ChatID, files: len(files)})
	return nil
}

func (a *fakeAdapter) ops() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var ops []string
	for _, c := range a.calls {
		ops = append(ops, c.op)
	}
	return strings.Join(ops, ",")
}

const (
	groupChat = int64(-100)
	requester = int64(42)
)

func newService(a *fakeAdapter) *Service {
	return New(Config{RatePerSec: 1000}, a, logx.Nop(), nil)
}

func groupOrigin() Origin {
	return Origin{Chat: kit.ChatTarget{ChatID: groupChat}, RequesterID: requester}
}

func TestSearchingThenTerminalEditsProgress(t *testing.T) {
	a := &fakeAdapter{}
	n := newService(a).For(groupOrigin())
	ctx := context.Background()

	if err := n.Notify(ctx, pull.Outcome{Kind: pull.Searching, Keyword: "cats"}); err != nil {
		t.Fatal(err)
	}
	if err := n.Notify(ctx, pull.Outcome{Kind: pull.NoResults, Keyword: "cats"}); err != nil {
		t.Fatal(err)
	}
	if got := a.ops(); got != "send,edit" {
		t.Fatalf("ops = %s", got)
	}
	edit := a.calls[1]
	if edit.msgID != a.calls[0].msgID || !strings.Contains(edit.text, "No results") || !strings.Contains(edit.text, "<b>cats</b>") {
		t.Fatalf("edit = %+v", edit)
	}
}

func TestDeliveredSendsFilesAndRemovesProgress(t *testing.T) {
	a := &fakeAdapter{}
	n := newService(a).For(groupOrigin())
	ctx := context.Background()

	_ = n.Notify(ctx, pull.Outcome{Kind: pull.Searching, Keyword: "cats"})
	err := n.Notify(ctx, pull.Outcome{Kind: pull.Delivered, Attachments: []media.Attachment{
		{Filename: "a.png", Data: []byte("1")},
		{Filename: "b.gif", Data: []byte("2")},
	}})
	if err != nil {
		t.Fatal(err)
	}
	if got := a.ops(); got != "send,files,delete" {
		t.Fatalf("ops = %s", got)
	}
	if a.calls[1].files != 2 || a.calls[1].chatID != groupChat {
		t.Fatalf("files call = %+v", a.calls[1])
	}
}

func TestDeliveryFailureEditsProgress(t *testing.T) {
	a := &fakeAdapter{failFiles: true}
	n := newService(a).For(groupOrigin())
	ctx := context.Background()

	_ = n.Notify(ctx, pull.Outcome{Kind: pull.Searching})
	if err := n.Notify(ctx, pull.Outcome{Kind: pull.Delivered, Attachments: []media.Attachment{{Filename: "a.png", Data: []byte("1")}}}); err == nil {
		t.Fatal("expected delivery error")
	}
	if got := a.ops(); got != "send,edit" {
		t.Fatalf("ops = %s", got)
	}
	if !strings.Contains(a.calls[1].text, "Processing failed") {
		t.Fatalf("edit text = %q", a.calls[1].text)
	}
}

func TestPartialDeliveryKeepsWhatArrived(t *testing.T) {
	a := &fakeAdapter{partialFiles: 1}
	n := newService(a).For(groupOrigin())
	ctx := context.Background()

	_ = n.Notify(ctx, pull.Outcome{Kind: pull.Searching})
	err := n.Notify(ctx, pull.Outcome{Kind: pull.Delivered, Attachments: []media.Attachment{
		{Filename: "01.png", Data: []byte("1")},
		{Filename: "02.gif", Data: []byte("2")},
	}})
	if kit.SentCount(err) != 1 {
		t.Fatalf("err = %v", err)
	}
	if got := a.ops(); got != "send,files,edit" {
		t.Fatalf("ops = %s", got)
	}
	text := a.calls[2].text
	if strings.Contains(text, "Processing failed") || !strings.Contains(text, "Partly delivered") || !strings.Contains(text, "<b>1</b> of <b>2</b>") {
		t.Fatalf("edit text = %q", text)
	}
}

func TestCooldownGoesPrivate(t *testing.T) {
	a := &fakeAdapter{}
	n := New(Config{RatePerSec: 1000, Cooldown: 30 * time.Second}, a, logx.Nop(), nil).For(groupOrigin())

	if err := n.Notify(context.Background(), pull.Outcome{Kind: pull.CooldownDenied, Remaining: 25}); err != nil {
		t.Fatal(err)
	}
	c := a.calls[0]
	if c.op != "send" || c.chatID != requester {
		t.Fatalf("call = %+v", c)
	}
	if !strings.Contains(c.text, "<b>25</b>") || !strings.Contains(c.text, "Cooldown: 30 seconds") {
		t.Fatalf("text = %q", c.text)
	}
}

func TestEphemeralFallsBackToOrigin(t *testing.T) {
	a := &fakeAdapter{unreachable: map[int64]bool{requester: true}}
	n := newService(a).For(groupOrigin())

	if err := n.Notify(context.Background(), pull.Outcome{Kind: pull.Searching, Ephemeral: true}); err != nil {
		t.Fatal(err)
	}
	if got := a.ops(); got != "send-failed,send" {
		t.Fatalf("ops = %s", got)
	}
	if a.calls[1].chatID != groupChat {
		t.Fatalf("fallback chat = %d", a.calls[1].chatID)
	}
}

func TestEditFailureSendsNewMessage(t *testing.T) {
	a := &fakeAdapter{failEdit: true}
	n := newService(a).For(groupOrigin())
	ctx := context.Background()

	_ = n.Notify(ctx, pull.Outcome{Kind: pull.Searching})
	if err := n.Notify(ctx, pull.Outcome{Kind: pull.DatabaseError, Message: "<boom>..."}); err != nil {
		t.Fatal(err)
	}
	if got := a.ops(); got != "send,send" {
		t.Fatalf("ops = %s", got)
	}
	if !strings.Contains(a.calls[1].text, "<pre>&lt;boom&gt;...</pre>") {
		t.Fatalf("text = %q", a.calls[1].text)
	}
}

func TestInvalidAmountWithoutProgress(t *testing.T) {
	a := &fakeAdapter{}
	n := newService(a).For(Origin{Chat: kit.ChatTarget{ChatID: requester}, RequesterID: requester, Private: true})
	if err := n.Notify(context.Background(), pull.Outcome{Kind: pull.InvalidAmount, Ephemeral: true}); err != nil {
		t.Fatal(err)
	}
	if got := a.ops(); got != "send" || a.calls[0].chatID != requester {
		t.Fatalf("calls = %+v", a.calls)
	}
	if !strings.Contains(a.calls[0].text, "between 1 and 10") {
		t.Fatalf("text = %q", a.calls[0].text)
	}
}

func TestNoAdapter(t *testing.T) {
	t.Parallel()
	n := New(Config{}, nil, logx.Nop(), nil).For(groupOrigin())
	if err := n.Notify(context.Background(), pull.Outcome{Kind: pull.Searching}); !errors.Is(err, ErrNoAdapter) {
		t.Fatalf("err = %v", err)
	}
}

package transport

import (
	"context"
	"errors"
	"fmt"
)

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // telegram forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string
	IsPrivate    bool
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	// Silent delivers without a notification sound.
	Silent bool
}

// File is an in-memory attachment. Data is owned by the adapter once passed to SendFiles.
type File struct {
	Name string
	Data []byte
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	DeleteMessage(ctx context.Context, ref MessageRef) error
	SendFiles(ctx context.Context, to ChatTarget, files []File, opt *SendOptions) error
}

// PartialSendError is returned by SendFiles when some files reached the chat
// before the call failed.
type PartialSendError struct {
	Sent  int
	Total int
	Err   error
}

func (e *PartialSendError) Error() string {
	return fmt.Sprintf("sent %d of %d files: %v", e.Sent, e.Total, e.Err)
}

func (e *PartialSendError) Unwrap() error { return e.Err }

// SentCount is how many files a failed SendFiles call still delivered.
func SentCount(err error) int {
	var p *PartialSendError
	if errors.As(err, &p) {
		return p.Sent
	}
	return 0
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface that adapters can implement
// to update platform-specific bot command menus (e.g. Telegram /menu list).
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}

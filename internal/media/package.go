package media

import (
	"fmt"
	"io"
	"os"

	logx "pullbot/pkg/logx"
)

// Attachment owns its bytes. Nothing in it refers back to the workspace.
type Attachment struct {
	Filename string
	Data     []byte
}

func (a Attachment) Size() int { return len(a.Data) }

type Packager struct {
	maxBytes int64
	log      logx.Logger
}

func NewPackager(log logx.Logger) *Packager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Packager{maxBytes: MaxFileBytes, log: log}
}

// Package selects the first min(limit, MaxAttachments) entries and reads each
// into memory. Entries that fail to read are dropped without pulling in a
// replacement, so the result may be shorter than the selection. The second
// return value counts the dropped entries.
func (p *Packager) Package(entries []Entry, limit int) ([]Attachment, int) {
	if limit <= 0 || limit > MaxAttachments {
		limit = MaxAttachments
	}
	if len(entries) > limit {
		entries = entries[:limit]
	}
	out := make([]Attachment, 0, len(entries))
	skipped := 0
	for _, e := range entries {
		data, err := p.read(e.Path)
		if err != nil {
			skipped++
			p.log.Warn("attachment dropped", logx.String("file", e.Name), logx.Err(err))
			continue
		}
		out = append(out, Attachment{Filename: e.Name, Data: data})
	}
	return out, skipped
}

// read loads the whole file and closes it before returning. The ceiling is
// enforced again here since the file may have changed after validation.
func (p *Packager) read(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, p.maxBytes))
	if err != nil {
		return nil, err
	}
	switch {
	case len(data) == 0:
		return nil, fmt.Errorf("%s: empty", path)
	case int64(len(data)) >= p.maxBytes:
		return nil, fmt.Errorf("%s: exceeds %d bytes", path, p.maxBytes)
	}
	return data, nil
}

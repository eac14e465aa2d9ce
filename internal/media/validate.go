// Package media filters downloaded files and turns the survivors into
// in-memory attachments.
package media

import (
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"strings"

	logx "pullbot/pkg/logx"
)

const (
	// MaxFileBytes is the exclusive size ceiling for a single attachment.
	MaxFileBytes int64 = 8 << 20
	// MaxAttachments caps one delivery regardless of the requested amount.
	MaxAttachments = 10
	// ProbeBytes must be readable from the start of a file for it to count.
	ProbeBytes = 10
)

var allowedExt = map[string]struct{}{
	".png":  {},
	".jpg":  {},
	".jpeg": {},
	".gif":  {},
	".webp": {},
}

// Supported reports whether name carries an accepted image extension.
func Supported(name string) bool {
	_, ok := allowedExt[strings.ToLower(filepath.Ext(name))]
	return ok
}

// Entry is a file that passed validation.
type Entry struct {
	Path string
	Name string
	Ext  string
	Size int64
}

type SkipReason string

const (
	SkipExtension  SkipReason = "unsupported extension"
	SkipNotRegular SkipReason = "not a regular file"
	SkipEmpty      SkipReason = "empty file"
	SkipTooLarge   SkipReason = "exceeds size ceiling"
	SkipUnreadable SkipReason = "unreadable"
)

// Check is the per-file verdict. Reason is empty when the file was accepted.
type Check struct {
	Entry  Entry
	Reason SkipReason
	Err    error
}

func (c Check) OK() bool { return c.Reason == "" }

type Validator struct {
	maxBytes int64
	log      logx.Logger
}

func NewValidator(log logx.Logger) *Validator {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Validator{maxBytes: MaxFileBytes, log: log}
}

// Scan lists dir and returns a lazy sequence of per-file checks in listing
// order (by name). A failing file never stops the scan.
func (v *Validator) Scan(dir string) (iter.Seq[Check], error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	return func(yield func(Check) bool) {
		for _, de := range entries {
			if !yield(v.check(dir, de)) {
				return
			}
		}
	}, nil
}

// Validate runs Scan to completion and returns the accepted entries and the
// number of skipped files.
func (v *Validator) Validate(dir string) ([]Entry, int, error) {
	seq, err := v.Scan(dir)
	if err != nil {
		return nil, 0, err
	}
	var (
		out     []Entry
		skipped int
	)
	for c := range seq {
		if c.OK() {
			out = append(out, c.Entry)
			continue
		}
		skipped++
		v.log.Debug("file rejected",
			logx.String("file", c.Entry.Name),
			logx.String("reason", string(c.Reason)),
			logx.Err(c.Err),
		)
	}
	return out, skipped, nil
}

func (v *Validator) check(dir string, de os.DirEntry) Check {
	name := de.Name()
	e := Entry{Path: filepath.Join(dir, name), Name: name, Ext: strings.ToLower(filepath.Ext(name))}
	if _, ok := allowedExt[e.Ext]; !ok {
		return Check{Entry: e, Reason: SkipExtension}
	}
	info, err := de.Info()
	if err != nil {
		return Check{Entry: e, Reason: SkipUnreadable, Err: err}
	}
	if !info.Mode().IsRegular() {
		return Check{Entry: e, Reason: SkipNotRegular}
	}
	e.Size = info.Size()
	switch {
	case e.Size <= 0:
		return Check{Entry: e, Reason: SkipEmpty}
	case e.Size >= v.maxBytes:
		return Check{Entry: e, Reason: SkipTooLarge}
	}
	if err := probe(e.Path); err != nil {
		return Check{Entry: e, Reason: SkipUnreadable, Err: err}
	}
	return Check{Entry: e}
}

func probe(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var buf [ProbeBytes]byte
	_, err = io.ReadFull(f, buf[:])
	return err
}

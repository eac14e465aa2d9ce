package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	logx "pullbot/pkg/logx"
)

// Sweep removes every directory directly under the manager's root whose name
// carries the workspace prefix. It must run before the first job is admitted;
// anything it finds was left behind by a previous process.
//
// Regular files and symlinks are never touched, even when their name matches.
func (m *Manager) Sweep() ([]string, error) {
	entries, err := os.ReadDir(m.root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sweep %s: %w", m.root, err)
	}

	var (
		removed []string
		errs    []error
	)
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), m.prefix) {
			continue
		}
		path := filepath.Join(m.root, e.Name())
		if err := os.RemoveAll(path); err != nil {
			m.log.Warn("could not remove leftover workspace", logx.String("path", path), logx.Err(err))
			errs = append(errs, err)
			continue
		}
		m.log.Info("removed leftover workspace", logx.String("path", path))
		removed = append(removed, path)
	}
	return removed, errors.Join(errs...)
}

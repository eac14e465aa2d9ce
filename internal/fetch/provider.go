// Package fetch is the boundary to the external content provider that searches
// for images and downloads them into a job workspace.
package fetch

import "context"

// Result describes what a provider did for one call.
type Result struct {
	// Matches is the number of search hits the provider accepted for download.
	// Zero means the search itself came back empty.
	Matches int
	// Downloaded is the number of files written into the workspace.
	Downloaded int
}

// Provider populates dir with files matching keyword. It is called at most once
// per job. Files left in dir are the provider's whole output; a partial result
// is not an error.
type Provider interface {
	Fetch(ctx context.Context, keyword string, amount int, dir string) (Result, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, keyword string, amount int, dir string) (Result, error)

func (f ProviderFunc) Fetch(ctx context.Context, keyword string, amount int, dir string) (Result, error) {
	return f(ctx, keyword, amount, dir)
}

// Error is returned when the provider could not complete a search.
type Error struct {
	Op      string
	Keyword string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := "fetch"
	if e.Op != "" {
		msg += " " + e.Op
	}
	if e.Keyword != "" {
		msg += " " + `"` + e.Keyword + `"`
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

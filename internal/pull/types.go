package pull

import (
	"context"
	"time"

	"pullbot/internal/media"
)

const (
	MinAmount     = 1
	MaxAmount     = media.MaxAttachments
	DefaultAmount = 5

	// diagnosticLimit bounds the provider error text shown to the requester.
	diagnosticLimit = 100
)

// Request is one pull command as seen by the orchestrator. How the reply
// reaches the requester is the Notifier's business.
type Request struct {
	RequesterID int64
	Keyword     string
	Amount      int
	Ephemeral   bool
}

type State int

const (
	StateAdmitted State = iota + 1
	StateFetching
	StateValidating
	StatePackaging
	StateDelivered
	StateFailed
	StateCleanedUp
)

func (s State) String() string {
	switch s {
	case StateAdmitted:
		return "admitted"
	case StateFetching:
		return "fetching"
	case StateValidating:
		return "validating"
	case StatePackaging:
		return "packaging"
	case StateDelivered:
		return "delivered"
	case StateFailed:
		return "failed"
	case StateCleanedUp:
		return "cleaned_up"
	default:
		return "unknown"
	}
}

type OutcomeKind int

const (
	Searching OutcomeKind = iota + 1
	CooldownDenied
	InvalidAmount
	NoResults
	Delivered
	DownloadFailed
	ProcessingFailed
	DatabaseError
)

func (k OutcomeKind) String() string {
	switch k {
	case Searching:
		return "searching"
	case CooldownDenied:
		return "cooldown_denied"
	case InvalidAmount:
		return "invalid_amount"
	case NoResults:
		return "no_results"
	case Delivered:
		return "delivered"
	case DownloadFailed:
		return "download_failed"
	case ProcessingFailed:
		return "processing_failed"
	case DatabaseError:
		return "database_error"
	default:
		return "unknown"
	}
}

// Terminal reports whether k ends a job. Every request gets exactly one.
func (k OutcomeKind) Terminal() bool { return k > Searching && k <= DatabaseError }

// Outcome is what the Notifier renders. Only the fields relevant to Kind are set.
type Outcome struct {
	Kind      OutcomeKind
	Keyword   string
	Amount    int
	Ephemeral bool

	// Remaining is the cooldown wait in whole seconds (CooldownDenied).
	Remaining int
	// Attachments are owned by the notifier once delivered (Delivered).
	Attachments []media.Attachment
	// Message is a truncated provider diagnostic (DatabaseError).
	Message string
}

// Notifier reports outcomes back to the requester. A Notify error is logged
// and never changes the job's outcome.
type Notifier interface {
	Notify(ctx context.Context, o Outcome) error
}

type NotifierFunc func(ctx context.Context, o Outcome) error

func (f NotifierFunc) Notify(ctx context.Context, o Outcome) error { return f(ctx, o) }

// Report summarizes one request after it has fully finished.
type Report struct {
	JobID       string
	RequesterID int64
	Keyword     string
	Amount      int
	Ephemeral   bool

	Admitted bool
	Outcome  OutcomeKind
	State    State
	Message  string

	Matches   int
	Validated int
	Skipped   int
	Delivered int

	Workspace       string
	CleanupAttempts int
	CleanupErr      error
	NotifyErr       error

	Started  time.Time
	Finished time.Time
}

func (r Report) Duration() time.Duration { return r.Finished.Sub(r.Started) }

// StateChange is the payload of eventbus.TypeJobState.
type StateChange struct {
	JobID       string
	RequesterID int64
	State       State
}

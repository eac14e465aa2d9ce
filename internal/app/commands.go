package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"pullbot/internal/notifier"
	"pullbot/internal/pull"
	"pullbot/internal/storage"
	"pullbot/internal/transport/telegram/router"
	logx "pullbot/pkg/logx"
	"pullbot/pkg/tgui"
)

const pullUsage = "/pull <keyword> [amount] [--ephemeral]"

var (
	errNoKeyword  = errors.New("keyword is required")
	errBadAmount  = errors.New("amount must be a whole number")
	ephemeralFlag = []string{"ephemeral", "e", "private"}
)

func (a *App) commands() []router.Command {
	return []router.Command{
		{
			Name:        "pull",
			Aliases:     []string{"p"},
			Description: "fetch images for a keyword",
			Usage:       pullUsage,
			BoolFlags:   ephemeralFlag,
			// Provider calls can hang for as long as the job is allowed to run.
			Detached: true,
			Handle:   a.handlePull,
		},
		{
			Name:        "history",
			Description: "show your recent pulls",
			Usage:       "/history [count]",
			Timeout:     10 * time.Second,
			Handle:      a.handleHistory,
		},
		{
			Name:        "status",
			Aliases:     []string{"health"},
			Description: "show bot health",
			Timeout:     5 * time.Second,
			Handle:      a.handleStatus,
		},
	}
}

func (a *App) handlePull(ctx context.Context, req *router.Request) error {
	preq, err := parsePull(req.Args, req.Flags, req.BoolFlags, a.settings.DefaultAmount)
	if err != nil {
		return req.Reply(ctx, tgui.Card{
			Icon:  "❌",
			Title: "Usage",
			Body:  tgui.Concat(tgui.Esc(err.Error()+"\n"), tgui.Code(pullUsage)),
		}.HTML())
	}
	preq.RequesterID = req.FromID

	n := a.notif.For(notifier.Origin{Chat: req.Chat, RequesterID: req.FromID, Private: req.Private})
	rep := a.orch.Run(ctx, preq, n)
	a.record(ctx, rep, req.Chat.ChatID)
	return nil
}

// parsePull maps command arguments onto a pull request.
//
//	/pull cats                 keyword "cats", default amount
//	/pull red panda 3          keyword "red panda", amount 3
//	/pull "red panda" --amount=3 --ephemeral
//	/pull cats 3 ephemeral
//
// Out-of-range amounts pass through; the orchestrator rejects them.
func parsePull(args []string, flags map[string]string, bools map[string]bool, defAmount int) (pull.Request, error) {
	req := pull.Request{Amount: defAmount}
	for _, f := range ephemeralFlag {
		if bools[f] || isTrue(flags[f]) {
			req.Ephemeral = true
		}
	}

	pos := append([]string(nil), args...)
	if n := len(pos); n > 1 && isEphemeralWord(pos[n-1]) {
		req.Ephemeral = true
		pos = pos[:n-1]
	}

	raw, explicit := flags["amount"]
	if !explicit {
		raw, explicit = flags["n"]
	}
	if explicit {
		v, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return pull.Request{}, errBadAmount
		}
		req.Amount = v
	} else if n := len(pos); n > 1 {
		if v, err := strconv.Atoi(pos[n-1]); err == nil {
			req.Amount = v
			pos = pos[:n-1]
		}
	}

	req.Keyword = strings.TrimSpace(strings.Join(pos, " "))
	if req.Keyword == "" {
		return pull.Request{}, errNoKeyword
	}
	return req, nil
}

func isEphemeralWord(s string) bool {
	switch strings.ToLower(s) {
	case "ephemeral", "private":
		return true
	}
	return false
}

func isTrue(s string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	return err == nil && b
}

// record stores a finished job. History is best-effort and never fails a pull.
func (a *App) record(ctx context.Context, rep pull.Report, chatID int64) {
	if a.store == nil || rep.JobID == "" {
		return
	}
	// The job context may already be gone during shutdown.
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := a.store.AppendJob(cctx, jobRecord(rep, chatID)); err != nil {
		a.log.Warn("job history write failed", logx.String("job", rep.JobID), logx.Err(err))
	}
}

func jobRecord(rep pull.Report, chatID int64) storage.JobRecord {
	return storage.JobRecord{
		ID:              rep.JobID,
		RequesterID:     rep.RequesterID,
		ChatID:          chatID,
		Keyword:         rep.Keyword,
		Amount:          rep.Amount,
		Ephemeral:       rep.Ephemeral,
		Outcome:         rep.Outcome.String(),
		Matches:         rep.Matches,
		Delivered:       rep.Delivered,
		Skipped:         rep.Skipped,
		CleanupAttempts: rep.CleanupAttempts,
		CleanupDeferred: rep.CleanupErr != nil,
		Message:         rep.Message,
		StartedAt:       rep.Started,
		TookMS:          rep.Duration().Milliseconds(),
	}
}

func (a *App) handleHistory(ctx context.Context, req *router.Request) error {
	if a.store == nil {
		return req.Reply(ctx, tgui.Esc("History is disabled on this bot."))
	}
	limit := storage.DefaultRecent
	if len(req.Args) > 0 {
		if v, err := strconv.Atoi(req.Args[0]); err == nil && v > 0 {
			limit = min(v, 50)
		}
	}
	recs, err := a.store.RecentJobs(ctx, req.FromID, limit)
	if err != nil {
		return err
	}
	return req.Reply(ctx, historyHTML(recs, time.Now()))
}

func historyHTML(recs []storage.JobRecord, now time.Time) tgui.H {
	if len(recs) == 0 {
		return tgui.Card{Icon: "🗂", Title: "History", Body: tgui.Esc("No pulls yet.")}.HTML()
	}
	items := make([]string, 0, len(recs))
	for _, r := range recs {
		line := fmt.Sprintf("%s ×%d: %s", r.Keyword, r.Amount, r.Outcome)
		if r.Delivered > 0 {
			line += fmt.Sprintf(" (%d sent)", r.Delivered)
		}
		items = append(items, line+", "+ago(now.Sub(r.StartedAt)))
	}
	return tgui.Card{Icon: "🗂", Title: "History", Items: items}.HTML()
}

func ago(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return strconv.Itoa(int(d/time.Minute)) + "m ago"
	case d < 48*time.Hour:
		return strconv.Itoa(int(d/time.Hour)) + "h ago"
	default:
		return strconv.Itoa(int(d/(24*time.Hour))) + "d ago"
	}
}

package app

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	rtsup "pullbot/internal/runtime/supervisor"
	"pullbot/internal/task/scheduler"
	"pullbot/internal/transport/telegram/router"
	"pullbot/pkg/tgui"
)

type statusSnapshot struct {
	Err        error
	Uptime     time.Duration
	Goroutines int
	HeapMB     float64
	InFlight   int64
	Cooldowns  int
	Storage    string
	Pprof      string
	Tasks      []scheduler.Info
	Supervised rtsup.Counters
}

func (a *App) snapshot() statusSnapshot {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	s := statusSnapshot{
		Err:        a.healthy(),
		Goroutines: runtime.NumGoroutine(),
		HeapMB:     float64(m.HeapAlloc) / (1 << 20),
		Cooldowns:  a.ledger.Len(),
		Storage:    "off",
		Pprof:      "off",
		Tasks:      a.sched.Snapshot(),
	}
	if a.sup != nil {
		s.Supervised = a.sup.Counters()
	}
	if !a.started.IsZero() {
		s.Uptime = time.Since(a.started)
	}
	if a.orch != nil {
		s.InFlight = a.orch.InFlight()
	}
	if a.store != nil {
		s.Storage = a.settings.Storage.Driver
	}
	if addr := a.pprof.Addr(); addr != "" {
		s.Pprof = addr
	}
	return s
}

func (a *App) handleStatus(ctx context.Context, req *router.Request) error {
	// Drop expired cooldowns first so the entry count is what is live.
	a.sched.RunNow(ctx, evictJob)
	return req.Reply(ctx, statusHTML(a.snapshot(), time.Now()))
}

func statusHTML(s statusSnapshot, now time.Time) tgui.H {
	state := "Running"
	if s.Err != nil {
		state = "Degraded: " + s.Err.Error()
	}
	items := []string{
		"Status: " + state,
		"Uptime: " + s.Uptime.Truncate(time.Second).String(),
		fmt.Sprintf("Jobs in flight: %d", s.InFlight),
		fmt.Sprintf("Cooldown entries: %d", s.Cooldowns),
		fmt.Sprintf("Goroutines: %d (%d supervised), heap %.1f MB", s.Goroutines, s.Supervised.Active, s.HeapMB),
		"History: " + s.Storage,
		"pprof: " + s.Pprof,
	}
	if len(s.Supervised.Names) > 0 {
		items = append(items, "Loops: "+strings.Join(s.Supervised.Names, ", "))
	}
	c := tgui.Card{Icon: "🩺", Title: "Bot status", Items: items}
	if len(s.Tasks) > 0 {
		lines := make([]tgui.H, 0, len(s.Tasks))
		for _, t := range s.Tasks {
			line := fmt.Sprintf("%s (%s): %d runs, %d skipped", t.Name, t.Spec, t.Runs, t.Skips)
			if !t.Next.IsZero() {
				line += ", next in " + t.Next.Sub(now).Truncate(time.Second).String()
			}
			lines = append(lines, tgui.Esc(line))
		}
		c.Footer = tgui.Lines(append([]tgui.H{tgui.B("Tasks")}, lines...)...)
	}
	return c.HTML()
}

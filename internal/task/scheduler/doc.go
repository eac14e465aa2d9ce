// Package scheduler runs named background jobs on cron or interval schedules.
//
// Every job runs with a per-run timeout, recovers panics, and is skipped when
// the previous run of the same job is still in progress.
package scheduler

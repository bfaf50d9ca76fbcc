// Package watcher runs the poll-diff-notify loop: fetch the sheet, compare
// against the persisted watermark, deliver a notification per new row, then
// advance the watermark.
package watcher

import (
	"sync"
	"sync/atomic"

	"sheetwatch/internal/expense"
	"sheetwatch/internal/notify"
	"sheetwatch/internal/sheet"
	"sheetwatch/internal/state"
	logx "sheetwatch/pkg/logx"
)

// Phase is the loop's externally observable state.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseFetching
	PhaseDelivering
	PhaseSleeping
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseFetching:
		return "fetching"
	case PhaseDelivering:
		return "delivering"
	case PhaseSleeping:
		return "sleeping"
	default:
		return "unknown"
	}
}

// Options tune the loop around the injected ports.
type Options struct {
	// HeaderRows never produce notifications but count toward the watermark.
	HeaderRows int
	// SeedOnFirstRun initializes an absent watermark with the current row
	// count, so a fresh deploy does not replay the whole sheet.
	SeedOnFirstRun bool
	// ChatID is recorded in the delivery audit when the store supports it.
	ChatID int64
}

// Service owns the loop. All collaborators are ports so tests run it
// entirely in memory.
//
// The loop is a single goroutine; PollOnce never overlaps itself and the
// next poll only starts after the previous one (including its sleep)
// completed.
type Service struct {
	fetcher  sheet.Fetcher
	notifier notify.Notifier
	store    state.Store
	format   *expense.Formatter
	schema   expense.Schema
	opts     Options
	log      logx.Logger

	phase atomic.Int32

	mu       sync.Mutex
	schedule ParsedSpec

	// consecFails counts poll cycles that ended in error, for log context.
	// Reset on the first clean cycle. No backoff is derived from it.
	consecFails atomic.Int64
}

func New(fetcher sheet.Fetcher, notifier notify.Notifier, store state.Store,
	format *expense.Formatter, schedule ParsedSpec, opts Options, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if format == nil {
		format = expense.NewFormatter(expense.DefaultSchema(), "")
	}
	return &Service{
		fetcher:  fetcher,
		notifier: notifier,
		store:    store,
		format:   format,
		schema:   format.Schema,
		schedule: schedule,
		opts:     opts,
		log:      log,
	}
}

// Phase returns the loop's current phase.
func (s *Service) Phase() Phase { return Phase(s.phase.Load()) }

func (s *Service) setPhase(p Phase) { s.phase.Store(int32(p)) }

// Schedule returns the active schedule.
func (s *Service) Schedule() ParsedSpec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schedule
}

// SetSchedule swaps the schedule; it takes effect on the next sleep.
func (s *Service) SetSchedule(spec ParsedSpec) {
	s.mu.Lock()
	s.schedule = spec
	s.mu.Unlock()
	s.log.Info("poll schedule updated",
		logx.String("source", spec.Source),
		logx.Duration("every", spec.Every),
		logx.String("cron", spec.Cron),
	)
}

// ConsecutiveFailures returns how many poll cycles in a row have failed.
func (s *Service) ConsecutiveFailures() int64 { return s.consecFails.Load() }

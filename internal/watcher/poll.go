package watcher

import (
	"context"
	"fmt"
	"time"

	"sheetwatch/internal/state"
	logx "sheetwatch/pkg/logx"
)

// Report summarizes one poll cycle.
type Report struct {
	Total     int64 // rows currently in the sheet
	Watermark int64 // watermark after the cycle
	NewRows   int64 // rows past the previous watermark
	Delivered int64 // notifications confirmed sent this cycle
	Skipped   int64 // new rows that produced no notification (blank/header)
	Seeded    bool  // watermark was initialized from the current row count
	Shrunk    bool  // sheet had fewer rows than the watermark
}

// Prime ensures a watermark exists before the loop starts.
//
// On a true first run (no persisted state) with SeedOnFirstRun set, it
// fetches the sheet once and records the current row count, mirroring how
// the watcher behaves when deployed against an already-populated sheet.
// That seeding fetch is deliberately fail-fast: a fetch error here aborts
// startup instead of entering the loop with no watermark, so the first run
// requires the sheet to be reachable once. Later fetch errors are retried
// by the loop as usual.
func (s *Service) Prime(ctx context.Context) (int64, error) {
	wm, ok, err := s.store.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("state load: %w", err)
	}
	if ok {
		return wm, nil
	}
	if !s.opts.SeedOnFirstRun {
		return 0, nil
	}

	rows, err := s.fetcher.Fetch(ctx)
	if err != nil {
		return 0, err
	}
	wm = int64(len(rows))
	if err := s.store.Save(ctx, wm); err != nil {
		return 0, fmt.Errorf("state save: %w", err)
	}
	s.log.Info("watermark seeded from current sheet size", logx.Int64("watermark", wm))
	return wm, nil
}

// PollOnce runs a single fetch-diff-notify-persist cycle.
//
// The watermark only advances after every new row has been confirmed
// delivered (or skipped as blank). A delivery failure aborts the batch with
// the watermark untouched, so the next cycle retries from the first unsent
// row. Rows below the persisted watermark are never sent again.
func (s *Service) PollOnce(ctx context.Context) (Report, error) {
	s.setPhase(PhaseFetching)
	defer s.setPhase(PhaseIdle)

	rows, err := s.fetcher.Fetch(ctx)
	if err != nil {
		return Report{}, err
	}
	total := int64(len(rows))

	watermark, _, err := s.store.Load(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("state load: %w", err)
	}

	rep := Report{Total: total, Watermark: watermark}
	if total <= watermark {
		if total < watermark {
			// Sheet shrank (rows deleted). Deliberately a no-op: the
			// watermark stays put and nothing is sent until the sheet grows
			// past it again.
			rep.Shrunk = true
			s.log.Warn("sheet has fewer rows than watermark; holding position",
				logx.Int64("total", total), logx.Int64("watermark", watermark))
		}
		return rep, nil
	}

	rep.NewRows = total - watermark
	s.log.Info("new rows detected",
		logx.Int64("count", rep.NewRows),
		logx.Int64("watermark", watermark),
		logx.Int64("total", total))

	s.setPhase(PhaseDelivering)
	for i := watermark + 1; i <= total; i++ {
		row := rows[i-1]

		if row.Index <= int64(s.opts.HeaderRows) || row.Blank() {
			rep.Skipped++
			continue
		}

		text := s.format.Render(s.schema.Resolve(row))
		if err := s.notifier.Send(ctx, text); err != nil {
			// Abort the batch without advancing: zero rows from this batch
			// are marked delivered, so none can be skipped by a later poll.
			return rep, fmt.Errorf("row %d: %w", i, err)
		}
		rep.Delivered++
		s.audit(ctx, i, len(text))
	}

	if err := s.store.Save(ctx, total); err != nil {
		// Delivered but not persisted: these rows will be re-sent next
		// cycle. That is the documented at-least-once edge.
		return rep, fmt.Errorf("state save after %d deliveries: %w", rep.Delivered, err)
	}
	rep.Watermark = total
	return rep, nil
}

// audit records a confirmed delivery when the store keeps a trail.
// Best-effort: an audit failure never fails the batch.
func (s *Service) audit(ctx context.Context, rowIndex int64, textLen int) {
	a, ok := s.store.(state.Auditor)
	if !ok {
		return
	}
	rec := state.DeliveryRecord{
		At:       time.Now(),
		RowIndex: rowIndex,
		ChatID:   s.opts.ChatID,
		TextLen:  textLen,
	}
	if err := a.AppendDelivery(ctx, rec); err != nil {
		s.log.Debug("delivery audit failed", logx.Int64("row", rowIndex), logx.Err(err))
	}
}

// Run drives the loop until ctx is cancelled: PollOnce, sleep per the
// schedule, repeat. Errors inside a cycle are logged and swallowed; the
// process keeps ticking on the fixed schedule with no backoff.
func (s *Service) Run(ctx context.Context) {
	s.log.Info("watch loop started",
		logx.String("schedule_source", s.Schedule().Source),
		logx.Duration("every", s.Schedule().Every),
		logx.String("cron", s.Schedule().Cron))

	for {
		if ctx.Err() != nil {
			s.setPhase(PhaseIdle)
			return
		}

		start := time.Now()
		rep, err := s.PollOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.setPhase(PhaseIdle)
				return
			}
			n := s.consecFails.Add(1)
			s.log.Error("poll cycle failed",
				logx.Err(err),
				logx.Int64("delivered_before_failure", rep.Delivered),
				logx.Int64("consecutive_failures", n),
				logx.Duration("dur", time.Since(start)))
		} else {
			s.consecFails.Store(0)
			if rep.Delivered > 0 || rep.Skipped > 0 {
				s.log.Info("poll cycle completed",
					logx.Int64("delivered", rep.Delivered),
					logx.Int64("skipped", rep.Skipped),
					logx.Int64("watermark", rep.Watermark),
					logx.Duration("dur", time.Since(start)))
			} else {
				s.log.Debug("poll cycle completed (no new rows)",
					logx.Int64("watermark", rep.Watermark),
					logx.Duration("dur", time.Since(start)))
			}
		}

		s.setPhase(PhaseSleeping)
		next := s.Schedule().Next(time.Now())
		wait := time.Until(next)
		if wait < 0 {
			wait = 0
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			s.setPhase(PhaseIdle)
			return
		case <-t.C:
		}
	}
}

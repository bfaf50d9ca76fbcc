package watcher

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"sheetwatch/internal/expense"
	"sheetwatch/internal/sheet"
	"sheetwatch/internal/state"
	logx "sheetwatch/pkg/logx"
)

// ---- fakes ----

type fakeFetcher struct {
	mu   sync.Mutex
	rows [][]string
	err  error
}

func (f *fakeFetcher) Fetch(ctx context.Context) ([]sheet.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]sheet.Row, 0, len(f.rows))
	for i, cells := range f.rows {
		out = append(out, sheet.Row{Index: int64(i) + 1, Cells: cells})
	}
	return out, nil
}

func (f *fakeFetcher) append(cells ...string) {
	f.mu.Lock()
	f.rows = append(f.rows, cells)
	f.mu.Unlock()
}

type fakeNotifier struct {
	mu     sync.Mutex
	sent   []string
	failAt int // fail the Nth send (1-based); 0 never fails
	calls  int
}

func (n *fakeNotifier) Send(ctx context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	if n.failAt > 0 && n.calls == n.failAt {
		return errors.New("delivery refused")
	}
	n.sent = append(n.sent, text)
	return nil
}

func (n *fakeNotifier) sentCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type memStore struct {
	mu      sync.Mutex
	wm      int64
	ok      bool
	saveErr error
	loadErr error
	audits  []state.DeliveryRecord
}

func (m *memStore) Load(ctx context.Context) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return 0, false, m.loadErr
	}
	return m.wm, m.ok, nil
}

func (m *memStore) Save(ctx context.Context, wm int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.wm = wm
	m.ok = true
	return nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) AppendDelivery(ctx context.Context, rec state.DeliveryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audits = append(m.audits, rec)
	return nil
}

func newTestService(f *fakeFetcher, n *fakeNotifier, st state.Store, opts Options) *Service {
	format := expense.NewFormatter(expense.DefaultSchema(), "VNĐ")
	format.Now = func() time.Time { return time.Date(2026, 2, 1, 10, 30, 0, 0, time.UTC) }
	spec, _ := ParseSchedule("10ms")
	return New(f, n, st, format, spec, opts, logx.Nop())
}

// ---- PollOnce semantics ----

func TestPollOnceFirstRunDeliversAllRowsInOrder(t *testing.T) {
	t.Parallel()
	f := &fakeFetcher{rows: [][]string{
		{"01/02/2026", "an sang", "30000", "An uong"},
		{"01/02/2026", "ca phe", "45000", "An uong"},
		{"01/02/2026", "xang xe", "80000", "Di chuyen"},
	}}
	n := &fakeNotifier{}
	st := &memStore{}

	svc := newTestService(f, n, st, Options{})
	rep, err := svc.PollOnce(context.Background())
	if err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	if rep.Delivered != 3 {
		t.Fatalf("Delivered = %d, want 3", rep.Delivered)
	}
	if rep.Watermark != 3 {
		t.Fatalf("Watermark = %d, want 3", rep.Watermark)
	}
	if st.wm != 3 {
		t.Fatalf("persisted watermark = %d, want 3", st.wm)
	}
	for i, want := range []string{"Dòng #1", "Dòng #2", "Dòng #3"} {
		if !strings.Contains(n.sent[i], want) {
			t.Fatalf("message %d missing %q:\n%s", i, want, n.sent[i])
		}
	}
}

func TestPollOnceIdempotentWithoutNewRows(t *testing.T) {
	t.Parallel()
	f := &fakeFetcher{rows: [][]string{{"d", "x", "1"}, {"d", "y", "2"}, {"d", "z", "3"}}}
	n := &fakeNotifier{}
	st := &memStore{}

	svc := newTestService(f, n, st, Options{})
	if _, err := svc.PollOnce(context.Background()); err != nil {
		t.Fatalf("first poll: %v", err)
	}
	rep, err := svc.PollOnce(context.Background())
	if err != nil {
		t.Fatalf("second poll: %v", err)
	}
	if rep.Delivered != 0 || rep.NewRows != 0 {
		t.Fatalf("second poll delivered %d new=%d, want 0/0", rep.Delivered, rep.NewRows)
	}
	if n.sentCount() != 3 {
		t.Fatalf("total sent = %d, want 3", n.sentCount())
	}
}

func TestPollOnceRestartSafety(t *testing.T) {
	t.Parallel()
	// Watermark 5 already persisted; the sheet regrows to 6 rows.
	f := &fakeFetcher{rows: [][]string{
		{"1"}, {"2"}, {"3"}, {"4"}, {"5"},
	}}
	n := &fakeNotifier{}
	st := &memStore{wm: 5, ok: true}

	svc := newTestService(f, n, st, Options{})
	f.append("06/02/2026", "com trua", "200000", "An uong")

	rep, err := svc.PollOnce(context.Background())
	if err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	if rep.Delivered != 1 {
		t.Fatalf("Delivered = %d, want 1 (only the new row)", rep.Delivered)
	}
	if got := n.sent[0]; !strings.Contains(got, "Dòng #6") {
		t.Fatalf("expected notification for row 6, got:\n%s", got)
	}
	if st.wm != 6 {
		t.Fatalf("watermark = %d, want 6", st.wm)
	}
}

func TestPollOnceFailedBatchDoesNotAdvance(t *testing.T) {
	t.Parallel()
	f := &fakeFetcher{rows: [][]string{{"d", "a", "1"}, {"d", "b", "2"}, {"d", "c", "3"}}}
	n := &fakeNotifier{failAt: 2}
	st := &memStore{}

	svc := newTestService(f, n, st, Options{})
	rep, err := svc.PollOnce(context.Background())
	if err == nil {
		t.Fatal("expected delivery error")
	}
	if rep.Delivered != 1 {
		t.Fatalf("Delivered = %d, want 1 before the failure", rep.Delivered)
	}
	if st.ok {
		t.Fatalf("watermark persisted (%d) despite failed batch", st.wm)
	}

	// Next cycle retries the whole batch from the first unsent row.
	rep, err = svc.PollOnce(context.Background())
	if err != nil {
		t.Fatalf("retry poll: %v", err)
	}
	if rep.Delivered != 3 {
		t.Fatalf("retry Delivered = %d, want 3", rep.Delivered)
	}
	if st.wm != 3 {
		t.Fatalf("watermark = %d, want 3", st.wm)
	}
}

func TestPollOnceNeverResendsEarlierBatches(t *testing.T) {
	t.Parallel()
	f := &fakeFetcher{rows: [][]string{{"d", "a", "1"}}}
	n := &fakeNotifier{}
	st := &memStore{}

	svc := newTestService(f, n, st, Options{})
	if _, err := svc.PollOnce(context.Background()); err != nil {
		t.Fatalf("first poll: %v", err)
	}

	// Second batch fails entirely; the first batch must not be re-sent after.
	f.append("d", "b", "2")
	n.mu.Lock()
	n.failAt = n.calls + 1
	n.mu.Unlock()
	if _, err := svc.PollOnce(context.Background()); err == nil {
		t.Fatal("expected delivery error")
	}

	if _, err := svc.PollOnce(context.Background()); err != nil {
		t.Fatalf("retry poll: %v", err)
	}
	if n.sentCount() != 2 {
		t.Fatalf("total sent = %d, want 2 (row 1 once, row 2 once)", n.sentCount())
	}
}

func TestPollOnceShrinkIsNoOp(t *testing.T) {
	t.Parallel()
	f := &fakeFetcher{rows: [][]string{{"only"}}}
	n := &fakeNotifier{}
	st := &memStore{wm: 5, ok: true}

	svc := newTestService(f, n, st, Options{})
	rep, err := svc.PollOnce(context.Background())
	if err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	if !rep.Shrunk {
		t.Fatal("expected Shrunk report")
	}
	if rep.Delivered != 0 || n.sentCount() != 0 {
		t.Fatal("shrunk sheet must not deliver")
	}
	if st.wm != 5 {
		t.Fatalf("watermark changed to %d on shrink", st.wm)
	}
}

func TestPollOnceSkipsBlankAndHeaderRows(t *testing.T) {
	t.Parallel()
	f := &fakeFetcher{rows: [][]string{
		{"Ngày", "Mô tả", "Số tiền"}, // header
		{"", "  ", ""},               // blank
		{"01/02/2026", "tra sua", "55000"},
	}}
	n := &fakeNotifier{}
	st := &memStore{}

	svc := newTestService(f, n, st, Options{HeaderRows: 1})
	rep, err := svc.PollOnce(context.Background())
	if err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	if rep.Delivered != 1 || rep.Skipped != 2 {
		t.Fatalf("delivered=%d skipped=%d, want 1/2", rep.Delivered, rep.Skipped)
	}
	// Skipped rows still advance the watermark: they were observed.
	if st.wm != 3 {
		t.Fatalf("watermark = %d, want 3", st.wm)
	}
}

func TestPollOnceFormatsAmount(t *testing.T) {
	t.Parallel()
	f := &fakeFetcher{rows: [][]string{
		{"04/02/2026", "mua do", "200000", "Mua sam", "Minh", "ghi chu"},
	}}
	n := &fakeNotifier{}
	st := &memStore{}

	svc := newTestService(f, n, st, Options{})
	if _, err := svc.PollOnce(context.Background()); err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	msg := n.sent[0]
	if !strings.Contains(msg, "200,000 VNĐ") {
		t.Fatalf("amount not formatted with separators + currency:\n%s", msg)
	}
	if !strings.Contains(msg, "Người chi") || !strings.Contains(msg, "Minh") {
		t.Fatalf("payer field missing:\n%s", msg)
	}
}

func TestPollOnceStateErrors(t *testing.T) {
	t.Parallel()
	f := &fakeFetcher{rows: [][]string{{"d", "a", "1"}}}

	t.Run("load error aborts before delivering", func(t *testing.T) {
		t.Parallel()
		n := &fakeNotifier{}
		st := &memStore{loadErr: errors.New("disk gone")}
		svc := newTestService(f, n, st, Options{})
		if _, err := svc.PollOnce(context.Background()); err == nil {
			t.Fatal("expected load error")
		}
		if n.sentCount() != 0 {
			t.Fatal("must not deliver when watermark is unreadable")
		}
	})

	t.Run("save error surfaces after delivery", func(t *testing.T) {
		t.Parallel()
		n := &fakeNotifier{}
		st := &memStore{saveErr: errors.New("disk full")}
		svc := newTestService(f, n, st, Options{})
		rep, err := svc.PollOnce(context.Background())
		if err == nil {
			t.Fatal("expected save error")
		}
		if rep.Delivered != 1 {
			t.Fatalf("Delivered = %d, want 1 (sent, then persist failed)", rep.Delivered)
		}
	})
}

func TestPollOnceAuditsDeliveries(t *testing.T) {
	t.Parallel()
	f := &fakeFetcher{rows: [][]string{{"d", "a", "1"}, {"d", "b", "2"}}}
	n := &fakeNotifier{}
	st := &memStore{}

	svc := newTestService(f, n, st, Options{ChatID: 42})
	if _, err := svc.PollOnce(context.Background()); err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	if len(st.audits) != 2 {
		t.Fatalf("audit records = %d, want 2", len(st.audits))
	}
	if st.audits[0].RowIndex != 1 || st.audits[1].RowIndex != 2 {
		t.Fatalf("audit row order wrong: %+v", st.audits)
	}
	if st.audits[0].ChatID != 42 {
		t.Fatalf("audit chat id = %d, want 42", st.audits[0].ChatID)
	}
}

// ---- Prime ----

func TestPrimeSeedsFromCurrentSheet(t *testing.T) {
	t.Parallel()
	f := &fakeFetcher{rows: [][]string{{"1"}, {"2"}, {"3"}, {"4"}}}
	st := &memStore{}

	svc := newTestService(f, &fakeNotifier{}, st, Options{SeedOnFirstRun: true})
	wm, err := svc.Prime(context.Background())
	if err != nil {
		t.Fatalf("Prime: %v", err)
	}
	if wm != 4 || st.wm != 4 {
		t.Fatalf("seeded watermark = %d (persisted %d), want 4", wm, st.wm)
	}

	// Existing rows are treated as already notified.
	n := &fakeNotifier{}
	svc2 := newTestService(f, n, st, Options{SeedOnFirstRun: true})
	if _, err := svc2.PollOnce(context.Background()); err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	if n.sentCount() != 0 {
		t.Fatalf("seeded start must not replay the sheet, sent %d", n.sentCount())
	}
}

func TestPrimeWithoutSeedingStartsAtZero(t *testing.T) {
	t.Parallel()
	f := &fakeFetcher{rows: [][]string{{"1"}, {"2"}}}
	st := &memStore{}

	svc := newTestService(f, &fakeNotifier{}, st, Options{SeedOnFirstRun: false})
	wm, err := svc.Prime(context.Background())
	if err != nil {
		t.Fatalf("Prime: %v", err)
	}
	if wm != 0 {
		t.Fatalf("watermark = %d, want 0", wm)
	}
	if st.ok {
		t.Fatal("no watermark should be persisted without seeding")
	}
}

func TestPrimeKeepsExistingWatermark(t *testing.T) {
	t.Parallel()
	st := &memStore{wm: 7, ok: true}
	svc := newTestService(&fakeFetcher{}, &fakeNotifier{}, st, Options{SeedOnFirstRun: true})
	wm, err := svc.Prime(context.Background())
	if err != nil {
		t.Fatalf("Prime: %v", err)
	}
	if wm != 7 {
		t.Fatalf("watermark = %d, want 7", wm)
	}
}

func TestPrimeFailsWhenSeedingFetchFails(t *testing.T) {
	t.Parallel()
	f := &fakeFetcher{err: errors.New("api unreachable")}
	st := &memStore{}

	svc := newTestService(f, &fakeNotifier{}, st, Options{SeedOnFirstRun: true})
	if _, err := svc.Prime(context.Background()); err == nil {
		t.Fatal("seeding must not succeed without one good fetch")
	}
	if st.ok {
		t.Fatal("no watermark should be persisted after a failed seeding fetch")
	}
}

// ---- Run loop ----

func TestRunDeliversAcrossTicksAndStops(t *testing.T) {
	t.Parallel()
	f := &fakeFetcher{rows: [][]string{{"d", "a", "1"}}}
	n := &fakeNotifier{}
	st := &memStore{}

	svc := newTestService(f, n, st, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()

	waitFor(t, func() bool { return n.sentCount() == 1 })
	f.append("d", "b", "2")
	waitFor(t, func() bool { return n.sentCount() == 2 })

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	if svc.Phase() != PhaseIdle {
		t.Fatalf("phase after stop = %v, want idle", svc.Phase())
	}
}

func TestRunSwallowsFetchErrors(t *testing.T) {
	t.Parallel()
	f := &fakeFetcher{err: errors.New("api unreachable")}
	n := &fakeNotifier{}
	st := &memStore{}

	svc := newTestService(f, n, st, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()

	waitFor(t, func() bool { return svc.ConsecutiveFailures() >= 2 })

	// Source recovers: next tick delivers without a restart.
	f.mu.Lock()
	f.err = nil
	f.rows = [][]string{{"d", "a", "1"}}
	f.mu.Unlock()

	waitFor(t, func() bool { return n.sentCount() == 1 })
	if svc.ConsecutiveFailures() != 0 {
		t.Fatalf("failure counter = %d after clean cycle, want 0", svc.ConsecutiveFailures())
	}

	cancel()
	<-done
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

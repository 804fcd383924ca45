package schedule

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/EstellaNines/Vertias-sub003/internal/clock"
	"github.com/EstellaNines/Vertias-sub003/internal/metrics"
)

type recorder struct {
	current int
	written []int
	reasons []string
	err     error
}

func (r *recorder) flush(_ context.Context, reason string) error {
	r.written = append(r.written, r.current)
	r.reasons = append(r.reasons, reason)
	return r.err
}

func newScheduler(clk clock.Clock, rec *recorder, busy *bool) *Scheduler {
	return New(Config{
		Clock:    clk,
		Cooldown: 2 * time.Second,
		Flush:    rec.flush,
		Busy:     func() bool { return busy != nil && *busy },
	})
}

func TestRequestSave_CoalescesBurstIntoOneWrite(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	rec := &recorder{}
	s := newScheduler(clk, rec, nil)

	for i := 1; i <= 5; i++ {
		rec.current = i
		if !s.RequestSave() {
			t.Fatalf("request %d dropped", i)
		}
		clk.Advance(390 * time.Millisecond)
	}
	if len(rec.written) != 0 {
		t.Fatalf("wrote %d times before cooldown elapsed", len(rec.written))
	}
	if s.State() != Cooling {
		t.Fatalf("State() = %s, want cooling", s.State())
	}

	clk.Advance(100 * time.Millisecond)
	if len(rec.written) != 1 {
		t.Fatalf("writes = %d, want exactly 1", len(rec.written))
	}
	if rec.written[0] != 5 {
		t.Errorf("written state = %d, want the latest (5)", rec.written[0])
	}
	if rec.reasons[0] != "deferred" {
		t.Errorf("reason = %q, want deferred", rec.reasons[0])
	}
	if s.State() != Idle || s.Pending() {
		t.Errorf("after flush: state %s pending %v, want idle/false", s.State(), s.Pending())
	}

	// Nothing further happens without new requests
	clk.Advance(10 * time.Second)
	if s.Writes() != 1 {
		t.Errorf("Writes() = %d, want 1", s.Writes())
	}
}

func TestRequestSave_SeparateWindowsWriteSeparately(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	rec := &recorder{}
	s := newScheduler(clk, rec, nil)

	rec.current = 1
	s.RequestSave()
	clk.Advance(2 * time.Second)
	rec.current = 2
	s.RequestSave()
	clk.Advance(2 * time.Second)

	if len(rec.written) != 2 || rec.written[1] != 2 {
		t.Errorf("written = %v, want [1 2]", rec.written)
	}
}

func TestRequestSave_DroppedDuringRestore(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	rec := &recorder{}
	busy := true
	s := newScheduler(clk, rec, &busy)
	dropped := testutil.ToFloat64(metrics.SaveRequests.WithLabelValues("dropped"))

	if s.RequestSave() {
		t.Fatal("RequestSave() accepted during restore")
	}
	if got := testutil.ToFloat64(metrics.SaveRequests.WithLabelValues("dropped")); got != dropped+1 {
		t.Errorf("dropped requests = %v, want %v", got, dropped+1)
	}
	clk.Advance(5 * time.Second)
	if len(rec.written) != 0 {
		t.Fatalf("dropped request was written")
	}

	// Immediate still writes
	if err := s.RequestSaveImmediate(context.Background(), "shutdown"); err != nil {
		t.Fatalf("RequestSaveImmediate() error = %v", err)
	}
	if len(rec.written) != 1 || rec.reasons[0] != "shutdown" {
		t.Errorf("immediate write not performed: %v %v", rec.written, rec.reasons)
	}
}

func TestRequestSaveImmediate_ShortCircuitsCooling(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	rec := &recorder{}
	s := newScheduler(clk, rec, nil)

	rec.current = 1
	s.RequestSave()
	clk.Advance(500 * time.Millisecond)
	rec.current = 2
	if err := s.RequestSaveImmediate(context.Background(), "pause"); err != nil {
		t.Fatalf("RequestSaveImmediate() error = %v", err)
	}
	if len(rec.written) != 1 || rec.written[0] != 2 {
		t.Fatalf("written = %v, want [2]", rec.written)
	}
	if s.State() != Idle {
		t.Errorf("State() = %s, want idle", s.State())
	}

	// The cancelled cooldown must not produce a second write
	clk.Advance(5 * time.Second)
	if len(rec.written) != 1 {
		t.Errorf("stale cooldown fired: written = %v", rec.written)
	}
	if clk.Pending() != 0 {
		t.Errorf("Pending timers = %d, want 0", clk.Pending())
	}
}

func TestRequestDuringFlushRearms(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	var s *Scheduler
	writes := 0
	s = New(Config{
		Clock:    clk,
		Cooldown: time.Second,
		Flush: func(context.Context, string) error {
			writes++
			if writes == 1 {
				// A mutation lands while the first write is in flight
				s.RequestSave()
			}
			return nil
		},
	})

	s.RequestSave()
	clk.Advance(time.Second)
	if writes != 1 {
		t.Fatalf("writes = %d, want 1", writes)
	}
	if s.State() != Cooling {
		t.Fatalf("State() = %s, want cooling after request during flush", s.State())
	}
	clk.Advance(time.Second)
	if writes != 2 {
		t.Errorf("writes = %d, want 2", writes)
	}
}

func TestCancel(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	rec := &recorder{}
	s := newScheduler(clk, rec, nil)

	s.RequestSave()
	if !s.Cancel() {
		t.Fatal("Cancel() = false with a pending write")
	}
	clk.Advance(5 * time.Second)
	if len(rec.written) != 0 {
		t.Errorf("cancelled write happened")
	}
	if s.State() != Idle {
		t.Errorf("State() = %s, want idle", s.State())
	}
	if s.Cancel() {
		t.Error("Cancel() = true with nothing pending")
	}
}

func TestFlushErrorIsRecorded(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	rec := &recorder{err: stderrors.New("disk full")}
	s := newScheduler(clk, rec, nil)

	s.RequestSave()
	clk.Advance(2 * time.Second)
	if s.LastError() == nil {
		t.Fatal("LastError() = nil after failed flush")
	}
	if s.State() != Idle {
		t.Errorf("State() = %s, want idle", s.State())
	}

	// A later request retries
	rec.err = nil
	s.RequestSave()
	clk.Advance(2 * time.Second)
	if s.LastError() != nil || len(rec.written) != 2 {
		t.Errorf("retry: err %v, writes %d", s.LastError(), len(rec.written))
	}
}

func TestStateString(t *testing.T) {
	if Idle.String() != "idle" || Cooling.String() != "cooling" || Flushing.String() != "flushing" || State(9).String() != "unknown" {
		t.Error("State.String() mismatch")
	}
}

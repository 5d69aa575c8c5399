package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/playout-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/playout-core/internal/jobs"
	"github.com/nerrad567/playout-core/internal/lock"
)

const testQueue = "playout:studio0"

type recordingSink struct {
	mu      sync.Mutex
	samples []influxdb.JobSample
}

func (r *recordingSink) WriteJobMetric(s influxdb.JobSample) {
	r.mu.Lock()
	r.samples = append(r.samples, s)
	r.mu.Unlock()
}

func (r *recordingSink) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples)
}

// startSupervisor runs a supervisor in the background and stops it on cleanup.
func startSupervisor(t *testing.T, cfg Config) (*Supervisor, <-chan error) {
	t.Helper()
	sup := NewSupervisor(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	stopped := make(chan struct{})
	go func() {
		done <- sup.Run(ctx)
		close(stopped)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-stopped:
		case <-time.After(2 * time.Second):
			t.Error("supervisor did not stop")
		}
	})
	return sup, done
}

func result(t *testing.T, h *jobs.Handle) (any, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return h.Result(ctx)
}

// ─── Loop ─────────────────────────────────────────────────────────

func TestLoop_ExecutesJobs(t *testing.T) {
	sched := jobs.NewScheduler()
	reg := NewRegistry()
	Handle(reg, "echo", func(_ context.Context, p string) (any, error) {
		return "got " + p, nil
	})
	sink := &recordingSink{}

	startSupervisor(t, Config{Queue: testQueue, Source: sched, Rejecter: sched, Handlers: reg, Metrics: sink})

	res, err := result(t, sched.Enqueue(testQueue, "echo", "hello", jobs.EnqueueOptions{}))
	if err != nil {
		t.Fatalf("Result() error = %v", err)
	}
	if res != "got hello" {
		t.Errorf("Result() = %v, want %q", res, "got hello")
	}
	if sink.len() != 1 {
		t.Errorf("metric samples = %d, want 1", sink.len())
	}
}

func TestLoop_UnknownJob(t *testing.T) {
	sched := jobs.NewScheduler()
	startSupervisor(t, Config{Queue: testQueue, Source: sched, Rejecter: sched})

	_, err := result(t, sched.Enqueue(testQueue, "nope", nil, jobs.EnqueueOptions{}))
	if !errors.Is(err, ErrUnknownJob) {
		t.Errorf("Result() error = %v, want ErrUnknownJob", err)
	}
}

func TestLoop_SkipsInterrupts(t *testing.T) {
	sched := jobs.NewScheduler()
	reg := NewRegistry()
	reg.Register("ping", func(context.Context, jobs.Job) (any, error) { return "pong", nil })

	sched.Interrupt(testQueue)
	startSupervisor(t, Config{Queue: testQueue, Source: sched, Rejecter: sched, Handlers: reg})
	sched.Interrupt(testQueue)

	res, err := result(t, sched.Enqueue(testQueue, "ping", nil, jobs.EnqueueOptions{}))
	if err != nil || res != "pong" {
		t.Errorf("Result() = %v, %v; want pong, nil", res, err)
	}
}

func TestLoop_LockOwnerFromContext(t *testing.T) {
	sched := jobs.NewScheduler()
	reg := NewRegistry()
	reg.Register("owner", func(ctx context.Context, _ jobs.Job) (any, error) {
		return lock.OwnerFrom(ctx), nil
	})
	startSupervisor(t, Config{Queue: testQueue, Source: sched, Rejecter: sched, Handlers: reg})

	res, err := result(t, sched.Enqueue(testQueue, "owner", nil, jobs.EnqueueOptions{}))
	if err != nil {
		t.Fatalf("Result() error = %v", err)
	}
	if res != testQueue+"#1" {
		t.Errorf("owner = %v, want %s#1", res, testQueue)
	}
}

// waitCountingSource counts WaitForNext calls made by the loop.
type waitCountingSource struct {
	*jobs.Scheduler
	waits atomic.Int32
}

func (w *waitCountingSource) WaitForNext(ctx context.Context, queueName string) error {
	w.waits.Add(1)
	return w.Scheduler.WaitForNext(ctx, queueName)
}

func TestLoop_SupersededWaitReentersLoop(t *testing.T) {
	sched := jobs.NewScheduler()
	src := &waitCountingSource{Scheduler: sched}
	reg := NewRegistry()
	reg.Register("ping", func(context.Context, jobs.Job) (any, error) { return "pong", nil })

	sup, _ := startSupervisor(t, Config{Queue: testQueue, Source: src, Rejecter: sched, Handlers: reg})

	deadline := time.Now().Add(2 * time.Second)
	for !sched.Stats(testQueue).Waiting {
		if time.Now().After(deadline) {
			t.Fatal("loop never registered a waiter")
		}
		time.Sleep(time.Millisecond)
	}

	// A second waiter supersedes the loop's; the loop waits again and in
	// turn supersedes this one.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sched.WaitForNext(ctx, testQueue); !errors.Is(err, jobs.ErrWaiterSuperseded) {
		t.Fatalf("competing WaitForNext() error = %v, want ErrWaiterSuperseded", err)
	}
	if n := src.waits.Load(); n < 2 {
		t.Errorf("loop waits = %d, want at least 2", n)
	}

	res, err := result(t, sched.Enqueue(testQueue, "ping", nil, jobs.EnqueueOptions{}))
	if err != nil || res != "pong" {
		t.Fatalf("Result() = %v, %v; want pong, nil", res, err)
	}
	if sup.RestartCount() != 0 || sup.Status() != StatusRunning {
		t.Errorf("status=%s restarts=%d, want running with no restarts", sup.Status(), sup.RestartCount())
	}
}

// ─── Typed handlers ───────────────────────────────────────────────

type takePayload struct {
	PlaylistID string
}

func TestHandle_TypedPayload(t *testing.T) {
	reg := NewRegistry()
	Handle(reg, "take", func(_ context.Context, p takePayload) (any, error) {
		return p.PlaylistID, nil
	})
	h, ok := reg.Lookup("take")
	if !ok {
		t.Fatal("Lookup(take) not found")
	}

	tests := []struct {
		name    string
		payload any
		want    any
		wantErr error
	}{
		{"value", takePayload{PlaylistID: "pl1"}, "pl1", nil},
		{"pointer", &takePayload{PlaylistID: "pl2"}, "pl2", nil},
		{"nil pointer", (*takePayload)(nil), nil, ErrBadPayload},
		{"wrong type", "pl3", nil, ErrBadPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := h(context.Background(), jobs.Job{Name: "take", Payload: tt.payload})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("result = %v, want %v", got, tt.want)
			}
		})
	}

	if names := reg.Names(); len(names) != 1 || names[0] != "take" {
		t.Errorf("Names() = %v, want [take]", names)
	}
}

// ─── Supervision ──────────────────────────────────────────────────

func TestSupervisor_RestartsAfterPanic(t *testing.T) {
	sched := jobs.NewScheduler()
	reg := NewRegistry()
	reg.Register("boom", func(context.Context, jobs.Job) (any, error) { panic("boom") })
	reg.Register("ok", func(context.Context, jobs.Job) (any, error) { return "ok", nil })

	var restarts atomic.Int32
	sup, _ := startSupervisor(t, Config{
		Queue:        testQueue,
		Source:       sched,
		Rejecter:     sched,
		Handlers:     reg,
		RestartDelay: 10 * time.Millisecond,
		OnRestart:    func(int) { restarts.Add(1) },
	})

	_, err := result(t, sched.Enqueue(testQueue, "boom", nil, jobs.EnqueueOptions{}))
	if !errors.Is(err, jobs.ErrExecutionAborted) {
		t.Fatalf("panicking job error = %v, want ErrExecutionAborted", err)
	}

	res, err := result(t, sched.Enqueue(testQueue, "ok", nil, jobs.EnqueueOptions{}))
	if err != nil || res != "ok" {
		t.Fatalf("after restart Result() = %v, %v; want ok, nil", res, err)
	}
	if restarts.Load() != 1 {
		t.Errorf("restarts = %d, want 1", restarts.Load())
	}
	stats := sup.Stats()
	if stats.Generation != 2 || stats.RestartCount != 1 {
		t.Errorf("Stats() generation=%d restarts=%d, want 2 and 1", stats.Generation, stats.RestartCount)
	}
	if stats.LastError == "" {
		t.Error("Stats().LastError is empty after a panic")
	}
}

func TestSupervisor_FrozenLoopLosesLocks(t *testing.T) {
	sched := jobs.NewScheduler()
	locks := lock.NewManager()
	reg := NewRegistry()

	release := make(chan struct{})
	held := make(chan *lock.Lock, 1)
	reg.Register("freeze", func(ctx context.Context, _ jobs.Job) (any, error) {
		l, err := locks.Acquire(ctx, lock.PlaylistKey("pl1"))
		if err != nil {
			return nil, err
		}
		held <- l
		<-release // ignores ctx, like a stuck device call
		return "late", nil
	})
	reg.Register("grab", func(ctx context.Context, _ jobs.Job) (any, error) {
		l, err := locks.Acquire(ctx, lock.PlaylistKey("pl1"))
		if err != nil {
			return nil, err
		}
		defer l.Release()
		return l.Owner(), nil
	})

	startSupervisor(t, Config{
		Queue:               testQueue,
		Source:              sched,
		Rejecter:            sched,
		Locks:               locks,
		Handlers:            reg,
		RestartDelay:        5 * time.Millisecond,
		FreezeTimeout:       20 * time.Millisecond,
		HealthCheckInterval: 10 * time.Millisecond,
	})
	defer close(release)

	_, err := result(t, sched.Enqueue(testQueue, "freeze", nil, jobs.EnqueueOptions{}))
	if !errors.Is(err, jobs.ErrExecutionAborted) {
		t.Fatalf("frozen job error = %v, want ErrExecutionAborted", err)
	}

	old := <-held
	if old.Held() {
		t.Error("frozen loop still holds its playlist lock")
	}
	select {
	case <-old.Lost():
	default:
		t.Error("Lost() not closed for revoked lock")
	}

	res, err := result(t, sched.Enqueue(testQueue, "grab", nil, jobs.EnqueueOptions{}))
	if err != nil {
		t.Fatalf("grab after restart error = %v", err)
	}
	if res != testQueue+"#2" {
		t.Errorf("lock owner = %v, want %s#2", res, testQueue)
	}
}

func TestSupervisor_StopsWhenSchedulerCloses(t *testing.T) {
	sched := jobs.NewScheduler()
	sup, done := startSupervisor(t, Config{Queue: testQueue, Source: sched, Rejecter: sched})

	deadline := time.Now().Add(time.Second)
	for sup.Status() != StatusRunning && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	sched.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after scheduler Close")
	}
	if sup.Status() != StatusStopped {
		t.Errorf("Status() = %v, want %v", sup.Status(), StatusStopped)
	}
}

func TestSupervisor_MaxRestartAttempts(t *testing.T) {
	src := &failingSource{err: errors.New("storage gone")}
	sup := NewSupervisor(Config{
		Queue:              testQueue,
		Source:             src,
		RestartDelay:       time.Millisecond,
		MaxRestartAttempts: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := sup.Run(ctx)
	if err == nil {
		t.Fatal("Run() error = nil, want failure after max attempts")
	}
	if !errors.Is(err, src.err) {
		t.Errorf("Run() error = %v, want wrapping %v", err, src.err)
	}
	if sup.RestartCount() != 3 {
		t.Errorf("RestartCount() = %d, want 3", sup.RestartCount())
	}
}

func TestSupervisor_AlreadyRunning(t *testing.T) {
	sched := jobs.NewScheduler()
	sup, _ := startSupervisor(t, Config{Queue: testQueue, Source: sched})

	deadline := time.Now().Add(time.Second)
	for sup.Status() != StatusRunning && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if err := sup.Run(context.Background()); err == nil {
		t.Error("second Run() error = nil, want already running")
	}
}

func TestNewSupervisor_Defaults(t *testing.T) {
	sup := NewSupervisor(Config{Queue: testQueue})
	if sup.config.RestartDelay != time.Second {
		t.Errorf("RestartDelay = %v, want 1s", sup.config.RestartDelay)
	}
	if sup.config.FreezeTimeout != 30*time.Second {
		t.Errorf("FreezeTimeout = %v, want 30s", sup.config.FreezeTimeout)
	}
	if sup.config.HealthCheckInterval != 5*time.Second {
		t.Errorf("HealthCheckInterval = %v, want 5s", sup.config.HealthCheckInterval)
	}
	if sup.Status() != StatusStopped {
		t.Errorf("Status() = %v, want %v", sup.Status(), StatusStopped)
	}
}

func TestRunAll_StopsOnContext(t *testing.T) {
	sched := jobs.NewScheduler()
	a := NewSupervisor(Config{Queue: "playout:a", Source: sched})
	b := NewSupervisor(Config{Queue: "playout:b", Source: sched})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- RunAll(ctx, a, b) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("RunAll() error = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RunAll() did not return")
	}
}

type failingSource struct {
	err error
}

func (f *failingSource) WaitForNext(context.Context, string) error { return f.err }
func (f *failingSource) Dequeue(string) (jobs.Next, bool)          { return jobs.Next{}, false }
func (f *failingSource) Complete(string, time.Time, time.Time, error, any) error {
	return jobs.ErrJobNotRunning
}

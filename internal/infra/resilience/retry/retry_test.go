package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/vietddude/chatwatch/internal/infra/resilience/fault"
)

type recordingObserver struct {
	mu        sync.Mutex
	errors    []Attempt
	recovered []int
	final     []Attempt
}

func (o *recordingObserver) OnError(a Attempt) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errors = append(o.errors, a)
}

func (o *recordingObserver) OnRecovered(_ Call, attempt int, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.recovered = append(o.recovered, attempt)
}

func (o *recordingObserver) OnFinalFailure(a Attempt) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.final = append(o.final, a)
}

type statusErr int

func (s statusErr) Error() string   { return fmt.Sprintf("http %d", int(s)) }
func (s statusErr) HTTPStatus() int { return int(s) }

func newTestExecutor(obs Observer) (*Executor, *[]time.Duration) {
	e := NewExecutor(obs, nil)
	var slept []time.Duration
	e.SetSleepFunc(func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	})
	return e, &slept
}

func TestComputeDelay(t *testing.T) {
	p := Policy{InitialDelay: 1000 * time.Millisecond, Multiplier: 2, MaxDelay: 10000 * time.Millisecond}

	want := []time.Duration{1000, 2000, 4000, 8000, 10000, 10000}
	for i, w := range want {
		got := ComputeDelay(i+1, p)
		if got != w*time.Millisecond {
			t.Errorf("attempt %d: got %v, want %v", i+1, got, w*time.Millisecond)
		}
	}
}

func TestComputeDelay_Jitter(t *testing.T) {
	p := Policy{InitialDelay: 1000 * time.Millisecond, Multiplier: 2, MaxDelay: 10000 * time.Millisecond, Jitter: true}

	seen := make(map[time.Duration]bool)
	for i := 0; i < 200; i++ {
		d := ComputeDelay(2, p)
		if d < 1500*time.Millisecond || d > 2500*time.Millisecond {
			t.Fatalf("jittered delay %v outside [1.5s, 2.5s]", d)
		}
		seen[d] = true
	}
	if len(seen) < 2 {
		t.Error("expected jitter to produce differing delays")
	}
}

func TestComputeDelay_EdgeCases(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		attempt int
		want    time.Duration
	}{
		{"negative delays", Policy{InitialDelay: -time.Second, MaxDelay: -time.Second, Multiplier: 2}, 3, 0},
		{"multiplier below one", Policy{InitialDelay: time.Second, MaxDelay: 5 * time.Second, Multiplier: 0.5}, 4, time.Second},
		{"multiplier one", Policy{InitialDelay: time.Second, MaxDelay: 5 * time.Second, Multiplier: 1}, 6, time.Second},
		{"initial above max", Policy{InitialDelay: 8 * time.Second, MaxDelay: 5 * time.Second, Multiplier: 2}, 1, 5 * time.Second},
		{"attempt zero", Policy{InitialDelay: time.Second, MaxDelay: 5 * time.Second, Multiplier: 2}, 0, time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ComputeDelay(tt.attempt, tt.policy); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRun_RecoversOnThirdAttempt(t *testing.T) {
	obs := &recordingObserver{}
	e, slept := newTestExecutor(obs)

	calls := 0
	refused := &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}
	got, err := Run(context.Background(), e, Network, Call{Operation: "fetch"}, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", refused
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ok" {
		t.Errorf("got %q, want ok", got)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if len(obs.recovered) != 1 || obs.recovered[0] != 3 {
		t.Errorf("recovered events = %v, want [3]", obs.recovered)
	}
	if len(obs.errors) != 2 {
		t.Errorf("error events = %d, want 2", len(obs.errors))
	}
	if len(obs.final) != 0 {
		t.Errorf("final failure events = %d, want 0", len(obs.final))
	}
	if len(*slept) != 2 {
		t.Errorf("sleeps = %d, want 2", len(*slept))
	}
}

func TestRun_FirstTrySuccessEmitsNothing(t *testing.T) {
	obs := &recordingObserver{}
	e, _ := newTestExecutor(obs)

	_, err := Run(context.Background(), e, Default, Call{}, func(context.Context) (int, error) {
		return 1, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(obs.recovered)+len(obs.errors)+len(obs.final) != 0 {
		t.Error("expected no events on first-try success")
	}
}

func TestRun_Exhausted(t *testing.T) {
	obs := &recordingObserver{}
	e, slept := newTestExecutor(obs)

	boom := errors.New("boom")
	calls := 0
	_, err := Run(context.Background(), e, Default, Call{Operation: "x"}, func(context.Context) (int, error) {
		calls++
		return 0, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if calls != Default.MaxAttempts {
		t.Errorf("calls = %d, want %d", calls, Default.MaxAttempts)
	}
	if len(*slept) != Default.MaxAttempts-1 {
		t.Errorf("sleeps = %d, want %d", len(*slept), Default.MaxAttempts-1)
	}
	if len(obs.final) != 1 || obs.final[0].Number != Default.MaxAttempts {
		t.Errorf("final = %+v", obs.final)
	}
}

func TestRun_PredicateStops(t *testing.T) {
	obs := &recordingObserver{}
	e, slept := newTestExecutor(obs)

	calls := 0
	_, err := Run(context.Background(), e, API, Call{}, func(context.Context) (int, error) {
		calls++
		return 0, statusErr(404)
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 || len(*slept) != 0 {
		t.Errorf("calls = %d sleeps = %d, want 1 and 0", calls, len(*slept))
	}
	if len(obs.final) != 1 {
		t.Errorf("final events = %d, want 1", len(obs.final))
	}
}

func TestRun_NeverRetrySentinel(t *testing.T) {
	e, _ := newTestExecutor(nil)
	open := errors.New("open")
	e.NeverRetry(open)

	calls := 0
	_, err := Run(context.Background(), e, Default, Call{}, func(context.Context) (int, error) {
		calls++
		return 0, fmt.Errorf("wrapped: %w", open)
	})
	if !errors.Is(err, open) || calls != 1 {
		t.Errorf("err = %v calls = %d", err, calls)
	}
}

func TestRun_ContextCanceledDuringSleep(t *testing.T) {
	e := NewExecutor(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	e.SetSleepFunc(func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	})

	_, err := Run(ctx, e, Default, Call{}, func(context.Context) (int, error) {
		return 0, errors.New("fail")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestRun_CanceledSleepKeepsLastError(t *testing.T) {
	e := NewExecutor(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	e.SetSleepFunc(func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	})

	_, err := Run(ctx, e, Default, Call{}, func(context.Context) (int, error) {
		return 0, statusErr(503)
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	var sc statusErr
	if !errors.As(err, &sc) || sc != 503 {
		t.Errorf("err = %v, want wrapped http 503", err)
	}
	if got := fault.Inspect(err).Status; got != 503 {
		t.Errorf("status = %d, want 503", got)
	}
}

func TestPresetPredicates(t *testing.T) {
	refused := &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}
	dns := &net.DNSError{Err: "no such host", Name: "kick.com"}

	tests := []struct {
		policy Policy
		err    error
		want   bool
	}{
		{Network, refused, true},
		{Network, statusErr(502), true},
		{Network, statusErr(429), false},
		{Network, errors.New("plain"), false},
		{API, statusErr(500), true},
		{API, statusErr(429), true},
		{API, statusErr(408), true},
		{API, statusErr(401), false},
		{RealtimeChannel, errors.New("socket closed"), true},
		{RealtimeChannel, errors.New("Unauthorized: bad token"), false},
		{ThirdPartyService, statusErr(503), true},
		{ThirdPartyService, statusErr(429), true},
		{ThirdPartyService, dns, true},
		{ThirdPartyService, statusErr(404), false},
		{LocalStorage, errors.New("quota exceeded"), true},
		{LocalStorage, errors.New("temporary failure"), true},
		{LocalStorage, errors.New("Quota exceeded"), false},
		{Default, errors.New("anything"), true},
		{Network, &fault.CodeError{Code: fault.CodeConnReset}, true},
	}

	for _, tt := range tests {
		if got := tt.policy.ShouldRetry(tt.err); got != tt.want {
			t.Errorf("%s.ShouldRetry(%v) = %v, want %v", tt.policy.Name, tt.err, got, tt.want)
		}
	}
}

func TestLookup(t *testing.T) {
	for _, name := range Presets() {
		p, err := Lookup(name)
		if err != nil {
			t.Errorf("Lookup(%q): %v", name, err)
		}
		if p.Name != name {
			t.Errorf("Lookup(%q).Name = %q", name, p.Name)
		}
	}
	if _, err := Lookup("nope"); !errors.Is(err, ErrUnknownPolicy) {
		t.Errorf("Lookup(nope) err = %v", err)
	}
}

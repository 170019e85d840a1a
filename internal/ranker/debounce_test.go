package ranker

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"taskloom/internal/config"
	"taskloom/internal/plan"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// collector records applied adjustments for assertions.
type collector struct {
	mu      sync.Mutex
	applied []*Adjustment
	errs    []error
}

func (c *collector) apply(a *Adjustment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applied = append(c.applied, a)
}

func (c *collector) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, err)
}

func (c *collector) appliedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.applied)
}

func shortWindowConfig() config.RankerConfig {
	cfg := config.DefaultRankerConfig()
	cfg.DebounceWindow = "10ms"
	return cfg
}

func TestDebouncerCoalescesBurst(t *testing.T) {
	c := &collector{}
	d := NewDebouncer(shortWindowConfig(), c.apply, c.fail)
	defer d.Close()

	baseline := baselineOf("a", "b", "c")
	// A burst of submissions inside the window: only the last should run.
	for i := 0; i < 5; i++ {
		d.Submit(Request{
			Baseline: baseline,
			Effects: []plan.ReflectionEffect{
				{ReflectionID: "r1", TaskID: "c", Effect: plan.EffectBoosted, Magnitude: float64(i + 1)},
			},
		})
	}

	deadline := time.After(2 * time.Second)
	for c.appliedCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("no adjustment applied within deadline")
		case <-time.After(5 * time.Millisecond):
		}
	}

	d.Flush()
	if got := c.appliedCount(); got != 1 {
		t.Errorf("applied = %d, want 1: burst must coalesce", got)
	}
	c.mu.Lock()
	seq := c.applied[0].Plan.Sequence
	c.mu.Unlock()
	if seq[0] != "c" {
		t.Errorf("head = %s, want boosted c", seq[0])
	}
}

func TestDebouncerFlushRunsPending(t *testing.T) {
	c := &collector{}
	cfg := config.DefaultRankerConfig()
	cfg.DebounceWindow = "10s" // Would never fire on its own in this test
	d := NewDebouncer(cfg, c.apply, c.fail)
	defer d.Close()

	d.Submit(Request{Baseline: baselineOf("a", "b")})
	d.Flush()

	if got := c.appliedCount(); got != 1 {
		t.Errorf("applied = %d, want 1 after flush", got)
	}
}

func TestDebouncerCloseDropsPending(t *testing.T) {
	c := &collector{}
	cfg := config.DefaultRankerConfig()
	cfg.DebounceWindow = "10s"
	d := NewDebouncer(cfg, c.apply, c.fail)

	d.Submit(Request{Baseline: baselineOf("a", "b")})
	d.Close()

	if got := c.appliedCount(); got != 0 {
		t.Errorf("applied = %d, want 0 after close", got)
	}
}

func TestDebouncerGenerationsIncrease(t *testing.T) {
	c := &collector{}
	d := NewDebouncer(shortWindowConfig(), c.apply, c.fail)
	defer d.Close()

	g1 := d.Submit(Request{Baseline: baselineOf("a")})
	g2 := d.Submit(Request{Baseline: baselineOf("a")})
	if g2 <= g1 {
		t.Errorf("generations not increasing: %d then %d", g1, g2)
	}
	d.Flush()
}

func TestDebouncerReportsErrors(t *testing.T) {
	c := &collector{}
	d := NewDebouncer(shortWindowConfig(), c.apply, c.fail)
	defer d.Close()

	d.Submit(Request{Baseline: baselineOf("a", "a")}) // Duplicate id
	d.Flush()

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.errs) != 1 {
		t.Fatalf("errors = %d, want 1", len(c.errs))
	}
	if len(c.applied) != 0 {
		t.Errorf("applied = %d, want 0", len(c.applied))
	}
}

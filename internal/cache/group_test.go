package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	perr "github.com/ppiankov/verity/internal/errors"
	"github.com/ppiankov/verity/internal/model"
)

func TestGroupCoalescesConcurrentCallers(t *testing.T) {
	g := NewGroup[int]("verdict", time.Second, nil)

	var calls atomic.Int32
	release := make(chan struct{})
	fn := func(ctx context.Context) (int, error) {
		calls.Add(1)
		<-release
		return 42, nil
	}

	const n = 16
	var wg sync.WaitGroup
	results := make([]int, n)
	errs := make([]error, n)
	started := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			started <- struct{}{}
			results[i], _, errs[i] = g.Do(context.Background(), "same-key", fn)
		}(i)
	}
	for i := 0; i < n; i++ {
		<-started
	}
	// give every goroutine time to join the flight before releasing it
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Fatalf("fn called %d times, want 1", got)
	}
	for i := 0; i < n; i++ {
		if errs[i] != nil || results[i] != 42 {
			t.Errorf("caller %d got (%d, %v)", i, results[i], errs[i])
		}
	}
}

func TestGroupCallerDeadlineDoesNotCancelWork(t *testing.T) {
	g := NewGroup[string]("verdict", time.Second, nil)

	done := make(chan string, 1)
	fn := func(ctx context.Context) (string, error) {
		select {
		case <-time.After(100 * time.Millisecond):
			done <- "finished"
			return "late", nil
		case <-ctx.Done():
			done <- "cancelled"
			return "", ctx.Err()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, _, err := g.Do(ctx, "k", fn)
	if !perr.IsCode(err, perr.ErrorCodeTimeout) {
		t.Fatalf("err = %v, want timeout code", err)
	}
	if elapsed := time.Since(start); elapsed > 80*time.Millisecond {
		t.Errorf("caller blocked %v past its deadline", elapsed)
	}

	select {
	case outcome := <-done:
		if outcome != "finished" {
			t.Errorf("background work was %s", outcome)
		}
	case <-time.After(time.Second):
		t.Fatalf("background work never completed")
	}
}

func TestGroupUpstreamTimeoutBoundsWork(t *testing.T) {
	g := NewGroup[string]("embedding", 20*time.Millisecond, nil)
	_, _, err := g.Do(context.Background(), "k", func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded from upstream timeout", err)
	}
}

func TestGroupRecoversPanics(t *testing.T) {
	g := NewGroup[int]("search", 0, nil)
	_, _, err := g.Do(context.Background(), "k", func(ctx context.Context) (int, error) {
		panic("boom")
	})
	if !perr.IsCode(err, perr.ErrorCodePanic) {
		t.Fatalf("err = %v, want panic code", err)
	}
}

func newTestLayer() *Layer {
	return NewLayer(NewMemoryCache(time.Hour, time.Minute), Options{
		EmbeddingTTL: 24 * time.Hour,
		SearchTTL:    12 * time.Hour,
		VerdictTTL:   6 * time.Hour,
	})
}

func results(ids ...string) []model.SearchResult {
	out := make([]model.SearchResult, len(ids))
	for i, id := range ids {
		out[i] = model.SearchResult{Record: model.FactCheckRecord{ID: id}, Score: 0.9}
	}
	return out
}

func TestLayerInvalidateRecordsIsScoped(t *testing.T) {
	l := newTestLayer()
	v := l.Version()

	if !l.PutSearch("claim-a", results("r1", "r2"), v) {
		t.Fatalf("PutSearch rejected a current version")
	}
	l.PutSearch("claim-b", results("r3"), v)
	l.PutVerdict("claim-a|r1", model.VerdictResponse{Verdict: model.VerdictFalse, Summary: "s", Sources: []string{}}, []string{"r1"}, v)
	l.PutVerdict("claim-b|r3", model.VerdictResponse{Verdict: model.VerdictTrue, Summary: "s", Sources: []string{}}, []string{"r3"}, v)

	if dropped := l.InvalidateRecords("r1"); dropped != 2 {
		t.Errorf("dropped = %d, want 2", dropped)
	}
	if _, ok := l.Search.Get("claim-a"); ok {
		t.Errorf("search entry referencing r1 survived")
	}
	if _, ok := l.Verdicts.Get("claim-a|r1"); ok {
		t.Errorf("verdict entry referencing r1 survived")
	}
	if _, ok := l.Search.Get("claim-b"); !ok {
		t.Errorf("unrelated search entry removed")
	}
	if _, ok := l.Verdicts.Get("claim-b|r3"); !ok {
		t.Errorf("unrelated verdict entry removed")
	}
}

func TestLayerRejectsStaleWrites(t *testing.T) {
	l := newTestLayer()
	before := l.Version()

	// corpus changes while a computation that started earlier is still running
	l.InvalidateRecords("r1")

	if l.PutSearch("claim-a", results("r1"), before) {
		t.Fatalf("stale search write accepted")
	}
	if _, ok := l.Search.Get("claim-a"); ok {
		t.Fatalf("stale search entry visible")
	}
	if !l.PutSearch("claim-a", results("r1"), l.Version()) {
		t.Errorf("fresh write rejected")
	}
}

func TestLayerFlushSearchKeepsVerdicts(t *testing.T) {
	l := newTestLayer()
	v := l.Version()
	l.PutSearch("claim-a", results("r1"), v)
	l.PutVerdict("claim-a|r1", model.VerdictResponse{Verdict: model.VerdictFalse, Summary: "s", Sources: []string{}}, []string{"r1"}, v)

	if err := l.FlushSearch(); err != nil {
		t.Fatalf("FlushSearch: %v", err)
	}
	if _, ok := l.Search.Get("claim-a"); ok {
		t.Errorf("search entry survived flush")
	}
	if _, ok := l.Verdicts.Get("claim-a|r1"); !ok {
		t.Errorf("verdict removed by search flush")
	}
	// verdict reference is still tracked
	if dropped := l.InvalidateRecords("r1"); dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}
	if err := l.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestLayerInvalidationDetachesRunningFlights(t *testing.T) {
	l := newTestLayer()
	ctx := context.Background()

	release := make(chan struct{})
	entered := make(chan struct{})
	var calls atomic.Int32
	old := make(chan []model.SearchResult, 1)
	go func() {
		res, _, _ := l.SearchFlight.Do(ctx, "claim-a", func(context.Context) ([]model.SearchResult, error) {
			calls.Add(1)
			close(entered)
			<-release
			return results("r1"), nil
		})
		old <- res
	}()
	<-entered
	if n := l.SearchFlight.InFlight(); n != 1 {
		t.Fatalf("in flight = %d, want 1", n)
	}

	// a request arriving after the corpus update must not join the earlier read
	l.InvalidateRecords("r1")
	res, _, err := l.SearchFlight.Do(ctx, "claim-a", func(context.Context) ([]model.SearchResult, error) {
		calls.Add(1)
		return results("r1-updated"), nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if len(res) != 1 || res[0].Record.ID != "r1-updated" {
		t.Errorf("post-invalidation caller got %+v", res)
	}

	close(release)
	if res := <-old; len(res) != 1 || res[0].Record.ID != "r1" {
		t.Errorf("pre-invalidation caller got %+v", res)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("computations = %d, want 2", got)
	}
	if n := l.SearchFlight.InFlight(); n != 0 {
		t.Errorf("in flight after completion = %d", n)
	}
}

package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/directory-crawler/internal/crawler"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type fakeProcessor struct {
	mu       sync.Mutex
	order    []string
	saved    []string
	started  chan struct{}
	release  chan struct{}
	onRun    func(crawler.FetchTarget)
	saveErr  error
	failURLs map[string]bool
}

func (p *fakeProcessor) Process(_ context.Context, target crawler.FetchTarget) (crawler.Record, bool) {
	p.mu.Lock()
	p.order = append(p.order, target.CanonicalURL)
	p.mu.Unlock()
	if p.started != nil {
		p.started <- struct{}{}
	}
	if p.release != nil {
		<-p.release
	}
	if p.onRun != nil {
		p.onRun(target)
	}
	if p.failURLs[target.CanonicalURL] {
		return crawler.Record{}, false
	}
	return crawler.Record{ID: target.CanonicalURL}, true
}

func (p *fakeProcessor) Save(_ context.Context, record crawler.Record) error {
	if p.saveErr != nil {
		return p.saveErr
	}
	p.mu.Lock()
	p.saved = append(p.saved, record.ID)
	p.mu.Unlock()
	return nil
}

func targets(urls ...string) []crawler.FetchTarget {
	out := make([]crawler.FetchTarget, 0, len(urls))
	for _, u := range urls {
		out = append(out, crawler.FetchTarget{CanonicalURL: u, Kind: crawler.KindDetail})
	}
	return out
}

func numbered(n int) []string {
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, fmt.Sprintf("https://www.vitals.com/doctors/dr-%d", i))
	}
	return out
}

func TestRunDeduplicatesByCanonicalURL(t *testing.T) {
	t.Parallel()

	p := &fakeProcessor{}
	d := New(Config{Width: 3, Cap: 10}, p, &manualClock{}, nil, zap.NewNop())

	report := d.Run(context.Background(), targets("a", "a", "b", "a", "b", "c"))
	require.Equal(t, 3, report.Admitted)
	require.Equal(t, 3, report.Duplicates)
	require.Equal(t, 3, report.Saved)
	require.ElementsMatch(t, []string{"a", "b", "c"}, p.saved)
}

func TestRunAdmitsInOrderWithWidthOne(t *testing.T) {
	t.Parallel()

	urls := numbered(5)
	p := &fakeProcessor{}
	d := New(Config{Width: 1}, p, &manualClock{}, nil, zap.NewNop())

	d.Run(context.Background(), targets(urls...))
	require.Equal(t, urls, p.order)
}

func TestRunStopsAdmittingAtDeadline(t *testing.T) {
	t.Parallel()

	start := time.Unix(1_700_000_000, 0)
	clock := &manualClock{now: start}
	p := &fakeProcessor{onRun: func(crawler.FetchTarget) {
		clock.Set(start.Add(time.Minute))
	}}
	d := New(Config{Width: 1, Deadline: start.Add(30 * time.Second)}, p, clock, nil, zap.NewNop())

	report := d.Run(context.Background(), targets(numbered(4)...))
	require.Equal(t, 1, report.Admitted)
	require.True(t, report.DeadlineHit)
	require.Equal(t, 1, report.Saved, "in-flight work finishes after the deadline")
}

func TestRunAdmitsNothingPastDeadline(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	p := &fakeProcessor{}
	d := New(Config{Width: 10, Deadline: now}, p, &manualClock{now: now}, nil, zap.NewNop())

	report := d.Run(context.Background(), targets(numbered(3)...))
	require.Zero(t, report.Admitted)
	require.True(t, report.DeadlineHit)
	require.Empty(t, p.order)
}

func TestRunStopsAtCap(t *testing.T) {
	t.Parallel()

	p := &fakeProcessor{}
	d := New(Config{Width: 1, Cap: 2}, p, &manualClock{}, nil, zap.NewNop())

	report := d.Run(context.Background(), targets(numbered(5)...))
	require.Equal(t, 2, report.Admitted)
	require.Equal(t, 2, report.Saved)
	require.Len(t, p.saved, 2)
}

func TestRunEnforcesCapAtEmit(t *testing.T) {
	t.Parallel()

	p := &fakeProcessor{started: make(chan struct{}, 3), release: make(chan struct{})}
	go func() {
		for i := 0; i < 3; i++ {
			<-p.started
		}
		close(p.release)
	}()
	d := New(Config{Width: 3, Cap: 1}, p, &manualClock{}, nil, zap.NewNop())

	report := d.Run(context.Background(), targets(numbered(3)...))
	require.Equal(t, 3, report.Admitted)
	require.Equal(t, 1, report.Saved)
	require.Equal(t, 2, report.Dropped)
	require.Len(t, p.saved, 1)
}

func TestRunSkipsFailedTargetsAndSaveErrors(t *testing.T) {
	t.Parallel()

	urls := numbered(3)
	p := &fakeProcessor{failURLs: map[string]bool{urls[1]: true}}
	d := New(Config{Width: 2, Cap: 5}, p, &manualClock{}, nil, zap.NewNop())
	report := d.Run(context.Background(), targets(urls...))
	require.Equal(t, 3, report.Admitted)
	require.Equal(t, 2, report.Saved)

	p = &fakeProcessor{saveErr: errors.New("sink down")}
	d = New(Config{Width: 2}, p, &manualClock{}, nil, zap.NewNop())
	report = d.Run(context.Background(), targets(urls...))
	require.Equal(t, 3, report.Admitted)
	require.Zero(t, report.Saved)
}

func TestNewClampsWidth(t *testing.T) {
	t.Parallel()

	require.Equal(t, MaxWidth, New(Config{Width: 50}, nil, nil, nil, nil).cfg.Width)
	require.Equal(t, 1, New(Config{}, nil, nil, nil, nil).cfg.Width)
}

package listing

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"OpportunitiesService/internal/model"
)

// fakeFetcher возвращает результат, который можно менять между вызовами.
// Если задан gate, n-й вызов ждёт сигнала из gate[n]
type fakeFetcher struct {
	mu    sync.Mutex
	calls int
	rows  []model.Opportunity
	err   error
	gate  map[int]chan struct{}
	per   map[int][]model.Opportunity
	errs  map[int]error
}

func (f *fakeFetcher) ListOpportunities(context.Context) ([]model.Opportunity, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	gate := f.gate[n]
	rows, err := f.rows, f.err
	if r, ok := f.per[n]; ok {
		rows = r
	}
	if e, ok := f.errs[n]; ok {
		rows, err = nil, e
	}
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return rows, err
}

func (f *fakeFetcher) set(rows []model.Opportunity, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows, f.err = rows, err
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeFeed запоминает обработчики, чтобы тест мог отправлять уведомления
type fakeFeed struct {
	mu      sync.Mutex
	onEvent func(model.ChangeEvent)
	onState func(bool)
	err     error
	closed  bool
}

func (f *fakeFeed) Subscribe(_ context.Context, onEvent func(model.ChangeEvent), onState func(bool)) (io.Closer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.onEvent, f.onState = onEvent, onState
	onState(true)
	return f, nil
}

func (f *fakeFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeFeed) subscribed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.onEvent != nil
}

func (f *fakeFeed) emit(e model.ChangeEvent) {
	f.mu.Lock()
	cb := f.onEvent
	f.mu.Unlock()
	cb(e)
}

func (f *fakeFeed) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

var resolver = model.ImageResolver{BaseURL: "https://s", Bucket: "opportunity-images"}

func row(id string, age time.Duration) model.Opportunity {
	return model.Opportunity{
		ID:          id,
		Position:    "pos-" + id,
		Description: "desc-" + id,
		CreatedAt:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(-age),
	}
}

func ids(s Snapshot) []string {
	out := make([]string, 0, len(s.Items))
	for _, it := range s.Items {
		out = append(out, it.ID)
	}
	return out
}

func TestSynchronizer_InitialLoad(t *testing.T) {
	gate := make(chan struct{})
	fetcher := &fakeFetcher{rows: []model.Opportunity{row("b", 0), row("a", time.Hour)}, gate: map[int]chan struct{}{1: gate}}
	feed := &fakeFeed{}
	s := New(fetcher, feed, resolver, zerolog.Nop())
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	// пока запрос не завершён, показывается состояние загрузки
	snap := s.Snapshot()
	require.True(t, snap.Loading)
	require.Empty(t, snap.Items)

	close(gate)
	require.Eventually(t, func() bool { return !s.Snapshot().Loading }, time.Second, 5*time.Millisecond)
	snap = s.Snapshot()
	require.Equal(t, []string{"b", "a"}, ids(snap))
	require.False(t, snap.Empty)
	require.Equal(t, model.DefaultFallbackImage, snap.Items[0].ImageURL)
	require.Eventually(t, func() bool { return s.Snapshot().Connected }, time.Second, 5*time.Millisecond)

	require.ErrorIs(t, s.Start(context.Background()), ErrAlreadyStarted)
}

func TestSynchronizer_EmptyState(t *testing.T) {
	s := New(&fakeFetcher{}, nil, resolver, zerolog.Nop())
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()
	require.Eventually(t, func() bool { return !s.Snapshot().Loading }, time.Second, 5*time.Millisecond)
	snap := s.Snapshot()
	require.True(t, snap.Empty)
	require.NotNil(t, snap.Items)
	require.False(t, snap.Connected)
}

func TestSynchronizer_InitialFailureClearsLoading(t *testing.T) {
	s := New(&fakeFetcher{err: errors.New("db down")}, nil, resolver, zerolog.Nop())
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()
	require.Eventually(t, func() bool { return !s.Snapshot().Loading }, time.Second, 5*time.Millisecond)
	require.Empty(t, s.Snapshot().Items)
}

// Уведомление о вставке приводит к перезагрузке, новая запись оказывается первой
func TestSynchronizer_RefetchOnNotification(t *testing.T) {
	fetcher := &fakeFetcher{rows: []model.Opportunity{row("a", time.Hour)}}
	feed := &fakeFeed{}
	s := New(fetcher, feed, resolver, zerolog.Nop())
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()
	require.Eventually(t, func() bool { return len(s.Snapshot().Items) == 1 && feed.subscribed() }, time.Second, 5*time.Millisecond)

	fetcher.set([]model.Opportunity{row("new", 0), row("a", time.Hour)}, nil)
	// тип события не важен
	feed.emit(model.ChangeEvent{Type: model.ChangeInsert, ID: "new"})
	require.Eventually(t, func() bool {
		got := ids(s.Snapshot())
		return len(got) == 2 && got[0] == "new"
	}, time.Second, 5*time.Millisecond)

	fetcher.set([]model.Opportunity{row("new", 0)}, nil)
	feed.emit(model.ChangeEvent{})
	require.Eventually(t, func() bool { return len(s.Snapshot().Items) == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, 3, fetcher.callCount())
}

// Ошибка перезагрузки оставляет ранее показанный список
func TestSynchronizer_RefetchFailureKeepsList(t *testing.T) {
	fetcher := &fakeFetcher{rows: []model.Opportunity{row("a", 0)}}
	feed := &fakeFeed{}
	s := New(fetcher, feed, resolver, zerolog.Nop())
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()
	require.Eventually(t, func() bool { return len(s.Snapshot().Items) == 1 && feed.subscribed() }, time.Second, 5*time.Millisecond)

	fetcher.set(nil, errors.New("timeout"))
	feed.emit(model.ChangeEvent{Type: model.ChangeUpdate})
	require.Eventually(t, func() bool { return fetcher.callCount() == 2 }, time.Second, 5*time.Millisecond)
	s.wait()
	require.Equal(t, []string{"a"}, ids(s.Snapshot()))
	require.False(t, s.Snapshot().Loading)
}

// Результат запроса, начатого раньше, не затирает более свежий
func TestSynchronizer_StaleRefetchDiscarded(t *testing.T) {
	slow := make(chan struct{})
	fetcher := &fakeFetcher{
		rows: []model.Opportunity{row("a", 0)},
		gate: map[int]chan struct{}{2: slow},
		per: map[int][]model.Opportunity{
			2: {row("stale", 0)},
			3: {row("fresh", 0)},
		},
	}
	feed := &fakeFeed{}
	s := New(fetcher, feed, resolver, zerolog.Nop())
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()
	require.Eventually(t, func() bool { return len(s.Snapshot().Items) == 1 && feed.subscribed() }, time.Second, 5*time.Millisecond)

	feed.emit(model.ChangeEvent{})
	require.Eventually(t, func() bool { return fetcher.callCount() == 2 }, time.Second, 5*time.Millisecond)
	feed.emit(model.ChangeEvent{})
	require.Eventually(t, func() bool { return ids(s.Snapshot())[0] == "fresh" }, time.Second, 5*time.Millisecond)

	close(slow)
	s.wait()
	require.Equal(t, []string{"fresh"}, ids(s.Snapshot()))
}

// Ошибка более поздней загрузки не отменяет успешную первичную, завершившуюся позже
func TestSynchronizer_FailedRefetchDoesNotBlockEarlierSuccess(t *testing.T) {
	initial := make(chan struct{})
	fetcher := &fakeFetcher{
		rows: []model.Opportunity{row("a", 0)},
		gate: map[int]chan struct{}{1: initial},
		errs: map[int]error{2: errors.New("db down")},
	}
	feed := &fakeFeed{}
	s := New(fetcher, feed, resolver, zerolog.Nop())
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()
	require.Eventually(t, func() bool { return feed.subscribed() && fetcher.callCount() == 1 }, time.Second, 5*time.Millisecond)

	feed.emit(model.ChangeEvent{Type: model.ChangeInsert})
	require.Eventually(t, func() bool { return !s.Snapshot().Loading }, time.Second, 5*time.Millisecond)
	require.True(t, s.Snapshot().Empty)

	close(initial)
	s.wait()
	snap := s.Snapshot()
	require.Equal(t, []string{"a"}, ids(snap))
	require.False(t, snap.Empty)
	require.False(t, snap.Loading)
}

// После Stop незавершённая загрузка не применяется, подписка закрыта
func TestSynchronizer_DiscardAfterStop(t *testing.T) {
	gate := make(chan struct{})
	fetcher := &fakeFetcher{rows: []model.Opportunity{row("a", 0)}, gate: map[int]chan struct{}{1: gate}}
	feed := &fakeFeed{}
	s := New(fetcher, feed, resolver, zerolog.Nop())
	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, feed.subscribed, time.Second, 5*time.Millisecond)
	before := s.Snapshot()

	s.Stop()
	require.Eventually(t, feed.isClosed, time.Second, 5*time.Millisecond)
	close(gate)
	s.wait()

	after := s.Snapshot()
	require.Equal(t, before.Version, after.Version)
	require.True(t, after.Loading)
	require.Empty(t, after.Items)

	// уведомления после Stop ничего не запускают
	feed.emit(model.ChangeEvent{})
	s.wait()
	require.Equal(t, 1, fetcher.callCount())
	s.Stop()
}

func TestSynchronizer_SubscribeFailureStillLoads(t *testing.T) {
	feed := &fakeFeed{err: errors.New("listen failed")}
	s := New(&fakeFetcher{rows: []model.Opportunity{row("a", 0)}}, feed, resolver, zerolog.Nop())
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()
	require.Eventually(t, func() bool { return len(s.Snapshot().Items) == 1 }, time.Second, 5*time.Millisecond)
	require.False(t, s.Snapshot().Connected)
}

func TestSynchronizer_Watch(t *testing.T) {
	fetcher := &fakeFetcher{rows: []model.Opportunity{row("a", 0)}}
	feed := &fakeFeed{}
	s := New(fetcher, feed, resolver, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := s.Watch(ctx)
	first := <-ch
	require.False(t, first.Loading)

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool {
		select {
		case snap := <-ch:
			return len(snap.Items) == 1 && snap.Connected
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)

	s.Stop()
	// канал закрывается при Stop
	for range ch {
	}

	// Watch после Stop отдаёт последний снимок и сразу закрывается
	late := s.Watch(context.Background())
	snap, ok := <-late
	require.True(t, ok)
	require.Equal(t, s.Snapshot().Version, snap.Version)
	_, ok = <-late
	require.False(t, ok)
}

// Пакет listing поддерживает актуальное представление списка opportunities:
// первичная загрузка, подписка на уведомления об изменениях и полная перезагрузка на каждое уведомление
package listing

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"OpportunitiesService/internal/model"
)

// Fetcher читает все записи, новые первыми
type Fetcher interface {
	ListOpportunities(ctx context.Context) ([]model.Opportunity, error)
}

// Feed: источник уведомлений об изменениях таблицы (pgnotify.Feed или events.Subscriber).
// onState сообщает о состоянии соединения и не влияет на отображение
type Feed interface {
	Subscribe(ctx context.Context, onEvent func(model.ChangeEvent), onState func(connected bool)) (io.Closer, error)
}

// Snapshot: текущее состояние списка
type Snapshot struct {
	Loading   bool                `json:"loading"`
	Connected bool                `json:"connected"`
	Empty     bool                `json:"empty"`
	Items     []model.ListingItem `json:"items"`
	Version   uint64              `json:"version"`
}

// ErrAlreadyStarted возвращается при повторном Start
var ErrAlreadyStarted = errors.New("synchronizer already started")

// Synchronizer держит список в соответствии с базой.
// Результаты загрузок, завершившихся после Stop, отбрасываются
type Synchronizer struct {
	fetcher  Fetcher
	feed     Feed
	resolver model.ImageResolver
	logger   zerolog.Logger

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	started  bool
	snap     Snapshot
	loaded   bool
	sub      io.Closer
	seq      uint64
	applied  uint64
	watchers map[int]chan Snapshot
	nextID   int

	wg sync.WaitGroup
}

// New создаёт синхронизатор. feed может быть nil: тогда список загружается один раз
func New(fetcher Fetcher, feed Feed, resolver model.ImageResolver, logger zerolog.Logger) *Synchronizer {
	return &Synchronizer{
		fetcher:  fetcher,
		feed:     feed,
		resolver: resolver,
		logger:   logger.With().Str("component", "listing").Logger(),
		snap:     Snapshot{Items: []model.ListingItem{}},
		watchers: map[int]chan Snapshot{},
	}
}

// Start запускает первичную загрузку и подписку параллельно и сразу возвращается
func (s *Synchronizer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.snap.Loading = true
	s.publishLocked()
	s.mu.Unlock()

	s.refetch()
	if s.feed != nil {
		s.wg.Add(1)
		go s.subscribe()
	}
	return nil
}

// Stop отменяет загрузки и освобождает подписку. Не ждёт завершения загрузок
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	if !s.started || s.ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	s.cancel()
	sub := s.sub
	s.sub = nil
	for id, ch := range s.watchers {
		close(ch)
		delete(s.watchers, id)
	}
	s.mu.Unlock()

	if sub != nil {
		if err := sub.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("не удалось закрыть подписку")
		}
	}
}

// wait дожидается фоновых горутин
func (s *Synchronizer) wait() {
	s.wg.Wait()
}

// Snapshot возвращает текущее состояние
func (s *Synchronizer) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// Watch возвращает канал снимков. Текущий снимок приходит сразу,
// медленный получатель видит только последний. Канал закрывается по ctx или Stop
func (s *Synchronizer) Watch(ctx context.Context) <-chan Snapshot {
	ch := make(chan Snapshot, 1)
	s.mu.Lock()
	ch <- s.snap
	if s.started && s.ctx.Err() != nil {
		close(ch)
		s.mu.Unlock()
		return ch
	}
	id := s.nextID
	s.nextID++
	s.watchers[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		if w, ok := s.watchers[id]; ok {
			close(w)
			delete(s.watchers, id)
		}
	}()
	return ch
}

func (s *Synchronizer) subscribe() {
	defer s.wg.Done()
	sub, err := s.feed.Subscribe(s.ctx, s.onEvent, s.onState)
	if err != nil {
		if s.ctx.Err() == nil {
			s.logger.Error().Err(err).Msg("не удалось подписаться на изменения, живые обновления отключены")
		}
		return
	}
	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		_ = sub.Close()
		return
	}
	s.sub = sub
	s.mu.Unlock()
}

// onEvent реагирует на любое уведомление одинаково: полной перезагрузкой
func (s *Synchronizer) onEvent(e model.ChangeEvent) {
	if s.ctx.Err() != nil {
		return
	}
	s.logger.Debug().Str("type", string(e.Type)).Str("id", e.ID).Msg("получено уведомление об изменении")
	s.refetch()
}

func (s *Synchronizer) onState(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil || s.snap.Connected == connected {
		return
	}
	s.snap.Connected = connected
	s.publishLocked()
}

func (s *Synchronizer) refetch() {
	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	s.seq++
	seq := s.seq
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		list, err := s.fetcher.ListOpportunities(s.ctx)
		s.reconcile(seq, list, err)
	}()
}

// reconcile заменяет список целиком. Результат более ранней загрузки,
// пришедший после более поздней успешной, отбрасывается
func (s *Synchronizer) reconcile(seq uint64, list []model.Opportunity, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil || seq < s.applied {
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Uint64("seq", seq).Msg("не удалось загрузить список")
		if s.loaded {
			// оставляем ранее показанные данные
			return
		}
		// applied не двигаем: успешная загрузка, начатая раньше, ещё может прийти
		s.snap.Loading = false
		s.snap.Items = []model.ListingItem{}
		s.snap.Empty = true
		s.publishLocked()
		return
	}
	s.applied = seq
	s.loaded = true
	s.snap.Loading = false
	s.snap.Items = model.ToListingItems(list, s.resolver)
	s.snap.Empty = len(s.snap.Items) == 0
	s.publishLocked()
}

// publishLocked увеличивает версию и рассылает снимок; вызывается под mu
func (s *Synchronizer) publishLocked() {
	s.snap.Version++
	for _, ch := range s.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- s.snap
	}
}

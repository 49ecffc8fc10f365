// Пакет pgnotify превращает уведомления Postgres LISTEN/NOTIFY в события изменений
package pgnotify

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"OpportunitiesService/internal/model"
)

// Channel: канал, в который пишет триггер opportunities_notify
const Channel = "opportunities_changes"

// Listener: подмножество методов *pq.Listener
type Listener interface {
	Listen(channel string) error
	NotificationChannel() <-chan *pq.Notification
	Close() error
}

// NewListenerFunc создаёт Listener с заданным обработчиком событий соединения
type NewListenerFunc func(cb pq.EventCallbackType) Listener

// Feed: источник уведомлений на базе pq.Listener.
// Каждая подписка держит собственное соединение
type Feed struct {
	channel     string
	newListener NewListenerFunc
}

// NewFeed создаёт Feed для строки подключения dsn
func NewFeed(dsn string) *Feed {
	return NewFeedFunc(Channel, func(cb pq.EventCallbackType) Listener {
		return pq.NewListener(dsn, 2*time.Second, time.Minute, cb)
	})
}

// NewFeedFunc создаёт Feed с произвольной фабрикой слушателей
func NewFeedFunc(channel string, newListener NewListenerFunc) *Feed {
	return &Feed{channel: channel, newListener: newListener}
}

// Subscribe начинает слушать канал. Подписка живёт до Close или отмены ctx.
// После переподключения pq присылает nil, который тоже превращается в событие:
// за время разрыва могли быть пропущены изменения
func (f *Feed) Subscribe(ctx context.Context, onEvent func(model.ChangeEvent), onState func(bool)) (io.Closer, error) {
	ctx, cancel := context.WithCancel(ctx)
	l := f.newListener(func(ev pq.ListenerEventType, err error) {
		if ctx.Err() != nil {
			return
		}
		switch ev {
		case pq.ListenerEventConnected, pq.ListenerEventReconnected:
			onState(true)
		case pq.ListenerEventDisconnected, pq.ListenerEventConnectionAttemptFailed:
			log.Warn().Err(err).Str("channel", f.channel).Msg("соединение LISTEN потеряно")
			onState(false)
		}
	})
	if err := l.Listen(f.channel); err != nil {
		cancel()
		_ = l.Close()
		return nil, err
	}
	s := &subscription{cancel: cancel, listener: l, done: make(chan struct{})}
	go s.loop(ctx, onEvent)
	return s, nil
}

type subscription struct {
	cancel   context.CancelFunc
	listener Listener
	done     chan struct{}
	once     sync.Once
	err      error
}

func (s *subscription) loop(ctx context.Context, onEvent func(model.ChangeEvent)) {
	defer close(s.done)
	ch := s.listener.NotificationChannel()
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-ch:
			if !ok {
				return
			}
			if ctx.Err() != nil {
				return
			}
			onEvent(parse(n))
		}
	}
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.cancel()
		s.err = s.listener.Close()
		<-s.done
	})
	return s.err
}

// parse разбирает payload триггера {"type": ..., "id": ...}
func parse(n *pq.Notification) model.ChangeEvent {
	var e model.ChangeEvent
	if n == nil || n.Extra == "" {
		return e
	}
	if err := json.Unmarshal([]byte(n.Extra), &e); err != nil {
		log.Warn().Err(err).Str("payload", n.Extra).Msg("не удалось разобрать уведомление")
		return model.ChangeEvent{}
	}
	return e
}

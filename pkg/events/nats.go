// Пакет events публикует и принимает события изменений opportunities через NATS
package events

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"sync/atomic"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"OpportunitiesService/internal/model"
)

// Conn определяет минимальный интерфейс NATS-подключения для публикации (например *nats.Conn)
type Conn interface {
	Publish(subject string, data []byte) error
}

// Publisher отправляет события в subject
type Publisher struct {
	conn    Conn
	subject string
}

// NewPublisher связывает Conn и subject
func NewPublisher(conn Conn, subject string) *Publisher {
	return &Publisher{conn: conn, subject: subject}
}

// PublishChange отправляет сериализованное событие
func (p *Publisher) PublishChange(data []byte) error {
	return p.conn.Publish(p.subject, data)
}

// Unsubscriber: подписка NATS (*nats.Subscription)
type Unsubscriber interface {
	Unsubscribe() error
}

// SubscribeFunc оформляет подписку на subject
type SubscribeFunc func(subject string, cb nats.MsgHandler) (Unsubscriber, error)

// Subscriber: источник уведомлений об изменениях для синхронизатора списка.
// Состояние соединения передаётся через ConnectionChanged из обработчиков nats.Conn
type Subscriber struct {
	subject   string
	subscribe SubscribeFunc

	mu       sync.Mutex
	watchers map[int]func(bool)
	nextID   int
}

// NewSubscriber создаёт Subscriber поверх подключения nc
func NewSubscriber(nc *nats.Conn, subject string) *Subscriber {
	return NewSubscriberFunc(subject, func(s string, cb nats.MsgHandler) (Unsubscriber, error) {
		return nc.Subscribe(s, cb)
	})
}

// NewSubscriberFunc создаёт Subscriber с произвольной функцией подписки
func NewSubscriberFunc(subject string, subscribe SubscribeFunc) *Subscriber {
	return &Subscriber{subject: subject, subscribe: subscribe, watchers: map[int]func(bool){}}
}

// ConnectionChanged сообщает всем подписчикам о смене состояния соединения
func (s *Subscriber) ConnectionChanged(connected bool) {
	s.mu.Lock()
	watchers := make([]func(bool), 0, len(s.watchers))
	for _, w := range s.watchers {
		watchers = append(watchers, w)
	}
	s.mu.Unlock()
	for _, w := range watchers {
		w(connected)
	}
}

// TrackConnection передаёт в ConnectionChanged разрывы и восстановления соединения nc.
// Вызывается после создания Subscriber, так что обработчики всегда видят готовый объект
func (s *Subscriber) TrackConnection(nc *nats.Conn) {
	nc.SetDisconnectErrHandler(func(_ *nats.Conn, err error) {
		log.Warn().Err(err).Msg("NATS disconnected")
		s.ConnectionChanged(false)
	})
	nc.SetReconnectHandler(func(_ *nats.Conn) {
		log.Info().Msg("NATS reconnected")
		s.ConnectionChanged(true)
	})
}

// Subscribe подписывается на subject. Любое сообщение вызывает onEvent;
// нераспознанное тело передаётся как событие без типа
func (s *Subscriber) Subscribe(_ context.Context, onEvent func(model.ChangeEvent), onState func(bool)) (io.Closer, error) {
	sub := &subscription{owner: s}
	handler := func(msg *nats.Msg) {
		if sub.closed.Load() {
			return
		}
		var e model.ChangeEvent
		if err := json.Unmarshal(msg.Data, &e); err != nil {
			log.Warn().Err(err).Str("subject", msg.Subject).Msg("не удалось разобрать событие")
			e = model.ChangeEvent{}
		}
		onEvent(e)
	}
	u, err := s.subscribe(s.subject, handler)
	if err != nil {
		return nil, err
	}
	sub.unsub = u
	s.mu.Lock()
	sub.id = s.nextID
	s.nextID++
	s.watchers[sub.id] = func(connected bool) {
		if !sub.closed.Load() {
			onState(connected)
		}
	}
	s.mu.Unlock()
	onState(true)
	return sub, nil
}

type subscription struct {
	owner  *Subscriber
	id     int
	unsub  Unsubscriber
	closed atomic.Bool
}

func (s *subscription) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.owner.mu.Lock()
	delete(s.owner.watchers, s.id)
	s.owner.mu.Unlock()
	return s.unsub.Unsubscribe()
}

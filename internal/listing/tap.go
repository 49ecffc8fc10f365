package listing

import (
	"context"
	"io"

	"OpportunitiesService/internal/model"
)

type tapFeed struct {
	feed Feed
	fn   func(model.ChangeEvent)
}

// Tap возвращает ленту, которая вызывает fn на каждое уведомление до основного обработчика.
// Используется для сброса кэша списка при изменениях, сделанных в обход сервиса
func Tap(feed Feed, fn func(model.ChangeEvent)) Feed {
	if feed == nil || fn == nil {
		return feed
	}
	return &tapFeed{feed: feed, fn: fn}
}

func (t *tapFeed) Subscribe(ctx context.Context, onEvent func(model.ChangeEvent), onState func(bool)) (io.Closer, error) {
	return t.feed.Subscribe(ctx, func(e model.ChangeEvent) {
		t.fn(e)
		onEvent(e)
	}, onState)
}

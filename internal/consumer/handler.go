package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"OpportunitiesService/internal/model"
)

// maxPendingBatches ограничивает буфер, пока ClickHouse недоступен
const maxPendingBatches = 100

// Repo пишет пачку событий изменения в аналитическое хранилище
type Repo interface {
	BatchInsertEvents(ctx context.Context, events []model.ChangeEvent) error
}

// Consumer накапливает события из шины и пишет их в ClickHouse пачками
type Consumer struct {
	repo      Repo
	batchSize int
	logger    zerolog.Logger

	mu     sync.Mutex
	events []model.ChangeEvent
}

// NewConsumer создаёт Consumer; batchSize < 1 приводится к 1
func NewConsumer(repo Repo, batchSize int, logger zerolog.Logger) *Consumer {
	if batchSize < 1 {
		batchSize = 1
	}
	return &Consumer{
		repo:      repo,
		batchSize: batchSize,
		logger:    logger,
		events:    make([]model.ChangeEvent, 0, batchSize),
	}
}

// HandleMessage разбирает сообщение шины и при заполнении буфера сбрасывает его
func (c *Consumer) HandleMessage(ctx context.Context, data []byte) error {
	var ev model.ChangeEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("failed to decode change event: %w", err)
	}
	if ev.Type == "" {
		return fmt.Errorf("change event without type: %s", data)
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	c.logger.Debug().Str("type", string(ev.Type)).Str("id", ev.ID).Msg("получено событие")

	c.mu.Lock()
	c.events = append(c.events, ev)
	if len(c.events) < c.batchSize {
		c.mu.Unlock()
		return nil
	}
	batch := c.takeLocked()
	c.mu.Unlock()
	return c.insert(ctx, batch)
}

// Flush отправляет всё накопленное, если буфер не пуст
func (c *Consumer) Flush(ctx context.Context) error {
	c.mu.Lock()
	if len(c.events) == 0 {
		c.mu.Unlock()
		return nil
	}
	batch := c.takeLocked()
	c.mu.Unlock()
	return c.insert(ctx, batch)
}

// insert пишет пачку; при ошибке возвращает её в начало буфера для следующей попытки
func (c *Consumer) insert(ctx context.Context, batch []model.ChangeEvent) error {
	err := c.repo.BatchInsertEvents(ctx, batch)
	if err == nil {
		return nil
	}
	c.mu.Lock()
	c.events = append(batch, c.events...)
	if limit := c.batchSize * maxPendingBatches; len(c.events) > limit {
		dropped := len(c.events) - limit
		c.events = append(c.events[:0:0], c.events[dropped:]...)
		c.logger.Error().Int("dropped", dropped).Msg("буфер переполнен, старые события отброшены")
	}
	c.mu.Unlock()
	return err
}

// Pending возвращает размер буфера
func (c *Consumer) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

// RunFlusher периодически сбрасывает неполные пачки до отмены ctx
func (c *Consumer) RunFlusher(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Flush(ctx); err != nil {
				c.logger.Error().Err(err).Msg("периодический сброс не удался")
			}
		}
	}
}

func (c *Consumer) takeLocked() []model.ChangeEvent {
	batch := make([]model.ChangeEvent, len(c.events))
	copy(batch, c.events)
	c.events = c.events[:0]
	return batch
}

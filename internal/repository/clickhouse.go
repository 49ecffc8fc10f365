package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"OpportunitiesService/internal/model"
)

// ClickhouseRepo пишет журнал изменений opportunities в ClickHouse пакетами
type ClickhouseRepo struct {
	db *sql.DB
}

// NewClickhouseRepo создаёт новый репозиторий для ClickHouse
func NewClickhouseRepo(db *sql.DB) *ClickhouseRepo {
	return &ClickhouseRepo{db: db}
}

// BatchInsertEvents записывает пакет событий в таблицу opportunity_events.
// EventTime берётся из события, а если оно пустое, то текущее время
func (r *ClickhouseRepo) BatchInsertEvents(ctx context.Context, events []model.ChangeEvent) error {
	if len(events) == 0 {
		return nil
	}
	// clickhouse-go собирает блок из всех Exec внутри транзакции
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin clickhouse batch: %w", err)
	}
	log.Debug().Int("count", len(events)).Msg("начало пакетной вставки событий в ClickHouse")
	query := `INSERT INTO opportunity_events (EventType, OpportunityId, Position, Image, EventTime) VALUES (?, ?, ?, ?, ?)`
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to prepare clickhouse batch: %w", err)
	}
	defer func() { _ = stmt.Close() }()
	for _, e := range events {
		position, image := "", ""
		if e.Opportunity != nil {
			position = e.Opportunity.Position
			if e.Opportunity.Image != nil {
				image = *e.Opportunity.Image
			}
		}
		at := e.At
		if at.IsZero() {
			at = time.Now()
		}
		if _, err := stmt.ExecContext(ctx, string(e.Type), e.ID, position, image, at.UTC()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to insert event %s/%s: %w", e.Type, e.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit clickhouse batch: %w", err)
	}
	log.Info().Int("count", len(events)).Msg("события записаны в ClickHouse")
	return nil
}

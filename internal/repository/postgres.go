package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"OpportunitiesService/internal/model"
)

// ErrNotFound возвращается при отсутствии записи
var ErrNotFound = errors.New("record not found")

const opportunityColumns = `id, position, description, image, link, created_at`

// OpportunityRepository реализует доступ к таблице opportunities
type OpportunityRepository struct {
	db *sql.DB
}

// NewOpportunityRepository создает новый репозиторий
func NewOpportunityRepository(db *sql.DB) *OpportunityRepository {
	return &OpportunityRepository{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOpportunity(row scanner) (*model.Opportunity, error) {
	var o model.Opportunity
	if err := row.Scan(&o.ID, &o.Position, &o.Description, &o.Image, &o.Link, &o.CreatedAt); err != nil {
		return nil, err
	}
	return &o, nil
}

// validID отсекает строки, которые Postgres не сможет привести к uuid
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// ListOpportunities возвращает все записи, новые первыми
func (r *OpportunityRepository) ListOpportunities(ctx context.Context) ([]model.Opportunity, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+opportunityColumns+` FROM opportunities ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to select opportunities: %w", err)
	}
	defer rows.Close()
	list := make([]model.Opportunity, 0)
	for rows.Next() {
		o, err := scanOpportunity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan opportunity: %w", err)
		}
		list = append(list, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate opportunities: %w", err)
	}
	return list, nil
}

// GetOpportunity возвращает запись по id
func (r *OpportunityRepository) GetOpportunity(ctx context.Context, id string) (*model.Opportunity, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	row := r.db.QueryRowContext(ctx, `SELECT `+opportunityColumns+` FROM opportunities WHERE id=$1`, id)
	o, err := scanOpportunity(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get opportunity: %w", err)
	}
	return o, nil
}

// CreateOpportunity добавляет запись; id и created_at выставляет база
func (r *OpportunityRepository) CreateOpportunity(ctx context.Context, f model.Fields) (*model.Opportunity, error) {
	query := `INSERT INTO opportunities(position, description, image, link) VALUES($1, $2, $3, $4)
		RETURNING ` + opportunityColumns
	o, err := scanOpportunity(r.db.QueryRowContext(ctx, query, f.Position, f.Description, f.Image, f.Link))
	if err != nil {
		return nil, fmt.Errorf("failed to insert opportunity: %w", err)
	}
	return o, nil
}

// UpdateOpportunity обновляет текстовые поля и, если f.Image != nil, изображение.
// Работает в транзакции с блокировкой строки и возвращает путь прежнего изображения
func (r *OpportunityRepository) UpdateOpportunity(ctx context.Context, id string, f model.Fields) (*model.Opportunity, *string, error) {
	if !validID(id) {
		return nil, nil, ErrNotFound
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()
	// выборка с блокировкой
	var prev *string
	err = tx.QueryRowContext(ctx, `SELECT image FROM opportunities WHERE id=$1 FOR UPDATE`, id).Scan(&prev)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("failed to select opportunity for update: %w", err)
	}
	// image не трогаем, если новое изображение не передано
	query := `UPDATE opportunities SET position=$1, description=$2, link=$3, image=COALESCE($4, image)
		WHERE id=$5 RETURNING ` + opportunityColumns
	o, err := scanOpportunity(tx.QueryRowContext(ctx, query, f.Position, f.Description, f.Link, f.Image, id))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to update opportunity: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return o, prev, nil
}

// DeleteOpportunity удаляет строку; ErrNotFound, если удалять было нечего
func (r *OpportunityRepository) DeleteOpportunity(ctx context.Context, id string) error {
	if !validID(id) {
		return ErrNotFound
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM opportunities WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete opportunity: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

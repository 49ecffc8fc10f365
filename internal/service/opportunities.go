package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"OpportunitiesService/internal/model"
	"OpportunitiesService/internal/repository"
	"OpportunitiesService/internal/saga"
)

// Ошибки сервиса. HTTP-слой сопоставляет их со статусами через errors.Is
var (
	ErrValidation  = model.ErrValidation
	ErrNotFound    = repository.ErrNotFound
	ErrUpload      = errors.New("image upload failed")
	ErrPersistence = errors.New("persistence failed")
)

// ListCacheKey: ключ кэша полного списка opportunities
const ListCacheKey = "opportunities:list"

// Repo определяет операции с таблицей opportunities
type Repo interface {
	ListOpportunities(ctx context.Context) ([]model.Opportunity, error)
	GetOpportunity(ctx context.Context, id string) (*model.Opportunity, error)
	CreateOpportunity(ctx context.Context, f model.Fields) (*model.Opportunity, error)
	UpdateOpportunity(ctx context.Context, id string, f model.Fields) (*model.Opportunity, *string, error)
	DeleteOpportunity(ctx context.Context, id string) error
}

// Storage: объектное хранилище изображений, адресация по пути внутри бакета
type Storage interface {
	Upload(ctx context.Context, path string, r io.Reader, size int64, contentType string) error
	Remove(ctx context.Context, path string) error
}

// Cache определяет интерфейс кэширования (Redis)
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Invalidate(ctx context.Context, key string) error
}

// Publisher отправляет события изменений в брокер (NATS)
type Publisher interface {
	PublishChange(data []byte) error
}

// OpportunitiesService реализует серверную обработку формы администратора:
// загрузку изображения, запись строки и очистку старых изображений
type OpportunitiesService struct {
	repo      Repo
	storage   Storage
	cache     Cache
	publisher Publisher
	cacheTTL  time.Duration
	now       func() time.Time
	token     func() string
	// listGen растёт на каждой инвалидации; устаревшее чтение не попадает в кэш
	listGen atomic.Uint64
}

// NewOpportunitiesService создаёт сервис
func NewOpportunitiesService(r Repo, st Storage, c Cache, p Publisher) *OpportunitiesService {
	return &OpportunitiesService{
		repo:      r,
		storage:   st,
		cache:     c,
		publisher: p,
		cacheTTL:  time.Minute,
		now:       time.Now,
		token:     randomToken,
	}
}

// WithCacheTTL задаёт время жизни кэша списка
func (s *OpportunitiesService) WithCacheTTL(ttl time.Duration) *OpportunitiesService {
	if ttl > 0 {
		s.cacheTTL = ttl
	}
	return s
}

func randomToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// NewImagePath генерирует уникальный путь images/{unix ms}-{token}.{ext}
func (s *OpportunitiesService) NewImagePath(filename string) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(filename), "."))
	if ext == "" {
		ext = "bin"
	}
	return fmt.Sprintf("images/%d-%s.%s", s.now().UnixMilli(), s.token(), ext)
}

// Submit создаёт или редактирует запись.
// Новое изображение загружается до записи в БД; если запись не удалась, загруженный файл удаляется.
// Старое изображение удаляется только после успешного обновления строки
func (s *OpportunitiesService) Submit(ctx context.Context, in model.SubmitInput) (*model.Opportunity, error) {
	in.Normalize()
	if err := in.Validate(); err != nil {
		return nil, err
	}
	fields := model.Fields{
		Position:    in.Position,
		Description: in.Description,
		Link:        model.StringPtr(in.Link),
	}
	var (
		result *model.Opportunity
		prev   *string
		steps  []saga.Step
	)
	if in.Image != nil {
		newPath := s.NewImagePath(in.Image.Name)
		fields.Image = &newPath
		steps = append(steps, saga.Step{
			Name: "upload-image",
			Do: func(ctx context.Context) error {
				if err := s.storage.Upload(ctx, newPath, in.Image.Reader, in.Image.Size, in.Image.ContentType); err != nil {
					return fmt.Errorf("%w: %v", ErrUpload, err)
				}
				return nil
			},
			Compensate: func(ctx context.Context) error {
				return s.storage.Remove(ctx, newPath)
			},
		})
	}
	steps = append(steps, saga.Step{
		Name: "write-row",
		Do: func(ctx context.Context) error {
			var err error
			if in.IsEdit {
				result, prev, err = s.repo.UpdateOpportunity(ctx, in.ID, fields)
			} else {
				result, err = s.repo.CreateOpportunity(ctx, fields)
			}
			if errors.Is(err, repository.ErrNotFound) {
				return err
			}
			if err != nil {
				return fmt.Errorf("%w: %v", ErrPersistence, err)
			}
			return nil
		},
	})
	if in.IsEdit && fields.Image != nil {
		steps = append(steps, saga.Step{
			Name:       "cleanup-old-image",
			BestEffort: true,
			Do: func(ctx context.Context) error {
				if !ownedImage(prev) || *prev == *fields.Image {
					return nil
				}
				return s.storage.Remove(ctx, *prev)
			},
		})
	}
	if err := saga.Run(ctx, steps...); err != nil {
		return nil, err
	}

	kind := model.ChangeInsert
	if in.IsEdit {
		kind = model.ChangeUpdate
	}
	s.afterChange(ctx, kind, result)
	return result, nil
}

// Delete удаляет изображение (по возможности) и строку.
// Если записи нет, ничего не меняется и возвращается ErrNotFound
func (s *OpportunitiesService) Delete(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return &model.ValidationError{Field: "ID", Message: model.MsgDeleteID}
	}
	o, err := s.repo.GetOpportunity(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return err
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	err = saga.Run(ctx,
		saga.Step{
			Name:       "remove-image",
			BestEffort: true,
			Do: func(ctx context.Context) error {
				if !ownedImage(o.Image) {
					return nil
				}
				return s.storage.Remove(ctx, *o.Image)
			},
		},
		saga.Step{
			Name: "delete-row",
			Do: func(ctx context.Context) error {
				err := s.repo.DeleteOpportunity(ctx, id)
				if err != nil && !errors.Is(err, repository.ErrNotFound) {
					return fmt.Errorf("%w: %v", ErrPersistence, err)
				}
				return err
			},
		},
	)
	if err != nil {
		return err
	}
	s.afterChange(ctx, model.ChangeDelete, o)
	return nil
}

// List возвращает записи, новые первыми, отфильтрованные по query.
// Полный список кэшируется, фильтрация выполняется поверх него
func (s *OpportunitiesService) List(ctx context.Context, query string) ([]model.Opportunity, error) {
	if data, err := s.cache.Get(ctx, ListCacheKey); err == nil {
		var list []model.Opportunity
		if err := json.Unmarshal(data, &list); err == nil {
			return model.FilterOpportunities(list, query), nil
		}
		log.Warn().Str("key", ListCacheKey).Msg("повреждённое значение в кэше, читаем из БД")
	}
	gen := s.listGen.Load()
	list, err := s.repo.ListOpportunities(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if s.listGen.Load() != gen {
		// список изменился во время чтения
		return model.FilterOpportunities(list, query), nil
	}
	data, _ := json.Marshal(list)
	if err := s.cache.Set(ctx, ListCacheKey, data, s.cacheTTL); err != nil {
		log.Warn().Err(err).Msg("не удалось записать список в кэш")
	}
	return model.FilterOpportunities(list, query), nil
}

// InvalidateList сбрасывает кэш списка. Вызывается после своих изменений
// и на каждое уведомление ленты, в том числе о записях в обход сервиса
func (s *OpportunitiesService) InvalidateList(ctx context.Context) error {
	s.listGen.Add(1)
	return s.cache.Invalidate(ctx, ListCacheKey)
}

// afterChange инвалидирует кэш и публикует событие; ошибки только логируются
func (s *OpportunitiesService) afterChange(ctx context.Context, kind model.ChangeType, o *model.Opportunity) {
	if err := s.InvalidateList(ctx); err != nil {
		log.Warn().Err(err).Msg("не удалось инвалидировать кэш списка")
	}
	if s.publisher == nil || o == nil {
		return
	}
	data, _ := json.Marshal(model.ChangeEvent{Type: kind, ID: o.ID, Opportunity: o, At: s.now().UTC()})
	if err := s.publisher.PublishChange(data); err != nil {
		log.Warn().Err(err).Str("type", string(kind)).Str("id", o.ID).Msg("не удалось опубликовать событие")
	}
}

// ownedImage сообщает, хранится ли изображение в нашем бакете
func ownedImage(p *string) bool {
	return p != nil && *p != "" && !model.IsAbsoluteRef(*p)
}

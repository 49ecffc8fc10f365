// Пакет admin: клиентская часть управления opportunities: список с поиском,
// форма создания/редактирования и удаление через административный API
package admin

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"OpportunitiesService/internal/model"
)

// Ошибки состояния формы
var (
	ErrFormNotOpen = errors.New("form is not open")
	ErrUnknownID   = errors.New("opportunity is not in the list")
)

// Backend: административный API
type Backend interface {
	List(ctx context.Context) ([]model.Opportunity, error)
	Submit(ctx context.Context, in model.SubmitInput, onProgress func(int)) (*model.Opportunity, error)
	Delete(ctx context.Context, id string) error
}

// Manager хранит список, строку поиска и одну форму
type Manager struct {
	backend  Backend
	resolver model.ImageResolver

	mu     sync.Mutex
	items  []model.Opportunity
	search string
	form   Form
}

// NewManager создаёт менеджер; список пуст до первого Refresh
func NewManager(b Backend, r model.ImageResolver) *Manager {
	return &Manager{backend: b, resolver: r, items: []model.Opportunity{}}
}

// Refresh перечитывает список с сервера
func (m *Manager) Refresh(ctx context.Context) error {
	list, err := m.backend.List(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.items = list
	m.mu.Unlock()
	return nil
}

// Items возвращает весь список
func (m *Manager) Items() []model.Opportunity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Opportunity(nil), m.items...)
}

// SetSearch задаёт строку поиска
func (m *Manager) SetSearch(q string) {
	m.mu.Lock()
	m.search = q
	m.mu.Unlock()
}

// Visible возвращает записи, подходящие под строку поиска
func (m *Manager) Visible() []model.Opportunity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Opportunity(nil), model.FilterOpportunities(m.items, m.search)...)
}

// Form возвращает копию состояния формы
func (m *Manager) Form() Form {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.form
}

// OpenCreate открывает пустую форму создания
func (m *Manager) OpenCreate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.form = Form{State: StateOpen, Mode: ModeCreate}
}

// OpenEdit заполняет форму данными записи из списка
func (m *Manager) OpenEdit(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.items {
		if o.ID != id {
			continue
		}
		f := Form{
			State:       StateOpen,
			Mode:        ModeEdit,
			ID:          o.ID,
			Position:    o.Position,
			Description: o.Description,
		}
		if o.Link != nil {
			f.Link = *o.Link
		}
		if o.Image != nil {
			f.PreviewURL, _ = m.resolver.Preview(*o.Image)
		}
		m.form = f
		return nil
	}
	return ErrUnknownID
}

// SetFields меняет текстовые поля открытой формы
func (m *Manager) SetFields(position, description, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.form.State != StateOpen {
		return ErrFormNotOpen
	}
	m.form.Position, m.form.Description, m.form.Link = position, description, link
	return nil
}

// SetImage прикрепляет файл к открытой форме; nil снимает выбор
func (m *Manager) SetImage(a *Attachment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.form.State != StateOpen {
		return ErrFormNotOpen
	}
	m.form.Image = a
	return nil
}

// Close закрывает форму без отправки
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.form.State == StateOpen {
		m.form = Form{}
	}
}

// Submit проверяет форму и отправляет её. При ошибке валидации запрос не выполняется.
// При любой ошибке форма остаётся открытой с введёнными данными
func (m *Manager) Submit(ctx context.Context) (*model.Opportunity, error) {
	m.mu.Lock()
	if m.form.State != StateOpen {
		m.mu.Unlock()
		return nil, ErrFormNotOpen
	}
	in := m.form.input()
	in.Normalize()
	if err := in.Validate(); err != nil {
		m.form.Err = err.Error()
		m.mu.Unlock()
		return nil, err
	}
	m.form.State = StateSubmitting
	m.form.Progress = 0
	m.form.Err = ""
	m.mu.Unlock()

	o, err := m.backend.Submit(ctx, in, m.setProgress)

	m.mu.Lock()
	if err != nil {
		m.form.State = StateOpen
		m.form.Progress = 0
		m.form.Err = err.Error()
		m.mu.Unlock()
		return nil, err
	}
	m.form = Form{}
	m.mu.Unlock()

	if err := m.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("запись сохранена, но список не обновлён")
	}
	return o, nil
}

func (m *Manager) setProgress(pct int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.form.State == StateSubmitting {
		m.form.Progress = pct
	}
}

// Delete удаляет запись и перечитывает список
func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := m.backend.Delete(ctx, id); err != nil {
		return err
	}
	if err := m.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("запись удалена, но список не обновлён")
	}
	return nil
}

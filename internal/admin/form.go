package admin

import (
	"bytes"

	"OpportunitiesService/internal/model"
)

// State: состояние формы
type State int

const (
	StateClosed State = iota
	StateOpen
	StateSubmitting
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateSubmitting:
		return "submitting"
	default:
		return "closed"
	}
}

// Mode: режим формы
type Mode int

const (
	ModeCreate Mode = iota
	ModeEdit
)

func (m Mode) String() string {
	if m == ModeEdit {
		return "edit"
	}
	return "create"
}

// Attachment: выбранный оператором файл; хранится целиком, чтобы повторная отправка
// после ошибки не требовала выбирать файл заново
type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

func (a *Attachment) file() *model.ImageFile {
	if a == nil {
		return nil
	}
	return &model.ImageFile{
		Name:        a.Name,
		ContentType: a.ContentType,
		Size:        int64(len(a.Data)),
		Reader:      bytes.NewReader(a.Data),
	}
}

// Form: состояние формы создания/редактирования
type Form struct {
	State       State
	Mode        Mode
	ID          string
	Position    string
	Description string
	Link        string
	Image       *Attachment
	// PreviewURL: адрес текущего изображения записи в режиме редактирования
	PreviewURL string
	Progress   int
	Err        string
}

func (f Form) input() model.SubmitInput {
	return model.SubmitInput{
		Position:    f.Position,
		Description: f.Description,
		Link:        f.Link,
		IsEdit:      f.Mode == ModeEdit,
		ID:          f.ID,
		Image:       f.Image.file(),
	}
}
